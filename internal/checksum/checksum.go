// Package checksum computes the SHA-256 digests used for change detection
// in the snapshot index and for asset ETags.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Digest accumulates NUL separated fields into a single SHA-256 digest,
// so that ("ab", "c") and ("a", "bc") hash differently.
type Digest struct {
	h      hash.Hash
	fields int
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

func (d *Digest) sep() {
	if d.fields > 0 {
		_, _ = d.h.Write([]byte{0})
	}
	d.fields++
}

// String adds a string field.
func (d *Digest) String(s string) *Digest {
	d.sep()
	_, _ = d.h.Write([]byte(s))
	return d
}

// Bytes adds a raw field.
func (d *Digest) Bytes(b []byte) *Digest {
	d.sep()
	_, _ = d.h.Write(b)
	return d
}

// Bool adds a boolean field.
func (d *Digest) Bool(v bool) *Digest {
	d.sep()
	if v {
		_, _ = d.h.Write([]byte{1})
	} else {
		_, _ = d.h.Write([]byte{2})
	}
	return d
}

// Hex returns the hex-encoded digest of the fields added so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// ETag formats a digest as a strong entity tag.
func ETag(sum string) string {
	return `"` + sum + `"`
}

// MatchETag reports whether an If-Match header value names sum. A bare
// digest, a quoted tag, a weak tag and "*" are accepted.
func MatchETag(header, sum string) bool {
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" {
			return true
		}
		tag = strings.TrimPrefix(tag, "W/")
		if strings.Trim(tag, `"`) == sum {
			return true
		}
	}
	return false
}
