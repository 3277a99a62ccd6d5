package storage

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"resty.dev/v3"

	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/urlutil"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResourceSize    = 32 << 20 // 32 MB
	maxRedirects       = 10
)

// HTTPLoader loads http: and https: URLs.
type HTTPLoader struct {
	client       *resty.Client
	blockPrivate bool
}

// HTTPOption configures an HTTPLoader.
type HTTPOption func(*HTTPLoader)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(l *HTTPLoader) {
		if d > 0 {
			l.client.SetTimeout(d)
		}
	}
}

// WithBlockPrivate rejects loopback, link-local and cloud metadata hosts.
func WithBlockPrivate(block bool) HTTPOption {
	return func(l *HTTPLoader) { l.blockPrivate = block }
}

// NewHTTPLoader creates an HTTP loader.
func NewHTTPLoader(opts ...HTTPOption) *HTTPLoader {
	l := &HTTPLoader{
		client: resty.New().
			SetTimeout(defaultHTTPTimeout).
			SetResponseBodyLimit(maxResourceSize).
			SetHeader("User-Agent", "assetgraph/1.0"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.client.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(maxRedirects),
		resty.RedirectPolicyFunc(func(req *http.Request, _ []*http.Request) error {
			if !l.blockPrivate {
				return nil
			}
			return checkBlockedHost(req.URL.Hostname())
		}),
	)
	return l
}

// Load implements graph.Loader.
func (l *HTTPLoader) Load(ctx context.Context, u string) (*graph.Resource, error) {
	u, _ = urlutil.SplitFragment(u)
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid url %q: %w", u, err)
	}
	if !urlutil.IsHTTPScheme(parsed.Scheme) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	if l.blockPrivate {
		if err := checkBlockedHost(parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	resp, err := l.client.R().SetContext(ctx).Get(u)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", u, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("storage: get %s: HTTP %d", u, resp.StatusCode())
	}
	data := resp.Bytes()

	ct := resp.Header().Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if ct == "" || ct == "application/octet-stream" {
		if guess := ContentTypeFor(parsed.Path); guess != "" {
			ct = guess
		}
	}
	return &graph.Resource{Data: data, ContentType: ct}, nil
}

// checkBlockedHost rejects loopback, link-local and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("storage: blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let the client report DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("storage: blocked host: loopback address %s", host)
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("storage: blocked host: cloud metadata address %s", host)
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("storage: blocked host: link-local address %s", host)
	}
	return nil
}
