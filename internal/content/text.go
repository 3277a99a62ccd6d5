package content

import "fmt"

// opaque holds the bytes of a format that carries no references.
type opaque struct {
	raw []byte
}

type text struct{}

// NewText returns a codec for text formats whose references are not
// tracked (JavaScript, JSON, plain text). It round-trips bytes unchanged.
func NewText() Codec {
	return text{}
}

func (text) Parse(raw []byte) (Tree, error) {
	return &opaque{raw: append([]byte(nil), raw...)}, nil
}

func (text) Relations(Tree) ([]Descriptor, error) {
	return nil, nil
}

func (text) Serialize(tree Tree) ([]byte, error) {
	o, ok := tree.(*opaque)
	if !ok {
		return nil, fmt.Errorf("content: unexpected tree %T", tree)
	}
	return o.raw, nil
}

func (text) SetHref(Tree, Site, string) error {
	return ErrBadSite
}

func (text) SetInline(Tree, Site, []byte, string) error {
	return ErrBadSite
}

func (text) Attach(_ Tree, relType string, _ Position, _ Site) (Site, error) {
	return nil, fmt.Errorf("%w: attach %s", ErrUnsupported, relType)
}

func (text) Detach(Tree, Site) error {
	return ErrBadSite
}
