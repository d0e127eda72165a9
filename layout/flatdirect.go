package layout

import (
	"encoding/json"
	"io/fs"
)

// LayoutFlatDirect implements the flat-direct layout: the object root
// path is the objectId itself. The id must already be a valid relative
// path (no path separators escaping the storage root, no "." or ".."
// segments); this implementation does not percent-escape it, matching the
// strict reading of the extension.
type LayoutFlatDirect struct{}

var _ Layout = (*LayoutFlatDirect)(nil)

// NewLayoutFlatDirect returns a flat-direct layout.
func NewLayoutFlatDirect() *LayoutFlatDirect { return &LayoutFlatDirect{} }

func (*LayoutFlatDirect) Name() string { return FlatDirect }

func (*LayoutFlatDirect) Resolve(id string) (string, error) {
	if id == "" || !fs.ValidPath(id) {
		return "", ErrInvalidID
	}
	return id, nil
}

func (l *LayoutFlatDirect) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"extensionName": FlatDirect})
}
