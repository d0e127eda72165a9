package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// LayoutFlatOmitPrefix implements flat-omit-prefix: a configured literal
// delimiter is searched for case-insensitively in the objectId (last
// occurrence wins); everything up to and including the delimiter is
// stripped, and the remainder is used as the object root path.
type LayoutFlatOmitPrefix struct {
	Delimiter string `json:"delimiter"`
}

var _ Layout = (*LayoutFlatOmitPrefix)(nil)

// NewLayoutFlatOmitPrefix returns a flat-omit-prefix layout with an empty
// (and therefore invalid until configured) delimiter.
func NewLayoutFlatOmitPrefix() *LayoutFlatOmitPrefix {
	return &LayoutFlatOmitPrefix{}
}

func (*LayoutFlatOmitPrefix) Name() string { return FlatOmitPrefix }

func (l *LayoutFlatOmitPrefix) Resolve(id string) (string, error) {
	if l.Delimiter == "" {
		return "", errors.New("missing required layout configuration: delimiter")
	}
	dir := id
	lowerID := strings.ToLower(id)
	lowerDelim := strings.ToLower(l.Delimiter)
	if offset := strings.LastIndex(lowerID, lowerDelim); offset > -1 {
		dir = id[offset+len(l.Delimiter):]
	}
	if dir == "" || dir == "extensions" || !fs.ValidPath(dir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return dir, nil
}

func (l *LayoutFlatOmitPrefix) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"extensionName": FlatOmitPrefix,
		"delimiter":     l.Delimiter,
	})
}
