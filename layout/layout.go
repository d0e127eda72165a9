// Package layout implements the pluggable object-identifier-to-storage-path
// extensions (component 4): pure functions that map an application-chosen
// objectId to a storage-root-relative object root path. Each implementation
// is config-driven, following extension.Layout's tagged-variant
// design: a JSON-serializable config struct whose MarshalJSON emits the
// "extensionName" discriminator field alongside the extension's own
// parameters.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Names of the required layout extensions.
const (
	FlatDirect       = "flat-direct"
	HashedNTuple     = "hashed-n-tuple"
	HashedNTupleID   = "hashed-n-tuple-id"
	FlatOmitPrefix   = "flat-omit-prefix"
	NTupleOmitPrefix = "ntuple-omit-prefix"
)

var (
	// ErrUnknown is returned when Get is called with an unregistered
	// extension name.
	ErrUnknown = errors.New("unrecognized layout extension")
	// ErrInvalidID is returned by a layout's Resolve when the objectId
	// cannot be mapped (empty after escaping, contains forbidden
	// characters for the extension, etc).
	ErrInvalidID = errors.New("object id is invalid for this layout")
)

// Layout maps an objectId to a storage-root-relative object root path.
type Layout interface {
	// Name returns the extension's registered name.
	Name() string
	// Resolve maps id to a storage-root-relative path. It is a pure
	// function: the same id always maps to the same path for a given
	// layout configuration.
	Resolve(id string) (string, error)
}

// register holds a constructor per extension name, each returning a new
// instance with default configuration values.
var register = map[string]func() Layout{
	FlatDirect:       func() Layout { return NewLayoutFlatDirect() },
	HashedNTuple:     func() Layout { return NewLayoutHashedNTuple() },
	HashedNTupleID:   func() Layout { return NewLayoutHashedNTupleID() },
	FlatOmitPrefix:   func() Layout { return NewLayoutFlatOmitPrefix() },
	NTupleOmitPrefix: func() Layout { return NewLayoutNTupleOmitPrefix() },
}

// Get returns a new instance of the named layout with default values.
func Get(name string) (Layout, error) {
	ctor, ok := register[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return ctor(), nil
}

// Registered returns the names of all registered layout extensions.
func Registered() []string {
	names := make([]string, 0, len(register))
	for name := range register {
		names = append(names, name)
	}
	return names
}

// Unmarshal decodes an extension-<name>.json config document and returns
// the corresponding Layout, populated with the document's values.
func Unmarshal(data []byte) (Layout, error) {
	var tmp struct {
		Name string `json:"extensionName"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return nil, err
	}
	l, err := Get(tmp.Name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Marshal encodes a Layout's configuration as its extension-<name>.json
// document, including the "extensionName" discriminator.
func Marshal(l Layout) ([]byte, error) {
	type marshaler interface {
		MarshalJSON() ([]byte, error)
	}
	if m, ok := l.(marshaler); ok {
		return m.MarshalJSON()
	}
	return json.Marshal(l)
}

// UnmarshalYAML decodes a layout extension config given as YAML rather
// than JSON, accepting the same "extensionName"-discriminated shape as
// Unmarshal. Used where an extension-<name>.json sidecar is authored or
// dumped as YAML for readability (see rootinit.DescribeLayout).
func UnmarshalYAML(data []byte) (Layout, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decoding layout extension config as YAML: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return Unmarshal(asJSON)
}

// MarshalYAML encodes a Layout's configuration as YAML rather than JSON,
// reusing Marshal's JSON encoding and re-expressing it, the way this
// package's sidecar format normally stays purely JSON.
func MarshalYAML(l Layout) ([]byte, error) {
	raw, err := Marshal(l)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
