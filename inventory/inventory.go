// Package inventory implements the in-memory representation of an OCFL
// object's inventory.json (component 5): its manifest, per-version
// state, and fixity side-channels, along with the sidecar format that
// anchors the inventory's own fixity.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dcsio/ocflcore/digest"
)

const (
	// SpecType is the inventory "type" field for OCFL 1.1 objects.
	SpecType = "https://ocfl.io/1.1/spec/#inventory"
	// DefaultContentDirectory is used when an inventory omits
	// contentDirectory.
	DefaultContentDirectory = "content"
	// InventoryFile is the conventional inventory file name within an
	// object root or version directory.
	InventoryFile = "inventory.json"
)

var ErrVersionNotFound = errors.New("version not found in inventory")

// Inventory represents the contents of an OCFL object's inventory.json.
type Inventory struct {
	ID               string                `json:"id"`
	Type             string                `json:"type"`
	DigestAlgorithm  string                `json:"digestAlgorithm"`
	Head             VNum                  `json:"head"`
	ContentDirectory string                `json:"contentDirectory,omitempty"`
	Manifest         digest.Map            `json:"manifest"`
	Versions         map[VNum]*Version     `json:"versions"`
	Fixity           map[string]digest.Map `json:"fixity,omitempty"`

	// PreviousDigest is the sidecar digest of the root inventory this
	// version was staged against. It is carried in the staged
	// inventory.json so the engine can detect a racing writer at
	// promotion time (spec step 5 of storing a new version).
	// StoreNewVersion promotes the staged inventory bytes unchanged, so the
	// field stays in the promoted inventory; CommitMutableHead clears it
	// in the inventory it seals.
	PreviousDigest string `json:"previousDigest,omitempty"`
}

// Version represents one entry in the inventory's "versions" map.
type Version struct {
	Created time.Time  `json:"created"`
	State   digest.Map `json:"state"`
	Message string     `json:"message,omitempty"`
	User    *User      `json:"user,omitempty"`
}

// User identifies the author of a version.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// New returns an empty inventory for the given id and digest algorithm.
func New(id string, alg digest.Alg) *Inventory {
	return &Inventory{
		ID:               id,
		Type:             SpecType,
		DigestAlgorithm:  string(alg),
		ContentDirectory: DefaultContentDirectory,
		Manifest:         digest.Map{},
		Versions:         map[VNum]*Version{},
	}
}

// VNums returns a sorted slice of the inventory's version numbers.
func (inv *Inventory) VNums() VNums {
	vnums := make(VNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		vnums = append(vnums, v)
	}
	sort.Sort(vnums)
	return vnums
}

// GetVersion returns the version entry numbered v, or the head version if
// v is the zero VNum. Returns nil if no such version exists.
func (inv *Inventory) GetVersion(v VNum) *Version {
	if inv.Versions == nil {
		return nil
	}
	if v.IsZero() {
		return inv.Versions[inv.Head]
	}
	return inv.Versions[v]
}

// ContentPath resolves the logical path of version v to a manifest
// content path (relative to the object root).
func (inv *Inventory) ContentPath(v VNum, logical string) (string, error) {
	ver := inv.GetVersion(v)
	if ver == nil {
		return "", ErrVersionNotFound
	}
	sum := ver.State.PathDigest(logical)
	if sum == "" {
		return "", fmt.Errorf("no digest for logical path: %s", logical)
	}
	paths := inv.Manifest.DigestPaths(sum)
	if len(paths) == 0 {
		return "", fmt.Errorf("manifest has no entry for digest: %s", sum)
	}
	return paths[0], nil
}

// EachStatePath calls fn for every logical path in version v's state,
// supplying its digest and the manifest content paths that hold it.
func (inv *Inventory) EachStatePath(v VNum, fn func(logical, digest string, contentPaths []string) error) error {
	ver := inv.GetVersion(v)
	if ver == nil || ver.State == nil {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, v)
	}
	if inv.Manifest == nil {
		return errors.New("inventory has no manifest")
	}
	for d, logicalPaths := range ver.State {
		srcs := inv.Manifest.DigestPaths(d)
		if len(srcs) == 0 {
			return fmt.Errorf("manifest has no entry for digest: %s", d)
		}
		for _, logical := range logicalPaths {
			if err := fn(logical, d, srcs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Alg resolves the inventory's configured digest algorithm.
func (inv *Inventory) Alg() (digest.Alg, error) {
	return digest.NewRegistry().Get(inv.DigestAlgorithm)
}

// Snapshot pairs a parsed inventory with the sidecar digest it was read
// against and, when loaded from a mutable HEAD, its revision number.
// Not part of the JSON wire format.
type Snapshot struct {
	Inventory   *Inventory
	Digest      string // sidecar digest of the bytes this was parsed from
	MutableHead bool
	Revision    int // mutable HEAD revision number, when MutableHead is true
}
