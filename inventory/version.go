package inventory

import (
	"fmt"
	"time"

	"github.com/dcsio/ocflcore/digest"
)

// NextVersionInventory returns a new inventory that is a valid successor
// to inv: head incremented by one, a new version entry recording state
// and the given metadata, and the manifest extended with newContent
// (content paths for any digest in state not already present in inv's
// manifest). previousDigest is the sidecar digest of inv as currently
// persisted at the object root; it's recorded on the result so the
// engine can detect a racing writer at promotion time.
func NextVersionInventory(inv *Inventory, state digest.Map, newContent digest.Map, created time.Time, msg string, user *User, previousDigest string) (*Inventory, error) {
	next, err := inv.Head.Next()
	if err != nil {
		return nil, fmt.Errorf("version numbering scheme does not support versions beyond %s: %w", inv.Head, err)
	}
	out := &Inventory{
		ID:               inv.ID,
		Type:             inv.Type,
		DigestAlgorithm:  inv.DigestAlgorithm,
		ContentDirectory: inv.ContentDirectory,
		Head:             next,
		Manifest:         inv.Manifest.Merge(newContent),
		Versions:         make(map[VNum]*Version, len(inv.Versions)+1),
		PreviousDigest:   previousDigest,
	}
	for v, ver := range inv.Versions {
		out.Versions[v] = ver
	}
	out.Versions[next] = &Version{
		Created: created.Truncate(time.Second),
		Message: msg,
		User:    user,
		State:   state,
	}
	return out, nil
}

// FirstVersionInventory returns the initial inventory for a brand-new
// object: head = v1, manifest built from content, one version entry
// recording state.
func FirstVersionInventory(id string, alg digest.Alg, contentDir string, padding int, content digest.Map, state digest.Map, created time.Time, msg string, user *User) (*Inventory, error) {
	if contentDir == "" {
		contentDir = DefaultContentDirectory
	}
	head := V(1, padding)
	if err := head.Valid(); err != nil {
		return nil, fmt.Errorf("invalid version padding %d: %w", padding, err)
	}
	inv := New(id, alg)
	inv.ContentDirectory = contentDir
	inv.Head = head
	inv.Manifest = content
	inv.Versions[head] = &Version{
		Created: created.Truncate(time.Second),
		Message: msg,
		User:    user,
		State:   state,
	}
	return inv, nil
}
