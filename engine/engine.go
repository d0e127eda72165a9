// Package engine implements the Object Storage Engine (component 8): the
// orchestrator that owns loading, storing, purging, rolling back, and
// reconstructing OCFL objects against a Storage backend, routing object
// ids to storage paths through a layout extension. It is the one package
// in this module that understands how the other components fit together.
//
// Mirrors ocflv1.Commit/GetObject/Store's load-verify-mutate-promote
// shape, generalized to the two-phase install and mutable-HEAD
// lifecycle this module's domain requires beyond a single-shot commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/layout"
	"github.com/dcsio/ocflcore/ocflerr"
	"github.com/dcsio/ocflcore/storage"
)

const objectMarkerPrefix = "0=ocfl_object_"

// Engine is the Object Storage Engine. It is safe for concurrent use
// across different object ids; callers are responsible for serializing
// writes to the same id with an external object lock (spec §5).
type Engine struct {
	storage storage.Storage
	layout  layout.Layout
	retry   retryPolicy
}

// New returns an Engine backed by st, routing object ids to paths via
// lay.
func New(st storage.Storage, lay layout.Layout) *Engine {
	return &Engine{storage: st, layout: lay, retry: defaultRetryPolicy}
}

// ObjectRoot resolves id to its storage-root-relative object root path
// via the configured layout.
func (e *Engine) ObjectRoot(id string) (string, error) {
	root, err := e.layout.Resolve(id)
	if err != nil {
		return "", fmt.Errorf("resolving object id %q: %w", id, err)
	}
	return root, nil
}

// ContainsObject reports whether the object root for id has a
// "0=ocfl_object_*" namaste marker.
func (e *Engine) ContainsObject(ctx context.Context, id string) (bool, error) {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return false, err
	}
	return e.objectExistsAt(ctx, root)
}

func (e *Engine) objectExistsAt(ctx context.Context, root string) (bool, error) {
	entries, err := e.storage.ListDirectory(ctx, root)
	if err != nil {
		if errors.Is(err, storage.ErrNoSuchFile) {
			return false, nil
		}
		return false, err
	}
	for _, entry := range entries {
		if entry.Kind == storage.KindFile && strings.HasPrefix(entry.Name, objectMarkerPrefix) {
			return true, nil
		}
	}
	return false, nil
}

// LoadInventory returns the object's current inventory: the mutable-HEAD
// inventory if a mutable HEAD is active, otherwise the root inventory.
// Returns nil, nil if the object does not exist.
func (e *Engine) LoadInventory(ctx context.Context, id string) (*inventory.Snapshot, error) {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return nil, err
	}
	exists, err := e.objectExistsAt(ctx, root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	hasMutableHead, err := e.storage.DirectoryExists(ctx, path.Join(root, inventory.MutableHeadDir, "head"))
	if err != nil {
		return nil, err
	}
	var snap *inventory.Snapshot
	if hasMutableHead {
		snap, err = inventory.ReadMutableHead(ctx, e.storage, root)
	} else {
		snap, err = inventory.Read(ctx, e.storage, root)
	}
	if err != nil {
		return nil, err
	}
	if snap.Inventory.ID != id {
		return nil, &ocflerr.CorruptError{ObjectID: id, Reason: fmt.Sprintf("inventory declares id %q", snap.Inventory.ID)}
	}
	return snap, nil
}

// GetInventoryBytes returns the raw inventory.json bytes for version v of
// id (the zero VNum means "head"). If v is the object's head and the
// object has a mutable HEAD, the mutable-HEAD inventory bytes are
// returned instead of the last sealed version's.
func (e *Engine) GetInventoryBytes(ctx context.Context, id string, v inventory.VNum) ([]byte, error) {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return nil, err
	}
	exists, err := e.objectExistsAt(ctx, root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &ocflerr.NotFoundError{ObjectID: id}
	}
	dir := path.Join(root, v.String())
	if v.IsZero() {
		hasMutableHead, err := e.storage.DirectoryExists(ctx, path.Join(root, inventory.MutableHeadDir, "head"))
		if err != nil {
			return nil, err
		}
		if hasMutableHead {
			dir = path.Join(root, inventory.MutableHeadDir, "head")
		} else {
			snap, err := inventory.Read(ctx, e.storage, root)
			if err != nil {
				return nil, err
			}
			dir = path.Join(root, snap.Inventory.Head.String())
		}
	}
	raw, err := e.storage.ReadToString(ctx, path.Join(dir, inventory.InventoryFile))
	if err != nil {
		if errors.Is(err, storage.ErrNoSuchFile) {
			return nil, &ocflerr.NotFoundError{ObjectID: id, Version: v.String()}
		}
		return nil, err
	}
	return []byte(raw), nil
}

// PurgeObject deletes id's object root and any now-empty ancestor
// directories. A non-existent object is a no-op.
func (e *Engine) PurgeObject(ctx context.Context, id string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	exists, err := e.objectExistsAt(ctx, root)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := e.storage.DeleteDirectory(ctx, root); err != nil {
		return &ocflerr.CorruptError{ObjectID: id, Reason: fmt.Sprintf("purge failed: %s", err)}
	}
	return e.storage.DeleteEmptyDirsUp(ctx, path.Dir(root))
}

// PurgeMutableHead deletes id's mutable-HEAD extension directory. A
// non-existent mutable HEAD is a no-op.
func (e *Engine) PurgeMutableHead(ctx context.Context, id string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	return e.purgeMutableHeadAt(ctx, root)
}

func (e *Engine) purgeMutableHeadAt(ctx context.Context, root string) error {
	dir := path.Join(root, inventory.MutableHeadDir)
	exists, err := e.storage.DirectoryExists(ctx, dir)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := e.storage.DeleteDirectory(ctx, dir); err != nil {
		return &ocflerr.CorruptError{ObjectID: root, Reason: fmt.Sprintf("purging mutable HEAD: %s", err)}
	}
	return nil
}

// ExportVersion copies version v of id's object to the local directory
// localDir, as a raw directory tree (no logical deduplication applied).
func (e *Engine) ExportVersion(ctx context.Context, id string, v inventory.VNum, localDir string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	exists, err := e.objectExistsAt(ctx, root)
	if err != nil {
		return err
	}
	if !exists {
		return &ocflerr.NotFoundError{ObjectID: id}
	}
	return e.storage.CopyDirectoryOutOf(ctx, path.Join(root, v.String()), localDir)
}

// ExportObject copies id's entire object root to the local directory
// localDir.
func (e *Engine) ExportObject(ctx context.Context, id, localDir string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	exists, err := e.objectExistsAt(ctx, root)
	if err != nil {
		return err
	}
	if !exists {
		return &ocflerr.NotFoundError{ObjectID: id}
	}
	return e.storage.CopyDirectoryOutOf(ctx, root, localDir)
}

// ImportObject moves the local directory localDir (expected to be a
// complete, valid object root) into place as id's object. Fails
// OutOfSync if an object already exists at id's resolved path.
func (e *Engine) ImportObject(ctx context.Context, localDir, id string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	exists, err := e.objectExistsAt(ctx, root)
	if err != nil {
		return err
	}
	if exists {
		return &ocflerr.OutOfSyncError{ObjectID: id, Reason: "object already exists at resolved path"}
	}
	if err := e.storage.MoveDirectoryInto(ctx, localDir, root); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return &ocflerr.OutOfSyncError{ObjectID: id, Reason: "destination already exists"}
		}
		return err
	}
	return nil
}

// ListObjectIds lazily walks every object root under the storage root
// and yields the id recorded in each one's root inventory.
func (e *Engine) ListObjectIds(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for objRoot, err := range e.storage.IterateObjects(ctx, "") {
			if err != nil {
				if !yield("", err) {
					return
				}
				continue
			}
			snap, err := inventory.Read(ctx, e.storage, objRoot.Prefix)
			if err != nil {
				if !yield("", err) {
					return
				}
				continue
			}
			if !yield(snap.Inventory.ID, nil) {
				return
			}
		}
	}
}
