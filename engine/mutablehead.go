package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/dcsio/ocflcore/digest"
	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/ocflerr"
	"github.com/dcsio/ocflcore/storage"
)

// NewMutableHeadStagingDir returns a fresh staging directory name for a
// caller to stage revision content into before calling
// StoreNewMutableHeadRevision. The uuid tag guards against two
// concurrent stagers of the same object picking the same staging path
// before the object lock (spec §5) is acquired; the atomic move in
// StoreNewMutableHeadRevision is the actual claim on the revision
// number, so this is defense in depth, not a substitute for the lock.
func NewMutableHeadStagingDir(id string) string {
	return path.Join("staging", "mutable-head", strings.ReplaceAll(id, "/", "_")+"-"+uuid.NewString())
}

const rootInventorySnapshotName = "root-inventory.json"

// mutableHeadHeadPrefix is the object-root-relative prefix every content
// path recorded by contentpath.Mapper.MutableHeadContentPath carries
// while a revision is staged.
const mutableHeadHeadPrefix = inventory.MutableHeadDir + "/head/"

// rewritePathPrefix returns a copy of m with every path that starts with
// oldPrefix rewritten to start with newPrefix instead. Paths not
// matching oldPrefix are copied unchanged.
func rewritePathPrefix(m digest.Map, oldPrefix, newPrefix string) digest.Map {
	if m == nil {
		return nil
	}
	out := make(digest.Map, len(m))
	for d, paths := range m {
		rewritten := make([]string, len(paths))
		for i, p := range paths {
			if rel, ok := strings.CutPrefix(p, oldPrefix); ok {
				rewritten[i] = newPrefix + rel
			} else {
				rewritten[i] = p
			}
		}
		out[d] = rewritten
	}
	return out
}

// StoreNewMutableHeadRevision stages revision k of an in-progress mutable
// HEAD (spec §4.8): it guards against the root inventory changing
// underneath an open mutable HEAD, atomically claims revision k by
// moving its staged content into place, records a revision marker file
// for LatestRevision to discover, copies the updated inventory into the
// extension, and prunes any logically-deleted content.
//
// The atomic move in step 2 doubles as the separate "write a revision
// marker atomically" guard described for this step: this module's
// Storage capability exposes no file-level exclusive-create
// primitive, only directory-level MoveDirectoryInternal/MoveDirectoryInto
// with an AlreadyExists precondition, so the content move itself is the
// atomic claim on revision k and the revisions/r<k> marker file
// created afterward is bookkeeping for LatestRevision, not the guard.
func (e *Engine) StoreNewMutableHeadRevision(ctx context.Context, id string, inv *inventory.Inventory, revision int, stagingContentDir string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	extDir := path.Join(root, inventory.MutableHeadDir)
	headDir := path.Join(extDir, "head")
	snapshotPath := path.Join(extDir, rootInventorySnapshotName)

	hasMutableHead, err := e.storage.DirectoryExists(ctx, headDir)
	if err != nil {
		return err
	}

	alg, err := inv.Alg()
	if err != nil {
		return err
	}
	sidecarName := inventory.SidecarName(alg.ID())

	// step 1: guard the root inventory hasn't changed since the mutable
	// HEAD was opened.
	if !hasMutableHead {
		if err := e.storage.CopyFileInternal(ctx, path.Join(root, sidecarName), snapshotPath); err != nil {
			return err
		}
	} else {
		snapshot, err := e.storage.ReadToString(ctx, snapshotPath)
		if err != nil {
			return &ocflerr.CorruptError{ObjectID: id, Reason: fmt.Sprintf("reading root inventory snapshot: %s", err)}
		}
		current, err := e.storage.ReadToString(ctx, path.Join(root, sidecarName))
		if err != nil {
			return err
		}
		if snapshot != current {
			return &ocflerr.OutOfSyncError{ObjectID: id, Reason: "root inventory changed since mutable HEAD was opened"}
		}
	}

	contentDir := inv.ContentDirectory
	if contentDir == "" {
		contentDir = inventory.DefaultContentDirectory
	}
	rev := fmt.Sprintf("r%d", revision)

	// steps 2-3: atomically claim revision k by moving its staged
	// content into the mutable HEAD.
	dstContentDir := path.Join(headDir, contentDir, rev)
	if err := e.storage.MoveDirectoryInternal(ctx, stagingContentDir, dstContentDir); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			if !hasMutableHead {
				_ = e.storage.DeleteDirectory(ctx, extDir)
			}
			return &ocflerr.OutOfSyncError{ObjectID: id, Reason: fmt.Sprintf("revision %s already exists", rev)}
		}
		if !hasMutableHead {
			_ = e.storage.DeleteDirectory(ctx, extDir)
		}
		return err
	}
	if _, err := e.storage.Write(ctx, path.Join(extDir, "revisions", rev), strings.NewReader(rev+"\n"), "text/plain"); err != nil {
		return fmt.Errorf("writing revision marker: %w", err)
	}

	// step 4: copy the updated inventory+sidecar into the mutable HEAD.
	if _, err := inventory.Write(ctx, e.storage, inv, headDir); err != nil {
		return err
	}

	// step 5: prune content not referenced by the new manifest, so a
	// logical deletion actually removes bytes from the mutable HEAD.
	return e.pruneUnmanifested(ctx, root, headDir, inv)
}

// pruneUnmanifested deletes every file under headDir's content directory
// whose path isn't named by inv's manifest. Manifest paths recorded by
// contentpath.Mapper.MutableHeadContentPath are already object-root
// relative, so they're joined against root, not headDir.
func (e *Engine) pruneUnmanifested(ctx context.Context, root, headDir string, inv *inventory.Inventory) error {
	contentDir := inv.ContentDirectory
	if contentDir == "" {
		contentDir = inventory.DefaultContentDirectory
	}
	keys, err := e.storage.ListRecursive(ctx, path.Join(headDir, contentDir))
	if err != nil {
		return err
	}
	manifested := make(map[string]bool, len(inv.Manifest))
	for _, paths := range inv.Manifest {
		for _, p := range paths {
			manifested[path.Join(root, p)] = true
		}
	}
	var stale []string
	for _, key := range keys {
		if !manifested[key] {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return e.storage.DeleteFiles(ctx, stale)
}

// CommitMutableHead seals an object's open mutable HEAD into the next
// immutable version (spec §4.9), then removes the extension directory
// entirely.
func (e *Engine) CommitMutableHead(ctx context.Context, id string) error {
	root, err := e.ObjectRoot(id)
	if err != nil {
		return err
	}
	extDir := path.Join(root, inventory.MutableHeadDir)
	headDir := path.Join(extDir, "head")
	snapshotPath := path.Join(extDir, rootInventorySnapshotName)

	// step 1: the root inventory must not have changed since the
	// mutable HEAD was opened.
	headSnap, err := inventory.ReadMutableHead(ctx, e.storage, root)
	if err != nil {
		return err
	}
	rootSnap, err := inventory.Read(ctx, e.storage, root)
	if err != nil {
		return err
	}
	rootAlg, err := rootSnap.Inventory.Alg()
	if err != nil {
		return err
	}
	snapshot, err := e.storage.ReadToString(ctx, snapshotPath)
	if err != nil {
		return &ocflerr.CorruptError{ObjectID: id, Reason: fmt.Sprintf("reading root inventory snapshot: %s", err)}
	}
	current, err := e.storage.ReadToString(ctx, path.Join(root, inventory.SidecarName(rootAlg.ID())))
	if err != nil {
		return err
	}
	if snapshot != current {
		return &ocflerr.OutOfSyncError{ObjectID: id, Reason: "root inventory changed since mutable HEAD was opened"}
	}

	// step 2 (assert a mutable-HEAD inventory exists) is implied by
	// ReadMutableHead above succeeding.

	next, err := rootSnap.Inventory.Head.Next()
	if err != nil {
		return err
	}
	vDir := path.Join(root, next.String())

	// step 3: move the mutable-HEAD version directory into place.
	if err := e.storage.MoveDirectoryInternal(ctx, headDir, vDir); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return &ocflerr.OutOfSyncError{ObjectID: id, Reason: fmt.Sprintf("%s already exists", next)}
		}
		return err
	}

	// The mutable HEAD's manifest and fixity paths were recorded
	// relative to the object root as "extensions/0005-mutable-head/
	// head/...", since that's where content physically lived while
	// staged (contentpath.Mapper.MutableHeadContentPath). Now that the
	// directory has been moved to vN, those paths must be rewritten to
	// "vN/..." before the inventory is sealed; the move itself doesn't
	// touch file contents.
	sealedInv := headSnap.Inventory
	sealedInv.Head = next
	sealedInv.Manifest = rewritePathPrefix(sealedInv.Manifest, mutableHeadHeadPrefix, next.String()+"/")
	for algName, fx := range sealedInv.Fixity {
		sealedInv.Fixity[algName] = rewritePathPrefix(fx, mutableHeadHeadPrefix, next.String()+"/")
	}
	sealedInv.PreviousDigest = ""
	if _, err := inventory.Write(ctx, e.storage, sealedInv, vDir); err != nil {
		return fmt.Errorf("sealing mutable HEAD inventory: %w", err)
	}

	// step 4: promote the new inventory to the root, with retry.
	alg, err := sealedInv.Alg()
	if err != nil {
		return err
	}
	sidecarName := inventory.SidecarName(alg.ID())
	promote := func() error {
		if err := e.storage.CopyFileInternal(ctx, path.Join(vDir, inventory.InventoryFile), path.Join(root, inventory.InventoryFile)); err != nil {
			return err
		}
		return e.storage.CopyFileInternal(ctx, path.Join(vDir, sidecarName), path.Join(root, sidecarName))
	}
	if err := e.retry.retry(ctx, promote); err != nil {
		// step 4 failure: move vN back under the extension so the
		// mutable HEAD can be retried or inspected.
		if mvErr := e.storage.MoveDirectoryInternal(ctx, vDir, headDir); mvErr != nil {
			return &ocflerr.CorruptError{ObjectID: id, Reason: fmt.Sprintf("promoting mutable HEAD failed (%s) and rollback failed: %s", err, mvErr)}
		}
		return fmt.Errorf("promoting mutable HEAD inventory after retries: %w", err)
	}

	// steps 5-6: drop the mutable-HEAD extension directory entirely.
	if err := e.storage.DeleteDirectory(ctx, extDir); err != nil {
		return &ocflerr.CorruptError{ObjectID: id, Reason: fmt.Sprintf("removing mutable HEAD extension: %s", err)}
	}
	return nil
}
