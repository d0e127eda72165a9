package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/logging"
	"github.com/dcsio/ocflcore/ocflerr"
	"github.com/dcsio/ocflcore/storage"
)

const objectNamastePrefix = "0=ocfl_object_"

// StoreNewVersion installs inv as a new immutable version, sourced from
// stagingDir: a backend-internal prefix already laid out exactly as the
// version directory vN will appear (inventory.json, its sidecar, and
// <contentDirectory>/…), since stagingDir itself is moved to vN.
// upgradeVersion, if non-empty, rewrites the storage root's namaste to a
// new OCFL spec version once the version is installed.
//
// This is the central routine of the engine (spec §4.7): a single
// atomic move lands the content, then a retried two-phase promotion
// swings the root inventory pointer. Mirrors ocflv1.Commit's
// object-declaration-on-first-version, transfer, then WriteInventory
// to both locations, generalized into the explicit
// move+verify+promote+rollback sequence a direct, non-staged write
// doesn't need.
func (e *Engine) StoreNewVersion(ctx context.Context, inv *inventory.Inventory, stagingDir string, upgradeVersion string) (err error) {
	log := logging.FromContext(ctx).With("object_id", inv.ID, "head", inv.Head.String())
	root, err := e.ObjectRoot(inv.ID)
	if err != nil {
		return err
	}

	// step 1: probe for an active mutable HEAD.
	hasMutableHead, err := e.storage.DirectoryExists(ctx, path.Join(root, inventory.MutableHeadDir, "head"))
	if err != nil {
		return err
	}
	if hasMutableHead {
		return &ocflerr.StateError{ObjectID: inv.ID, Reason: "object has an active mutable HEAD"}
	}

	firstVersion := inv.Head.First()
	vDir := path.Join(root, inv.Head.String())

	// step 2: advisory non-existence check. The move in step 4 is the
	// real guard.
	if exists, err := e.storage.DirectoryExists(ctx, vDir); err != nil {
		return err
	} else if exists {
		return &ocflerr.OutOfSyncError{ObjectID: inv.ID, Reason: fmt.Sprintf("%s already exists", inv.Head)}
	}

	// step 3: on first version only, create the object root and its
	// namaste declaration.
	if firstVersion {
		if err := e.storage.CreateDirectories(ctx, root); err != nil {
			return err
		}
		if _, err := e.storage.Write(ctx, path.Join(root, objectNamastePrefix+objectSpecVersion), strings.NewReader("ocfl_object_"+objectSpecVersion+"\n"), "text/plain"); err != nil {
			return fmt.Errorf("writing object namaste: %w", err)
		}
	}

	// step 4: atomic move of staged content into the version directory.
	log.DebugContext(ctx, "installing version directory", "staging", stagingDir)
	if err := e.storage.MoveDirectoryInternal(ctx, stagingDir, vDir); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return &ocflerr.OutOfSyncError{ObjectID: inv.ID, Reason: "concurrent writer installed this version first"}
		}
		return err
	}

	// From here, a failure must roll back: delete vN, and either restore
	// the prior root inventory or purge the whole object (step 7).
	rollback := func(cause error) error {
		if rmErr := e.storage.DeleteDirectory(ctx, vDir); rmErr != nil {
			return &ocflerr.CorruptError{ObjectID: inv.ID, Reason: fmt.Sprintf("rollback after %q failed to remove %s: %s", cause, vDir, rmErr)}
		}
		if firstVersion {
			if rmErr := e.storage.DeleteDirectory(ctx, root); rmErr != nil && !errors.Is(rmErr, storage.ErrNoSuchFile) {
				return &ocflerr.CorruptError{ObjectID: inv.ID, Reason: fmt.Sprintf("rollback after %q failed to purge new object: %s", cause, rmErr)}
			}
			return cause
		}
		prev, prevErr := inv.Head.Prev()
		if prevErr != nil {
			return &ocflerr.CorruptError{ObjectID: inv.ID, Reason: fmt.Sprintf("rollback after %q: %s", cause, prevErr)}
		}
		if restoreErr := e.restoreRootInventory(ctx, root, prev); restoreErr != nil {
			return &ocflerr.CorruptError{ObjectID: inv.ID, Reason: fmt.Sprintf("rollback after %q failed to restore root inventory: %s", cause, restoreErr)}
		}
		return cause
	}

	// step 5: verify previousDigest against the current root sidecar
	// (skipped on the first version, which has no prior root inventory).
	if !firstVersion {
		rootSnap, readErr := inventory.Read(ctx, e.storage, root)
		if readErr != nil {
			return rollback(fmt.Errorf("reading current root inventory for previousDigest check: %w", readErr))
		}
		if rootSnap.Digest != inv.PreviousDigest {
			return rollback(&ocflerr.OutOfSyncError{ObjectID: inv.ID, Reason: "previousDigest does not match current root inventory"})
		}
	}

	// step 6: promote the staged inventory to the object root, retried
	// with exponential backoff.
	alg, err := inv.Alg()
	if err != nil {
		return rollback(err)
	}
	sidecarName := inventory.SidecarName(alg.ID())
	promote := func() error {
		if err := e.storage.CopyFileInternal(ctx, path.Join(vDir, inventory.InventoryFile), path.Join(root, inventory.InventoryFile)); err != nil {
			return err
		}
		return e.storage.CopyFileInternal(ctx, path.Join(vDir, sidecarName), path.Join(root, sidecarName))
	}
	if err := e.retry.retry(ctx, promote); err != nil {
		return rollback(fmt.Errorf("promoting inventory after retries: %w", err))
	}

	// step 8: OCFL version upgrade: rewrite the storage root's namaste.
	// Object roots are layout paths relative to the storage root, which is
	// the top of the backend keyspace.
	if upgradeVersion != "" {
		if err := e.upgradeRootVersion(ctx, ".", upgradeVersion); err != nil {
			return err
		}
	}
	log.InfoContext(ctx, "stored new version")
	return nil
}

// restoreRootInventory re-promotes version prev's inventory+sidecar over
// the object root's, used when step 5 or 6 of StoreNewVersion fails
// after a non-first version has already been moved into place.
func (e *Engine) restoreRootInventory(ctx context.Context, root string, prev inventory.VNum) error {
	prevDir := path.Join(root, prev.String())
	snap, err := inventory.Read(ctx, e.storage, prevDir)
	if err != nil {
		return err
	}
	alg, err := snap.Inventory.Alg()
	if err != nil {
		return err
	}
	sidecarName := inventory.SidecarName(alg.ID())
	if err := e.storage.CopyFileInternal(ctx, path.Join(prevDir, inventory.InventoryFile), path.Join(root, inventory.InventoryFile)); err != nil {
		return err
	}
	return e.storage.CopyFileInternal(ctx, path.Join(prevDir, sidecarName), path.Join(root, sidecarName))
}

func (e *Engine) upgradeRootVersion(ctx context.Context, root, newVersion string) error {
	entries, err := e.storage.ListDirectory(ctx, root)
	if err != nil {
		return err
	}
	var oldMarker string
	for _, entry := range entries {
		if entry.Kind == storage.KindFile && len(entry.Name) > len("0=ocfl_") && entry.Name[:7] == "0=ocfl_" && entry.Name[7] != 'o' {
			oldMarker = entry.Name
			break
		}
	}
	if _, err := e.storage.Write(ctx, path.Join(root, "0=ocfl_"+newVersion), strings.NewReader("ocfl_"+newVersion+"\n"), "text/plain"); err != nil {
		return fmt.Errorf("writing upgraded root namaste: %w", err)
	}
	if oldMarker != "" && oldMarker != "0=ocfl_"+newVersion {
		if err := e.storage.DeleteFile(ctx, path.Join(root, oldMarker)); err != nil {
			return fmt.Errorf("deleting old root namaste: %w", err)
		}
	}
	return nil
}

// objectSpecVersion is the OCFL spec version declared by a new object's
// own namaste on its first version. It always reflects the version this
// engine writes objects as; upgrading it happens only via the explicit
// root-level upgradeVersion path (step 8), which rewrites the root
// namaste, not the object's.
const objectSpecVersion = "1.1"
