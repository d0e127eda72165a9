package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/objectdb"
)

// DBAdapter decorates an Engine with an object-details DB (component
// 10, spec §5): every mutating operation is wrapped so the DB record
// and the storage write either both end up reflecting the same state,
// or the DB record is removed rather than left describing something
// storage doesn't actually have. Follows store/store.go's scanning
// style for what a details record summarizes (id, head, digest),
// generalized to a pluggable Store in place of a literal SQL layer.
type DBAdapter struct {
	engine *Engine
	db     objectdb.Store
}

// NewDBAdapter returns a DBAdapter composing e and db.
func NewDBAdapter(e *Engine, db objectdb.Store) *DBAdapter {
	return &DBAdapter{engine: e, db: db}
}

// LoadInventory passes through to the underlying engine; the DB is a
// secondary index, never the source of truth for inventory content.
func (a *DBAdapter) LoadInventory(ctx context.Context, id string) (*inventory.Snapshot, error) {
	return a.engine.LoadInventory(ctx, id)
}

// StoreNewVersion installs the version through the engine, then syncs
// id's DB record to match.
func (a *DBAdapter) StoreNewVersion(ctx context.Context, inv *inventory.Inventory, stagingDir string, upgradeVersion string) error {
	if err := a.engine.StoreNewVersion(ctx, inv, stagingDir, upgradeVersion); err != nil {
		return err
	}
	return a.syncRecord(ctx, inv.ID)
}

// StoreNewMutableHeadRevision stages the revision through the engine,
// then syncs id's DB record to match.
func (a *DBAdapter) StoreNewMutableHeadRevision(ctx context.Context, id string, inv *inventory.Inventory, revision int, stagingContentDir string) error {
	if err := a.engine.StoreNewMutableHeadRevision(ctx, id, inv, revision, stagingContentDir); err != nil {
		return err
	}
	return a.syncRecord(ctx, id)
}

// CommitMutableHead seals the mutable HEAD through the engine, then
// syncs id's DB record to match.
func (a *DBAdapter) CommitMutableHead(ctx context.Context, id string) error {
	if err := a.engine.CommitMutableHead(ctx, id); err != nil {
		return err
	}
	return a.syncRecord(ctx, id)
}

// RollbackToVersion rolls back through the engine, then syncs id's DB
// record to match the restored state.
func (a *DBAdapter) RollbackToVersion(ctx context.Context, id string, v inventory.VNum) error {
	if err := a.engine.RollbackToVersion(ctx, id, v); err != nil {
		return err
	}
	return a.syncRecord(ctx, id)
}

// PurgeObject purges through the engine, then deletes id's DB record
// unconditionally: a purged object has no state left for the record to
// describe.
func (a *DBAdapter) PurgeObject(ctx context.Context, id string) error {
	err := a.engine.PurgeObject(ctx, id)
	if delErr := a.db.Delete(ctx, id); delErr != nil && err == nil {
		return fmt.Errorf("deleting object-details record for %q: %w", id, delErr)
	}
	return err
}

// PurgeMutableHead purges through the engine, then syncs id's DB record
// (its MutableHead flag is now false).
func (a *DBAdapter) PurgeMutableHead(ctx context.Context, id string) error {
	if err := a.engine.PurgeMutableHead(ctx, id); err != nil {
		return err
	}
	return a.syncRecord(ctx, id)
}

// syncRecord re-reads id's current inventory from the engine (the
// authoritative source) and makes the DB record match it. If the
// storage-side read that would tell us what to write fails, or if the
// write itself fails, the DB record is deleted rather than left
// describing a state storage can no longer confirm — the transactional
// guarantee spec §5 calls for is "both visible, or neither", not "best
// effort, possibly stale".
func (a *DBAdapter) syncRecord(ctx context.Context, id string) error {
	snap, err := a.engine.LoadInventory(ctx, id)
	if err != nil {
		_ = a.db.Delete(ctx, id)
		return fmt.Errorf("reading inventory to sync object-details record for %q: %w", id, err)
	}
	if snap == nil {
		return a.db.Delete(ctx, id)
	}
	rec := &objectdb.DetailsRecord{
		ObjectID:    id,
		Head:        snap.Inventory.Head.String(),
		Digest:      snap.Digest,
		MutableHead: snap.MutableHead,
		UpdatedAt:   time.Now(),
	}
	if err := a.db.Put(ctx, rec); err != nil {
		_ = a.db.Delete(ctx, id)
		return fmt.Errorf("updating object-details record for %q: %w", id, err)
	}
	return nil
}
