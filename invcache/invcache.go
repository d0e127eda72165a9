// Package invcache implements the inventory cache adapter (component 9):
// a decorator that memoizes the engine's parsed inventories so repeated
// reads of the same object skip the backend round-trip, invalidated
// whenever the object might have changed underneath it.
//
// Follows the same decorator-over-interface style as ocflv1.Store
// wrapping an ocfl.FS rather than reimplementing it; nothing in this
// module's dependency stack does inventory memoization specifically, so
// the cache mechanics themselves are built fresh. A sync.RWMutex-guarded
// map is used rather than a third-party cache library: golang/groupcache
// (reachable indirectly through gocloud.dev) has no per-key invalidation
// primitive, only TTL/LRU eviction, which can't satisfy the mandatory
// invalidate-on-OutOfSync/purge/rollback rule this decorator exists to
// enforce.
package invcache

import (
	"context"
	"errors"
	"sync"

	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/ocflerr"
)

// Backend is the subset of the engine's surface this cache wraps: the
// read path it memoizes, plus every mutating operation whose success
// (or OutOfSync failure) can invalidate a memoized entry.
type Backend interface {
	LoadInventory(ctx context.Context, id string) (*inventory.Snapshot, error)
	StoreNewVersion(ctx context.Context, inv *inventory.Inventory, stagingDir string, upgradeVersion string) error
	StoreNewMutableHeadRevision(ctx context.Context, id string, inv *inventory.Inventory, revision int, stagingContentDir string) error
	CommitMutableHead(ctx context.Context, id string) error
	RollbackToVersion(ctx context.Context, id string, v inventory.VNum) error
	PurgeObject(ctx context.Context, id string) error
	PurgeMutableHead(ctx context.Context, id string) error
}

// Cache wraps a Backend, memoizing LoadInventory results per object id.
// Safe for concurrent use.
type Cache struct {
	backend Backend

	mu      sync.RWMutex
	entries map[string]*inventory.Snapshot
}

// New returns a Cache decorating backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend, entries: make(map[string]*inventory.Snapshot)}
}

// LoadInventory returns the memoized snapshot for id if one is cached,
// otherwise loads it from the backend and caches the result.
func (c *Cache) LoadInventory(ctx context.Context, id string) (*inventory.Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}
	snap, err := c.backend.LoadInventory(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(id, snap)
	return snap, nil
}

func (c *Cache) put(id string, snap *inventory.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap == nil {
		delete(c.entries, id)
		return
	}
	c.entries[id] = snap
}

func (c *Cache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// invalidateOnWrite drops id's cached entry if err signals the object
// changed out from under a cached reader, and also drops it on success,
// so the next read reloads the newly written inventory from the backend.
func (c *Cache) invalidateOnWrite(ctx context.Context, id string, err error) error {
	if err != nil {
		if errors.Is(err, ocflerr.ErrOutOfSync) {
			c.invalidate(id)
		}
		return err
	}
	c.invalidate(id)
	return nil
}

// StoreNewVersion stores the new version through the backend, then
// invalidates id's cached inventory: on success because the cached
// snapshot is now stale, on OutOfSync because the cached snapshot was
// the cause of the race.
func (c *Cache) StoreNewVersion(ctx context.Context, inv *inventory.Inventory, stagingDir string, upgradeVersion string) error {
	err := c.backend.StoreNewVersion(ctx, inv, stagingDir, upgradeVersion)
	return c.invalidateOnWrite(ctx, inv.ID, err)
}

// StoreNewMutableHeadRevision stages the revision through the backend,
// then invalidates id's cached inventory under the same rule as
// StoreNewVersion.
func (c *Cache) StoreNewMutableHeadRevision(ctx context.Context, id string, inv *inventory.Inventory, revision int, stagingContentDir string) error {
	err := c.backend.StoreNewMutableHeadRevision(ctx, id, inv, revision, stagingContentDir)
	return c.invalidateOnWrite(ctx, id, err)
}

// CommitMutableHead seals the mutable HEAD through the backend, then
// invalidates id's cached inventory.
func (c *Cache) CommitMutableHead(ctx context.Context, id string) error {
	err := c.backend.CommitMutableHead(ctx, id)
	return c.invalidateOnWrite(ctx, id, err)
}

// RollbackToVersion rolls back through the backend and unconditionally
// invalidates id's cached inventory, per spec §5's invalidation rule.
func (c *Cache) RollbackToVersion(ctx context.Context, id string, v inventory.VNum) error {
	err := c.backend.RollbackToVersion(ctx, id, v)
	c.invalidate(id)
	return err
}

// PurgeObject purges through the backend and unconditionally invalidates
// id's cached inventory, per spec §5's invalidation rule.
func (c *Cache) PurgeObject(ctx context.Context, id string) error {
	err := c.backend.PurgeObject(ctx, id)
	c.invalidate(id)
	return err
}

// PurgeMutableHead purges through the backend and unconditionally
// invalidates id's cached inventory, per spec §5's invalidation rule.
func (c *Cache) PurgeMutableHead(ctx context.Context, id string) error {
	err := c.backend.PurgeMutableHead(ctx, id)
	c.invalidate(id)
	return err
}
