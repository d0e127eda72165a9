package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/digest"
	"github.com/dcsio/ocflcore/engine"
	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/layout"
	"github.com/dcsio/ocflcore/ocflerr"
	"github.com/dcsio/ocflcore/storage/memstore"
)

const testID = "urn:example:obj-1"

// newV1Object writes a complete, valid first version directly to st
// (bypassing the engine) so tests can exercise operations against an
// existing object without depending on StoreNewVersion itself.
func newV1Object(t *testing.T, ctx context.Context, st *memstore.Store, root string) *inventory.Inventory {
	t.Helper()
	is := is.New(t)

	content := digest.Map{}
	err := content.Add("aaaa", "v1/content/a.txt")
	is.NoErr(err)
	state := digest.Map{}
	err = state.Add("aaaa", "a.txt")
	is.NoErr(err)

	inv, err := inventory.FirstVersionInventory(testID, digest.SHA512, "content", 0, content, state, time.Unix(0, 0), "first version", nil)
	is.NoErr(err)

	_, err = st.Write(ctx, root+"/v1/content/a.txt", strings.NewReader("hello"), "text/plain")
	is.NoErr(err)
	_, err = st.Write(ctx, root+"/0=ocfl_object_1.1", strings.NewReader("ocfl_object_1.1\n"), "text/plain")
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, inv, root+"/v1", root)
	is.NoErr(err)
	return inv
}

func newEngine(t *testing.T) (*engine.Engine, *memstore.Store, string) {
	t.Helper()
	is := is.New(t)
	st := memstore.New()
	lay, err := layout.Get(layout.FlatDirect)
	is.NoErr(err)
	e := engine.New(st, lay)
	root, err := e.ObjectRoot(testID)
	is.NoErr(err)
	return e, st, root
}

func TestContainsObjectAndLoadInventory(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)

	exists, err := e.ContainsObject(ctx, testID)
	is.NoErr(err)
	is.True(!exists)

	newV1Object(t, ctx, st, root)

	exists, err = e.ContainsObject(ctx, testID)
	is.NoErr(err)
	is.True(exists)

	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.True(snap != nil)
	is.Equal(snap.Inventory.ID, testID)
	is.Equal(snap.Inventory.Head.String(), "v1")
}

func TestLoadInventoryAbsentObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, _, _ := newEngine(t)

	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.True(snap == nil)
}

func TestGetInventoryBytes(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)

	raw, err := e.GetInventoryBytes(ctx, testID, inventory.V(1))
	is.NoErr(err)
	is.True(strings.Contains(string(raw), testID))

	_, err = e.GetInventoryBytes(ctx, testID, inventory.V(2))
	is.True(err != nil)
	var notFound *ocflerr.NotFoundError
	is.True(errors.As(err, &notFound))
}

func TestGetInventoryBytesUnknownObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.GetInventoryBytes(ctx, testID, inventory.V(1))
	is.True(err != nil)
	var notFound *ocflerr.NotFoundError
	is.True(errors.As(err, &notFound))
}

func TestStoreNewVersionFirstVersionConflict(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)

	// staging a v1 when v1 already exists must fail OutOfSync, not
	// silently overwrite.
	content := digest.Map{}
	is.NoErr(content.Add("bbbb", "v1/content/b.txt"))
	state := digest.Map{}
	is.NoErr(state.Add("bbbb", "b.txt"))
	inv, err := inventory.FirstVersionInventory(testID, digest.SHA512, "content", 0, content, state, time.Unix(0, 0), "racing first version", nil)
	is.NoErr(err)

	_, err = st.Write(ctx, "stage/content/b.txt", strings.NewReader("world"), "text/plain")
	is.NoErr(err)

	err = e.StoreNewVersion(ctx, inv, "stage", "")
	is.True(err != nil)
	var outOfSync *ocflerr.OutOfSyncError
	is.True(errors.As(err, &outOfSync))
}

func TestStoreNewVersionSecondVersion(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	v1 := newV1Object(t, ctx, st, root)

	rootSnap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)

	newContent := digest.Map{}
	is.NoErr(newContent.Add("bbbb", "v2/content/b.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	next, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(100, 0), "second version", nil, rootSnap.Digest)
	is.NoErr(err)

	stagingDir := "staging/v2"
	_, err = st.Write(ctx, stagingDir+"/content/b.txt", strings.NewReader("world"), "text/plain")
	is.NoErr(err)
	alg, err := next.Alg()
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, next, stagingDir)
	is.NoErr(err)

	err = e.StoreNewVersion(ctx, next, stagingDir, "")
	is.NoErr(err)

	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.Equal(snap.Inventory.Head.String(), "v2")

	sidecarExists, err := st.FileExists(ctx, root+"/"+inventory.SidecarName(alg.ID()))
	is.NoErr(err)
	is.True(sidecarExists)
}

func TestStoreNewVersionOutOfSyncOnStalePreviousDigest(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	v1 := newV1Object(t, ctx, st, root)

	newContent := digest.Map{}
	is.NoErr(newContent.Add("cccc", "v2/content/c.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	next, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(100, 0), "stale", nil, "not-the-real-digest")
	is.NoErr(err)

	stagingDir := "staging/v2"
	_, err = st.Write(ctx, stagingDir+"/content/c.txt", strings.NewReader("stale"), "text/plain")
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, next, stagingDir)
	is.NoErr(err)

	err = e.StoreNewVersion(ctx, next, stagingDir, "")
	is.True(err != nil)
	var outOfSync *ocflerr.OutOfSyncError
	is.True(errors.As(err, &outOfSync))

	// the version directory must have been rolled back.
	exists, err := st.DirectoryExists(ctx, root+"/v2")
	is.NoErr(err)
	is.True(!exists)
}

func TestStoreNewVersionRejectsActiveMutableHead(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	v1 := newV1Object(t, ctx, st, root)
	_, err := st.Write(ctx, root+"/extensions/0005-mutable-head/head/inventory.json", strings.NewReader("{}"), "application/json")
	is.NoErr(err)

	newContent := digest.Map{}
	is.NoErr(newContent.Add("dddd", "v2/content/d.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	next, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(100, 0), "blocked", nil, "whatever")
	is.NoErr(err)

	err = e.StoreNewVersion(ctx, next, root+"/v2", "")
	is.True(err != nil)
	var stateErr *ocflerr.StateError
	is.True(errors.As(err, &stateErr))
}

func TestReconstructObjectVersion(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)

	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)

	dir := t.TempDir()
	err = e.ReconstructObjectVersion(ctx, testID, snap.Inventory, inventory.V(1), dir)
	is.True(err != nil) // digest "aaaa" doesn't match content "hello"'s real sha512
	var fixityErr *ocflerr.FixityError
	is.True(errors.As(err, &fixityErr))
}

func TestReconstructObjectVersionDeduplicatesDigests(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)

	alg := digest.SHA512
	d := alg.New()
	_, err := d.Write([]byte("shared"))
	is.NoErr(err)
	sum := d.String()

	content := digest.Map{}
	is.NoErr(content.Add(sum, "v1/content/shared.txt"))
	state := digest.Map{}
	is.NoErr(state.Add(sum, "a.txt"))
	is.NoErr(state.Add(sum, "nested/b.txt"))

	inv, err := inventory.FirstVersionInventory(testID, alg, "content", 0, content, state, time.Unix(0, 0), "dup", nil)
	is.NoErr(err)

	_, err = st.Write(ctx, root+"/v1/content/shared.txt", strings.NewReader("shared"), "text/plain")
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, inv, root+"/v1", root)
	is.NoErr(err)

	dir := t.TempDir()
	err = e.ReconstructObjectVersion(ctx, testID, inv, inventory.V(1), dir)
	is.NoErr(err)
}

func TestPurgeObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)

	err := e.PurgeObject(ctx, testID)
	is.NoErr(err)

	exists, err := e.ContainsObject(ctx, testID)
	is.NoErr(err)
	is.True(!exists)

	// purging an already-absent object is a no-op.
	err = e.PurgeObject(ctx, testID)
	is.NoErr(err)
}

func TestListObjectIds(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)

	var ids []string
	for id, err := range e.ListObjectIds(ctx) {
		is.NoErr(err)
		ids = append(ids, id)
	}
	is.Equal(len(ids), 1)
	is.Equal(ids[0], testID)
}
