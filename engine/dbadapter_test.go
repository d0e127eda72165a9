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
	"github.com/dcsio/ocflcore/objectdb"
)

// failingStore wraps a *objectdb.MemDB and can be told to fail its next
// Put, to exercise DBAdapter's rollback-the-record behavior.
type failingStore struct {
	*objectdb.MemDB
	failNextPut bool
}

func (f *failingStore) Put(ctx context.Context, rec *objectdb.DetailsRecord) error {
	if f.failNextPut {
		f.failNextPut = false
		return errors.New("simulated write failure")
	}
	return f.MemDB.Put(ctx, rec)
}

func TestDBAdapterStoreNewVersionSyncsRecord(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)
	db := objectdb.NewMemDB()
	a := engine.NewDBAdapter(e, db)

	rec, ok, err := db.Get(ctx, testID)
	is.NoErr(err)
	is.True(!ok)

	rootSnap, err := a.LoadInventory(ctx, testID)
	is.NoErr(err)
	v1 := rootSnap.Inventory

	newContent := digest.Map{}
	is.NoErr(newContent.Add("bbbb", "v2/content/b.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	next, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(100, 0), "second", nil, rootSnap.Digest)
	is.NoErr(err)

	stagingDir := "staging/v2"
	_, err = st.Write(ctx, stagingDir+"/content/b.txt", strings.NewReader("world"), "text/plain")
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, next, stagingDir)
	is.NoErr(err)

	is.NoErr(a.StoreNewVersion(ctx, next, stagingDir, ""))

	rec, ok, err = db.Get(ctx, testID)
	is.NoErr(err)
	is.True(ok)
	is.Equal(rec.Head, "v2")
	is.True(!rec.MutableHead)
}

func TestDBAdapterPurgeObjectDeletesRecord(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)
	db := objectdb.NewMemDB()
	a := engine.NewDBAdapter(e, db)

	_, err := a.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.NoErr(db.Put(ctx, &objectdb.DetailsRecord{ObjectID: testID, Head: "v1"}))

	is.NoErr(a.PurgeObject(ctx, testID))

	_, ok, err := db.Get(ctx, testID)
	is.NoErr(err)
	is.True(!ok)
}

func TestDBAdapterRemovesRecordWhenDBWriteFails(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)
	db := &failingStore{MemDB: objectdb.NewMemDB()}
	a := engine.NewDBAdapter(e, db)

	rootSnap, err := a.LoadInventory(ctx, testID)
	is.NoErr(err)
	v1 := rootSnap.Inventory

	newContent := digest.Map{}
	is.NoErr(newContent.Add("cccc", "v2/content/c.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	next, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(100, 0), "second", nil, rootSnap.Digest)
	is.NoErr(err)

	stagingDir := "staging/v2"
	_, err = st.Write(ctx, stagingDir+"/content/c.txt", strings.NewReader("x"), "text/plain")
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, next, stagingDir)
	is.NoErr(err)

	db.failNextPut = true
	err = a.StoreNewVersion(ctx, next, stagingDir, "")
	is.True(err != nil) // the storage write succeeded, but the DB sync failed

	// the storage side genuinely advanced to v2...
	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.Equal(snap.Inventory.Head.String(), "v2")

	// ...but no DB record is left describing it, so nothing visible is
	// half-applied.
	_, ok, getErr := db.Get(ctx, testID)
	is.NoErr(getErr)
	is.True(!ok)
}
