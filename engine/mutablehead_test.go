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
	"github.com/dcsio/ocflcore/ocflerr"
)

func TestNewMutableHeadStagingDirIsUnique(t *testing.T) {
	is := is.New(t)
	a := engine.NewMutableHeadStagingDir(testID)
	b := engine.NewMutableHeadStagingDir(testID)
	is.True(a != b)
	is.True(strings.HasPrefix(a, "staging/mutable-head/"))
}

func TestStoreNewMutableHeadRevisionAndCommit(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	v1 := newV1Object(t, ctx, st, root)
	rootSnap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)

	// revision 1: add a second file under the mutable HEAD. Manifest
	// content paths mirror contentpath.Mapper.MutableHeadContentPath's
	// convention: object-root relative, pointing at the staged location.
	newContent := digest.Map{}
	is.NoErr(newContent.Add("eeee", "extensions/0005-mutable-head/head/content/r1/b.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	rev1Inv, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(10, 0), "revision 1", nil, rootSnap.Digest)
	is.NoErr(err)
	// a mutable-HEAD revision keeps the object's head unchanged; only
	// commitMutableHead advances it. Roll the speculative head back so
	// LoadInventory still reports v1 as sealed while a HEAD is staged.
	rev1Inv.Head = v1.Head

	stagingContent := "staging/r1"
	_, err = st.Write(ctx, stagingContent+"/b.txt", strings.NewReader("second"), "text/plain")
	is.NoErr(err)

	err = e.StoreNewMutableHeadRevision(ctx, testID, rev1Inv, 1, stagingContent)
	is.NoErr(err)

	snapAfterRev1, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.True(snapAfterRev1.MutableHead)

	// a second writer racing to claim the same revision number must be
	// rejected: the content move in steps 2-3 is the atomic claim on r1,
	// and it's already taken.
	racerRev, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(20, 0), "racer", nil, rootSnap.Digest)
	is.NoErr(err)
	racerRev.Head = v1.Head
	_, err = st.Write(ctx, "staging/r1-racer/c.txt", strings.NewReader("third"), "text/plain")
	is.NoErr(err)
	err = e.StoreNewMutableHeadRevision(ctx, testID, racerRev, 1, "staging/r1-racer")
	is.True(err != nil)
	var outOfSync *ocflerr.OutOfSyncError
	is.True(errors.As(err, &outOfSync))

	err = e.CommitMutableHead(ctx, testID)
	is.NoErr(err)

	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.True(!snap.MutableHead)
	is.Equal(snap.Inventory.Head.String(), "v2")

	hasHead, dirErr := st.DirectoryExists(ctx, root+"/extensions/0005-mutable-head")
	is.NoErr(dirErr)
	is.True(!hasHead)
}

func TestRollbackToVersion(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	v1 := newV1Object(t, ctx, st, root)

	rootSnap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	newContent := digest.Map{}
	is.NoErr(newContent.Add("ffff", "v2/content/f.txt"))
	state := v1.Versions[inventory.V(1)].State.Merge(newContent)
	v2, err := inventory.NextVersionInventory(v1, state, newContent, time.Unix(10, 0), "second", nil, rootSnap.Digest)
	is.NoErr(err)
	stagingDir := "staging/v2"
	_, err = st.Write(ctx, stagingDir+"/content/f.txt", strings.NewReader("f"), "text/plain")
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, v2, stagingDir)
	is.NoErr(err)
	is.NoErr(e.StoreNewVersion(ctx, v2, stagingDir, ""))

	err = e.RollbackToVersion(ctx, testID, inventory.V(1))
	is.NoErr(err)

	snap, err := e.LoadInventory(ctx, testID)
	is.NoErr(err)
	is.Equal(snap.Inventory.Head.String(), "v1")

	exists, err := st.DirectoryExists(ctx, root+"/v2")
	is.NoErr(err)
	is.True(!exists)
}

func TestRollbackToVersionNoOpAtHead(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e, st, root := newEngine(t)
	newV1Object(t, ctx, st, root)

	err := e.RollbackToVersion(ctx, testID, inventory.V(1))
	is.NoErr(err)
}
