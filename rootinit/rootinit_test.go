package rootinit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/digest"
	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/layout"
	"github.com/dcsio/ocflcore/ocflerr"
	"github.com/dcsio/ocflcore/rootinit"
	"github.com/dcsio/ocflcore/storage/memstore"
)

func TestInitAndOpenWithLayoutDescriptor(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()

	flatDirect, err := layout.Get(layout.FlatDirect)
	is.NoErr(err)

	err = rootinit.Init(ctx, st, "", rootinit.Config{Layout: flatDirect, Description: "test repository"})
	is.NoErr(err)

	exists, err := st.FileExists(ctx, "0=ocfl_1.1")
	is.NoErr(err)
	is.True(exists)

	exists, err = st.FileExists(ctx, "ocfl_layout.json")
	is.NoErr(err)
	is.True(exists)

	root, err := rootinit.Open(ctx, st, "", nil)
	is.NoErr(err)
	is.Equal(root.Version, "1.1")
	is.Equal(root.Layout.Name(), layout.FlatDirect)
	is.Equal(root.Description, "test repository")
}

func TestInitRejectsNonEmptyRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Write(ctx, "somefile.txt", strings.NewReader("hi"), "text/plain")
	is.NoErr(err)

	err = rootinit.Init(ctx, st, "", rootinit.Config{})
	is.True(err != nil)
}

func TestOpenMissingNamaste(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()
	_, err := rootinit.Open(ctx, st, "", nil)
	is.True(err != nil)
	is.True(errors.Is(err, ocflerr.ErrCorrupt))
}

func TestOpenProbesLayoutWithoutDescriptor(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()

	flatDirect, err := layout.Get(layout.FlatDirect)
	is.NoErr(err)

	is.NoErr(rootinit.Init(ctx, st, "", rootinit.Config{Layout: flatDirect}))
	is.NoErr(st.DeleteFile(ctx, "ocfl_layout.json"))

	objID := "urn:example:obj1"
	objPath, err := flatDirect.Resolve(objID)
	is.NoErr(err)

	content := digest.Map{"aaa": {"v1/content/file1.txt"}}
	state := digest.Map{"aaa": {"file1.txt"}}
	inv, err := inventory.FirstVersionInventory(objID, digest.SHA512, "", 0, content, state, time.Now(), "initial", nil)
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, inv, objPath)
	is.NoErr(err)
	_, err = st.Write(ctx, objPath+"/0=ocfl_object_1.1", strings.NewReader("ocfl_object_1.1\n"), "text/plain")
	is.NoErr(err)

	root, err := rootinit.Open(ctx, st, "", flatDirect)
	is.NoErr(err)
	is.Equal(root.Layout.Name(), layout.FlatDirect)
}

func TestDescribeLayout(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()

	flatDirect, err := layout.Get(layout.FlatDirect)
	is.NoErr(err)
	is.NoErr(rootinit.Init(ctx, st, "", rootinit.Config{Layout: flatDirect, Description: "test repository"}))

	report, err := rootinit.DescribeLayout(ctx, st, "", nil)
	is.NoErr(err)
	is.True(strings.Contains(report, "extension: "+layout.FlatDirect))
	is.True(strings.Contains(report, "test repository"))
}

func TestInitIsIdempotent(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()

	flatDirect, err := layout.Get(layout.FlatDirect)
	is.NoErr(err)
	cfg := rootinit.Config{Layout: flatDirect, Description: "test repository"}
	is.NoErr(rootinit.Init(ctx, st, "", cfg))
	is.NoErr(rootinit.Init(ctx, st, "", cfg))
}

func TestOpenProbeFailsWithWrongFallback(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	st := memstore.New()

	flatDirect, err := layout.Get(layout.FlatDirect)
	is.NoErr(err)
	is.NoErr(rootinit.Init(ctx, st, "", rootinit.Config{Layout: flatDirect}))
	is.NoErr(st.DeleteFile(ctx, "ocfl_layout.json"))

	objID := "urn:example:obj2"
	objPath, err := flatDirect.Resolve(objID)
	is.NoErr(err)
	content := digest.Map{"bbb": {"v1/content/file1.txt"}}
	state := digest.Map{"bbb": {"file1.txt"}}
	inv, err := inventory.FirstVersionInventory(objID, digest.SHA512, "", 0, content, state, time.Now(), "initial", nil)
	is.NoErr(err)
	_, err = inventory.Write(ctx, st, inv, objPath)
	is.NoErr(err)
	_, err = st.Write(ctx, objPath+"/0=ocfl_object_1.1", strings.NewReader("ocfl_object_1.1\n"), "text/plain")
	is.NoErr(err)

	wrongLayout, err := layout.Get(layout.HashedNTuple)
	is.NoErr(err)

	_, err = rootinit.Open(ctx, st, "", wrongLayout)
	is.True(err != nil)
	is.True(errors.Is(err, ocflerr.ErrLayoutUndefined))
}
