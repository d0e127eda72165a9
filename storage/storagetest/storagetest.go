// Package storagetest provides a conformance suite exercised against any
// storage.Storage implementation, so each backend's own test file can run
// the identical battery of behavioral checks.
package storagetest

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/storage"
)

// Suite runs the conformance battery against st.
func Suite(t *testing.T, st storage.Storage) {
	t.Run("write and read", func(t *testing.T) { testWriteRead(t, st) })
	t.Run("copy internal", func(t *testing.T) { testCopyInternal(t, st) })
	t.Run("list recursive", func(t *testing.T) { testListRecursive(t, st) })
	t.Run("delete file", func(t *testing.T) { testDeleteFile(t, st) })
	t.Run("move directory internal", func(t *testing.T) { testMoveDirectoryInternal(t, st) })
	t.Run("iterate objects", func(t *testing.T) { testIterateObjects(t, st) })
}

func testWriteRead(t *testing.T, st storage.Storage) {
	is := is.New(t)
	ctx := context.Background()
	n, err := st.Write(ctx, "a/b/hello.txt", strings.NewReader("hello world"), "text/plain")
	is.NoErr(err)
	is.Equal(n, int64(len("hello world")))

	got, err := st.ReadToString(ctx, "a/b/hello.txt")
	is.NoErr(err)
	is.Equal(got, "hello world")

	exists, err := st.FileExists(ctx, "a/b/hello.txt")
	is.NoErr(err)
	is.True(exists)

	missing, err := st.FileExists(ctx, "a/b/nope.txt")
	is.NoErr(err)
	is.True(!missing)

	_, err = st.ReadToString(ctx, "a/b/nope.txt")
	is.True(err != nil)
}

func testCopyInternal(t *testing.T, st storage.Storage) {
	is := is.New(t)
	ctx := context.Background()
	_, err := st.Write(ctx, "copy/src.txt", strings.NewReader("copy me"), "")
	is.NoErr(err)
	err = st.CopyFileInternal(ctx, "copy/src.txt", "copy/dst.txt")
	is.NoErr(err)
	got, err := st.ReadToString(ctx, "copy/dst.txt")
	is.NoErr(err)
	is.Equal(got, "copy me")
}

func testListRecursive(t *testing.T, st storage.Storage) {
	is := is.New(t)
	ctx := context.Background()
	_, err := st.Write(ctx, "listing/one.txt", strings.NewReader("1"), "")
	is.NoErr(err)
	_, err = st.Write(ctx, "listing/nested/two.txt", strings.NewReader("2"), "")
	is.NoErr(err)

	keys, err := st.ListRecursive(ctx, "listing")
	is.NoErr(err)
	sort.Strings(keys)
	is.Equal(len(keys), 2)
	is.Equal(keys[0], "listing/nested/two.txt")
	is.Equal(keys[1], "listing/one.txt")
}

func testDeleteFile(t *testing.T, st storage.Storage) {
	is := is.New(t)
	ctx := context.Background()
	_, err := st.Write(ctx, "del/gone.txt", strings.NewReader("x"), "")
	is.NoErr(err)
	err = st.DeleteFile(ctx, "del/gone.txt")
	is.NoErr(err)
	exists, err := st.FileExists(ctx, "del/gone.txt")
	is.NoErr(err)
	is.True(!exists)
}

func testMoveDirectoryInternal(t *testing.T, st storage.Storage) {
	is := is.New(t)
	ctx := context.Background()
	_, err := st.Write(ctx, "movesrc/a.txt", strings.NewReader("a"), "")
	is.NoErr(err)
	_, err = st.Write(ctx, "movesrc/sub/b.txt", strings.NewReader("b"), "")
	is.NoErr(err)

	err = st.MoveDirectoryInternal(ctx, "movesrc", "movedst")
	is.NoErr(err)

	got, err := st.ReadToString(ctx, "movedst/a.txt")
	is.NoErr(err)
	is.Equal(got, "a")
	got, err = st.ReadToString(ctx, "movedst/sub/b.txt")
	is.NoErr(err)
	is.Equal(got, "b")

	_, err = st.ReadToString(ctx, "movesrc/a.txt")
	is.True(err != nil)

	// moving onto an occupied destination fails.
	_, err = st.Write(ctx, "movesrc2/c.txt", strings.NewReader("c"), "")
	is.NoErr(err)
	err = st.MoveDirectoryInternal(ctx, "movesrc2", "movedst")
	is.True(err != nil)
}

func testIterateObjects(t *testing.T, st storage.Storage) {
	is := is.New(t)
	ctx := context.Background()
	_, err := st.Write(ctx, "objs/obj-1/0=ocfl_object_1.1", strings.NewReader("ocfl_object_1.1"), "")
	is.NoErr(err)
	_, err = st.Write(ctx, "objs/obj-1/inventory.json", strings.NewReader("{}"), "")
	is.NoErr(err)
	_, err = st.Write(ctx, "objs/nested/obj-2/0=ocfl_object_1.1", strings.NewReader("ocfl_object_1.1"), "")
	is.NoErr(err)

	var roots []string
	for root, err := range st.IterateObjects(ctx, "objs") {
		is.NoErr(err)
		roots = append(roots, root.Prefix)
	}
	sort.Strings(roots)
	is.Equal(len(roots), 2)
	is.Equal(roots[0], "objs/nested/obj-2")
	is.Equal(roots[1], "objs/obj-1")
}
