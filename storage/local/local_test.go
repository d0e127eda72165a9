package local_test

import (
	"context"
	"os"
	"testing"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/storage/local"
	"github.com/dcsio/ocflcore/storage/storagetest"
)

func TestLocalBackend(t *testing.T) {
	is := is.New(t)
	tmpDir, err := os.MkdirTemp("", "ocflcore-local-*")
	is.NoErr(err)
	defer os.RemoveAll(tmpDir)
	b, err := local.New(tmpDir)
	is.NoErr(err)
	storagetest.Suite(t, b)
}

func TestLocalBackendDeleteEmptyDirsUp(t *testing.T) {
	is := is.New(t)
	tmpDir, err := os.MkdirTemp("", "ocflcore-local-*")
	is.NoErr(err)
	defer os.RemoveAll(tmpDir)
	b, err := local.New(tmpDir)
	is.NoErr(err)

	ctx := context.Background()
	is.NoErr(b.CreateDirectories(ctx, "a/b/c"))
	is.NoErr(b.DeleteEmptyDirsUp(ctx, "a/b/c"))
	exists, err := b.DirectoryExists(ctx, "a")
	is.NoErr(err)
	is.True(!exists)
}
