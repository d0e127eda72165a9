package memstore_test

import (
	"testing"

	"github.com/dcsio/ocflcore/storage/memstore"
	"github.com/dcsio/ocflcore/storage/storagetest"
)

func TestMemstore(t *testing.T) {
	storagetest.Suite(t, memstore.New())
}
