package objectdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/objectdb"
)

func TestMemDBPutGetDelete(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := objectdb.NewMemDB()

	_, ok, err := db.Get(ctx, "urn:example:1")
	is.NoErr(err)
	is.True(!ok)

	rec := &objectdb.DetailsRecord{
		ObjectID:  "urn:example:1",
		Head:      "v1",
		Digest:    "abcd",
		UpdatedAt: time.Unix(0, 0),
	}
	is.NoErr(db.Put(ctx, rec))

	got, ok, err := db.Get(ctx, "urn:example:1")
	is.NoErr(err)
	is.True(ok)
	is.Equal(got.Head, "v1")
	is.Equal(got.Digest, "abcd")

	is.NoErr(db.Delete(ctx, "urn:example:1"))
	_, ok, err = db.Get(ctx, "urn:example:1")
	is.NoErr(err)
	is.True(!ok)
}
