package digest_test

import (
	"testing"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/digest"
)

func TestMapNormalizeSortsPaths(t *testing.T) {
	is := is.New(t)
	m := digest.Map{
		"ABCD": {"z.txt", "a.txt", "m/b.txt"},
	}
	norm, err := m.Normalize()
	is.NoErr(err)
	is.Equal(norm["abcd"][0], "a.txt")
	is.Equal(norm["abcd"][1], "m/b.txt")
	is.Equal(norm["abcd"][2], "z.txt")
}

func TestMapMergeSortsPaths(t *testing.T) {
	is := is.New(t)
	a := digest.Map{"aaa": {"z.txt"}}
	b := digest.Map{"aaa": {"a.txt"}, "bbb": {"m.txt"}}
	merged := a.Merge(b)
	is.Equal(len(merged["aaa"]), 2)
	is.Equal(merged["aaa"][0], "a.txt")
	is.Equal(merged["aaa"][1], "z.txt")
}
