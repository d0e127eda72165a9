package contentpath_test

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/dcsio/ocflcore/contentpath"
	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/ocflerr"
)

func TestContentPath(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileCloud)
	p, err := m.ContentPath(inventory.V(1), "dir/file1.txt")
	is.NoErr(err)
	is.Equal(p, "v1/content/dir/file1.txt")
}

func TestContentPathCustomDir(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("data", contentpath.ProfileCloud)
	p, err := m.ContentPath(inventory.V(3), "a/b.txt")
	is.NoErr(err)
	is.Equal(p, "v3/data/a/b.txt")
}

func TestContentPathWindowsReservedEncoded(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileCloud)
	p, err := m.ContentPath(inventory.V(1), `file:name?.txt`)
	is.NoErr(err)
	is.Equal(p, "v1/content/file%3Aname%3F.txt")
}

func TestContentPathRejectsDotSegments(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileCloud)
	_, err := m.ContentPath(inventory.V(1), "dir/../escape.txt")
	is.True(err != nil)
	is.True(errors.Is(err, ocflerr.ErrPathConstraint))
}

func TestContentPathRejectsEmbeddedBackslash(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileCloud)
	_, err := m.ContentPath(inventory.V(1), `dir\file.txt`)
	is.True(err != nil)
	is.True(errors.Is(err, ocflerr.ErrPathConstraint))
}

func TestContentPathRejectsEmptySegment(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileCloud)
	_, err := m.ContentPath(inventory.V(1), "dir//file.txt")
	is.True(err != nil)
}

func TestContentPathMinimalProfileAllowsReservedChars(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileMinimal)
	p, err := m.ContentPath(inventory.V(1), `file:name?.txt`)
	is.NoErr(err)
	is.Equal(p, "v1/content/file%3Aname%3F.txt")
}

func TestMutableHeadContentPath(t *testing.T) {
	is := is.New(t)
	m := contentpath.New("", contentpath.ProfileCloud)
	p, err := m.MutableHeadContentPath(2, "dir/file.txt")
	is.NoErr(err)
	is.Equal(p, "extensions/0005-mutable-head/head/content/r2/dir/file.txt")
}
