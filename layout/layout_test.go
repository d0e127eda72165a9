package layout_test

import (
	"strings"
	"testing"

	"github.com/dcsio/ocflcore/layout"
	"github.com/matryer/is"
)

func TestLayoutFlatDirect(t *testing.T) {
	is := is.New(t)
	l := layout.NewLayoutFlatDirect()
	got, err := l.Resolve("my-object-1")
	is.NoErr(err)
	is.Equal(got, "my-object-1")

	_, err = l.Resolve("")
	is.True(err != nil)
}

func TestLayoutHashedNTuple(t *testing.T) {
	is := is.New(t)
	l := layout.NewLayoutHashedNTuple()
	got, err := l.Resolve("object-01")
	is.NoErr(err)
	// sha256("object-01") = 3c0ff424... ; path is tuples + full digest
	is.True(len(got) > 0)
	parts := 0
	for _, c := range got {
		if c == '/' {
			parts++
		}
	}
	is.Equal(parts, 3) // 3 tuple dirs + final full digest dir

	short := layout.NewLayoutHashedNTuple()
	short.ShortObjectRoot = true
	gotShort, err := short.Resolve("object-01")
	is.NoErr(err)
	is.True(len(gotShort) < len(got))
}

func TestLayoutHashedNTupleIDTruncates(t *testing.T) {
	is := is.New(t)
	l := layout.NewLayoutHashedNTupleID()
	longID := ""
	for i := 0; i < 150; i++ {
		longID += "x"
	}
	got, err := l.Resolve(longID)
	is.NoErr(err)
	is.True(len(got) > 0)
	// encapsulation dir: first 100 chars of the id, "-", sha256 hex digest
	last := got[strings.LastIndex(got, "/")+1:]
	is.Equal(len(last), 100+1+64)
	is.True(strings.HasPrefix(last, strings.Repeat("x", 100)+"-"))
}

func TestLayoutFlatOmitPrefix(t *testing.T) {
	is := is.New(t)
	l := layout.NewLayoutFlatOmitPrefix()
	l.Delimiter = "edu/"
	got, err := l.Resolve("https://example.edu/ark:123/456")
	is.NoErr(err)
	is.Equal(got, "ark:123/456")

	_, err = l.Resolve("noprefix")
	is.True(err == nil) // no delimiter match: whole id is used
}

func TestLayoutNTupleOmitPrefix(t *testing.T) {
	is := is.New(t)
	l := layout.NewLayoutNTupleOmitPrefix()
	got, err := l.Resolve("ark:123456")
	is.NoErr(err)
	is.Equal(got, "000/123/456/123456")
}

func TestGetUnknown(t *testing.T) {
	is := is.New(t)
	_, err := layout.Get("nope")
	is.True(err != nil)
}

func TestMarshalYAMLRoundTrip(t *testing.T) {
	is := is.New(t)
	l := layout.NewLayoutFlatOmitPrefix()
	l.Delimiter = "edu/"

	raw, err := layout.MarshalYAML(l)
	is.NoErr(err)

	got, err := layout.UnmarshalYAML(raw)
	is.NoErr(err)
	is.Equal(got.Name(), layout.FlatOmitPrefix)

	resolved, err := got.Resolve("https://example.edu/ark:123/456")
	is.NoErr(err)
	is.Equal(resolved, "ark:123/456")
}
