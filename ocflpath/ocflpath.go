// Package ocflpath provides path utilities over the '/'-separated logical
// path space used throughout the storage engine: joining with
// normalization, stripping slashes, parent/relative computation. All
// functions operate on strings independent of any backend or OS path
// convention; the storage capability is responsible for translating to
// OS-specific paths where needed (see storage/local).
package ocflpath

import (
	"path"
	"strings"
)

// Join joins elements into a single '/'-separated path, cleaning the
// result the way path.Join does but additionally stripping any leading or
// trailing slash so the result is always relative.
func Join(elem ...string) string {
	joined := path.Join(elem...)
	return Clean(joined)
}

// Clean strips leading/trailing slashes and collapses "." to "".
func Clean(p string) string {
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// StripSlashes removes leading and trailing slashes from p without
// otherwise altering it (no "." collapsing, no dot-segment resolution).
func StripSlashes(p string) string {
	return strings.Trim(p, "/")
}

// Parent returns the parent directory of p, or "" if p has no parent
// (is a top-level entry).
func Parent(p string) string {
	p = Clean(p)
	dir := path.Dir(p)
	return Clean(dir)
}

// Rel returns p relative to base. Both must be cleaned logical paths; Rel
// returns p unchanged if it does not have base as a prefix.
func Rel(base, p string) string {
	base = Clean(base)
	p = Clean(p)
	if base == "" {
		return p
	}
	prefix := base + "/"
	if !strings.HasPrefix(p, prefix) {
		return p
	}
	return strings.TrimPrefix(p, prefix)
}

// Segments splits a cleaned logical path into its '/'-separated
// components. An empty path yields a nil slice.
func Segments(p string) []string {
	p = Clean(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Valid reports whether p is a well-formed logical path: non-empty,
// relative, with no "." or ".." segments and no empty segments (which
// would arise from "//").
func Valid(p string) bool {
	if p == "" {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".", "..":
			return false
		}
	}
	return true
}
