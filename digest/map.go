package digest

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/exp/slices"
)

var digestRegexp = regexp.MustCompile("^[0-9a-fA-F]+$")

// Map is a digest-to-paths structure: it backs the inventory manifest
// (digest -> content paths), the per-algorithm fixity block (digest ->
// content paths), and a version's state (digest -> logical paths).
// Normalize and Merge sort each digest's path list so two builds of the
// same logical content produce byte-identical inventory.json output.
type Map map[string][]string

// Add associates path with digest. It returns an error if path is already
// present under any digest.
func (m *Map) Add(digest, path string) error {
	if existing := m.PathDigest(path); existing != "" {
		return fmt.Errorf("path already present in map: %q", path)
	}
	if *m == nil {
		*m = Map{}
	}
	(*m)[digest] = append((*m)[digest], path)
	return nil
}

// PathDigest returns the digest associated with path, or "" if path isn't
// present.
func (m Map) PathDigest(path string) string {
	for d, paths := range m {
		for _, p := range paths {
			if p == path {
				return d
			}
		}
	}
	return ""
}

// DigestPaths returns the paths associated with digest, case-insensitively.
func (m Map) DigestPaths(digest string) []string {
	for d, paths := range m {
		if strings.EqualFold(d, digest) {
			return paths
		}
	}
	return nil
}

// Paths returns a path -> digest view of the map. An error is returned if
// the same path appears under more than one digest.
func (m Map) Paths() (map[string]string, error) {
	out := make(map[string]string, len(m))
	for d, paths := range m {
		for _, p := range paths {
			if _, exists := out[p]; exists {
				return nil, fmt.Errorf("duplicate path in digest map: %q", p)
			}
			out[p] = d
		}
	}
	return out, nil
}

// Normalize returns a copy of m with all digest keys lower-cased and
// validated as hex strings, merging entries that collide after
// normalization. It returns an error if two paths collide (one used as a
// directory prefix of the other, or literal duplicates) or a digest key
// isn't valid hex.
func (m Map) Normalize() (Map, error) {
	if m == nil {
		return nil, fmt.Errorf("digest map is nil")
	}
	out := make(Map, len(m))
	seenPaths := make(map[string]bool)
	for d, paths := range m {
		if !digestRegexp.MatchString(d) {
			return nil, fmt.Errorf("invalid digest value: %q", d)
		}
		lower := strings.ToLower(d)
		for _, p := range paths {
			if err := validLogicalPath(p); err != nil {
				return nil, err
			}
			if seenPaths[p] {
				return nil, fmt.Errorf("duplicate path in digest map: %q", p)
			}
			seenPaths[p] = true
			out[lower] = append(out[lower], p)
		}
	}
	for p := range seenPaths {
		for i := strings.LastIndex(p, "/"); i > 0; i = strings.LastIndex(p[:i], "/") {
			if seenPaths[p[:i]] {
				return nil, fmt.Errorf("path conflict in digest map: %q is a directory prefix of %q", p[:i], p)
			}
		}
	}
	for _, paths := range out {
		slices.Sort(paths)
	}
	return out, nil
}

// Valid reports whether m normalizes without error.
func (m Map) Valid() error {
	_, err := m.Normalize()
	return err
}

// Merge returns a new Map containing every entry of m plus every entry of
// other whose path is not already present in m (m's entries win ties,
// matching deduplication across versions: a digest already recorded for a
// path from an earlier version is never overwritten by a later one).
func (m Map) Merge(other Map) Map {
	out := make(Map, len(m))
	seen := make(map[string]bool)
	for d, paths := range m {
		out[d] = append([]string(nil), paths...)
		for _, p := range paths {
			seen[p] = true
		}
	}
	for d, paths := range other {
		for _, p := range paths {
			if seen[p] {
				continue
			}
			out[d] = append(out[d], p)
			seen[p] = true
		}
	}
	for _, paths := range out {
		slices.Sort(paths)
	}
	return out
}

func validLogicalPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path in digest map")
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".", "..":
			return fmt.Errorf("invalid path segment %q in %q", seg, p)
		}
	}
	return nil
}
