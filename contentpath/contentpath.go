// Package contentpath maps the logical paths a caller contributes to a new
// version onto content paths relative to the object root, applying a
// sanitizer and a path-constraint profile along the way (component 6).
//
// The mapping is deliberately dumb: logical path in, content path out,
// same string unless the sanitizer percent-encodes a Windows-reserved
// character, which it does under every profile. Mirrors ocflv1.ContentPathFunc / DefaultContentPathFunc
// and its vN/contentDirectory join in buildManifestNext, generalized to a
// configurable constraint profile where that join is hard-coded.
package contentpath

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dcsio/ocflcore/inventory"
	"github.com/dcsio/ocflcore/ocflerr"
)

// Profile names a content-path constraint set.
type Profile string

const (
	// ProfileCloud forbids leading/trailing slashes, the characters
	// <>:"|?* and any control character, matching object-key
	// restrictions common to S3-compatible stores.
	ProfileCloud Profile = "cloud"
	// ProfileMinimal forbids only empty segments and "." / "..".
	ProfileMinimal Profile = "minimal"
)

const windowsReserved = `<>:"|?*`

// Mapper produces content paths for a target version (or mutable HEAD
// revision) under a fixed content directory and constraint profile.
type Mapper struct {
	ContentDirectory string
	Profile          Profile
}

// New returns a Mapper. An empty contentDir defaults to
// inventory.DefaultContentDirectory; an empty profile defaults to
// ProfileCloud, the stricter of the two.
func New(contentDir string, profile Profile) *Mapper {
	if contentDir == "" {
		contentDir = inventory.DefaultContentDirectory
	}
	if profile == "" {
		profile = ProfileCloud
	}
	return &Mapper{ContentDirectory: contentDir, Profile: profile}
}

// ContentPath returns the content path for logical under the given sealed
// version. It sanitizes logical, composes the version-relative path, and
// validates the result against the active profile.
func (m *Mapper) ContentPath(v inventory.VNum, logical string) (string, error) {
	sanitized, err := sanitize(logical)
	if err != nil {
		return "", err
	}
	p := path.Join(v.String(), m.ContentDirectory, sanitized)
	if err := m.checkProfile(p); err != nil {
		return "", err
	}
	return p, nil
}

// MutableHeadContentPath returns the content path for logical under
// revision r of the object's mutable HEAD.
func (m *Mapper) MutableHeadContentPath(r int, logical string) (string, error) {
	sanitized, err := sanitize(logical)
	if err != nil {
		return "", err
	}
	p := path.Join(inventory.MutableHeadDir, "head", m.ContentDirectory, "r"+strconv.Itoa(r), sanitized)
	if err := m.checkProfile(p); err != nil {
		return "", err
	}
	return p, nil
}

// sanitize applies the logical-path sanitizer: it rejects empty segments,
// ".", "..", and any embedded backslash, and percent-encodes characters
// that are reserved on Windows (< > : " | ? *) so the result is safe to
// use as a content path on any backend.
func sanitize(logical string) (string, error) {
	if logical == "" {
		return "", &ocflerr.PathConstraintError{Path: logical, Reason: "empty logical path"}
	}
	if strings.Contains(logical, `\`) {
		return "", &ocflerr.PathConstraintError{Path: logical, Reason: "embedded backslash"}
	}
	segs := strings.Split(logical, "/")
	out := make([]string, len(segs))
	for i, seg := range segs {
		switch seg {
		case "":
			return "", &ocflerr.PathConstraintError{Path: logical, Reason: "empty path segment"}
		case ".", "..":
			return "", &ocflerr.PathConstraintError{Path: logical, Reason: fmt.Sprintf("dot segment %q", seg)}
		}
		out[i] = percentEncodeReserved(seg)
	}
	return strings.Join(out, "/"), nil
}

func percentEncodeReserved(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(windowsReserved, r) {
			fmt.Fprintf(&b, "%%%02X", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// checkProfile validates a fully composed content path against the active
// constraint profile.
func (m *Mapper) checkProfile(p string) error {
	switch m.Profile {
	case ProfileMinimal:
		return checkMinimal(p)
	default:
		return checkCloud(p)
	}
}

func checkMinimal(p string) error {
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return &ocflerr.PathConstraintError{Path: p, Reason: "empty path segment"}
		case ".", "..":
			return &ocflerr.PathConstraintError{Path: p, Reason: fmt.Sprintf("dot segment %q", seg)}
		}
	}
	return nil
}

func checkCloud(p string) error {
	if strings.HasPrefix(p, "/") {
		return &ocflerr.PathConstraintError{Path: p, Reason: "leading slash"}
	}
	if strings.HasSuffix(p, "/") {
		return &ocflerr.PathConstraintError{Path: p, Reason: "trailing slash"}
	}
	if err := checkMinimal(p); err != nil {
		return err
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return &ocflerr.PathConstraintError{Path: p, Reason: "control character"}
		}
		if strings.ContainsRune(windowsReserved, r) {
			return &ocflerr.PathConstraintError{Path: p, Reason: fmt.Sprintf("disallowed character %q", r)}
		}
	}
	return nil
}
