package inventory

import (
	"fmt"
	"strings"
)

// SidecarName returns the sidecar file name for an inventory stored under
// the given digest algorithm, e.g. "inventory.json.sha512".
func SidecarName(alg string) string {
	return InventoryFile + "." + alg
}

// FormatSidecar renders the sidecar file contents: hex digest, two
// spaces, the inventory file name, and a trailing newline.
func FormatSidecar(hexDigest string) string {
	return hexDigest + "  " + InventoryFile + "\n"
}

// ParseSidecar extracts the hex digest from sidecar file contents. Per
// the sidecar format, the digest is the first whitespace-delimited
// token.
func ParseSidecar(contents string) (string, error) {
	fields := strings.Fields(contents)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty inventory sidecar")
	}
	return fields[0], nil
}
