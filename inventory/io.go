package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/dcsio/ocflcore/digest"
	"github.com/dcsio/ocflcore/ocflerr"
	"github.com/dcsio/ocflcore/storage"
)

// MutableHeadDir is the extension directory name for the mutable HEAD
// extension, relative to an object root.
const MutableHeadDir = "extensions/0005-mutable-head"

// Read loads and validates the inventory at dir/inventory.json, checking
// its bytes against whichever dir/inventory.json.<alg> sidecar is
// present. dir is usually an object root or a version directory.
func Read(ctx context.Context, st storage.Storage, dir string) (*Snapshot, error) {
	entries, err := st.ListDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}
	var sidecarAlg string
	for _, e := range entries {
		if name, ok := strings.CutPrefix(e.Name, InventoryFile+"."); ok {
			sidecarAlg = name
			break
		}
	}
	if sidecarAlg == "" {
		return nil, fmt.Errorf("%w: missing inventory sidecar in %s", ocflerr.ErrCorrupt, dir)
	}
	return readWithAlg(ctx, st, dir, sidecarAlg)
}

func readWithAlg(ctx context.Context, st storage.Storage, dir, sidecarAlg string) (*Snapshot, error) {
	invPath := path.Join(dir, InventoryFile)
	raw, err := st.ReadToString(ctx, invPath)
	if err != nil {
		return nil, err
	}
	sidecar, err := st.ReadToString(ctx, path.Join(dir, SidecarName(sidecarAlg)))
	if err != nil {
		return nil, fmt.Errorf("%w: reading inventory sidecar: %s", ocflerr.ErrCorrupt, err)
	}
	expected, err := ParseSidecar(sidecar)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ocflerr.ErrCorrupt, err)
	}
	alg, err := digest.NewRegistry().Get(sidecarAlg)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown sidecar algorithm %q", ocflerr.ErrCorrupt, sidecarAlg)
	}
	d := alg.New()
	if _, err := d.Write([]byte(raw)); err != nil {
		return nil, err
	}
	got := d.String()
	if !strings.EqualFold(got, expected) {
		return nil, fmt.Errorf("%w: inventory digest mismatch in %s: got %s, want %s", ocflerr.ErrCorrupt, dir, got, expected)
	}
	var inv Inventory
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		return nil, fmt.Errorf("%w: decoding inventory: %s", ocflerr.ErrCorrupt, err)
	}
	return &Snapshot{Inventory: &inv, Digest: got}, nil
}

// ReadMutableHead loads the in-progress inventory from an object's
// mutable HEAD extension, along with its current revision number.
func ReadMutableHead(ctx context.Context, st storage.Storage, objectRoot string) (*Snapshot, error) {
	headDir := path.Join(objectRoot, MutableHeadDir, "head")
	snap, err := Read(ctx, st, headDir)
	if err != nil {
		return nil, err
	}
	snap.MutableHead = true
	rev, err := LatestRevision(ctx, st, objectRoot)
	if err != nil {
		return nil, err
	}
	snap.Revision = rev
	return snap, nil
}

// LatestRevision returns the highest revision number recorded under the
// mutable HEAD's revisions directory, or 0 if none exist.
func LatestRevision(ctx context.Context, st storage.Storage, objectRoot string) (int, error) {
	revDir := path.Join(objectRoot, MutableHeadDir, "revisions")
	exists, err := st.DirectoryExists(ctx, revDir)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	entries, err := st.ListDirectory(ctx, revDir)
	if err != nil {
		return 0, err
	}
	var revs []int
	for _, e := range entries {
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name, "r"))
		if err != nil {
			continue
		}
		revs = append(revs, n)
	}
	if len(revs) == 0 {
		return 0, nil
	}
	sort.Ints(revs)
	return revs[len(revs)-1], nil
}

// Write marshals inv to JSON and writes it, plus its sidecar, to every
// directory in dirs. It returns the inventory's hex digest.
func Write(ctx context.Context, st storage.Storage, inv *Inventory, dirs ...string) (string, error) {
	alg, err := inv.Alg()
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding inventory: %w", err)
	}
	d := alg.New()
	if _, err := d.Write(raw); err != nil {
		return "", err
	}
	sum := d.String()
	sidecar := FormatSidecar(sum)
	for _, dir := range dirs {
		if _, err := st.Write(ctx, path.Join(dir, InventoryFile), bytes.NewReader(raw), "application/json"); err != nil {
			return "", fmt.Errorf("writing inventory: %w", err)
		}
		if _, err := st.Write(ctx, path.Join(dir, SidecarName(inv.DigestAlgorithm)), strings.NewReader(sidecar), "text/plain"); err != nil {
			return "", fmt.Errorf("writing inventory sidecar: %w", err)
		}
	}
	return sum, nil
}
