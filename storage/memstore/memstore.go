// Package memstore implements the Storage capability entirely in memory,
// for use in package tests that exercise the engine without touching a
// filesystem.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/dcsio/ocflcore/storage"
)

// Store is a storage.Storage backed by a map of key to bytes, guarded by
// a single mutex. It has no notion of empty directories: a "directory"
// exists only as the common prefix of the files within it.
type Store struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ storage.Storage = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{files: make(map[string][]byte)}
}

func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchFile, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

func (s *Store) ReadToString(ctx context.Context, key string) (string, error) {
	r, err := s.Read(ctx, key)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) Write(ctx context.Context, key string, r io.Reader, mediaType string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.files[key] = data
	s.mu.Unlock()
	return int64(len(data)), nil
}

func (s *Store) CopyFileInternal(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[src]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNoSuchFile, src)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.files[dst] = cp
	return nil
}

func (s *Store) CopyFileInto(ctx context.Context, localPath, dst, mediaType string) error {
	return errors.New("memstore: CopyFileInto requires a real filesystem path, not supported")
}

func (s *Store) CopyDirectoryOutOf(ctx context.Context, srcPrefix, localDir string) error {
	return errors.New("memstore: CopyDirectoryOutOf requires a real filesystem path, not supported")
}

func (s *Store) MoveDirectoryInto(ctx context.Context, localDir, dst string) error {
	return errors.New("memstore: MoveDirectoryInto requires a real filesystem path, not supported")
}

func (s *Store) MoveDirectoryInternal(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srcPrefix := src + "/"
	dstPrefix := dst + "/"
	if strings.HasPrefix(dst, srcPrefix) {
		return fmt.Errorf("cannot move %s into its own subdirectory", src)
	}
	for k := range s.files {
		if strings.HasPrefix(k, dstPrefix) || k == dst {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, dst)
		}
	}
	moved := make(map[string][]byte)
	for k, v := range s.files {
		if k == src || strings.HasPrefix(k, srcPrefix) {
			rel := strings.TrimPrefix(k, src)
			moved[dst+rel] = v
		}
	}
	if len(moved) == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNoSuchFile, src)
	}
	for k := range moved {
		_ = k
	}
	for k := range s.files {
		if k == src || strings.HasPrefix(k, srcPrefix) {
			delete(s.files, k)
		}
	}
	for k, v := range moved {
		s.files[k] = v
	}
	return nil
}

func (s *Store) ListDirectory(ctx context.Context, prefix string) ([]storage.DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := strings.TrimSuffix(prefix, "/")
	seen := make(map[string]storage.EntryKind)
	found := false
	for k := range s.files {
		rel := k
		if p != "" && p != "." {
			if !strings.HasPrefix(k, p+"/") {
				continue
			}
			rel = strings.TrimPrefix(k, p+"/")
		}
		found = true
		if idx := strings.Index(rel, "/"); idx >= 0 {
			seen[rel[:idx]] = storage.KindDirectory
		} else {
			if _, ok := seen[rel]; !ok {
				seen[rel] = storage.KindFile
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchFile, prefix)
	}
	out := make([]storage.DirEntry, 0, len(seen))
	for name, kind := range seen {
		out = append(out, storage.DirEntry{Name: name, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListRecursive(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := strings.TrimSuffix(prefix, "/")
	var out []string
	for k := range s.files {
		if p == "" || p == "." || k == p || strings.HasPrefix(k, p+"/") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) FileExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[key]
	return ok, nil
}

func (s *Store) DirectoryExists(ctx context.Context, prefix string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := strings.TrimSuffix(prefix, "/") + "/"
	for k := range s.files {
		if strings.HasPrefix(k, p) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteFile(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

func (s *Store) DeleteFiles(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.files, k)
	}
	return nil
}

func (s *Store) DeleteDirectory(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := strings.TrimSuffix(prefix, "/") + "/"
	for k := range s.files {
		if strings.HasPrefix(k, p) || k == prefix {
			delete(s.files, k)
		}
	}
	return nil
}

// DeleteEmptyDirsUp and DeleteEmptyDirsDown are no-ops: the store has no
// notion of an empty directory since directories are implicit in key
// prefixes.
func (s *Store) DeleteEmptyDirsUp(ctx context.Context, prefix string) error   { return nil }
func (s *Store) DeleteEmptyDirsDown(ctx context.Context, prefix string) error { return nil }

const objectMarkerPrefix = "0=ocfl_object_"

func (s *Store) IterateObjects(ctx context.Context, root string) iter.Seq2[storage.ObjectRoot, error] {
	return func(yield func(storage.ObjectRoot, error) bool) {
		s.mu.RLock()
		markers := make([]string, 0)
		markerDirs := make(map[string]bool)
		for k := range s.files {
			base, dir := k, ""
			if idx := strings.LastIndex(k, "/"); idx >= 0 {
				base, dir = k[idx+1:], k[:idx]
			}
			if strings.HasPrefix(base, objectMarkerPrefix) {
				markers = append(markers, k)
				markerDirs[dir] = true
			}
		}
		s.mu.RUnlock()
		sort.Strings(markers)
		p := strings.TrimSuffix(root, "/")
		for _, k := range markers {
			dir := ""
			base := k
			if idx := strings.LastIndex(k, "/"); idx >= 0 {
				dir = k[:idx]
				base = k[idx+1:]
			}
			if p != "" && p != "." && !strings.HasPrefix(dir, p) {
				continue
			}
			nested := false
			for d := dir; strings.Contains(d, "/") && d != p; {
				d = d[:strings.LastIndex(d, "/")]
				if markerDirs[d] {
					nested = true
					break
				}
			}
			if nested {
				continue
			}
			version := strings.TrimPrefix(base, objectMarkerPrefix)
			if !yield(storage.ObjectRoot{Prefix: dir, Version: version}, nil) {
				return
			}
		}
	}
}

// CreateDirectories is a no-op: the store's keyspace is flat.
func (s *Store) CreateDirectories(ctx context.Context, prefix string) error { return nil }
