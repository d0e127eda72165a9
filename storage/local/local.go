// Package local implements the Storage capability (spec §4.1) over a
// directory on the local filesystem, using atomic os.Rename for directory
// moves where possible and falling back to recursive copy+remove across
// volumes.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dcsio/ocflcore/storage"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// Backend is a storage.Storage implementation rooted at a directory on
// the local filesystem.
type Backend struct {
	root string
}

var _ storage.Storage = (*Backend)(nil)

// New returns a Backend rooted at root. The directory is created if it
// does not already exist.
func New(root string) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	return &Backend{root: abs}, nil
}

// Root returns the backend's base directory.
func (b *Backend) Root() string { return b.root }

func (b *Backend) native(key string) (string, error) {
	if !fs.ValidPath(key) {
		return "", &fs.PathError{Op: "key", Path: key, Err: errors.New("invalid path")}
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

func (b *Backend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := b.native(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchFile, key)
	}
	return f, err
}

func (b *Backend) ReadToString(ctx context.Context, key string) (string, error) {
	r, err := b.Read(ctx, key)
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

func (b *Backend) Write(ctx context.Context, key string, r io.Reader, mediaType string) (int64, error) {
	p, err := b.native(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Backend) CopyFileInternal(ctx context.Context, src, dst string) error {
	srcPath, err := b.native(src)
	if err != nil {
		return err
	}
	f, err := os.Open(srcPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", storage.ErrNoSuchFile, src)
	}
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.Write(ctx, dst, f, "")
	return err
}

func (b *Backend) CopyFileInto(ctx context.Context, localPath, dst, mediaType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.Write(ctx, dst, f, mediaType)
	return err
}

func (b *Backend) CopyDirectoryOutOf(ctx context.Context, srcPrefix, localDir string) error {
	keys, err := b.ListRecursive(ctx, srcPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, srcPrefix+"/")
		dstPath := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dstPath), dirPerm); err != nil {
			return err
		}
		r, err := b.Read(ctx, key)
		if err != nil {
			return err
		}
		if err := writeLocalFile(dstPath, r); err != nil {
			r.Close()
			return err
		}
		r.Close()
	}
	return nil
}

func writeLocalFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := bufio.NewWriter(f)
	if _, err := io.Copy(buf, r); err != nil {
		return err
	}
	return buf.Flush()
}

func (b *Backend) MoveDirectoryInto(ctx context.Context, localDir, dst string) error {
	dstPath, err := b.native(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), dirPerm); err != nil {
		return err
	}
	if err := os.Rename(localDir, dstPath); err == nil {
		return nil
	}
	// cross-device: fall back to recursive copy, then remove source.
	if err := copyTree(localDir, dstPath); err != nil {
		os.RemoveAll(dstPath)
		return err
	}
	return os.RemoveAll(localDir)
}

func (b *Backend) MoveDirectoryInternal(ctx context.Context, src, dst string) error {
	srcPath, err := b.native(src)
	if err != nil {
		return err
	}
	dstPath, err := b.native(dst)
	if err != nil {
		return err
	}
	if strings.HasPrefix(dstPath, srcPath+string(filepath.Separator)) {
		return fmt.Errorf("cannot move %s into its own subdirectory", src)
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), dirPerm); err != nil {
		return err
	}
	if err := os.Rename(srcPath, dstPath); err == nil {
		return nil
	}
	if err := copyTree(srcPath, dstPath); err != nil {
		os.RemoveAll(dstPath)
		return err
	}
	return os.RemoveAll(srcPath)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		return writeLocalFile(target, in)
	})
}

func (b *Backend) ListDirectory(ctx context.Context, prefix string) ([]storage.DirEntry, error) {
	p, err := b.native(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchFile, prefix)
	}
	if err != nil {
		return nil, err
	}
	out := make([]storage.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := storage.KindFile
		if e.IsDir() {
			kind = storage.KindDirectory
		}
		out = append(out, storage.DirEntry{Name: e.Name(), Kind: kind})
	}
	return out, nil
}

func (b *Backend) ListRecursive(ctx context.Context, prefix string) ([]string, error) {
	p, err := b.native(prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.Walk(p, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (b *Backend) FileExists(ctx context.Context, key string) (bool, error) {
	p, err := b.native(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (b *Backend) DirectoryExists(ctx context.Context, prefix string) (bool, error) {
	p, err := b.native(prefix)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (b *Backend) DeleteFile(ctx context.Context, key string) error {
	p, err := b.native(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *Backend) DeleteFiles(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := b.DeleteFile(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, prefix string) error {
	if prefix == "" || prefix == "." {
		return errors.New("refusing to delete backend root")
	}
	p, err := b.native(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}

func (b *Backend) DeleteEmptyDirsUp(ctx context.Context, prefix string) error {
	p, err := b.native(prefix)
	if err != nil {
		return err
	}
	for {
		if p == b.root {
			return nil
		}
		entries, err := os.ReadDir(p)
		if errors.Is(err, os.ErrNotExist) {
			p = filepath.Dir(p)
			continue
		}
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return err
		}
		p = filepath.Dir(p)
	}
}

func (b *Backend) DeleteEmptyDirsDown(ctx context.Context, prefix string) error {
	p, err := b.native(prefix)
	if err != nil {
		return err
	}
	var dirs []string
	err = filepath.Walk(p, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if d == b.root {
			continue
		}
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			os.Remove(d)
		}
	}
	return nil
}

const objectMarkerPrefix = "0=ocfl_object_"

func (b *Backend) IterateObjects(ctx context.Context, root string) iter.Seq2[storage.ObjectRoot, error] {
	return func(yield func(storage.ObjectRoot, error) bool) {
		p, err := b.native(root)
		if err != nil {
			yield(storage.ObjectRoot{}, err)
			return
		}
		var walk func(dir string) bool
		walk = func(dir string) bool {
			entries, err := os.ReadDir(dir)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return true
				}
				return yield(storage.ObjectRoot{}, err)
			}
			for _, e := range entries {
				if !e.IsDir() && strings.HasPrefix(e.Name(), objectMarkerPrefix) {
					rel, err := filepath.Rel(b.root, dir)
					if err != nil {
						return yield(storage.ObjectRoot{}, err)
					}
					version := strings.TrimPrefix(e.Name(), objectMarkerPrefix)
					if !yield(storage.ObjectRoot{Prefix: filepath.ToSlash(rel), Version: version}, nil) {
						return false
					}
					return true
				}
			}
			for _, e := range entries {
				if e.IsDir() {
					if !walk(filepath.Join(dir, e.Name())) {
						return false
					}
				}
			}
			return true
		}
		walk(p)
	}
}

func (b *Backend) CreateDirectories(ctx context.Context, prefix string) error {
	p, err := b.native(prefix)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, dirPerm)
}
