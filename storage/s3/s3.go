// Package s3 implements the Storage capability over an S3-compatible
// object store using aws-sdk-go-v2. Directory moves are synthesized as
// per-key copy-then-delete since object stores have no rename primitive;
// large objects are copied with a multipart copy to stay under the
// single-part CopyObject size ceiling.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/dcsio/ocflcore/storage"
)

const (
	megabyte           int64 = 1024 * 1024
	partSizeIncrement        = 1 * megabyte
	copySrcTooLarge          = "copy source is larger than the maximum allowable size"
	copyPartConcurrency      = 6
	copyPartSize             = 32 * megabyte
)

var (
	delim         = "/"
	maxKeys int32 = 1000
)

// API is the subset of the S3 client used by Backend. Satisfied by
// *s3.Client.
type API interface {
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(context.Context, *s3.UploadPartCopyInput, ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Backend is a storage.Storage implementation over an S3 bucket, with all
// keys relative to an optional prefix.
type Backend struct {
	api      API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ storage.Storage = (*Backend)(nil)

// New returns a Backend for the given bucket. prefix, if non-empty, is
// prepended to every key (a "subdirectory" within the bucket).
func New(api API, bucket, prefix string) *Backend {
	return &Backend{
		api:      api,
		uploader: manager.NewUploader(api.(manager.UploadAPIClient)),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (b *Backend) fullKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func errIsNotExist(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NotFound
	return errors.As(err, &nsb)
}

func (b *Backend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	fk := b.fullKey(key)
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &fk})
	if err != nil {
		if errIsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchFile, key)
		}
		return nil, err
	}
	return out.Body, nil
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
	fk := b.fullKey(key)
	counted := &countReader{Reader: r}
	input := &s3.PutObjectInput{Bucket: &b.bucket, Key: &fk, Body: counted}
	if mediaType != "" {
		input.ContentType = &mediaType
	}
	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	return counted.size, nil
}

type countReader struct {
	io.Reader
	size int64
}

func (r *countReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.size += int64(n)
	return n, err
}

func (b *Backend) CopyFileInternal(ctx context.Context, src, dst string) error {
	fsrc, fdst := b.fullKey(src), b.fullKey(dst)
	head, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &fsrc})
	if err != nil {
		if errIsNotExist(err) {
			return fmt.Errorf("%w: %s", storage.ErrNoSuchFile, src)
		}
		return err
	}
	escaped := url.QueryEscape(b.bucket + "/" + fsrc)
	_, err = b.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &b.bucket,
		CopySource: &escaped,
		Key:        &fdst,
	})
	if err != nil {
		if strings.Contains(err.Error(), copySrcTooLarge) {
			return b.multipartCopy(ctx, fdst, fsrc, head)
		}
		return err
	}
	return nil
}

func (b *Backend) multipartCopy(ctx context.Context, dst, src string, head *s3.HeadObjectOutput) error {
	if head.ContentLength == nil {
		return fmt.Errorf("copy %s: missing content length", src)
	}
	srcSize := *head.ContentLength
	psize, pcount := adjustPartSize(srcSize, copyPartSize, manager.MaxUploadParts)
	completed := make([]types.CompletedPart, pcount)
	newUp, err := b.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{Bucket: &b.bucket, Key: &dst})
	if err != nil {
		return err
	}
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(copyPartConcurrency)
	copySource := url.QueryEscape(b.bucket + "/" + src)
	for i := int32(0); i < pcount; i++ {
		grp.Go(func() error {
			partNum := i + 1
			rng := byteRange(partNum, psize, srcSize)
			result, err := b.api.UploadPartCopy(grpCtx, &s3.UploadPartCopyInput{
				Bucket:          &b.bucket,
				CopySource:      &copySource,
				Key:             &dst,
				UploadId:        newUp.UploadId,
				PartNumber:      &partNum,
				CopySourceRange: &rng,
			})
			if err != nil {
				return err
			}
			completed[i] = types.CompletedPart{PartNumber: &partNum, ETag: result.CopyPartResult.ETag}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		b.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{Bucket: &b.bucket, Key: &dst, UploadId: newUp.UploadId})
		return err
	}
	_, err = b.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &b.bucket,
		Key:             &dst,
		UploadId:        newUp.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	return err
}

func adjustPartSize(totalSize, initialPartSize int64, maxParts int32) (psize int64, pcount int32) {
	psize = initialPartSize
	for {
		pcount = int32(totalSize / psize)
		if pcount < maxParts {
			break
		}
		psize += partSizeIncrement
	}
	if totalSize%psize != 0 {
		pcount++
	}
	if pcount == 0 {
		pcount = 1
	}
	return
}

func byteRange(partNum int32, partSize, totalSize int64) string {
	start := int64(partNum-1) * partSize
	end := start + partSize - 1
	if end >= totalSize {
		end = totalSize - 1
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
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
		dstPath := path.Join(localDir, rel)
		if err := os.MkdirAll(path.Dir(dstPath), 0755); err != nil {
			return err
		}
		r, err := b.Read(ctx, key)
		if err != nil {
			return err
		}
		f, ferr := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if ferr != nil {
			r.Close()
			return ferr
		}
		_, cerr := io.Copy(f, r)
		r.Close()
		f.Close()
		if cerr != nil {
			return cerr
		}
	}
	return nil
}

func (b *Backend) MoveDirectoryInto(ctx context.Context, localDir, dst string) error {
	exists, err := b.DirectoryExists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, dst)
	}
	var uploaded []string
	err = fsWalk(localDir, func(relPath, fullPath string) error {
		dstKey := path.Join(dst, relPath)
		if cerr := b.CopyFileInto(ctx, fullPath, dstKey, ""); cerr != nil {
			return cerr
		}
		uploaded = append(uploaded, fullPath)
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range uploaded {
		os.Remove(p)
	}
	return nil
}

func fsWalk(root string, fn func(relPath, fullPath string) error) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := path.Join(root, e.Name())
		if e.IsDir() {
			if err := fsWalk(full, func(rel, fp string) error {
				return fn(path.Join(e.Name(), rel), fp)
			}); err != nil {
				return err
			}
			continue
		}
		if err := fn(e.Name(), full); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) MoveDirectoryInternal(ctx context.Context, src, dst string) error {
	exists, err := b.DirectoryExists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, dst)
	}
	keys, err := b.ListRecursive(ctx, src)
	if err != nil {
		return err
	}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, src+"/")
		dstKey := path.Join(dst, rel)
		if err := b.CopyFileInternal(ctx, key, dstKey); err != nil {
			return err
		}
	}
	return b.DeleteDirectory(ctx, src)
}

func (b *Backend) ListDirectory(ctx context.Context, prefix string) ([]storage.DirEntry, error) {
	fp := b.fullKey(prefix)
	params := &s3.ListObjectsV2Input{Bucket: &b.bucket, Delimiter: &delim, MaxKeys: &maxKeys}
	if prefix != "" && prefix != "." {
		params.Prefix = aws.String(fp + "/")
	}
	var out []storage.DirEntry
	found := false
	for {
		list, err := b.api.ListObjectsV2(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(list.CommonPrefixes) > 0 || len(list.Contents) > 0 {
			found = true
		}
		for _, cp := range list.CommonPrefixes {
			out = append(out, storage.DirEntry{Name: path.Base(strings.TrimSuffix(*cp.Prefix, "/")), Kind: storage.KindDirectory})
		}
		for _, obj := range list.Contents {
			out = append(out, storage.DirEntry{Name: path.Base(*obj.Key), Kind: storage.KindFile})
		}
		params.ContinuationToken = list.NextContinuationToken
		if params.ContinuationToken == nil {
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchFile, prefix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) ListRecursive(ctx context.Context, prefix string) ([]string, error) {
	fp := b.fullKey(prefix)
	params := &s3.ListObjectsV2Input{Bucket: &b.bucket, MaxKeys: &maxKeys}
	if prefix != "" && prefix != "." {
		params.Prefix = aws.String(fp + "/")
	}
	var out []string
	for {
		list, err := b.api.ListObjectsV2(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, obj := range list.Contents {
			key := *obj.Key
			if b.prefix != "" {
				key = strings.TrimPrefix(key, b.prefix+"/")
			}
			out = append(out, key)
		}
		params.ContinuationToken = list.NextContinuationToken
		if params.ContinuationToken == nil {
			break
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) FileExists(ctx context.Context, key string) (bool, error) {
	fk := b.fullKey(key)
	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &fk})
	if err != nil {
		if errIsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) DirectoryExists(ctx context.Context, prefix string) (bool, error) {
	fp := b.fullKey(prefix)
	one := int32(1)
	params := &s3.ListObjectsV2Input{Bucket: &b.bucket, MaxKeys: &one}
	if prefix != "" && prefix != "." {
		params.Prefix = aws.String(fp + "/")
	}
	list, err := b.api.ListObjectsV2(ctx, params)
	if err != nil {
		return false, err
	}
	return len(list.Contents) > 0, nil
}

func (b *Backend) DeleteFile(ctx context.Context, key string) error {
	fk := b.fullKey(key)
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &fk})
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
	fp := b.fullKey(prefix)
	params := &s3.ListObjectsV2Input{Bucket: &b.bucket, MaxKeys: &maxKeys}
	if prefix != "" && prefix != "." {
		params.Prefix = aws.String(fp + "/")
	}
	for {
		list, err := b.api.ListObjectsV2(ctx, params)
		if err != nil {
			return err
		}
		for _, obj := range list.Contents {
			if _, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: obj.Key}); err != nil {
				return err
			}
		}
		params.ContinuationToken = list.NextContinuationToken
		if params.ContinuationToken == nil {
			break
		}
	}
	return nil
}

// DeleteEmptyDirsUp and DeleteEmptyDirsDown are no-ops on an object store:
// there is no directory entity independent of the keys within it.
func (b *Backend) DeleteEmptyDirsUp(ctx context.Context, prefix string) error   { return nil }
func (b *Backend) DeleteEmptyDirsDown(ctx context.Context, prefix string) error { return nil }

const objectMarkerPrefix = "0=ocfl_object_"

func (b *Backend) IterateObjects(ctx context.Context, root string) iter.Seq2[storage.ObjectRoot, error] {
	return func(yield func(storage.ObjectRoot, error) bool) {
		keys, err := b.ListRecursive(ctx, root)
		if err != nil {
			yield(storage.ObjectRoot{}, err)
			return
		}
		seen := make(map[string]bool)
		sort.Strings(keys)
		for _, k := range keys {
			if strings.HasPrefix(path.Base(k), objectMarkerPrefix) {
				seen[path.Dir(k)] = false
			}
		}
		p := strings.TrimSuffix(root, "/")
		for _, k := range keys {
			base := path.Base(k)
			if !strings.HasPrefix(base, objectMarkerPrefix) {
				continue
			}
			dir := path.Dir(k)
			if seen[dir] {
				continue
			}
			nested := false
			for d := dir; strings.Contains(d, "/") && d != p; {
				d = path.Dir(d)
				if _, marked := seen[d]; marked {
					nested = true
					break
				}
			}
			if nested {
				continue
			}
			seen[dir] = true
			version := strings.TrimPrefix(base, objectMarkerPrefix)
			if !yield(storage.ObjectRoot{Prefix: dir, Version: version}, nil) {
				return
			}
		}
	}
}

// CreateDirectories is a no-op: object store keyspaces are flat.
func (b *Backend) CreateDirectories(ctx context.Context, prefix string) error { return nil }
