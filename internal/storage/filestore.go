// Package storage implements the remote blob store on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/queuecx/dashboard/internal/remote"
)

// ErrBadPath is returned for bucket names or object paths that would escape
// the store root.
var ErrBadPath = errors.New("storage: invalid path")

// FileStore keeps each bucket as a directory under dir.
type FileStore struct {
	dir string
}

// NewFileStore creates dir and the given buckets.
func NewFileStore(dir string, buckets ...string) (*FileStore, error) {
	fs := &FileStore{dir: dir}
	for _, b := range buckets {
		p, err := fs.path(b, "")
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(p, 0o700); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// Upload streams r into bucket/path and returns the stored path. Progress is
// reported after every chunk written. The object only becomes visible once
// fully written.
func (fs *FileStore) Upload(ctx context.Context, bucket, path string, r io.Reader, size int64, progress remote.ProgressFunc) (string, error) {
	dst, err := fs.path(bucket, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", err
	}

	// Write to temporary file first, then rename
	tmp := dst + fmt.Sprintf(".tmp.%d", rand.Int())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, &progressReader{ctx: ctx, r: r, total: size, fn: progress})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("store %s/%s: %w", bucket, path, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Open returns a reader for bucket/path.
func (fs *FileStore) Open(bucket, path string) (io.ReadCloser, error) {
	p, err := fs.path(bucket, path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, remote.ErrNotFound
	}
	return f, err
}

// Remove deletes the given objects. Missing objects are ignored.
func (fs *FileStore) Remove(ctx context.Context, bucket string, paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		full, err := fs.path(bucket, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// path maps bucket/object to a location under the root, rejecting anything
// that would resolve outside its bucket.
func (fs *FileStore) path(bucket, object string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("%w: bucket %q", ErrBadPath, bucket)
	}
	root := filepath.Join(fs.dir, bucket)
	if object == "" {
		return root, nil
	}
	for _, seg := range strings.Split(object, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.Contains(seg, `\`) {
			return "", fmt.Errorf("%w: %q", ErrBadPath, object)
		}
	}
	return filepath.Join(root, filepath.FromSlash(object)), nil
}

type progressReader struct {
	ctx    context.Context
	r      io.Reader
	loaded int64
	total  int64
	fn     remote.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		if p.fn != nil {
			p.fn(p.loaded, p.total)
		}
	}
	return n, err
}
