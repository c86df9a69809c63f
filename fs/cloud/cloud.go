// Package cloud implements the fs.FS/WriteFS/CopyFS storage backend
// interfaces (spec.md §4.1) on top of gocloud.dev's blob.Bucket
// abstraction, so a repository can be hosted on any Go CDK blob driver
// (S3, GCS, Azure Blob, or an in-memory bucket for tests) without the
// rest of the engine knowing which one.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	ocflfs "github.com/ocflcore/ocfl/fs"
)

// FS adapts a gocloud.dev blob.Bucket to this module's storage backend
// interfaces.
type FS struct {
	bucket *blob.Bucket
}

var (
	_ ocflfs.FS           = (*FS)(nil)
	_ ocflfs.DirEntriesFS = (*FS)(nil)
	_ ocflfs.WriteFS      = (*FS)(nil)
	_ ocflfs.CopyFS       = (*FS)(nil)
)

// New wraps bucket as an FS. Callers own bucket's lifecycle (Close it when
// done); FS does not close it.
func New(bucket *blob.Bucket) *FS {
	return &FS{bucket: bucket}
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (iofs.File, error) {
	r, err := fsys.bucket.NewReader(ctx, name, nil)
	if err != nil {
		return nil, &iofs.PathError{Op: "openfile", Path: name, Err: translateErr(err)}
	}
	return &file{ReadCloser: r, info: fileInfo{name: path.Base(name), size: r.Size(), modTime: r.ModTime()}}, nil
}

func (fsys *FS) DirEntries(ctx context.Context, dir string) ([]iofs.DirEntry, error) {
	opts := &blob.ListOptions{Delimiter: "/"}
	if dir != "." && dir != "" {
		opts.Prefix = dir + "/"
	}
	var (
		entries []iofs.DirEntry
		token   = blob.FirstPageToken
	)
	for {
		page, next, err := fsys.bucket.ListPage(ctx, token, 1000, opts)
		if err != nil {
			return nil, &iofs.PathError{Op: "direntries", Path: dir, Err: translateErr(err)}
		}
		for _, item := range page {
			fi := fileInfo{name: path.Base(item.Key), size: item.Size, modTime: item.ModTime}
			if item.IsDir {
				fi.mode = iofs.ModeDir
			}
			entries = append(entries, fi)
		}
		if len(next) == 0 {
			break
		}
		token = next
	}
	if len(entries) == 0 && dir != "." && dir != "" {
		return nil, &iofs.PathError{Op: "direntries", Path: dir, Err: iofs.ErrNotExist}
	}
	return entries, nil
}

func (fsys *FS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	w, err := fsys.bucket.NewWriter(ctx, name, nil)
	if err != nil {
		return 0, &iofs.PathError{Op: "write", Path: name, Err: translateErr(err)}
	}
	n, writeErr := w.ReadFrom(r)
	closeErr := w.Close()
	if writeErr != nil {
		return n, &iofs.PathError{Op: "write", Path: name, Err: writeErr}
	}
	if closeErr != nil {
		return n, &iofs.PathError{Op: "write", Path: name, Err: closeErr}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	if err := fsys.bucket.Delete(ctx, name); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		return &iofs.PathError{Op: "remove", Path: name, Err: translateErr(err)}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, dir string) error {
	iter := fsys.bucket.List(&blob.ListOptions{Prefix: dir + "/"})
	for {
		item, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &iofs.PathError{Op: "removeall", Path: dir, Err: translateErr(err)}
		}
		if err := fsys.bucket.Delete(ctx, item.Key); err != nil {
			return &iofs.PathError{Op: "removeall", Path: item.Key, Err: translateErr(err)}
		}
	}
}

// Copy implements ocflfs.CopyFS using the bucket's native, typically
// server-side Copy — the bucket backend decides whether this is cheaper
// than streaming the bytes through this process.
func (fsys *FS) Copy(ctx context.Context, dst, src string) (int64, error) {
	if err := fsys.bucket.Copy(ctx, dst, src, nil); err != nil {
		return 0, &iofs.PathError{Op: "copy", Path: dst, Err: translateErr(err)}
	}
	attrs, err := fsys.bucket.Attributes(ctx, dst)
	if err != nil {
		return 0, nil
	}
	return attrs.Size, nil
}

func translateErr(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %v", iofs.ErrNotExist, err)
	}
	return err
}

type file struct {
	io.ReadCloser
	info fileInfo
}

func (f *file) Stat() (iofs.FileInfo, error) { return f.info, nil }

type fileInfo struct {
	name    string
	size    int64
	mode    iofs.FileMode
	modTime time.Time
}

func (fi fileInfo) Name() string                 { return fi.name }
func (fi fileInfo) Size() int64                  { return fi.size }
func (fi fileInfo) Mode() iofs.FileMode          { return fi.mode }
func (fi fileInfo) ModTime() time.Time           { return fi.modTime }
func (fi fileInfo) IsDir() bool                  { return fi.mode.IsDir() }
func (fi fileInfo) Sys() any                     { return nil }
func (fi fileInfo) Type() iofs.FileMode          { return fi.Mode().Type() }
func (fi fileInfo) Info() (iofs.FileInfo, error) { return fi, nil }

var (
	_ iofs.File     = (*file)(nil)
	_ iofs.FileInfo = fileInfo{}
	_ iofs.DirEntry = fileInfo{}
)
