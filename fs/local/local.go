// Package local implements the fs backend interfaces over the host's local
// disk, using os.Rename for the atomic directory move that the version
// writer and mutable HEAD controller rely on as their commit primitive
// (spec §4.6/§4.7, move_dir_in).
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	ocflfs "github.com/ocflcore/ocfl/fs"
)

const (
	dirPerm  fs.FileMode = 0755
	filePerm fs.FileMode = 0644
)

// FS is a storage backend rooted at a directory on local disk.
type FS struct {
	root string // absolute, OS-native path
}

var (
	_ ocflfs.FS           = (*FS)(nil)
	_ ocflfs.DirEntriesFS = (*FS)(nil)
	_ ocflfs.WriteFS      = (*FS)(nil)
	_ ocflfs.CopyFS       = (*FS)(nil)
	_ ocflfs.MoveFS       = (*FS)(nil)
)

// New returns an FS rooted at root, creating root if it doesn't exist.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the backend's OS-native root path.
func (fsys *FS) Root() string { return fsys.root }

func (fsys *FS) osPath(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: "path", Path: name, Err: fs.ErrInvalid}
	}
	return filepath.Join(fsys.root, filepath.FromSlash(name)), nil
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := fsys.osPath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: unwrapOS(err)}
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ocflfs.ErrNotFile}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: unwrapOS(err)}
	}
	return f, nil
}

func (fsys *FS) DirEntries(ctx context.Context, dir string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := fsys.osPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, &fs.PathError{Op: "list_dir", Path: dir, Err: unwrapOS(err)}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (fsys *FS) Write(ctx context.Context, name string, src io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := fsys.osPath(name)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	dst, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if err := dst.Close(); err != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := fsys.osPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return &fs.PathError{Op: "delete_file", Path: name, Err: unwrapOS(err)}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir == "." {
		return &fs.PathError{Op: "delete_dir", Path: dir, Err: fmt.Errorf("cannot remove storage root")}
	}
	p, err := fsys.osPath(dir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return &fs.PathError{Op: "delete_dir", Path: dir, Err: err}
	}
	return nil
}

// Copy implements ocflfs.CopyFS by streaming through user space; local disk
// has no syscall-level reflink/copy primitive we can rely on portably.
func (fsys *FS) Copy(ctx context.Context, dst, src string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := fsys.OpenFile(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("copy_file_internal: opening %q: %w", src, err)
	}
	defer f.Close()
	n, err := fsys.Write(ctx, dst, f)
	if err != nil {
		return n, fmt.Errorf("copy_file_internal: writing %q: %w", dst, err)
	}
	return n, nil
}

// MoveDir implements the atomic directory move that version publish and
// mutable HEAD sealing rely on. os.Rename is atomic within a single
// filesystem/volume on every OS Go supports; it is NOT atomic across
// volumes (a cross-device rename fails with EXDEV, surfaced unwrapped
// rather than silently falling back to copy+delete, since a silent
// fallback would no longer be crash-safe).
func (fsys *FS) MoveDir(ctx context.Context, dst, src string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dstPath, err := fsys.osPath(dst)
	if err != nil {
		return err
	}
	srcPath, err := fsys.osPath(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), dirPerm); err != nil {
		return &fs.PathError{Op: "move_dir_in", Path: dst, Err: err}
	}
	if _, err := os.Stat(dstPath); err == nil {
		return &fs.PathError{Op: "move_dir_in", Path: dst, Err: fs.ErrExist}
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return &fs.PathError{Op: "move_dir_in", Path: dst, Err: err}
	}
	return nil
}

func unwrapOS(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
