// Package fs defines the storage backend abstraction the repository engine
// is built on: the minimal set of filesystem operations needed to read,
// write, and atomically rearrange OCFL storage roots and objects (spec
// §4.1). Concrete backends (package fs/local) implement these interfaces;
// everything above this package — inventories, versions, the repository
// facade — talks only to FS/WriteFS/CopyFS.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Sentinel errors returned by backend implementations in addition to the
// io/fs errors (fs.ErrNotExist, fs.ErrExist, fs.ErrPermission) they already
// produce.
var (
	ErrOpUnsupported = errors.New("operation not supported by this backend")
	ErrNotFile       = errors.New("not a file")
	ErrNotEmpty      = errors.New("directory not empty")
)

// FS is the minimal read abstraction: open a named file for reading.
type FS interface {
	// OpenFile opens the named file for reading. It returns an error
	// wrapping fs.ErrNotExist if name doesn't exist, or ErrNotFile if name
	// names a directory.
	OpenFile(ctx context.Context, name string) (fs.File, error)
}

// DirEntriesFS lists the entries of a directory (spec operation list_dir).
type DirEntriesFS interface {
	FS
	// DirEntries returns the directory's entries sorted by name.
	DirEntries(ctx context.Context, dir string) ([]fs.DirEntry, error)
}

// WriteFS is a backend that supports write and remove operations.
type WriteFS interface {
	FS
	// Write creates or truncates the file at name with the contents of r
	// (spec operation write). Parent directories are created as needed
	// (create_directories).
	Write(ctx context.Context, name string, r io.Reader) (int64, error)
	// Remove deletes the file at name (spec operation delete_file).
	Remove(ctx context.Context, name string) error
	// RemoveAll deletes dir and everything under it (spec operation
	// delete_dir). It is not an error if dir doesn't exist.
	RemoveAll(ctx context.Context, dir string) error
}

// CopyFS is a WriteFS that can copy a file without the caller streaming it
// through user space (spec operations copy_file_in / copy_file_internal).
type CopyFS interface {
	WriteFS
	Copy(ctx context.Context, dst, src string) (int64, error)
}

// MoveFS is a WriteFS that can atomically move a directory into place (spec
// operations move_dir_in / move_dir_internal — the commit primitive). A
// backend that cannot offer atomicity for this operation must not implement
// MoveFS; callers fall back to copy+delete, which is not crash-safe, and
// the spec requires the engine to prefer MoveFS when available.
type MoveFS interface {
	WriteFS
	// MoveDir atomically moves the directory at src to dst. If dst already
	// exists it fails with an error wrapping fs.ErrExist and leaves both
	// src and dst untouched.
	MoveDir(ctx context.Context, dst, src string) error
}

// ObjectLister is a storage root backend that can enumerate OCFL objects
// under a prefix without a caller walking the whole tree by hand (spec
// operation iterate_objects). Backends that can recognize a NAMASTE object
// declaration cheaply (e.g. local disk) should implement this; others fall
// back to IterateObjects' own directory walk with the caller's NAMASTE probe
// per directory.
type ObjectLister interface {
	FS
	// IterateObjects calls fn once per OCFL object root found at or under
	// dir, passing the object root's path relative to the storage root.
	// Iteration stops early, without error, if fn returns false.
	IterateObjects(ctx context.Context, dir string, fn func(objectRoot string) bool) error
}

// ReadAll returns the full contents of the file at name (spec operation
// read, in the bytes orientation).
func ReadAll(ctx context.Context, fsys FS, name string) ([]byte, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ReadToString returns the full contents of the file at name as a string
// (spec operation read_to_string).
func ReadToString(ctx context.Context, fsys FS, name string) (string, error) {
	b, err := ReadAll(ctx, fsys, name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FileExists reports whether name exists and is a regular file (spec
// operation file_exists). Errors other than fs.ErrNotExist are reported
// to the caller rather than folded into false.
func FileExists(ctx context.Context, fsys FS, name string) (bool, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	return true, nil
}

// ListDir lists the entries directly inside dir, sorted by name (spec
// operation list_dir). It returns ErrOpUnsupported if fsys doesn't
// implement DirEntriesFS.
func ListDir(ctx context.Context, fsys FS, dir string) ([]fs.DirEntry, error) {
	d, ok := fsys.(DirEntriesFS)
	if !ok {
		return nil, &fs.PathError{Op: "list_dir", Path: dir, Err: ErrOpUnsupported}
	}
	entries, err := d.DirEntries(ctx, dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// ListRecursive walks dir and every subdirectory, calling fn with each
// regular file's path relative to dir (spec operation list_recursive).
func ListRecursive(ctx context.Context, fsys FS, dir string, fn func(relPath string) error) error {
	return listRecursive(ctx, fsys, dir, "", fn)
}

func listRecursive(ctx context.Context, fsys FS, root, sub string, fn func(string) error) error {
	entries, err := ListDir(ctx, fsys, path.Join(root, sub))
	if err != nil {
		return err
	}
	for _, e := range entries {
		rel := path.Join(sub, e.Name())
		if e.IsDir() {
			if err := listRecursive(ctx, fsys, root, rel, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(rel); err != nil {
			return err
		}
	}
	return nil
}

// DirIsEmpty reports whether dir has no entries (spec operation
// dir_is_empty). A nonexistent dir counts as empty.
func DirIsEmpty(ctx context.Context, fsys FS, dir string) (bool, error) {
	entries, err := ListDir(ctx, fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// Write writes r to name, returning ErrOpUnsupported if fsys isn't a
// WriteFS.
func Write(ctx context.Context, fsys FS, name string, r io.Reader) (int64, error) {
	w, ok := fsys.(WriteFS)
	if !ok {
		return 0, &fs.PathError{Op: "write", Path: name, Err: ErrOpUnsupported}
	}
	return w.Write(ctx, name, r)
}

// CopyFile copies src to dst within fsys (spec operation copy_file_in when
// src originates outside the backend's addressable namespace, and
// copy_file_internal when it's already within it). If fsys implements
// CopyFS, its native Copy is used; otherwise the file is streamed through
// user space.
func CopyFile(ctx context.Context, fsys FS, dst, src string) (int64, error) {
	if cp, ok := fsys.(CopyFS); ok {
		return cp.Copy(ctx, dst, src)
	}
	w, ok := fsys.(WriteFS)
	if !ok {
		return 0, &fs.PathError{Op: "copy_file", Path: dst, Err: ErrOpUnsupported}
	}
	f, err := fsys.OpenFile(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("opening copy source %q: %w", src, err)
	}
	defer f.Close()
	return w.Write(ctx, dst, f)
}

// CopyDirOut copies every file under src in srcFS to the corresponding path
// under dst in dstFS (spec operation copy_dir_out — extracting an object's
// current state to a destination outside the repository).
func CopyDirOut(ctx context.Context, dstFS WriteFS, dst string, srcFS FS, src string) error {
	return ListRecursive(ctx, srcFS, src, func(rel string) error {
		srcName := path.Join(src, rel)
		dstName := path.Join(dst, rel)
		f, err := srcFS.OpenFile(ctx, srcName)
		if err != nil {
			return fmt.Errorf("opening %q: %w", srcName, err)
		}
		defer f.Close()
		_, err = dstFS.Write(ctx, dstName, f)
		if err != nil {
			return fmt.Errorf("writing %q: %w", dstName, err)
		}
		return nil
	})
}

// MoveDirIn moves src to dst — the version-publish commit primitive (spec
// operations move_dir_in / move_dir_internal). When fsys implements MoveFS
// the move is atomic and fails with fs.ErrExist if dst already exists.
// Without MoveFS support, it falls back to a copy-then-delete, which is NOT
// crash-safe and overwrites any files already at dst; callers should prefer backends
// implementing MoveFS for any repository used concurrently.
func MoveDirIn(ctx context.Context, fsys FS, dst, src string) error {
	if mv, ok := fsys.(MoveFS); ok {
		return mv.MoveDir(ctx, dst, src)
	}
	w, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "move_dir_in", Path: dst, Err: ErrOpUnsupported}
	}
	if err := CopyDirOut(ctx, w, dst, fsys, src); err != nil {
		return err
	}
	return w.RemoveAll(ctx, src)
}

// DeleteFile removes the file at name (spec operation delete_file).
func DeleteFile(ctx context.Context, fsys FS, name string) error {
	w, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "delete_file", Path: name, Err: ErrOpUnsupported}
	}
	return w.Remove(ctx, name)
}

// DeleteFiles removes each of names (spec operation delete_files),
// continuing after individual failures and returning a joined error.
func DeleteFiles(ctx context.Context, fsys FS, names []string) error {
	var errs []error
	for _, n := range names {
		if err := DeleteFile(ctx, fsys, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteDir removes dir and everything beneath it (spec operation
// delete_dir).
func DeleteDir(ctx context.Context, fsys FS, dir string) error {
	w, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "delete_dir", Path: dir, Err: ErrOpUnsupported}
	}
	return w.RemoveAll(ctx, dir)
}

// DeleteEmptyDirsDown removes every empty directory at or under dir,
// working bottom-up so a directory that becomes empty only after its
// children are pruned is itself removed (spec operation
// delete_empty_dirs_down — cleanup after an add-file or remove-file
// operation leaves orphaned directories in its wake).
func DeleteEmptyDirsDown(ctx context.Context, fsys FS, dir string) error {
	entries, err := ListDir(ctx, fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := DeleteEmptyDirsDown(ctx, fsys, path.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	empty, err := DirIsEmpty(ctx, fsys, dir)
	if err != nil {
		return err
	}
	if empty {
		return DeleteDir(ctx, fsys, dir)
	}
	return nil
}

// DeleteEmptyDirsUp removes dir, then each ancestor of dir up to (but not
// including) stopAt, as long as each is empty after its child is removed
// (spec operation delete_empty_dirs_up — used by the mutable HEAD
// controller to retract an entire staging revision's directory chain).
func DeleteEmptyDirsUp(ctx context.Context, fsys FS, dir, stopAt string) error {
	stopAt = path.Clean(stopAt)
	for cur := path.Clean(dir); cur != stopAt && cur != "." && cur != "/"; {
		empty, err := DirIsEmpty(ctx, fsys, cur)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				cur = path.Dir(cur)
				continue
			}
			return err
		}
		if !empty {
			return nil
		}
		if err := DeleteDir(ctx, fsys, cur); err != nil {
			return err
		}
		cur = path.Dir(cur)
	}
	return nil
}

// IterateObjects calls fn once per OCFL object root at or under dir,
// relative to the storage root (spec operation iterate_objects). If fsys
// implements ObjectLister, its native implementation is used; otherwise
// every subdirectory is walked and probed for a "0=ocfl_object_*" NAMASTE
// declaration.
func IterateObjects(ctx context.Context, fsys FS, dir string, isObjectRoot func(ctx context.Context, fsys FS, dir string) (bool, error), fn func(objectRoot string) bool) error {
	if lister, ok := fsys.(ObjectLister); ok {
		return lister.IterateObjects(ctx, dir, fn)
	}
	return walkForObjects(ctx, fsys, dir, isObjectRoot, fn)
}

func walkForObjects(ctx context.Context, fsys FS, dir string, isObjectRoot func(context.Context, FS, string) (bool, error), fn func(string) bool) error {
	isRoot, err := isObjectRoot(ctx, fsys, dir)
	if err != nil {
		return err
	}
	if isRoot {
		if !fn(dir) {
			return nil
		}
		return nil
	}
	entries, err := ListDir(ctx, fsys, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := walkForObjects(ctx, fsys, path.Join(dir, e.Name()), isObjectRoot, fn); err != nil {
			return err
		}
	}
	return nil
}

// Join is a thin re-export of path.Join for callers that otherwise need no
// other import from the standard path package; backend paths are always
// slash-separated regardless of host OS (spec §1: storage-path portability).
func Join(elem ...string) string { return path.Join(elem...) }

// Clean re-exports path.Clean for the same reason as Join.
func Clean(p string) string { return path.Clean(p) }

// SplitParent returns p's parent directory and base name.
func SplitParent(p string) (dir, base string) {
	p = path.Clean(p)
	dir, base = path.Split(p)
	return strings.TrimSuffix(dir, "/"), base
}
