package repository

import (
	"context"
	"fmt"

	ocfl "github.com/ocflcore/ocfl"
	ocflfs "github.com/ocflcore/ocfl/fs"
)

// ExportVersion implements export_version (spec §4.8): copies version v's
// logical state (head, if v is zero) out of id, under dst in dstFS, laid
// out by logical path rather than content-addressed storage path.
func (r *Repository) ExportVersion(ctx context.Context, id string, v ocfl.VNum, dstFS ocflfs.WriteFS, dst string) error {
	return r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		inv, _, err := r.loadInventory(ctx, id)
		if err != nil {
			return err
		}
		objRoot, err := r.objectRoot(id)
		if err != nil {
			return err
		}
		return inv.EachStatePath(v, func(logical, _ string, contentPaths []string) error {
			srcName := ocflfs.Join(objRoot, contentPaths[0])
			f, err := r.fsys.OpenFile(ctx, srcName)
			if err != nil {
				return fmt.Errorf("opening %q: %w", srcName, err)
			}
			defer f.Close()
			dstName := ocflfs.Join(dst, logical)
			if _, err := dstFS.Write(ctx, dstName, f); err != nil {
				return fmt.Errorf("writing %q: %w", dstName, err)
			}
			return nil
		})
	})
}

// ExportObject implements export_object (spec §4.8): copies id's entire
// object-root footprint (every version directory, the root inventory and
// sidecar, any active mutable HEAD subtree) out to dst in dstFS, preserving
// the OCFL on-disk layout rather than flattening to logical paths.
func (r *Repository) ExportObject(ctx context.Context, id string, dstFS ocflfs.WriteFS, dst string) error {
	return r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		objRoot, err := r.objectRoot(id)
		if err != nil {
			return err
		}
		if exists, err := ocflfs.FileExists(ctx, r.fsys, ocflfs.Join(objRoot, "inventory.json")); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: object %q", ocfl.ErrNotFound, id)
		}
		return ocflfs.CopyDirOut(ctx, dstFS, dst, r.fsys, objRoot)
	})
}

// ImportVersion implements import_version (spec §4.8) as a thin
// convenience over UpdateObject: every file under srcDir in srcFS is added,
// the same way update_object's AddFile does, to a copy of the current
// head's state. A logical path already present in that state fails with
// ErrOverwrite, since no overwrite is requested.
func (r *Repository) ImportVersion(ctx context.Context, id string, srcFS ocflfs.FS, srcDir string, opts ...CommitOption) error {
	return r.UpdateObject(ctx, id, func(ctx context.Context, uc *UpdateContext) error {
		_, err := uc.AddFile(ctx, srcFS, srcDir)
		return err
	}, opts...)
}

// ImportObject implements import_object (spec §4.8): creates id (which
// must not already exist) from a complete, externally-produced OCFL object
// tree at srcDir in srcFS, validating it before it is adopted into the
// storage root.
func (r *Repository) ImportObject(ctx context.Context, id string, srcFS ocflfs.FS, srcDir string) error {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	return r.locks.DoInWriteLock(ctx, id, func(ctx context.Context) error {
		if exists, err := ocflfs.FileExists(ctx, r.fsys, ocflfs.Join(objRoot, "inventory.json")); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: object %q", ocfl.ErrAlreadyExists, id)
		}
		report := ValidateObjectTree(ctx, srcFS, srcDir, true)
		if !report.Valid() {
			return fmt.Errorf("%w: %s", ocfl.ErrValidation, report.Summary())
		}
		if err := ocflfs.CopyDirOut(ctx, r.fsys, objRoot, srcFS, srcDir); err != nil {
			return fmt.Errorf("importing object %q: %w", id, err)
		}
		r.objCache.Invalidate(id)
		return nil
	})
}
