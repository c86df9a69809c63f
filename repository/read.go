package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	ocfl "github.com/ocflcore/ocfl"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/inventory"
)

// VersionDescription summarizes one version's metadata, for
// describe_version and describe_object (spec §4.8).
type VersionDescription struct {
	Num     ocfl.VNum
	Created string
	Message string
	User    *ocfl.User
	State   map[string][]string
}

// ObjectDescription summarizes an object's whole version history.
type ObjectDescription struct {
	ID              string
	Head            ocfl.VNum
	DigestAlgorithm string
	Versions        []VersionDescription
	HasMutableHead  bool
}

// FileChange records one version in which logical's binding changed.
type FileChange struct {
	Version ocfl.VNum
	Digest  string
	Present bool // false if logical was removed in this version
}

// ContainsObject implements contains_object (spec §4.8).
func (r *Repository) ContainsObject(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		_, _, err := r.loadInventory(ctx, id)
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, ocfl.ErrNotFound):
			found = false
			return nil
		default:
			return err
		}
	})
	return found, err
}

// DescribeObject implements describe_object (spec §4.8): a summary of every
// version in id's history, in ascending order.
func (r *Repository) DescribeObject(ctx context.Context, id string) (*ObjectDescription, error) {
	var out *ObjectDescription
	err := r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		inv, _, err := r.loadInventory(ctx, id)
		if err != nil {
			return err
		}
		objRoot, err := r.objectRoot(id)
		if err != nil {
			return err
		}
		head, err := r.mutableHeadInventory(ctx, objRoot)
		if err != nil {
			return err
		}
		out = &ObjectDescription{
			ID:              inv.ID,
			Head:            inv.Head,
			DigestAlgorithm: inv.DigestAlgorithm,
			HasMutableHead:  head != nil,
		}
		for _, vn := range inv.VNums() {
			desc, err := describeVersion(inv, vn)
			if err != nil {
				return err
			}
			out.Versions = append(out.Versions, *desc)
		}
		return nil
	})
	return out, err
}

// DescribeVersion implements describe_version (spec §4.8). v zero selects
// the current head.
func (r *Repository) DescribeVersion(ctx context.Context, id string, v ocfl.VNum) (*VersionDescription, error) {
	var out *VersionDescription
	err := r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		inv, _, err := r.loadInventory(ctx, id)
		if err != nil {
			return err
		}
		desc, err := describeVersion(inv, v)
		if err != nil {
			return err
		}
		out = desc
		return nil
	})
	return out, err
}

func describeVersion(inv *inventory.Inventory, v ocfl.VNum) (*VersionDescription, error) {
	ver := inv.GetVersion(v)
	if ver == nil {
		return nil, fmt.Errorf("%w: version %s", ocfl.ErrNotFound, v)
	}
	resolved := v
	if v.IsZero() {
		resolved = inv.Head
	}
	state := map[string][]string{}
	if ver.State != nil {
		ver.State.EachPath(func(logical, sum string) bool {
			state[sum] = append(state[sum], logical)
			return true
		})
	}
	return &VersionDescription{
		Num:     resolved,
		Created: ver.Created.Format("2006-01-02T15:04:05Z"),
		Message: ver.Message,
		User:    ver.User,
		State:   state,
	}, nil
}

// FileChangeHistory implements file_change_history (spec §4.8): every
// version across id's history in which logical's digest binding changed
// (first appeared, changed content, or was removed), in ascending order.
func (r *Repository) FileChangeHistory(ctx context.Context, id, logical string) ([]FileChange, error) {
	var out []FileChange
	err := r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		inv, _, err := r.loadInventory(ctx, id)
		if err != nil {
			return err
		}
		prevSum := ""
		prevPresent := false
		for _, vn := range inv.VNums() {
			ver := inv.Versions[vn]
			sum := ""
			present := false
			if ver.State != nil {
				if s := ver.State.GetDigest(logical); s != "" {
					sum, present = s, true
				}
			}
			if present != prevPresent || sum != prevSum {
				out = append(out, FileChange{Version: vn, Digest: sum, Present: present})
			}
			prevSum, prevPresent = sum, present
		}
		return nil
	})
	return out, err
}

// PurgeObject implements purge_object (spec §4.8): idempotently deletes id's
// entire storage-root footprint, including any active mutable HEAD. Purging
// an object that doesn't exist is a no-op, not an error (spec §8 P6).
func (r *Repository) PurgeObject(ctx context.Context, id string) error {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	return r.locks.DoInWriteLock(ctx, id, func(ctx context.Context) error {
		if err := r.fsys.RemoveAll(ctx, objRoot); err != nil {
			return fmt.Errorf("purging object %q: %w", id, err)
		}
		r.objCache.Invalidate(id)
		return nil
	})
}

// ListObjectIds implements list_object_ids (spec §4.8): every object id
// found under the storage root, sorted.
func (r *Repository) ListObjectIds(ctx context.Context) ([]string, error) {
	var ids []string
	err := ocflfs.IterateObjects(ctx, r.fsys, r.rootDir, isObjectRoot, func(objRoot string) bool {
		id, err := objectIDFromRoot(ctx, r.fsys, objRoot)
		if err != nil {
			r.log.Warn("reading object id", "root", objRoot, "error", err)
			return true
		}
		ids = append(ids, id)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func isObjectRoot(ctx context.Context, fsys ocflfs.FS, dir string) (bool, error) {
	entries, err := ocflfs.ListDir(ctx, fsys, dir)
	if err != nil {
		return false, err
	}
	nam, err := ocfl.FindNamaste(entries)
	if err != nil {
		return false, nil
	}
	return nam.IsObject(), nil
}

func objectIDFromRoot(ctx context.Context, fsys ocflfs.FS, objRoot string) (string, error) {
	inv, err := inventory.Read(ctx, fsys, objRoot)
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

// GetObject implements get_object (spec §4.8): returns the inventory for
// id's current head.
func (r *Repository) GetObject(ctx context.Context, id string) (*inventory.Inventory, error) {
	var out *inventory.Inventory
	err := r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		inv, _, err := r.loadInventory(ctx, id)
		out = inv
		return err
	})
	return out, err
}

// GetObjectVersion resolves logical in version v (head if zero) of id to the
// fs the content lives on and the storage-relative path to it; it opens no
// stream itself — the second get_object variant (spec §4.8), read-only access to an
// individual file's bytes rather than the whole inventory.
func (r *Repository) GetObjectVersion(ctx context.Context, id string, v ocfl.VNum, logical string) (ocflfs.FS, string, error) {
	var fsys ocflfs.FS
	var contentPath string
	err := r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		inv, _, err := r.loadInventory(ctx, id)
		if err != nil {
			return err
		}
		objRoot, err := r.objectRoot(id)
		if err != nil {
			return err
		}
		cp, err := inv.ContentPath(v, logical)
		if err != nil {
			return fmt.Errorf("%w: %v", ocfl.ErrNotFound, err)
		}
		fsys = r.fsys
		contentPath = ocflfs.Join(objRoot, cp)
		return nil
	})
	return fsys, contentPath, err
}
