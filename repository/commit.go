package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/addfile"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/inventory"
)

// CommitOption configures a single put_object/update_object/
// replicate_version_as_head call's version metadata.
type CommitOption func(*commitSettings)

type commitSettings struct {
	message string
	user    *ocfl.User
	created time.Time
}

func (s commitSettings) createdOrNow() time.Time {
	if s.created.IsZero() {
		return time.Now()
	}
	return s.created
}

// WithMessage sets the new version's change-log message.
func WithMessage(msg string) CommitOption { return func(s *commitSettings) { s.message = msg } }

// WithUser sets the new version's responsible user.
func WithUser(u ocfl.User) CommitOption { return func(s *commitSettings) { s.user = &u } }

// WithCreated overrides the new version's created timestamp. Production
// callers should leave this to time.Now(); it exists for reproducible
// tests.
func WithCreated(t time.Time) CommitOption { return func(s *commitSettings) { s.created = t } }

func (r *Repository) addFileProcessOptions() addfile.Options {
	return addfile.Options{
		DigestPoolSize:   r.addFileOpts.digestPoolSize,
		CopyPoolSize:     r.addFileOpts.copyPoolSize,
		FixityAlgorithms: r.addFileOpts.fixityAlgorithms,
	}
}

// checkNoMutableHead rejects operations that build a new ordinary version
// (put_object, update_object, replicate_version_as_head, rollback_to_version)
// while a mutable HEAD is active; commit_staged_changes or
// purge_staged_changes must resolve it first (spec §4.7/§4.8).
func (r *Repository) checkNoMutableHead(ctx context.Context, objRoot string) error {
	head, err := r.mutableHeadInventory(ctx, objRoot)
	if err != nil {
		return err
	}
	if head != nil {
		return fmt.Errorf("%w: object has an active mutable HEAD; commit_staged_changes or purge_staged_changes first", ocfl.ErrOcflState)
	}
	return nil
}

// UpdateContext is the mutation surface update_object's callback uses to
// build the new version against the Updater the facade is finalizing.
// Every content path it produces or orphans resolves against the staging
// directory Publish created for this commit.
type UpdateContext struct {
	u           *inventory.Updater
	dstFS       ocflfs.WriteFS
	dstDir      string
	addFileOpts addfile.Options
}

// AddFile stages every regular file under srcDir in srcFS, recording it in
// the version being built.
func (c *UpdateContext) AddFile(ctx context.Context, srcFS ocflfs.FS, srcDir string) ([]string, error) {
	return addfile.Process(ctx, srcFS, srcDir, c.dstFS, c.dstDir, c.u, c.addFileOpts)
}

// RemoveFile drops logical from the version being built, deleting its
// staged content if this same update was the only thing that staged it.
func (c *UpdateContext) RemoveFile(ctx context.Context, logical string) error {
	results, err := c.u.RemoveFile(logical)
	if err != nil {
		return err
	}
	return c.cleanupOrphans(ctx, results)
}

// RenameFile moves the logical binding from src to dst.
func (c *UpdateContext) RenameFile(ctx context.Context, src, dst string, overwrite bool) error {
	results, err := c.u.RenameFile(src, dst, addOpts(overwrite)...)
	if err != nil {
		return err
	}
	return c.cleanupOrphans(ctx, results)
}

// ReinstateFile binds dstLogical to the digest srcDigest already carries in
// the object's manifest (typically resolved by the caller from an earlier
// version via Inventory.ContentPath/EachStatePath).
func (c *UpdateContext) ReinstateFile(srcDigest, dstLogical string, overwrite bool) error {
	return c.u.ReinstateFile(srcDigest, dstLogical, addOpts(overwrite)...)
}

func (c *UpdateContext) cleanupOrphans(ctx context.Context, results []inventory.RemoveFileResult) error {
	for _, res := range results {
		if !res.StagedOnly {
			continue
		}
		if err := c.dstFS.Remove(ctx, ocflfs.Join(c.dstDir, res.ContentPath)); err != nil {
			return err
		}
	}
	return nil
}

func addOpts(overwrite bool) []inventory.AddOption {
	if !overwrite {
		return nil
	}
	return []inventory.AddOption{inventory.WithOverwrite()}
}

// UpdateFunc mutates the version update_object is building via uc.
type UpdateFunc func(ctx context.Context, uc *UpdateContext) error

// PutObject implements put_object (spec §4.8). If id doesn't exist, it
// creates it from the file tree at srcDir in srcFS. If id already exists,
// its entire current-version state is replaced by that tree — manifest,
// fixity, and version history are carried forward, but nothing from the
// prior head's state survives unless srcDir reproduces it.
func (r *Repository) PutObject(ctx context.Context, id string, srcFS ocflfs.FS, srcDir string, opts ...CommitOption) error {
	var cfg commitSettings
	for _, opt := range opts {
		opt(&cfg)
	}
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	if err := r.checkNoMutableHead(ctx, objRoot); err != nil {
		return err
	}
	prev, _, err := r.loadInventory(ctx, id)
	if err != nil && !errors.Is(err, ocfl.ErrNotFound) {
		return err
	}

	var u *inventory.Updater
	if prev == nil {
		u, err = inventory.New(id, r.spec.AsInvType(), r.digestAlgorithm, r.contentDirectory)
	} else {
		u, err = inventory.NewFromPrevious(prev, inventory.Blank)
	}
	if err != nil {
		return err
	}

	// BuildNewInventory must run before any content is staged: the Updater
	// shares its manifest/state digest.Maps by reference into the
	// Inventory it returns, so the AddFile calls addfile.Process makes to u
	// inside populate are still reflected in inv by the time Publish
	// serializes it in step 2.
	inv, err := u.BuildNewInventory(cfg.createdOrNow(), cfg.message, cfg.user)
	if err != nil {
		return err
	}
	if prev != nil {
		inv.PreviousDigest = prev.CurrentDigest
	}

	populate := func(ctx context.Context, stagingRoot string) error {
		_, err := addfile.Process(ctx, srcFS, srcDir, r.fsys, stagingRoot, u, r.addFileProcessOptions())
		return err
	}
	return r.writer.Publish(ctx, r.fsys, id, objRoot, inv, populate)
}

// UpdateObject implements update_object (spec §4.8): fn mutates the version
// that follows id's current head, and the result is published as the new
// head. id must already exist and must not have an active mutable HEAD.
func (r *Repository) UpdateObject(ctx context.Context, id string, fn UpdateFunc, opts ...CommitOption) error {
	var cfg commitSettings
	for _, opt := range opts {
		opt(&cfg)
	}
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	if err := r.checkNoMutableHead(ctx, objRoot); err != nil {
		return err
	}
	prev, _, err := r.loadInventory(ctx, id)
	if err != nil {
		return err
	}
	u, err := inventory.NewFromPrevious(prev, inventory.Copy)
	if err != nil {
		return err
	}

	// Same BuildNewInventory-before-mutation pattern as PutObject: fn runs
	// inside populate, after inv already exists, and still ends up fully
	// populated because u's digest.Maps are shared by reference with inv.
	inv, err := u.BuildNewInventory(cfg.createdOrNow(), cfg.message, cfg.user)
	if err != nil {
		return err
	}
	inv.PreviousDigest = prev.CurrentDigest

	populate := func(ctx context.Context, stagingRoot string) error {
		uc := &UpdateContext{u: u, dstFS: r.fsys, dstDir: stagingRoot, addFileOpts: r.addFileProcessOptions()}
		return fn(ctx, uc)
	}
	return r.writer.Publish(ctx, r.fsys, id, objRoot, inv, populate)
}

// ReplicateVersionAsHead implements replicate_version_as_head (spec §4.8):
// publishes a new head version whose state is an exact copy of an earlier
// version v's state. No new content is staged — v's files already exist
// under the object's earlier version directories and remain referenced by
// the manifest.
func (r *Repository) ReplicateVersionAsHead(ctx context.Context, id string, v ocfl.VNum, opts ...CommitOption) error {
	var cfg commitSettings
	for _, opt := range opts {
		opt(&cfg)
	}
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	if err := r.checkNoMutableHead(ctx, objRoot); err != nil {
		return err
	}
	prev, _, err := r.loadInventory(ctx, id)
	if err != nil {
		return err
	}
	if prev.GetVersion(v) == nil {
		return fmt.Errorf("%w: version %s", ocfl.ErrNotFound, v)
	}
	u, err := inventory.NewFromPrevious(prev, inventory.Copy)
	if err != nil {
		return err
	}
	if err := u.CopyFromVersion(prev, v); err != nil {
		return err
	}
	inv, err := u.BuildNewInventory(cfg.createdOrNow(), cfg.message, cfg.user)
	if err != nil {
		return err
	}
	inv.PreviousDigest = prev.CurrentDigest
	noop := func(context.Context, string) error { return nil }
	return r.writer.Publish(ctx, r.fsys, id, objRoot, inv, noop)
}

// RollbackToVersion implements rollback_to_version (spec §4.8): discards
// every version after v, restoring the object's recorded head to v. Unlike
// replicate_version_as_head this does not create a new version — the
// object's history itself is truncated, and the version directories for
// everything after v are deleted.
func (r *Repository) RollbackToVersion(ctx context.Context, id string, v ocfl.VNum) error {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	if err := r.checkNoMutableHead(ctx, objRoot); err != nil {
		return err
	}
	return r.locks.DoInWriteLock(ctx, id, func(ctx context.Context) error {
		cur, err := inventory.Read(ctx, r.fsys, objRoot)
		if err != nil {
			return err
		}
		if cur.GetVersion(v) == nil {
			return fmt.Errorf("%w: version %s", ocfl.ErrNotFound, v)
		}
		if v == cur.Head {
			return nil
		}
		rolled, obsolete, err := truncateInventory(cur, v)
		if err != nil {
			return err
		}

		stagingDir := ocflfs.Join(r.rootDir, ".ocfl-work", sanitizeID(id), uuid.New().String())
		defer func() {
			if rmErr := r.fsys.RemoveAll(ctx, stagingDir); rmErr != nil {
				r.log.Warn("cleaning up rollback staging directory", "dir", stagingDir, "error", rmErr)
			}
		}()
		if err := inventory.Write(ctx, r.fsys, rolled, stagingDir); err != nil {
			return err
		}
		sidecarName := "inventory." + rolled.DigestAlgorithm
		if _, err := ocflfs.CopyFile(ctx, r.fsys, ocflfs.Join(objRoot, "inventory.json"), ocflfs.Join(stagingDir, "inventory.json")); err != nil {
			return fmt.Errorf("publishing rolled-back root inventory: %w", err)
		}
		if _, err := ocflfs.CopyFile(ctx, r.fsys, ocflfs.Join(objRoot, sidecarName), ocflfs.Join(stagingDir, sidecarName)); err != nil {
			return fmt.Errorf("publishing rolled-back root sidecar: %w", err)
		}

		// Only after the root inventory durably reflects the rollback do we
		// delete the now-unreferenced version directories: a crash between
		// these two steps leaves the object readable at the correct head,
		// with at worst harmless orphaned directories left behind, never an
		// object whose root inventory claims a version whose directory is
		// gone.
		for _, vn := range obsolete {
			if err := r.fsys.RemoveAll(ctx, ocflfs.Join(objRoot, vn.String())); err != nil {
				r.log.Warn("removing rolled-back version directory", "version", vn, "error", err)
			}
		}
		r.objCache.Put(id, rolled)
		return nil
	})
}

// truncateInventory returns a copy of inv with its version history cut off
// after head, and the manifest/fixity pruned to only the content still
// referenced by a kept version's state (every other content path belongs
// to a version being discarded, since a digest's manifest entry is only
// ever created by the first version that introduces it — spec §4.3).
func truncateInventory(inv *inventory.Inventory, head ocfl.VNum) (*inventory.Inventory, []ocfl.VNum, error) {
	versions := make(map[ocfl.VNum]*inventory.Version, head.Num())
	var obsolete []ocfl.VNum
	for vn, ver := range inv.Versions {
		if vn.Compare(head) <= 0 {
			versions[vn] = ver
		} else {
			obsolete = append(obsolete, vn)
		}
	}

	referenced := map[string]bool{}
	for _, ver := range versions {
		if ver.State == nil {
			continue
		}
		ver.State.EachPath(func(_, sum string) bool {
			referenced[sum] = true
			return true
		})
	}
	manifest := digest.NewMap()
	for _, sum := range inv.Manifest.Digests() {
		if !referenced[sum] {
			continue
		}
		for _, p := range inv.Manifest.DigestPaths(sum) {
			if err := manifest.Add(sum, p); err != nil {
				return nil, nil, err
			}
		}
	}
	fixity := make(map[string]*digest.Map, len(inv.Fixity))
	for algID, m := range inv.Fixity {
		fm := digest.NewMap()
		for _, sum := range m.Digests() {
			if !referenced[sum] {
				continue
			}
			for _, p := range m.DigestPaths(sum) {
				if err := fm.Add(sum, p); err != nil {
					return nil, nil, err
				}
			}
		}
		fixity[algID] = fm
	}

	rolled := &inventory.Inventory{
		ID:               inv.ID,
		Type:             inv.Type,
		DigestAlgorithm:  inv.DigestAlgorithm,
		ContentDirectory: inv.ContentDirectory,
		Head:             head,
		Manifest:         manifest,
		Fixity:           fixity,
		Versions:         versions,
	}
	if err := rolled.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: rolled-back inventory: %v", ocfl.ErrInvalidInventory, err)
	}
	return rolled, obsolete, nil
}

func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', '\\', ':':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}
