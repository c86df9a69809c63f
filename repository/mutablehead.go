package repository

import (
	"context"
	"errors"

	"github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/inventory"
	"github.com/ocflcore/ocfl/version"
)

// HasStagedChanges reports whether id has an active mutable HEAD (spec
// §4.7/§4.8).
func (r *Repository) HasStagedChanges(ctx context.Context, id string) (bool, error) {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return false, err
	}
	var has bool
	err = r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		head, err := r.mutableHeadInventory(ctx, objRoot)
		if err != nil {
			return err
		}
		has = version.HasStagedChanges(head)
		return nil
	})
	return has, err
}

// StageChanges implements stage_changes (spec §4.7/§4.8): accumulates fn's
// mutations as the next revision of id's mutable HEAD, creating the
// mutable HEAD from the object's current published head if none is active
// yet. An id with no object yet first gets an empty v1 published.
func (r *Repository) StageChanges(ctx context.Context, id string, fn UpdateFunc, opts ...CommitOption) error {
	var cfg commitSettings
	for _, opt := range opts {
		opt(&cfg)
	}
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	rootInv, _, err := r.loadInventory(ctx, id)
	if errors.Is(err, ocfl.ErrNotFound) {
		var v1 *inventory.Inventory
		u0, v1Err := inventory.New(id, r.spec.AsInvType(), r.digestAlgorithm, r.contentDirectory)
		if v1Err == nil {
			v1, v1Err = u0.BuildNewInventory(cfg.createdOrNow(), "", nil)
		}
		if v1Err == nil {
			v1Err = r.writer.Publish(ctx, r.fsys, id, objRoot, v1, func(context.Context, string) error { return nil })
		}
		if v1Err != nil {
			return v1Err
		}
		rootInv, _, err = r.loadInventory(ctx, id)
	}
	if err != nil {
		return err
	}
	head, err := r.mutableHeadInventory(ctx, objRoot)
	if err != nil {
		return err
	}
	prev := rootInv
	if head != nil {
		prev = head
	}

	u, err := inventory.NewFromPrevious(prev, inventory.CopyMutable)
	if err != nil {
		return err
	}
	// The revision's inventory is built only after fn has staged its
	// changes, since its validation (I6) needs the revision's own rK
	// content in the manifest. Until then inv carries just the head and
	// revision numbers MutableHead.StageChanges reads before populate runs.
	inv := &inventory.Inventory{ID: prev.ID, DigestAlgorithm: prev.DigestAlgorithm, Head: u.Head(), RevisionNum: u.RevisionNum()}

	populate := func(ctx context.Context, stagingRoot string) error {
		uc := &UpdateContext{u: u, dstFS: r.fsys, dstDir: stagingRoot, addFileOpts: r.addFileProcessOptions()}
		if err := fn(ctx, uc); err != nil {
			return err
		}
		built, err := u.BuildNewInventory(cfg.createdOrNow(), cfg.message, cfg.user)
		if err != nil {
			return err
		}
		built.PreviousDigest = prev.CurrentDigest
		*inv = *built
		return nil
	}
	return r.mutHead.StageChanges(ctx, r.fsys, id, objRoot, prev, inv, populate)
}

// CommitStagedChanges implements commit_staged_changes (spec §4.7/§4.8):
// folds id's accumulated mutable HEAD revisions into one new immutable
// version. A no-op if id has no active mutable HEAD.
func (r *Repository) CommitStagedChanges(ctx context.Context, id string) error {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	head, err := r.mutableHeadInventory(ctx, objRoot)
	if err != nil {
		return err
	}
	if head == nil {
		return nil
	}
	if err := r.mutHead.CommitStagedChanges(ctx, r.fsys, id, objRoot, head); err != nil {
		return err
	}
	r.objCache.Invalidate(id)
	return nil
}

// PurgeStagedChanges implements purge_staged_changes (spec §4.7/§4.8):
// discards id's mutable HEAD entirely, leaving its last published version
// as the head. Idempotent if no mutable HEAD is active.
func (r *Repository) PurgeStagedChanges(ctx context.Context, id string) error {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return err
	}
	if err := r.mutHead.PurgeStagedChanges(ctx, r.fsys, id, objRoot); err != nil {
		return err
	}
	r.objCache.Invalidate(id)
	return nil
}
