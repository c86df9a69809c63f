package version

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"strings"

	"github.com/google/uuid"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/inventory"
)

// mutableHeadExtensionDir is the object-root-relative path of the
// 0005-mutable-head extension subtree.
const mutableHeadExtensionDir = "extensions/0005-mutable-head"

// MutableHead implements the mutable HEAD controller (spec §4.7): staging
// successive revisions inside a single version directory under
// objectRoot/extensions/0005-mutable-head/head, then sealing them into one
// immutable version. It shares its Writer's lock manager, cache, logger,
// and staging work directory, reusing the same root-inventory publish/
// retry machinery for the extension subtree's own inventory copy.
type MutableHead struct {
	writer *Writer
}

// NewMutableHead returns a MutableHead controller built on w.
func NewMutableHead(w *Writer) *MutableHead { return &MutableHead{writer: w} }

func headDir(objRoot string) string            { return path.Join(objRoot, mutableHeadExtensionDir, "head") }
func revisionsDir(objRoot string) string       { return path.Join(headDir(objRoot), "revisions") }
func rootSnapshotName(algorithmID string) string { return "root-inventory." + algorithmID }

// HasStagedChanges reports whether inv — the object's currently loaded
// inventory, whichever of the root or the mutable HEAD's own copy that is
// — represents an in-progress mutable HEAD.
func HasStagedChanges(inv *inventory.Inventory) bool {
	return inv != nil && inv.RevisionNum != nil
}

// CheckSync compares the mutable HEAD's saved root-sidecar snapshot
// against the object root's current sidecar. A mismatch means the base
// version was mutated (or rolled back) since the mutable HEAD was
// created, out from under it.
func CheckSync(ctx context.Context, fsys ocflfs.FS, objRoot string, inv *inventory.Inventory) error {
	if !HasStagedChanges(inv) {
		return nil
	}
	snapshotPath := path.Join(headDir(objRoot), rootSnapshotName(inv.DigestAlgorithm))
	snapshot, err := ocflfs.ReadAll(ctx, fsys, snapshotPath)
	if err != nil {
		return fmt.Errorf("reading mutable HEAD root snapshot: %w", err)
	}
	currentPath := path.Join(objRoot, "inventory."+inv.DigestAlgorithm)
	current, err := ocflfs.ReadAll(ctx, fsys, currentPath)
	if err != nil {
		return fmt.Errorf("reading root sidecar: %w", err)
	}
	if strings.TrimSpace(string(snapshot)) != strings.TrimSpace(string(current)) {
		return fmt.Errorf("%w: object root changed since the mutable HEAD was created", ocfl.ErrObjectOutOfSync)
	}
	return nil
}

// StageChanges runs the stage_changes protocol for inv — built by the
// caller via a CopyMutable inventory.Updater against prev (the object's
// current inventory: its root inventory if no mutable HEAD is active yet,
// or the mutable HEAD's own inventory otherwise) — mirroring how
// Writer.Publish takes an already-finalized inventory rather than building
// one itself. populate stages inv's new content under the staging root it
// is given. inv's Head is read before populate runs, but inv is serialized
// only after populate returns, so its content may be decided through the
// updater's AddFile/RemoveFile/etc. either before calling StageChanges or
// inside populate. Creating an empty v1 for a
// brand-new object is the caller's responsibility (the repository
// facade), since only it decides when an object is "new".
func (m *MutableHead) StageChanges(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot string, prev, inv *inventory.Inventory, populate Populate) error {
	if prev == nil {
		return fmt.Errorf("%w: object must exist before staging mutable HEAD changes", ocfl.ErrOcflState)
	}

	stagingDir := path.Join(m.writer.workDir, sanitizeWorkSegment(objID), uuid.New().String())
	defer func() {
		if rmErr := fsys.RemoveAll(ctx, stagingDir); rmErr != nil {
			m.writer.log.Warn("cleaning up mutable HEAD staging directory", "dir", stagingDir, "error", rmErr)
		}
	}()

	// populate is handed the staging root, matching Writer.Publish: content
	// paths produced by the updater already carry their full
	// "vH/contentDir/rK/..." prefix, so dstDir must be the root.
	vnDir := path.Join(stagingDir, inv.Head.String())
	if err := populate(ctx, stagingDir); err != nil {
		return fmt.Errorf("staging mutable HEAD revision: %w", err)
	}
	if err := inventory.Write(ctx, fsys, inv, stagingDir); err != nil {
		return fmt.Errorf("writing staged mutable HEAD inventory: %w", err)
	}

	return m.writer.locks.DoInWriteLock(ctx, objID, func(ctx context.Context) error {
		return m.commitRevision(ctx, fsys, objID, objRoot, stagingDir, vnDir, prev, inv)
	})
}

func (m *MutableHead) commitRevision(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot, stagingDir, vnDir string, prev, inv *inventory.Inventory) error {
	if err := CheckSync(ctx, fsys, objRoot, prev); err != nil {
		return &ocfl.CommitError{Err: err}
	}
	hDir := headDir(objRoot)
	firstRevision := prev.RevisionNum == nil

	// The revision marker's existence is meant to be created with an
	// atomic O_EXCL-style primitive (spec §4.7); this module's WriteFS
	// abstraction has no such primitive, so the check-then-write below is
	// exact only against other writers that respect the same write lock
	// — adequate for the single-process in-memory Manager this engine
	// ships, but not a guarantee against an external, uncoordinated writer.
	markerPath := path.Join(revisionsDir(objRoot), inv.RevisionNum.String())
	switch exists, err := ocflfs.FileExists(ctx, fsys, markerPath); {
	case err != nil:
		return &ocfl.CommitError{Err: fmt.Errorf("checking revision marker: %w", err)}
	case exists:
		return &ocfl.CommitError{Err: fmt.Errorf("%w: revision %s already recorded", ocfl.ErrObjectOutOfSync, inv.RevisionNum)}
	}
	if _, err := fsys.Write(ctx, markerPath, strings.NewReader("")); err != nil {
		return &ocfl.CommitError{Err: fmt.Errorf("creating revision marker: %w", err)}
	}

	// Move the revision's staged content directory into the mutable HEAD.
	revDir := path.Join(inv.ContentDirOrDefault(), inv.RevisionNum.String())
	destRevDir := path.Join(hDir, inv.Head.String(), revDir)
	if err := ocflfs.MoveDirIn(ctx, fsys, destRevDir, path.Join(vnDir, revDir)); err != nil {
		return &ocfl.CommitError{Err: fmt.Errorf("moving revision %s into mutable HEAD: %w", inv.RevisionNum, err), Dirty: true}
	}

	if firstRevision {
		rootSidecar := path.Join(objRoot, "inventory."+inv.DigestAlgorithm)
		snapshot := path.Join(hDir, rootSnapshotName(inv.DigestAlgorithm))
		if _, err := ocflfs.CopyFile(ctx, fsys, snapshot, rootSidecar); err != nil {
			return &ocfl.CommitError{Err: fmt.Errorf("snapshotting root sidecar: %w", err), Dirty: true}
		}
	}

	// Publish the head inventory under the mutable HEAD path, reusing the
	// Writer's retrying copy-into-place (spec §4.6 steps 3e/3f, scoped to
	// hDir instead of the object root).
	if err := m.writer.publishRootInventory(ctx, fsys, stagingDir, hDir, inv); err != nil {
		return &ocfl.CommitError{Err: fmt.Errorf("publishing mutable HEAD inventory: %w", err), Dirty: true}
	}

	// Intra-revision cleanup: content staged then orphaned within the same
	// stage_changes call (e.g. added, then removed, before the revision
	// was committed) never needed to exist in the revision's own
	// directory; anything the manifest no longer references is deleted.
	if err := deleteOrphanedContent(ctx, fsys, hDir, inv); err != nil {
		m.writer.log.Warn("cleaning up orphaned mutable HEAD content", "error", err)
	}

	if m.writer.cache != nil {
		m.writer.cache.Invalidate(objID)
	}
	return nil
}

// CommitStagedChanges runs the commit_staged_changes protocol: folds the
// mutable HEAD's accumulated revisions into a single immutable version and
// seals it into the object root. headInv is the mutable HEAD's own loaded
// inventory; if it has no active mutable HEAD, this is a no-op.
func (m *MutableHead) CommitStagedChanges(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot string, headInv *inventory.Inventory) error {
	if !HasStagedChanges(headInv) {
		return nil
	}
	return m.writer.locks.DoInWriteLock(ctx, objID, func(ctx context.Context) error {
		return m.seal(ctx, fsys, objID, objRoot, headInv)
	})
}

// seal flattens headInv's vH/contentDir/rK/... manifest entries to
// vH/contentDir/..., clears RevisionNum, and publishes the result as an
// ordinary immutable version via the same move/retry/rollback machinery
// the Version Writer uses — just reading the staged content from the
// extension subtree instead of a fresh Populate callback.
func (m *MutableHead) seal(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot string, headInv *inventory.Inventory) error {
	if err := CheckSync(ctx, fsys, objRoot, headInv); err != nil {
		return &ocfl.CommitError{Err: err}
	}
	hDir := headDir(objRoot)

	sealed, pathRewrites, err := flattenRevisions(headInv)
	if err != nil {
		return &ocfl.CommitError{Err: err}
	}

	// Rewrite the physical content layout in place, inside the mutable
	// HEAD directory, before it becomes the object's real version
	// directory: vH/contentDir/rK/x -> vH/contentDir/x.
	for oldPath, newPath := range pathRewrites {
		if oldPath == newPath {
			continue
		}
		oldFull := path.Join(hDir, oldPath)
		newFull := path.Join(hDir, newPath)
		if _, err := ocflfs.CopyFile(ctx, fsys, newFull, oldFull); err != nil {
			return &ocfl.CommitError{Err: fmt.Errorf("flattening %q: %w", oldPath, err), Dirty: true}
		}
	}
	for oldPath, newPath := range pathRewrites {
		if oldPath == newPath {
			continue
		}
		if err := fsys.Remove(ctx, path.Join(hDir, oldPath)); err != nil {
			m.writer.log.Warn("removing pre-flatten revision content", "path", oldPath, "error", err)
		}
	}

	// Delete any stale content left in the mutable HEAD directory that the
	// flattened manifest no longer references.
	if err := deleteOrphanedContent(ctx, fsys, hDir, sealed); err != nil {
		m.writer.log.Warn("cleaning up stale mutable HEAD content before seal", "error", err)
	}

	stagingDir := path.Join(m.writer.workDir, sanitizeWorkSegment(objID), uuid.New().String())
	defer func() {
		if rmErr := fsys.RemoveAll(ctx, stagingDir); rmErr != nil {
			m.writer.log.Warn("cleaning up seal staging directory", "dir", stagingDir, "error", rmErr)
		}
	}()
	// As in Writer.Publish, the inventory also goes into the version
	// directory itself, so the sealed version carries its own snapshot.
	srcVn := path.Join(hDir, sealed.Head.String())
	if err := inventory.Write(ctx, fsys, sealed, stagingDir, srcVn); err != nil {
		return &ocfl.CommitError{Err: fmt.Errorf("writing sealed inventory: %w", err), Dirty: true}
	}

	// Move the flattened version directory out of the extension subtree
	// and into the object's real version sequence.
	destVn := path.Join(objRoot, sealed.Head.String())
	if err := ocflfs.MoveDirIn(ctx, fsys, destVn, srcVn); err != nil {
		return &ocfl.CommitError{Err: fmt.Errorf("moving sealed version into place: %w", err), Dirty: true}
	}

	if err := m.writer.publishRootInventory(ctx, fsys, stagingDir, objRoot, sealed); err != nil {
		if restoreErr := m.writer.restorePreviousRootInventory(ctx, fsys, objRoot, sealed); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		if rmErr := fsys.RemoveAll(ctx, destVn); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return &ocfl.CommitError{Err: fmt.Errorf("publishing sealed root inventory: %w", err), Dirty: true}
	}

	// Delete the extension subtree; failure here is logged, not raised.
	if err := fsys.RemoveAll(ctx, path.Join(objRoot, mutableHeadExtensionDir)); err != nil {
		m.writer.log.Warn("removing mutable HEAD extension subtree after seal", "error", err)
	}

	if m.writer.cache != nil {
		m.writer.cache.Put(objID, sealed)
	}
	return nil
}

// flattenRevisions returns a copy of headInv with RevisionNum cleared and
// every manifest content path under vH/contentDir/rK/... rewritten to
// vH/contentDir/... (spec §4.7 commit_staged_changes), plus the map of old
// to new content paths the caller must apply to the physical files.
func flattenRevisions(headInv *inventory.Inventory) (*inventory.Inventory, map[string]string, error) {
	contentDir := headInv.ContentDirOrDefault()
	prefix := headInv.Head.String() + "/" + contentDir + "/"

	rewrites := map[string]string{}
	newManifest := headInv.Manifest.Clone()
	for _, oldPath := range headInv.Manifest.Paths() {
		if !strings.HasPrefix(oldPath, prefix) {
			continue
		}
		rest := oldPath[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 && isRevisionSegment(rest[:i]) {
			rest = rest[i+1:]
		}
		newPath := prefix + rest
		if newPath == oldPath {
			continue
		}
		sum := headInv.Manifest.GetDigest(oldPath)
		newManifest.Remove(oldPath)
		if err := newManifest.Add(sum, newPath); err != nil {
			return nil, nil, fmt.Errorf("flattening manifest: %w", err)
		}
		rewrites[oldPath] = newPath
	}

	newFixity := make(map[string]*digest.Map, len(headInv.Fixity))
	for algID, m := range headInv.Fixity {
		fm := m.Clone()
		for oldPath, newPath := range rewrites {
			sum := fm.GetDigest(oldPath)
			if sum == "" {
				continue
			}
			fm.Remove(oldPath)
			if err := fm.Add(sum, newPath); err != nil {
				return nil, nil, fmt.Errorf("flattening fixity block %q: %w", algID, err)
			}
		}
		newFixity[algID] = fm
	}

	sealed := &inventory.Inventory{
		ID:               headInv.ID,
		Type:             headInv.Type,
		DigestAlgorithm:  headInv.DigestAlgorithm,
		ContentDirectory: headInv.ContentDirectory,
		Head:             headInv.Head,
		RevisionNum:      nil,
		Manifest:         newManifest,
		Fixity:           newFixity,
		Versions:         headInv.Versions,
	}
	if err := sealed.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating sealed inventory: %w", err)
	}
	return sealed, rewrites, nil
}

func isRevisionSegment(s string) bool {
	if len(s) < 2 || s[0] != 'r' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// PurgeStagedChanges runs the purge_staged_changes protocol: deletes the
// mutable HEAD extension subtree outright, discarding all unsealed
// revisions.
func (m *MutableHead) PurgeStagedChanges(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot string) error {
	return m.writer.locks.DoInWriteLock(ctx, objID, func(ctx context.Context) error {
		if err := fsys.RemoveAll(ctx, path.Join(objRoot, mutableHeadExtensionDir)); err != nil {
			return fmt.Errorf("purging mutable HEAD: %w", err)
		}
		if m.writer.cache != nil {
			m.writer.cache.Invalidate(objID)
		}
		return nil
	})
}

// deleteOrphanedContent removes files under hDir's content directory for
// inv's head version that inv.Manifest no longer references.
func deleteOrphanedContent(ctx context.Context, fsys ocflfs.WriteFS, hDir string, inv *inventory.Inventory) error {
	contentRoot := path.Join(inv.Head.String(), inv.ContentDirOrDefault())
	referenced := map[string]bool{}
	for _, p := range inv.Manifest.Paths() {
		referenced[p] = true
	}
	var stale []string
	err := ocflfs.ListRecursive(ctx, fsys, path.Join(hDir, contentRoot), func(rel string) error {
		full := path.Join(contentRoot, rel)
		if !referenced[full] {
			stale = append(stale, path.Join(hDir, full))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, s := range stale {
		if err := fsys.Remove(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
