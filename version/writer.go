// Package version implements the atomic commit protocol that turns a
// staged inventory.Updater into a durable, published object version (spec
// §4.6), and the mutable HEAD extension that lets several revisions
// accumulate inside one version directory before being sealed (spec §4.7).
package version

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/cache"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/inventory"
	"github.com/ocflcore/ocfl/lock"
	"github.com/ocflcore/ocfl/logging"
)

// defaultWorkDir is the storage-root-relative directory staging
// directories are created under, one UUID-named subdirectory per commit
// attempt.
const defaultWorkDir = ".ocfl-work"

// Populate stages a version's new content under stagingRoot, e.g. by
// calling addfile.Process with dstDir = stagingRoot (content paths already
// carry their "vH/contentDir/..." prefix). It runs before any lock is
// held, so it does not block other readers or writers of the object.
type Populate func(ctx context.Context, stagingDir string) error

// Writer publishes new immutable versions, implementing the 4-step atomic
// commit protocol (spec §4.6). A Writer is safe for concurrent use across
// objects; per-object mutual exclusion comes from its lock.Manager.
type Writer struct {
	locks   *lock.Manager
	cache   *cache.Cache
	log     *slog.Logger
	workDir string

	// fixityCheck re-verifies every new content file's digest against the
	// manifest after the version directory lands in the object root.
	// Disabled by default: the move is assumed fast and not at risk of
	// silent corruption when staging and the object root share a volume.
	fixityCheck bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithCache stores each successfully committed inventory in c, replacing
// any entry and saving callers a round-trip reload of the just-published
// inventory; a commit that finds the object out of sync drops the entry.
func WithCache(c *cache.Cache) Option { return func(w *Writer) { w.cache = c } }

// WithLogger sets the logger used for best-effort cleanup failures.
func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.log = l } }

// WithWorkDir overrides the storage-root-relative staging directory.
func WithWorkDir(dir string) Option { return func(w *Writer) { w.workDir = dir } }

// WithFixityCheck enables the optional step-3d content fixity
// verification.
func WithFixityCheck(enabled bool) Option { return func(w *Writer) { w.fixityCheck = enabled } }

// New returns a Writer whose commits are serialized per-object through
// locks.
func New(locks *lock.Manager, opts ...Option) *Writer {
	w := &Writer{locks: locks, workDir: defaultWorkDir}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.OrDefault(w.log)
	return w
}

// Publish runs the full version-write protocol for inv (built by an
// inventory.Updater in Blank or Copy mode; CopyMutable inventories are
// published through the mutable HEAD controller instead) against objRoot
// in fsys. populate is invoked once, unlocked, to stage inv's new content;
// Publish then acquires objID's write lock for the remainder of the
// protocol.
func (w *Writer) Publish(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot string, inv *inventory.Inventory, populate Populate) error {
	// Step 1: stage.
	stagingDir := path.Join(w.workDir, sanitizeWorkSegment(objID), uuid.New().String())
	defer func() {
		if err := fsys.RemoveAll(ctx, stagingDir); err != nil {
			w.log.Warn("cleaning up staging directory", "dir", stagingDir, "error", err)
		}
	}()

	// populate is handed the staging root, not the version subdirectory:
	// content paths produced by the updater (and so by addfile.Process)
	// already carry their "vH/contentDir/..." prefix, so dstDir must be
	// the root for that prefix to land the file under vnDir.
	vnDir := path.Join(stagingDir, inv.Head.String())
	if err := populate(ctx, stagingDir); err != nil {
		return fmt.Errorf("staging version %s content: %w", inv.Head, err)
	}

	// Step 2: write inventory. It is written into both the staging root
	// (the copy committed to the object root in step 3e) and the version
	// directory about to be moved into place (so the version directory
	// carries its own permanent inventory snapshot, restorable by a later
	// rollback_to_version or a failed-commit recovery in step 3f).
	if err := inventory.Write(ctx, fsys, inv, stagingDir, vnDir); err != nil {
		return fmt.Errorf("writing staged inventory for %s: %w", inv.Head, err)
	}

	// Step 3: under the object's write lock.
	return w.locks.DoInWriteLock(ctx, objID, func(ctx context.Context) error {
		return w.commit(ctx, fsys, objID, objRoot, stagingDir, vnDir, inv)
	})
}

func (w *Writer) commit(ctx context.Context, fsys ocflfs.WriteFS, objID, objRoot, stagingDir, vnDir string, inv *inventory.Inventory) error {
	isV1 := inv.Head.First()
	destVn := path.Join(objRoot, inv.Head.String())

	// 3a: v1 creates the object root.
	if isV1 {
		if err := ocfl.WriteDeclaration(ctx, fsys, objRoot, ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: inv.Type.Spec}); err != nil {
			return &ocfl.CommitError{Err: fmt.Errorf("declaring object root: %w", err)}
		}
	}

	// 3b: verify the prior inventory hasn't changed since this version was
	// staged against it. Checked before anything is moved into destVn, so a
	// losing racer never clobbers a version directory a concurrent commit
	// already published there (mirrors the teacher's commit: the
	// version-directory-exists check runs before any mutation, not after).
	if inv.PreviousDigest != "" {
		cur, err := readRootSidecarDigest(ctx, fsys, objRoot, inv.DigestAlgorithm)
		if err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return &ocfl.CommitError{Err: fmt.Errorf("reading root sidecar: %w", err)}
		}
		if !strings.EqualFold(cur, inv.PreviousDigest) {
			cause := fmt.Errorf("%w: root inventory changed since %s was staged", ocfl.ErrObjectOutOfSync, inv.Head)
			dirty := false
			if isV1 {
				if rmErr := fsys.RemoveAll(ctx, objRoot); rmErr != nil {
					cause = errors.Join(cause, rmErr)
					dirty = true
				}
			}
			if w.cache != nil {
				w.cache.Invalidate(objID)
			}
			return &ocfl.CommitError{Err: cause, Dirty: dirty}
		}
	}

	// 3c: move the staged version directory into place.
	if err := ocflfs.MoveDirIn(ctx, fsys, destVn, vnDir); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			// The existing directory belongs to another commit: it is
			// left in place rather than removed by abort.
			if w.cache != nil {
				w.cache.Invalidate(objID)
			}
			return &ocfl.CommitError{Err: fmt.Errorf("%w: version directory %s already exists", ocfl.ErrObjectOutOfSync, inv.Head)}
		}
		return w.abort(ctx, fsys, objRoot, destVn, isV1, fmt.Errorf("moving %s into place: %w", inv.Head, err))
	}

	// 3d: optional content fixity check over the version's new content.
	if w.fixityCheck {
		if err := verifyContentFixity(ctx, fsys, objRoot, inv); err != nil {
			return w.abort(ctx, fsys, objRoot, destVn, isV1, err)
		}
	}

	// 3e/3f: publish the root inventory, with retry; roll back on failure.
	if err := w.publishRootInventory(ctx, fsys, stagingDir, objRoot, inv); err != nil {
		err = fmt.Errorf("publishing root inventory for %s: %w", inv.Head, err)
		if isV1 {
			if rmErr := fsys.RemoveAll(ctx, objRoot); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
		} else {
			if restoreErr := w.restorePreviousRootInventory(ctx, fsys, objRoot, inv); restoreErr != nil {
				err = errors.Join(err, restoreErr)
			}
			if rmErr := fsys.RemoveAll(ctx, destVn); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
		}
		return &ocfl.CommitError{Err: err, Dirty: true}
	}

	// 3g: cache the new inventory.
	if w.cache != nil {
		w.cache.Put(objID, inv)
	}
	return nil
}

// abort enforces the rollback rule that vN must not remain on disk after
// any failure before step 3e: the version directory is safe-deleted
// (falling back to purging the whole object root for a failed v1).
func (w *Writer) abort(ctx context.Context, fsys ocflfs.WriteFS, objRoot, destVn string, isV1 bool, cause error) error {
	if isV1 {
		if err := fsys.RemoveAll(ctx, objRoot); err != nil {
			cause = errors.Join(cause, fmt.Errorf("purging object root: %w", err))
		}
	} else if err := fsys.RemoveAll(ctx, destVn); err != nil {
		cause = errors.Join(cause, fmt.Errorf("removing partial version directory: %w", err))
	}
	return &ocfl.CommitError{Err: cause, Dirty: true}
}

// publishRootInventory copies the staged inventory and sidecar into the
// object root, retrying transient I/O errors with exponential backoff (5
// attempts, 5ms initial interval, 200ms cap, ±10% jitter).
func (w *Writer) publishRootInventory(ctx context.Context, fsys ocflfs.WriteFS, stagingDir, objRoot string, inv *inventory.Inventory) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond
	eb.RandomizationFactor = 0.1
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, 4), ctx)

	sidecarName := "inventory." + inv.DigestAlgorithm
	op := func() error {
		if _, err := ocflfs.CopyFile(ctx, fsys, path.Join(objRoot, "inventory.json"), path.Join(stagingDir, "inventory.json")); err != nil {
			return err
		}
		if _, err := ocflfs.CopyFile(ctx, fsys, path.Join(objRoot, sidecarName), path.Join(stagingDir, sidecarName)); err != nil {
			return err
		}
		return nil
	}
	return backoff.Retry(op, policy)
}

// restorePreviousRootInventory recopies v(N-1)'s archived inventory and
// sidecar back over the object root's copies, undoing a partially applied
// step 3e.
func (w *Writer) restorePreviousRootInventory(ctx context.Context, fsys ocflfs.WriteFS, objRoot string, inv *inventory.Inventory) error {
	prev, err := inv.Head.Prev()
	if err != nil {
		return fmt.Errorf("no previous version to restore: %w", err)
	}
	prevDir := path.Join(objRoot, prev.String())
	sidecarName := "inventory." + inv.DigestAlgorithm
	if _, err := ocflfs.CopyFile(ctx, fsys, path.Join(objRoot, "inventory.json"), path.Join(prevDir, "inventory.json")); err != nil {
		return fmt.Errorf("restoring previous root inventory: %w", err)
	}
	if _, err := ocflfs.CopyFile(ctx, fsys, path.Join(objRoot, sidecarName), path.Join(prevDir, sidecarName)); err != nil {
		return fmt.Errorf("restoring previous root sidecar: %w", err)
	}
	return nil
}

// verifyContentFixity recomputes the digest of every manifest content path
// introduced by inv's head version and compares it to the manifest. Files
// that were already in the manifest under a prior version (deduplicated
// content) are skipped, since they weren't written as part of this commit.
func verifyContentFixity(ctx context.Context, fsys ocflfs.FS, objRoot string, inv *inventory.Inventory) error {
	alg, err := inv.Alg()
	if err != nil {
		return err
	}
	prefix := inv.Head.String() + "/"
	var checkErr error
	inv.Manifest.EachPath(func(p, sum string) bool {
		if !strings.HasPrefix(p, prefix) {
			return true
		}
		f, err := fsys.OpenFile(ctx, path.Join(objRoot, p))
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return true // "for every file actually present"
			}
			checkErr = fmt.Errorf("opening %q: %w", p, err)
			return false
		}
		defer f.Close()
		d := digest.NewDigester(alg)
		if _, err := d.ReadFrom(ctx, f); err != nil {
			checkErr = fmt.Errorf("digesting %q: %w", p, err)
			return false
		}
		if got := d.Sums()[alg.ID()]; !strings.EqualFold(got, sum) {
			checkErr = fmt.Errorf("%w: %s: expected %s, got %s", ocfl.ErrFixity, p, sum, got)
			return false
		}
		return true
	})
	return checkErr
}

func readRootSidecarDigest(ctx context.Context, fsys ocflfs.FS, objRoot, algorithmID string) (string, error) {
	raw, err := ocflfs.ReadAll(ctx, fsys, path.Join(objRoot, "inventory."+algorithmID))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty root sidecar", ocfl.ErrCorruptObject)
	}
	return fields[0], nil
}

// sanitizeWorkSegment replaces path separators in an object id so it can
// be used as one segment of the staging directory's path.
func sanitizeWorkSegment(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(id)
}
