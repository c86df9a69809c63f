// Package repository implements the Repository Facade (spec.md §4.8): the
// single entry point that ties the inventory model, the storage backend,
// storage layout extensions, the version writer, and the mutable HEAD
// controller together into the object-lifecycle operations callers actually
// use (put_object, update_object, get_object, and the rest of the table in
// §4.8). It is the package doc.go already promises and everything else in
// this module exists to serve; grounded on the teacher's ocflv1.Store /
// ocfl.Root (root.go, store.go, ocflv1/store*.go), which plays the same
// tying-together role for the teacher's own object model.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path"
	"time"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/cache"
	"github.com/ocflcore/ocfl/digest"
	"github.com/ocflcore/ocfl/extension"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/inventory"
	"github.com/ocflcore/ocfl/lock"
	"github.com/ocflcore/ocfl/logging"
	"github.com/ocflcore/ocfl/version"
)

const (
	layoutConfigFile    = "ocfl_layout.json"
	extensionsDir       = "extensions"
	extensionConfigFile = "config.json"
	descriptionKey      = "description"
	extensionKey        = "extension"
)

// Repository is a storage root plus everything needed to operate on the
// OCFL objects inside it: per-object locking (package lock), an inventory
// cache (package cache), the atomic version writer and mutable HEAD
// controller (package version), and the storage layout extension that maps
// object ids to object-root paths (package extension).
type Repository struct {
	fsys    ocflfs.WriteFS
	rootDir string
	spec    ocfl.Spec
	layout  extension.Layout

	locks    *lock.Manager
	objCache *cache.Cache
	writer   *version.Writer
	mutHead  *version.MutableHead
	log      *slog.Logger

	digestAlgorithm  string
	contentDirectory string
	addFileOpts      addFileDefaults
}

// addFileDefaults carries the Add-File Processor options (spec §4.4, §4.12)
// a Repository applies to every content-staging call unless a per-call
// Option overrides them.
type addFileDefaults struct {
	digestPoolSize   int
	copyPoolSize     int
	fixityAlgorithms []string
}

type settings struct {
	lockTimeout      time.Duration
	cacheSize        int
	cacheTTL         time.Duration
	log              *slog.Logger
	digestAlgorithm  string
	contentDirectory string
	layout           extension.Layout
	layoutDesc       string
	fixityCheck      bool
	workDir          string
	spec             ocfl.Spec
	addFileOpts      addFileDefaults
}

func defaultSettings() settings {
	return settings{
		lockTimeout:     30 * time.Second,
		cacheSize:       1024,
		cacheTTL:        5 * time.Minute,
		digestAlgorithm: digest.SHA512,
		spec:            ocfl.Spec1_1,
	}
}

// Option configures a Repository at construction (spec §4.11: functional
// options, not a config struct passed positionally).
type Option func(*settings)

// WithLockTimeout bounds how long a write or read lock acquisition waits
// before failing with ErrLockAcquisition (spec §4.5).
func WithLockTimeout(d time.Duration) Option { return func(s *settings) { s.lockTimeout = d } }

// WithCache sizes the inventory cache (spec §4.8 design notes).
func WithCache(size int, ttl time.Duration) Option {
	return func(s *settings) { s.cacheSize, s.cacheTTL = size, ttl }
}

// WithLogger sets the *slog.Logger used for lifecycle and cleanup logging
// (spec §4.9).
func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.log = l } }

// WithDigestAlgorithm sets the primary digest algorithm (sha256 or sha512,
// invariant I5) used for new objects created by this Repository.
func WithDigestAlgorithm(id string) Option { return func(s *settings) { s.digestAlgorithm = id } }

// WithContentDirectory overrides the default "content" directory name used
// for new objects.
func WithContentDirectory(name string) Option {
	return func(s *settings) { s.contentDirectory = name }
}

// WithLayout sets the storage layout extension (spec §4.2) used to resolve
// object ids to storage-root-relative paths. If the storage root already
// has a persisted layout, the persisted one wins; this applies when
// initializing a new, empty storage root, or when an existing root has no
// persisted layout.
func WithLayout(layout extension.Layout, description string) Option {
	return func(s *settings) { s.layout, s.layoutDesc = layout, description }
}

// WithFixityCheck enables the version writer's optional post-move content
// fixity re-verification (spec §4.6 step 3d).
func WithFixityCheck(enabled bool) Option { return func(s *settings) { s.fixityCheck = enabled } }

// WithWorkDir overrides the storage-root-relative staging directory.
func WithWorkDir(dir string) Option { return func(s *settings) { s.workDir = dir } }

// WithDigestPoolSize bounds the Add-File Processor's digest worker pool.
func WithDigestPoolSize(n int) Option { return func(s *settings) { s.addFileOpts.digestPoolSize = n } }

// WithCopyPoolSize bounds the Add-File Processor's copy/move worker pool.
func WithCopyPoolSize(n int) Option { return func(s *settings) { s.addFileOpts.copyPoolSize = n } }

// WithFixityAlgorithms sets secondary digest algorithms (spec §4.14)
// recorded in each new content file's fixity block.
func WithFixityAlgorithms(ids ...string) Option {
	return func(s *settings) { s.addFileOpts.fixityAlgorithms = ids }
}

// New opens the OCFL storage root at rootDir in fsys, initializing it (an
// empty or nonexistent rootDir becomes a fresh storage root, declared with
// a NAMASTE file and a persisted storage layout extension) if it does not
// already exist.
func New(ctx context.Context, fsys ocflfs.WriteFS, rootDir string, opts ...Option) (*Repository, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.log = logging.OrDefault(cfg.log)

	entries, err := ocflfs.ListDir(ctx, fsys, rootDir)
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("reading storage root %q: %w", rootDir, err)
	}

	repo := &Repository{
		fsys:             fsys,
		rootDir:          rootDir,
		locks:            lock.New(cfg.lockTimeout),
		objCache:         cache.New(cfg.cacheSize, cfg.cacheTTL),
		log:              cfg.log,
		digestAlgorithm:  cfg.digestAlgorithm,
		contentDirectory: cfg.contentDirectory,
		addFileOpts:      cfg.addFileOpts,
	}

	if len(entries) == 0 {
		if err := repo.initRoot(ctx, cfg); err != nil {
			return nil, fmt.Errorf("initializing storage root %q: %w", rootDir, err)
		}
	} else {
		if err := repo.openRoot(ctx, entries, cfg); err != nil {
			return nil, err
		}
	}

	var writerOpts []version.Option
	writerOpts = append(writerOpts, version.WithCache(repo.objCache), version.WithLogger(repo.log), version.WithFixityCheck(cfg.fixityCheck))
	workDir := cfg.workDir
	if workDir == "" {
		workDir = ".ocfl-work"
	}
	writerOpts = append(writerOpts, version.WithWorkDir(path.Join(rootDir, workDir)))
	repo.writer = version.New(repo.locks, writerOpts...)
	repo.mutHead = version.NewMutableHead(repo.writer)
	return repo, nil
}

func (r *Repository) initRoot(ctx context.Context, cfg settings) error {
	layout := cfg.layout
	if layout == nil {
		var err error
		layout, err = extension.Get(extension.NameFlatDirect)
		if err != nil {
			return err
		}
	}
	decl := ocfl.Namaste{Type: ocfl.NamasteTypeRoot, Version: cfg.spec}
	if err := ocfl.WriteDeclaration(ctx, r.fsys, r.rootDir, decl); err != nil {
		return err
	}
	if err := r.persistLayout(ctx, layout, cfg.layoutDesc); err != nil {
		return err
	}
	r.spec = cfg.spec
	r.layout = layout
	return nil
}

func (r *Repository) openRoot(ctx context.Context, entries []iofs.DirEntry, cfg settings) error {
	decl, err := ocfl.FindNamaste(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", ocfl.ErrRepositoryConfiguration, err)
	}
	if !decl.IsRoot() {
		return fmt.Errorf("%w: NAMASTE declaration at %q is not a storage root declaration", ocfl.ErrRepositoryConfiguration, r.rootDir)
	}
	r.spec = decl.Version
	layout, err := r.readLayout(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading storage layout: %v", ocfl.ErrRepositoryConfiguration, err)
	}
	if layout == nil {
		layout = cfg.layout
	}
	r.layout = layout
	return nil
}

// readLayout reads ocfl_layout.json and the named extension's persisted
// config.json, reproducing the same object id → path resolution across a
// close/reopen (spec §4.2, P11 layout round-trip).
func (r *Repository) readLayout(ctx context.Context) (extension.Layout, error) {
	raw, err := ocflfs.ReadAll(ctx, r.fsys, path.Join(r.rootDir, layoutConfigFile))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var config map[string]string
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", layoutConfigFile, err)
	}
	name := config[extensionKey]
	if name == "" {
		return nil, nil
	}
	confPath := path.Join(r.rootDir, extensionsDir, name, extensionConfigFile)
	confRaw, err := ocflfs.ReadAll(ctx, r.fsys, confPath)
	if err != nil {
		if !errors.Is(err, iofs.ErrNotExist) {
			return nil, err
		}
		return extension.Get(name)
	}
	return extension.Unmarshal(confRaw)
}

func (r *Repository) persistLayout(ctx context.Context, layout extension.Layout, desc string) error {
	config := map[string]string{extensionKey: layout.Name(), descriptionKey: desc}
	raw, err := json.Marshal(config)
	if err != nil {
		return err
	}
	if _, err := r.fsys.Write(ctx, path.Join(r.rootDir, layoutConfigFile), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("writing %s: %w", layoutConfigFile, err)
	}
	confRaw, err := extension.Marshal(layout)
	if err != nil {
		return err
	}
	confPath := path.Join(r.rootDir, extensionsDir, layout.Name(), extensionConfigFile)
	if _, err := r.fsys.Write(ctx, confPath, bytes.NewReader(confRaw)); err != nil {
		return fmt.Errorf("writing %s: %w", confPath, err)
	}
	return nil
}

// objectRoot resolves id to its storage-root-relative object root path via
// the active layout extension (spec §4.2).
func (r *Repository) objectRoot(id string) (string, error) {
	rel, err := r.layout.Resolve(id)
	if err != nil {
		return "", fmt.Errorf("resolving object id %q: %w", id, err)
	}
	return path.Join(r.rootDir, rel), nil
}

// loadInventory reads id's current root inventory, preferring the cache.
// It returns ocfl.ErrNotFound if the object doesn't exist.
func (r *Repository) loadInventory(ctx context.Context, id string) (*inventory.Inventory, string, error) {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return nil, "", err
	}
	if inv, ok := r.objCache.Get(id); ok {
		return inv, objRoot, nil
	}
	exists, err := ocflfs.FileExists(ctx, r.fsys, path.Join(objRoot, "inventory.json"))
	if err != nil {
		return nil, objRoot, err
	}
	if !exists {
		return nil, objRoot, fmt.Errorf("%w: object %q", ocfl.ErrNotFound, id)
	}
	inv, err := inventory.Read(ctx, r.fsys, objRoot)
	if err != nil {
		return nil, objRoot, err
	}
	r.objCache.Put(id, inv)
	return inv, objRoot, nil
}

// mutableHeadInventory loads the mutable HEAD's own inventory, if one is
// active for id. It returns (nil, nil) if there is no active mutable HEAD.
func (r *Repository) mutableHeadInventory(ctx context.Context, objRoot string) (*inventory.Inventory, error) {
	headDir := path.Join(objRoot, "extensions", "0005-mutable-head", "head")
	exists, err := ocflfs.FileExists(ctx, r.fsys, path.Join(headDir, "inventory.json"))
	if err != nil || !exists {
		return nil, err
	}
	return inventory.Read(ctx, r.fsys, headDir)
}

// FS returns the repository's storage backend.
func (r *Repository) FS() ocflfs.WriteFS { return r.fsys }

// Path returns the storage root's path relative to its FS.
func (r *Repository) Path() string { return r.rootDir }

// Spec returns the storage root's declared OCFL specification version.
func (r *Repository) Spec() ocfl.Spec { return r.spec }

// Layout returns the storage root's active layout extension.
func (r *Repository) Layout() extension.Layout { return r.layout }
