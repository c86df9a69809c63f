// Package addfile implements the Add-File Processor (spec.md §4.4): given a
// source file tree, a staging content directory, and the object's digest
// algorithm, it computes content digests in parallel, serially updates the
// pending inventory (since inventory.Updater is not safe for concurrent
// mutation), and then copies or moves the new content into place in
// parallel. Built on internal/pipeline's bounded fan-out/fan-in pool, the
// same mechanism the teacher uses for its own digest/stage workers.
package addfile

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"sort"

	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/internal/pipeline"
	"github.com/ocflcore/ocfl/inventory"
)

// Options configures a single Process call.
type Options struct {
	// MoveSource deletes the (now-emptied) source tree after a successful
	// copy, instead of leaving the originals in place.
	MoveSource bool
	// Overwrite is forwarded to the updater's AddFile calls.
	Overwrite bool
	// DigestPoolSize bounds the digest-computation worker pool. <= 0 uses
	// runtime.NumCPU().
	DigestPoolSize int
	// CopyPoolSize bounds the copy/move worker pool. <= 0 uses
	// 2 * effective DigestPoolSize.
	CopyPoolSize int
	// FixityAlgorithms are additional digest algorithms computed per file
	// and recorded via Updater.AddFixity.
	FixityAlgorithms []string
}

// sourceDigest pairs an enumerated source-relative path with its computed
// primary digest.
type sourceDigest struct {
	relPath string
	sum     string
	fixity  digest.Set
}

// Process enumerates every regular file under src (in srcFS), computes its
// digest(s), stages new content into dstDir (in dstFS) under updater's
// content-path scheme, and records the additions in updater. It returns the
// logical paths added, in enumeration order.
func Process(ctx context.Context, srcFS ocflfs.FS, src string, dstFS ocflfs.WriteFS, dstDir string, u *inventory.Updater, opts Options) ([]string, error) {
	alg := u.DigestAlgorithm()

	// Step 1: enumerate all regular files under src, deterministically.
	var relPaths []string
	if err := ocflfs.ListRecursive(ctx, srcFS, src, func(rel string) error {
		relPaths = append(relPaths, rel)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("enumerating source tree: %w", err)
	}
	sort.Strings(relPaths)

	fixityAlgs := make([]digest.Alg, 0, len(opts.FixityAlgorithms))
	for _, id := range opts.FixityAlgorithms {
		a, err := digest.Get(id)
		if err != nil {
			return nil, err
		}
		fixityAlgs = append(fixityAlgs, a)
	}

	// Step 2: compute digests in parallel, bounded by DigestPoolSize.
	digestGos := opts.DigestPoolSize
	if digestGos <= 0 {
		digestGos = runtime.NumCPU()
	}
	results := make(map[string]sourceDigest, len(relPaths))
	err := pipeline.Run(ctx,
		func(add func(string) error) error {
			for _, rel := range relPaths {
				if err := add(rel); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context, rel string) (sourceDigest, error) {
			f, err := srcFS.OpenFile(ctx, path.Join(src, rel))
			if err != nil {
				return sourceDigest{}, fmt.Errorf("opening %q: %w", rel, err)
			}
			defer f.Close()
			algs := append([]digest.Alg{alg}, fixityAlgs...)
			d := digest.NewDigester(algs...)
			if _, err := d.ReadFrom(ctx, f); err != nil {
				return sourceDigest{}, fmt.Errorf("digesting %q: %w", rel, err)
			}
			sums := d.Sums()
			return sourceDigest{relPath: rel, sum: sums[alg.ID()], fixity: sums}, nil
		},
		func(sd sourceDigest) error {
			results[sd.relPath] = sd
			return nil
		},
		digestGos,
	)
	if err != nil {
		return nil, fmt.Errorf("computing digests: %w", err)
	}

	// Step 3: serially update the inventory in deterministic enumeration
	// order, so two runs over identical inputs yield identical manifests.
	type newFile struct {
		srcRel      string
		contentPath string
	}
	var toCopy []newFile
	var added []string
	var addOpts []inventory.AddOption
	if opts.Overwrite {
		addOpts = append(addOpts, inventory.WithOverwrite())
	}
	for _, rel := range relPaths {
		sd := results[rel]
		isNew, contentPath, err := u.AddFile(sd.sum, rel, addOpts...)
		if err != nil {
			return nil, fmt.Errorf("adding %q: %w", rel, err)
		}
		added = append(added, rel)
		if isNew {
			toCopy = append(toCopy, newFile{srcRel: rel, contentPath: contentPath})
		}
		// Step 4: record secondary fixity for every new or pre-existing
		// content path, resolved from the same digest pass.
		for algID, sum := range sd.fixity {
			if algID == alg.ID() {
				continue
			}
			if err := u.AddFixity(contentPath, algID, sum); err != nil {
				return nil, fmt.Errorf("recording fixity for %q: %w", rel, err)
			}
		}
	}

	// Step 5: copy (or move) each new file into the staging content
	// directory, in parallel — order doesn't matter since each
	// destination path is unique to this update.
	copyGos := opts.CopyPoolSize
	if copyGos <= 0 {
		copyGos = 2 * digestGos
	}
	err = pipeline.Run(ctx,
		func(add func(newFile) error) error {
			for _, nf := range toCopy {
				if err := add(nf); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context, nf newFile) (struct{}, error) {
			dstPath := path.Join(dstDir, nf.contentPath)
			f, err := srcFS.OpenFile(ctx, path.Join(src, nf.srcRel))
			if err != nil {
				return struct{}{}, fmt.Errorf("opening %q: %w", nf.srcRel, err)
			}
			defer f.Close()
			if _, err := dstFS.Write(ctx, dstPath, f); err != nil {
				return struct{}{}, fmt.Errorf("staging %q: %w", dstPath, err)
			}
			return struct{}{}, nil
		},
		func(struct{}) error { return nil },
		copyGos,
	)
	if err != nil {
		return nil, fmt.Errorf("staging content: %w", err)
	}

	// Step 6: if MoveSource, delete the now-redundant source tree.
	if opts.MoveSource {
		if rmFS, ok := srcFS.(interface {
			RemoveAll(ctx context.Context, dir string) error
		}); ok {
			if err := rmFS.RemoveAll(ctx, src); err != nil {
				return nil, fmt.Errorf("deleting source tree %q: %w", src, err)
			}
		}
	}

	return added, nil
}
