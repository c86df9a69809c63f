package repository

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/inventory"
)

// ValidationReport is the result of validate_object (spec §4.8): the
// inventory's own structural invariants are checked by inventory.Read, so
// every entry here is a cross-check between the inventory and the object's
// actual on-disk content.
type ValidationReport struct {
	ObjectRoot string
	Errors     []string

	mu sync.Mutex
}

// Valid reports whether the object passed validation without error.
func (r *ValidationReport) Valid() bool { return len(r.Errors) == 0 }

// Summary renders the report's errors as a single line, for wrapping in an
// error value.
func (r *ValidationReport) Summary() string {
	if r.Valid() {
		return "valid"
	}
	return strings.Join(r.Errors, "; ")
}

// fail is safe to call from the concurrent digesting goroutines validateContent
// fans out to.
func (r *ValidationReport) fail(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// ValidateObject implements validate_object (spec §4.8): cross-checks id's
// on-disk state against its inventory. full additionally recomputes every
// content file's primary (and, when present, fixity) digests rather than
// trusting the manifest/fixity block's recorded values.
func (r *Repository) ValidateObject(ctx context.Context, id string, full bool) (*ValidationReport, error) {
	objRoot, err := r.objectRoot(id)
	if err != nil {
		return nil, err
	}
	var report *ValidationReport
	err = r.locks.DoInReadLock(ctx, id, func(ctx context.Context) error {
		report = ValidateObjectTree(ctx, r.fsys, objRoot, full)
		return nil
	})
	return report, err
}

// ValidateObjectTree validates the OCFL object rooted at dir in fsys,
// independent of any Repository — used both by ValidateObject and by
// import_object to vet a tree before it is adopted into the storage root.
// full recomputes every content file's primary (and, when present, fixity)
// digest rather than trusting the manifest/fixity block's recorded values;
// import_object always passes true, since an object outside the repository
// carries no trust basis other than its own bytes.
func ValidateObjectTree(ctx context.Context, fsys ocflfs.FS, dir string, full bool) *ValidationReport {
	report := &ValidationReport{ObjectRoot: dir}

	entries, err := ocflfs.ListDir(ctx, fsys, dir)
	if err != nil {
		report.fail("reading object root %q: %v", dir, err)
		return report
	}
	decl, err := ocfl.FindNamaste(entries)
	if err != nil {
		report.fail("object root %q: %v", dir, err)
		return report
	}
	if !decl.IsObject() {
		report.fail("declaration at %q is not an object declaration", dir)
		return report
	}

	inv, err := inventory.Read(ctx, fsys, dir)
	if err != nil {
		report.fail("reading inventory: %v", err)
		return report
	}

	for _, vn := range inv.VNums() {
		ver := inv.Versions[vn]
		if ver.State == nil {
			report.fail("version %s has no state block", vn)
			continue
		}
		ver.State.EachPath(func(logical, sum string) bool {
			if !inv.Manifest.HasDigest(sum) {
				report.fail("version %s: logical path %q digest %s not in manifest", vn, logical, sum)
			}
			return true
		})
	}

	inv.Manifest.EachPath(func(contentPath, sum string) bool {
		exists, err := ocflfs.FileExists(ctx, fsys, ocflfs.Join(dir, contentPath))
		if err != nil {
			report.fail("checking manifest content path %q: %v", contentPath, err)
			return true
		}
		if !exists {
			report.fail("manifest content path %q (digest %s) is missing from storage", contentPath, sum)
		}
		return true
	})

	if full {
		validateContent(ctx, fsys, dir, inv, report)
	}
	return report
}

// validateContent recomputes every manifest content path's primary digest,
// and every fixity block entry's secondary digest, comparing against the
// recorded value (spec §4.4's digest computation, run in reverse). The
// per-file digesting is I/O bound and embarrassingly parallel, so it runs
// through a bounded errgroup.Group rather than one file at a time.
func validateContent(ctx context.Context, fsys ocflfs.FS, dir string, inv *inventory.Inventory, report *ValidationReport) {
	alg, err := inv.Alg()
	if err != nil {
		report.fail("resolving digest algorithm: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	checkOne := func(fsAlg digest.Alg, contentPath, want, label string) {
		g.Go(func() error {
			sum, err := digestFile(gctx, fsys, ocflfs.Join(dir, contentPath), fsAlg)
			if err != nil {
				report.fail("digesting %q%s: %v", contentPath, label, err)
				return nil
			}
			if !strings.EqualFold(sum, want) {
				report.fail("%v: content path %q%s digest %s does not match recorded %s", ocfl.ErrFixity, contentPath, label, sum, want)
			}
			return nil
		})
	}

	inv.Manifest.EachPath(func(contentPath, want string) bool {
		checkOne(alg, contentPath, want, "")
		return true
	})
	for algID, fixity := range inv.Fixity {
		fixAlg, err := digest.Get(algID)
		if err != nil {
			report.fail("resolving fixity algorithm %q: %v", algID, err)
			continue
		}
		fixity.EachPath(func(contentPath, want string) bool {
			checkOne(fixAlg, contentPath, want, " fixity "+algID)
			return true
		})
	}
	_ = g.Wait() // checkOne never returns a non-nil error; failures go through report.fail
}

func digestFile(ctx context.Context, fsys ocflfs.FS, name string, alg digest.Alg) (string, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d := digest.NewDigester(alg)
	if _, err := d.ReadFrom(ctx, f); err != nil {
		return "", err
	}
	return d.Sums()[alg.ID()], nil
}
