package inventory

import (
	"fmt"
	"path"
	"time"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	"github.com/ocflcore/ocfl/pathvalidate"
)

// Mode selects how an Updater initializes its pending version state (spec
// §4.3's three construction modes).
type Mode int

const (
	// Blank starts a new version with empty state (put_object).
	Blank Mode = iota
	// Copy starts a new version whose state equals the previous head's
	// (update_object, replicate_version_as_head).
	Copy
	// CopyMutable is like Copy, but marks the updater as writing under the
	// object's mutable HEAD: new content paths land under
	// vH/contentDir/rK/. The first revision targets the version after the
	// last published one (r1); each later revision keeps that head and
	// bumps revisionNum.
	CopyMutable
)

// AddOption configures a single add_file/rename_file/reinstate_file call.
type AddOption func(*addOptions)

type addOptions struct {
	overwrite bool
}

// WithOverwrite permits add_file/rename_file/reinstate_file to replace an
// existing logical path binding instead of failing with ErrOverwrite.
func WithOverwrite() AddOption {
	return func(o *addOptions) { o.overwrite = true }
}

// RemoveFileResult reports a content path that is no longer referenced by
// the pending manifest after a remove/rename, so the orchestrator can
// delete it from the staging tree if it was only ever staged (not part of
// a previously-published version).
type RemoveFileResult struct {
	ContentPath string
	// StagedOnly is true if ContentPath was written during this same
	// update (so it actually exists in the staging tree and should be
	// deleted); false if it was inherited from a prior version's manifest
	// (nothing to delete — it may still be referenced by history).
	StagedOnly bool
}

// Updater is a single-use, NOT-concurrency-safe builder that accumulates
// one version's worth of logical-state mutations and finalizes them into a
// new Inventory (spec §4.3).
type Updater struct {
	mode Mode

	id               string
	invType          ocfl.InvType
	digestAlgorithm  string
	contentDirectory string
	alg              digest.Alg

	prevHead     ocfl.VNum // zero if this is the first version
	prevManifest *digest.Map
	prevFixity   map[string]*digest.Map
	prevVersions map[ocfl.VNum]*Version

	head        ocfl.VNum  // version this updater is building
	revisionNum *ocfl.RNum // set only in CopyMutable mode

	state      *digest.Map          // pending version state: digest -> logical paths
	manifest   *digest.Map          // pending manifest: digest -> content paths (copy of prior + new)
	fixity     map[string]*digest.Map
	newContent map[string]string // digest -> content path, for entries added THIS update

	err error
}

// New returns an Updater for the first version of a new object (mode is
// forced to Blank: there is no prior inventory to copy from).
func New(id string, invType ocfl.InvType, digestAlgorithm, contentDirectory string) (*Updater, error) {
	alg, err := digest.Get(digestAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocfl.ErrInvalidInventory, err)
	}
	if !digest.IsPrimary(digestAlgorithm) {
		return nil, fmt.Errorf("%w: digestAlgorithm must be sha256 or sha512", ocfl.ErrInvalidInventory)
	}
	if contentDirectory == "" {
		contentDirectory = "content"
	}
	return &Updater{
		mode:             Blank,
		id:               id,
		invType:          invType,
		digestAlgorithm:  digestAlgorithm,
		contentDirectory: contentDirectory,
		alg:              alg,
		head:             ocfl.V(1),
		state:            digest.NewMap(),
		manifest:         digest.NewMap(),
		fixity:           map[string]*digest.Map{},
		newContent:       map[string]string{},
	}, nil
}

// NewFromPrevious returns an Updater that builds the version after prev, in
// the given mode. Blank starts the new version's state empty while still
// carrying forward prev's manifest, fixity, and version history (used by
// put_object against an object that already exists, replacing its entire
// current-version state without discarding history).
func NewFromPrevious(prev *Inventory, mode Mode) (*Updater, error) {
	if err := prev.Validate(); err != nil {
		return nil, err
	}
	u := &Updater{
		mode:             mode,
		id:               prev.ID,
		invType:          prev.Type,
		digestAlgorithm:  prev.DigestAlgorithm,
		contentDirectory: prev.ContentDirOrDefault(),
		prevHead:         prev.Head,
		prevManifest:     prev.Manifest,
		prevFixity:       prev.Fixity,
		prevVersions:     prev.Versions,
		state:            digest.NewMap(),
		fixity:           map[string]*digest.Map{},
		newContent:       map[string]string{},
	}
	alg, err := digest.Get(u.digestAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocfl.ErrInvalidInventory, err)
	}
	u.alg = alg

	switch mode {
	case Blank:
		next, err := prev.Head.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ocfl.ErrOcflState, err)
		}
		u.head = next
		// state starts empty; history (manifest/fixity/versions) still
		// carries forward below.
	case Copy:
		next, err := prev.Head.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ocfl.ErrOcflState, err)
		}
		u.head = next
		// copy prior state into pending state
		if ver := prev.GetVersion(prev.Head); ver != nil && ver.State != nil {
			var copyErr error
			ver.State.EachPath(func(logical, sum string) bool {
				if err := u.state.Add(sum, logical); err != nil {
					copyErr = err
					return false
				}
				return true
			})
			if copyErr != nil {
				return nil, copyErr
			}
		}
	case CopyMutable:
		if prev.RevisionNum == nil {
			// First revision of a new mutable HEAD: prev is the object's
			// last published, immutable version. The mutable HEAD's
			// working head number is the version it will become once
			// sealed — one past the last published version — not the
			// published version itself (spec §4.7/§9).
			next, err := prev.Head.Next()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ocfl.ErrOcflState, err)
			}
			u.head = next
			r1 := ocfl.R(1)
			u.revisionNum = &r1
		} else {
			// Later revision of an already-active mutable HEAD: prev is
			// the mutable HEAD's own inventory, whose head already holds
			// the target (unpublished) version number.
			u.head = prev.Head
			next := prev.RevisionNum.Next()
			u.revisionNum = &next
		}
		if ver := prev.GetVersion(prev.Head); ver != nil && ver.State != nil {
			var copyErr error
			ver.State.EachPath(func(logical, sum string) bool {
				if err := u.state.Add(sum, logical); err != nil {
					copyErr = err
					return false
				}
				return true
			})
			if copyErr != nil {
				return nil, copyErr
			}
		}
	}
	// pending manifest starts as a clone of the prior manifest; add_file
	// adds to it as new digests are staged.
	if prev.Manifest != nil {
		u.manifest = prev.Manifest.Clone()
	} else {
		u.manifest = digest.NewMap()
	}
	for algID, m := range prev.Fixity {
		u.fixity[algID] = m.Clone()
	}
	return u, nil
}

// CopyFromVersion replaces the updater's pending state with version v's
// state, read from prev (the inventory the updater was built from). Used by
// replicate_version_as_head, whose new version's state equals an arbitrary
// earlier version's, not necessarily prev.Head's. Valid only in Copy mode,
// and only before any Add/Remove/Rename/Reinstate call.
func (u *Updater) CopyFromVersion(prev *Inventory, v ocfl.VNum) error {
	if u.mode != Copy {
		return fmt.Errorf("%w: CopyFromVersion is only valid in Copy mode", ocfl.ErrOcflState)
	}
	ver := prev.GetVersion(v)
	if ver == nil || ver.State == nil {
		return fmt.Errorf("%w: version %s not found", ocfl.ErrNotFound, v)
	}
	state := digest.NewMap()
	var copyErr error
	ver.State.EachPath(func(logical, sum string) bool {
		if err := state.Add(sum, logical); err != nil {
			copyErr = err
			return false
		}
		return true
	})
	if copyErr != nil {
		return copyErr
	}
	u.state = state
	return nil
}

// Head returns the version number this updater is building toward (under
// CopyMutable, the version the mutable HEAD becomes once sealed — see
// RevisionNum).
func (u *Updater) Head() ocfl.VNum { return u.head }

// RevisionNum returns the mutable-HEAD revision number this updater is
// building, or nil outside CopyMutable mode.
func (u *Updater) RevisionNum() *ocfl.RNum { return u.revisionNum }

// DigestAlgorithm returns the updater's configured digest algorithm.
func (u *Updater) DigestAlgorithm() digest.Alg { return u.alg }

// contentPrefix returns the version-relative directory new content is
// staged under: "vN/contentDir" normally, "vH/contentDir/rK" under a
// mutable HEAD.
func (u *Updater) contentPrefix() string {
	if u.revisionNum != nil {
		return path.Join(u.head.String(), u.contentDirectory, u.revisionNum.String())
	}
	return path.Join(u.head.String(), u.contentDirectory)
}

// AddFile binds logical to digest in the pending version state. If digest
// is new to the manifest, a content path is chosen and returned with
// isNew = true; the caller is responsible for actually writing the bytes
// there. If digest already exists in the manifest, the existing content
// path is reused and isNew = false.
func (u *Updater) AddFile(digestSum, logical string, opts ...AddOption) (isNew bool, contentPath string, err error) {
	if u.err != nil {
		return false, "", u.err
	}
	if !pathvalidate.Valid(logical) {
		return false, "", fmt.Errorf("%w: %q", ocfl.ErrPathConstraint, logical)
	}
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if existing := u.state.GetDigest(logical); existing != "" && !o.overwrite {
		return false, "", fmt.Errorf("%w: %q", ocfl.ErrOverwrite, logical)
	}
	if existing := u.state.GetDigest(logical); existing != "" {
		u.state.Remove(logical)
	}
	if paths := u.manifest.DigestPaths(digestSum); len(paths) > 0 {
		if err := u.state.Add(digestSum, logical); err != nil {
			u.err = err
			return false, "", err
		}
		return false, paths[0], nil
	}
	sanitized := sanitizeForContentPath(logical)
	cp := path.Join(u.contentPrefix(), sanitized)
	cp = disambiguate(cp, u.manifest)
	if err := u.manifest.Add(digestSum, cp); err != nil {
		u.err = err
		return false, "", err
	}
	if err := u.state.Add(digestSum, logical); err != nil {
		u.err = err
		return false, "", err
	}
	u.newContent[digestSum] = cp
	return true, cp, nil
}

// RemoveFile drops logical from the pending state. If its digest's content
// path was staged during this same update and is no longer referenced by
// any remaining logical path, it is returned so the orchestrator can
// delete the staged file.
func (u *Updater) RemoveFile(logical string) ([]RemoveFileResult, error) {
	if u.err != nil {
		return nil, u.err
	}
	sum := u.state.GetDigest(logical)
	if sum == "" {
		return nil, nil
	}
	u.state.Remove(logical)
	return u.orphanedContentFor(sum), nil
}

// RenameFile moves the logical binding from src to dst, subject to
// OVERWRITE semantics on dst. The manifest is untouched (only the state
// mapping changes), so no content is orphaned by a rename alone.
func (u *Updater) RenameFile(src, dst string, opts ...AddOption) ([]RemoveFileResult, error) {
	if u.err != nil {
		return nil, u.err
	}
	sum := u.state.GetDigest(src)
	if sum == "" {
		return nil, fmt.Errorf("%w: source logical path not found: %q", ocfl.ErrNotFound, src)
	}
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if u.state.HasPath(dst) && !o.overwrite {
		return nil, fmt.Errorf("%w: %q", ocfl.ErrOverwrite, dst)
	}
	u.state.Remove(src)
	if u.state.HasPath(dst) {
		u.state.Remove(dst)
	}
	if err := u.state.Add(sum, dst); err != nil {
		u.err = err
		return nil, err
	}
	return nil, nil
}

// ReinstateFile binds srcDigest under dstLogical in the pending state,
// subject to OVERWRITE semantics. The digest must already exist in the
// updater's manifest. It does not look a digest up from a version number
// and logical path; the caller resolves that on the loaded inventory
// before calling in.
func (u *Updater) ReinstateFile(srcDigest, dstLogical string, opts ...AddOption) error {
	if u.err != nil {
		return u.err
	}
	if len(u.manifest.DigestPaths(srcDigest)) == 0 {
		return fmt.Errorf("%w: digest %s is not in the manifest", ocfl.ErrNotFound, srcDigest)
	}
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if u.state.HasPath(dstLogical) && !o.overwrite {
		return fmt.Errorf("%w: %q", ocfl.ErrOverwrite, dstLogical)
	}
	if u.state.HasPath(dstLogical) {
		u.state.Remove(dstLogical)
	}
	if err := u.state.Add(srcDigest, dstLogical); err != nil {
		u.err = err
		return err
	}
	return nil
}

// AddFixity records a secondary digest for a content path already present
// in the pending manifest.
func (u *Updater) AddFixity(contentPath, algorithmID, digestSum string) error {
	if u.err != nil {
		return u.err
	}
	if _, err := digest.Get(algorithmID); err != nil {
		return fmt.Errorf("%w: %v", ocfl.ErrInvalidInventory, err)
	}
	m, ok := u.fixity[algorithmID]
	if !ok {
		m = digest.NewMap()
		u.fixity[algorithmID] = m
	}
	if err := m.Add(digestSum, contentPath); err != nil {
		u.err = err
		return err
	}
	return nil
}

// orphanedContentFor returns the content paths for sum that were staged
// during this update and are no longer referenced by the pending state by
// any logical path, suitable for the orchestrator to delete from the
// staging tree.
func (u *Updater) orphanedContentFor(sum string) []RemoveFileResult {
	if u.state.HasDigest(sum) {
		return nil // still referenced by another logical path
	}
	cp, staged := u.newContent[sum]
	if !staged {
		return nil // content belongs to a prior version; never delete history
	}
	delete(u.newContent, sum)
	u.manifest.Remove(cp)
	return []RemoveFileResult{{ContentPath: cp, StagedOnly: true}}
}

// BuildNewInventory finalizes the pending Version and merges it with the
// prior version history, returning a fresh Inventory. In Copy mode the new
// version is appended at u.head; in CopyMutable mode it is also written at
// u.head, replacing any entry an earlier revision of the same mutable HEAD
// left there (spec §4.7). Earlier, immutable
// versions are carried forward unchanged. It performs shallow validation
// of invariants I1-I6 before returning.
func (u *Updater) BuildNewInventory(created time.Time, message string, user *ocfl.User) (*Inventory, error) {
	if u.err != nil {
		return nil, u.err
	}
	versions := make(map[ocfl.VNum]*Version, len(u.prevVersions)+1)
	for v, ver := range u.prevVersions {
		if u.mode == CopyMutable && v == u.head {
			continue // superseded below by the revision in progress
		}
		versions[v] = ver
	}
	versions[u.head] = &Version{
		Created: created.UTC().Truncate(time.Second),
		Message: message,
		User:    user,
		State:   u.state,
	}
	inv := &Inventory{
		ID:               u.id,
		Type:             u.invType,
		DigestAlgorithm:  u.digestAlgorithm,
		ContentDirectory: u.contentDirectory,
		Head:             u.head,
		RevisionNum:      u.revisionNum,
		Manifest:         u.manifest,
		Fixity:           u.fixity,
		Versions:         versions,
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func sanitizeForContentPath(logical string) string {
	// Path sanitization/constraint-checking is an external collaborator
	// (spec §1); this performs only the minimal backslash normalization
	// the spec explicitly assigns to the updater itself (§4.3 "Sanitization
	// converts backslashes"). Character-set filtering is left to the
	// configured predicate; collisions are resolved by disambiguate.
	out := make([]byte, len(logical))
	for i := 0; i < len(logical); i++ {
		if logical[i] == '\\' {
			out[i] = '/'
		} else {
			out[i] = logical[i]
		}
	}
	return string(out)
}

// disambiguate appends a numeric suffix to candidate if it already exists
// as a content path in manifest (logical-path collisions after
// sanitization, e.g. "a/b" and "a\\b" both sanitizing to "a/b").
func disambiguate(candidate string, manifest *digest.Map) string {
	if !manifest.HasPath(candidate) {
		return candidate
	}
	dir, base := path.Split(candidate)
	ext := path.Ext(base)
	stem := base[:len(base)-len(ext)]
	for i := 1; ; i++ {
		next := path.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if !manifest.HasPath(next) {
			return next
		}
	}
}
