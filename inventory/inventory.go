// Package inventory implements the OCFL inventory data model (spec.md §3):
// the in-memory record of an object's versions, manifest, fixity block,
// and head, plus the invariant checks (I1-I7) every persisted inventory
// must satisfy.
package inventory

import (
	"fmt"
	"sort"
	"time"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
)

// Version records one version's state and metadata.
type Version struct {
	Created time.Time   `json:"created"`
	State   *digest.Map `json:"state"`
	Message string      `json:"message,omitempty"`
	User    *ocfl.User  `json:"user,omitempty"`
}

// Inventory is the central OCFL entity: a complete, self-describing record
// of an object's version history. Once built by the updater (package
// inventory's Updater type) and persisted, an Inventory is never mutated —
// every change produces a new Inventory value with head advanced by one
// (or, for a later revision of a mutable HEAD, revisionNum advanced by one).
type Inventory struct {
	ID               string                      `json:"id"`
	Type             ocfl.InvType                `json:"type"`
	DigestAlgorithm  string                      `json:"digestAlgorithm"`
	ContentDirectory string                      `json:"contentDirectory,omitempty"`
	Head             ocfl.VNum              `json:"head"`
	// RevisionNum is absent from every ordinary, spec-compliant root
	// inventory.json (it is never set on one in the first place). It is
	// persisted only in the mutable HEAD extension's own private copy
	// (extensions/0005-mutable-head/head/inventory.json), where it records
	// which revision the copy currently represents, surviving a reload of
	// that copy across separate stage_changes calls.
	RevisionNum *ocfl.RNum `json:"revisionNum,omitempty"`
	Manifest         *digest.Map            `json:"manifest"`
	Versions         map[ocfl.VNum]*Version `json:"versions"`
	Fixity           map[string]*digest.Map `json:"fixity,omitempty"`

	// ObjectRootPath is the storage-relative path to this object's root
	// directory. Not serialized; set by the component that loaded or is
	// about to publish this inventory.
	ObjectRootPath string `json:"-"`

	// CurrentDigest is the digest of this inventory's own serialized JSON,
	// computed at write time and cross-checked against the sidecar (I7).
	CurrentDigest string `json:"-"`
	// PreviousDigest is the digest the immediately prior version's
	// inventory.json had when this inventory was built from it, used by
	// the version writer to detect a concurrent writer (§4.6 step 3c).
	PreviousDigest string `json:"-"`
}

// ContentDirOrDefault returns the inventory's content directory name,
// defaulting to "content" when unset.
func (inv *Inventory) ContentDirOrDefault() string {
	if inv.ContentDirectory == "" {
		return "content"
	}
	return inv.ContentDirectory
}

// VNums returns the inventory's version numbers in ascending order.
func (inv *Inventory) VNums() ocfl.VNums {
	vnums := make(ocfl.VNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		vnums = append(vnums, v)
	}
	sort.Sort(vnums)
	return vnums
}

// GetVersion returns the version entry numbered v, or the head version if
// v is the zero VNum. It returns nil if no such version exists.
func (inv *Inventory) GetVersion(v ocfl.VNum) *Version {
	if inv.Versions == nil {
		return nil
	}
	if v.IsZero() {
		return inv.Versions[inv.Head]
	}
	return inv.Versions[v]
}

// Alg resolves the inventory's digest algorithm.
func (inv *Inventory) Alg() (digest.Alg, error) {
	return digest.Get(inv.DigestAlgorithm)
}

// ContentPath resolves logical in version v (head if v is zero) to its
// content path via the version state and manifest.
func (inv *Inventory) ContentPath(v ocfl.VNum, logical string) (string, error) {
	ver := inv.GetVersion(v)
	if ver == nil {
		return "", fmt.Errorf("version %s not found in inventory", v)
	}
	sum := ver.State.GetDigest(logical)
	if sum == "" {
		return "", fmt.Errorf("logical path not found in version %s: %s", v, logical)
	}
	paths := inv.Manifest.DigestPaths(sum)
	if len(paths) == 0 {
		return "", fmt.Errorf("no manifest entry for digest: %s", sum)
	}
	return paths[0], nil
}

// EachStatePath calls fn once per logical path in version v's state (head
// if v is zero), passing its digest and the manifest's content paths for
// that digest. Iteration stops at the first error, which is returned.
func (inv *Inventory) EachStatePath(v ocfl.VNum, fn func(logical, digest string, contentPaths []string) error) error {
	ver := inv.GetVersion(v)
	if ver == nil || ver.State == nil {
		return fmt.Errorf("version %s not found in inventory", v)
	}
	if inv.Manifest == nil {
		return fmt.Errorf("inventory %s has no manifest", inv.ID)
	}
	var err error
	ver.State.EachPath(func(logical, sum string) bool {
		if sum == "" {
			err = fmt.Errorf("missing digest for logical path %s", logical)
			return false
		}
		paths := inv.Manifest.DigestPaths(sum)
		if len(paths) == 0 {
			err = fmt.Errorf("missing manifest entry for digest %s", sum)
			return false
		}
		if e := fn(logical, sum, paths); e != nil {
			err = e
			return false
		}
		return true
	})
	return err
}

// Validate checks invariants I1-I6 (I7, the sidecar/serialization digest
// check, is the loader's responsibility since it requires the serialized
// bytes, not just the in-memory value).
func (inv *Inventory) Validate() error {
	if inv.ID == "" {
		return fmt.Errorf("%w: inventory has no id", ocfl.ErrInvalidInventory)
	}
	if !digest.IsPrimary(inv.DigestAlgorithm) {
		// I5
		return fmt.Errorf("%w: digestAlgorithm must be sha256 or sha512, got %q", ocfl.ErrInvalidInventory, inv.DigestAlgorithm)
	}
	if inv.Manifest == nil {
		return fmt.Errorf("%w: inventory has no manifest", ocfl.ErrInvalidInventory)
	}
	if inv.Head.IsZero() {
		return fmt.Errorf("%w: inventory has no head", ocfl.ErrInvalidInventory)
	}
	// I3: versions keys are exactly v1..head, no gaps.
	vnums := inv.VNums()
	if len(vnums) == 0 {
		return fmt.Errorf("%w: inventory has no versions", ocfl.ErrInvalidInventory)
	}
	want := ocfl.V(1, inv.Head.Padding())
	for _, v := range vnums {
		if v != want {
			return fmt.Errorf("%w: version sequence has a gap or duplicate at %s (expected %s)", ocfl.ErrInvalidInventory, v, want)
		}
		var err error
		want, err = want.Next()
		if err != nil {
			return fmt.Errorf("%w: %v", ocfl.ErrInvalidInventory, err)
		}
	}
	if vnums[len(vnums)-1] != inv.Head {
		return fmt.Errorf("%w: head %s is not the last version in sequence", ocfl.ErrInvalidInventory, inv.Head)
	}
	// I1, I2, I4: per-version state checks.
	for v, ver := range inv.Versions {
		if ver.State == nil {
			continue
		}
		seen := map[string]bool{}
		var stateErr error
		ver.State.EachPath(func(logical, sum string) bool {
			if seen[logical] {
				// I4 violation would require two digests mapping the same
				// logical path; digest.Map already forbids that at the
				// data-structure level (one digest per path), so this
				// loop only guards against a future relaxation of Map.
				stateErr = fmt.Errorf("%w: logical path %q appears under multiple digests in version %s", ocfl.ErrInvalidInventory, logical, v)
				return false
			}
			seen[logical] = true
			if !inv.Manifest.HasDigest(sum) {
				// I1
				stateErr = fmt.Errorf("%w: digest %s in version %s state is not in manifest", ocfl.ErrInvalidInventory, sum, v)
				return false
			}
			return true
		})
		if stateErr != nil {
			return stateErr
		}
	}
	// I2: every manifest content path starts with vX/contentDir/ for X <= head.
	contentDir := inv.ContentDirOrDefault()
	var pathErr error
	inv.Manifest.EachPath(func(p, _ string) bool {
		if !hasValidContentPrefix(p, contentDir, vnums) {
			pathErr = fmt.Errorf("%w: manifest content path %q is not under a valid version content directory", ocfl.ErrInvalidInventory, p)
			return false
		}
		return true
	})
	if pathErr != nil {
		return pathErr
	}
	// I6: revisionNum set implies at least one manifest path under
	// contentDir/rK/ for K <= revisionNum.
	if inv.RevisionNum != nil {
		k := inv.RevisionNum.Num()
		found := false
		inv.Manifest.EachPath(func(p, _ string) bool {
			if hasRevisionSegment(p, contentDir, k) {
				found = true
				return false
			}
			return true
		})
		if !found {
			return fmt.Errorf("%w: revisionNum %s set but manifest has no content under %s/r<=%d/", ocfl.ErrInvalidInventory, inv.RevisionNum, contentDir, k)
		}
	}
	return nil
}

func hasValidContentPrefix(p, contentDir string, vnums ocfl.VNums) bool {
	for _, v := range vnums {
		prefix := v.String() + "/" + contentDir + "/"
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// hasRevisionSegment reports whether p contains a "<contentDir>/rK/" segment
// for some K in 1..maxRev.
func hasRevisionSegment(p, contentDir string, maxRev int) bool {
	marker := "/" + contentDir + "/r"
	i := indexOf(p, marker)
	if i < 0 {
		return false
	}
	rest := p[i+len(marker):]
	k, end := 0, 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		k = k*10 + int(rest[end]-'0')
		end++
	}
	return end > 0 && end < len(rest) && rest[end] == '/' && k >= 1 && k <= maxRev
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
