package digest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMapConflict is returned when two paths in a Map disagree about which
// digest they point to, or vice versa, depending on the orientation in use.
var ErrMapConflict = errors.New("digest map conflict")

// Map is an ordered multimap from digest to paths, also indexed from path
// back to digest. It is the concrete type
// behind a Manifest, a FixityBlock entry, and a VersionState: in all three,
// the OCFL data model is "digest -> set of paths", with paths either being
// content paths (manifest, fixity) or logical paths (version state).
//
// Digest keys are normalized to lowercase hex on insert (OCFL digests are
// case-insensitive); paths preserve insertion order within a digest's entry
// since manifests can't be assumed to round-trip stable path ordering.
type Map struct {
	digestToPaths map[string][]string
	pathToDigest  map[string]string
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{
		digestToPaths: map[string]([]string){},
		pathToDigest:  map[string]string{},
	}
}

// Add associates path with digest. It is an error to associate the same
// path with two different digests; re-adding the same (digest, path) pair
// is a no-op.
func (m *Map) Add(digest, path string) error {
	digest = strings.ToLower(digest)
	if existing, ok := m.pathToDigest[path]; ok {
		if existing != digest {
			return fmt.Errorf("%w: path %q already maps to digest %q, not %q", ErrMapConflict, path, existing, digest)
		}
		return nil
	}
	m.pathToDigest[path] = digest
	m.digestToPaths[digest] = append(m.digestToPaths[digest], path)
	return nil
}

// Remove drops path from the map entirely.
func (m *Map) Remove(path string) {
	digest, ok := m.pathToDigest[path]
	if !ok {
		return
	}
	delete(m.pathToDigest, path)
	paths := m.digestToPaths[digest]
	for i, p := range paths {
		if p == path {
			m.digestToPaths[digest] = append(paths[:i], paths[i+1:]...)
			break
		}
	}
	if len(m.digestToPaths[digest]) == 0 {
		delete(m.digestToPaths, digest)
	}
}

// DigestPaths returns the paths associated with digest, in insertion order.
// The returned slice must not be mutated by callers.
func (m *Map) DigestPaths(digest string) []string {
	return m.digestToPaths[strings.ToLower(digest)]
}

// GetDigest returns the digest associated with path, or "" if path isn't
// present.
func (m *Map) GetDigest(path string) string {
	return m.pathToDigest[path]
}

// HasDigest reports whether digest has at least one associated path.
func (m *Map) HasDigest(digest string) bool {
	return len(m.digestToPaths[strings.ToLower(digest)]) > 0
}

// HasPath reports whether path is present in the map.
func (m *Map) HasPath(path string) bool {
	_, ok := m.pathToDigest[path]
	return ok
}

// LenDigest returns the number of paths associated with digest.
func (m *Map) LenDigest(digest string) int {
	return len(m.digestToPaths[strings.ToLower(digest)])
}

// Len returns the number of distinct paths in the map.
func (m *Map) Len() int { return len(m.pathToDigest) }

// Digests returns the distinct digests in the map, sorted.
func (m *Map) Digests() []string {
	out := make([]string, 0, len(m.digestToPaths))
	for d := range m.digestToPaths {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Paths returns all paths in the map, sorted.
func (m *Map) Paths() []string {
	out := make([]string, 0, len(m.pathToDigest))
	for p := range m.pathToDigest {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// EachPath calls fn(path, digest) for every entry, in sorted path order.
// Iteration stops early if fn returns false.
func (m *Map) EachPath(fn func(path, digest string) bool) {
	for _, p := range m.Paths() {
		if !fn(p, m.pathToDigest[p]) {
			return
		}
	}
}

// Eq reports whether m and other associate the same paths with the same
// digests.
func (m *Map) Eq(other *Map) bool {
	if other == nil {
		return m.Len() == 0
	}
	if m.Len() != other.Len() {
		return false
	}
	for p, d := range m.pathToDigest {
		if other.pathToDigest[p] != d {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	out := NewMap()
	for p, d := range m.pathToDigest {
		out.pathToDigest[p] = d
	}
	for d, paths := range m.digestToPaths {
		cp := make([]string, len(paths))
		copy(cp, paths)
		out.digestToPaths[d] = cp
	}
	return out
}

// MarshalJSON renders the map in OCFL inventory orientation:
// {"digest": ["path1", "path2"], ...}.
func (m *Map) MarshalJSON() ([]byte, error) {
	return marshalDigestToPaths(m.digestToPaths)
}

// UnmarshalJSON parses an inventory-orientation object:
// {"digest": ["path1", "path2"], ...}.
func (m *Map) UnmarshalJSON(b []byte) error {
	raw, err := unmarshalDigestToPaths(b)
	if err != nil {
		return err
	}
	*m = *NewMap()
	for digest, paths := range raw {
		for _, p := range paths {
			if err := m.Add(digest, p); err != nil {
				return err
			}
		}
	}
	return nil
}
