// Package pathvalidate implements the path-constraint predicate the engine
// consults when accepting logical paths and when computing content paths
// (spec §4.15: "specified only as a boolean predicate" — the engine itself
// treats path sanitization/constraint-checking as a narrow collaborator,
// not an algorithm it owns).
package pathvalidate

import (
	"path"
	"strings"
)

// Valid reports whether p is an acceptable OCFL logical or content path:
// relative, slash-separated, with no "." or ".." segments, no empty
// segments (so no leading/trailing/doubled slashes), and no segment equal
// to the empty string. It does not reject any particular character set —
// callers that need stricter constraints (e.g. excluding characters unsafe
// for a specific storage backend) compose their own predicate and AND it
// with Valid.
func Valid(p string) bool {
	if p == "" || p == "." {
		return false
	}
	if path.IsAbs(p) {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	segments := strings.Split(p, "/")
	for _, seg := range segments {
		switch seg {
		case "", ".", "..":
			return false
		}
	}
	return true
}

// Clean returns p lexically cleaned by path.Clean: duplicate slashes
// collapsed, "." segments removed, and inner ".." segments resolved. The
// result can pass Valid where p itself does not (for example "a//b"
// becomes "a/b"), while a leading ".." segment survives cleaning.
func Clean(p string) string {
	return path.Clean(p)
}
