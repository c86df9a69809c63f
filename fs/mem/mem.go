// Package mem provides an in-memory fs.FS backend for tests, built on
// gocloud.dev's memblob driver through fs/cloud — the same blob.Bucket
// adapter used for every other Go CDK-backed storage backend, so tests
// exercise the real cloud.FS code path instead of a bespoke test double.
package mem

import (
	"gocloud.dev/blob/memblob"

	ocflcloud "github.com/ocflcore/ocfl/fs/cloud"
)

// New returns a fresh, empty in-memory FS.
func New() *ocflcloud.FS {
	return ocflcloud.New(memblob.OpenBucket(nil))
}
