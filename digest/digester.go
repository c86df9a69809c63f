package digest

import (
	"context"
	"encoding/hex"
	"hash"
	"io"
)

// Set is a digest result for a single file under one or more algorithms:
// algorithm id -> lowercase hex digest.
type Set map[string]string

// ConflictsWith returns the keys in s whose value differs (case-insensitively
// is not applied here; callers normalize to lowercase hex on input) from the
// corresponding key in expected.
func (s Set) ConflictsWith(expected Set) []string {
	var keys []string
	for alg, want := range expected {
		if got, ok := s[alg]; ok && got != want {
			keys = append(keys, alg)
		}
	}
	return keys
}

// Digester computes one or more digests over a single stream in one pass.
type Digester struct {
	algs   []Alg
	hashes []hash.Hash
}

// NewDigester returns a Digester that computes a digest for each of algs.
func NewDigester(algs ...Alg) *Digester {
	hashes := make([]hash.Hash, len(algs))
	for i, a := range algs {
		hashes[i] = a.New()
	}
	return &Digester{algs: algs, hashes: hashes}
}

// Writer returns an io.Writer that feeds all of the digester's hashes.
func (d *Digester) Writer() io.Writer {
	ws := make([]io.Writer, len(d.hashes))
	for i, h := range d.hashes {
		ws[i] = h
	}
	return io.MultiWriter(ws...)
}

// ReadFrom consumes r, honoring ctx cancellation between chunks, and
// computes all configured digests over its contents.
func (d *Digester) ReadFrom(ctx context.Context, r io.Reader) (int64, error) {
	cr := &contextReader{ctx: ctx, r: r}
	return io.Copy(d.Writer(), cr)
}

// Sums returns the computed digest Set. Digester must not be reused after
// calling Sums (the underlying hash.Hash state would need resetting).
func (d *Digester) Sums() Set {
	set := make(Set, len(d.algs))
	for i, a := range d.algs {
		set[a.ID()] = hex.EncodeToString(d.hashes[i].Sum(nil))
	}
	return set
}

// contextReader wraps an io.Reader, failing reads once ctx is done so a
// blocked digest computation can be cancelled cooperatively (spec §5).
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
