// Package digest provides the digest service used throughout the
// repository engine: computing and verifying content digests over byte
// streams, and the Map type used to represent OCFL manifests, fixity
// blocks, and version states (digest -> set of paths).
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Algorithm ids, as they appear in inventory.json's digestAlgorithm field
// and fixity block keys.
const (
	SHA512 = "sha512"
	SHA256 = "sha256"
	SHA1   = "sha1"
	MD5    = "md5"
	BLAKE2 = "blake2b-512"
)

// Alg is a digest algorithm: a name and a constructor for a fresh hash.Hash.
type Alg interface {
	ID() string
	New() hash.Hash
}

type algFunc struct {
	id  string
	new func() hash.Hash
}

func (a algFunc) ID() string     { return a.id }
func (a algFunc) New() hash.Hash { return a.new() }

var registry = map[string]Alg{
	SHA512: algFunc{SHA512, sha512.New},
	SHA256: algFunc{SHA256, sha256.New},
	SHA1:   algFunc{SHA1, sha1.New},
	MD5:    algFunc{MD5, md5.New},
	BLAKE2: algFunc{BLAKE2, mustBlake2b512},
}

func mustBlake2b512() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		// blake2b.New512 only errors for a non-nil key of the wrong size;
		// we never pass one.
		panic("digest: blake2b-512: " + err.Error())
	}
	return h
}

// Get returns the registered Alg for id, or an error if id is unknown.
func Get(id string) (Alg, error) {
	alg, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unrecognized digest algorithm: %q", id)
	}
	return alg, nil
}

// IsPrimary reports whether id is valid as an inventory's primary
// digestAlgorithm (invariant I5: sha256 or sha512 only).
func IsPrimary(id string) bool {
	return id == SHA256 || id == SHA512
}

// Register adds or replaces the algorithm registered under alg.ID(). It
// exists so callers can extend the registry without modifying this package;
// the repository engine itself only ever registers the algorithms above.
func Register(alg Alg) {
	registry[alg.ID()] = alg
}
