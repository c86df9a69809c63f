package inventory_test

import (
	"testing"
	"time"

	"github.com/matryer/is"
	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	"github.com/ocflcore/ocfl/inventory"
)

func newValidInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	manifest := digest.NewMap()
	if err := manifest.Add("aaaa", "v1/content/file.txt"); err != nil {
		t.Fatal(err)
	}
	state := digest.NewMap()
	if err := state.Add("aaaa", "file.txt"); err != nil {
		t.Fatal(err)
	}
	return &inventory.Inventory{
		ID:              "urn:example:1",
		DigestAlgorithm: digest.SHA512,
		Head:            ocfl.V(1),
		Manifest:        manifest,
		Versions: map[ocfl.VNum]*inventory.Version{
			ocfl.V(1): {Created: time.Now(), State: state},
		},
	}
}

func TestValidateOK(t *testing.T) {
	is := is.New(t)
	inv := newValidInventory(t)
	is.NoErr(inv.Validate())
}

func TestValidateMissingManifestEntry(t *testing.T) {
	is := is.New(t)
	inv := newValidInventory(t)
	inv.Manifest = digest.NewMap() // I1: state references a digest absent from manifest
	is.True(inv.Validate() != nil)
}

func TestValidateBadContentPrefix(t *testing.T) {
	is := is.New(t)
	inv := newValidInventory(t)
	manifest := digest.NewMap()
	is.NoErr(manifest.Add("aaaa", "wrong/prefix/file.txt")) // I2
	inv.Manifest = manifest
	is.True(inv.Validate() != nil)
}

func TestValidateGapInVersionSequence(t *testing.T) {
	is := is.New(t)
	inv := newValidInventory(t)
	inv.Head = ocfl.V(2) // I3: no v2 entry exists
	is.True(inv.Validate() != nil)
}

func TestValidateNonPrimaryDigestAlgorithm(t *testing.T) {
	is := is.New(t)
	inv := newValidInventory(t)
	inv.DigestAlgorithm = digest.MD5 // I5
	is.True(inv.Validate() != nil)
}

func TestContentPathAndEachStatePath(t *testing.T) {
	is := is.New(t)
	inv := newValidInventory(t)
	cp, err := inv.ContentPath(ocfl.V(1), "file.txt")
	is.NoErr(err)
	is.Equal(cp, "v1/content/file.txt")

	var seen []string
	err = inv.EachStatePath(ocfl.V(1), func(logical, sum string, paths []string) error {
		seen = append(seen, logical)
		is.Equal(sum, "aaaa")
		is.Equal(paths, []string{"v1/content/file.txt"})
		return nil
	})
	is.NoErr(err)
	is.Equal(seen, []string{"file.txt"})
}

func TestContentDirOrDefault(t *testing.T) {
	is := is.New(t)
	inv := &inventory.Inventory{}
	is.Equal(inv.ContentDirOrDefault(), "content")
	inv.ContentDirectory = "data"
	is.Equal(inv.ContentDirOrDefault(), "data")
}
