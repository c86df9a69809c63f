package inventory_test

import (
	"testing"
	"time"

	"github.com/matryer/is"
	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	"github.com/ocflcore/ocfl/inventory"
)

func TestUpdaterNewObjectAddFile(t *testing.T) {
	is := is.New(t)
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)

	isNew, cp, err := u.AddFile("aaaa", "a/b.txt")
	is.NoErr(err)
	is.True(isNew)
	is.Equal(cp, "v1/content/a/b.txt")

	inv, err := u.BuildNewInventory(time.Now(), "first version", &ocfl.User{Name: "tester"})
	is.NoErr(err)
	is.Equal(inv.Head, ocfl.V(1))
	ver := inv.Versions[ocfl.V(1)]
	is.True(ver != nil)
	is.Equal(ver.State.GetDigest("a/b.txt"), "aaaa")
}

func TestUpdaterAddFileDedupesAgainstManifest(t *testing.T) {
	is := is.New(t)
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)

	_, firstPath, err := u.AddFile("aaaa", "first.txt")
	is.NoErr(err)

	isNew, secondPath, err := u.AddFile("aaaa", "second.txt")
	is.NoErr(err)
	is.True(!isNew) // same digest, reuses the existing content path
	is.Equal(secondPath, firstPath)
}

func TestUpdaterAddFileRejectsOverwriteByDefault(t *testing.T) {
	is := is.New(t)
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)
	_, _, err = u.AddFile("aaaa", "a.txt")
	is.NoErr(err)

	_, _, err = u.AddFile("bbbb", "a.txt")
	is.True(err != nil)

	_, _, err = u.AddFile("bbbb", "a.txt", inventory.WithOverwrite())
	is.NoErr(err)
}

func TestUpdaterRemoveFileOrphansStagedContent(t *testing.T) {
	is := is.New(t)
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)
	_, cp, err := u.AddFile("aaaa", "a.txt")
	is.NoErr(err)

	orphans, err := u.RemoveFile("a.txt")
	is.NoErr(err)
	is.Equal(len(orphans), 1)
	is.Equal(orphans[0].ContentPath, cp)
	is.True(orphans[0].StagedOnly)
}

func TestUpdaterRenamePreservesDigest(t *testing.T) {
	is := is.New(t)
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)
	_, _, err = u.AddFile("aaaa", "old.txt")
	is.NoErr(err)

	_, err = u.RenameFile("old.txt", "new.txt")
	is.NoErr(err)

	inv, err := u.BuildNewInventory(time.Now(), "", nil)
	is.NoErr(err)
	ver := inv.Versions[ocfl.V(1)]
	is.Equal(ver.State.GetDigest("new.txt"), "aaaa")
	is.Equal(ver.State.GetDigest("old.txt"), "")
}

func TestUpdaterFromPreviousCopyMode(t *testing.T) {
	is := is.New(t)
	u1, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)
	_, _, err = u1.AddFile("aaaa", "a.txt")
	is.NoErr(err)
	inv1, err := u1.BuildNewInventory(time.Now(), "v1", nil)
	is.NoErr(err)

	u2, err := inventory.NewFromPrevious(inv1, inventory.Copy)
	is.NoErr(err)
	is.Equal(u2.Head(), ocfl.V(2))

	isNew, _, err := u2.AddFile("aaaa", "a.txt")
	is.NoErr(err)
	is.True(!isNew) // inherited digest already in manifest

	inv2, err := u2.BuildNewInventory(time.Now(), "v2", nil)
	is.NoErr(err)
	is.Equal(inv2.Head, ocfl.V(2))
}

func TestUpdaterCopyMutableTracksRevisionNum(t *testing.T) {
	is := is.New(t)
	u1, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)
	_, _, err = u1.AddFile("aaaa", "a.txt")
	is.NoErr(err)
	inv1, err := u1.BuildNewInventory(time.Now(), "v1", nil)
	is.NoErr(err)

	u2, err := inventory.NewFromPrevious(inv1, inventory.CopyMutable)
	is.NoErr(err)
	is.Equal(u2.Head(), ocfl.V(2)) // mutable HEAD targets the version it will become once sealed
	is.Equal(u2.RevisionNum().Num(), 1)
	_, _, err = u2.AddFile("bbbb", "b.txt") // a revision holds content under its rK directory (I6)
	is.NoErr(err)

	inv2, err := u2.BuildNewInventory(time.Now(), "", nil)
	is.NoErr(err)
	is.Equal(inv2.Head, ocfl.V(2))
	is.Equal(len(inv2.Versions), 2) // v1 (published) + v2 (mutable HEAD in progress)

	u3, err := inventory.NewFromPrevious(inv2, inventory.CopyMutable)
	is.NoErr(err)
	is.Equal(u3.Head(), ocfl.V(2)) // stays at the same target version for r2
	is.Equal(u3.RevisionNum().Num(), 2)
}
