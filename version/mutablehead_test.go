package version_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	ocfl "github.com/ocflcore/ocfl"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/mem"
	"github.com/ocflcore/ocfl/inventory"
	"github.com/ocflcore/ocfl/lock"
	"github.com/ocflcore/ocfl/version"
)

func publishV1(is *is.I, ctx context.Context, fsys ocflfs.WriteFS, w *version.Writer, objID, objRoot, content string) *inventory.Inventory {
	inv, cp := buildV1(is, content)
	err := w.Publish(ctx, fsys, objID, objRoot, inv, func(ctx context.Context, stagingRoot string) error {
		_, err := fsys.Write(ctx, ocflfs.Join(stagingRoot, cp), strings.NewReader(content))
		return err
	})
	is.NoErr(err)
	loaded, err := inventory.Read(ctx, fsys, objRoot)
	is.NoErr(err)
	return loaded
}

func TestMutableHeadStageAndSeal(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := mem.New()
	locks := lock.New(0)
	w := version.New(locks)
	mh := version.NewMutableHead(w)

	v1 := publishV1(is, ctx, fsys, w, "urn:example:1", "obj1", "one")

	u2, err := inventory.NewFromPrevious(v1, inventory.CopyMutable)
	is.NoErr(err)
	is.Equal(u2.Head(), ocfl.V(2))
	isNew, cp2, err := u2.AddFile("cccc", "b.txt")
	is.NoErr(err)
	is.True(isNew)
	inv2, err := u2.BuildNewInventory(time.Now(), "", nil)
	is.NoErr(err)

	err = mh.StageChanges(ctx, fsys, "urn:example:1", "obj1", v1, inv2, func(ctx context.Context, stagingRoot string) error {
		_, err := fsys.Write(ctx, ocflfs.Join(stagingRoot, cp2), strings.NewReader("rev1"))
		return err
	})
	is.NoErr(err)

	has, err := ocflfs.FileExists(ctx, fsys, ocflfs.Join("obj1", "extensions", "0005-mutable-head", "head", "inventory.json"))
	is.NoErr(err)
	is.True(has)

	headInv, err := inventory.Read(ctx, fsys, ocflfs.Join("obj1", "extensions", "0005-mutable-head", "head"))
	is.NoErr(err)
	is.Equal(headInv.Head, ocfl.V(2))
	is.True(headInv.RevisionNum != nil)
	is.Equal(headInv.RevisionNum.Num(), 1)

	err = mh.CommitStagedChanges(ctx, fsys, "urn:example:1", "obj1", headInv)
	is.NoErr(err)

	sealed, err := inventory.Read(ctx, fsys, "obj1")
	is.NoErr(err)
	is.Equal(sealed.Head, ocfl.V(2))
	is.True(sealed.RevisionNum == nil)

	stillExtension, err := ocflfs.FileExists(ctx, fsys, ocflfs.Join("obj1", "extensions", "0005-mutable-head", "head", "inventory.json"))
	is.NoErr(err)
	is.True(!stillExtension) // extension subtree removed after seal

	gotPath, err := sealed.ContentPath(ocfl.V(2), "b.txt")
	is.NoErr(err)
	is.True(!strings.Contains(gotPath, "/r1/")) // flattened, no revision segment

	got, err := ocflfs.ReadAll(ctx, fsys, ocflfs.Join("obj1", gotPath))
	is.NoErr(err)
	is.Equal(string(got), "rev1")
}

func TestMutableHeadPurgeDiscardsRevisions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := mem.New()
	locks := lock.New(0)
	w := version.New(locks)
	mh := version.NewMutableHead(w)

	v1 := publishV1(is, ctx, fsys, w, "urn:example:1", "obj1", "one")

	u2, err := inventory.NewFromPrevious(v1, inventory.CopyMutable)
	is.NoErr(err)
	_, cp2, err := u2.AddFile("dddd", "c.txt")
	is.NoErr(err)
	inv2, err := u2.BuildNewInventory(time.Now(), "", nil)
	is.NoErr(err)

	err = mh.StageChanges(ctx, fsys, "urn:example:1", "obj1", v1, inv2, func(ctx context.Context, stagingRoot string) error {
		_, err := fsys.Write(ctx, ocflfs.Join(stagingRoot, cp2), strings.NewReader("rev1"))
		return err
	})
	is.NoErr(err)

	err = mh.PurgeStagedChanges(ctx, fsys, "urn:example:1", "obj1")
	is.NoErr(err)

	exists, err := ocflfs.FileExists(ctx, fsys, ocflfs.Join("obj1", "extensions", "0005-mutable-head", "head", "inventory.json"))
	is.NoErr(err)
	is.True(!exists)

	root, err := inventory.Read(ctx, fsys, "obj1")
	is.NoErr(err)
	is.Equal(root.Head, ocfl.V(1)) // unaffected by the purged mutable HEAD
}
