package version_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/mem"
	"github.com/ocflcore/ocfl/inventory"
	"github.com/ocflcore/ocfl/lock"
	"github.com/ocflcore/ocfl/version"
)

func buildV1(is *is.I, content string) (*inventory.Inventory, string) {
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA512, "")
	is.NoErr(err)
	alg, err := digest.Get(digest.SHA512)
	is.NoErr(err)
	h := alg.New()
	h.Write([]byte(content))
	digestHex := hexSum(h.Sum(nil))
	_, cp, err := u.AddFile(digestHex, "a.txt")
	is.NoErr(err)
	inv, err := u.BuildNewInventory(time.Now(), "v1", nil)
	is.NoErr(err)
	return inv, cp
}

func hexSum(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func TestWriterPublishV1(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := mem.New()
	locks := lock.New(0)
	w := version.New(locks)

	inv, cp := buildV1(is, "hello")
	populate := func(ctx context.Context, stagingRoot string) error {
		_, err := fsys.Write(ctx, ocflfs.Join(stagingRoot, cp), strings.NewReader("hello"))
		return err
	}

	err := w.Publish(ctx, fsys, "urn:example:1", "obj1", inv, populate)
	is.NoErr(err)

	got, err := ocflfs.ReadAll(ctx, fsys, ocflfs.Join("obj1", cp))
	is.NoErr(err)
	is.Equal(string(got), "hello")

	raw, err := ocflfs.ReadAll(ctx, fsys, ocflfs.Join("obj1", "inventory.json"))
	is.NoErr(err)
	is.True(len(raw) > 0)
}

func TestWriterPublishRejectsOutOfSyncPrevious(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := mem.New()
	locks := lock.New(0)
	w := version.New(locks)

	inv1, cp1 := buildV1(is, "one")
	err := w.Publish(ctx, fsys, "urn:example:1", "obj1", inv1, func(ctx context.Context, stagingRoot string) error {
		_, err := fsys.Write(ctx, ocflfs.Join(stagingRoot, cp1), strings.NewReader("one"))
		return err
	})
	is.NoErr(err)

	loaded, err := inventory.Read(ctx, fsys, "obj1")
	is.NoErr(err)

	// Simulate a concurrent writer publishing v2 out from under this one:
	// the second writer's v2, built from the same loaded v1, carries a
	// PreviousDigest that does not match the root sidecar.
	u2, err := inventory.NewFromPrevious(loaded, inventory.Copy)
	is.NoErr(err)
	_, cp2, err := u2.AddFile("bbbb", "b.txt")
	is.NoErr(err)
	inv2, err := u2.BuildNewInventory(time.Now(), "v2", nil)
	is.NoErr(err)
	inv2.PreviousDigest = "not-the-real-digest"

	err = w.Publish(ctx, fsys, "urn:example:1", "obj1", inv2, func(ctx context.Context, stagingRoot string) error {
		_, err := fsys.Write(ctx, ocflfs.Join(stagingRoot, cp2), strings.NewReader("two"))
		return err
	})
	is.True(err != nil)

	exists, err := ocflfs.FileExists(ctx, fsys, ocflfs.Join("obj1", "v2", "inventory.json"))
	is.NoErr(err)
	is.True(!exists) // v2 must not remain on disk after a rejected commit
}
