package addfile_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/ocflcore/ocfl/addfile"
	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/mem"
	"github.com/ocflcore/ocfl/inventory"
)

func TestProcessNewObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	srcFS := mem.New()
	_, err := srcFS.Write(ctx, "a.txt", strings.NewReader("hello"))
	is.NoErr(err)
	_, err = srcFS.Write(ctx, "sub/b.txt", strings.NewReader("world"))
	is.NoErr(err)

	dstFS := mem.New()

	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA256, "")
	is.NoErr(err)

	added, err := addfile.Process(ctx, srcFS, ".", dstFS, ".", u, addfile.Options{})
	is.NoErr(err)
	is.Equal(len(added), 2)

	inv, err := u.BuildNewInventory(time.Now(), "first version", nil)
	is.NoErr(err)
	is.Equal(inv.Manifest.Len(), 2)

	cp, err := inv.ContentPath(ocfl.V(1), "a.txt")
	is.NoErr(err)
	raw, err := ocflfs.ReadAll(ctx, dstFS, "v1/content/"+trimPrefix(cp, "v1/content/"))
	is.NoErr(err)
	is.Equal(string(raw), "hello")
}

func TestProcessDedupesIdenticalContent(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	srcFS := mem.New()
	_, err := srcFS.Write(ctx, "a.txt", strings.NewReader("same"))
	is.NoErr(err)
	_, err = srcFS.Write(ctx, "b.txt", strings.NewReader("same"))
	is.NoErr(err)

	dstFS := mem.New()
	u, err := inventory.New("urn:example:1", ocfl.Spec1_1.AsInvType(), digest.SHA256, "")
	is.NoErr(err)

	_, err = addfile.Process(ctx, srcFS, ".", dstFS, "v1/content", u, addfile.Options{})
	is.NoErr(err)

	inv, err := u.BuildNewInventory(time.Now(), "", nil)
	is.NoErr(err)
	is.Equal(inv.Manifest.Len(), 1) // one physical content path shared by both logical paths
}

func trimPrefix(s, prefix string) string {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
