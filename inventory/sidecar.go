package inventory

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	ocfl "github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
)

const fileName = "inventory.json"

var sidecarContentsRexp = regexp.MustCompile(`^([a-fA-F0-9]+)\s+inventory\.json\s*\n?$`)

// Write serializes inv, computes its digest under inv.DigestAlgorithm, and
// writes inventory.json plus its sidecar (inventory.<algorithm>, containing
// "<digest> inventory.json\n") into every directory listed in dirs. The
// first directory is treated as canonical; the digest written is the same
// in every copy. inv.CurrentDigest is set to the computed digest on
// success, satisfying I7 for the caller's in-memory copy.
func Write(ctx context.Context, fsys ocflfs.WriteFS, inv *Inventory, dirs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	alg, err := digest.Get(inv.DigestAlgorithm)
	if err != nil {
		return fmt.Errorf("%w: %v", ocfl.ErrInvalidInventory, err)
	}
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("%w: encoding inventory: %v", ocfl.ErrInvalidInventory, err)
	}
	h := alg.New()
	if _, err := io.Copy(h, bytes.NewReader(raw)); err != nil {
		return err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	sidecarLine := sum + " " + fileName + "\n"
	for _, dir := range dirs {
		invPath := path.Join(dir, fileName)
		if _, err := fsys.Write(ctx, invPath, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("writing %s: %w", invPath, err)
		}
		sidePath := invPath + "." + inv.DigestAlgorithm
		if _, err := fsys.Write(ctx, sidePath, strings.NewReader(sidecarLine)); err != nil {
			return fmt.Errorf("writing %s: %w", sidePath, err)
		}
	}
	inv.CurrentDigest = sum
	return nil
}

// Read loads the inventory.json in dir, checks invariants I1-I6 via
// Inventory.Validate, and then validates it against its sidecar (I7: the
// sidecar's recorded digest must equal the digest of the bytes actually
// read).
func Read(ctx context.Context, fsys ocflfs.FS, dir string) (*Inventory, error) {
	invPath := path.Join(dir, fileName)
	raw, err := ocflfs.ReadAll(ctx, fsys, invPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ocfl.ErrCorruptObject, invPath, err)
	}
	var inv Inventory
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ocfl.ErrInvalidInventory, invPath, err)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	sidePath := invPath + "." + inv.DigestAlgorithm
	recorded, err := readSidecar(ctx, fsys, sidePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocfl.ErrCorruptObject, err)
	}
	alg, err := digest.Get(inv.DigestAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocfl.ErrInvalidInventory, err)
	}
	h := alg.New()
	if _, err := h.Write(raw); err != nil {
		return nil, err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, recorded) {
		// I7
		return nil, fmt.Errorf("%w: %s digest %s does not match sidecar value %s", ocfl.ErrCorruptObject, invPath, actual, recorded)
	}
	inv.CurrentDigest = actual
	inv.ObjectRootPath = dir
	return &inv, nil
}

func readSidecar(ctx context.Context, fsys ocflfs.FS, name string) (string, error) {
	raw, err := ocflfs.ReadAll(ctx, fsys, name)
	if err != nil {
		return "", fmt.Errorf("reading sidecar %s: %w", name, err)
	}
	matches := sidecarContentsRexp.FindSubmatch(raw)
	if len(matches) != 2 {
		return "", fmt.Errorf("malformed sidecar %s: %q", name, string(raw))
	}
	return string(matches[1]), nil
}
