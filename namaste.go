package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"

	ocflfs "github.com/ocflcore/ocfl/fs"
)

const (
	NamasteTypeObject = "ocfl_object" // type string for an OCFL object declaration
	NamasteTypeRoot   = "ocfl"        // type string for an OCFL storage root declaration
)

var (
	ErrNamasteNotExist = fmt.Errorf("missing NAMASTE declaration: %w", fs.ErrNotExist)
	ErrNamasteContents = errors.New("invalid NAMASTE declaration contents")
	ErrNamasteMultiple = errors.New("multiple NAMASTE declarations found")
	namasteRE          = regexp.MustCompile(`^0=([a-z_]+)_([0-9]+\.[0-9]+)$`)
)

// Namaste represents a NAMASTE ("name as text") declaration file: a marker
// whose filename encodes the declared type and OCFL spec version.
type Namaste struct {
	Type    string
	Version Spec
}

// FindNamaste returns the NAMASTE declaration among items. An error is
// returned if the number of declarations present is not exactly one.
func FindNamaste(items []fs.DirEntry) (Namaste, error) {
	var found []Namaste
	for _, e := range items {
		if e.IsDir() {
			continue
		}
		if dec, err := ParseNamaste(e.Name()); err == nil {
			found = append(found, dec)
		}
	}
	switch len(found) {
	case 0:
		return Namaste{}, ErrNamasteNotExist
	case 1:
		return found[0], nil
	default:
		return Namaste{}, ErrNamasteMultiple
	}
}

// Name returns the filename for n ("0=TYPE_VERSION"), or "" if n is empty.
func (n Namaste) Name() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return "0=" + n.Type + "_" + string(n.Version)
}

// Body returns the expected file contents of the declaration.
func (n Namaste) Body() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return n.Type + "_" + string(n.Version) + "\n"
}

// IsObject reports whether n declares an OCFL object root.
func (n Namaste) IsObject() bool { return n.Type == NamasteTypeObject }

// IsRoot reports whether n declares an OCFL storage root.
func (n Namaste) IsRoot() bool { return n.Type == NamasteTypeRoot }

// ParseNamaste parses name (a bare filename, e.g. "0=ocfl_object_1.1") as a
// Namaste declaration.
func ParseNamaste(name string) (Namaste, error) {
	m := namasteRE.FindStringSubmatch(name)
	if len(m) != 3 {
		return Namaste{}, ErrNamasteNotExist
	}
	return Namaste{Type: m[1], Version: Spec(m[2])}, nil
}

// ValidateNamaste reads the declaration at name in fsys and confirms its
// contents match what its filename declares.
func ValidateNamaste(ctx context.Context, fsys ocflfs.FS, name string) (err error) {
	nam, err := ParseNamaste(path.Base(name))
	if err != nil {
		return err
	}
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("opening %q: %w", name, ErrNamasteNotExist)
		}
		return fmt.Errorf("opening %q: %w", name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	decl, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading %q: %w", name, err)
	}
	if string(decl) != nam.Body() {
		return fmt.Errorf("contents of %q: %w", name, ErrNamasteContents)
	}
	return nil
}

// WriteDeclaration writes the NAMASTE declaration d into dir.
func WriteDeclaration(ctx context.Context, root ocflfs.WriteFS, dir string, d Namaste) error {
	cont := strings.NewReader(d.Body())
	_, err := root.Write(ctx, path.Join(dir, d.Name()), cont)
	if err != nil {
		return fmt.Errorf("writing declaration: %w", err)
	}
	return nil
}
