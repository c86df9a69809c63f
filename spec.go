package ocfl

import (
	"fmt"
	"regexp"
)

// Spec represents an OCFL specification version number, e.g. "1.0" or "1.1".
type Spec string

const (
	Spec1_0 = Spec("1.0")
	Spec1_1 = Spec("1.1")

	defaultSpec = Spec1_1
)

var specRexp = regexp.MustCompile(`^[0-9]+\.[0-9]+$`)

// Empty reports whether s is the zero value.
func (s Spec) Empty() bool { return s == "" }

// Valid reports whether s looks like "N.N".
func (s Spec) Valid() error {
	if !specRexp.MatchString(string(s)) {
		return fmt.Errorf("invalid OCFL spec version: %q", string(s))
	}
	return nil
}

// Cmp compares two Spec values, returning -1, 0, or 1. Both must be Valid;
// comparison is lexicographic over the major/minor numeric parts.
func (s Spec) Cmp(other Spec) int {
	sMaj, sMin := s.parts()
	oMaj, oMin := other.parts()
	switch {
	case sMaj != oMaj:
		return cmpInt(sMaj, oMaj)
	default:
		return cmpInt(sMin, oMin)
	}
}

func (s Spec) parts() (maj, min int) {
	fmt.Sscanf(string(s), "%d.%d", &maj, &min)
	return
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// InvType is the "type" field of an inventory.json: a URI identifying the
// inventory's OCFL specification version, e.g.
// "https://ocfl.io/1.1/spec/#inventory".
type InvType struct {
	Spec Spec
}

const invTypePrefix = "https://ocfl.io/"
const invTypeSuffix = "/spec/#inventory"

// AsInvType returns the InvType for s.
func (s Spec) AsInvType() InvType {
	return InvType{Spec: s}
}

func (t InvType) String() string {
	return invTypePrefix + string(t.Spec) + invTypeSuffix
}

func (t InvType) MarshalText() ([]byte, error) {
	if err := t.Spec.Valid(); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

func (t *InvType) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) <= len(invTypePrefix)+len(invTypeSuffix) || s[:len(invTypePrefix)] != invTypePrefix {
		return fmt.Errorf("invalid inventory type: %q", s)
	}
	spec := Spec(s[len(invTypePrefix) : len(s)-len(invTypeSuffix)])
	if err := spec.Valid(); err != nil {
		return fmt.Errorf("invalid inventory type: %q: %w", s, err)
	}
	t.Spec = spec
	return nil
}
