package ocfl

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrRNumInvalid = errors.New("invalid mutable HEAD revision number")

// RNum is a revision number used inside an object's mutable HEAD
// (extensions/0005-mutable-head). Revisions are rendered "r1", "r2", ...
// and, unlike VNum, never carry padding: the mutable HEAD is a transient,
// single-writer staging area, not a published version sequence.
type RNum struct {
	num int
}

// R returns a new RNum with sequence number n.
func R(n int) RNum { return RNum{num: n} }

// ParseRNum parses s (e.g. "r1") into an RNum.
func ParseRNum(s string) (RNum, error) {
	if len(s) < 2 || s[0] != 'r' {
		return RNum{}, fmt.Errorf("%s: %w", s, ErrRNumInvalid)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return RNum{}, fmt.Errorf("%s: %w", s, ErrRNumInvalid)
	}
	return RNum{num: n}, nil
}

// Num returns r's sequence number.
func (r RNum) Num() int { return r.num }

// IsZero reports whether r is the zero value (no mutable HEAD active).
func (r RNum) IsZero() bool { return r.num == 0 }

// Next returns the revision following r.
func (r RNum) Next() RNum { return RNum{num: r.num + 1} }

// String renders r as "rN".
func (r RNum) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("r%d", r.num)
}

// Valid reports whether r is a well-formed, non-zero revision number.
func (r RNum) Valid() error {
	if r.num <= 0 {
		return fmt.Errorf("%w: %d", ErrRNumInvalid, r.num)
	}
	return nil
}

// MarshalText renders r as "rN", for the mutable HEAD's own inventory copy
// (the only place a revisionNum is ever persisted).
func (r RNum) MarshalText() ([]byte, error) {
	if err := r.Valid(); err != nil {
		return nil, err
	}
	return []byte(r.String()), nil
}

// UnmarshalText parses text (e.g. "r1") into r.
func (r *RNum) UnmarshalText(text []byte) error {
	parsed, err := ParseRNum(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
