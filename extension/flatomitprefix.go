package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// NameFlatOmitPrefix is the registered name of the 0006 layout.
const NameFlatOmitPrefix = "0006-flat-omit-prefix-storage-layout"

// FlatOmitPrefix implements 0006-flat-omit-prefix-storage-layout: the
// storage path is the object id with everything up to and including the
// last occurrence of Delimiter removed.
type FlatOmitPrefix struct {
	Delimiter string `json:"delimiter"`
}

var _ Layout = FlatOmitPrefix{}

// NewFlatOmitPrefix returns a FlatOmitPrefix layout with no delimiter
// configured; Delimiter must be set before use (it has no sane default).
func NewFlatOmitPrefix() Layout { return FlatOmitPrefix{} }

func (l FlatOmitPrefix) Name() string { return NameFlatOmitPrefix }

func (l FlatOmitPrefix) Resolve(id string) (string, error) {
	if l.Delimiter == "" {
		return "", errors.New("missing required layout configuration: delimiter")
	}
	dir := id
	lowerID := strings.ToLower(id)
	lowerDelim := strings.ToLower(l.Delimiter)
	if offset := strings.LastIndex(lowerID, lowerDelim); offset > -1 {
		dir = id[offset+len(l.Delimiter):]
	}
	if dir == "extensions" || !fs.ValidPath(dir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLayoutID, id)
	}
	return dir, nil
}

func (l FlatOmitPrefix) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionNameKey: NameFlatOmitPrefix,
		"delimiter":      l.Delimiter,
	})
}
