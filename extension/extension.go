// Package extension implements the storage-layout extensions a repository
// uses to map object identifiers onto storage root paths (spec §4.2).
// Each layout is a small, self-contained resolver; config.json in the
// storage root's extensions/ directory identifies which one is active and
// carries its parameters.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"
)

const extensionNameKey = "extensionName"

var (
	ErrUnknown         = errors.New("unrecognized storage layout extension")
	ErrNotLayout       = errors.New("extension is not a layout extension")
	ErrInvalidLayoutID = errors.New("object id is invalid for this layout")
)

// Layout resolves an OCFL object identifier to the path (relative to the
// storage root) of that object's root directory. Implementations must be
// pure functions of (id, configuration): the same id always resolves to
// the same path for a given configuration (spec §4.2 invariant).
type Layout interface {
	// Name returns the extension's registered name, e.g.
	// "0004-hashed-n-tuple-storage-layout".
	Name() string
	// Resolve maps id to a storage root path. It returns
	// ErrInvalidLayoutID if id can't be represented by this layout.
	Resolve(id string) (string, error)
}

var registry = map[string]func() Layout{
	NameFlatDirect:      NewFlatDirect,
	NameHashIDTuple:     NewHashIDTuple,
	NameHashTuple:       NewHashTuple,
	NameFlatOmitPrefix:  NewFlatOmitPrefix,
	NameTupleOmitPrefix: NewTupleOmitPrefix,
}

// Get returns a new instance of the named layout with default parameters.
func Get(name string) (Layout, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return ctor(), nil
}

// Register adds or replaces the layout constructed by ctor in the
// registry, keyed by the name the constructed instance reports.
func Register(ctor func() Layout) {
	registry[ctor().Name()] = ctor
}

// Registered returns the names of every registered layout.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// IsRegistered reports whether name is a known layout extension.
func IsRegistered(name string) bool {
	_, ok := registry[name]
	return ok
}

// Unmarshal decodes an extensions/<name>/config.json document and returns
// the configured Layout instance it describes.
func Unmarshal(config []byte) (Layout, error) {
	var probe struct {
		Name string `json:"extensionName"`
	}
	if err := json.Unmarshal(config, &probe); err != nil {
		return nil, fmt.Errorf("parsing layout config: %w", err)
	}
	layout, err := Get(probe.Name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, layout); err != nil {
		return nil, fmt.Errorf("parsing layout config for %q: %w", probe.Name, err)
	}
	return layout, nil
}

// Marshal encodes layout (including its extensionName discriminator) as
// the contents of an extensions/<name>/config.json document.
func Marshal(layout Layout) ([]byte, error) {
	return json.Marshal(layout)
}
