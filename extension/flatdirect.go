package extension

import "encoding/json"

// NameFlatDirect is the registered name of the 0002 layout.
const NameFlatDirect = "0002-flat-direct-storage-layout"

// FlatDirect implements 0002-flat-direct-storage-layout: the object id is
// used verbatim as the storage root path. It has no parameters.
type FlatDirect struct{}

var _ Layout = FlatDirect{}

// NewFlatDirect returns a FlatDirect layout.
func NewFlatDirect() Layout { return FlatDirect{} }

func (FlatDirect) Name() string { return NameFlatDirect }

func (FlatDirect) Resolve(id string) (string, error) { return id, nil }

func (FlatDirect) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{extensionNameKey: NameFlatDirect})
}
