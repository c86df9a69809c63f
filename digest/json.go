package digest

import "encoding/json"

// marshalDigestToPaths renders the inventory-orientation shape used by
// manifests, fixity blocks, and version states: {"digest": ["path", ...]}.
func marshalDigestToPaths(m map[string][]string) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalDigestToPaths(b []byte) (map[string][]string, error) {
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
