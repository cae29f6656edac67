package docstore

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ToData converts a JSON-tagged value into the generic document shape stored
// by every backend.
func ToData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeData(raw)
}

// Decode fills dst from a document's data using its JSON tags.
func Decode(data map[string]any, dst any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func encodeData(data map[string]any) ([]byte, error) {
	return json.Marshal(data)
}

func decodeData(raw []byte) (map[string]any, error) {
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func cloneData(data map[string]any) (map[string]any, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return decodeData(raw)
}
