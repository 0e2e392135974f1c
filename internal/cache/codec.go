package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Encode serializes v as JSON or, when asJSON is false, with gob.
func Encode(v any, asJSON bool) ([]byte, error) {
	if asJSON {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: json encode: %w", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("cache: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode. v must be a pointer.
func Decode(data []byte, asJSON bool, v any) error {
	if asJSON {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("cache: json decode: %w", err)
		}
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("cache: gob decode: %w", err)
	}
	return nil
}
