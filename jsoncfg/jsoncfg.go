// Package jsoncfg loads JSON configuration files.
package jsoncfg

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Open opens the JSON file at path and decodes it into v.
//
// Unknown fields and trailing data in the JSON file will cause an error.
func Open(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err = Decode(f, v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", path, err)
	}
	return nil
}

// Decode decodes a single JSON value from r into v, disallowing unknown fields.
func Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after the JSON value at offset %d", dec.InputOffset())
	}
	return nil
}
