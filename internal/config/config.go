// Package config loads JSON configuration files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load decodes the JSON file at path into a new T.
func Load[T any](path string) (*T, error) {
	var v T
	if err := LoadInto(path, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// LoadInto decodes the JSON file at path over dst, so fields missing from
// the file keep the values dst already holds. Unknown fields are rejected.
func LoadInto(path string, dst any) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("config %s: %w", abs, err)
	}
	return nil
}
