// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is a document encoding.
type Format int

const (
	YAML Format = iota + 1
	JSONC
)

// FormatForPath picks the format from a file extension: .json and
// .jsonc are JSONC, .yaml and .yml are YAML.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json", ".jsonc":
		return JSONC, nil
	}
	return 0, fmt.Errorf("policy: %s: unrecognized extension (want .yaml, .yml, .json, or .jsonc)", path)
}

// Load reads, parses, and validates the policy document at path.
func Load(path string) (*Set, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	set, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse decodes and validates a document. Unknown fields are rejected
// so a misspelled key cannot silently loosen a policy.
func Parse(data []byte, format Format) (*Set, error) {
	var document Document
	switch format {
	case YAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&document); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidPolicy, err)
		}
	case JSONC:
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&document); err != nil {
			return nil, fmt.Errorf("%w: parsing JSONC: %v", ErrInvalidPolicy, err)
		}
	default:
		return nil, fmt.Errorf("policy: unknown format %d", int(format))
	}
	return NewSet(document)
}
