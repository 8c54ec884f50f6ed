// Package devconfig reads and edits the gNB device configuration, a flat
// JSON object produced by the commissioning tool.
package devconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// DefaultPath is where the commissioning tool writes the dashboard's config.
const DefaultPath = "/opt/ste/active/commissioning/configs/gnb_webdashboard.json"

var (
	// ErrUnknownField is returned by Set for fields that are neither
	// known aliases nor keys present in the document.
	ErrUnknownField = errors.New("unknown config field")
)

// Document is a decoded device configuration.
type Document map[string]any

// Read loads and decodes the configuration at path.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device config: %w", err)
	}
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing device config %s: %w", path, err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Encode renders the document the way the commissioning tool writes it:
// four-space indented JSON with sorted keys.
func (d Document) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(map[string]any(d), "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encoding device config: %w", err)
	}
	return append(out, '\n'), nil
}

// String returns the field as display text, or "" when absent.
func (d Document) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Keys returns the document's keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write atomically replaces path with the encoded document.
func Write(path string, doc Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".devconfig-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Change describes a single-field edit with the file text before and after.
type Change struct {
	Field  string
	Old    string
	New    string
	Before []byte
	After  []byte
}

// EnsureField sets key to value only when key is absent. It returns nil
// when the field was already present.
func EnsureField(path, key, value string) (*Change, error) {
	before, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device config: %w", err)
	}
	doc, err := Read(path)
	if err != nil {
		return nil, err
	}
	if doc.Has(key) {
		return nil, nil
	}
	doc[key] = value
	after, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, after); err != nil {
		return nil, err
	}
	return &Change{Field: key, New: value, Before: before, After: after}, nil
}

// Set updates one field. field may be a dashboard alias (see Aliases) or a
// raw key already present in the document. Numeric fields stay numeric when
// value parses as a number. A copy of the previous file is kept at
// path + ".bak".
func Set(path, field, value string) (*Change, error) {
	key := ResolveField(field)
	before, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device config: %w", err)
	}
	doc, err := Read(path)
	if err != nil {
		return nil, err
	}
	if _, known := Aliases[field]; !known && !doc.Has(key) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	old := doc.String(key)
	doc[key] = coerce(doc[key], value)

	after, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path+".bak", before, 0644); err != nil {
		return nil, fmt.Errorf("writing backup: %w", err)
	}
	if err := writeAtomic(path, after); err != nil {
		return nil, err
	}
	return &Change{Field: key, Old: old, New: value, Before: before, After: after}, nil
}

// coerce keeps the JSON type of the existing value where value allows it.
func coerce(existing any, value string) any {
	switch existing.(type) {
	case json.Number, float64:
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return json.Number(value)
		}
	case bool:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}
