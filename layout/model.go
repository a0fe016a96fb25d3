// ABOUTME: Layout document type plus the key and filename conventions for stored models.
// ABOUTME: Extracts deviceType.slug, rejects unsafe keys, and decodes JSON with exact number handling.
package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// FileSuffix is appended to the key to name a stored model file.
const FileSuffix = "_layout.json"

// Document is an arbitrary JSON object describing a device's port layout.
// Only deviceType.slug is interpreted; everything else is opaque.
type Document map[string]any

// Slug returns the string at deviceType.slug.
func (d Document) Slug() (string, bool) {
	dt, ok := d["deviceType"].(map[string]any)
	if !ok {
		return "", false
	}
	slug, ok := dt["slug"].(string)
	return slug, ok
}

// DeviceModel returns deviceType.model when it is a string.
func (d Document) DeviceModel() string {
	dt, ok := d["deviceType"].(map[string]any)
	if !ok {
		return ""
	}
	model, _ := dt["model"].(string)
	return model
}

// DeviceTypeID returns deviceType.id rendered as a string, or "" if absent.
func (d Document) DeviceTypeID() string {
	dt, ok := d["deviceType"].(map[string]any)
	if !ok {
		return ""
	}
	switch v := dt["id"].(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

// FileName returns the stored file name for a key.
func FileName(key string) string {
	return key + FileSuffix
}

// KeyFromFileName reverses FileName. The second result is false for files
// that do not follow the convention.
func KeyFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, FileSuffix) {
		return "", false
	}
	key := strings.TrimSuffix(name, FileSuffix)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// ValidateKey rejects keys that would escape the flat storage directory.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return &ValidationError{Message: "device slug must not be empty"}
	case key == "." || key == "..":
		return &ValidationError{Message: fmt.Sprintf("invalid device slug %q", key)}
	case strings.ContainsAny(key, "/\\\x00"):
		return &ValidationError{Message: fmt.Sprintf("invalid device slug %q: contains a path separator or NUL", key)}
	}
	return nil
}

// DecodeDocument parses a JSON object. Numbers are kept as json.Number so
// that a saved document round-trips without float rounding.
func DecodeDocument(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	if doc == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return doc, nil
}

// encodeDocument renders a document the way it is written to disk.
func encodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
