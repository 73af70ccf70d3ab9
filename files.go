package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/itable/schema"
)

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decodeDoc decodes YAML or JSON, chosen by the file extension. JSON
// numbers are kept as json.Number.
func decodeDoc(path string, raw []byte, v any) error {
	if isYAML(path) {
		if err := yaml.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadSchema reads a schema document. JSON documents keep their property
// order.
func loadSchema(path string, stdin io.Reader, opts ...schema.Option) (*schema.Schema, error) {
	raw, err := readInput(path, stdin)
	if err != nil {
		return nil, err
	}
	if !isYAML(path) {
		return schema.ParseJSON(raw, opts...)
	}
	var doc map[string]any
	if err := decodeDoc(path, raw, &doc); err != nil {
		return nil, err
	}
	return schema.Parse(doc, opts...)
}
