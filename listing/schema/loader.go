package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the YAML layout of a schema file
type Document struct {
	Entities []EntityType   `yaml:"entities"`
	Labels   []LabelMapping `yaml:"labels"`
}

// Load reads a YAML schema document and builds a registry
func Load(r io.Reader) (*Registry, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return NewRegistry(doc.Entities, doc.Labels)
}

// LoadFile reads the schema document at path
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema %s: %w", path, err)
	}
	defer f.Close()

	reg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return reg, nil
}
