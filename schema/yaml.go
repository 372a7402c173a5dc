package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a schema.
type File struct {
	App    string      `yaml:"app"`
	Models []ModelSpec `yaml:"models"`
}

// LoadYAML decodes a schema file and builds its registry.
func LoadYAML(r io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidSchema, err)
	}
	return NewBuilder(f.App).Add(f.Models...).Build()
}

// LoadFile reads and builds the schema at path.
func LoadFile(path string) (*Registry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return LoadYAML(fh)
}
