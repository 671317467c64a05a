package schema

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML schema file.
func Load(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML schema document. Unknown keys are rejected.
func Parse(raw []byte) (Schema, error) {
	var s Schema
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Schema{}, fmt.Errorf("failed to parse schema: %w", err)
	}
	for i := range s.Entities {
		defaultPropertyTypes(s.Entities[i].Properties)
	}
	for i := range s.Relations {
		defaultPropertyTypes(s.Relations[i].Properties)
	}
	return s, nil
}

func defaultPropertyTypes(props []Property) {
	for i := range props {
		if props[i].Type == "" {
			props[i].Type = TypeString
		}
	}
}
