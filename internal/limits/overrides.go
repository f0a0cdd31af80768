package limits

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides is the YAML shape accepted by LoadFile:
//
//	platforms:
//	  google:
//	    headline: 30
//	aliases:
//	  reddit:
//	    headline: title
type Overrides struct {
	Platforms map[string]map[string]int    `yaml:"platforms"`
	Aliases   map[string]map[string]string `yaml:"aliases"`
}

// WithOverrides returns a copy of t with o merged over it.
func (t *Table) WithOverrides(o Overrides) (*Table, error) {
	for p, fields := range o.Platforms {
		for f, n := range fields {
			if n <= 0 {
				return nil, fmt.Errorf("limit for %s.%s must be positive, got %d", p, f, n)
			}
		}
	}
	c := t.clone()
	c.merge(o.Platforms, o.Aliases)
	return c, nil
}

// LoadFile reads YAML overrides from path and merges them over t.
func (t *Table) LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open limits file %s: %w", path, err)
	}
	defer f.Close()

	var o Overrides
	if err := yaml.NewDecoder(f).Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode limits file %s: %w", path, err)
	}
	return t.WithOverrides(o)
}
