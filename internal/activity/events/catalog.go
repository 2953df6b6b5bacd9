package events

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk form of the static event definitions.
type Catalog struct {
	Defaults struct {
		Conditions *Conditions `yaml:"conditions"`
	} `yaml:"defaults"`
	Groups []Group `yaml:"groups"`
}

// LoadCatalog reads and parses the YAML catalog at path.
func LoadCatalog(path string) ([]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog. Catalog-wide default conditions are
// copied onto every event that declares none of its own.
func ParseCatalog(data []byte) ([]Group, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing event catalog: %w", err)
	}

	if c.Defaults.Conditions != nil {
		for gi := range c.Groups {
			for ei := range c.Groups[gi].Events {
				if c.Groups[gi].Events[ei].Conditions == nil {
					cond := *c.Defaults.Conditions
					c.Groups[gi].Events[ei].Conditions = &cond
				}
			}
		}
	}
	return c.Groups, nil
}
