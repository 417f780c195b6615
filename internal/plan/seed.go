package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedTable is a batch of rows for one table.
type SeedTable struct {
	Table string           `yaml:"table" json:"table"`
	Rows  []map[string]any `yaml:"rows" json:"rows"`
}

// SeedSet is the content of a seed file.
type SeedSet struct {
	Tables []SeedTable `yaml:"tables" json:"tables"`
}

// Count returns the total number of rows.
func (s SeedSet) Count() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Rows)
	}
	return n
}

// ParseSeeds decodes a YAML seed document.
func ParseSeeds(data []byte) (SeedSet, error) {
	var s SeedSet
	if err := yaml.Unmarshal(data, &s); err != nil {
		return SeedSet{}, fmt.Errorf("parse seeds: %w", err)
	}
	if len(s.Tables) == 0 {
		return SeedSet{}, errors.New("seed file has no tables")
	}
	for i, t := range s.Tables {
		if t.Table == "" {
			return SeedSet{}, fmt.Errorf("seed table %d has no name", i+1)
		}
		if len(t.Rows) == 0 {
			return SeedSet{}, fmt.Errorf("seed table %s has no rows", t.Table)
		}
	}
	return s, nil
}

// LoadSeedFile reads and parses a seed file from disk.
func LoadSeedFile(path string) (SeedSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedSet{}, fmt.Errorf("read seeds: %w", err)
	}
	return ParseSeeds(data)
}

// BuiltinSeeds returns the catalog rows shipped with the binary.
func BuiltinSeeds() (SeedSet, error) {
	data, err := builtin.ReadFile("seeds/catalog.yaml")
	if err != nil {
		return SeedSet{}, err
	}
	return ParseSeeds(data)
}
