package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlatformEntry describes one provider in the platform catalog file.
type PlatformEntry struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	BaseURL  string   `yaml:"base_url"`
	APIKey   string   `yaml:"api_key"`
	Enabled  bool     `yaml:"enabled"`
	Priority int      `yaml:"priority"`
	Kinds    []string `yaml:"task_types"`
}

// PlatformCatalogFile is the YAML root.
type PlatformCatalogFile struct {
	Platforms []PlatformEntry `yaml:"platforms"`
}

// LoadPlatformCatalog reads and parses the platform catalog YAML. A missing
// file is not an error; callers fall back to built-in defaults.
func LoadPlatformCatalog(path string) (PlatformCatalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PlatformCatalogFile{}, nil
		}
		return PlatformCatalogFile{}, fmt.Errorf("op=config.LoadPlatformCatalog: %w", err)
	}
	// Allow ${VAR} references for secrets.
	raw = []byte(os.ExpandEnv(string(raw)))
	var cat PlatformCatalogFile
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return PlatformCatalogFile{}, fmt.Errorf("op=config.LoadPlatformCatalog: parse %s: %w", path, err)
	}
	for i, p := range cat.Platforms {
		if p.ID == "" {
			return PlatformCatalogFile{}, fmt.Errorf("op=config.LoadPlatformCatalog: platform %d missing id", i)
		}
	}
	return cat, nil
}
