package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSources maps logical table names onto open-data dataset identifiers.
var DefaultSources = map[string]string{
	"crashes": "h9gi-nx95",
	"person":  "f55k-p6yu",
}

// sourcesFile is the YAML layout of SOURCES_FILE:
//
//	datasets:
//	  crashes: h9gi-nx95
//	  person: f55k-p6yu
//	date_field: crash_date
type sourcesFile struct {
	Datasets  map[string]string `yaml:"datasets"`
	DateField string            `yaml:"date_field"`
}

// Sources is the resolved source catalog.
type Sources struct {
	Datasets  map[string]string
	DateField string
}

// LoadSources returns the default catalog overlaid with entries from path.
// An empty path returns the defaults.
func LoadSources(path string) (Sources, error) {
	src := Sources{Datasets: make(map[string]string, len(DefaultSources)), DateField: "crash_date"}
	for k, v := range DefaultSources {
		src.Datasets[k] = v
	}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return Sources{}, fmt.Errorf("read sources file: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Sources{}, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	for k, v := range f.Datasets {
		if v == "" {
			return Sources{}, fmt.Errorf("sources file %s: empty dataset for table %q", path, k)
		}
		src.Datasets[k] = v
	}
	if f.DateField != "" {
		src.DateField = f.DateField
	}
	return src, nil
}
