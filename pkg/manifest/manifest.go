// Package manifest records what was unpacked from a source file in a YAML
// document stored next to the slice directory.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dicomunpack/internal/models"
	"dicomunpack/pkg/stats"
)

// Entry describes one slice file
type Entry struct {
	Index int            `yaml:"index"`
	File  string         `yaml:"file"`
	Stats *stats.Summary `yaml:"stats,omitempty"`
}

// Manifest describes the slices written for one source file
type Manifest struct {
	Source         string  `yaml:"source"`
	NumberOfFrames int     `yaml:"numberOfFrames"`
	Rows           int     `yaml:"rows"`
	Columns        int     `yaml:"columns"`
	Encapsulated   bool    `yaml:"encapsulated"`
	Slices         []Entry `yaml:"slices"`
}

// New builds a manifest from a volume. summaries may be nil or shorter than
// the slice list; missing entries are left without statistics.
func New(volume models.Volume, summaries []*stats.Summary) *Manifest {
	m := &Manifest{
		Source:         volume.Source,
		NumberOfFrames: volume.NumberOfFrames,
		Slices:         make([]Entry, 0, len(volume.Slices)),
	}
	for i, s := range volume.Slices {
		if i == 0 {
			m.Rows, m.Columns, m.Encapsulated = s.Rows, s.Cols, s.Encapsulated
		}
		entry := Entry{Index: s.Index, File: filepath.Base(s.Path)}
		if i < len(summaries) {
			entry.Stats = summaries[i]
		}
		m.Slices = append(m.Slices, entry)
	}
	return m
}

// PathFor returns where the manifest of a slice directory is stored.
func PathFor(sliceDir string) string {
	return filepath.Clean(sliceDir) + ".yaml"
}

// Save writes the manifest to path
func Save(m *Manifest, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating manifest directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}

// Load reads a manifest written by Save
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	return m, nil
}
