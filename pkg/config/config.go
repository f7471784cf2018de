// Package config provides configuration loading and management for dicomunpack.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input selection
	Input struct {
		// FileFilter is the input file extension, or a glob relative to the
		// input directory
		FileFilter string `yaml:"fileFilter"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// OutputType is "dcm", or "jpg"/"png" to also export raster previews
		OutputType string `yaml:"outputType"`

		// SliceNameWidth is the minimum zero padding of slice indices
		SliceNameWidth int `yaml:"sliceNameWidth"`

		// WriteManifest writes a YAML manifest next to each slice directory
		WriteManifest bool `yaml:"writeManifest"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Preview export parameters, used when OutputType is a raster format
	Preview struct {
		// Quality is the JPEG quality
		Quality int `yaml:"quality"`

		// MaxSize bounds the longer edge of previews; 0 keeps frame size
		MaxSize int `yaml:"maxSize"`
	} `yaml:"preview"`

	// Telemetry parameters
	Telemetry struct {
		// Database is the SQLite file events are recorded to; empty disables
		Database string `yaml:"database"`
	} `yaml:"telemetry"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.FileFilter = "dcm"

	cfg.Output.OutputType = "dcm"
	cfg.Output.SliceNameWidth = 3
	cfg.Output.WriteManifest = false
	cfg.Output.Verbose = false

	cfg.Preview.Quality = 90
	cfg.Preview.MaxSize = 0

	return cfg
}

// Validate reports settings that cannot be used
func (c *Config) Validate() error {
	if c.Input.FileFilter == "" {
		return fmt.Errorf("input.fileFilter must not be empty")
	}
	switch c.Output.OutputType {
	case "dcm", "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("unsupported output type: %s (must be dcm, jpg or png)", c.Output.OutputType)
	}
	if c.Output.SliceNameWidth < 1 {
		return fmt.Errorf("output.sliceNameWidth must be at least 1")
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview.quality must be between 1 and 100")
	}
	if c.Preview.MaxSize < 0 {
		return fmt.Errorf("preview.maxSize must be non-negative")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
