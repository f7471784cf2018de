package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dicomunpack/internal/dicomtest"
	"dicomunpack/pkg/config"
	"dicomunpack/pkg/telemetry"
)

// runCLI runs the command with a config path that does not exist, so a
// dicomunpack.yaml in the working directory cannot leak into the test
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"-config", filepath.Join(t.TempDir(), "none.yaml")}, args...)
	code := run("dicomunpack", args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFixture(t *testing.T, path string, fixture dicomtest.Fixture) {
	t.Helper()
	if err := fixture.Write(path); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", path, err)
	}
}

// TestRunSkipsCorruptFile verifies a corrupt input leaves the exit status at zero
func TestRunSkipsCorruptFile(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writeFixture(t, filepath.Join(inputDir, "a.dcm"), dicomtest.Fixture{Rows: 2, Cols: 2, Frames: dicomtest.Planes(3, 2, 2)})
	writeFixture(t, filepath.Join(inputDir, "c.dcm"), dicomtest.Fixture{Rows: 3, Cols: 3, Frames: dicomtest.Planes(2, 3, 3)})
	if err := os.WriteFile(filepath.Join(inputDir, "b.dcm"), []byte("not dicom"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	code, stdout, stderr := runCLI(t, inputDir, outputDir)
	if code != exitOK {
		t.Fatalf("Expected exit status %d, got %d\nstderr:\n%s", exitOK, code, stderr)
	}
	for _, line := range []string{"Files matched:   3", "Files unpacked:  2", "Files skipped:   1", "Slices written:  5"} {
		if !strings.Contains(stdout, line) {
			t.Errorf("Expected summary line %q, got:\n%s", line, stdout)
		}
	}
	if !strings.Contains(stderr, "b.dcm") {
		t.Errorf("Expected a diagnostic naming b.dcm, got:\n%s", stderr)
	}
	for _, dir := range []string{"a", "c"} {
		if _, err := os.Stat(filepath.Join(outputDir, dir, "slice_000.dcm")); err != nil {
			t.Errorf("Expected slices for %s.dcm: %v", dir, err)
		}
	}
}

// TestRunFatalWriteError verifies a write failure gives a non-zero status
func TestRunFatalWriteError(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writeFixture(t, filepath.Join(inputDir, "a.dcm"), dicomtest.Fixture{Rows: 1, Cols: 2, Frames: dicomtest.Planes(2, 1, 2)})
	if err := os.WriteFile(filepath.Join(outputDir, "a"), nil, 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}

	code, stdout, stderr := runCLI(t, inputDir, outputDir)
	if code != exitError {
		t.Fatalf("Expected exit status %d, got %d", exitError, code)
	}
	if !strings.Contains(stderr, "unpacking failed") {
		t.Errorf("Expected a fatal diagnostic, got:\n%s", stderr)
	}
	if strings.Contains(stdout, "Unpacking completed") {
		t.Errorf("Expected no summary after a fatal error, got:\n%s", stdout)
	}
}

// TestRunUsage verifies argument and configuration errors
func TestRunUsage(t *testing.T) {
	inputDir := t.TempDir()
	tests := map[string][]string{
		"no arguments":     {},
		"one argument":     {inputDir},
		"three arguments":  {inputDir, t.TempDir(), "extra"},
		"unknown flag":     {"-nope", inputDir, t.TempDir()},
		"bad output type":  {"-t", "gif", inputDir, t.TempDir()},
		"empty fileFilter": {"-fileFilter", "", inputDir, t.TempDir()},
	}

	for name, args := range tests {
		code, _, stderr := runCLI(t, args...)
		if code != exitUsage {
			t.Errorf("%s: expected exit status %d, got %d\nstderr:\n%s", name, exitUsage, code, stderr)
		}
	}
}

// TestRunVersion verifies -V prints the version without running
func TestRunVersion(t *testing.T) {
	for _, flag := range []string{"-V", "-version"} {
		code, stdout, _ := runCLI(t, flag)
		if code != exitOK {
			t.Errorf("%s: expected exit status %d, got %d", flag, exitOK, code)
		}
		if strings.TrimSpace(stdout) != "dicomunpack "+version {
			t.Errorf("%s: expected version line, got %q", flag, stdout)
		}
	}
}

// TestRunWriteConfig verifies -write-config writes loadable defaults
func TestRunWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicomunpack.yaml")
	code, _, stderr := runCLI(t, "-write-config", path)
	if code != exitOK {
		t.Fatalf("Expected exit status %d, got %d\nstderr:\n%s", exitOK, code, stderr)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *cfg != *config.DefaultConfig() {
		t.Errorf("Expected default config, got %+v", cfg)
	}
}

// TestRunConfigAndFlags verifies flags override the configuration file
func TestRunConfigAndFlags(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writeFixture(t, filepath.Join(inputDir, "scan.dicom"), dicomtest.Fixture{Rows: 2, Cols: 2, Frames: dicomtest.Planes(2, 2, 2)})
	writeFixture(t, filepath.Join(inputDir, "other.dcm"), dicomtest.Fixture{Rows: 2, Cols: 2, Frames: dicomtest.Planes(2, 2, 2)})

	cfg := config.DefaultConfig()
	cfg.Output.WriteManifest = true
	configPath := filepath.Join(t.TempDir(), "dicomunpack.yaml")
	if err := config.SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	db := filepath.Join(t.TempDir(), "telemetry.db")

	var stdout, stderr bytes.Buffer
	code := run("dicomunpack", []string{"-config", configPath, "-f", "dicom", "-pftelDB", db, inputDir, outputDir}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("Expected exit status %d, got %d\nstderr:\n%s", exitOK, code, stderr.String())
	}

	if _, err := os.Stat(filepath.Join(outputDir, "scan", "slice_001.dcm")); err != nil {
		t.Errorf("Expected slices for scan.dicom: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "other")); !os.IsNotExist(err) {
		t.Errorf("Expected other.dcm to be filtered out, stat returned %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "scan.yaml")); err != nil {
		t.Errorf("Expected manifest from the config file: %v", err)
	}

	store, err := telemetry.Open(db)
	if err != nil {
		t.Fatalf("Failed to open telemetry database: %v", err)
	}
	defer store.Close()
	// First run of a new database
	events, err := store.Events(1)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 1 || events[0].Status != telemetry.StatusSplit {
		t.Errorf("Expected one split event, got %+v", events)
	}
}
