package app

import (
	"path/filepath"
	"testing"
)

func TestGetDefaultsFromEnvironment(t *testing.T) {
	t.Setenv("FICT_CONFIG_PATH", "/etc/fict/fict.toml")
	t.Setenv("FICT_HOME", "/var/lib/fict")

	d, err := GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults() error = %v", err)
	}
	if d.ConfigPath != "/etc/fict/fict.toml" {
		t.Errorf("ConfigPath = %q", d.ConfigPath)
	}
	if d.BaseDir != "/var/lib/fict" {
		t.Errorf("BaseDir = %q", d.BaseDir)
	}
}

func TestGetDefaultsFallsBackToHome(t *testing.T) {
	t.Setenv("FICT_CONFIG_PATH", "")
	t.Setenv("FICT_HOME", "")
	t.Setenv("HOME", t.TempDir())

	d, err := GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults() error = %v", err)
	}
	if filepath.Base(d.ConfigPath) != "fict.toml" {
		t.Errorf("ConfigPath = %q, want a fict.toml", d.ConfigPath)
	}
	if filepath.Base(d.BaseDir) != "fict" {
		t.Errorf("BaseDir = %q, want a fict directory", d.BaseDir)
	}
}
