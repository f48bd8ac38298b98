package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[stack]
initial-depth = 16
max-depth = 256
default-reserve = 8

[limits]
max-objects = 1000
max-refs = 100

[log]
verbosity = 2
`
	if err := os.WriteFile(filepath.Join(dir, "primer.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Stack.InitialDepth != 16 {
		t.Errorf("initial-depth = %d, want 16", c.Stack.InitialDepth)
	}
	if c.Stack.MaxDepth != 256 {
		t.Errorf("max-depth = %d, want 256", c.Stack.MaxDepth)
	}
	if c.Stack.DefaultReserve != 8 {
		t.Errorf("default-reserve = %d, want 8", c.Stack.DefaultReserve)
	}
	if c.Limits.MaxObjects != 1000 {
		t.Errorf("max-objects = %d, want 1000", c.Limits.MaxObjects)
	}
	if c.Limits.MaxRefs != 100 {
		t.Errorf("max-refs = %d, want 100", c.Limits.MaxRefs)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if c.Dir == "" {
		t.Error("Dir should be set after load")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "primer.toml"), []byte("[log]\nverbosity = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Stack.InitialDepth != 32 {
		t.Errorf("default initial-depth = %d, want 32", c.Stack.InitialDepth)
	}
	if c.Stack.MaxDepth != 4096 {
		t.Errorf("default max-depth = %d, want 4096", c.Stack.MaxDepth)
	}
	if c.Stack.DefaultReserve != 20 {
		t.Errorf("default default-reserve = %d, want 20", c.Stack.DefaultReserve)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of missing primer.toml should fail")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := `
[stack]
initial-depth = 64
max-depth = 8
`
	if err := os.WriteFile(filepath.Join(dir, "primer.toml"), []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load should reject max-depth below initial-depth")
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Stack.MaxDepth == 0 || c.Stack.DefaultReserve == 0 || c.Limits.MaxObjects == 0 {
		t.Errorf("Default left zero values: %+v", c)
	}
}
