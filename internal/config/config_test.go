package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Fatalf("restore cwd: %v", err)
		}
	})
}

func TestLoadBeforeInitializeReturnsBuiltinDefaults(t *testing.T) {
	v = nil
	cfg := Load()
	if cfg.Bucket != "default" || cfg.AdapterKind != "sqlite" || cfg.Strategy != "manual" || cfg.Retry != 3 {
		t.Fatalf("unexpected pre-Initialize defaults: %+v", cfg)
	}
}

func TestInitializeWithNoConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg := Load()
	if cfg.Bucket != "default" || cfg.AdapterKind != "sqlite" || cfg.DBName != "syncbase.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if ConfigFileUsed() != "" {
		t.Fatalf("expected no config file found, got %q", ConfigFileUsed())
	}
}

func TestInitializeReadsProjectConfigFileWalkingUp(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	configDir := filepath.Join(root, ".syncbase")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	yaml := "bucket: from-file\nadapter: memory\nretry: 7\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	chdir(t, sub)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg := Load()
	if cfg.Bucket != "from-file" || cfg.AdapterKind != "memory" || cfg.Retry != 7 {
		t.Fatalf("expected values from walked-up config file, got %+v", cfg)
	}
	if ConfigFileUsed() == "" {
		t.Fatalf("expected ConfigFileUsed to report the discovered file")
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "bucket: from-file\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v = nil
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	t.Setenv("SB_BUCKET", "from-env")
	cfg := Load()
	if cfg.Bucket != "from-env" {
		t.Fatalf("expected env var to override config file, got %q", cfg.Bucket)
	}
}

func TestSetOverridesResolvedValue(t *testing.T) {
	v = nil
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Set("bucket", "from-flag")
	cfg := Load()
	if cfg.Bucket != "from-flag" {
		t.Fatalf("expected Set to override resolved bucket, got %q", cfg.Bucket)
	}
}
