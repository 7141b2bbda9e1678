// Package config loads syncbase's configuration via viper: a project
// config file found by walking up from the working directory, then a
// user config directory, then the home directory, then SB_-prefixed
// environment variables, with environment taking precedence over the
// file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Config is the resolved set of options a syncbase façade is built
// from (§6.5).
type Config struct {
	Bucket         string
	RemoteURL      string
	Headers        map[string]string
	AdapterKind    string // "sqlite" or "memory"
	DBName         string
	MigrateOldData bool
	Strategy       string
	Retry          int
	IgnoreBackoff  bool
}

// Initialize sets up the viper singleton. Should be called once at
// process startup, before any Load call.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD looking for .syncbase/config.yaml, so
	// commands work the same from any subdirectory of a project.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".syncbase", "config.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/syncbase/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(configDir, "syncbase", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.syncbase/config.yaml).
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(homeDir, ".syncbase", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("SB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("bucket", "default")
	v.SetDefault("remote", "")
	v.SetDefault("adapter", "sqlite")
	v.SetDefault("db-name", "syncbase.db")
	v.SetDefault("migrate-old-data", false)
	v.SetDefault("strategy", "manual")
	v.SetDefault("retry", 3)
	v.SetDefault("ignore-backoff", false)
	v.SetDefault("headers", map[string]string{})

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// Load resolves the current Config from viper's merged view (env vars
// override the config file, which overrides the defaults above).
func Load() Config {
	if v == nil {
		return Config{Bucket: "default", AdapterKind: "sqlite", DBName: "syncbase.db", Strategy: "manual", Retry: 3}
	}
	return Config{
		Bucket:         v.GetString("bucket"),
		RemoteURL:      v.GetString("remote"),
		Headers:        v.GetStringMapString("headers"),
		AdapterKind:    v.GetString("adapter"),
		DBName:         v.GetString("db-name"),
		MigrateOldData: v.GetBool("migrate-old-data"),
		Strategy:       v.GetString("strategy"),
		Retry:          v.GetInt("retry"),
		IgnoreBackoff:  v.GetBool("ignore-backoff"),
	}
}

// GetDuration retrieves a duration configuration value (0 before
// Initialize).
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a single configuration value on top of the
// file/env-resolved defaults (a no-op before Initialize).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed reports which file, if any, Initialize found.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
