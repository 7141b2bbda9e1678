package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	verbose    bool
	bucketFlag string
	dataDirFlag string
)

var rootCmd = &cobra.Command{
	Use:   "syncbase",
	Short: "Offline-first collection sync, from a terminal",
	Long: `syncbase drives the same local store and sync engine the library
exposes to Go callers: a transactional per-collection record store and
a pull -> push -> pull reconciliation loop against a remote collection.

Configuration is resolved the same way the library's config package
resolves it: a project .syncbase/config.yaml walked up from the current
directory, then a user config directory, then the home directory, then
SB_-prefixed environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "echo structured logs to stderr in addition to the rotating log file")
	rootCmd.PersistentFlags().StringVar(&bucketFlag, "bucket", "", "bucket name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "directory holding the local store, remote snapshots, and log file (default .syncbase)")
}

func dataDir() string {
	if dataDirFlag != "" {
		return dataDirFlag
	}
	return ".syncbase"
}

// outputJSON marshals v as indented JSON to stdout, mirroring the
// teacher CLI's --json convention.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
