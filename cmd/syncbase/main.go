// Command syncbase is a thin CLI wrapper around the library: it is not
// itself part of the sync engine's scope (§1 lists CLI as an
// out-of-scope collaborator), but every consumer of this module still
// wants a way to poke a bucket from a terminal, so one ships anyway.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/syncbase/internal/config"
)

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "syncbase: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(newLogHandler()))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogHandler wires a rotating log file via lumberjack so a long-lived
// invocation (repeated sync, a watch loop) doesn't grow an unbounded log
// the way a bare os.Stderr handler would; console output for ordinary
// command results still goes through outputJSON/fmt.Printf, not slog.
func newLogHandler() slog.Handler {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return slog.NewTextHandler(os.Stderr, nil)
	}

	rotate := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "syncbase.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	var w io.Writer = rotate
	if verbose {
		w = io.MultiWriter(rotate, os.Stderr)
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel()})
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
