package main

import (
	"log/slog"
	"path/filepath"

	"github.com/untoldecay/syncbase/internal/base"
	"github.com/untoldecay/syncbase/internal/config"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/storage/memory"
	"github.com/untoldecay/syncbase/internal/storage/sqlite"
)

// openBase builds the façade for the current invocation from resolved
// config and CLI flags, and returns a remoteStore so the caller can
// Flush() it after a sync.
func openBase() (*base.Base, *remoteStore) {
	cfg := config.Load()

	bucket := cfg.Bucket
	if bucketFlag != "" {
		bucket = bucketFlag
	}

	dir := dataDir()
	storeDir := filepath.Join(dir, "store")

	var adapterFactory storage.Factory
	switch cfg.AdapterKind {
	case "memory":
		adapterFactory = func(storage.Key) storage.Adapter { return memory.New() }
	default:
		adapterFactory = func(key storage.Key) storage.Adapter { return sqlite.New(storeDir, key) }
	}

	rs := newRemoteStore(dir)

	b := base.New(base.Options{
		Bucket:         bucket,
		AdapterFactory: adapterFactory,
		RemoteFactory:  rs.Factory,
		Headers:        cfg.Headers,
		Logger:         slog.Default(),
	})
	return b, rs
}
