package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/untoldecay/syncbase/internal/remote"
)

// remoteStore stands in for the real network collaborator the engine
// syncs against (§1 "Out of scope: external collaborators"): a
// remote.Fake per collection, persisted to a JSON snapshot file so that
// `syncbase sync` has something durable to reconcile against across
// separate process invocations instead of starting from empty remote
// state every time.
type remoteStore struct {
	dir string

	mu    sync.Mutex
	fakes map[string]*remote.Fake
}

func newRemoteStore(dir string) *remoteStore {
	return &remoteStore{dir: filepath.Join(dir, "remote"), fakes: make(map[string]*remote.Fake)}
}

func (s *remoteStore) snapshotPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *remoteStore) fake(name string) *remote.Fake {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.fakes[name]; ok {
		return f
	}

	f := remote.NewFake()
	if data, err := os.ReadFile(s.snapshotPath(name)); err == nil {
		var snap remote.Snapshot
		if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil {
			f.Load(snap)
		}
	}
	s.fakes[name] = f
	return f
}

// Factory is used as base.Options.RemoteFactory.
func (s *remoteStore) Factory(name string) remote.Collection {
	return s.fake(name).Collection()
}

// Flush writes every touched fake's state back to disk. Call after a
// Sync (success or failure) so the next invocation sees anything the
// engine published.
func (s *remoteStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	for name, f := range s.fakes {
		data, err := json.MarshalIndent(f.Dump(), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(s.snapshotPath(name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
