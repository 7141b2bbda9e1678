// Package syncbase provides a minimal public API for embedding the
// library's offline-first sync engine in a Go program.
//
// Most callers only need Base, Options, and the record/sync types
// re-exported here. The internal/ packages hold the full implementation
// (local store, transaction proxy, transform/hook pipelines, the sync
// state machine) for anyone extending the engine itself.
package syncbase

import (
	"github.com/untoldecay/syncbase/internal/base"
	"github.com/untoldecay/syncbase/internal/collection"
	"github.com/untoldecay/syncbase/internal/idschema"
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/remote"
	syncengine "github.com/untoldecay/syncbase/internal/sync"
)

// Base is the façade: one instance per process, vending one
// LocalCollection per name and driving sync for any of them.
type Base = base.Base

// Options configures a Base instance.
type Options = base.Options

// CollectionConfig configures one named collection's id schema,
// transformers, hooks, and local fields.
type CollectionConfig = base.CollectionConfig

// New builds a Base.
func New(opts Options) *Base { return base.New(opts) }

// Collection is a single local, transactional record store.
type Collection = collection.Collection

// Record is the engine's dynamic, map-shaped record type.
type Record = record.Record

// Status is a record's local lifecycle marker.
type Status = record.Status

// Record lifecycle statuses.
const (
	StatusCreated = record.StatusCreated
	StatusUpdated = record.StatusUpdated
	StatusDeleted = record.StatusDeleted
	StatusSynced  = record.StatusSynced
)

// IDSchema generates and validates record ids.
type IDSchema = idschema.Schema

// DefaultIDSchema is the UUIDv4 IDSchema new collections get unless a
// custom one is configured.
type DefaultIDSchema = idschema.Default

// RemoteCollection is the contract the sync engine consumes for one
// remote collection. A real implementation talks to a REST service
// exposing a timestamped per-collection change log; that HTTP client is
// out of scope for this module.
type RemoteCollection = remote.Collection

// FakeRemote is an in-memory RemoteCollection implementing the same
// conditional-concurrency semantics a real server would, useful for
// tests and local experimentation.
type FakeRemote = remote.Fake

// NewFakeRemote builds an empty FakeRemote.
func NewFakeRemote() *FakeRemote { return remote.NewFake() }

// SyncOptions configures one Sync call.
type SyncOptions = syncengine.Options

// SyncResult accumulates per-phase outcomes across one sync call.
type SyncResult = syncengine.Result

// SyncStrategy is the conflict resolution policy applied during a sync.
type SyncStrategy = syncengine.Strategy

// Conflict resolution strategies.
const (
	StrategyManual     = syncengine.StrategyManual
	StrategyServerWins = syncengine.StrategyServerWins
	StrategyClientWins = syncengine.StrategyClientWins
	StrategyPullOnly   = syncengine.StrategyPullOnly
)

// Conflict is one unresolved incoming/outgoing disagreement found during
// a sync.
type Conflict = syncengine.Conflict
