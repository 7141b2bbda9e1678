// Package base implements the façade (C8, "KintoBase" in the design
// notes): binds an IdSchema, event bus, adapter factory, and remote
// collections together and vends LocalCollection instances, one per
// name, caching them for the lifetime of the process (§5 "Shared
// resources": consumers MUST NOT construct two live instances for the
// same collection key).
package base

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/syncbase/internal/collection"
	"github.com/untoldecay/syncbase/internal/event"
	"github.com/untoldecay/syncbase/internal/hooks"
	"github.com/untoldecay/syncbase/internal/idschema"
	"github.com/untoldecay/syncbase/internal/remote"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/syncerr"
	syncengine "github.com/untoldecay/syncbase/internal/sync"
	"github.com/untoldecay/syncbase/internal/transform"
)

// CollectionConfig configures one named collection (§6.5): its
// IdSchema, remote transformer chain, hooks, and local fields. The zero
// value uses the default UUID IdSchema and no transformers/hooks/local
// fields.
type CollectionConfig struct {
	IDSchema           idschema.Schema
	RemoteTransformers []transform.Transformer
	Hooks              map[string][]hooks.Fn
	LocalFields        []string
}

// Options configures a Base instance (§6.5).
type Options struct {
	Bucket string // default "default"

	// AdapterFactory vends a storage.Adapter for a collection key; the
	// façade opens it on first reference and closes it on Close.
	AdapterFactory storage.Factory

	// RemoteFactory vends a remote.Collection for a collection name.
	// Required for Sync/SyncAll; collection() and local CRUD work
	// without it.
	RemoteFactory func(name string) remote.Collection

	// Collections maps collection name to its per-collection config.
	// A name absent from this map gets the zero CollectionConfig.
	Collections map[string]CollectionConfig

	Headers map[string]string
	Logger  *slog.Logger
}

// Base is the façade: one Base instance owns the adapters and
// LocalCollection instances for every collection name it has vended,
// all sharing the same bucket, event bus, and remote factory.
type Base struct {
	opts Options
	bus  *event.Bus

	mu          sync.Mutex
	adapters    map[string]storage.Adapter
	collections map[string]*collection.Collection
}

// New builds a Base. Bucket defaults to "default"; Logger defaults to
// slog.Default().
func New(opts Options) *Base {
	if opts.Bucket == "" {
		opts.Bucket = "default"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Base{
		opts:        opts,
		bus:         event.New(),
		adapters:    make(map[string]storage.Adapter),
		collections: make(map[string]*collection.Collection),
	}
}

// Events exposes the façade's event bus so callers can subscribe to
// "create:<name>", "update:<name>", "delete:<name>", "change:<name>",
// "sync:success:<name>", "sync:error:<name>", and "backoff" (§6.3).
func (b *Base) Events() *event.Bus { return b.bus }

func (b *Base) config(name string) CollectionConfig {
	if b.opts.Collections == nil {
		return CollectionConfig{}
	}
	return b.opts.Collections[name]
}

// Collection returns the cached LocalCollection for name, opening its
// adapter and constructing it on first reference.
func (b *Base) Collection(ctx context.Context, name string) (*collection.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collectionLocked(ctx, name)
}

func (b *Base) collectionLocked(ctx context.Context, name string) (*collection.Collection, error) {
	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	if b.opts.AdapterFactory == nil {
		return nil, fmt.Errorf("base: no AdapterFactory configured")
	}

	key := storage.Key{Bucket: b.opts.Bucket, Collection: name}
	adapter := b.opts.AdapterFactory(key)
	if err := adapter.Open(ctx); err != nil {
		return nil, syncerr.NewStorageError("open", err)
	}

	cfg := b.config(name)
	idSchema := cfg.IDSchema
	if idSchema == nil {
		idSchema = idschema.Default{}
	}

	c := collection.New(name, adapter, idSchema, cfg.LocalFields, b.bus)
	b.adapters[name] = adapter
	b.collections[name] = c
	return c, nil
}

// engineFor builds a one-shot sync.Engine for name, wiring that
// collection's configured transformers/hooks and the façade's remote
// factory.
func (b *Base) engineFor(ctx context.Context, name string) (*syncengine.Engine, error) {
	if b.opts.RemoteFactory == nil {
		return nil, fmt.Errorf("base: no RemoteFactory configured, cannot sync %q", name)
	}

	b.mu.Lock()
	c, err := b.collectionLocked(ctx, name)
	adapter := b.adapters[name]
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cfg := b.config(name)
	pipeline := transform.New(cfg.RemoteTransformers...)

	hookPipeline := hooks.New()
	for hookName, fns := range cfg.Hooks {
		for _, fn := range fns {
			hookPipeline.Register(hookName, fn)
		}
	}

	rem := b.opts.RemoteFactory(name)
	return syncengine.New(c, adapter, rem, pipeline, hookPipeline, cfg.LocalFields, b.opts.Logger), nil
}

// Sync runs one sync for a single collection and emits "sync:success"
// or "sync:error" on the event bus (§6.3), carrying
// {result|error, bucket, collection} in the payload. A BackoffError
// emits "backoff" instead of "sync:error".
func (b *Base) Sync(ctx context.Context, name string, opts syncengine.Options) (*syncengine.Result, error) {
	engine, err := b.engineFor(ctx, name)
	if err != nil {
		return nil, err
	}

	if len(opts.Headers) == 0 && len(b.opts.Headers) > 0 {
		opts.Headers = b.opts.Headers
	}

	result, err := engine.Sync(ctx, opts)

	var backoffErr *syncerr.BackoffError
	if asBackoff(err, &backoffErr) {
		b.bus.Emit("backoff", SyncErrorEvent{Bucket: b.opts.Bucket, Collection: name, Err: err})
		return nil, err
	}

	if err != nil {
		b.bus.Emit("sync:error:"+name, SyncErrorEvent{Bucket: b.opts.Bucket, Collection: name, Err: err})
		return nil, err
	}

	b.bus.Emit("sync:success:"+name, SyncSuccessEvent{Bucket: b.opts.Bucket, Collection: name, Result: result})
	return result, nil
}

func asBackoff(err error, target **syncerr.BackoffError) bool {
	if err == nil {
		return false
	}
	be, ok := err.(*syncerr.BackoffError)
	if !ok {
		return false
	}
	*target = be
	return true
}

// SyncSuccessEvent is the payload delivered on "sync:success:<name>".
type SyncSuccessEvent struct {
	Bucket     string
	Collection string
	Result     *syncengine.Result
}

// SyncErrorEvent is the payload delivered on "sync:error:<name>" and
// "backoff".
type SyncErrorEvent struct {
	Bucket     string
	Collection string
	Err        error
}

// SyncAll drives an independent sync for every name in names
// concurrently (§11 domain stack: "SyncAll" fan-out via errgroup). Each
// individual collection's sync is still single-threaded per §5; nothing
// in §5 forbids the façade driving distinct collections' syncs at the
// same time. Results are returned in the same order as names; a nil
// entry marks a collection whose sync failed or did not finish. Only
// the first error is returned, and it cancels the context the other
// syncs run under.
func (b *Base) SyncAll(ctx context.Context, names []string, opts syncengine.Options) ([]*syncengine.Result, error) {
	results := make([]*syncengine.Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			result, err := b.Sync(gctx, name, opts)
			if err != nil {
				return fmt.Errorf("sync %q: %w", name, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ExportMetadata renders the collection's stored metadata and
// watermark as YAML, for a human to inspect without opening the store
// directly (§12 supplemented feature).
func (b *Base) ExportMetadata(ctx context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	adapter, ok := b.adapters[name]
	b.mu.Unlock()
	if !ok {
		var err error
		if _, err = b.Collection(ctx, name); err != nil {
			return nil, err
		}
		b.mu.Lock()
		adapter = b.adapters[name]
		b.mu.Unlock()
	}

	meta, _, err := adapter.GetMetadata(ctx)
	if err != nil {
		return nil, syncerr.NewStorageError("getMetadata", err)
	}
	watermark, hasWatermark, err := adapter.GetLastModified(ctx)
	if err != nil {
		return nil, syncerr.NewStorageError("getLastModified", err)
	}

	snapshot := struct {
		Bucket       string         `yaml:"bucket"`
		Collection   string         `yaml:"collection"`
		LastModified int64          `yaml:"last_modified,omitempty"`
		Metadata     map[string]any `yaml:"metadata,omitempty"`
	}{
		Bucket:     b.opts.Bucket,
		Collection: name,
		Metadata:   meta,
	}
	if hasWatermark {
		snapshot.LastModified = watermark
	}

	return yaml.Marshal(snapshot)
}

// Watermark reports a collection's current sync watermark, opening it
// first if this is its first reference (§12 supplemented feature,
// backing the CLI's status command).
func (b *Base) Watermark(ctx context.Context, name string) (int64, bool, error) {
	if _, err := b.Collection(ctx, name); err != nil {
		return 0, false, err
	}
	b.mu.Lock()
	adapter := b.adapters[name]
	b.mu.Unlock()

	ts, ok, err := adapter.GetLastModified(ctx)
	if err != nil {
		return 0, false, syncerr.NewStorageError("getLastModified", err)
	}
	return ts, ok, nil
}

// Close closes every adapter this Base has opened.
func (b *Base) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for name, adapter := range b.adapters {
		if err := adapter.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %q: %w", name, err)
		}
	}
	return firstErr
}
