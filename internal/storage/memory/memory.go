// Package memory provides an in-process Adapter (§4.1, §9 "a memory
// implementation MUST exist for tests"). It keeps everything in a plain
// map guarded by a mutex; Execute calls are serialized FIFO, matching
// the ordering guarantee §5 requires across sibling execute calls.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/syncerr"
	"github.com/untoldecay/syncbase/internal/txn"
)

// Adapter is the in-memory storage.Adapter implementation.
type Adapter struct {
	mu           sync.Mutex
	open         bool
	records      map[string]record.Record
	lastModified *int64
	metadata     map[string]any
}

// New constructs a memory adapter. It is ready to use immediately; Open
// is idempotent and only present to satisfy the Adapter contract.
func New() *Adapter {
	return &Adapter{records: make(map[string]record.Record)}
}

var _ storage.Adapter = (*Adapter)(nil)

func (a *Adapter) Open(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = true
	return nil
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	return nil
}

func (a *Adapter) Clear(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]record.Record)
	return nil
}

// Execute takes the adapter lock for its whole duration, builds a
// preloaded snapshot, runs cb synchronously, and applies the resulting
// write-set atomically only if cb returns without error and without
// calling abort.
func (a *Adapter) Execute(_ context.Context, opts storage.ExecuteOptions, cb storage.Callback) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make(map[string]record.Record, len(opts.Preload))
	for _, id := range opts.Preload {
		if rec, ok := a.records[id]; ok {
			snapshot[id] = rec
		}
	}

	proxy := txn.New(opts.Preload, snapshot)

	aborted := false
	abort := func() { aborted = true }

	defer func() {
		if r := recover(); r != nil {
			err = syncerr.NewStorageError("execute", &panicError{r})
		}
	}()

	if cbErr := cb(proxy, abort); cbErr != nil {
		return cbErr
	}
	if aborted {
		return nil
	}

	for id, rec := range proxy.Writes() {
		a.records[id] = rec
	}
	for _, id := range proxy.Removes() {
		delete(a.records, id)
	}
	return nil
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "panic in execute callback" }

func (a *Adapter) Get(_ context.Context, id string) (record.Record, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (a *Adapter) List(_ context.Context, params storage.ListParams) ([]record.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]record.Record, 0, len(a.records))
	for _, rec := range a.records {
		if rec.IsTombstone() && !params.IncludeDeleted {
			continue
		}
		if matchesFilters(rec, params.Filters) {
			out = append(out, rec.Clone())
		}
	}

	applyOrder(out, params.Order)
	return out, nil
}

func matchesFilters(rec record.Record, filters []storage.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(rec, f) {
			return false
		}
	}
	return true
}

func matchesFilter(rec record.Record, f storage.Filter) bool {
	val := lookup(rec, f.Field)
	switch want := f.Value.(type) {
	case []any:
		for _, w := range want {
			if equalScalar(val, w) {
				return true
			}
		}
		return false
	default:
		return equalScalar(val, f.Value)
	}
}

func lookup(rec record.Record, dotted string) any {
	parts := strings.Split(dotted, ".")
	var cur any = map[string]any(rec)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if rm, ok2 := cur.(record.Record); ok2 {
				m = map[string]any(rm)
			} else {
				return nil
			}
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func equalScalar(a, b any) bool {
	return a == b
}

func applyOrder(recs []record.Record, order storage.Order) {
	// Default order per §4.3 list: -last_modified.
	if order.Field == "" {
		order.Field = "-last_modified"
	}
	field := order.Name()
	desc := order.Descending()

	sort.SliceStable(recs, func(i, j int) bool {
		vi := lookup(recs[i], field)
		vj := lookup(recs[j], field)
		if desc {
			return lessAny(vj, vi)
		}
		return lessAny(vi, vj)
	})
}

func lessAny(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case string:
		bv, _ := b.(string)
		return av < bv
	}
	return false
}

func (a *Adapter) SaveLastModified(_ context.Context, value int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := value
	a.lastModified = &v
	return nil
}

func (a *Adapter) GetLastModified(context.Context) (int64, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastModified == nil {
		return 0, false, nil
	}
	return *a.lastModified, true, nil
}

func (a *Adapter) SaveMetadata(_ context.Context, meta map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make(map[string]any, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	a.metadata = cp
	return nil
}

func (a *Adapter) GetMetadata(context.Context) (map[string]any, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metadata == nil {
		return nil, false, nil
	}
	cp := make(map[string]any, len(a.metadata))
	for k, v := range a.metadata {
		cp[k] = v
	}
	return cp, true, nil
}

// ImportBulk upserts records, skipping any whose local copy is pending
// (created/updated/deleted) or lacks last_modified, per §4.3. It bumps
// the watermark to the max imported last_modified only if greater than
// the current one (§4.3, S7).
func (a *Adapter) ImportBulk(_ context.Context, records []record.Record) ([]record.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	written := make([]record.Record, 0, len(records))
	var maxTS int64
	haveMax := false

	for _, incoming := range records {
		id := incoming.ID()
		if id == "" {
			continue
		}
		if local, ok := a.records[id]; ok {
			switch local.Status() {
			case record.StatusCreated, record.StatusUpdated, record.StatusDeleted:
				continue
			}
			if _, ok := local.LastModified(); !ok {
				continue
			}
		}

		stamped := incoming.WithStatus(record.StatusSynced)
		a.records[id] = stamped
		written = append(written, stamped.Clone())

		if ts, ok := stamped.LastModified(); ok {
			if !haveMax || ts > maxTS {
				maxTS = ts
				haveMax = true
			}
		}
	}

	if haveMax {
		if a.lastModified == nil || maxTS > *a.lastModified {
			v := maxTS
			a.lastModified = &v
		}
	}

	return written, nil
}
