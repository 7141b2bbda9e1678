// Package txn implements TransactionProxy (§4.2): the synchronous record
// API an Adapter's Execute callback operates over. A Proxy is built from
// a preloaded snapshot, accumulates a write-set as operations are
// called, and is discarded (never reused) once Execute returns.
package txn

import (
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/syncerr"
)

// Action labels a queued write for event emission (§4.3, §6.3).
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var _ storage.Proxy = (*Proxy)(nil)

// Op is one committed mutation, in commit order, used to emit per-op and
// aggregate "change" events after a successful commit.
type Op struct {
	Action   Action
	Data     record.Record
	OldData  record.Record
	HadOld   bool
}

// Proxy is the concrete implementation of storage.Proxy. Adapters
// construct one per Execute call, seeded with the records named in the
// preload set, and read back Writes()/Removes() after the callback
// returns to decide what to persist.
type Proxy struct {
	preloaded    map[string]bool
	snapshot     map[string]record.Record // id -> current value, preloaded or touched during the txn
	present      map[string]bool          // id -> whether it currently exists (false once deleted-and-gone)
	ops          []Op
	removed      map[string]bool // id -> physically removed this txn (Remove, not Delete)
	removedOrder []string
}

// New builds a Proxy. snapshot holds the records named in preload that
// currently exist; ids in preload but absent from snapshot are treated
// as known-absent (valid targets for Get's PreloadError check: they were
// declared, so a miss there is a legitimate "not found", not a preload
// violation).
func New(preload []string, snapshot map[string]record.Record) *Proxy {
	p := &Proxy{
		preloaded: make(map[string]bool, len(preload)),
		snapshot:  make(map[string]record.Record, len(snapshot)),
		present:   make(map[string]bool, len(snapshot)),
	}
	for _, id := range preload {
		p.preloaded[id] = true
	}
	for id, rec := range snapshot {
		p.snapshot[id] = rec
		p.present[id] = true
	}
	return p
}

func (p *Proxy) declared(id string) bool {
	return p.preloaded[id] || p.present[id] || p.snapshot[id] != nil
}

// Get returns the preloaded record for id, or PreloadError if id was
// never declared, or NotFoundError if it was declared but does not
// exist (or was deleted earlier in this same transaction).
func (p *Proxy) Get(id string) (record.Record, error) {
	if !p.declared(id) {
		return nil, &syncerr.PreloadError{ID: id}
	}
	rec, ok := p.snapshot[id]
	if !ok || !p.present[id] {
		return nil, &syncerr.NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// GetAny is Get without the NotFoundError: a miss returns (nil, false, nil).
func (p *Proxy) GetAny(id string) (record.Record, bool, error) {
	if !p.declared(id) {
		return nil, false, &syncerr.PreloadError{ID: id}
	}
	rec, ok := p.snapshot[id]
	if !ok || !p.present[id] {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// Create requires rec to carry an id; it fails IdExistsError if that id
// is already present (live or tombstoned — I6 "virtually deleted").
func (p *Proxy) Create(rec record.Record) (record.Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, &syncerr.ValidationError{Reason: "create requires an id"}
	}
	if existing, ok := p.snapshot[id]; ok && p.present[id] {
		return nil, &syncerr.IdExistsError{ID: id, Virtual: existing.IsTombstone()}
	}
	final := rec.Clone()
	p.snapshot[id] = final
	p.present[id] = true
	p.ops = append(p.ops, Op{Action: ActionCreate, Data: final})
	return final.Clone(), nil
}

// Update requires rec.id to already exist and persists rec as given: it
// neither preserves the prior last_modified nor changes _status (callers
// such as LocalCollection resolve both before calling). The old value is
// recorded alongside the op.
func (p *Proxy) Update(rec record.Record) (record.Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, &syncerr.ValidationError{Reason: "update requires an id"}
	}
	old, ok := p.snapshot[id]
	if !ok || !p.present[id] {
		return nil, &syncerr.NotFoundError{ID: id}
	}
	final := rec.Clone()
	p.snapshot[id] = final
	p.ops = append(p.ops, Op{Action: ActionUpdate, Data: final, OldData: old, HadOld: true})
	return final.Clone(), nil
}

// Upsert creates if id is absent, updates otherwise; a tombstone counts
// as present, so resurrecting one is an update that returns the
// tombstone as old. old/hadOld distinguish the two for the caller.
func (p *Proxy) Upsert(rec record.Record) (created record.Record, old record.Record, hadOld bool, err error) {
	id := rec.ID()
	if id == "" {
		return nil, nil, false, &syncerr.ValidationError{Reason: "upsert requires an id"}
	}
	prev, existed := p.snapshot[id]
	present := existed && p.present[id]
	final := rec.Clone()
	p.snapshot[id] = final
	p.present[id] = true
	if present {
		p.ops = append(p.ops, Op{Action: ActionUpdate, Data: final, OldData: prev, HadOld: true})
		return final.Clone(), prev.Clone(), true, nil
	}
	p.ops = append(p.ops, Op{Action: ActionCreate, Data: final})
	return final.Clone(), nil, false, nil
}

// Delete requires id to currently exist; it keeps the prior payload and
// sets its status to deleted itself, so push encoding can still see the
// tombstone's fields if ever needed.
func (p *Proxy) Delete(id string) (record.Record, error) {
	old, ok := p.snapshot[id]
	if !ok || !p.present[id] {
		return nil, &syncerr.NotFoundError{ID: id}
	}
	tomb := old.WithStatus(record.StatusDeleted)
	p.snapshot[id] = tomb
	p.ops = append(p.ops, Op{Action: ActionDelete, Data: tomb, OldData: old, HadOld: true})
	return tomb.Clone(), nil
}

// DeleteAll tombstones every id that currently exists; ids that don't
// exist are silently skipped (bulk variant, §4.2).
func (p *Proxy) DeleteAll(ids []string) ([]record.Record, error) {
	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		old, ok := p.snapshot[id]
		if !ok || !p.present[id] {
			continue
		}
		tomb := old.WithStatus(record.StatusDeleted)
		p.snapshot[id] = tomb
		p.ops = append(p.ops, Op{Action: ActionDelete, Data: tomb, OldData: old, HadOld: true})
		out = append(out, tomb.Clone())
	}
	return out, nil
}

// DeleteAny is the tolerant single-id variant: it never errors on a miss.
func (p *Proxy) DeleteAny(id string) (bool, record.Record, error) {
	old, ok := p.snapshot[id]
	if !ok || !p.present[id] {
		return false, nil, nil
	}
	tomb := old.WithStatus(record.StatusDeleted)
	p.snapshot[id] = tomb
	p.ops = append(p.ops, Op{Action: ActionDelete, Data: tomb, OldData: old, HadOld: true})
	return true, tomb.Clone(), nil
}

// Remove physically deletes id from storage: unlike Delete, no tombstone
// is left behind. Used for garbage-collecting confirmed deletions and
// for dropping already-tombstoned records (resetSyncStatus, §4.3), where
// writing another tombstone would just persist the old one forever.
func (p *Proxy) Remove(id string) (record.Record, error) {
	old, ok := p.snapshot[id]
	if !ok || !p.present[id] {
		return nil, &syncerr.NotFoundError{ID: id}
	}
	delete(p.snapshot, id)
	p.present[id] = false
	if p.removed == nil {
		p.removed = make(map[string]bool)
	}
	if !p.removed[id] {
		p.removed[id] = true
		p.removedOrder = append(p.removedOrder, id)
	}
	p.ops = append(p.ops, Op{Action: ActionDelete, Data: old, OldData: old, HadOld: true})
	return old.Clone(), nil
}

// Writes returns the final state of every record touched during the
// transaction, keyed by id, for the adapter to persist atomically. Ids
// that ended the transaction physically removed are excluded — Removes
// carries those instead.
func (p *Proxy) Writes() map[string]record.Record {
	out := make(map[string]record.Record, len(p.ops))
	for _, op := range p.ops {
		id := op.Data.ID()
		if id == "" {
			continue
		}
		out[id] = op.Data
	}
	for id := range p.removed {
		delete(out, id)
	}
	return out
}

// Removes returns the ids physically removed during the transaction, in
// commit order, for the adapter to turn into a hard delete.
func (p *Proxy) Removes() []string {
	out := make([]string, len(p.removedOrder))
	copy(out, p.removedOrder)
	return out
}

// Ops returns the queued operations in commit order, for post-commit
// event emission.
func (p *Proxy) Ops() []Op {
	return p.ops
}
