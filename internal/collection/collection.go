// Package collection implements LocalCollection (§4.3): the public
// CRUD surface wrapping an Adapter's execute/preload machinery with id
// generation, status bookkeeping, and event emission.
package collection

import (
	"context"

	"github.com/untoldecay/syncbase/internal/event"
	"github.com/untoldecay/syncbase/internal/idschema"
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/syncerr"
)

// Collection is one LocalCollection instance, bound to a single
// Adapter. The façade owns construction and caches one Collection per
// collection key (§4 "Shared resources").
type Collection struct {
	Name        string
	adapter     storage.Adapter
	idSchema    idschema.Schema
	localFields []string
	bus         *event.Bus
}

// New builds a Collection. localFields names keys that are preserved
// locally but stripped before wire encoding and ignored by conflict
// detection (§3 "Local fields").
func New(name string, adapter storage.Adapter, idSchema idschema.Schema, localFields []string, bus *event.Bus) *Collection {
	return &Collection{
		Name:        name,
		adapter:     adapter,
		idSchema:    idSchema,
		localFields: localFields,
		bus:         bus,
	}
}

// CreateOptions configures Create.
type CreateOptions struct {
	UseRecordID bool
	Synced      bool
}

// Create generates an id via IdSchema unless UseRecordID or Synced is
// set, in which case rec.id is used as given. Fails with IdExistsError
// if the id collides with a live record or a tombstone.
func (c *Collection) Create(ctx context.Context, rec record.Record, opts CreateOptions) (record.Record, error) {
	rec = rec.Clone()

	id := rec.ID()
	if opts.UseRecordID || opts.Synced {
		if id == "" {
			return nil, &syncerr.ValidationError{Reason: "create requires an id when useRecordId or synced is set"}
		}
		if !c.idSchema.Validate(id) {
			return nil, &syncerr.ValidationError{Reason: "invalid id: " + id}
		}
	} else {
		if id != "" {
			return nil, &syncerr.ValidationError{Reason: "create must not set id unless useRecordId or synced is set"}
		}
		id = c.idSchema.Generate(rec)
		rec = withID(rec, id)
	}

	status := record.StatusCreated
	if opts.Synced {
		status = record.StatusSynced
	}
	rec = rec.WithStatus(status)

	var created record.Record
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		var err error
		created, err = p.Create(rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.emit(event.ActionCreate, created, nil, false)
	return created, nil
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	Patch  bool
	Synced bool
}

// Update requires rec.id to already exist. Patch merges rec's fields
// into the existing record; otherwise non-reserved fields are replaced
// wholesale. last_modified is always preserved from the prior version.
func (c *Collection) Update(ctx context.Context, rec record.Record, opts UpdateOptions) (record.Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, &syncerr.ValidationError{Reason: "update requires an id"}
	}

	var updated record.Record
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		old, err := p.Get(id)
		if err != nil {
			return err
		}
		next := mergeForUpdate(old, rec, opts.Patch)
		next = withStatusAfterMutation(old, next, opts.Synced, c.localFields)
		updated, err = p.Update(next)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.emit(event.ActionUpdate, updated, nil, true)
	return updated, nil
}

// Upsert creates if id is absent, updates otherwise. A tombstone counts
// as present: resurrecting one writes the record with status created
// and reports the tombstone as old (hadOld true).
func (c *Collection) Upsert(ctx context.Context, rec record.Record) (created record.Record, old record.Record, hadOld bool, err error) {
	id := rec.ID()
	if id == "" {
		return nil, nil, false, &syncerr.ValidationError{Reason: "upsert requires an id"}
	}

	execErr := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		prior, exists, getErr := p.GetAny(id)
		if getErr != nil {
			return getErr
		}
		next := rec.Clone()
		if exists && !prior.IsTombstone() {
			next = mergeForUpdate(prior, rec, false)
			next = withStatusAfterMutation(prior, next, false, c.localFields)
		} else {
			next = next.WithStatus(record.StatusCreated)
		}

		var upsertErr error
		created, old, hadOld, upsertErr = p.Upsert(next)
		return upsertErr
	})
	if execErr != nil {
		return nil, nil, false, execErr
	}

	if hadOld {
		c.emit(event.ActionUpdate, created, old, true)
	} else {
		c.emit(event.ActionCreate, created, nil, false)
	}
	return created, old, hadOld, nil
}

// ImportOne writes rec verbatim — create if absent, full replace
// (including last_modified) otherwise — bypassing Upsert's
// preserve-old-last_modified merge, which exists for app-level upserts
// where the caller never stamps last_modified itself. The sync engine
// uses this to land a remote-confirmed record, since there last_modified
// comes from the server and must not be discarded (§4.6.2, §4.6.3).
func (c *Collection) ImportOne(ctx context.Context, rec record.Record) (record.Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, &syncerr.ValidationError{Reason: "importOne requires an id"}
	}

	var written record.Record
	var old record.Record
	var hadOld bool
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		var err error
		written, old, hadOld, err = p.Upsert(rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	if hadOld {
		c.emit(event.ActionUpdate, written, old, true)
	} else {
		c.emit(event.ActionCreate, written, nil, false)
	}
	return written, nil
}

// GetOptions configures Get.
type GetOptions struct {
	IncludeDeleted bool
}

// Get fails NotFoundError if missing, or a tombstone and IncludeDeleted
// is false.
func (c *Collection) Get(ctx context.Context, id string, opts GetOptions) (record.Record, error) {
	rec, ok, err := c.adapter.Get(ctx, id)
	if err != nil {
		return nil, syncerr.NewStorageError("get", err)
	}
	if !ok {
		return nil, &syncerr.NotFoundError{ID: id}
	}
	if rec.IsTombstone() && !opts.IncludeDeleted {
		return nil, &syncerr.NotFoundError{ID: id}
	}
	return rec, nil
}

// GetAny never fails for absence.
func (c *Collection) GetAny(ctx context.Context, id string) (record.Record, bool, error) {
	rec, ok, err := c.adapter.Get(ctx, id)
	if err != nil {
		return nil, false, syncerr.NewStorageError("get", err)
	}
	return rec, ok, nil
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	// Local, when set, skips the push: the tombstone is marked synced
	// immediately so it never reaches the remote and is dropped on the
	// next ResetSyncStatus. The zero value performs the default
	// virtual=true soft-delete that gets pushed as a deletion.
	Local bool
	// Physical, when set, removes the record entirely instead of
	// leaving a tombstone (virtual=false, §4.3). The removal is never
	// pushed, so Local is meaningless alongside it.
	Physical bool
}

// Delete requires id to currently exist. By default it tombstones the
// record so it is pushed as a deletion on next sync; with Local set it
// also tombstones locally but marks the tombstone synced, matching a
// purely local removal. With Physical set the record is purged outright
// and never reaches the remote at all.
func (c *Collection) Delete(ctx context.Context, id string, opts DeleteOptions) (record.Record, error) {
	var deleted record.Record
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		var err error
		if opts.Physical {
			deleted, err = p.Remove(id)
			return err
		}
		deleted, err = p.Delete(id)
		if err != nil {
			return err
		}
		if opts.Local {
			deleted = deleted.WithStatus(record.StatusSynced)
			deleted, err = p.Update(deleted)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	c.emit(event.ActionDelete, deleted, nil, false)
	return deleted, nil
}

// DeleteAll tombstones every currently-live record.
func (c *Collection) DeleteAll(ctx context.Context) ([]record.Record, error) {
	live, err := c.adapter.List(ctx, storage.ListParams{})
	if err != nil {
		return nil, syncerr.NewStorageError("deleteAll", err)
	}
	ids := make([]string, 0, len(live))
	for _, rec := range live {
		ids = append(ids, rec.ID())
	}

	var deleted []record.Record
	execErr := c.execute(ctx, ids, func(p storage.Proxy, _ storage.Abort) error {
		var err error
		deleted, err = p.DeleteAll(ids)
		return err
	})
	if execErr != nil {
		return nil, execErr
	}

	targets := make([]event.Target, 0, len(deleted))
	for _, rec := range deleted {
		targets = append(targets, event.Target{Action: event.ActionDelete, Data: rec})
	}
	if c.bus != nil {
		c.bus.Emit("change:"+c.Name, event.Change{Targets: targets})
	}
	return deleted, nil
}

// DeleteAny tolerates id already being absent.
func (c *Collection) DeleteAny(ctx context.Context, id string) (bool, record.Record, error) {
	var deleted bool
	var rec record.Record
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		var err error
		deleted, rec, err = p.DeleteAny(id)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	if deleted {
		c.emit(event.ActionDelete, rec, nil, false)
	}
	return deleted, rec, nil
}

// RemoveAny physically deletes id if present; tolerant of id already
// being absent. The sync engine uses this to garbage-collect a
// server-confirmed deletion and a remote-originated delete of a synced
// record (I4 "deleted→⊥"), where DeleteAny's tombstone would otherwise
// persist and get re-pushed on the next sync.
func (c *Collection) RemoveAny(ctx context.Context, id string) (bool, record.Record, error) {
	var removed record.Record
	var found bool
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		rec, err := p.Remove(id)
		if err != nil {
			if _, ok := err.(*syncerr.NotFoundError); ok {
				return nil
			}
			return err
		}
		found = true
		removed = rec
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if found {
		c.emit(event.ActionDelete, removed, nil, false)
	}
	return found, removed, nil
}

// ListOptions configures List.
type ListOptions struct {
	IncludeDeleted bool
}

// List filters support scalar equality, array membership, and dot-path
// equality; default order is -last_modified.
func (c *Collection) List(ctx context.Context, params storage.ListParams, opts ListOptions) ([]record.Record, error) {
	params.IncludeDeleted = opts.IncludeDeleted
	out, err := c.adapter.List(ctx, params)
	if err != nil {
		return nil, syncerr.NewStorageError("list", err)
	}
	return out, nil
}

// ImportBulk marks every incoming record synced, skipping any whose
// local copy is pending or has no last_modified, and bumps the
// watermark to the max imported last_modified only if greater than the
// current one.
func (c *Collection) ImportBulk(ctx context.Context, records []record.Record) ([]record.Record, error) {
	written, err := c.adapter.ImportBulk(ctx, records)
	if err != nil {
		return nil, syncerr.NewStorageError("importBulk", err)
	}
	return written, nil
}

// ResetSyncStatusResult reports what ResetSyncStatus changed.
type ResetSyncStatusResult struct {
	Tombstones int
	Cleared    int
}

// ResetSyncStatus drops every tombstone, clears last_modified and
// _status on every remaining live record, and clears the watermark.
func (c *Collection) ResetSyncStatus(ctx context.Context) (ResetSyncStatusResult, error) {
	all, err := c.adapter.List(ctx, storage.ListParams{IncludeDeleted: true})
	if err != nil {
		return ResetSyncStatusResult{}, syncerr.NewStorageError("resetSyncStatus", err)
	}

	ids := make([]string, 0, len(all))
	for _, rec := range all {
		ids = append(ids, rec.ID())
	}

	var result ResetSyncStatusResult
	execErr := c.execute(ctx, ids, func(p storage.Proxy, _ storage.Abort) error {
		for _, rec := range all {
			if rec.IsTombstone() {
				if _, err := p.Remove(rec.ID()); err != nil {
					if _, ok := err.(*syncerr.NotFoundError); ok {
						continue
					}
					return err
				}
				result.Tombstones++
				continue
			}
			cleared := rec.WithoutLastModified().WithoutStatus()
			if _, err := p.Update(cleared); err != nil {
				return err
			}
			result.Cleared++
		}
		return nil
	})
	if execErr != nil {
		return ResetSyncStatusResult{}, execErr
	}

	if err := c.adapter.SaveLastModified(ctx, 0); err != nil {
		return ResetSyncStatusResult{}, syncerr.NewStorageError("resetSyncStatus", err)
	}
	return result, nil
}

// Resolve writes resolution locally for a conflict. _status becomes
// synced iff resolution matches remote outside reserved and local
// fields (record.NonReservedEqual); otherwise updated.
// last_modified is always stamped from remote.
func (c *Collection) Resolve(ctx context.Context, remote record.Record, resolution record.Record) (record.Record, error) {
	id := resolution.ID()
	if id == "" {
		id = remote.ID()
	}

	status := record.StatusUpdated
	if record.NonReservedEqual(resolution, remote, c.localFields) {
		status = record.StatusSynced
	}

	next := resolution.Clone()
	if ts, ok := remote.LastModified(); ok {
		next = next.WithLastModified(ts)
	}
	next = next.WithStatus(status)

	var written record.Record
	err := c.execute(ctx, []string{id}, func(p storage.Proxy, _ storage.Abort) error {
		_, old, _, err := p.Upsert(next)
		_ = old
		if err != nil {
			return err
		}
		written = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// Execute is the advanced escape hatch: same semantics as the adapter's
// Execute, with preloadIds named explicitly by the caller.
func (c *Collection) Execute(ctx context.Context, preloadIDs []string, cb storage.Callback) error {
	return c.execute(ctx, preloadIDs, cb)
}

func (c *Collection) execute(ctx context.Context, preload []string, cb storage.Callback) error {
	return c.adapter.Execute(ctx, storage.ExecuteOptions{Preload: preload}, cb)
}

func (c *Collection) emit(action event.Action, data, oldData record.Record, hadOld bool) {
	if c.bus == nil {
		return
	}
	topic := string(action) + ":" + c.Name
	c.bus.Emit(topic, event.Target{Action: action, Data: data, OldData: oldData, HadOld: hadOld})
	c.bus.Emit("change:"+c.Name, event.Change{Targets: []event.Target{
		{Action: action, Data: data, OldData: oldData, HadOld: hadOld},
	}})
}

func withID(rec record.Record, id string) record.Record {
	cp := rec.Clone()
	cp[record.FieldID] = id
	return cp
}

// mergeForUpdate applies incoming over old: either a full replace of
// non-reserved fields (patch=false) or a shallow merge (patch=true),
// always preserving old's last_modified.
func mergeForUpdate(old, incoming record.Record, patch bool) record.Record {
	var next record.Record
	if patch {
		next = old.Clone()
		for k, v := range incoming {
			if k == record.FieldLastModified || k == record.FieldStatus {
				continue
			}
			next[k] = v
		}
	} else {
		next = incoming.Clone()
		next[record.FieldID] = old.ID()
	}
	if ts, ok := old.LastModified(); ok {
		next = next.WithLastModified(ts)
	} else {
		next = next.WithoutLastModified()
	}
	return next
}

// withStatusAfterMutation implements §4.2's status transition rule:
// created stays created; a mutation limited to local fields leaves
// status untouched; everything else becomes updated (unless synced is
// explicitly requested).
func withStatusAfterMutation(old, next record.Record, synced bool, localFields []string) record.Record {
	if synced {
		return next.WithStatus(record.StatusSynced)
	}
	if old.Status() == record.StatusCreated {
		return next.WithStatus(record.StatusCreated)
	}
	if record.NonReservedEqual(old, next, localFields) {
		return next.WithStatus(old.Status())
	}
	return next.WithStatus(record.StatusUpdated)
}
