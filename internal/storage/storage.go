// Package storage defines the Adapter capability (§4.1, §6.1): a
// durable, transactional KV-like store per collection key. Concrete
// variants live in sibling packages (storage/memory, storage/sqlite).
package storage

import (
	"context"

	"github.com/untoldecay/syncbase/internal/record"
)

// Key identifies a replica: (bucket, collection name), per §3.
type Key struct {
	Bucket     string
	Collection string
}

func (k Key) String() string { return k.Bucket + "/" + k.Collection }

// Filter is a single equality/membership/dot-path constraint for List.
// Value is compared with "==" for scalars, "IN" for []any, and against a
// dot-separated Field for nested lookups (e.g. "author.id").
type Filter struct {
	Field string
	Value any
}

// Order is one sort key; Field may be prefixed with "-" for descending.
// The zero Order makes both adapters sort by -last_modified.
type Order struct {
	Field string
}

// Descending reports whether the order field carries a "-" prefix.
func (o Order) Descending() bool {
	return len(o.Field) > 0 && o.Field[0] == '-'
}

// Name strips the leading "-" from Field, if present.
func (o Order) Name() string {
	if o.Descending() {
		return o.Field[1:]
	}
	return o.Field
}

// ListParams bounds a List call.
type ListParams struct {
	Filters        []Filter
	Order          Order
	IncludeDeleted bool
}

// Abort is passed to every execute callback; calling it discards all
// writes queued so far in the transaction, same as returning an error.
type Abort func()

// Callback is invoked synchronously by Execute with a snapshot-backed
// proxy. It MUST NOT return a channel/future — Go has no thenable to
// smuggle one through, but a callback that tries to keep using the proxy
// from another goroutine after returning hits the same ProgrammerError
// class of bug the JS original guards against. Nothing detects that at
// runtime: writes made after the callback returns are simply lost.
type Callback func(proxy Proxy, abort Abort) error

// Proxy is the capability execute() callbacks receive. It is defined
// here (rather than in package txn) so Adapter implementations can
// accept it without importing txn, avoiding a cycle; package txn
// provides the concrete implementation adapters construct.
type Proxy interface {
	Get(id string) (record.Record, error)
	GetAny(id string) (record.Record, bool, error)
	Create(rec record.Record) (record.Record, error)
	Update(rec record.Record) (record.Record, error)
	Upsert(rec record.Record) (created record.Record, old record.Record, hadOld bool, err error)
	Delete(id string) (record.Record, error)
	DeleteAll(ids []string) ([]record.Record, error)
	DeleteAny(id string) (deleted bool, rec record.Record, err error)
	Remove(id string) (record.Record, error)
}

// ExecuteOptions configures Execute's preload set.
type ExecuteOptions struct {
	Preload []string
}

// Adapter is the durable backing store capability for one collection
// key (§4.1, §6.1). Implementations must make Open/Close idempotent and
// must give Execute serializable, atomic semantics: either every queued
// write in the callback is applied, or none are.
type Adapter interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Clear(ctx context.Context) error

	Execute(ctx context.Context, opts ExecuteOptions, cb Callback) error

	Get(ctx context.Context, id string) (record.Record, bool, error)
	List(ctx context.Context, params ListParams) ([]record.Record, error)

	SaveLastModified(ctx context.Context, value int64) error
	GetLastModified(ctx context.Context) (int64, bool, error)

	SaveMetadata(ctx context.Context, meta map[string]any) error
	GetMetadata(ctx context.Context) (map[string]any, bool, error)

	// ImportBulk bulk-upserts records, preserving any local copy whose
	// status is created/updated/deleted, per §4.3 importBulk and I property
	// P4. Returns the records actually written (i.e. excluding skips).
	ImportBulk(ctx context.Context, records []record.Record) ([]record.Record, error)
}

// Factory constructs an Adapter bound to a collection key. The façade
// (C8) holds one Factory and uses it to vend adapters as collections are
// first referenced.
type Factory func(key Key) Adapter
