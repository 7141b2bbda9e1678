// Package sync implements SyncResult (§4.7) and SyncEngine (§4.6): the
// pull → push → pull state machine that reconciles a LocalCollection
// against a RemoteCollection.
package sync

import "github.com/untoldecay/syncbase/internal/record"

// Conflict is one unresolved incoming/outgoing disagreement (§7
// "ConflictEntry").
type Conflict struct {
	Type   ConflictType
	Local  record.Record
	Remote record.Record // nil for an outgoing conflict where the server deleted
}

// ConflictType distinguishes the two conflict shapes §4.6.3 produces.
type ConflictType string

const (
	ConflictIncoming ConflictType = "incoming"
	ConflictOutgoing ConflictType = "outgoing"
)

// ResultError is one per-record failure folded into a SyncResult
// instead of aborting the whole sync.
type ResultError struct {
	Record record.Record
	Err    error
}

// Result accumulates per-phase outcomes across one sync call. Every
// slot dedups by record id (later wins) except Errors and Conflicts,
// which simply append.
type Result struct {
	Created         []record.Record
	Updated         []record.Record
	Deleted         []record.Record
	Published       []record.Record
	Resolved        []record.Record
	Skipped         []record.Record
	Conflicts       []Conflict
	Errors          []ResultError
	LastModified    int64
	HasLastModified bool
	// Chunks counts how many batch chunks the push phase submitted,
	// surfaced for callers instrumenting large syncs.
	Chunks int
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{}
}

// OK is false iff Errors or Conflicts is nonempty.
func (r *Result) OK() bool {
	return len(r.Errors) == 0 && len(r.Conflicts) == 0
}

func addByID(list []record.Record, rec record.Record) []record.Record {
	id := rec.ID()
	for i, existing := range list {
		if existing.ID() == id {
			list[i] = rec
			return list
		}
	}
	return append(list, rec)
}

// AddCreated merges rec into Created, deduped by id (later wins).
func (r *Result) AddCreated(rec record.Record) { r.Created = addByID(r.Created, rec) }

// AddUpdated merges rec into Updated, deduped by id (later wins).
func (r *Result) AddUpdated(rec record.Record) { r.Updated = addByID(r.Updated, rec) }

// AddDeleted merges rec into Deleted, deduped by id (later wins).
func (r *Result) AddDeleted(rec record.Record) { r.Deleted = addByID(r.Deleted, rec) }

// AddPublished merges rec into Published, deduped by id (later wins).
func (r *Result) AddPublished(rec record.Record) { r.Published = addByID(r.Published, rec) }

// AddResolved merges rec into Resolved, deduped by id (later wins).
func (r *Result) AddResolved(rec record.Record) { r.Resolved = addByID(r.Resolved, rec) }

// AddSkipped merges rec into Skipped, deduped by id (later wins).
func (r *Result) AddSkipped(rec record.Record) { r.Skipped = addByID(r.Skipped, rec) }

// AddConflict appends c to Conflicts.
func (r *Result) AddConflict(c Conflict) { r.Conflicts = append(r.Conflicts, c) }

// AddError appends e to Errors.
func (r *Result) AddError(e ResultError) { r.Errors = append(r.Errors, e) }

// ResetConflicts clears the Conflicts slot back to empty, used when a
// resolution strategy fully disposes of every conflict it saw.
func (r *Result) ResetConflicts() { r.Conflicts = nil }
