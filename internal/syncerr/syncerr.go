// Package syncerr defines the typed error kinds shared by every layer of
// the sync engine (storage, transactions, collections, pipelines, sync).
// Callers distinguish them with errors.As, not string matching.
package syncerr

import "fmt"

// ValidationError reports a malformed record or option combination:
// a bad id, a non-object record, a missing id on update, useRecordId
// without an id, or an extraneous id on a plain create.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Reason }

// NotFoundError reports a get/update/delete of an id that does not exist
// (or, for get, that is a tombstone and includeDeleted was not set).
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("record not found: %q", e.ID) }

// IdExistsError reports a create that collides with an existing record or
// a tombstone ("virtually deleted" per I6).
type IdExistsError struct {
	ID      string
	Virtual bool
}

func (e *IdExistsError) Error() string {
	if e.Virtual {
		return fmt.Sprintf("record %q exists (virtually deleted)", e.ID)
	}
	return fmt.Sprintf("record %q already exists", e.ID)
}

// PreloadError reports a TransactionProxy.Get/GetAny access to an id that
// was not declared in the execute() preload set and is not already known
// in the snapshot.
type PreloadError struct {
	ID string
}

func (e *PreloadError) Error() string {
	return fmt.Sprintf("id %q was not preloaded for this transaction", e.ID)
}

// ProgrammerError reports a bug in the caller's own code, such as an
// execute() callback that returned a thenable (a channel/future in Go
// terms) instead of completing synchronously.
type ProgrammerError struct {
	Reason string
}

func (e *ProgrammerError) Error() string { return "programmer error: " + e.Reason }

// StorageError wraps an adapter failure, prefixing the operation name.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s() %s", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError for operation op. Returns
// nil if err is nil, so it composes with `return NewStorageError("open", err)`.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// TransformSide identifies which direction of a pipeline failed.
type TransformSide string

const (
	SideIncoming TransformSide = "incoming"
	SideOutgoing TransformSide = "outgoing"
)

// TransformError reports a transformer encode/decode failure. Side is
// "incoming" for decode failures (remote -> local) and "outgoing" for
// encode failures (local -> remote); both are folded into the sync
// result's errors slot under that label.
type TransformError struct {
	Side TransformSide
	ID   string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform error (%s) on %q: %v", e.Side, e.ID, e.Err)
}
func (e *TransformError) Unwrap() error { return e.Err }

// HookContractError reports a hook function returning a value that is
// neither a valid payload nor an error.
type HookContractError struct {
	Hook   string
	Reason string
}

func (e *HookContractError) Error() string {
	return fmt.Sprintf("hook %q violated its contract: %s", e.Hook, e.Reason)
}

// BackoffError reports that a sync was attempted while a server-declared
// back-off window was still active.
type BackoffError struct {
	RemainingSeconds int
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("server requested backoff, %d seconds remaining", e.RemainingSeconds)
}

// ServerFlushedError reports that the server's collection timestamp is
// lower than the locally recorded watermark, meaning the server-side
// collection was wiped out from under us.
type ServerFlushedError struct {
	LocalTimestamp  int64
	RemoteTimestamp int64
}

func (e *ServerFlushedError) Error() string {
	return fmt.Sprintf("server collection was flushed: local watermark %d > remote timestamp %d",
		e.LocalTimestamp, e.RemoteTimestamp)
}

// DeprecationError reports a hard end-of-life signal from the server
// (HTTP 410, conveyed via the Alert header).
type DeprecationError struct {
	Message string
	URL     string
}

func (e *DeprecationError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("service is end-of-life: %s (%s)", e.Message, e.URL)
	}
	return fmt.Sprintf("service is end-of-life: %s", e.Message)
}
