// Package remote defines the RemoteCollection contract (§6.2) the sync
// engine consumes, and a small in-memory fake implementation used by
// tests and examples. A real implementation talks to a REST service
// exposing timestamped per-collection change logs; that HTTP client is
// out of scope here (§1 "Out of scope: external collaborators").
package remote

import (
	"context"

	"github.com/untoldecay/syncbase/internal/record"
)

// ListParams bounds a listRecords call.
type ListParams struct {
	Since    int64
	HasSince bool
	Exclude  []string
	Headers  map[string]string
}

// ListResult is one page of listRecords.
type ListResult struct {
	Data         []record.Record
	LastModified int64
	HasNextPage  bool
	Next         string
	TotalRecords int
}

// BatchOp is one outgoing operation in a batch call.
type BatchOp struct {
	Method string // "DELETE", "PUT" (update), "POST" (create)
	Record record.Record
	// IfMatch/IfNoneMatchAny implement the conditional-concurrency
	// semantics of §6.2: If-Match carries the expected last_modified,
	// IfNoneMatchAny true sends If-None-Match: *.
	IfMatch        int64
	HasIfMatch     bool
	IfNoneMatchAny bool
}

// BatchOutcome is one per-record outcome of a batch call.
type BatchOutcome struct {
	Record     record.Record
	StatusCode int
	Conflict   bool
	Remote     record.Record // present when Conflict is true
}

// BatchResult aggregates outcomes across an entire batch call.
type BatchResult struct {
	Published []record.Record
	Errors    []BatchOutcome
	Conflicts []BatchOutcome
	Skipped   []record.Record
}

// ServerInfo carries the capability and header information the engine
// needs for chunking and back-off handling (§4.6.5, §4.6.7).
type ServerInfo struct {
	BatchMaxRequests  int
	ETag              int64
	HasETag           bool
	BackoffSeconds    int
	RetryAfterSeconds int
	AlertMessage      string
	AlertURL          string
	EOL               bool
}

// Collection is the contract the sync engine consumes for one remote
// collection.
type Collection struct {
	ListRecords         func(ctx context.Context, params ListParams) (ListResult, error)
	Batch               func(ctx context.Context, ops []BatchOp) (BatchResult, error)
	GetData             func(ctx context.Context) (map[string]any, error)
	FetchServerSettings func(ctx context.Context) (ServerInfo, error)
	FetchServerInfo     func(ctx context.Context) (ServerInfo, error)
}
