package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/untoldecay/syncbase/internal/record"
)

// Fake is an in-memory RemoteCollection used by sync engine tests and
// examples: it keeps its own watermark and record set, applying the
// same conditional-concurrency rules a real server would.
type Fake struct {
	mu               sync.Mutex
	records          map[string]record.Record
	timestamp        int64
	batchMaxRequests int
	backoffSeconds   int
	metadata         map[string]any
}

// NewFake builds an empty Fake remote.
func NewFake() *Fake {
	return &Fake{
		records:          make(map[string]record.Record),
		batchMaxRequests: 25,
		metadata:         map[string]any{"id": "articles"},
	}
}

// Seed installs rec server-side, bumping the fake's timestamp. Intended
// for test setup, not part of the Collection contract.
func (f *Fake) Seed(rec record.Record) record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timestamp++
	rec = rec.Clone().WithLastModified(f.timestamp).WithoutStatus()
	f.records[rec.ID()] = rec
	return rec
}

// Snapshot is the on-disk shape of a Fake's state, used by the CLI to
// persist a local stand-in "remote" between invocations in the absence
// of a real network collaborator (§1 "Out of scope: external
// collaborators").
type Snapshot struct {
	Records   []record.Record `json:"records"`
	Timestamp int64           `json:"timestamp"`
}

// Dump captures the fake's current state.
func (f *Fake) Dump() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]record.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	return Snapshot{Records: out, Timestamp: f.timestamp}
}

// Load replaces the fake's state with snap, as captured by a prior Dump.
func (f *Fake) Load(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]record.Record, len(snap.Records))
	for _, rec := range snap.Records {
		f.records[rec.ID()] = rec
	}
	f.timestamp = snap.Timestamp
}

// Flush simulates a server-side data loss: every record is removed and
// the timestamp is reset below whatever a caller's local watermark
// might be, for ServerFlushedError scenarios (§4.6.6, S8).
func (f *Fake) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]record.Record)
	f.timestamp = 0
}

// SetBackoff arms a back-off window, in seconds, for the next server
// info fetch.
func (f *Fake) SetBackoff(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backoffSeconds = seconds
}

// Collection exposes this Fake as a remote.Collection.
func (f *Fake) Collection() Collection {
	return Collection{
		ListRecords:         f.listRecords,
		Batch:               f.batch,
		GetData:             f.getData,
		FetchServerSettings: f.serverInfo,
		FetchServerInfo:     f.serverInfo,
	}
}

func (f *Fake) listRecords(_ context.Context, params ListParams) (ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	excluded := make(map[string]bool, len(params.Exclude))
	for _, id := range params.Exclude {
		excluded[id] = true
	}

	out := make([]record.Record, 0, len(f.records))
	for id, rec := range f.records {
		if excluded[id] {
			continue
		}
		if params.HasSince {
			ts, _ := rec.LastModified()
			if ts <= params.Since {
				continue
			}
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ti, _ := out[i].LastModified()
		tj, _ := out[j].LastModified()
		return ti < tj
	})

	return ListResult{Data: out, LastModified: f.timestamp}, nil
}

func (f *Fake) batch(_ context.Context, ops []BatchOp) (BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result BatchResult
	for _, op := range ops {
		id := op.Record.ID()
		current, exists := f.records[id]

		if op.IfNoneMatchAny && exists {
			result.Conflicts = append(result.Conflicts, BatchOutcome{Record: op.Record, Conflict: true, Remote: current})
			continue
		}
		if op.HasIfMatch {
			currentTS, _ := current.LastModified()
			if !exists || currentTS != op.IfMatch {
				var remote record.Record
				if exists {
					remote = current
				}
				result.Conflicts = append(result.Conflicts, BatchOutcome{Record: op.Record, Conflict: true, Remote: remote})
				continue
			}
		}

		f.timestamp++
		switch op.Method {
		case "DELETE":
			delete(f.records, id)
			result.Published = append(result.Published, op.Record.WithLastModified(f.timestamp))
		default:
			stamped := op.Record.Clone().WithLastModified(f.timestamp).WithoutStatus()
			f.records[id] = stamped
			result.Published = append(result.Published, stamped)
		}
	}
	return result, nil
}

func (f *Fake) getData(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]any, len(f.metadata))
	for k, v := range f.metadata {
		cp[k] = v
	}
	return cp, nil
}

func (f *Fake) serverInfo(context.Context) (ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ServerInfo{
		BatchMaxRequests: f.batchMaxRequests,
		ETag:             f.timestamp,
		HasETag:          true,
		BackoffSeconds:   f.backoffSeconds,
	}, nil
}
