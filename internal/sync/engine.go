// Package sync implements SyncEngine (§4.6): the pull -> push -> pull
// state machine that reconciles a LocalCollection against a
// RemoteCollection, classifying conflicts and applying a resolution
// strategy.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/untoldecay/syncbase/internal/collection"
	"github.com/untoldecay/syncbase/internal/hooks"
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/remote"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/syncerr"
	"github.com/untoldecay/syncbase/internal/transform"
)

// Strategy is the conflict resolution policy applied during a sync
// (§4.6.1).
type Strategy string

const (
	StrategyManual     Strategy = "manual"
	StrategyServerWins Strategy = "server_wins"
	StrategyClientWins Strategy = "client_wins"
	StrategyPullOnly   Strategy = "pull_only"
)

// Options configures one Sync call (§6.5 "Per-sync").
type Options struct {
	Strategy          Strategy
	Headers           map[string]string
	Retry             int
	IgnoreBackoff     bool
	ExpectedTimestamp string
	HasExpectedTS     bool
	Exclude           []string
}

// Engine drives the pull/push/pull pipeline for one LocalCollection
// against one RemoteCollection (§4.6).
type Engine struct {
	Local        *collection.Collection
	Adapter      storage.Adapter
	Remote       remote.Collection
	Transformers *transform.Pipeline
	Hooks        *hooks.Pipeline
	LocalFields  []string
	Logger       *slog.Logger
}

// New builds an Engine. A nil Transformers/Hooks is treated as an empty
// pipeline; a nil Logger defaults to slog.Default().
func New(local *collection.Collection, adapter storage.Adapter, rem remote.Collection, transformers *transform.Pipeline, hookPipeline *hooks.Pipeline, localFields []string, logger *slog.Logger) *Engine {
	if transformers == nil {
		transformers = transform.New()
	}
	if hookPipeline == nil {
		hookPipeline = hooks.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Local:        local,
		Adapter:      adapter,
		Remote:       rem,
		Transformers: transformers,
		Hooks:        hookPipeline,
		LocalFields:  localFields,
		Logger:       logger,
	}
}

// Sync runs pullMetadata -> pullChanges(A) -> pushChanges -> pullChanges(B)
// per §4.6.2. It returns a possibly-non-ok Result even on a "clean"
// return; it only returns a non-nil error for unexpected failures (I/O,
// programmer errors) and for ServerFlushedError/BackoffError, which are
// signalled as errors rather than folded into the result (§7).
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyManual
	}

	if err := e.checkBackoff(ctx, opts); err != nil {
		return nil, err
	}

	result := NewResult()

	if err := e.pullMetadata(ctx, opts); err != nil {
		e.Logger.Warn("pullMetadata failed", "collection", e.Local.Name, "error", err)
	}

	watermark, hasWatermark, err := e.Adapter.GetLastModified(ctx)
	if err != nil {
		return nil, syncerr.NewStorageError("sync", err)
	}

	if err := e.pullChanges(ctx, result, opts, watermark, hasWatermark, nil); err != nil {
		return nil, err
	}

	if err := e.applyStrategy(ctx, result, opts.Strategy); err != nil {
		return nil, err
	}

	if result.OK() && opts.Strategy != StrategyPullOnly {
		pushedIDs, err := e.pushChanges(ctx, result, opts)
		if err != nil {
			return nil, err
		}
		if err := e.applyStrategy(ctx, result, opts.Strategy); err != nil {
			return nil, err
		}
		if opts.Strategy == StrategyClientWins && result.OK() && len(result.Resolved) > 0 {
			retried, err := e.pushChanges(ctx, result, opts)
			if err != nil {
				return nil, err
			}
			pushedIDs = append(pushedIDs, retried...)
		}

		if result.OK() {
			if err := e.pullChanges(ctx, result, opts, watermark, hasWatermark, pushedIDs); err != nil {
				return nil, err
			}
		}
	}

	if result.OK() {
		if err := e.advanceWatermark(ctx, result); err != nil {
			return nil, err
		}
		e.Logger.Debug("sync complete", "collection", e.Local.Name,
			"created", len(result.Created), "updated", len(result.Updated),
			"deleted", len(result.Deleted), "published", len(result.Published))
	} else {
		e.Logger.Debug("sync finished with conflicts or errors", "collection", e.Local.Name,
			"conflicts", len(result.Conflicts), "errors", len(result.Errors))
	}

	return result, nil
}

func (e *Engine) checkBackoff(ctx context.Context, opts Options) error {
	if opts.IgnoreBackoff || e.Remote.FetchServerInfo == nil {
		return nil
	}
	info, err := e.Remote.FetchServerInfo(ctx)
	if err != nil {
		return nil // a transient failure to fetch server info does not block sync
	}
	if info.BackoffSeconds > 0 {
		return &syncerr.BackoffError{RemainingSeconds: info.BackoffSeconds}
	}
	return nil
}

// pullMetadata fetches remote collection metadata and persists it via
// the adapter (§4.6.2 step 1).
func (e *Engine) pullMetadata(ctx context.Context, opts Options) error {
	if e.Remote.GetData == nil {
		return nil
	}
	meta, err := e.Remote.GetData(ctx)
	if err != nil {
		return err
	}
	return e.Adapter.SaveMetadata(ctx, meta)
}

// pullChanges implements §4.6.2 steps 2 and 4, and §4.6.3's per-change
// classification. extraExclude additionally excludes IDs just pushed,
// for pullChanges(B); every call also excludes every locally pending id
// so a record mid-flight never reappears as a spurious conflict.
func (e *Engine) pullChanges(ctx context.Context, result *Result, opts Options, watermark int64, hasWatermark bool, extraExclude []string) error {
	pending, err := e.Local.List(ctx, storage.ListParams{}, collection.ListOptions{IncludeDeleted: true})
	if err != nil {
		return syncerr.NewStorageError("sync", err)
	}
	localByID := make(map[string]record.Record, len(pending))
	exclude := append([]string{}, opts.Exclude...)
	exclude = append(exclude, extraExclude...)
	for _, rec := range pending {
		localByID[rec.ID()] = rec
		if rec.Status() != record.StatusSynced {
			exclude = append(exclude, rec.ID())
		}
	}

	params := remote.ListParams{
		Since:    watermark,
		HasSince: hasWatermark,
		Exclude:  exclude,
		Headers:  opts.Headers,
	}
	listResult, err := e.Remote.ListRecords(ctx, params)
	if err != nil {
		return err
	}

	changes := listResult.Data
	if e.Hooks != nil {
		payload := hooks.IncomingChanges{LastModified: listResult.LastModified}
		for _, c := range changes {
			payload.Changes = append(payload.Changes, map[string]any(c))
		}
		out, err := e.Hooks.Run(hooks.IncomingChangesHook, payload)
		if err != nil {
			result.AddError(ResultError{Err: err})
			return nil
		}
		if transformed, ok := out.(hooks.IncomingChanges); ok {
			changes = changes[:0]
			for _, m := range transformed.Changes {
				changes = append(changes, record.Record(m))
			}
		}
	}

	for _, remoteRec := range changes {
		decoded, err := e.Transformers.DecodeOne(remoteRec)
		if err != nil {
			result.AddError(ResultError{Record: remoteRec, Err: err})
			continue
		}
		e.importChange(ctx, result, decoded, localByID)
	}

	if listResult.LastModified > result.LastModified || !result.HasLastModified {
		result.LastModified = listResult.LastModified
		result.HasLastModified = true
	}

	return nil
}

// importChange classifies and applies a single decoded remote change
// against the local record it corresponds to, per §4.6.3.
func (e *Engine) importChange(ctx context.Context, result *Result, remoteRec record.Record, localByID map[string]record.Record) {
	id := remoteRec.ID()
	remoteDeleted := isRemoteTombstone(remoteRec)
	local, hasLocal := localByID[id]

	if !hasLocal {
		if remoteDeleted {
			result.AddSkipped(remoteRec)
			return
		}
		if err := e.importRecord(ctx, remoteRec); err != nil {
			result.AddError(ResultError{Record: remoteRec, Err: err})
			return
		}
		result.AddCreated(remoteRec)
		return
	}

	switch local.Status() {
	case record.StatusDeleted:
		if remoteDeleted {
			result.AddSkipped(remoteRec)
			return
		}
		result.AddConflict(Conflict{Type: ConflictOutgoing, Local: local, Remote: remoteRec})
	case record.StatusCreated, record.StatusUpdated:
		if remoteDeleted {
			result.AddConflict(Conflict{Type: ConflictIncoming, Local: local, Remote: remoteRec})
			return
		}
		if record.NonReservedEqual(local, remoteRec, e.LocalFields) {
			if err := e.importRecord(ctx, remoteRec); err != nil {
				result.AddError(ResultError{Record: remoteRec, Err: err})
				return
			}
			result.AddUpdated(remoteRec)
			return
		}
		result.AddConflict(Conflict{Type: ConflictIncoming, Local: local, Remote: remoteRec})
	default: // synced
		if remoteDeleted {
			if err := e.deleteLocal(ctx, id); err != nil {
				result.AddError(ResultError{Record: remoteRec, Err: err})
				return
			}
			result.AddDeleted(remoteRec)
			return
		}
		if remoteTS, ok := remoteRec.LastModified(); ok {
			if localTS, ok := local.LastModified(); ok && localTS == remoteTS {
				return // already holds this server version (e.g. re-listed by pullChanges(B))
			}
		}
		if err := e.importRecord(ctx, remoteRec); err != nil {
			result.AddError(ResultError{Record: remoteRec, Err: err})
			return
		}
		result.AddUpdated(remoteRec)
	}
}

func isRemoteTombstone(rec record.Record) bool {
	deleted, _ := rec["deleted"].(bool)
	return deleted
}

// importRecord writes a remote record the engine has already decided is
// not in conflict: create-if-absent, update-if-present (including
// tombstone resurrection), always landing as synced. This bypasses
// LocalCollection.ImportBulk's bulk-import skip rule (§4.3), which
// exists to protect a *caller-initiated* bulk load from clobbering
// pending edits it knows nothing about — here the engine has already
// made that call record by record.
func (e *Engine) importRecord(ctx context.Context, rec record.Record) error {
	synced := rec.WithStatus(record.StatusSynced)
	_, err := e.Local.ImportOne(ctx, synced)
	return err
}

func (e *Engine) deleteLocal(ctx context.Context, id string) error {
	_, _, err := e.Local.RemoveAny(ctx, id)
	return err
}

// pushChanges implements §4.6.2 step 3 and §4.6.7's chunking. It
// gathers every local non-synced record, encodes it, splits it into
// deletes/creates/updates with their conditional headers, chunks per
// the remote's batch_max_requests, and folds per-record outcomes into
// result. It returns the ids that were actually submitted, for the
// final pullChanges(B) exclusion.
func (e *Engine) pushChanges(ctx context.Context, result *Result, opts Options) ([]string, error) {
	pending, err := e.Local.List(ctx, storage.ListParams{}, collection.ListOptions{IncludeDeleted: true})
	if err != nil {
		return nil, syncerr.NewStorageError("sync", err)
	}

	originals := make(map[string]record.Record, len(pending))
	var ops []remote.BatchOp
	var ids []string
	for _, rec := range pending {
		if rec.Status() == record.StatusSynced {
			continue
		}
		encoded, err := e.Transformers.EncodeOne(rec.EncodeForWire(e.LocalFields))
		if err != nil {
			result.AddError(ResultError{Record: rec, Err: err})
			continue
		}
		ids = append(ids, rec.ID())
		originals[rec.ID()] = rec
		ops = append(ops, e.buildOp(rec, encoded))
	}
	if len(ops) == 0 {
		return ids, nil
	}

	ops = orderOps(ops)

	chunkSize, err := e.batchChunkSize(ctx)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(ops); start += chunkSize {
		end := start + chunkSize
		if end > len(ops) {
			end = len(ops)
		}
		batchResult, err := e.Remote.Batch(ctx, ops[start:end])
		if err != nil {
			return nil, err
		}
		result.Chunks++
		e.applyBatchResult(ctx, result, batchResult, originals)
	}

	return ids, nil
}

// buildOp derives the conditional-concurrency header for one outgoing
// write: deletes and updates carry If-Match on the record's known
// last_modified; never-synced creates carry If-None-Match: * (§4.6.2).
func (e *Engine) buildOp(rec, encoded record.Record) remote.BatchOp {
	if rec.Status() == record.StatusDeleted {
		op := remote.BatchOp{Method: "DELETE", Record: encoded}
		if ts, ok := rec.LastModified(); ok {
			op.IfMatch, op.HasIfMatch = ts, true
		}
		return op
	}
	if ts, ok := rec.LastModified(); ok {
		return remote.BatchOp{Method: "PUT", Record: encoded, IfMatch: ts, HasIfMatch: true}
	}
	return remote.BatchOp{Method: "POST", Record: encoded, IfNoneMatchAny: true}
}

// orderOps sorts deletes before updates before creates, per §4.6.7.
func orderOps(ops []remote.BatchOp) []remote.BatchOp {
	rank := func(op remote.BatchOp) int {
		switch op.Method {
		case "DELETE":
			return 0
		case "PUT":
			return 1
		default:
			return 2
		}
	}
	out := make([]remote.BatchOp, len(ops))
	copy(out, ops)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j-1]) > rank(out[j]); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func (e *Engine) batchChunkSize(ctx context.Context) (int, error) {
	if e.Remote.FetchServerSettings == nil {
		return 1 << 30, nil
	}
	info, err := e.Remote.FetchServerSettings(ctx)
	if err != nil {
		return 0, err
	}
	if info.BatchMaxRequests <= 0 {
		return 1 << 30, nil
	}
	return info.BatchMaxRequests, nil
}

func (e *Engine) applyBatchResult(ctx context.Context, result *Result, br remote.BatchResult, originals map[string]record.Record) {
	local := func(rec record.Record) record.Record {
		if orig, ok := originals[rec.ID()]; ok {
			return orig
		}
		return rec
	}

	for _, rec := range br.Published {
		wasDelete := local(rec).Status() == record.StatusDeleted
		if err := e.markPublished(ctx, rec, wasDelete); err != nil {
			result.AddError(ResultError{Record: rec, Err: err})
			continue
		}
		result.AddPublished(rec)
	}
	for _, outcome := range br.Conflicts {
		result.AddConflict(Conflict{Type: ConflictOutgoing, Local: local(outcome.Record), Remote: outcome.Remote})
	}
	for _, outcome := range br.Errors {
		result.AddError(ResultError{Record: outcome.Record, Err: fmt.Errorf("remote rejected record (status %d)", outcome.StatusCode)})
	}
	for _, rec := range br.Skipped {
		result.AddSkipped(rec)
	}
}

// markPublished writes the server-confirmed version back locally: a
// deletion's confirmation drops the tombstone entirely (I4), anything
// else becomes synced with the server's last_modified. wasDelete is
// determined from the pre-encode original, since the wire record
// itself never carries _status (EncodeForWire strips it).
func (e *Engine) markPublished(ctx context.Context, rec record.Record, wasDelete bool) error {
	if wasDelete {
		_, _, err := e.Local.RemoveAny(ctx, rec.ID())
		return err
	}
	decoded, err := e.Transformers.DecodeOne(rec)
	if err != nil {
		return err
	}
	synced := decoded.WithStatus(record.StatusSynced)
	_, err = e.Local.ImportOne(ctx, synced)
	return err
}

// applyStrategy resolves every conflict currently in result according
// to strategy (§4.6.4); MANUAL leaves them untouched. It is called after
// the first pull and again after the push. CLIENT_WINS resolutions are
// recorded in result's Resolved slot and stay pending locally, so the
// push that follows (or, for conflicts the push itself reported, one
// retried push in Sync) re-submits them.
func (e *Engine) applyStrategy(ctx context.Context, result *Result, strategy Strategy) error {
	if strategy == StrategyManual || len(result.Conflicts) == 0 {
		return nil
	}

	conflicts := result.Conflicts
	result.ResetConflicts()

	for _, c := range conflicts {
		switch strategy {
		case StrategyServerWins, StrategyPullOnly:
			resolved, err := e.resolveToRemote(ctx, c)
			if err != nil {
				return err
			}
			if resolved != nil {
				result.AddResolved(resolved)
				result.AddUpdated(resolved)
			} else {
				result.AddDeleted(c.Local)
			}
		case StrategyClientWins:
			resolved, err := e.resolveToLocal(ctx, c)
			if err != nil {
				return err
			}
			result.AddResolved(resolved)
		}
	}
	return nil
}

// resolveToRemote implements SERVER_WINS/PULL_ONLY (§4.6.4): the
// server's version overwrites local, landing synced. When the server
// has no version at all (conflict.Remote is nil — the server deleted
// the record), the tombstone is kept locally but marked synced so it
// is never pushed again and is garbage-collected on the next
// ResetSyncStatus.
func (e *Engine) resolveToRemote(ctx context.Context, c Conflict) (record.Record, error) {
	if c.Remote == nil {
		if _, err := e.Local.Delete(ctx, c.Local.ID(), collection.DeleteOptions{Local: true}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	synced := c.Remote.WithStatus(record.StatusSynced)
	created, err := e.Local.ImportOne(ctx, synced)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveToLocal implements CLIENT_WINS (§4.6.4): the local version is
// kept, stamped with whatever last_modified the server reported, and
// its _status is left at "updated" (Collection.Resolve only marks it
// synced if the kept content matches remote outside reserved and local
// fields) so the pushChanges call that follows re-submits it with a correct
// If-Match, effecting the "retry with the newly learned last_modified"
// behavior §4.6.4 calls for. When the server has no version to learn a
// timestamp from, the record is cleared back to "created" so the next
// push re-submits it as a fresh create.
func (e *Engine) resolveToLocal(ctx context.Context, c Conflict) (record.Record, error) {
	if c.Remote != nil {
		return e.Local.Resolve(ctx, c.Remote, c.Local)
	}
	cleared := c.Local.WithoutLastModified().WithStatus(record.StatusCreated)
	created, err := e.Local.ImportOne(ctx, cleared)
	return created, err
}

func (e *Engine) advanceWatermark(ctx context.Context, result *Result) error {
	if !result.HasLastModified {
		return nil
	}
	current, hasCurrent, err := e.Adapter.GetLastModified(ctx)
	if err != nil {
		return syncerr.NewStorageError("sync", err)
	}
	if hasCurrent && result.LastModified < current {
		// A successful pull reporting a timestamp below the current
		// watermark means the server-side collection was flushed out
		// from under us (§4.6.6, S8).
		return &syncerr.ServerFlushedError{LocalTimestamp: current, RemoteTimestamp: result.LastModified}
	}
	if !hasCurrent || result.LastModified > current {
		if err := e.Adapter.SaveLastModified(ctx, result.LastModified); err != nil {
			return syncerr.NewStorageError("sync", err)
		}
	}
	return nil
}

// DecodeAlert parses the server's Alert header payload (§4.6.5),
// returning a DeprecationError when the alert signals hard end-of-life.
func DecodeAlert(raw string, eol bool) error {
	if raw == "" {
		return nil
	}
	var alert struct {
		Message string `json:"message"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal([]byte(raw), &alert); err != nil {
		return nil // malformed alerts are logged by the caller, not fatal
	}
	if eol {
		return &syncerr.DeprecationError{Message: alert.Message, URL: alert.URL}
	}
	return nil
}
