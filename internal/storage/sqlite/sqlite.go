// Package sqlite provides the durable, file-backed Adapter (§4.1, §6.4
// "persisted layout"). Each collection key gets its own SQLite file
// under a base directory, with a "one connection, one in-process write
// lock" discipline around github.com/ncruces/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gofrs/flock"

	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/storage"
	"github.com/untoldecay/syncbase/internal/syncerr"
	"github.com/untoldecay/syncbase/internal/txn"
)

// Adapter is the SQLite-backed storage.Adapter. One Adapter owns one
// database file, scoped to a single collection key.
type Adapter struct {
	path string
	key  storage.Key

	mu   sync.Mutex
	db   *sql.DB
	lock *flock.Flock
}

var _ storage.Adapter = (*Adapter)(nil)

// dbFileName turns a collection key into a file name by replacing path
// separators with "__" (so "a__b"/"c" and "a"/"b__c" share a file).
func dbFileName(key storage.Key) string {
	safe := strings.NewReplacer("/", "__", "\\", "__").Replace(key.String())
	return safe + ".db"
}

// New builds an Adapter for key, storing its database file under dir.
// dir is created if it does not already exist.
func New(dir string, key storage.Key) *Adapter {
	return &Adapter{
		path: filepath.Join(dir, dbFileName(key)),
		key:  key,
	}
}

// Open creates the database file (and its directory) if needed,
// acquires an advisory file lock (§5: Execute calls within a process
// are already serialized by mu, the flock additionally guards against
// two processes opening the same file), applies the schema, migrates
// any legacy table found for this collection's bare name, and leaves
// the connection ready for use.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return syncerr.NewStorageError("open", fmt.Errorf("mkdir: %w", err))
	}

	lock := flock.New(a.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return syncerr.NewStorageError("open", fmt.Errorf("acquire lock: %w", err))
	}
	if !locked {
		return syncerr.NewStorageError("open", fmt.Errorf("database %s is locked by another process", a.path))
	}

	dsn := "file:" + a.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		lock.Unlock()
		return syncerr.NewStorageError("open", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		lock.Unlock()
		return syncerr.NewStorageError("open", fmt.Errorf("apply schema: %w", err))
	}

	if err := migrateLegacySchema(ctx, db, a.key.Collection); err != nil {
		db.Close()
		lock.Unlock()
		return syncerr.NewStorageError("open", fmt.Errorf("legacy migration: %w", err))
	}

	a.db = db
	a.lock = lock
	return nil
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if a.lock != nil {
		a.lock.Unlock()
		a.lock = nil
	}
	if err != nil {
		return syncerr.NewStorageError("close", err)
	}
	return nil
}

func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM records; DELETE FROM sync_meta;`); err != nil {
		return syncerr.NewStorageError("clear", err)
	}
	return nil
}

// Execute loads the preload set under a write transaction, runs cb
// synchronously over a txn.Proxy, and commits the write-set atomically
// only if cb succeeds and does not abort. The adapter-level mutex
// serializes Execute calls the same way the memory adapter does.
func (a *Adapter) Execute(ctx context.Context, opts storage.ExecuteOptions, cb storage.Callback) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return syncerr.NewStorageError("execute", fmt.Errorf("adapter not open"))
	}

	snapshot := make(map[string]record.Record, len(opts.Preload))
	for _, id := range opts.Preload {
		rec, ok, loadErr := a.loadOne(ctx, id)
		if loadErr != nil {
			return syncerr.NewStorageError("execute", loadErr)
		}
		if ok {
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

	writes := proxy.Writes()
	removes := proxy.Removes()
	if len(writes) == 0 && len(removes) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.NewStorageError("execute", err)
	}
	for id, rec := range writes {
		if putErr := a.put(ctx, tx, id, rec); putErr != nil {
			tx.Rollback()
			return syncerr.NewStorageError("execute", putErr)
		}
	}
	for _, id := range removes {
		if _, delErr := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); delErr != nil {
			tx.Rollback()
			return syncerr.NewStorageError("execute", delErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return syncerr.NewStorageError("execute", err)
	}
	return nil
}

type panicError struct{ v any }

func (p *panicError) Error() string { return fmt.Sprintf("panic in execute callback: %v", p.v) }

func (a *Adapter) loadOne(ctx context.Context, id string) (record.Record, bool, error) {
	row := a.db.QueryRowContext(ctx, `SELECT data, status, last_modified FROM records WHERE id = ?`, id)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (record.Record, bool, error) {
	var data, status string
	var lastModified sql.NullInt64
	if err := row.Scan(&data, &status, &lastModified); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec record.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, false, err
	}
	rec = rec.WithStatus(record.Status(status))
	if lastModified.Valid {
		rec = rec.WithLastModified(lastModified.Int64)
	}
	return rec, true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *Adapter) put(ctx context.Context, e execer, id string, rec record.Record) error {
	data, err := json.Marshal(map[string]any(rec))
	if err != nil {
		return err
	}
	var lastModified any
	if ts, ok := rec.LastModified(); ok {
		lastModified = ts
	}
	_, err = e.ExecContext(ctx,
		`INSERT INTO records(id, data, status, last_modified) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, status = excluded.status, last_modified = excluded.last_modified`,
		id, string(data), string(rec.Status()), lastModified)
	return err
}

func (a *Adapter) Get(ctx context.Context, id string) (record.Record, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok, err := a.loadOne(ctx, id)
	if err != nil {
		return nil, false, syncerr.NewStorageError("get", err)
	}
	return rec, ok, nil
}

func (a *Adapter) List(ctx context.Context, params storage.ListParams) ([]record.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := `SELECT id, data, status, last_modified FROM records`
	if !params.IncludeDeleted {
		query += ` WHERE status != 'deleted'`
	}
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, syncerr.NewStorageError("list", err)
	}
	defer rows.Close()

	out := make([]record.Record, 0)
	for rows.Next() {
		var id, data, status string
		var lastModified sql.NullInt64
		if err := rows.Scan(&id, &data, &status, &lastModified); err != nil {
			return nil, syncerr.NewStorageError("list", err)
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, syncerr.NewStorageError("list", err)
		}
		rec = rec.WithStatus(record.Status(status))
		if lastModified.Valid {
			rec = rec.WithLastModified(lastModified.Int64)
		}
		if matchesFilters(rec, params.Filters) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.NewStorageError("list", err)
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
			if val == w {
				return true
			}
		}
		return false
	default:
		return val == f.Value
	}
}

func lookup(rec record.Record, dotted string) any {
	parts := strings.Split(dotted, ".")
	var cur any = map[string]any(rec)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func applyOrder(recs []record.Record, order storage.Order) {
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

func (a *Adapter) SaveLastModified(ctx context.Context, value int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.saveMetaValue(ctx, metaKeyLastModified, fmt.Sprintf("%d", value)); err != nil {
		return syncerr.NewStorageError("saveLastModified", err)
	}
	return nil
}

func (a *Adapter) GetLastModified(ctx context.Context) (int64, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	raw, ok, err := a.loadMetaValue(ctx, metaKeyLastModified)
	if err != nil {
		return 0, false, syncerr.NewStorageError("getLastModified", err)
	}
	if !ok {
		return 0, false, nil
	}
	var ts int64
	if _, err := fmt.Sscanf(raw, "%d", &ts); err != nil {
		return 0, false, syncerr.NewStorageError("getLastModified", err)
	}
	return ts, true, nil
}

func (a *Adapter) SaveMetadata(ctx context.Context, meta map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := json.Marshal(meta)
	if err != nil {
		return syncerr.NewStorageError("saveMetadata", err)
	}
	if err := a.saveMetaValue(ctx, metaKeyCollection, string(data)); err != nil {
		return syncerr.NewStorageError("saveMetadata", err)
	}
	return nil
}

func (a *Adapter) GetMetadata(ctx context.Context) (map[string]any, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	raw, ok, err := a.loadMetaValue(ctx, metaKeyCollection)
	if err != nil {
		return nil, false, syncerr.NewStorageError("getMetadata", err)
	}
	if !ok {
		return nil, false, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, false, syncerr.NewStorageError("getMetadata", err)
	}
	return meta, true, nil
}

func (a *Adapter) saveMetaValue(ctx context.Context, name, value string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO sync_meta(name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}

func (a *Adapter) loadMetaValue(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ImportBulk upserts records, skipping any whose local copy is pending
// (created/updated/deleted) or lacks a last_modified. It bumps the
// watermark to the max imported last_modified only if it exceeds the
// current one, matching the memory adapter's behavior.
func (a *Adapter) ImportBulk(ctx context.Context, records []record.Record) ([]record.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncerr.NewStorageError("importBulk", err)
	}

	written := make([]record.Record, 0, len(records))
	var maxTS int64
	haveMax := false

	for _, incoming := range records {
		id := incoming.ID()
		if id == "" {
			continue
		}

		row := tx.QueryRowContext(ctx, `SELECT data, status, last_modified FROM records WHERE id = ?`, id)
		local, ok, err := scanRecord(row)
		if err != nil {
			tx.Rollback()
			return nil, syncerr.NewStorageError("importBulk", err)
		}
		if ok {
			switch local.Status() {
			case record.StatusCreated, record.StatusUpdated, record.StatusDeleted:
				continue
			}
			if _, hasTS := local.LastModified(); !hasTS {
				continue
			}
		}

		stamped := incoming.WithStatus(record.StatusSynced)
		if err := a.put(ctx, tx, id, stamped); err != nil {
			tx.Rollback()
			return nil, syncerr.NewStorageError("importBulk", err)
		}
		written = append(written, stamped.Clone())

		if ts, ok := stamped.LastModified(); ok {
			if !haveMax || ts > maxTS {
				maxTS = ts
				haveMax = true
			}
		}
	}

	if haveMax {
		current, ok, err := func() (int64, bool, error) {
			row := tx.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE name = ?`, metaKeyLastModified)
			var value string
			if err := row.Scan(&value); err != nil {
				if err == sql.ErrNoRows {
					return 0, false, nil
				}
				return 0, false, err
			}
			var ts int64
			_, err := fmt.Sscanf(value, "%d", &ts)
			return ts, true, err
		}()
		if err != nil {
			tx.Rollback()
			return nil, syncerr.NewStorageError("importBulk", err)
		}
		if !ok || maxTS > current {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sync_meta(name, value) VALUES (?, ?)
				 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
				metaKeyLastModified, fmt.Sprintf("%d", maxTS)); err != nil {
				tx.Rollback()
				return nil, syncerr.NewStorageError("importBulk", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, syncerr.NewStorageError("importBulk", err)
	}
	return written, nil
}
