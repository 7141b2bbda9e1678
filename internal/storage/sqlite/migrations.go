package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/untoldecay/syncbase/internal/record"
)

// migrateLegacySchema implements the optional legacy-schema migration:
// when a table named after the bare collection name (the pre-keyed
// layout a prior version of this adapter might have used) exists, its
// contents are copied into the current (records, sync_meta) schema and
// the legacy table is dropped. It runs once per database, guarded by
// the legacy_migrated row in sync_meta.
func migrateLegacySchema(ctx context.Context, db *sql.DB, legacyTable string) error {
	var already string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE name = 'legacy_migrated'`).Scan(&already)
	if err == nil && already == "done" {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	var exists int
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`, legacyTable).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check legacy table: %w", err)
	}
	if exists == 0 {
		_, err = db.ExecContext(ctx, `INSERT OR REPLACE INTO sync_meta(name, value) VALUES ('legacy_migrated', 'done')`)
		return err
	}

	// The adapter allows one open connection, so the legacy rows are read
	// through the transaction rather than holding a second connection.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, data, status, last_modified FROM %q`, legacyTable)) //nolint:gosec // legacyTable is a fixed collection-derived identifier, not user input
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("read legacy table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, data, status string
		var lastModified sql.NullInt64
		if err := rows.Scan(&id, &data, &status, &lastModified); err != nil {
			tx.Rollback()
			return err
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			tx.Rollback()
			return fmt.Errorf("decode legacy record %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO records(id, data, status, last_modified) VALUES (?, ?, ?, ?)`,
			id, data, status, lastModified); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %q`, legacyTable)); err != nil { //nolint:gosec
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO sync_meta(name, value) VALUES ('legacy_migrated', 'done')`); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
