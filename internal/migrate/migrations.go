// Package migrate applies the embedded workspace schema. Progress is
// tracked in a single-row schema_version table; each sql/NNNN_*.sql file
// runs at most once, in filename order.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Migrate brings the workspace database up to the latest schema version.
// All pending migrations apply inside one transaction, so a failure leaves
// the database at the version it started from.
func Migrate(db *sql.DB) error {
	names, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return err
	}
	// Version prefixes are zero-padded, so filename order is version order.
	sort.Strings(names)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, name := range names {
		var v int
		if _, err := fmt.Sscanf(name, "sql/%d_", &v); err != nil {
			return fmt.Errorf("migration %s: missing version prefix: %w", name, err)
		}
		if v <= current {
			continue
		}
		stmt, err := schemaFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(stmt)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, v); err != nil {
			return fmt.Errorf("record version %d: %w", v, err)
		}
		current = v
	}
	return tx.Commit()
}
