package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Pragmas applied to every pooled SQLite connection through the DSN:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
var dsnPragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// openSQLite creates or opens the database file at path and makes sure the
// container catalog exists. It never touches user_version.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?"+dsnPragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A connection holds at most a handful of concurrent transactions; the
	// drain transaction must be able to start while another one is open.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// readVersion returns the schema version recorded on disk (0 for a new file).
func readVersion(q interface {
	QueryRow(query string, args ...any) *sql.Row
}) (int64, error) {
	var version int64
	if err := q.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// writeVersion records version inside tx. user_version lives in the database
// header, so the write commits or rolls back with the transaction.
func writeVersion(tx *sql.Tx, version int64) error {
	if version < 0 || version > MaxVersion {
		return fmt.Errorf("set user_version: %d does not fit the header field", version)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// listContainers returns container names in catalog order.
func listContainers(q interface {
	Query(query string, args ...any) (*sql.Rows, error)
}) ([]string, error) {
	rows, err := q.Query("SELECT name FROM _containers ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list containers: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// recordTable maps a container name to its backing table identifier.
func recordTable(container string) string {
	return `"c_` + strings.ReplaceAll(container, `"`, `""`) + `"`
}
