// Package sqlite stores the ledger in a SQLite database as an alternative to NDJSON files.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Open opens the ledger database. ":memory:" is kept on a single connection,
// since every new connection would otherwise see its own empty database.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := NewMigrator(db).Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrator manages database schema migrations
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new database migrator
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Migrate applies the schema once; running it again is a no-op
func (m *Migrator) Migrate() error {
	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("create migrations table failed: %w", err)
	}

	var count int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", schemaVersion).Scan(&count); err != nil {
		return fmt.Errorf("check schema version failed: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema failed: %w\nstatement: %s", err, stmt)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", schemaVersion, "ledger entries"); err != nil {
		return fmt.Errorf("record schema version failed: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		);
	`)
	return err
}

// Version returns the applied schema version, 0 when none
func (m *Migrator) Version() (int, error) {
	var v sql.NullInt64
	if err := m.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// splitSQLStatements splits a SQL file into statements, keeping
// trigger bodies (BEGIN ... END;) intact
func splitSQLStatements(src string) []string {
	var clean []string
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		clean = append(clean, line)
	}

	var (
		out     []string
		current strings.Builder
		inBody  bool
	)
	for _, line := range clean {
		trimmed := strings.TrimSpace(line)
		current.WriteString(line)
		current.WriteString("\n")
		upper := strings.ToUpper(trimmed)
		if upper == "BEGIN" || strings.HasSuffix(upper, " BEGIN") {
			inBody = true
		}
		if inBody {
			if upper == "END;" {
				inBody = false
				out = append(out, strings.TrimSuffix(strings.TrimSpace(current.String()), ";"))
				current.Reset()
			}
			continue
		}
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";"); stmt != "" {
				out = append(out, stmt)
			}
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
