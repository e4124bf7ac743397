package transcript

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/skosovsky/toolloop/transcript/migrations"
)

const defaultSQLitePath = "data/transcripts.db"

var sqliteQueries = queries{
	save: `
		INSERT OR REPLACE INTO transcripts (
			run_id, request, answer, status, iterations, model_calls, created_at, messages
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	load: `
		SELECT run_id, request, answer, status, iterations, model_calls, created_at, messages
		FROM transcripts WHERE run_id = ?`,
	list: `
		SELECT run_id, request, answer, status, iterations, model_calls, created_at
		FROM transcripts ORDER BY created_at DESC, run_id`,
}

// NewSQLiteStore opens (creating if needed) a SQLite transcript database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (Store, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: every new connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := migrate(db, migrations.SQLite, "sqlite/001_init.sql"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &sqlStore{db: db, q: sqliteQueries}, nil
}
