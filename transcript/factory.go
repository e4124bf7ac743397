package transcript

import (
	"fmt"
	"strings"
)

// Open creates a Store based on the DSN.
//   - Empty DSN: SQLite at data/transcripts.db
//   - postgres:// or postgresql://: PostgreSQL
//   - Anything else: SQLite at the given path (":memory:" included)
func Open(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	}
	s, err := NewSQLiteStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return s, nil
}
