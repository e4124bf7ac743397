package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/skosovsky/toolloop/transcript/migrations"
)

var postgresQueries = queries{
	save: `
		INSERT INTO transcripts (
			run_id, request, answer, status, iterations, model_calls, created_at, messages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (run_id) DO UPDATE SET
			request = EXCLUDED.request,
			answer = EXCLUDED.answer,
			status = EXCLUDED.status,
			iterations = EXCLUDED.iterations,
			model_calls = EXCLUDED.model_calls,
			created_at = EXCLUDED.created_at,
			messages = EXCLUDED.messages`,
	load: `
		SELECT run_id, request, answer, status, iterations, model_calls, created_at, messages::text
		FROM transcripts WHERE run_id = $1`,
	list: `
		SELECT run_id, request, answer, status, iterations, model_calls, created_at
		FROM transcripts ORDER BY created_at DESC, run_id`,
}

// NewPostgresStore connects to PostgreSQL through the pgx stdlib driver and applies migrations.
func NewPostgresStore(dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(db, migrations.Postgres, "postgres/001_init.sql"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &sqlStore{db: db, q: postgresQueries}, nil
}
