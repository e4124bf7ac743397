// Package transcript persists finished tool-loop runs for auditing.
//
// The loop itself never stores anything; callers hand a LoopResult to a Store
// after Run returns. SQLite (modernc.org/sqlite) and PostgreSQL (pgx) backends
// share one implementation and differ only in their queries.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/skosovsky/toolloop"
)

// ErrNotFound is returned when no transcript exists for a run id.
var ErrNotFound = errors.New("transcript: not found")

// Record is one persisted run.
type Record struct {
	RunID      string             `json:"run_id"`
	Request    string             `json:"request"`
	Answer     string             `json:"answer"`
	Status     toolloop.Status    `json:"status"`
	Iterations int                `json:"iterations"`
	ModelCalls int                `json:"model_calls"`
	CreatedAt  time.Time          `json:"created_at"`
	Messages   []toolloop.Message `json:"messages"`
}

// NewRecord builds a Record for a finished run with a fresh run id.
// A nil result yields a record with only the request set.
func NewRecord(request string, res *toolloop.LoopResult) Record {
	rec := Record{
		RunID:     uuid.NewString(),
		Request:   request,
		CreatedAt: time.Now().UTC(),
	}
	if res == nil {
		return rec
	}
	rec.Answer = res.Answer
	rec.Status = res.Status
	rec.Iterations = res.Iterations
	rec.ModelCalls = res.ModelCalls
	if res.Conversation != nil {
		rec.Messages = res.Conversation.Messages()
	}
	return rec
}

// Store persists transcripts.
type Store interface {
	// Save inserts rec, replacing any record with the same RunID.
	Save(ctx context.Context, rec Record) error
	// Load returns the record for runID or ErrNotFound.
	Load(ctx context.Context, runID string) (Record, error)
	// List returns all records, newest first, without their messages.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

type queries struct {
	save string
	load string
	list string
}

// sqlStore implements Store over database/sql for any dialect in queries.
type sqlStore struct {
	db *sql.DB
	q  queries
}

func (s *sqlStore) Save(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("transcript: empty run id")
	}
	msgs := rec.Messages
	if msgs == nil {
		msgs = []toolloop.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q.save,
		rec.RunID, rec.Request, rec.Answer, string(rec.Status),
		rec.Iterations, rec.ModelCalls, rec.CreatedAt.UnixMilli(), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context, runID string) (Record, error) {
	var (
		rec       Record
		status    string
		createdAt int64
		msgsJSON  string
	)
	err := s.db.QueryRowContext(ctx, s.q.load, runID).Scan(
		&rec.RunID, &rec.Request, &rec.Answer, &status,
		&rec.Iterations, &rec.ModelCalls, &createdAt, &msgsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query transcript: %w", err)
	}
	rec.Status = toolloop.Status(status)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(msgsJSON), &rec.Messages); err != nil {
		return Record{}, fmt.Errorf("unmarshal messages: %w", err)
	}
	return rec, nil
}

func (s *sqlStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			status    string
			createdAt int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Request, &rec.Answer, &status,
			&rec.Iterations, &rec.ModelCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		rec.Status = toolloop.Status(status)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB, fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

var _ Store = (*sqlStore)(nil)
