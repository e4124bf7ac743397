package transcript_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/toolloop"
	"github.com/skosovsky/toolloop/testutil"
	"github.com/skosovsky/toolloop/transcript"
)

// skipLeakCheck is set by the integration tests: the container runtime client keeps
// goroutines alive for the whole process.
var skipLeakCheck bool

func TestMain(m *testing.M) {
	if skipLeakCheck {
		os.Exit(m.Run())
	}
	goleak.VerifyTestMain(m)
}

func finishedRun(t *testing.T) *toolloop.LoopResult {
	t.Helper()
	echo := &testutil.MockTool{
		NameVal: "echo",
		ExecuteFn: func(_ context.Context, args toolloop.Args) (string, error) {
			return args.String("text"), nil
		},
	}
	model := testutil.NewScriptedModel(
		testutil.Request(toolloop.ToolRequest{ID: "1", ToolName: "echo", Args: toolloop.Args{"text": "hi"}}),
		testutil.Reply("done"),
	)
	res, err := toolloop.Run(context.Background(), "say hi", testutil.NewTestRegistry(echo), model)
	require.NoError(t, err)
	return res
}

func openSQLite(t *testing.T, dsn string) transcript.Store {
	t.Helper()
	s, err := transcript.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testRoundTrip(t *testing.T, s transcript.Store) {
	ctx := context.Background()
	res := finishedRun(t)
	rec := transcript.NewRecord("say hi", res)
	require.NotEmpty(t, rec.RunID)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, "say hi", got.Request)
	assert.Equal(t, "done", got.Answer)
	assert.Equal(t, toolloop.StatusSuccess, got.Status)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, 2, got.ModelCalls)
	assert.Equal(t, rec.CreatedAt.Truncate(time.Millisecond), got.CreatedAt)
	assert.Equal(t, res.Conversation.Messages(), got.Messages)

	_, err = s.Load(ctx, "missing")
	require.ErrorIs(t, err, transcript.ErrNotFound)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	testRoundTrip(t, openSQLite(t, ":memory:"))
}

func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	testRoundTrip(t, openSQLite(t, path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestSQLiteStore_SaveReplacesAndLists(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, ":memory:")

	older := transcript.NewRecord("first", nil)
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older.Status = toolloop.StatusBudgetExhausted
	newer := transcript.NewRecord("second", finishedRun(t))
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	older.Answer = "updated"
	require.NoError(t, s.Save(ctx, older))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.RunID, list[0].RunID)
	assert.Equal(t, older.RunID, list[1].RunID)
	assert.Equal(t, "updated", list[1].Answer)
	assert.Equal(t, toolloop.StatusBudgetExhausted, list[1].Status)
	assert.Nil(t, list[0].Messages)

	got, err := s.Load(ctx, older.RunID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestStore_RejectsEmptyRunID(t *testing.T) {
	s := openSQLite(t, ":memory:")
	require.Error(t, s.Save(context.Background(), transcript.Record{Request: "x"}))
}

func TestNewRecord(t *testing.T) {
	rec := transcript.NewRecord("q", nil)
	assert.Equal(t, "q", rec.Request)
	assert.Empty(t, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	other := transcript.NewRecord("q", nil)
	assert.NotEqual(t, rec.RunID, other.RunID)
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("TRANSCRIPT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRANSCRIPT_POSTGRES_DSN not set")
	}
	s, err := transcript.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	testRoundTrip(t, s)
}
