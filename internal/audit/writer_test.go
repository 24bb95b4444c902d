package audit_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardrails/internal/audit"
	"guardrails/internal/db"
	"guardrails/internal/migrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func countEntries(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n))
	return n
}

func TestAppendCommitsWithTransaction(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	w := audit.Writer{Now: func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)) }}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	id, err := w.Append(ctx, tx, audit.Entry{Actor: "sales-bot", Action: "validation_submitted", Message: "queued"})
	require.NoError(t, err)
	require.Positive(t, id)
	require.NoError(t, tx.Commit())

	var ts, outcome, contextJSON string
	require.NoError(t, conn.QueryRow(`SELECT ts, outcome, context_json FROM audit_log WHERE id=?`, id).Scan(&ts, &outcome, &contextJSON))
	require.Equal(t, "2024-01-01T11:00:00Z", ts)
	require.Equal(t, "success", outcome)
	require.Equal(t, "{}", contextJSON)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = audit.Writer{}.Append(ctx, tx, audit.Entry{Actor: audit.HumanSupervisor, Action: "validation_decided", Message: "approved"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.Zero(t, countEntries(t, conn))

	tx, err = conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = audit.Writer{}.Append(ctx, tx, audit.Entry{Action: "anonymous"})
	require.ErrorContains(t, err, "actor")
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openDB(t)
	require.NoError(t, migrate.Migrate(conn))
	current, err := migrate.Current(conn)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	require.Equal(t, latest, current)
	require.Positive(t, latest)
}
