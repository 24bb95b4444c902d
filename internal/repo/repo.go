package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"guardrails/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

type AuditFilters struct {
	Actor      string
	Action     string
	EntityKind string
	EntityID   string
	Since      string
	Cursor     int64
	Limit      int
}

// LatestAudit returns audit entries newest first. Cursor, when set, returns
// entries strictly older than that id.
func (r Repo) LatestAudit(ctx context.Context, f AuditFilters) ([]domain.AuditLogEntry, error) {
	var clauses []string
	var args []any
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Since != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.Since)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := `SELECT id, ts, actor, action, outcome, message, COALESCE(entity_kind,''), COALESCE(entity_id,''), context_json FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		var ctxJSON string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Outcome, &e.Message, &e.EntityKind, &e.EntityID, &ctxJSON); err != nil {
			return nil, err
		}
		e.Context = json.RawMessage(ctxJSON)
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountAudit returns the number of entries recorded for an entity.
func (r Repo) CountAudit(ctx context.Context, entityKind, entityID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE entity_kind=? AND entity_id=?`, entityKind, entityID).Scan(&n)
	return n, err
}
