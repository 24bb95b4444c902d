package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"guardrails/internal/domain"
)

func scanWorkflow(row rowScanner) (domain.CoordinationWorkflow, error) {
	var w domain.CoordinationWorkflow
	var involved, data string
	err := row.Scan(&w.ID, &w.WorkflowType, &w.InitiatorBot, &involved, &w.Status, &data, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if err := json.Unmarshal([]byte(involved), &w.InvolvedBots); err != nil {
		return w, fmt.Errorf("decode involved_bots for %s: %w", w.ID, err)
	}
	w.WorkflowData = json.RawMessage(data)
	return w, nil
}

const workflowColumns = `id, workflow_type, initiator_bot, involved_bots, status, workflow_data, created_at, updated_at`

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.CoordinationWorkflow) error {
	involved, err := json.Marshal(w.InvolvedBots)
	if err != nil {
		return err
	}
	data := string(w.WorkflowData)
	if data == "" {
		data = "{}"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO coordination_workflows(id, workflow_type, initiator_bot, involved_bots, status, workflow_data, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		w.ID, string(w.WorkflowType), w.InitiatorBot, string(involved), string(w.Status), data, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.CoordinationWorkflow, error) {
	w, err := scanWorkflow(r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM coordination_workflows WHERE id=?`, id))
	if err != nil {
		return w, err
	}
	w.CommunicationLog, err = r.listCommunications(ctx, r.DB, id)
	return w, err
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.CoordinationWorkflow, error) {
	w, err := scanWorkflow(tx.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM coordination_workflows WHERE id=?`, id))
	if err != nil {
		return w, err
	}
	w.CommunicationLog, err = r.listCommunications(ctx, tx, id)
	return w, err
}

type WorkflowFilters struct {
	Type   domain.WorkflowType
	Status domain.WorkflowStatus
	Limit  int
}

// ListWorkflows returns workflows newest first, without their communication logs.
func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilters) ([]domain.CoordinationWorkflow, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "workflow_type=?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + workflowColumns + ` FROM coordination_workflows`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CoordinationWorkflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// AppendCommunicationTx adds one participant event; the log is never rewritten.
func (r Repo) AppendCommunicationTx(ctx context.Context, tx *sql.Tx, workflowID string, e domain.CommunicationEntry) (domain.CommunicationEntry, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO workflow_communications(workflow_id, bot_id, kind, message, data_json, ts) VALUES (?,?,?,?,?,?)`,
		workflowID, e.BotID, e.Kind, nullable(e.Message), nullableRaw(e.Data), e.TS)
	if err != nil {
		return e, err
	}
	e.Seq, err = res.LastInsertId()
	if err != nil {
		return e, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE coordination_workflows SET updated_at=? WHERE id=?`, e.TS, workflowID)
	return e, err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) listCommunications(ctx context.Context, q querier, workflowID string) ([]domain.CommunicationEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq, bot_id, kind, COALESCE(message,''), data_json, ts FROM workflow_communications WHERE workflow_id=? ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.CommunicationEntry{}
	for rows.Next() {
		var e domain.CommunicationEntry
		var data sql.NullString
		if err := rows.Scan(&e.Seq, &e.BotID, &e.Kind, &e.Message, &data, &e.TS); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			e.Data = json.RawMessage(data.String)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
