package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"guardrails/internal/domain"
)

const validationColumns = `id, initiator_bot, action_type, action_data, validation_type, estimated_impact, urgency_level, priority, status,
guardrails_context, human_feedback, decision_time, decided_by, adjustments, advisory_analysis, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanValidation(row rowScanner) (domain.ValidationRequest, error) {
	var v domain.ValidationRequest
	var actionData, guardrailsCtx string
	var feedback, decisionTime, decidedBy, adjustments, analysis sql.NullString
	err := row.Scan(&v.ID, &v.InitiatorBot, &v.ActionType, &actionData, &v.ValidationType, &v.EstimatedImpact, &v.UrgencyLevel,
		&v.Priority, &v.Status, &guardrailsCtx, &feedback, &decisionTime, &decidedBy, &adjustments, &analysis, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.ActionData = json.RawMessage(actionData)
	if err := json.Unmarshal([]byte(guardrailsCtx), &v.GuardrailsContext); err != nil {
		return v, fmt.Errorf("decode guardrails_context for %s: %w", v.ID, err)
	}
	if feedback.Valid {
		v.HumanFeedback = feedback.String
	}
	if decisionTime.Valid {
		ts := decisionTime.String
		v.DecisionTime = &ts
	}
	if decidedBy.Valid {
		v.DecidedBy = decidedBy.String
	}
	if adjustments.Valid && adjustments.String != "" {
		v.Adjustments = json.RawMessage(adjustments.String)
	}
	if analysis.Valid && analysis.String != "" {
		var a domain.AdvisoryAnalysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return v, fmt.Errorf("decode advisory_analysis for %s: %w", v.ID, err)
		}
		v.AdvisoryAnalysis = &a
	}
	return v, nil
}

func (r Repo) InsertValidationTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest) error {
	gctx, err := json.Marshal(v.GuardrailsContext)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validation_queue(id, initiator_bot, action_type, action_data, validation_type, estimated_impact,
urgency_level, priority, status, guardrails_context, created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.InitiatorBot, v.ActionType, string(v.ActionData), string(v.ValidationType), v.EstimatedImpact,
		v.UrgencyLevel, v.Priority, string(v.Status), string(gctx), v.CreatedAt)
	return err
}

func (r Repo) GetValidation(ctx context.Context, id string) (domain.ValidationRequest, error) {
	return scanValidation(r.DB.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validation_queue WHERE id=?`, id))
}

func (r Repo) GetValidationTx(ctx context.Context, tx *sql.Tx, id string) (domain.ValidationRequest, error) {
	return scanValidation(tx.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validation_queue WHERE id=?`, id))
}

// DecisionUpdate carries the fields written on the single terminal transition.
type DecisionUpdate struct {
	ID           string
	Status       domain.ValidationStatus
	Feedback     string
	DecisionTime string
	DecidedBy    string
	Adjustments  json.RawMessage
}

// DecideValidationTx moves a request out of pending with a compare-and-swap on
// status. It reports false when the row no longer holds pending (or is absent).
func (r Repo) DecideValidationTx(ctx context.Context, tx *sql.Tx, u DecisionUpdate) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE validation_queue SET status=?, human_feedback=?, decision_time=?, decided_by=?, adjustments=?
WHERE id=? AND status='pending'`,
		string(u.Status), u.Feedback, u.DecisionTime, nullable(u.DecidedBy), nullableRaw(u.Adjustments), u.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetAdvisoryAnalysisTx overwrites the advisory slot. Status and priority are untouched.
func (r Repo) SetAdvisoryAnalysisTx(ctx context.Context, tx *sql.Tx, id string, a domain.AdvisoryAnalysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE validation_queue SET advisory_analysis=?, advisory_analyzed_at=? WHERE id=?`,
		string(data), a.AnalyzedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ValidationFilters struct {
	Status         domain.ValidationStatus
	ValidationType domain.ValidationType
	InitiatorBot   string
	Priority       *int
	CreatedSince   string
	Limit          int
}

// ListValidations returns requests in queue order: highest priority first,
// then oldest first.
func (r Repo) ListValidations(ctx context.Context, f ValidationFilters) ([]domain.ValidationRequest, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ValidationType != "" {
		clauses = append(clauses, "validation_type=?")
		args = append(args, string(f.ValidationType))
	}
	if f.InitiatorBot != "" {
		clauses = append(clauses, "initiator_bot=?")
		args = append(args, f.InitiatorBot)
	}
	if f.Priority != nil {
		clauses = append(clauses, "priority=?")
		args = append(args, *f.Priority)
	}
	if f.CreatedSince != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.CreatedSince)
	}
	query := `SELECT ` + validationColumns + ` FROM validation_queue`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRequest
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountPending returns the pending backlog and the part of it above impactAbove.
func (r Repo) CountPending(ctx context.Context, impactAbove float64) (total int, highImpact int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN estimated_impact > ? THEN 1 ELSE 0 END),0)
FROM validation_queue WHERE status='pending'`, impactAbove).Scan(&total, &highImpact)
	return total, highImpact, err
}

// CountPendingByBot returns pending request counts per initiator.
func (r Repo) CountPendingByBot(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT initiator_bot, COUNT(*) FROM validation_queue WHERE status='pending' GROUP BY initiator_bot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var bot string
		var n int
		if err := rows.Scan(&bot, &n); err != nil {
			return nil, err
		}
		res[bot] = n
	}
	return res, rows.Err()
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
