package repo

import (
	"context"
	"time"

	"guardrails/internal/domain"
)

// WindowCounts summarizes requests created at or after a cutoff.
type WindowCounts struct {
	Total    int
	Approved int
	Rejected int
	Modified int
	Pending  int
}

func (r Repo) CountWindow(ctx context.Context, since string) (WindowCounts, error) {
	var c WindowCounts
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN status='approved' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='rejected' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='modified' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='pending' THEN 1 ELSE 0 END),0)
FROM validation_queue WHERE created_at>=?`, since).Scan(&c.Total, &c.Approved, &c.Rejected, &c.Modified, &c.Pending)
	return c, err
}

// ResponseTimes returns decision latencies for requests created at or after
// since. Rows with unparseable timestamps are skipped.
func (r Repo) ResponseTimes(ctx context.Context, since string) ([]time.Duration, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT created_at, decision_time FROM validation_queue
WHERE created_at>=? AND status!='pending' AND decision_time IS NOT NULL`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []time.Duration
	for rows.Next() {
		var created, decided string
		if err := rows.Scan(&created, &decided); err != nil {
			return nil, err
		}
		c, err1 := time.Parse(time.RFC3339, created)
		d, err2 := time.Parse(time.RFC3339, decided)
		if err1 != nil || err2 != nil {
			continue
		}
		res = append(res, d.Sub(c))
	}
	return res, rows.Err()
}

// TopImpact returns up to limit requests created at or after since, largest
// estimated impact first.
func (r Repo) TopImpact(ctx context.Context, since string, limit int) ([]domain.ValidationRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+validationColumns+` FROM validation_queue
WHERE created_at>=? ORDER BY estimated_impact DESC, created_at ASC, rowid ASC LIMIT ?`, since, limit)
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

type BotSubmissions struct {
	BotID string `json:"bot_id"`
	Count int    `json:"submissions"`
}

// SubmissionsByBot counts requests per initiator, busiest first.
func (r Repo) SubmissionsByBot(ctx context.Context, since string) ([]BotSubmissions, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT initiator_bot, COUNT(*) AS n FROM validation_queue
WHERE created_at>=? GROUP BY initiator_bot ORDER BY n DESC, initiator_bot ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []BotSubmissions
	for rows.Next() {
		var b BotSubmissions
		if err := rows.Scan(&b.BotID, &b.Count); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
