package repo

import (
	"context"
	"database/sql"

	"guardrails/internal/domain"
)

const botColumns = `bot_id, name, COALESCE(role,''), status, health, tasks_active, tasks_completed, last_activity, created_at`

func scanBot(row rowScanner) (domain.Bot, error) {
	var b domain.Bot
	err := row.Scan(&b.BotID, &b.Name, &b.Role, &b.Status, &b.Health, &b.TasksActive, &b.TasksCompleted, &b.LastActivity, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

// UpsertBotTx registers a bot or refreshes its name and role. Counters and
// status of an existing entry are kept.
func (r Repo) UpsertBotTx(ctx context.Context, tx *sql.Tx, b domain.Bot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bots(bot_id, name, role, status, health, tasks_active, tasks_completed, last_activity, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(bot_id) DO UPDATE SET name=excluded.name, role=excluded.role, last_activity=excluded.last_activity`,
		b.BotID, b.Name, nullable(b.Role), string(b.Status), b.Health, b.TasksActive, b.TasksCompleted, b.LastActivity, b.CreatedAt)
	return err
}

func (r Repo) GetBotTx(ctx context.Context, tx *sql.Tx, botID string) (domain.Bot, error) {
	return scanBot(tx.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE bot_id=?`, botID))
}

func (r Repo) ListBots(ctx context.Context) ([]domain.Bot, error) {
	return r.listBots(ctx, r.DB)
}

func (r Repo) ListBotsTx(ctx context.Context, tx *sql.Tx) ([]domain.Bot, error) {
	return r.listBots(ctx, tx)
}

func (r Repo) listBots(ctx context.Context, q querier) ([]domain.Bot, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY bot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) SetBotStatusTx(ctx context.Context, tx *sql.Tx, botID string, status domain.BotStatus, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bots SET status=?, last_activity=? WHERE bot_id=?`, string(status), ts, botID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchBotsTx stamps last_activity on the given bots and returns how many exist.
func (r Repo) TouchBotsTx(ctx context.Context, tx *sql.Tx, botIDs []string, ts string) (int, error) {
	touched := 0
	for _, id := range botIDs {
		res, err := tx.ExecContext(ctx, `UPDATE bots SET last_activity=? WHERE bot_id=?`, ts, id)
		if err != nil {
			return touched, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return touched, err
		}
		touched += int(n)
	}
	return touched, nil
}
