package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"guardrails/internal/domain"
)

// HumanSupervisor is the actor recorded for reviewer decisions.
const HumanSupervisor = "human-supervisor"

// Writer appends audit entries inside the caller's transaction so the entry
// commits or rolls back together with the state change it describes.
type Writer struct {
	Now func() time.Time
}

type Context map[string]any

// Entry is the input for Append.
type Entry struct {
	Actor      string
	Action     string
	Outcome    domain.Outcome
	Message    string
	EntityKind string
	EntityID   string
	Context    Context
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if e.Actor == "" {
		return 0, fmt.Errorf("audit actor required")
	}
	if e.Outcome == "" {
		e.Outcome = domain.OutcomeSuccess
	}
	if e.Context == nil {
		e.Context = Context{}
	}
	data, err := json.Marshal(e.Context)
	if err != nil {
		return 0, fmt.Errorf("marshal audit context: %w", err)
	}
	ts := now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_log(ts,actor,action,outcome,message,entity_kind,entity_id,context_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, e.Actor, e.Action, string(e.Outcome), e.Message, nullable(e.EntityKind), nullable(e.EntityID), string(data))
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
