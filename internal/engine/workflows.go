package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"guardrails/internal/audit"
	"guardrails/internal/domain"
	"guardrails/internal/notify"
	"guardrails/internal/repo"
)

// DefaultInitiator is recorded when a workflow request names no initiator.
const DefaultInitiator = "coordinator-bot"

const (
	reportActivityWindow = 24 * time.Hour
	reportActivityLimit  = 50
	defaultWorkflowLimit = 20
)

const escalationSchemaURL = "https://guardrails.schemas.local/workflow/emergency_escalation.schema.json"

const escalationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["severity", "issue_type", "description"],
  "properties": {
    "severity": {"enum": ["critical", "high", "medium", "low"]},
    "issue_type": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1}
  }
}`

var compileEscalationSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(escalationSchemaURL, strings.NewReader(escalationSchema)); err != nil {
		return nil, fmt.Errorf("escalation schema load failed: %w", err)
	}
	return c.Compile(escalationSchemaURL)
})

type WorkflowInput struct {
	Type         string
	InitiatorBot string
	// InvolvedBots defaults to every registered bot for snapshot workflows.
	InvolvedBots []string
	WorkflowData json.RawMessage
}

func cleanBotIDs(ids []string) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, InvalidPayloadError{Field: "involved_bots", Reason: "bot ids must be non-empty"}
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// StartWorkflow creates a coordination workflow. Standups, status syncs and
// squad reports are point-in-time snapshots that complete immediately.
// Emergency escalations are created escalated and are never closed here.
func (e Engine) StartWorkflow(ctx context.Context, in WorkflowInput) (domain.CoordinationWorkflow, error) {
	wt, err := domain.ParseWorkflowType(in.Type)
	if err != nil {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "workflow_type", Reason: err.Error()}
	}
	initiator := strings.TrimSpace(in.InitiatorBot)
	if initiator == "" {
		initiator = DefaultInitiator
	}
	data, err := normalizeJSON(in.WorkflowData, "workflow_data", "{}")
	if err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	involved, err := cleanBotIDs(in.InvolvedBots)
	if err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	if wt == domain.WorkflowEmergencyEscalation {
		return e.escalate(ctx, initiator, involved, data)
	}
	if len(involved) == 0 {
		bots, err := e.Repo.ListBots(ctx)
		if err != nil {
			return domain.CoordinationWorkflow{}, err
		}
		for _, b := range bots {
			involved = append(involved, b.BotID)
		}
	}
	if len(involved) == 0 {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "involved_bots", Reason: "must be non-empty (no bots registered)"}
	}
	return e.snapshot(ctx, wt, initiator, involved, data)
}

type squadSnapshot struct {
	bots         []domain.Bot
	missing      []string
	pendingByBot map[string]int
	pending      int
	highImpact   int
	recent       []domain.AuditLogEntry
}

func (e Engine) gatherSnapshot(ctx context.Context, involved []string, withActivity bool) (squadSnapshot, error) {
	var snap squadSnapshot
	var all []domain.Bot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = e.Repo.ListBots(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.pendingByBot, err = e.Repo.CountPendingByBot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.pending, snap.highImpact, err = e.Repo.CountPending(gctx, e.Config.Queue.AdvisoryImpactThreshold)
		return err
	})
	if withActivity {
		since := e.now().Add(-reportActivityWindow).UTC().Format(time.RFC3339)
		g.Go(func() error {
			var err error
			snap.recent, err = e.Repo.LatestAudit(gctx, repo.AuditFilters{Since: since, Limit: reportActivityLimit})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return snap, err
	}
	byID := make(map[string]domain.Bot, len(all))
	for _, b := range all {
		byID[b.BotID] = b
	}
	for _, id := range involved {
		if b, ok := byID[id]; ok {
			snap.bots = append(snap.bots, b)
		} else {
			snap.missing = append(snap.missing, id)
		}
	}
	return snap, nil
}

type queueSummary struct {
	Pending           int `json:"pending"`
	HighImpactPending int `json:"high_impact_pending"`
}

type standupBot struct {
	BotID              string           `json:"bot_id"`
	Name               string           `json:"name"`
	Status             domain.BotStatus `json:"status"`
	Health             int              `json:"health"`
	ActiveTasks        int              `json:"active_tasks"`
	PendingValidations int              `json:"pending_validations"`
	LastActivity       string           `json:"last_activity"`
}

type standupData struct {
	Timestamp    string          `json:"timestamp"`
	Participants int             `json:"participants"`
	BotsStatus   []standupBot    `json:"bots_status"`
	MissingBots  []string        `json:"missing_bots,omitempty"`
	Queue        queueSummary    `json:"queue"`
	Request      json.RawMessage `json:"request,omitempty"`
}

type syncResult struct {
	BotID      string `json:"bot_id"`
	Name       string `json:"name,omitempty"`
	SyncStatus string `json:"sync_status"`
	LastSync   string `json:"last_sync,omitempty"`
}

type syncData struct {
	Timestamp   string          `json:"timestamp"`
	SyncResults []syncResult    `json:"sync_results"`
	Request     json.RawMessage `json:"request,omitempty"`
}

type squadOverview struct {
	TotalBots           int `json:"total_bots"`
	ActiveBots          int `json:"active_bots"`
	AvgHealth           int `json:"avg_health"`
	TotalActiveTasks    int `json:"total_active_tasks"`
	TotalCompletedTasks int `json:"total_completed_tasks"`
}

type botPerformance struct {
	BotID        string           `json:"bot_id"`
	Name         string           `json:"name"`
	Status       domain.BotStatus `json:"status"`
	Health       int              `json:"health"`
	Efficiency   int              `json:"efficiency"`
	LastActivity string           `json:"last_activity"`
}

type activityItem struct {
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Outcome   domain.Outcome `json:"outcome"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
}

type reportData struct {
	GeneratedAt     string           `json:"generated_at"`
	SquadOverview   squadOverview    `json:"squad_overview"`
	BotsPerformance []botPerformance `json:"bots_performance"`
	ValidationQueue queueSummary     `json:"validation_queue"`
	RecentActivity  []activityItem   `json:"recent_activity"`
	MissingBots     []string         `json:"missing_bots,omitempty"`
	Request         json.RawMessage  `json:"request,omitempty"`
}

// efficiency is completed work as a share of all assigned work, in percent.
func efficiency(b domain.Bot) int {
	total := b.TasksCompleted + b.TasksActive
	if b.TasksCompleted == 0 || total == 0 {
		return 0
	}
	return int(float64(b.TasksCompleted)/float64(total)*100 + 0.5)
}

func requestData(raw json.RawMessage) json.RawMessage {
	switch strings.TrimSpace(string(raw)) {
	case "", "{}", "null":
		return nil
	}
	return raw
}

type workflowPlan struct {
	data      any
	entries   []domain.CommunicationEntry
	action    string
	message   string
	eventType string
	payload   map[string]any
}

func (e Engine) snapshot(ctx context.Context, wt domain.WorkflowType, initiator string, involved []string, request json.RawMessage) (domain.CoordinationWorkflow, error) {
	now := e.timestamp()
	wf := domain.CoordinationWorkflow{
		ID:           uuid.NewString(),
		WorkflowType: wt,
		InitiatorBot: initiator,
		InvolvedBots: involved,
		Status:       domain.WorkflowCompleted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	snap, err := e.gatherSnapshot(ctx, involved, wt == domain.WorkflowSquadReport)
	if err != nil {
		return e.failWorkflow(ctx, wf, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	defer tx.Rollback()

	var plan workflowPlan
	switch wt {
	case domain.WorkflowDailyStandup:
		plan = planStandup(wf, snap, now, request)
	case domain.WorkflowStatusSync:
		if _, err := e.Repo.TouchBotsTx(ctx, tx, involved, now); err != nil {
			return domain.CoordinationWorkflow{}, fmt.Errorf("touch bots: %w", err)
		}
		plan = planSync(wf, snap, now, request)
	case domain.WorkflowSquadReport:
		plan = planReport(wf, snap, now, request)
	case domain.WorkflowEmergencyEscalation:
		return domain.CoordinationWorkflow{}, fmt.Errorf("emergency escalation is not a snapshot workflow")
	}
	if wf.WorkflowData, err = json.Marshal(plan.data); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	if err := e.Repo.InsertWorkflowTx(ctx, tx, wf); err != nil {
		return domain.CoordinationWorkflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	if wf.CommunicationLog, err = e.appendEntries(ctx, tx, wf.ID, plan.entries); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      initiator,
		Action:     plan.action,
		Message:    plan.message,
		EntityKind: "workflow",
		EntityID:   wf.ID,
		Context:    audit.Context{"workflow_id": wf.ID, "workflow_type": string(wt), "participants": len(involved)},
	}); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	e.metrics().Workflow(ctx, string(wt), string(wf.Status))
	plan.payload["workflow_id"] = wf.ID
	e.publish(notify.Event{Type: plan.eventType, Payload: plan.payload})
	return wf, nil
}

func planStandup(wf domain.CoordinationWorkflow, snap squadSnapshot, now string, request json.RawMessage) workflowPlan {
	data := standupData{
		Timestamp:    now,
		Participants: len(snap.bots),
		BotsStatus:   make([]standupBot, 0, len(snap.bots)),
		MissingBots:  snap.missing,
		Queue:        queueSummary{Pending: snap.pending, HighImpactPending: snap.highImpact},
		Request:      requestData(request),
	}
	var entries []domain.CommunicationEntry
	for _, b := range snap.bots {
		sb := standupBot{
			BotID:              b.BotID,
			Name:               b.Name,
			Status:             b.Status,
			Health:             b.Health,
			ActiveTasks:        b.TasksActive,
			PendingValidations: snap.pendingByBot[b.BotID],
			LastActivity:       b.LastActivity,
		}
		data.BotsStatus = append(data.BotsStatus, sb)
		raw, _ := json.Marshal(sb)
		entries = append(entries, domain.CommunicationEntry{
			BotID:   b.BotID,
			Kind:    "standup_report",
			Message: fmt.Sprintf("%s: %s, health %d, %d active tasks", b.Name, b.Status, b.Health, b.TasksActive),
			Data:    raw,
			TS:      now,
		})
	}
	return workflowPlan{
		data:      data,
		entries:   entries,
		action:    "daily_standup_executed",
		message:   fmt.Sprintf("Daily standup completed with %d bots", len(snap.bots)),
		eventType: notify.EventStandupCompleted,
		payload:   map[string]any{"summary": data},
	}
}

func planSync(wf domain.CoordinationWorkflow, snap squadSnapshot, now string, request json.RawMessage) workflowPlan {
	data := syncData{Timestamp: now, Request: requestData(request)}
	var entries []domain.CommunicationEntry
	for _, b := range snap.bots {
		data.SyncResults = append(data.SyncResults, syncResult{BotID: b.BotID, Name: b.Name, SyncStatus: "success", LastSync: now})
		entries = append(entries, domain.CommunicationEntry{BotID: b.BotID, Kind: "status_synced", Message: "sync success", TS: now})
	}
	for _, id := range snap.missing {
		data.SyncResults = append(data.SyncResults, syncResult{BotID: id, SyncStatus: "not_registered"})
		entries = append(entries, domain.CommunicationEntry{BotID: id, Kind: "status_synced", Message: "bot not registered", TS: now})
	}
	return workflowPlan{
		data:      data,
		entries:   entries,
		action:    "status_sync_completed",
		message:   fmt.Sprintf("Status sync completed for %d bots", len(snap.bots)),
		eventType: notify.EventStatusSynced,
		payload:   map[string]any{"results": data.SyncResults},
	}
}

func planReport(wf domain.CoordinationWorkflow, snap squadSnapshot, now string, request json.RawMessage) workflowPlan {
	data := reportData{
		GeneratedAt:     now,
		BotsPerformance: make([]botPerformance, 0, len(snap.bots)),
		ValidationQueue: queueSummary{Pending: snap.pending, HighImpactPending: snap.highImpact},
		RecentActivity:  make([]activityItem, 0, len(snap.recent)),
		MissingBots:     snap.missing,
		Request:         requestData(request),
	}
	healthSum := 0
	for _, b := range snap.bots {
		data.SquadOverview.TotalBots++
		if b.Status == domain.BotActive {
			data.SquadOverview.ActiveBots++
		}
		healthSum += b.Health
		data.SquadOverview.TotalActiveTasks += b.TasksActive
		data.SquadOverview.TotalCompletedTasks += b.TasksCompleted
		data.BotsPerformance = append(data.BotsPerformance, botPerformance{
			BotID:        b.BotID,
			Name:         b.Name,
			Status:       b.Status,
			Health:       b.Health,
			Efficiency:   efficiency(b),
			LastActivity: b.LastActivity,
		})
	}
	if n := len(snap.bots); n > 0 {
		data.SquadOverview.AvgHealth = int(float64(healthSum)/float64(n) + 0.5)
	}
	for _, a := range snap.recent {
		data.RecentActivity = append(data.RecentActivity, activityItem{
			Actor: a.Actor, Action: a.Action, Outcome: a.Outcome, Message: a.Message, Timestamp: a.Timestamp,
		})
	}
	entries := []domain.CommunicationEntry{{
		BotID:   wf.InitiatorBot,
		Kind:    "report_generated",
		Message: fmt.Sprintf("Squad report covering %d bots", len(snap.bots)),
		TS:      now,
	}}
	return workflowPlan{
		data:      data,
		entries:   entries,
		action:    "squad_report_generated",
		message:   "Squad performance report generated",
		eventType: notify.EventReportGenerated,
		payload:   map[string]any{"report": data},
	}
}

// failWorkflow records a snapshot that could not be gathered. The returned
// error always carries cause.
func (e Engine) failWorkflow(ctx context.Context, wf domain.CoordinationWorkflow, cause error) (domain.CoordinationWorkflow, error) {
	wrapped := fmt.Errorf("%s snapshot: %w", wf.WorkflowType, cause)
	wf.Status = domain.WorkflowFailed
	wf.WorkflowData, _ = json.Marshal(map[string]string{"error": cause.Error()})
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return wf, errors.Join(wrapped, err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkflowTx(ctx, tx, wf); err != nil {
		return wf, errors.Join(wrapped, err)
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      wf.InitiatorBot,
		Action:     string(wf.WorkflowType) + "_failed",
		Outcome:    domain.OutcomeError,
		Message:    fmt.Sprintf("Workflow %s failed: %v", wf.WorkflowType, cause),
		EntityKind: "workflow",
		EntityID:   wf.ID,
		Context:    audit.Context{"workflow_id": wf.ID, "error": cause.Error()},
	}); err != nil {
		return wf, errors.Join(wrapped, err)
	}
	if err := tx.Commit(); err != nil {
		return wf, errors.Join(wrapped, err)
	}
	e.metrics().Workflow(ctx, string(wf.WorkflowType), string(wf.Status))
	e.publish(notify.Event{
		Type:    notify.EventWorkflowFailed,
		Payload: map[string]any{"workflow_id": wf.ID, "workflow_type": string(wf.WorkflowType), "error": cause.Error()},
	})
	return wf, wrapped
}

func (e Engine) escalate(ctx context.Context, initiator string, involved []string, raw json.RawMessage) (domain.CoordinationWorkflow, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "workflow_data", Reason: "must be a JSON object"}
	}
	sevRaw, _ := data["severity"].(string)
	if sevRaw == "" {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "severity", Reason: "required for emergency_escalation"}
	}
	severity, err := domain.ParseSeverity(sevRaw)
	if err != nil {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "severity", Reason: err.Error()}
	}
	schema, err := compileEscalationSchema()
	if err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	if err := schema.Validate(data); err != nil {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "workflow_data", Reason: err.Error()}
	}
	if len(involved) == 0 {
		return domain.CoordinationWorkflow{}, InvalidPayloadError{Field: "involved_bots", Reason: "affected bots must be non-empty"}
	}
	critical := severity == domain.SeverityCritical
	now := e.timestamp()
	data["timestamp"] = now
	data["affected_bots"] = involved
	data["escalated_to"] = "human_supervision"
	data["status"] = string(domain.WorkflowEscalated)
	issueType, _ := data["issue_type"].(string)
	description, _ := data["description"].(string)

	wf := domain.CoordinationWorkflow{
		ID:           uuid.NewString(),
		WorkflowType: domain.WorkflowEmergencyEscalation,
		InitiatorBot: initiator,
		InvolvedBots: involved,
		Status:       domain.WorkflowEscalated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if wf.WorkflowData, err = json.Marshal(data); err != nil {
		return domain.CoordinationWorkflow{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkflowTx(ctx, tx, wf); err != nil {
		return domain.CoordinationWorkflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	if wf.CommunicationLog, err = e.appendEntries(ctx, tx, wf.ID, []domain.CommunicationEntry{{
		BotID:   initiator,
		Kind:    "escalated",
		Message: fmt.Sprintf("%s (%s): %s", issueType, severity, description),
		TS:      now,
	}}); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	outcome := domain.OutcomeWarning
	if critical {
		outcome = domain.OutcomeError
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      initiator,
		Action:     "emergency_escalation",
		Outcome:    outcome,
		Message:    fmt.Sprintf("Emergency escalated: %s - %s", issueType, description),
		EntityKind: "workflow",
		EntityID:   wf.ID,
		Context: audit.Context{
			"workflow_id":           wf.ID,
			"severity":              string(severity),
			"affected_bots":         involved,
			"requires_human_action": true,
		},
	}); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CoordinationWorkflow{}, err
	}
	e.metrics().Workflow(ctx, string(wf.WorkflowType), string(wf.Status))
	e.publish(notify.Event{
		Type: notify.EventEmergencyEscalated,
		Payload: map[string]any{
			"workflow_id":                  wf.ID,
			"severity":                     string(severity),
			"escalation":                   json.RawMessage(wf.WorkflowData),
			"requires_immediate_attention": critical,
		},
	})
	return wf, nil
}

func (e Engine) appendEntries(ctx context.Context, tx *sql.Tx, workflowID string, entries []domain.CommunicationEntry) ([]domain.CommunicationEntry, error) {
	out := make([]domain.CommunicationEntry, 0, len(entries))
	for _, entry := range entries {
		stored, err := e.Repo.AppendCommunicationTx(ctx, tx, workflowID, entry)
		if err != nil {
			return nil, fmt.Errorf("append communication: %w", err)
		}
		out = append(out, stored)
	}
	return out, nil
}

type MessageInput struct {
	WorkflowID string
	BotID      string
	Kind       string
	Message    string
	Data       json.RawMessage
}

// AppendCommunication adds a participant event to a workflow's log. The
// workflow's status is never changed.
func (e Engine) AppendCommunication(ctx context.Context, in MessageInput) (domain.CommunicationEntry, error) {
	if strings.TrimSpace(in.WorkflowID) == "" {
		return domain.CommunicationEntry{}, InvalidPayloadError{Field: "workflow_id", Reason: "required"}
	}
	botID := strings.TrimSpace(in.BotID)
	if botID == "" {
		return domain.CommunicationEntry{}, InvalidPayloadError{Field: "bot_id", Reason: "required"}
	}
	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = "message"
	}
	if strings.TrimSpace(in.Message) == "" && len(in.Data) == 0 {
		return domain.CommunicationEntry{}, InvalidPayloadError{Field: "message", Reason: "message or data required"}
	}
	var data json.RawMessage
	if len(in.Data) > 0 {
		var err error
		if data, err = normalizeJSON(in.Data, "data", ""); err != nil {
			return domain.CommunicationEntry{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CommunicationEntry{}, err
	}
	defer tx.Rollback()
	wf, err := e.Repo.GetWorkflowTx(ctx, tx, in.WorkflowID)
	if err != nil {
		return domain.CommunicationEntry{}, wrapNotFound(err, "workflow", in.WorkflowID)
	}
	participant := false
	for _, id := range wf.InvolvedBots {
		if id == botID {
			participant = true
			break
		}
	}
	if !participant {
		return domain.CommunicationEntry{}, InvalidPayloadError{Field: "bot_id", Reason: fmt.Sprintf("%s is not involved in workflow %s", botID, wf.ID)}
	}
	entry, err := e.Repo.AppendCommunicationTx(ctx, tx, wf.ID, domain.CommunicationEntry{
		BotID:   botID,
		Kind:    kind,
		Message: in.Message,
		Data:    data,
		TS:      e.timestamp(),
	})
	if err != nil {
		return domain.CommunicationEntry{}, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      botID,
		Action:     "workflow_message",
		Message:    fmt.Sprintf("%s posted %s to %s", botID, kind, wf.WorkflowType),
		EntityKind: "workflow",
		EntityID:   wf.ID,
		Context:    audit.Context{"workflow_id": wf.ID, "kind": kind, "seq": entry.Seq},
	}); err != nil {
		return domain.CommunicationEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CommunicationEntry{}, err
	}
	e.publish(notify.Event{
		Type:    notify.EventWorkflowMessage,
		Payload: map[string]any{"workflow_id": wf.ID, "bot_id": botID, "kind": kind, "message": in.Message, "seq": entry.Seq},
	})
	return entry, nil
}

type WorkflowFilter struct {
	Type   string
	Status string
	Limit  int
}

func (e Engine) ListWorkflows(ctx context.Context, f WorkflowFilter) ([]domain.CoordinationWorkflow, error) {
	var filters repo.WorkflowFilters
	if f.Type != "" {
		wt, err := domain.ParseWorkflowType(f.Type)
		if err != nil {
			return nil, InvalidPayloadError{Field: "type", Reason: err.Error()}
		}
		filters.Type = wt
	}
	if f.Status != "" {
		ws, err := domain.ParseWorkflowStatus(f.Status)
		if err != nil {
			return nil, InvalidPayloadError{Field: "status", Reason: err.Error()}
		}
		filters.Status = ws
	}
	filters.Limit = f.Limit
	if filters.Limit <= 0 {
		filters.Limit = defaultWorkflowLimit
	}
	if filters.Limit > maxListLimit {
		filters.Limit = maxListLimit
	}
	return e.Repo.ListWorkflows(ctx, filters)
}

func (e Engine) GetWorkflow(ctx context.Context, id string) (domain.CoordinationWorkflow, error) {
	wf, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return wf, wrapNotFound(err, "workflow", id)
	}
	return wf, nil
}
