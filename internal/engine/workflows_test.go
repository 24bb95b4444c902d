package engine_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"guardrails/internal/domain"
	"guardrails/internal/engine"
	"guardrails/internal/notify"
	"guardrails/internal/repo"
)

func repoFilterFor(validationID string) repo.AuditFilters {
	return repo.AuditFilters{EntityKind: "validation", EntityID: validationID}
}

func (env testEnv) registerBots(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := env.Engine.RegisterBot(env.Ctx, engine.BotInput{BotID: id, Name: id + " name", Role: "worker"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
}

func TestConcurrentDecideHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	res := env.submit(t, engine.SubmitInput{EstimatedImpact: 80})
	decisions := []string{"approved", "rejected", "modified", "approved", "rejected", "modified", "approved", "rejected"}

	var wg sync.WaitGroup
	errs := make([]error, len(decisions))
	for i, d := range decisions {
		wg.Add(1)
		go func(i int, d string) {
			defer wg.Done()
			_, errs[i] = env.Engine.Decide(env.Ctx, engine.DecideInput{ID: res.Validation.ID, Decision: d})
		}(i, d)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatalf("calls %d and %d both succeeded", winner, i)
			}
			winner = i
		case engine.IsAlreadyDecided(err):
		default:
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	if winner == -1 {
		t.Fatalf("no decision succeeded")
	}
	got, err := env.Engine.GetValidation(env.Ctx, res.Validation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Status) != decisions[winner] {
		t.Fatalf("status = %s, winning decision was %s", got.Status, decisions[winner])
	}
	n, err := env.Engine.Repo.CountAudit(env.Ctx, "validation", res.Validation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected exactly one decision audit entry, got %d total", n)
	}
}

func TestAttachAnalysisLeavesStatusAndPriority(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Hub.Subscribe(notify.EventAdvisoryCompleted)
	res := env.submit(t, engine.SubmitInput{EstimatedImpact: 700, UrgencyLevel: 40})

	before, err := env.Engine.AttachAnalysis(env.Ctx, engine.AnalysisInput{ValidationID: res.Validation.ID, AnalysisType: "risk_assessment"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if before.Confidence <= 0 || before.Recommendation == "" {
		t.Fatalf("empty analysis: %#v", before)
	}
	got, err := env.Engine.GetValidation(env.Ctx, res.Validation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending || got.Priority != res.Validation.Priority {
		t.Fatalf("analysis changed status/priority: %s/%d", got.Status, got.Priority)
	}
	if got.AdvisoryAnalysis == nil || got.AdvisoryAnalysis.AnalysisType != "risk_assessment" {
		t.Fatalf("analysis not stored: %#v", got.AdvisoryAnalysis)
	}
	ev := expectEvent(t, sub)
	if ev.Payload["validation_id"] != res.Validation.ID {
		t.Fatalf("unexpected event payload: %#v", ev.Payload)
	}

	if _, err := env.Engine.Decide(env.Ctx, engine.DecideInput{ID: res.Validation.ID, Decision: "approved"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachAnalysis(env.Ctx, engine.AnalysisInput{
		ValidationID: res.Validation.ID,
		AnalysisType: "strategic",
		Context:      json.RawMessage(`{"market":"emea"}`),
	}); err != nil {
		t.Fatalf("attach after decision: %v", err)
	}
	got, err = env.Engine.GetValidation(env.Ctx, res.Validation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusApproved || got.Priority != res.Validation.Priority {
		t.Fatalf("analysis after decision changed status/priority: %s/%d", got.Status, got.Priority)
	}
	if got.AdvisoryAnalysis.AnalysisType != "strategic" {
		t.Fatalf("later analysis should replace the earlier one")
	}
	entries, err := env.Engine.Repo.LatestAudit(env.Ctx, repo.AuditFilters{Action: "analysis_completed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Actor != engine.AdvisoryActor {
		t.Fatalf("expected two analysis audit entries, got %#v", entries)
	}
}

func TestAttachAnalysisErrors(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AttachAnalysis(env.Ctx, engine.AnalysisInput{ValidationID: "ghost", AnalysisType: "strategic"}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.AttachAnalysis(env.Ctx, engine.AnalysisInput{ValidationID: "ghost"}); !engine.IsInvalidPayload(err) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestEscalationRequiresSeverity(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{
		Type:         "emergency_escalation",
		InvolvedBots: []string{"sales-bot"},
		WorkflowData: json.RawMessage(`{"issue_type":"outage","description":"crm down"}`),
	})
	var ip engine.InvalidPayloadError
	if !errors.As(err, &ip) || ip.Field != "severity" {
		t.Fatalf("expected invalid severity, got %v", err)
	}
	_, err = env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{
		Type:         "emergency_escalation",
		InvolvedBots: []string{"sales-bot"},
		WorkflowData: json.RawMessage(`{"severity":"critical","description":"crm down"}`),
	})
	if !engine.IsInvalidPayload(err) {
		t.Fatalf("missing issue_type should fail schema validation: %v", err)
	}
	_, err = env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{
		Type:         "emergency_escalation",
		WorkflowData: json.RawMessage(`{"severity":"high","issue_type":"outage","description":"crm down"}`),
	})
	if !engine.IsInvalidPayload(err) {
		t.Fatalf("escalation without affected bots should fail: %v", err)
	}
	list, err := env.Engine.ListWorkflows(env.Ctx, engine.WorkflowFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected escalations must not be stored")
	}
}

func TestEscalationStaysEscalated(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Hub.Subscribe(notify.EventEmergencyEscalated)
	wf, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{
		Type:         "emergency_escalation",
		InitiatorBot: "ops-bot",
		InvolvedBots: []string{"sales-bot", "support-bot"},
		WorkflowData: json.RawMessage(`{"severity":"critical","issue_type":"outage","description":"crm down"}`),
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if wf.Status != domain.WorkflowEscalated {
		t.Fatalf("status = %s", wf.Status)
	}
	ev := expectEvent(t, sub)
	if ev.Payload["requires_immediate_attention"] != true || ev.Payload["severity"] != "critical" {
		t.Fatalf("unexpected escalation event: %#v", ev.Payload)
	}

	if _, err := env.Engine.AppendCommunication(env.Ctx, engine.MessageInput{WorkflowID: wf.ID, BotID: "support-bot", Message: "investigating"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := env.Engine.GetWorkflow(env.Ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.WorkflowEscalated {
		t.Fatalf("escalation transitioned to %s", got.Status)
	}
	if len(got.CommunicationLog) != 2 || got.CommunicationLog[1].Seq <= got.CommunicationLog[0].Seq {
		t.Fatalf("unexpected communication log: %#v", got.CommunicationLog)
	}
	var data map[string]any
	if err := json.Unmarshal(got.WorkflowData, &data); err != nil {
		t.Fatal(err)
	}
	if data["escalated_to"] != "human_supervision" || data["status"] != "escalated" {
		t.Fatalf("unexpected escalation data: %#v", data)
	}
	entries, err := env.Engine.Repo.LatestAudit(env.Ctx, repo.AuditFilters{Action: "emergency_escalation"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeError {
		t.Fatalf("critical escalation should audit as error: %#v", entries)
	}
}

func TestAppendCommunicationRules(t *testing.T) {
	env := newTestEnv(t)
	env.registerBots(t, "sales-bot")
	wf, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "daily_standup"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AppendCommunication(env.Ctx, engine.MessageInput{WorkflowID: wf.ID, BotID: "stranger", Message: "hi"})
	if !engine.IsInvalidPayload(err) {
		t.Fatalf("non participant should be rejected: %v", err)
	}
	_, err = env.Engine.AppendCommunication(env.Ctx, engine.MessageInput{WorkflowID: "ghost", BotID: "sales-bot", Message: "hi"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	entry, err := env.Engine.AppendCommunication(env.Ctx, engine.MessageInput{WorkflowID: wf.ID, BotID: "sales-bot", Data: json.RawMessage(`{"blocked":false}`)})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != "message" || string(entry.Data) != `{"blocked":false}` {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	got, err := env.Engine.GetWorkflow(env.Ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.WorkflowCompleted {
		t.Fatalf("messages must not change status, got %s", got.Status)
	}
}

func TestDailyStandupSnapshot(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Hub.Subscribe(notify.EventStandupCompleted)
	env.registerBots(t, "sales-bot", "support-bot")
	env.submit(t, engine.SubmitInput{InitiatorBot: "sales-bot", EstimatedImpact: 900})
	env.submit(t, engine.SubmitInput{InitiatorBot: "sales-bot", EstimatedImpact: 10})

	wf, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "daily_standup", InvolvedBots: []string{"sales-bot", "ghost-bot"}})
	if err != nil {
		t.Fatalf("standup: %v", err)
	}
	if wf.Status != domain.WorkflowCompleted || wf.InitiatorBot != engine.DefaultInitiator {
		t.Fatalf("unexpected workflow: %#v", wf)
	}
	var data struct {
		Participants int `json:"participants"`
		BotsStatus   []struct {
			BotID              string `json:"bot_id"`
			PendingValidations int    `json:"pending_validations"`
		} `json:"bots_status"`
		MissingBots []string `json:"missing_bots"`
		Queue       struct {
			Pending           int `json:"pending"`
			HighImpactPending int `json:"high_impact_pending"`
		} `json:"queue"`
	}
	if err := json.Unmarshal(wf.WorkflowData, &data); err != nil {
		t.Fatal(err)
	}
	if data.Participants != 1 || data.BotsStatus[0].PendingValidations != 2 {
		t.Fatalf("unexpected standup data: %s", wf.WorkflowData)
	}
	if len(data.MissingBots) != 1 || data.MissingBots[0] != "ghost-bot" {
		t.Fatalf("missing bots not reported: %s", wf.WorkflowData)
	}
	if data.Queue.Pending != 2 || data.Queue.HighImpactPending != 1 {
		t.Fatalf("queue summary wrong: %s", wf.WorkflowData)
	}
	if len(wf.CommunicationLog) != 1 || wf.CommunicationLog[0].Kind != "standup_report" {
		t.Fatalf("unexpected log: %#v", wf.CommunicationLog)
	}
	ev := expectEvent(t, sub)
	if ev.Payload["workflow_id"] != wf.ID {
		t.Fatalf("unexpected event: %#v", ev.Payload)
	}
}

func TestSnapshotDefaultsToAllBots(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "squad_report"})
	if !engine.IsInvalidPayload(err) {
		t.Fatalf("no bots registered should be invalid: %v", err)
	}
	env.registerBots(t, "a-bot", "b-bot")
	wf, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "squad_report", InitiatorBot: "lead-bot"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(wf.InvolvedBots) != 2 {
		t.Fatalf("involved = %v", wf.InvolvedBots)
	}
	var data struct {
		SquadOverview struct {
			TotalBots  int `json:"total_bots"`
			ActiveBots int `json:"active_bots"`
			AvgHealth  int `json:"avg_health"`
		} `json:"squad_overview"`
		RecentActivity []struct {
			Action string `json:"action"`
		} `json:"recent_activity"`
	}
	if err := json.Unmarshal(wf.WorkflowData, &data); err != nil {
		t.Fatal(err)
	}
	if data.SquadOverview.TotalBots != 2 || data.SquadOverview.ActiveBots != 2 || data.SquadOverview.AvgHealth != 95 {
		t.Fatalf("unexpected overview: %s", wf.WorkflowData)
	}
	if len(data.RecentActivity) != 2 || data.RecentActivity[0].Action != "bot_registered" {
		t.Fatalf("unexpected recent activity: %s", wf.WorkflowData)
	}
}

func TestStatusSyncTouchesBots(t *testing.T) {
	env := newTestEnv(t)
	env.registerBots(t, "sales-bot", "support-bot")
	env.advance(10 * time.Minute)
	wf, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "status_sync", InvolvedBots: []string{"sales-bot"}})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if wf.Status != domain.WorkflowCompleted {
		t.Fatalf("status = %s", wf.Status)
	}
	bots, err := env.Engine.ListBots(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	last := map[string]string{}
	for _, b := range bots {
		last[b.BotID] = b.LastActivity
	}
	if last["sales-bot"] != "2024-01-01T00:10:00Z" || last["support-bot"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected last activity: %v", last)
	}
}

func TestSnapshotFailureRecordsFailedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Hub.Subscribe(notify.EventWorkflowFailed)
	if _, err := env.Engine.DB.Exec(`DROP TABLE bots`); err != nil {
		t.Fatal(err)
	}
	wf, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "daily_standup", InvolvedBots: []string{"sales-bot"}})
	if err == nil {
		t.Fatalf("expected snapshot failure")
	}
	if wf.Status != domain.WorkflowFailed {
		t.Fatalf("status = %s", wf.Status)
	}
	stored, err := env.Engine.GetWorkflow(env.Ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.WorkflowFailed {
		t.Fatalf("stored status = %s", stored.Status)
	}
	expectEvent(t, sub)
	entries, err := env.Engine.Repo.LatestAudit(env.Ctx, repo.AuditFilters{Action: "daily_standup_failed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeError {
		t.Fatalf("expected one error audit entry, got %#v", entries)
	}
}

func TestListWorkflowsFilters(t *testing.T) {
	env := newTestEnv(t)
	env.registerBots(t, "sales-bot")
	for _, wt := range []string{"daily_standup", "status_sync", "daily_standup"} {
		if _, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: wt}); err != nil {
			t.Fatal(err)
		}
		env.advance(time.Second)
	}
	list, err := env.Engine.ListWorkflows(env.Ctx, engine.WorkflowFilter{Type: "daily_standup"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 standups, got %d", len(list))
	}
	if _, err := env.Engine.ListWorkflows(env.Ctx, engine.WorkflowFilter{Status: "sleeping"}); !engine.IsInvalidPayload(err) {
		t.Fatalf("unknown status should be invalid: %v", err)
	}
	if _, err := env.Engine.StartWorkflow(env.Ctx, engine.WorkflowInput{Type: "retro"}); !engine.IsInvalidPayload(err) {
		t.Fatalf("unknown workflow type should be invalid: %v", err)
	}
}

func TestBotStatusAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	env.registerBots(t, "sales-bot")
	bot, err := env.Engine.SetBotStatus(env.Ctx, "sales-bot", "maintenance", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if bot.Status != domain.BotMaintenance {
		t.Fatalf("status = %s", bot.Status)
	}
	if _, err := env.Engine.SetBotStatus(env.Ctx, "ghost", "active", ""); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.SetBotStatus(env.Ctx, "sales-bot", "asleep", ""); !engine.IsInvalidPayload(err) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "sales-bot", "bot", "ci", "alice")
	if err != nil {
		t.Fatal(err)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != key.ID || stored.Role != "bot" {
		t.Fatalf("unexpected stored key: %#v", stored)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, "sales-bot", "root", "", ""); !engine.IsInvalidPayload(err) {
		t.Fatalf("unknown role should be invalid: %v", err)
	}
}
