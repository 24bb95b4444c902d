// Package metrics derives dashboard statistics from the validation queue.
// Every function here is read-only.
package metrics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"guardrails/internal/config"
	"guardrails/internal/domain"
	"guardrails/internal/engine"
	"guardrails/internal/repo"
)

const DefaultWindow = "24h"

type QueueStatus struct {
	Pending           int `json:"pending"`
	HighImpactPending int `json:"high_impact_pending"`
}

type Effectiveness struct {
	TotalValidations    int     `json:"total_validations"`
	Approved            int     `json:"approved"`
	Rejected            int     `json:"rejected"`
	Modified            int     `json:"modified"`
	Pending             int     `json:"pending"`
	ApprovalRate        float64 `json:"approval_rate"`
	ApprovalRatePercent int     `json:"approval_rate_percent"`
	// AvgResponseTime is in minutes.
	AvgResponseTime int `json:"avg_response_time"`
}

type HighImpactDecision struct {
	ID               string                   `json:"id"`
	InitiatorBot     string                   `json:"initiator_bot"`
	ActionType       string                   `json:"action_type"`
	ValidationType   domain.ValidationType    `json:"validation_type"`
	EstimatedImpact  float64                  `json:"estimated_impact"`
	Status           domain.ValidationStatus  `json:"status"`
	DecisionTime     *string                  `json:"decision_time,omitempty"`
	AdvisoryAnalysis *domain.AdvisoryAnalysis `json:"advisory_analysis,omitempty"`
	CreatedAt        string                   `json:"created_at"`
}

type Dashboard struct {
	TimePeriod          string                `json:"time_period"`
	Since               string                `json:"since"`
	GeneratedAt         string                `json:"generated_at"`
	QueueStatus         QueueStatus           `json:"queue_status"`
	Effectiveness       Effectiveness         `json:"effectiveness"`
	HighImpactDecisions []HighImpactDecision  `json:"high_impact_decisions"`
	BotActivity         []repo.BotSubmissions `json:"bot_activity"`
}

type Aggregator struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func (a Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// maxWindowDays is the largest day count that fits in a time.Duration.
const maxWindowDays = int(math.MaxInt64 / int64(24*time.Hour))

// ParseWindow accepts a Go duration or a whole number of days such as "7d".
// An empty window means DefaultWindow.
func ParseWindow(window string) (time.Duration, error) {
	window = strings.TrimSpace(window)
	if window == "" {
		window = DefaultWindow
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(window, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, engine.InvalidPayloadError{Field: "timeframe", Reason: fmt.Sprintf("invalid window %q", window)}
		}
		if n > maxWindowDays {
			return 0, engine.InvalidPayloadError{Field: "timeframe", Reason: fmt.Sprintf("window exceeds %d days", maxWindowDays)}
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(window); err != nil {
			return 0, engine.InvalidPayloadError{Field: "timeframe", Reason: fmt.Sprintf("invalid window %q", window)}
		}
	}
	if d <= 0 {
		return 0, engine.InvalidPayloadError{Field: "timeframe", Reason: "window must be positive"}
	}
	return d, nil
}

// DashboardMetrics aggregates the queue over the window ending now. An empty
// window yields zeros.
func (a Aggregator) DashboardMetrics(ctx context.Context, window string) (Dashboard, error) {
	d, err := ParseWindow(window)
	if err != nil {
		return Dashboard{}, err
	}
	if strings.TrimSpace(window) == "" {
		window = DefaultWindow
	}
	now := a.now().UTC()
	since := now.Add(-d).Format(time.RFC3339)
	out := Dashboard{
		TimePeriod:          window,
		Since:               since,
		GeneratedAt:         now.Format(time.RFC3339),
		HighImpactDecisions: []HighImpactDecision{},
		BotActivity:         []repo.BotSubmissions{},
	}
	threshold, limit := 500.0, 10
	if a.Config != nil {
		threshold = a.Config.Queue.AdvisoryImpactThreshold
		limit = a.Config.Queue.HighImpactLimit
	}

	var counts repo.WindowCounts
	var latencies []time.Duration
	var top []domain.ValidationRequest
	var activity []repo.BotSubmissions
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.QueueStatus.Pending, out.QueueStatus.HighImpactPending, err = a.Repo.CountPending(gctx, threshold)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = a.Repo.CountWindow(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		latencies, err = a.Repo.ResponseTimes(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		top, err = a.Repo.TopImpact(gctx, since, limit)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = a.Repo.SubmissionsByBot(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("dashboard metrics: %w", err)
	}

	out.Effectiveness = Effectiveness{
		TotalValidations: counts.Total,
		Approved:         counts.Approved,
		Rejected:         counts.Rejected,
		Modified:         counts.Modified,
		Pending:          counts.Pending,
	}
	if counts.Total > 0 {
		out.Effectiveness.ApprovalRate = float64(counts.Approved) / float64(counts.Total)
		out.Effectiveness.ApprovalRatePercent = int(math.Round(out.Effectiveness.ApprovalRate * 100))
	}
	if len(latencies) > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		out.Effectiveness.AvgResponseTime = int(math.Round((sum / time.Duration(len(latencies))).Minutes()))
	}
	for _, v := range top {
		out.HighImpactDecisions = append(out.HighImpactDecisions, HighImpactDecision{
			ID:               v.ID,
			InitiatorBot:     v.InitiatorBot,
			ActionType:       v.ActionType,
			ValidationType:   v.ValidationType,
			EstimatedImpact:  v.EstimatedImpact,
			Status:           v.Status,
			DecisionTime:     v.DecisionTime,
			AdvisoryAnalysis: v.AdvisoryAnalysis,
			CreatedAt:        v.CreatedAt,
		})
	}
	out.BotActivity = append(out.BotActivity, activity...)
	return out, nil
}
