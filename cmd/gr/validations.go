package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guardrails/internal/app"
	"guardrails/internal/engine"
	"guardrails/internal/metrics"
)

func submitCmd() *cobra.Command {
	var in engine.SubmitInput
	var actionData string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a bot action for human review",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := rawJSONFlag("action-data", actionData)
			if err != nil {
				return err
			}
			in.ActionData = data
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Submit(ctx, in)
				if err != nil {
					return err
				}
				out := map[string]any{
					"id":                           res.Validation.ID,
					"status":                       res.Validation.Status,
					"priority":                     res.Validation.Priority,
					"estimated_review_time":        res.EstimatedReviewTime,
					"requires_immediate_attention": res.RequiresImmediateAttention,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Queued %s (priority %d, review %s)\n", res.Validation.ID, res.Validation.Priority, res.EstimatedReviewTime)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.InitiatorBot, "bot", "", "initiating bot id")
	cmd.Flags().StringVar(&in.ActionType, "action", "", "action type")
	cmd.Flags().StringVar(&in.ValidationType, "type", "", "validation type")
	cmd.Flags().StringVar(&actionData, "action-data", "", "action payload as JSON, or @file")
	cmd.Flags().Float64Var(&in.EstimatedImpact, "impact", 0, "estimated impact")
	cmd.Flags().IntVar(&in.UrgencyLevel, "urgency", 0, "urgency level")
	cmd.Flags().StringVar(&in.BusinessContext, "context", "", "business context")
	cmd.Flags().StringVar(&in.RecommendedDecision, "recommend", "", "the bot's recommended decision")
	_ = cmd.MarkFlagRequired("bot")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func pendingCmd() *cobra.Command {
	var f engine.PendingFilter
	var priority int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending requests, highest priority first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("priority") {
				f.Priority = &priority
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.ListPending(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Bot", "Type", "Action", "Impact", "Priority", "Age (min)", "Review"})
				for _, it := range view.Items {
					review := it.EstimatedReviewTime
					if it.Overdue {
						review += " (overdue)"
					}
					tw.AppendRow(table.Row{it.ID, it.InitiatorBot, it.ValidationType, it.ActionType, it.EstimatedImpact, it.Priority, it.AgeMinutes, review})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", fmt.Sprintf("%d (%d urgent)", view.Total, view.Urgent)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "exact priority filter")
	cmd.Flags().StringVar(&f.ValidationType, "type", "", "validation type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows (defaults to queue.pending_limit)")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a validation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.GetValidation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func decideCmd() *cobra.Command {
	var decision, feedback, adjustments string
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve, reject or modify a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adj, err := rawJSONFlag("adjustments", adjustments)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Decide(ctx, engine.DecideInput{
					ID:          args[0],
					Decision:    decision,
					Feedback:    feedback,
					Adjustments: adj,
					ReviewerID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				out := map[string]any{"validation": res.Validation}
				if res.Execution != nil {
					out["execution"] = res.Execution
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s is now %s\n", res.Validation.ID, res.Validation.Status)
				if res.Execution != nil {
					fmt.Printf("Execute %s for %s with %s\n", res.Execution.ActionType, res.Execution.InitiatorBot, res.Execution.ActionData)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved, rejected or modified")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for the bot")
	cmd.Flags().StringVar(&adjustments, "adjustments", "", "adjustments as JSON, or @file")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func decideBatchCmd() *cobra.Command {
	var decision, feedback string
	cmd := &cobra.Command{
		Use:   "decide-batch <id>...",
		Short: "Apply one decision to several requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.DecideBatch(ctx, args, decision, feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Outcome", "Status"})
				for _, it := range res.Items {
					tw.AppendRow(table.Row{it.ID, it.Outcome, it.Status})
				}
				tw.AppendFooter(table.Row{"", "Decided", res.Decided})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved, rejected or modified")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for every bot")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var analysisType, analysisContext string
	cmd := &cobra.Command{
		Use:   "analyze <id>",
		Short: "Attach advisory analysis to a request",
		Long:  "Runs the configured analyzer (heuristic, or anthropic with ANTHROPIC_API_KEY). The result is advisory: status and priority never change.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := rawJSONFlag("context", analysisContext)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.AttachAnalysis(ctx, engine.AnalysisInput{
					ValidationID: args[0],
					AnalysisType: analysisType,
					Context:      raw,
					RequestedBy:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&analysisType, "type", "risk_assessment", "strategic, technical, risk_assessment or personalization")
	cmd.Flags().StringVar(&analysisContext, "context", "", "extra context as JSON, or @file")
	return cmd
}

func metricsCmd() *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show queue and decision statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Metrics.DashboardMetrics(ctx, window)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Window: %s (since %s)\n", d.TimePeriod, d.Since)
				fmt.Printf("Queue: %d pending, %d high impact\n", d.QueueStatus.Pending, d.QueueStatus.HighImpactPending)
				e := d.Effectiveness
				fmt.Printf("Decisions: %d total, %d approved, %d rejected, %d modified, %d pending\n",
					e.TotalValidations, e.Approved, e.Rejected, e.Modified, e.Pending)
				fmt.Printf("Approval rate: %d%%, average response: %d min\n", e.ApprovalRatePercent, e.AvgResponseTime)
				if len(d.HighImpactDecisions) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Highest impact")
					tw.AppendHeader(table.Row{"ID", "Bot", "Action", "Impact", "Status"})
					for _, h := range d.HighImpactDecisions {
						tw.AppendRow(table.Row{h.ID, h.InitiatorBot, h.ActionType, h.EstimatedImpact, h.Status})
					}
					tw.Render()
				}
				if len(d.BotActivity) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Bot activity")
					tw.AppendHeader(table.Row{"Bot", "Submissions"})
					for _, b := range d.BotActivity {
						tw.AppendRow(table.Row{b.BotID, b.Count})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", metrics.DefaultWindow, "time window: 24h, 7d or any Go duration")
	return cmd
}
