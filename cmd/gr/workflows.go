package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guardrails/internal/app"
	"guardrails/internal/domain"
	"guardrails/internal/engine"
)

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Coordinate the bot squad",
		Long:  "Standups, status syncs and reports are snapshots that complete immediately. Escalations stay escalated until a human closes them outside this tool.",
	}
	wf.AddCommand(snapshotCmd("standup", "Run a daily standup snapshot", domain.WorkflowDailyStandup))
	wf.AddCommand(snapshotCmd("sync", "Synchronize bot status", domain.WorkflowStatusSync))
	wf.AddCommand(snapshotCmd("report", "Generate a squad performance report", domain.WorkflowSquadReport))
	wf.AddCommand(escalateCmd())
	wf.AddCommand(sayCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	return wf
}

func snapshotCmd(use, short string, wt domain.WorkflowType) *cobra.Command {
	var initiator string
	var bots []string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.StartWorkflow(ctx, engine.WorkflowInput{
					Type:         string(wt),
					InitiatorBot: initiator,
					InvolvedBots: bots,
				})
				if err != nil {
					if res.ID != "" && !viper.GetBool("json") {
						fmt.Fprintf(os.Stderr, "workflow %s recorded as %s\n", res.ID, res.Status)
					}
					return err
				}
				return printWorkflow(res)
			})
		},
	}
	cmd.Flags().StringVar(&initiator, "initiator", "", "initiating bot (defaults to the orchestrator)")
	cmd.Flags().StringSliceVar(&bots, "bots", nil, "involved bots (defaults to every registered bot)")
	return cmd
}

func escalateCmd() *cobra.Command {
	var initiator, severity, issueType, description, details string
	var bots []string
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Escalate an incident to human supervision",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{}
			if severity != "" {
				data["severity"] = severity
			}
			if issueType != "" {
				data["issue_type"] = issueType
			}
			if description != "" {
				data["description"] = description
			}
			raw, err := rawJSONFlag("details", details)
			if err != nil {
				return err
			}
			if raw != nil {
				data["details"] = raw
			}
			encoded, err := json.Marshal(data)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.StartWorkflow(ctx, engine.WorkflowInput{
					Type:         string(domain.WorkflowEmergencyEscalation),
					InitiatorBot: initiator,
					InvolvedBots: bots,
					WorkflowData: encoded,
				})
				if err != nil {
					return err
				}
				return printWorkflow(res)
			})
		},
	}
	cmd.Flags().StringVar(&initiator, "initiator", "", "escalating bot")
	cmd.Flags().StringVar(&severity, "severity", "", "critical, high, medium or low")
	cmd.Flags().StringVar(&issueType, "issue", "", "issue type")
	cmd.Flags().StringVar(&description, "description", "", "what happened")
	cmd.Flags().StringVar(&details, "details", "", "extra details as JSON, or @file")
	cmd.Flags().StringSliceVar(&bots, "bots", nil, "affected bots")
	_ = cmd.MarkFlagRequired("severity")
	_ = cmd.MarkFlagRequired("bots")
	return cmd
}

func sayCmd() *cobra.Command {
	var in engine.MessageInput
	var data string
	cmd := &cobra.Command{
		Use:   "say <workflow-id> <message>",
		Short: "Append a participant message to a workflow",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.WorkflowID = args[0]
			if len(args) == 2 {
				in.Message = args[1]
			}
			raw, err := rawJSONFlag("data", data)
			if err != nil {
				return err
			}
			in.Data = raw
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entry, err := a.Engine.AppendCommunication(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&in.BotID, "bot", "", "participating bot")
	cmd.Flags().StringVar(&in.Kind, "kind", "", "entry kind (defaults to message)")
	cmd.Flags().StringVar(&data, "data", "", "structured payload as JSON, or @file")
	_ = cmd.MarkFlagRequired("bot")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var f engine.WorkflowFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list, err := a.Engine.ListWorkflows(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Initiator", "Bots", "Created"})
				for _, w := range list {
					tw.AppendRow(table.Row{w.ID, w.WorkflowType, w.Status, w.InitiatorBot, truncate(strings.Join(w.InvolvedBots, ","), 40), w.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "workflow type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow with its communication log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				return printWorkflow(res)
			})
		},
	}
}

func printWorkflow(wf domain.CoordinationWorkflow) error {
	if viper.GetBool("json") {
		return printJSON(wf)
	}
	fmt.Printf("Workflow %s: %s [%s]\n", wf.ID, wf.WorkflowType, wf.Status)
	fmt.Printf("Initiator: %s, bots: %s\n", wf.InitiatorBot, strings.Join(wf.InvolvedBots, ", "))
	fmt.Printf("Data: %s\n", wf.WorkflowData)
	if len(wf.CommunicationLog) == 0 {
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Bot", "Kind", "Message", "At"})
	for _, c := range wf.CommunicationLog {
		tw.AppendRow(table.Row{c.Seq, c.BotID, c.Kind, truncate(c.Message, 60), c.TS})
	}
	tw.Render()
	return nil
}
