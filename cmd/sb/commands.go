package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"starbridge/internal/domain"
	"starbridge/internal/engine"
	starbridgesdk "starbridge/sdk/go"
)

func shipCmd() *cobra.Command {
	ship := &cobra.Command{Use: "ship", Short: "Manage ships"}
	ship.AddCommand(shipCreateCmd())
	ship.AddCommand(shipListCmd())
	ship.AddCommand(shipStatusCmd())
	return ship
}

func shipCreateCmd() *cobra.Command {
	var id, name string
	var noSeed bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a ship",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ship, err := e.CreateShip(ctx, engine.ShipCreateOptions{ID: id, Name: name, Seed: !noSeed})
				if err != nil {
					return err
				}
				return printJSONOrPretty(ship)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "ship id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "ship name")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "skip the configured systems, assets and default posture")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func shipListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ships",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListShips(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func shipStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the bridge board: systems, assets and posture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				ov, err := e.Overview(ctx, shipID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ov)
				}
				fmt.Printf("Ship: %s (%s)\n", ov.Ship.Name, ov.Ship.ID)
				if ov.Posture != nil {
					fmt.Printf("Posture: %s\n", ov.Posture.Posture)
				} else {
					fmt.Println("Posture: none")
				}
				renderEntities(append(ov.Systems, ov.Assets...))
				return nil
			})
		},
	}
}

func renderEntities(items []domain.EntityState) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Kind", "Name", "Status", "Value", "Effective", "Limited By"})
	for _, s := range items {
		limited := ""
		if s.LimitingParent != nil {
			limited = s.LimitingParent.ID
		}
		tw.AppendRow(table.Row{s.ID, s.Kind, s.Name, s.Status, fmt.Sprintf("%g/%g", s.Value, s.MaxValue), s.EffectiveStatus, limited})
	}
	tw.Render()
}

func systemCmd() *cobra.Command {
	sys := &cobra.Command{Use: "system", Short: "Update systems and assets"}
	sys.AddCommand(systemSetCmd())
	sys.AddCommand(systemResetCmd())
	return sys
}

func systemSetCmd() *cobra.Command {
	var status string
	var value, maxValue float64
	var quiet bool
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Set a system or asset status or value",
		Long:  "A status alone derives the value, a value alone derives the status, and both are stored as given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.EntityPatch{Quiet: quiet}
			if cmd.Flags().Changed("status") {
				patch.Status = &status
			}
			if cmd.Flags().Changed("value") {
				patch.Value = &value
			}
			if cmd.Flags().Changed("max") {
				patch.MaxValue = &maxValue
			}
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				st, err := e.UpdateEntity(ctx, shipID, "", args[0], patch)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				renderEntities([]domain.EntityState{st})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (optimal, operational, degraded, compromised, critical, destroyed, offline)")
	cmd.Flags().Float64Var(&value, "value", 0, "value")
	cmd.Flags().Float64Var(&maxValue, "max", 0, "max value")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not emit events")
	return cmd
}

func systemResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore every system to optimal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				res, err := e.ResetSystems(ctx, shipID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("reset %d systems\n", res.Reset)
				return nil
			})
		},
	}
}

func scenarioCmd() *cobra.Command {
	sc := &cobra.Command{Use: "scenario", Short: "Manage and run scenarios"}
	sc.AddCommand(scenarioImportCmd())
	sc.AddCommand(scenarioListCmd())
	sc.AddCommand(scenarioRunCmd())
	sc.AddCommand(scenarioRehearseCmd())
	return sc
}

func scenarioImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create or replace scenarios from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := loadScenarioFile(args[0])
			if err != nil {
				return err
			}
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				out := make([]domain.Scenario, 0, len(docs))
				for _, d := range docs {
					opts := engine.ScenarioOptions{ID: d.ID, ShipID: shipID, Name: d.Name, Description: d.Description, Actions: d.Actions}
					s, err := e.UpdateScenario(ctx, opts)
					if errors.Is(err, engine.ErrNotFound) {
						s, err = e.CreateScenario(ctx, opts)
					}
					if err != nil {
						return fmt.Errorf("scenario %s: %w", d.ID, err)
					}
					out = append(out, s)
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("imported %d scenarios\n", len(out))
				return nil
			})
		},
	}
}

func scenarioListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				items, err := e.ListScenarios(ctx, shipID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Name", "Actions"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Position, s.ID, s.Name, len(s.Actions)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scenarioRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				res, err := e.ExecuteScenario(ctx, shipID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("executed %d actions, %d events\n", res.ActionsExecuted, len(res.Events))
				for _, msg := range res.Errors {
					fmt.Println("  error:", msg)
				}
				return nil
			})
		},
	}
}

func scenarioRehearseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rehearse <id>",
		Short: "Dry-run a scenario without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				out, err := e.RehearseScenario(ctx, shipID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Action", "Target", "Status", "Value"})
				for _, c := range out.Changes {
					tw.AppendRow(table.Row{
						c.Index + 1, c.Action, c.TargetName,
						fmt.Sprintf("%s -> %s", c.BeforeStatus, c.AfterStatus),
						fmt.Sprintf("%g -> %g", c.BeforeValue, c.AfterValue),
					})
				}
				tw.Render()
				if out.Posture != nil {
					fmt.Printf("posture: %s -> %s\n", out.Posture.Before, out.Posture.After)
				}
				for _, w := range out.Warnings {
					fmt.Println("  warning:", w)
				}
				for _, msg := range out.Errors {
					fmt.Println("  error:", msg)
				}
				fmt.Println("can execute:", out.CanExecute)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Crew tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskExpireCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks (expires overdue ones first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				items, err := e.ListTasks(ctx, shipID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Station", "Status", "Claimed By", "Expires"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, deref(t.Station), t.Status, deref(t.ClaimedBy), deref(t.ExpiresAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue tasks and run their on_expire actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				done, err := e.ExpireOverdue(ctx, shipID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(done)
				}
				fmt.Printf("expired %d tasks\n", len(done))
				for _, c := range done {
					fmt.Printf("  %s: %d actions, %d errors\n", c.Task.ID, c.Result.ActionsExecuted, len(c.Result.Errors))
				}
				return nil
			})
		},
	}
}

func postureCmd() *cobra.Command {
	p := &cobra.Command{Use: "posture", Short: "Ship posture"}
	p.AddCommand(&cobra.Command{
		Use:   "set <posture>",
		Short: "Set posture and replace the rules of engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShip(cmd.Context(), func(ctx context.Context, e engine.Engine, shipID string) error {
				st, err := e.SetPosture(ctx, shipID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrPretty(st)
			})
		},
	})
	return p
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Event log"}
	ev.AddCommand(eventsTailCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	var after int64
	var limit int
	var follow bool
	var interval time.Duration
	var serverURL, token string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events, optionally polling for new ones",
		Long:  "Reads the local workspace, or a running server when --server is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var poll func(context.Context, int64) ([]domain.Event, error)
			if serverURL != "" {
				shipID := viper.GetString("ship")
				if shipID == "" {
					return fmt.Errorf("--ship is required with --server")
				}
				c := starbridgesdk.New(serverURL, shipID)
				c.BearerToken = token
				poll = func(ctx context.Context, afterID int64) ([]domain.Event, error) {
					page, err := c.Events(ctx, afterID, limit)
					if err != nil {
						return nil, err
					}
					out := make([]domain.Event, 0, len(page.Items))
					for _, evt := range page.Items {
						out = append(out, domain.Event{
							ID: evt.ID, ShipID: evt.ShipID, Type: evt.Type, Severity: evt.Severity,
							Message: evt.Message, Data: evt.Data, Transmitted: evt.Transmitted, CreatedAt: evt.CreatedAt,
						})
					}
					return out, nil
				}
				return tailEvents(ctx, poll, after, follow, interval)
			}
			return withShip(ctx, func(ctx context.Context, e engine.Engine, shipID string) error {
				poll = func(ctx context.Context, afterID int64) ([]domain.Event, error) {
					return e.ListEvents(ctx, shipID, engine.EventQuery{AfterID: afterID, Limit: limit})
				}
				return tailEvents(ctx, poll, after, follow, interval)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this id")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --follow")
	cmd.Flags().StringVar(&serverURL, "server", "", "poll a running server instead of the workspace")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --server")
	return cmd
}

func tailEvents(ctx context.Context, poll func(context.Context, int64) ([]domain.Event, error), after int64, follow bool, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		items, err := poll(ctx, after)
		if err != nil {
			return err
		}
		for _, evt := range items {
			printEvent(evt)
			after = evt.ID
		}
		if !follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printEvent(evt domain.Event) {
	if viper.GetBool("json") {
		_ = printJSON(evt)
		return
	}
	mark := " "
	if evt.Transmitted {
		mark = "*"
	}
	fmt.Printf("%6d %s %s [%s] %s: %s\n", evt.ID, mark, evt.CreatedAt, evt.Severity, evt.Type, evt.Message)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
