package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"appraise/internal/domain"
	"appraise/internal/engine"
	"appraise/internal/repo"
)

func instanceCmd() *cobra.Command {
	inst := &cobra.Command{
		Use:   "instance",
		Short: "Manage subject instances",
		Long:  "Subject instances are individual runs of an activity about one subject. Pending instances wait for manual participant selection before anyone can respond.",
	}
	inst.AddCommand(instanceListCmd())
	inst.AddCommand(instanceShowCmd())
	inst.AddCommand(instanceCloseCmd())
	inst.AddCommand(instanceOpenCmd())
	inst.AddCommand(instanceParticipantsCmd())
	inst.AddCommand(instanceProgressCmd())
	return inst
}

func instanceListCmd() *cobra.Command {
	var f repo.SubjectInstanceFilters
	var needsSync bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subject instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("needs-sync") {
				f.NeedsSync = &needsSync
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSubjectInstances(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Subject", "Activity", "Status", "Availability", "Progress", "Due"})
				for _, si := range items {
					tw.AppendRow(table.Row{si.ID, si.SubjectUserID, si.ActivityID, si.Status, si.Availability, si.Progress, deref(si.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ActivityID, "activity", "", "activity id filter")
	cmd.Flags().StringVar(&f.TrackID, "track", "", "track id filter")
	cmd.Flags().StringVar(&f.SubjectUserID, "subject", "", "subject user id filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, active)")
	cmd.Flags().StringVar(&f.Availability, "availability", "", "availability filter (open, closed)")
	cmd.Flags().StringVar(&f.Progress, "progress", "", "progress filter")
	cmd.Flags().BoolVar(&needsSync, "needs-sync", false, "only instances flagged for sync")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func instanceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a subject instance with its participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				si, err := e.Repo.GetSubjectInstance(ctx, id)
				if err != nil {
					return err
				}
				participants, err := e.Repo.ListParticipants(ctx, si.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"instance":     si,
					"participants": participants,
				})
			})
		},
	}
	return cmd
}

func instanceCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a subject instance and its participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				si, err := e.ManuallyClose(ctx, id, viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(si)
			})
		},
	}
	return cmd
}

func instanceOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "Reopen a closed subject instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				si, err := e.ManuallyOpen(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(si)
			})
		},
	}
	return cmd
}

func instanceParticipantsCmd() *cobra.Command {
	var selections []string
	cmd := &cobra.Command{
		Use:   "participants <id>",
		Short: "Select manual participants for a pending instance",
		Long:  "Provide one --select per participant, as relationship=user-id or external=email. Selection is one-shot; the instance activates once participants are set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			parsed, err := parseSelections(selections)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				si, err := e.SetParticipantUsers(ctx, id, viper.GetString("actor-id"), parsed)
				if err != nil {
					return err
				}
				return printJSONOrTable(si)
			})
		},
	}
	cmd.Flags().StringArrayVar(&selections, "select", nil, "participant selection (relationship=user-id, external=email)")
	return cmd
}

func instanceProgressCmd() *cobra.Command {
	var progress string
	cmd := &cobra.Command{
		Use:   "progress <participant-id>",
		Short: "Set a participant's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetParticipantProgress(ctx, id, progress)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&progress, "set", "", "progress value (in_progress, complete)")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func participationCmd() *cobra.Command {
	part := &cobra.Command{Use: "participation", Short: "Inspect participation"}
	part.AddCommand(participationListCmd())
	return part
}

func participationListCmd() *cobra.Command {
	var userID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's participant instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListParticipationForUser(ctx, userID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Subject instance", "Relationship", "Availability", "Progress"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.SubjectInstanceID, p.Relationship, p.Availability, p.Progress})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for a user",
		Long:  "The raw key is printed once and only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, key, err := e.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": raw, "id": key.ID, "user_id": key.UserID, "name": key.Name})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.UserID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func parseInstanceID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid instance id %q", raw)
	}
	return id, nil
}

// parseSelections parses --select values. The external relationship takes an
// email address; all other manual relationships take a user id.
func parseSelections(values []string) ([]domain.ManualSelection, error) {
	selections := make([]domain.ManualSelection, 0, len(values))
	for _, v := range values {
		rel, target, found := strings.Cut(v, "=")
		if !found || target == "" {
			return nil, fmt.Errorf("invalid selection %q, want relationship=target", v)
		}
		sel := domain.ManualSelection{Relationship: rel}
		if rel == domain.RelationshipExternal {
			sel.ExternalEmail = target
		} else {
			sel.UserID = target
		}
		selections = append(selections, sel)
	}
	return selections, nil
}
