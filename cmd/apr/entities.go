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

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Manage appraisal activities",
		Long:  "Activities are appraisal programmes. They start in draft, get relationships and tracks, and are activated before instances can be generated.",
	}
	act.AddCommand(activityCreateCmd())
	act.AddCommand(activityListCmd())
	act.AddCommand(activityShowCmd())
	act.AddCommand(activityActivateCmd())
	act.AddCommand(activitySettingsCmd())
	act.AddCommand(activityStatusCmd())
	act.AddCommand(activityCloseInstancesCmd())
	return act
}

func activityCreateCmd() *cobra.Command {
	var name string
	var relationships []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an activity in draft status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			rels, err := parseRelationships(relationships)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateActivity(ctx, name, rels)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "activity name")
	cmd.Flags().StringArrayVar(&relationships, "relationship", nil, "relationship, optionally with :view suffix (e.g. manager, peer:view)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func activityListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActivities(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Close on due date"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Status, a.CloseOnDueDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft, active)")
	return cmd
}

func activityShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an activity with its relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetActivity(ctx, args[0])
				if err != nil {
					return err
				}
				rels, err := e.Repo.ListActivityRelationships(ctx, a.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"activity":      a,
					"relationships": rels,
				})
			})
		},
	}
	return cmd
}

func activityActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Activate a draft activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ActivateActivity(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func activitySettingsCmd() *cobra.Command {
	var override, syncCreation, syncClosure, closeOnDue bool
	cmd := &cobra.Command{
		Use:   "settings <id>",
		Short: "Update activity sync and closure settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s repo.ActivitySettings
			if cmd.Flags().Changed("override-sync") {
				s.OverrideSyncSettings = &override
			}
			if cmd.Flags().Changed("sync-creation") {
				s.SyncCreation = &syncCreation
			}
			if cmd.Flags().Changed("sync-closure") {
				s.SyncClosure = &syncClosure
			}
			if cmd.Flags().Changed("close-on-due-date") {
				s.CloseOnDueDate = &closeOnDue
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpdateActivitySettings(ctx, args[0], s); err != nil {
					return err
				}
				a, err := e.Repo.GetActivity(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().BoolVar(&override, "override-sync", false, "override global sync settings")
	cmd.Flags().BoolVar(&syncCreation, "sync-creation", false, "add participants on graph changes")
	cmd.Flags().BoolVar(&syncClosure, "sync-closure", false, "close participants on graph changes")
	cmd.Flags().BoolVar(&closeOnDue, "close-on-due-date", false, "close instances once overdue")
	return cmd
}

func activityStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show instance and participant counts for an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetActivity(ctx, args[0])
				if err != nil {
					return err
				}
				instances, err := e.Repo.CountSubjectInstancesByStatus(ctx, a.ID)
				if err != nil {
					return err
				}
				participants, err := e.Repo.CountActivityParticipantsByRelationship(ctx, a.ID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"activity_id":  a.ID,
					"status":       a.Status,
					"instances":    instances,
					"participants": participants,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Activity: %s (%s)\n", a.Name, a.Status)
				fmt.Println("Instances:")
				for status, n := range instances {
					fmt.Printf("  %s: %d\n", status, n)
				}
				fmt.Println("Participants:")
				for rel, n := range participants {
					fmt.Printf("  %s: %d\n", rel, n)
				}
				return nil
			})
		},
	}
	return cmd
}

func activityCloseInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close-instances <id>",
		Short: "Close every open instance of an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.CloseActivityInstances(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"closed": n})
			})
		},
	}
	return cmd
}

func trackCmd() *cobra.Command {
	track := &cobra.Command{
		Use:   "track",
		Short: "Manage activity tracks",
		Long:  "Tracks carry the schedule: the creation window, due date rules and repeating triggers that decide when subject instances are generated.",
	}
	track.AddCommand(trackCreateCmd())
	track.AddCommand(trackListCmd())
	track.AddCommand(trackShowCmd())
	track.AddCommand(trackUpdateCmd())
	return track
}

// trackFlags binds the schedule flags shared by track create and update.
type trackFlags struct {
	scheduleFrom   string
	scheduleTo     string
	dueMode        string
	dueFixed       string
	dueOffset      string
	repeatTrigger  string
	repeatOffset   string
	repeatLimit    int
	generationMode string
	status         string
}

func (f *trackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scheduleFrom, "schedule-from", "", "creation window start (RFC3339)")
	cmd.Flags().StringVar(&f.scheduleTo, "schedule-to", "", "creation window end (RFC3339)")
	cmd.Flags().StringVar(&f.dueMode, "due-mode", "", "due date mode (disabled, fixed, relative)")
	cmd.Flags().StringVar(&f.dueFixed, "due-fixed", "", "fixed due date (RFC3339)")
	cmd.Flags().StringVar(&f.dueOffset, "due-offset", "", "relative due offset as COUNT:UNIT (e.g. 2:week)")
	cmd.Flags().StringVar(&f.repeatTrigger, "repeat-trigger", "", "repeating trigger (after_creation, after_completion, ...)")
	cmd.Flags().StringVar(&f.repeatOffset, "repeat-offset", "", "repeating offset as COUNT:UNIT")
	cmd.Flags().IntVar(&f.repeatLimit, "repeat-limit", 0, "max instances per assignment (0 = unlimited)")
	cmd.Flags().StringVar(&f.generationMode, "generation-mode", "", "generation mode (one_per_subject, one_per_job)")
	cmd.Flags().StringVar(&f.status, "status", "", "track status (active, paused)")
}

// apply copies changed flags onto the track. Unchanged flags leave the track
// untouched so update merges instead of replacing.
func (f *trackFlags) apply(cmd *cobra.Command, t *domain.Track) error {
	if cmd.Flags().Changed("schedule-from") {
		t.ScheduleFixedFrom = optionalString(f.scheduleFrom)
	}
	if cmd.Flags().Changed("schedule-to") {
		t.ScheduleFixedTo = optionalString(f.scheduleTo)
	}
	if cmd.Flags().Changed("due-mode") {
		t.DueDateMode = f.dueMode
	}
	if cmd.Flags().Changed("due-fixed") {
		t.DueDateFixed = optionalString(f.dueFixed)
	}
	if cmd.Flags().Changed("due-offset") {
		off, err := parseOffset(f.dueOffset)
		if err != nil {
			return err
		}
		t.DueDateOffset = off
	}
	if cmd.Flags().Changed("repeat-trigger") {
		t.RepeatingTrigger = f.repeatTrigger
		t.RepeatingEnabled = f.repeatTrigger != ""
	}
	if cmd.Flags().Changed("repeat-offset") {
		off, err := parseOffset(f.repeatOffset)
		if err != nil {
			return err
		}
		t.RepeatingOffset = off
	}
	if cmd.Flags().Changed("repeat-limit") {
		if f.repeatLimit > 0 {
			limit := f.repeatLimit
			t.RepeatLimit = &limit
		} else {
			t.RepeatLimit = nil
		}
	}
	if cmd.Flags().Changed("generation-mode") {
		t.GenerationMode = f.generationMode
	}
	if cmd.Flags().Changed("status") {
		t.Status = f.status
	}
	return nil
}

func trackCreateCmd() *cobra.Command {
	var activityID string
	var flags trackFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a track on an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if activityID == "" {
				return fmt.Errorf("--activity required")
			}
			t := domain.Track{ActivityID: activityID}
			if err := flags.apply(cmd, &t); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateTrack(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&activityID, "activity", "", "activity id")
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func trackListCmd() *cobra.Command {
	var activityID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracks of an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if activityID == "" {
				return fmt.Errorf("--activity required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTracks(ctx, activityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&activityID, "activity", "", "activity id")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func trackShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTrack(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func trackUpdateCmd() *cobra.Command {
	var flags trackFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a track's schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTrack(ctx, args[0])
				if err != nil {
					return err
				}
				if err := flags.apply(cmd, &t); err != nil {
					return err
				}
				updated, err := e.UpdateTrack(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func assignmentCmd() *cobra.Command {
	asg := &cobra.Command{
		Use:   "assignment",
		Short: "Manage track user assignments",
		Long:  "Assignments place subject users on tracks. Removing one stops future generation but leaves existing instances alone.",
	}
	asg.AddCommand(assignmentAddCmd())
	asg.AddCommand(assignmentListCmd())
	asg.AddCommand(assignmentRemoveCmd())
	return asg
}

func assignmentAddCmd() *cobra.Command {
	var trackID, subjectUserID, jobAssignmentID, periodStart, periodEnd string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Assign a subject user to a track",
		RunE: func(cmd *cobra.Command, args []string) error {
			if trackID == "" || subjectUserID == "" {
				return fmt.Errorf("--track and --subject required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AssignUser(ctx, trackID, subjectUserID,
					optionalString(jobAssignmentID), optionalString(periodStart), optionalString(periodEnd))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&trackID, "track", "", "track id")
	cmd.Flags().StringVar(&subjectUserID, "subject", "", "subject user id")
	cmd.Flags().StringVar(&jobAssignmentID, "job-assignment", "", "job assignment id (required for one_per_job tracks)")
	cmd.Flags().StringVar(&periodStart, "from", "", "period start (RFC3339)")
	cmd.Flags().StringVar(&periodEnd, "to", "", "period end (RFC3339)")
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var trackID string
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments on a track",
		RunE: func(cmd *cobra.Command, args []string) error {
			if trackID == "" {
				return fmt.Errorf("--track required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssignments(ctx, trackID, includeDeleted)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&trackID, "track", "", "track id")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include removed assignments")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func assignmentRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a track assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnassignUser(ctx, args[0])
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userSuspendCmd())
	user.AddCommand(userUnsuspendCmd())
	user.AddCommand(userDeleteCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, name, email)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "user name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Suspended"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Suspended})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userSuspendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suspend <id>",
		Short: "Suspend a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetUserSuspended(ctx, args[0], true)
			})
		},
	}
	return cmd
}

func userUnsuspendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsuspend <id>",
		Short: "Reinstate a suspended user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetUserSuspended(ctx, args[0], false)
			})
		},
	}
	return cmd
}

func userDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user and close their open instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteUser(ctx, args[0])
			})
		},
	}
	return cmd
}

func jobAssignmentCmd() *cobra.Command {
	ja := &cobra.Command{
		Use:   "ja",
		Short: "Manage job assignments",
		Long:  "Job assignments form the org graph. The manager edge points at the manager's own job assignment, which is what the manager's-manager chain follows.",
	}
	ja.AddCommand(jaCreateCmd())
	ja.AddCommand(jaListCmd())
	ja.AddCommand(jaUpdateCmd())
	ja.AddCommand(jaDeleteCmd())
	return ja
}

func jaCreateCmd() *cobra.Command {
	var userID, idNumber, managerJAID, appraiserID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateJobAssignment(ctx, domain.JobAssignment{
					UserID:      userID,
					IDNumber:    idNumber,
					ManagerJAID: optionalString(managerJAID),
					AppraiserID: optionalString(appraiserID),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&idNumber, "idnumber", "", "external id number")
	cmd.Flags().StringVar(&managerJAID, "manager-ja", "", "manager's job assignment id")
	cmd.Flags().StringVar(&appraiserID, "appraiser", "", "appraiser user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func jaListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListJobAssignments(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "ID number", "Manager JA", "Appraiser"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.ID, item.UserID, item.IDNumber, deref(item.ManagerJAID), deref(item.AppraiserID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id filter")
	return cmd
}

func jaUpdateCmd() *cobra.Command {
	var managerJAID, appraiserID string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a job assignment's manager or appraiser edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var managerPtr, appraiserPtr *string
			if cmd.Flags().Changed("manager-ja") {
				managerPtr = &managerJAID
			}
			if cmd.Flags().Changed("appraiser") {
				appraiserPtr = &appraiserID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				updated, err := e.UpdateJobAssignment(ctx, args[0], managerPtr, appraiserPtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&managerJAID, "manager-ja", "", "manager's job assignment id (empty clears)")
	cmd.Flags().StringVar(&appraiserID, "appraiser", "", "appraiser user id (empty clears)")
	return cmd
}

func jaDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteJobAssignment(ctx, args[0])
			})
		},
	}
	return cmd
}

// parseRelationships parses relationship flags of the form "manager" or
// "peer:view".
func parseRelationships(values []string) ([]domain.ActivityRelationship, error) {
	rels := make([]domain.ActivityRelationship, 0, len(values))
	for _, v := range values {
		name, suffix, found := strings.Cut(v, ":")
		viewOnly := false
		if found {
			if suffix != "view" {
				return nil, fmt.Errorf("unknown relationship suffix %q (want :view)", suffix)
			}
			viewOnly = true
		}
		rels = append(rels, domain.ActivityRelationship{Relationship: name, ViewOnly: viewOnly})
	}
	return rels, nil
}

// parseOffset parses "COUNT:UNIT" offsets such as "2:week".
func parseOffset(v string) (*domain.DateOffset, error) {
	if v == "" {
		return nil, nil
	}
	countStr, unit, found := strings.Cut(v, ":")
	if !found {
		return nil, fmt.Errorf("invalid offset %q, want COUNT:UNIT", v)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, fmt.Errorf("invalid offset count %q", countStr)
	}
	return &domain.DateOffset{Count: count, Unit: unit}, nil
}
