package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"appraise/internal/app"
	"appraise/internal/config"
	"appraise/internal/db"
	"appraise/internal/engine"
	"appraise/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "apr",
	Short: "Appraise CLI",
	Long: `Appraise runs performance appraisal activities against an organisation's
job assignment graph.
Core concepts:
- Workspace: the .appraise directory holding the database; settings live in appraise.yml.
- Activity: one appraisal programme (e.g. "Mid-year review") with configured relationships.
- Track: an activity's schedule; creation window, due dates and repeating rules live here.
- Assignment: a subject user placed on a track, optionally pinned to one job assignment.
- Subject instance: one run of the activity about one subject; progress rolls up from participants.
- Participant instance: one person's (or external email's) part in a subject instance.
- Relationships: subject, manager, managers_manager, appraiser and direct_report are
  derived from job assignments; peer, mentor, reviewer and external are picked by hand.
- Jobs: 'apr job generate' creates due instances, 'apr job sync' reconciles flagged ones.
- Event log: diary of changes, view with 'apr log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("APPRAISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(trackCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(jobAssignmentCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(participationCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var instanceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise a workspace",
		Long:  "Create the .appraise database directory and write a default appraise.yml.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(instanceID)), 0o644); err != nil {
				return err
			}
			appCtx, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer appCtx.Close()
			fmt.Printf("Initialised workspace in %s (config at %s)\n", workspace, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "local", "instance id")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Run background jobs",
		Long:  "The jobs a scheduler would run: instance generation, participant sync and closure sweeps.",
	}
	job.AddCommand(jobGenerateCmd())
	job.AddCommand(jobSyncCmd())
	job.AddCommand(jobCloseDueCmd())
	job.AddCommand(jobCloseSuspendedCmd())
	return job
}

func jobGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create subject instances whose schedules are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GenerateInstances(ctx)
				if err != nil {
					var batch *engine.BatchError
					if !errors.As(err, &batch) {
						return err
					}
					fmt.Fprintln(os.Stderr, "partial failure:", batch.Error())
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func jobSyncCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile participants on flagged subject instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SyncFlaggedInstances(ctx, limit)
				if err != nil {
					var batch *engine.BatchError
					if !errors.As(err, &batch) {
						return err
					}
					fmt.Fprintln(os.Stderr, "partial failure:", batch.Error())
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max instances per run (0 uses config batch size)")
	return cmd
}

func jobCloseDueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close-due",
		Short: "Close overdue instances of close-on-due-date activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.CloseDueInstances(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"closed": n})
			})
		},
	}
	return cmd
}

func jobCloseSuspendedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close-suspended",
		Short: "Close open instances of suspended subjects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.CloseSuspendedUserInstances(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"closed": n})
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var activityID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, activityID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, fmt.Sprintf("%s/%s", evt.EntityKind, evt.EntityID), evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&activityID, "activity", "", "activity id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for API access",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withApp(func(appCtx *app.Context) error {
				secret := jwtSecret(appCtx.Config)
				if secret == "" {
					return fmt.Errorf("no JWT secret; set server.jwt_secret in appraise.yml or APPRAISE_JWT_SECRET")
				}
				if _, err := appCtx.Engine.Repo.GetUser(cmd.Context(), userID); err != nil {
					return err
				}
				now := time.Now()
				claims := jwt.RegisteredClaims{
					Subject:   userID,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				}
				signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
				if err != nil {
					return err
				}
				fmt.Println(signed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(appCtx *app.Context) error {
				secret := jwtSecret(appCtx.Config)
				if secret == "" {
					return fmt.Errorf("no JWT secret; set server.jwt_secret in appraise.yml or APPRAISE_JWT_SECRET")
				}
				handler, err := server.New(server.Config{
					Engine:   appCtx.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
				fmt.Printf("Serving Appraise API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func jwtSecret(cfg *config.Config) string {
	if env := os.Getenv("APPRAISE_JWT_SECRET"); env != "" {
		return env
	}
	if cfg != nil {
		return cfg.Server.JWTSecret
	}
	return ""
}

func withApp(fn func(*app.Context) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(appCtx)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(func(appCtx *app.Context) error {
		return fn(ctx, appCtx.Engine)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
