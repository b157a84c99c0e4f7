package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"helmsman/internal/config"
	"helmsman/internal/dates"
	"helmsman/internal/db"
	"helmsman/internal/domain"
	"helmsman/internal/engine"
	"helmsman/internal/migrate"
	"helmsman/internal/repo"
	"helmsman/internal/report"
	"helmsman/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hm",
	Short: "Helmsman CLI",
	Long: `Helmsman keeps a portfolio of delivery projects honest: it fuses
artifacts, milestones, work items, RAID entries and change requests into
a single due-item digest and turns a reporting period into a finished
delivery report with a deterministic executive summary.

- Workspace: the .helmsman directory holding the database.
- Digest: everything falling due inside a rolling window, worst-first.
- Report: completed work, key decisions, blockers and the forward look
  for a chosen period, with a red/amber/green classification.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configureLogging()
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
	viper.SetEnvPrefix("HELMSMAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func configureLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectMemberAddCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Slug", "Name", "Status"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Code, p.Slug, p.Name, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var code, slug, name, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					Code:        code,
					Slug:        slug,
					Name:        name,
					OwnerUserID: owner,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "numeric project code (digits only)")
	cmd.Flags().StringVar(&slug, "slug", "", "project slug")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a project by id, code, slug or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				meta, err := e.ResolveProject(ctx, args[0])
				if err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, meta.CanonicalID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectMemberAddCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "member-add <ref>",
		Short: "Add a member to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				meta, err := e.ResolveProject(ctx, args[0])
				if err != nil {
					return err
				}
				return e.AddMember(ctx, meta.CanonicalID, userID, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "member", "role (owner, manager, member, viewer)")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	var id, name, email string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u := domain.User{ID: id, Name: name, Email: email}
				if err := e.EnsureUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "user id")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email")
	_ = create.MarkFlagRequired("id")
	user.AddCommand(create)
	return user
}

func digestCmd() *cobra.Command {
	var projectRef string
	var windowDays int
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Show the due-item digest",
		Long:  "Without --project the digest covers every project in the workspace; with --project it is scoped to one project resolved by id, code, slug or name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.DigestOptions{
					ProjectRef: projectRef,
					WindowDays: windowDays,
					ActorID:    viper.GetString("actor-id"),
				}
				if projectRef == "" {
					projects, err := e.Repo.ListProjects(ctx)
					if err != nil {
						return err
					}
					for _, p := range projects {
						opts.ProjectIDs = append(opts.ProjectIDs, p.ID)
					}
				}
				d, err := e.DueDigest(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Println(d.Summary)
				fmt.Printf("Status: %s. %s\n", strings.ToUpper(string(d.RAG)), d.RecommendedMessage)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Due", "Kind", "Title", "Project", "Owner"})
				for _, it := range d.DueItems {
					tw.AppendRow(table.Row{dates.Render(it.DueAt), it.Kind, it.Title, it.ProjectName, it.OwnerName})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectRef, "project", "", "project reference (id, code, slug or name)")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "look-ahead window in days (1-90, default 14)")
	return cmd
}

func reportCmd() *cobra.Command {
	var from, to string
	var windowDays int
	var save bool
	cmd := &cobra.Command{
		Use:   "report <ref>",
		Short: "Generate a delivery report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT := dates.Normalize(from)
			if fromT == nil {
				return fmt.Errorf("unparseable --from date: %q", from)
			}
			toT := dates.Normalize(to)
			if toT == nil {
				return fmt.Errorf("unparseable --to date: %q", to)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeliveryReport(ctx, engine.ReportOptions{
					ProjectRef: args[0],
					PeriodFrom: *fromT,
					PeriodTo:   *toT,
					WindowDays: windowDays,
					Save:       save,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printReport(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "period start (e.g. 2026-08-01 or 01/08/2026)")
	cmd.Flags().StringVar(&to, "to", "", "period end")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "forward-look window in days")
	cmd.Flags().BoolVar(&save, "save", false, "persist the report snapshot")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printReport(res engine.ReportResult) {
	rep := res.Report
	fmt.Printf("Delivery report: %s (%s)\n", res.Project.Name, res.Project.HumanCode)
	fmt.Printf("Period: %s to %s\n", dates.Render(&rep.Period.From), dates.Render(&rep.Period.To))
	fmt.Printf("RAG: %s\n", strings.ToUpper(string(rep.ExecutiveSummary.RAG)))
	fmt.Println()
	fmt.Println(rep.ExecutiveSummary.Headline)
	fmt.Println()
	fmt.Println(rep.ExecutiveSummary.Narrative)
	printLines("Completed this period", rep.CompletedThisPeriod)
	printLines("Key decisions", rep.KeyDecisions)
	printLines("Operational blockers", rep.OperationalBlockers)
	printLines("Next period focus", rep.NextPeriodFocus)
	printLines("Resources", rep.ResourceSummary)
	if res.SnapshotID != "" {
		fmt.Printf("\nSaved snapshot: %s\n", res.SnapshotID)
	}
}

func printLines(title string, lines []report.Line) {
	if len(lines) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, l := range lines {
		fmt.Printf("  - %s\n", l.Text)
	}
}

func seedCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load projects and records from a YAML seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			seed, err := engine.ParseSeed(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.Seed(ctx, seed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML seed file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				// A config imported into the database wins over the
				// workspace file.
				if c, err := e.Repo.GetOrgConfig(ctx, e.Config.Org.ID); err == nil {
					return printJSONOrTable(c)
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				return printJSONOrTable(e.Config)
			})
		},
	})
	var filePath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import an org config file into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertOrgConfig(ctx, c.Org.ID, c); err != nil {
					return err
				}
				fmt.Printf("Imported config for org %s\n", c.Org.ID)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&filePath, "file", "", "path to config YAML")
	_ = importCmd.MarkFlagRequired("file")
	cfg.AddCommand(importCmd)
	var orgID string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default helmsman.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&orgID, "org", "default", "organisation id")
	cfg.AddCommand(initCmd)
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, projectID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, projectID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&projectID, "project-id", "", "project id filter")
	log.AddCommand(tail)
	return log
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("Database up to date at %s (schema v%d)\n", db.Path(workspace), v)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default("default")
			}
			e := engine.New(conn, cfg)
			secret := cfg.Auth.JWTSecret
			if secret == "" {
				secret = os.Getenv("HELMSMAN_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("a JWT secret is required: set auth.jwt_secret or HELMSMAN_JWT_SECRET")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
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
			fmt.Printf("Serving Helmsman API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("default")
	}
	return fn(ctx, engine.New(conn, cfg))
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
