package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"warroom/internal/config"
	"warroom/internal/db"
	"warroom/internal/domain"
	"warroom/internal/executor"
	"warroom/internal/migrate"
	"warroom/internal/mission"
	"warroom/internal/poller"
	"warroom/internal/repo"
	"warroom/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wr",
	Short: "Warroom CLI",
	Long: `Warroom turns approved proposals into missions and executes their steps
with external agent processes.
- Workspace: your .warroom directory with the database; agents and models live in warroom.yml.
- Proposals: ideas waiting for a human decision (pending -> approved/rejected).
- Missions: approved proposals expanded into a research/implement/review step plan.
- Steps: units of work claimed and executed one at a time by the poller.
- Affinity: agents that succeed together drift closer; failures push them apart.
- Memory: completed step output is distilled into reusable learnings per agent.
- Event log: diary of everything, view with 'wr log tail'.`,
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
	viper.SetEnvPrefix("WARROOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(pollerCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a warroom workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			dir, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s\n", dir)
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show war room status",
		Long:  "See the scoreboard: proposal and mission counts, agent states, and the poller's run state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				proposals, err := r.CountProposalsByStatus(ctx)
				if err != nil {
					return err
				}
				missions, err := r.CountMissionsByStatus(ctx)
				if err != nil {
					return err
				}
				agents, err := r.ListAgentStates(ctx)
				if err != nil {
					return err
				}
				state, err := r.LoadRunState(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"proposals": proposals,
					"missions":  missions,
					"agents":    agents,
					"poller":    state,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println("Proposals:")
				for status, c := range proposals {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Missions:")
				for status, c := range missions {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Agents:")
				for _, a := range agents {
					fmt.Printf("  %s: %s\n", a.AgentID, a.Status)
				}
				if state.LastRun != "" {
					fmt.Printf("Poller: last run %s, %d steps processed\n", state.LastRun, state.StepsProcessed)
				} else {
					fmt.Println("Poller: never ran")
				}
				return nil
			})
		},
	}
	return cmd
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "proposal",
		Short: "Manage proposals",
		Long:  "Proposals are ideas waiting for a decision. Approve one and the next poll cycle turns it into a mission.",
	}
	p.AddCommand(proposalCreateCmd())
	p.AddCommand(proposalListCmd())
	p.AddCommand(proposalApproveCmd())
	p.AddCommand(proposalRejectCmd())
	return p
}

func proposalCreateCmd() *cobra.Command {
	var title, description, domainFlag, source string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withBuilder(cmd.Context(), func(ctx context.Context, b mission.Builder) error {
				p, err := b.CreateProposal(ctx, mission.ProposalOptions{
					Title:       title,
					Description: description,
					Domain:      domainFlag,
					Source:      source,
					RequestedBy: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "proposal title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&domainFlag, "domain", "", "target domain (default engineering)")
	cmd.Flags().StringVar(&source, "source", "", "origin of the proposal")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func proposalListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProposals(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Domain", "Status", "Requested By"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Domain, p.Status, p.RequestedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, approved, rejected)")
	return cmd
}

func proposalApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBuilder(cmd.Context(), func(ctx context.Context, b mission.Builder) error {
				p, err := b.ApproveProposal(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func proposalRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBuilder(cmd.Context(), func(ctx context.Context, b mission.Builder) error {
				p, err := b.RejectProposal(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mission",
		Short: "Manage missions",
		Long:  "Missions are approved proposals expanded into a step plan. Steps run one at a time via the poller or 'wr dispatch'.",
	}
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	return m
}

func missionListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMissions(ctx, repo.MissionFilters{Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Assigned To", "Status", "Created"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Title, m.AssignedTo, m.Status, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "max missions to return")
	return cmd
}

func missionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mission with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m, err := r.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				steps, err := r.ListStepsByMission(ctx, m.ID)
				if err != nil {
					return err
				}
				m.Steps = steps
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("Mission: %s (%s)\n", m.Title, m.Status)
				fmt.Printf("Assigned to: %s\n", m.AssignedTo)
				fmt.Println("Steps:")
				for _, s := range steps {
					fmt.Printf("  %d. %s [%s] -> %s\n", s.Position+1, s.Title, s.Status, s.AssignedTo)
					if s.Error != nil {
						fmt.Printf("     error: %s\n", *s.Error)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func stepCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "step",
		Short: "Inspect steps",
	}
	s.AddCommand(stepListCmd())
	return s
}

func stepListCmd() *cobra.Command {
	var missionID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a mission's steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if missionID == "" {
				return fmt.Errorf("--mission required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				steps, err := r.ListStepsByMission(ctx, missionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Title", "Kind", "Agent", "Status"})
				for _, s := range steps {
					tw.AppendRow(table.Row{s.Position + 1, s.ID, s.Title, s.Kind, s.AssignedTo, s.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&missionID, "mission", "", "mission id")
	_ = cmd.MarkFlagRequired("mission")
	return cmd
}

func dispatchCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "dispatch",
		Short: "Execute steps directly",
	}
	d.AddCommand(dispatchNextCmd())
	d.AddCommand(dispatchMissionCmd())
	return d
}

func dispatchNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim and execute the next queued step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(cmd.Context(), func(ctx context.Context, e executor.Executor) error {
				step, err := e.ExecuteNext(ctx)
				if err != nil {
					return err
				}
				if step == nil {
					fmt.Println("No queued steps.")
					return nil
				}
				return printJSONOrTable(step)
			})
		},
	}
	return cmd
}

func dispatchMissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission <id>",
		Short: "Execute all of a mission's steps sequentially",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(cmd.Context(), func(ctx context.Context, e executor.Executor) error {
				steps, err := e.ExecuteMission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(steps)
			})
		},
	}
	return cmd
}

func pollerCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "poller",
		Short: "Run the scheduling loop",
	}
	p.AddCommand(pollerRunCmd())
	return p
}

func pollerRunCmd() *cobra.Command {
	var intervalSeconds int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for approved proposals and queued steps until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := openWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			builder := mission.New(conn, cfg)
			exec := executor.New(conn, cfg)
			pl := poller.New(builder, exec, cfg)
			if intervalSeconds > 0 {
				pl.Interval = time.Duration(intervalSeconds) * time.Second
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := pl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&intervalSeconds, "interval", 0, "poll interval in seconds (overrides config)")
	return cmd
}

func agentCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "agent",
		Short: "Inspect agents",
	}
	a.AddCommand(agentListCmd())
	a.AddCommand(agentRelationshipsCmd())
	return a
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents with their live status",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := openWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.Repo{DB: conn}
			states, err := r.ListAgentStates(cmd.Context())
			if err != nil {
				return err
			}
			byID := map[string]domain.AgentState{}
			for _, s := range states {
				byID[s.AgentID] = s
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"agents": cfg.Agents, "states": states})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Domain", "Status", "Mission"})
			for _, a := range cfg.Agents {
				status, missionID := "idle", ""
				if s, ok := byID[a.ID]; ok {
					status = s.Status
					if s.CurrentMissionID != nil {
						missionID = *s.CurrentMissionID
					}
				}
				tw.AppendRow(table.Row{a.ID, a.Name, a.Domain, status, missionID})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func agentRelationshipsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "List agent affinity relationships",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rels, err := r.ListRelationships(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rels)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent A", "Agent B", "Affinity", "Drift Entries"})
				for _, rel := range rels {
					tw.AppendRow(table.Row{rel.AgentA, rel.AgentB, fmt.Sprintf("%.2f", rel.Affinity), len(rel.DriftHistory)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memoryCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "memory",
		Short: "Inspect agent memories",
	}
	m.AddCommand(memoryListCmd())
	return m
}

func memoryListCmd() *cobra.Command {
	var agentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an agent's active memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				memories, err := r.ListActiveMemories(ctx, agentID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(memories)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Content", "Confidence", "Created"})
				for _, m := range memories {
					tw.AppendRow(table.Row{m.Type, m.Content, fmt.Sprintf("%.1f", m.Confidence), m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().IntVar(&limit, "n", 20, "max memories")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: proposals, missions, steps, heartbeats.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyRevokeCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var subject, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "wrk_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        uuid.NewString(),
					Subject:   subject,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("API key %s created for %s\n", key.ID, subject)
				fmt.Printf("Secret (save it now, it is not stored): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "human-readable label")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := openWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Server.JWTSecret,
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
				EnableDevLogin:         cfg.Server.EnableDevLogin || devLogin,
			}
			if secret := os.Getenv("WARROOM_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			r := repo.Repo{DB: conn}
			handler, err := server.New(server.Config{
				Repo:     r,
				Builder:  mission.New(conn, cfg),
				Exec:     executor.New(conn, cfg),
				App:      cfg,
				BasePath: basePath,
				Auth:     authCfg,
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
			fmt.Printf("Serving Warroom API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the unauthenticated dev login endpoint")
	return cmd
}

// --- helpers ---

func openWorkspace(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, _, err := openWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func withBuilder(ctx context.Context, fn func(context.Context, mission.Builder) error) error {
	conn, cfg, err := openWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, mission.New(conn, cfg))
}

func withExecutor(ctx context.Context, fn func(context.Context, executor.Executor) error) error {
	conn, cfg, err := openWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, executor.New(conn, cfg))
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
