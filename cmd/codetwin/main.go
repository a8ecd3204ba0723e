package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"codetwin/internal/analysis"
	"codetwin/internal/config"
	"codetwin/internal/knowledge"
	"codetwin/internal/logging"
	"codetwin/internal/pipeline"
	"codetwin/internal/retrieval"
	"codetwin/internal/storage"
	"codetwin/internal/telemetry"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "codetwin",
		Short:         "Structural knowledge graph and legacy-risk analysis for code repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	dbPath     string
	configPath string
	logLevel   string
	projectID  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the knowledge store (SQLite); overrides storage.path")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project id; defaults to project.id or the directory name")

	ingestCmd.Flags().String("repo-url", "", "Clone or pull this repository instead of using a local path")
	ingestCmd.Flags().Bool("skip-risk", false, "Skip the risk analysis stage")
	ingestCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while ingesting")
	searchCmd.Flags().IntP("limit", "n", 5, "Maximum number of direct hits")

	rootCmd.AddCommand(ingestCmd, analyzeCmd, risksCmd, filesCmd, showCmd, searchCmd)
}

// app holds what every command shares.
type app struct {
	cfg    *config.Config
	logger hclog.Logger
	store  *storage.SQLiteStore
}

func newApp() (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := logging.New("codetwin", cfg.Log.Level)

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func (a *app) project(fallback string) (string, error) {
	switch {
	case projectID != "":
		return projectID, nil
	case a.cfg.Project.ID != "":
		return a.cfg.Project.ID, nil
	case fallback != "":
		return fallback, nil
	}
	return "", errors.New("no project id: pass --project or set project.id")
}

func (a *app) aiOptions() knowledge.Options {
	return knowledge.Options{
		Provider:       a.cfg.AI.Provider,
		APIKey:         a.cfg.AI.APIKey,
		Model:          a.cfg.AI.SummaryModel,
		EmbeddingModel: a.cfg.AI.Model,
		Dimension:      a.cfg.AI.Dimension,
		BaseURL:        a.cfg.AI.BaseURL,
	}
}

func (a *app) aiConfigured() bool {
	return a.cfg.AI.APIKey != "" || strings.EqualFold(a.cfg.AI.Provider, "ollama")
}

// completer returns nil when no provider is usable; callers then run without
// summaries or explanations.
func (a *app) completer(ctx context.Context) knowledge.Completer {
	if !a.aiConfigured() || strings.EqualFold(a.cfg.AI.Provider, "ollama") {
		return nil
	}
	c, err := knowledge.NewCompleter(ctx, a.aiOptions())
	if err != nil {
		a.logger.Warn("completion provider unavailable", "error", err)
		return nil
	}
	return c
}

func (a *app) embedder(ctx context.Context) knowledge.Embedder {
	if !a.aiConfigured() {
		return nil
	}
	e, err := knowledge.NewEmbedder(ctx, a.aiOptions())
	if err != nil {
		a.logger.Warn("embedding provider unavailable", "error", err)
		return nil
	}
	return e
}

func (a *app) analyzer(ctx context.Context) *analysis.Analyzer {
	opts := []analysis.Option{analysis.WithLogger(a.logger.Named("risk"))}
	if c := a.completer(ctx); c != nil {
		opts = append(opts, analysis.WithExplainer(c))
	}
	return analysis.NewAnalyzer(a.store, a.cfg.Risk, opts...)
}

func (a *app) retriever(ctx context.Context) *retrieval.Retriever {
	opts := []retrieval.Option{retrieval.WithLogger(a.logger.Named("retrieval"))}
	if e := a.embedder(ctx); e != nil {
		opts = append(opts, retrieval.WithEmbedder(knowledge.NewEnricher(nil, e, a.logger.Named("knowledge"))))
	}
	return retrieval.NewRetriever(a.store, opts...)
}

var stageIcons = map[pipeline.Stage]string{
	pipeline.StageCloning:      "📥",
	pipeline.StageProcessing:   "⚙️ ",
	pipeline.StageCleanup:      "🧹",
	pipeline.StageIntelligence: "🧠",
	pipeline.StageDone:         "✅",
	pipeline.StageFailed:       "❌",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Synchronize a working copy into the knowledge store and run the risk pass",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repoURL, _ := cmd.Flags().GetString("repo-url")
		skipRisk, _ := cmd.Flags().GetBool("skip-risk")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		path := a.cfg.Project.Root
		if len(args) > 0 {
			path = args[0]
		}
		fallback := ""
		if repoURL != "" {
			fallback = strings.TrimSuffix(filepath.Base(strings.TrimRight(repoURL, "/")), ".git")
		} else if abs, err := filepath.Abs(path); err == nil {
			fallback = filepath.Base(abs)
		}
		project, err := a.project(fallback)
		if err != nil {
			return err
		}

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Warn("metrics server stopped", "error", err)
				}
			}()
			defer srv.Close()
			fmt.Printf("📈 Metrics on http://%s/metrics\n", metricsAddr)
		}

		syncOpts := []pipeline.SyncOption{
			pipeline.WithWorkers(a.cfg.Sync.Workers),
			pipeline.WithBatchSize(a.cfg.Sync.BatchSize),
		}
		if a.cfg.Sync.Enrich {
			completer, embedder := a.completer(ctx), a.embedder(ctx)
			if completer != nil || embedder != nil {
				syncOpts = append(syncOpts, pipeline.WithEnricher(knowledge.NewEnricher(completer, embedder, a.logger.Named("knowledge"))))
			} else {
				fmt.Println("⚠️  Enrichment enabled but no AI provider is configured; skipping summaries")
			}
		}

		ing := pipeline.NewIngestor(a.store,
			pipeline.WithAnalyzer(a.analyzer(ctx)),
			pipeline.WithReposDir(a.cfg.Repos.Dir),
			pipeline.WithSyncOptions(syncOpts...),
			pipeline.WithIngestLogger(a.logger.Named("ingest")),
		)

		fmt.Printf("🚀 Ingesting project %q\n", project)
		report, err := ing.Ingest(ctx, pipeline.Request{
			ProjectID: project,
			RepoURL:   repoURL,
			LocalPath: path,
			SkipRisk:  skipRisk,
		}, func(stage pipeline.Stage, msg string) {
			fmt.Printf("%s [%s] %s\n", stageIcons[stage], stage, msg)
		})
		if err != nil {
			return err
		}

		fmt.Printf("📊 %d files, %d units (%d written, %d unchanged), %d orphans removed\n",
			report.Sync.FilesScanned, report.Sync.UnitsSeen, report.Sync.UnitsWritten, report.Sync.UnitsUnchanged, len(report.Sync.Orphans))
		if report.RiskStatus == pipeline.RiskCompleted {
			fmt.Printf("🚨 %d risk alerts\n", report.Alerts)
		}
		fmt.Printf("🎉 Done in %v. Database: %s\n", report.Duration.Round(time.Millisecond), a.cfg.Storage.Path)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Re-run the risk pass over the stored graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		project, err := a.project("")
		if err != nil {
			return err
		}

		fmt.Println("🧠 Running predictive risk analysis...")
		n, err := a.analyzer(cmd.Context()).Analyze(cmd.Context(), project)
		if err != nil {
			return fmt.Errorf("risk analysis failed: %w", err)
		}
		fmt.Printf("🚨 %d risk alerts\n", n)
		return nil
	},
}

var risksCmd = &cobra.Command{
	Use:   "risks",
	Short: "List risk alerts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		project, err := a.project("")
		if err != nil {
			return err
		}

		alerts, err := retrieval.NewRetriever(a.store).ListRisks(cmd.Context(), project)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("✅ No risk alerts.")
			return nil
		}
		for _, al := range alerts {
			icon := "🟠"
			if al.Severity == storage.SeverityHigh {
				icon = "🔴"
			}
			fmt.Printf("%s %s %s\n   %s\n   %s\n", icon, al.Severity, al.CreatedAt.Format(time.RFC3339),
				strings.Join(al.AffectedUnits, " -> "), al.Description)
		}
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the files known to the knowledge store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		project, err := a.project("")
		if err != nil {
			return err
		}

		files, err := retrieval.NewRetriever(a.store).ListAllFiles(cmd.Context(), project)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <identifier|file>",
	Short: "Print a unit's content, or the units of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		project, err := a.project("")
		if err != nil {
			return err
		}
		r := retrieval.NewRetriever(a.store)

		if !strings.Contains(args[0], "::") {
			units, err := r.FileUnits(cmd.Context(), project, args[0])
			if err != nil {
				return err
			}
			if len(units) == 0 {
				return fmt.Errorf("no units stored for %s", args[0])
			}
			for _, u := range units {
				fmt.Printf("%-8s %-60s L%d-%d risk=%.0f\n", u.Kind, u.Identifier, u.StartLine+1, u.EndLine+1, u.RiskScore)
			}
			return nil
		}

		u, err := r.FetchUnitContent(cmd.Context(), project, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("📄 %s (%s, %s)\n", u.Identifier, u.Kind, u.Language)
		if u.LastModifiedAt != nil {
			fmt.Printf("🕒 %s by %s\n", u.LastModifiedAt.Format(time.RFC3339), u.Author)
		}
		if u.Summary != "" {
			fmt.Printf("💡 %s\n", u.Summary)
		}
		fmt.Println(u.Content)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid search over stored units with one hop of call expansion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		project, err := a.project("")
		if err != nil {
			return err
		}

		results, err := a.retriever(cmd.Context()).Search(cmd.Context(), project, strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("🔍 No matches.")
			return nil
		}
		for _, res := range results {
			if res.Via != "" {
				fmt.Printf("   ↳ %s (called by %s)\n", res.Unit.Identifier, res.Via)
				continue
			}
			fmt.Printf("🔍 %.3f %s\n", res.Score, res.Unit.Identifier)
			if res.Unit.Summary != "" {
				fmt.Printf("   %s\n", res.Unit.Summary)
			}
		}
		return nil
	},
}
