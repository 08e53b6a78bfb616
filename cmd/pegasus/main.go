package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/pegasus/internal/config"
	"github.com/TobiSchelling/pegasus/internal/database"
	"github.com/TobiSchelling/pegasus/internal/events"
	"github.com/TobiSchelling/pegasus/internal/extract"
	"github.com/TobiSchelling/pegasus/internal/llm"
	"github.com/TobiSchelling/pegasus/internal/pipeline"
	"github.com/TobiSchelling/pegasus/internal/report"
	"github.com/TobiSchelling/pegasus/internal/search"
	"github.com/TobiSchelling/pegasus/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pegasus",
	Short:   "Autonomous market research agent",
	Long:    "Pegasus generates research vectors for a target, mines the web for each one, and synthesizes a sectional intelligence report.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging("INFO")

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		config.LoadEnv()

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogging(cfg.Logging.Level)
		if path != "" {
			log.Debug().Str("path", path).Msg("config loaded")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportsCmd)
}

// setupLogging configures the global zerolog logger for terminal output.
func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	ctx := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp()
	if verbose {
		lvl = zerolog.DebugLevel
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger().Level(lvl)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pegasus", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/pegasus/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the LLM provider, models, and search backend.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show report archive and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("LLM:")
		fmt.Printf("  Provider: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Host)
		fmt.Printf("  Primary model: %s\n", cfg.LLM.PrimaryModel)
		fmt.Printf("  Fallback model: %s\n", orNone(cfg.LLM.FallbackModel))
		fmt.Printf("  API key (%s): %s\n", cfg.LLM.APIKeyEnv, keyState(cfg.APIKey()))
		fmt.Printf("\nSearch: %s\n", cfg.Search.Provider)
		fmt.Println("\nArchive:")
		fmt.Printf("  Database: %s\n", db.Path())
		fmt.Printf("  Reports: %d (%d done, %d failed)\n", stats.Reports, stats.Completed, stats.Failed)
		fmt.Printf("  Sections: %d (%d failed)\n", stats.Sections, stats.FailedSections)
		fmt.Printf("  Targets researched: %d\n", stats.Targets)
		if stats.LastRun != "" {
			fmt.Printf("  Last run: %s\n", database.FormatCreatedAt(stats.LastRun))
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func keyState(key string) string {
	if key == "" {
		return "not set"
	}
	return "set"
}

// --- run command ---

var (
	dryRun    bool
	outName   string
	writeHTML bool
	archive   bool
)

var runCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Research a target: vectors -> mining -> synthesis -> report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := strings.TrimSpace(args[0])
		if target == "" {
			return fmt.Errorf("target must not be empty")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		var opts []pipeline.Option
		if archive {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			opts = append(opts, pipeline.WithArchive(db))
		}

		if dryRun {
			printSteps(pipeline.New(cfg, nil, nil, nil, opts...).DryRun(target))
			return nil
		}

		ctx := context.Background()
		pipe, err := buildPipeline(ctx, opts...)
		if err != nil {
			return err
		}

		rep, err := pipe.Run(ctx, target, events.EmitterFunc(printEvent))
		printSteps(rep.Steps)
		if err != nil {
			return fmt.Errorf("research failed: %w", err)
		}

		mdPath := outName + ".md"
		doc := rep.Document()
		if err := os.WriteFile(mdPath, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("\nReport saved: %s\n", mdPath)

		if writeHTML {
			page, err := report.StandaloneHTML(target, doc)
			if err != nil {
				return err
			}
			htmlPath := outName + ".html"
			if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
				return fmt.Errorf("writing html report: %w", err)
			}
			fmt.Printf("HTML saved: %s\n", htmlPath)
		}

		if rep.FallbackEngaged {
			fmt.Printf("Note: fallback model %s was engaged during this run.\n", rep.Model)
		}
		if archive {
			fmt.Printf("Archived as %s. Run 'pegasus serve' to browse reports.\n", database.ShortID(rep.ID))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().StringVarP(&outName, "out", "o", "Pegasus_Report", "Output file name without extension")
	runCmd.Flags().BoolVar(&writeHTML, "html", false, "Also write a standalone HTML report")
	runCmd.Flags().BoolVar(&archive, "archive", true, "Store the finished report in the local archive")
}

// printEvent shows pipeline milestones on stdout. Log events reach the
// terminal through zerolog.
func printEvent(e events.Event) {
	switch e.Kind {
	case events.KindQueryDiscovered:
		fmt.Printf("  > %s\n", e.Query)
	case events.KindURLDiscovered:
		fmt.Printf("      %s\n", e.URL)
	case events.KindSectionReady:
		fmt.Printf("  [section] %s\n", e.Title)
	case events.KindChartReady:
		fmt.Println("  [chart] data ready")
	case events.KindProgress:
		fmt.Printf("  %3d%%\n", e.Progress)
	case events.KindFinished:
		fmt.Printf("\nFinished: %s\n", e.State)
	}
}

func printSteps(steps []pipeline.StepResult) {
	for i, step := range steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// --- serve command ---

var (
	servePort  int
	noResearch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		var researcher server.Researcher
		if !noResearch {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			pipe, err := buildPipeline(context.Background(), pipeline.WithArchive(db))
			if err != nil {
				return err
			}
			researcher = pipe
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, researcher, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&noResearch, "no-research", false, "Serve the archive only, without live research")
}

// buildPipeline wires the configured LLM, search and extraction backends.
func buildPipeline(ctx context.Context, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	client, err := llm.NewClient(ctx, cfg.LLM, cfg.APIKey())
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	searcher, err := search.New(cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("creating search backend: %w", err)
	}
	extractor := extract.NewReadability(cfg.Research.FetchTimeout, cfg.Search.UserAgent)
	return pipeline.New(cfg, client, searcher, extractor, opts...), nil
}

func openDB() (*database.DB, error) {
	return database.OpenDefault(cfg.GetDataDir())
}
