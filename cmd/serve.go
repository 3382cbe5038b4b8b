package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/promptgate/internal/api"
	"github.com/promptgate/internal/audit"
	"github.com/promptgate/internal/config"
	"github.com/promptgate/internal/contextbuild"
	"github.com/promptgate/internal/inference"
	"github.com/promptgate/internal/patch"
	"github.com/promptgate/internal/policy"
	"github.com/promptgate/internal/retrieval"
	"github.com/promptgate/internal/workspace"
)

// ServeCommand returns the CLI command for starting the gateway server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the gateway server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the gateway server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	if c.Bool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Policy scanner with optional hot-reloaded rule file.
	rules := policy.DefaultRuleSet()
	if cfg.Policy.RulesFile != "" {
		rules, err = policy.LoadRuleFile(cfg.Policy.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load policy rules: %w", err)
		}
	}
	scanner, err := policy.NewScanner(rules, policy.Mode(cfg.Policy.Mode))
	if err != nil {
		return fmt.Errorf("failed to build policy scanner: %w", err)
	}
	if cfg.Policy.RulesFile != "" {
		reloader := policy.NewReloader(scanner, cfg.Policy.RulesFile, cfg.Policy.RefreshInterval)
		go func() {
			if err := reloader.Run(ctx); err != nil {
				log.Error().Err(err).Msg("policy reloader stopped")
			}
		}()
	}

	// Audit pipeline: partitioned store, river queue, retention purger.
	db, err := sql.Open("postgres", cfg.Audit.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer db.Close()

	store := audit.NewStore(db)
	queue, err := audit.NewQueue(cfg.Audit.DatabaseURL, store)
	if err != nil {
		return fmt.Errorf("failed to build audit queue: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start audit queue: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("audit queue shutdown incomplete")
		}
	}()
	recorder := audit.NewRecorder(queue)

	retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
	purger := audit.NewPurger(store, retention, cfg.Audit.PurgeInterval)
	go purger.Run(ctx)

	// Workspace access and context building.
	validator := workspace.NewValidator(cfg.Workspace.AllowedExtensions)
	collector := contextbuild.NewCollector(validator, retrieval.NewClient(cfg), contextbuild.CollectorConfig{
		MaxFileBytes: cfg.Workspace.MaxFileBytes,
		MaxHits:      cfg.Retrieval.MaxHits,
		FolderLimits: workspace.WalkLimits{
			MaxDepth:   cfg.Workspace.MaxFolderDepth,
			MaxEntries: cfg.Workspace.MaxFolderEntries,
			MaxBytes:   cfg.Workspace.MaxFolderBytes,
		},
	})

	llm, err := inference.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build inference client: %w", err)
	}

	keys := api.NewKeyCache(cfg)
	go keys.Run(ctx)

	server := api.NewServer(cfg, api.Deps{
		Keys:      keys,
		Collector: collector,
		Registry:  contextbuild.NewRegistry(),
		Scanner:   scanner,
		Recorder:  recorder,
		Gate:      patch.NewGate(validator, cfg.Patch.MaxDiffBytes),
		Inference: llm,
	})

	log.Info().Int("port", cfg.Server.Port).Msg("starting gateway server")
	return server.Start()
}
