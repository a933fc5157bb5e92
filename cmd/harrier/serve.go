package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/triage"
	"github.com/opensource-finance/harrier/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP scoring service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("starting harrier",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_date", BuildDate),
	)
	logger.Info("configuration loaded",
		zap.String("tier", string(cfg.Tier)),
		zap.String("repository", cfg.Repository.Driver),
		zap.String("cache", cfg.Cache.Type),
		zap.String("eventbus", cfg.EventBus.Type),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	logger.Info("repository initialized", zap.String("driver", cfg.Repository.Driver))

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	logger.Info("cache initialized", zap.String("type", cfg.Cache.Type))

	busImpl, err := bus.New(cfg.EventBus, logger.Named("bus"))
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	namespace := bus.Namespace(cfg.EventBus)
	logger.Info("event bus initialized", zap.String("type", cfg.EventBus.Type), zap.String("namespace", namespace))

	scorer := scoring.NewEngine(cfg.Scoring, cacheImpl, logger.Named("scoring"))

	engine, err := rules.NewEngine(cfg.Triage.MaxWorkers)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()
	if err := loadRules(ctx, repo, engine, cfg.Triage.RulesPath); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	logger.Info("rule engine initialized", zap.Int("rules_count", engine.RulesCount()))

	processor := triage.NewProcessor()
	processor.AlertThreshold = cfg.Triage.AlertThreshold

	assessor := &triage.Assessor{
		Scorer:    scorer,
		Rules:     engine,
		Processor: processor,
		Repo:      repo,
		Bus:       busImpl,
		Namespace: namespace,
		Logger:    logger.Named("triage"),
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, assessor, logger.Named("worker"))
		if err := asyncWorker.Start(worker.Config{Namespace: namespace, Schedule: cfg.Worker.Schedule}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		logger.Info("worker started", zap.String("schedule", cfg.Worker.Schedule))
	}

	srv := api.NewServer(cfg, api.Dependencies{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Scorer:    scorer,
		Rules:     engine,
		Assessor:  assessor,
		Namespace: namespace,
		Logger:    logger.Named("api"),
		Version:   Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("harrier is ready",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)
	printBanner(cmd, cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			logger.Error("failed to stop worker", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("harrier shutdown complete")
	return serveErr
}

// loadRules loads the enabled stored rules. An empty store is seeded first from
// the rule pack at packPath, or from the builtin rules when no pack is set.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, packPath string) error {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		seed := rules.BuiltinRules()
		source := "builtin"
		if packPath != "" {
			pack, err := rules.LoadPack(packPath)
			if err != nil {
				return err
			}
			seed = pack.Rules
			source = packPath
		}
		for _, rule := range seed {
			if err := engine.ValidateRule(rule); err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			if err := repo.SaveRuleConfig(ctx, rule); err != nil {
				return err
			}
		}
		logger.Info("seeded rules", zap.String("source", source), zap.Int("count", len(seed)))

		if stored, err = repo.ListRuleConfigs(ctx); err != nil {
			return err
		}
	}

	return engine.LoadRules(stored)
}

func printBanner(cmd *cobra.Command, cfg *domain.Config, version string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ╔═══════════════════════════════════════════╗")
	fmt.Fprintln(out, "  ║                 HARRIER                   ║")
	fmt.Fprintln(out, "  ║       Threat Actor Scoring Engine         ║")
	fmt.Fprintln(out, "  ╚═══════════════════════════════════════════╝")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /datasets                          - Upload a CSV or XLSX dataset")
	fmt.Fprintln(out, "    GET  /datasets/{id}/scores              - Batch scores")
	fmt.Fprintln(out, "    GET  /datasets/{id}/actors/{actor}/score - One actor's score")
	fmt.Fprintln(out, "    POST /datasets/{id}/manual              - Score analyst input")
	fmt.Fprintln(out, "    GET  /datasets/{id}/projection          - Year-by-year projection")
	fmt.Fprintln(out, "    POST /datasets/{id}/assessments         - Triage a dataset")
	fmt.Fprintln(out, "    GET  /rules                             - List triage rules")
	fmt.Fprintln(out, "    GET  /health                            - Health check")
	fmt.Fprintln(out)
}
