// Command scanner wires the core screening engine together, runs one scan at
// startup, and, when a cron schedule is configured, runs further scans on that
// schedule. The HTTP/SSE surface, CLI flags parsing,
// and report rendering are treated as external collaborators per the engine
// specification and are not implemented here; this entry point exercises the
// wiring a real frontend would sit in front of.
package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/optionalpha/scanner/internal/cache"
	"github.com/optionalpha/scanner/internal/config"
	"github.com/optionalpha/scanner/internal/database"
	"github.com/optionalpha/scanner/internal/debate"
	"github.com/optionalpha/scanner/internal/health"
	"github.com/optionalpha/scanner/internal/llm"
	"github.com/optionalpha/scanner/internal/marketdata"
	"github.com/optionalpha/scanner/internal/marketvendor"
	"github.com/optionalpha/scanner/internal/optionsdata"
	"github.com/optionalpha/scanner/internal/ratelimit"
	"github.com/optionalpha/scanner/internal/repository"
	"github.com/optionalpha/scanner/internal/scan"
	"github.com/optionalpha/scanner/internal/universe"
	"github.com/optionalpha/scanner/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting scanner")
	logStartupResources(log)

	db, err := database.New(database.Config{Path: cfg.DataDir + "/scanner.db", Profile: database.ProfileStandard, Name: "scanner"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Conn().Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	pipeline, oracle := wire(cfg, db.Conn(), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce(ctx, pipeline, cfg, log)

	var c *cron.Cron
	if cfg.ScanCron != "" {
		c = cron.New()
		if _, err := c.AddFunc(cfg.ScanCron, func() { runOnce(ctx, pipeline, cfg, log) }); err != nil {
			log.Error().Err(err).Str("schedule", cfg.ScanCron).Msg("invalid scan cron schedule, scheduling disabled")
		} else {
			c.Start()
			log.Info().Str("schedule", cfg.ScanCron).Msg("scan scheduler started")
			defer c.Stop()
		}
	}

	healthTicker := time.NewTicker(5 * time.Minute)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping")
			return
		case <-healthTicker.C:
			status := oracle.Check(ctx)
			log.Info().
				Bool("llm_available", status.LLMAvailable).
				Bool("vendor_available", status.VendorAvailable).
				Bool("persistence_available", status.PersistenceAvailable).
				Msg("health check")
		}
	}
}

// wire constructs every service the scan pipeline and health oracle need,
// in dependency order: vendor client, rate limiter, cache, the three data
// services, the LLM client, the repository, and the debate orchestrator.
func wire(cfg *config.Config, db *sql.DB, log zerolog.Logger) (*scan.Pipeline, *health.Oracle) {
	vendor := marketvendor.NewClient(log)
	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent:     cfg.RateLimitMaxConcurrent,
		RequestsPerSecond: cfg.RateLimitRequestsPerSecond,
		MaxRetries:        cfg.RateLimitMaxRetries,
	}, log)
	c := cache.New(db, log)

	universeSvc := universe.New(c, log)
	marketSvc := marketdata.New(vendor, limiter, c, marketdata.Config{}, log)
	optionsSvc := optionsdata.New(vendor, limiter, c, log)

	llmClient := llm.NewClient(cfg.LLMHost, log)
	repo := repository.New(db, log)
	debateOrch := debate.New(llmClient, repo, cfg.LLMModel, time.Duration(cfg.LLMTimeout)*time.Second, log)

	pipeline := scan.New(universeSvc, marketSvc, optionsSvc, debateOrch, repo, log)
	oracle := health.New(llmClient, vendor, db, cfg.LLMModel, log)
	return pipeline, oracle
}

func runOnce(ctx context.Context, pipeline *scan.Pipeline, cfg *config.Config, log zerolog.Logger) {
	cancel := scan.NewCancelFlag()
	events := pipeline.Run(ctx, scan.Options{Preset: cfg.ScanPreset, TopN: cfg.ScanDefaultTopN, MinScore: scan.DefaultMinScore}, cancel)
	for ev := range events {
		if ev.Progress != nil {
			log.Info().Int("phase", ev.Progress.Phase).Str("phase_name", ev.Progress.PhaseName).
				Int("current", ev.Progress.Current).Int("total", ev.Progress.Total).Msg(ev.Progress.Message)
		}
		if ev.Complete != nil {
			log.Info().Int("tickers", len(ev.Complete.Scores)).Float64("elapsed_seconds", ev.Complete.ElapsedSeconds).Msg("scan complete")
		}
	}
}

// logStartupResources logs host CPU/memory at startup, diagnostic context
// only; it never gates any decision in the scan pipeline or health oracle.
func logStartupResources(log zerolog.Logger) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		log.Info().Float64("cpu_percent", percents[0]).Msg("host cpu usage")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		log.Info().Uint64("total_bytes", vm.Total).Float64("used_percent", vm.UsedPercent).Msg("host memory usage")
	}
}
