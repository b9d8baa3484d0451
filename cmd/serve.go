package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/internal/adapter"
	"github.com/reelforge/reelforge/internal/engine"
	"github.com/reelforge/reelforge/internal/format"
	"github.com/reelforge/reelforge/internal/pipeline"
	"github.com/reelforge/reelforge/internal/research"
	"github.com/reelforge/reelforge/internal/server"
	"github.com/reelforge/reelforge/internal/session"
	"github.com/reelforge/reelforge/internal/telemetry"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml)")
	return serve
}

func runServe(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[REELFORGE] ", log.LstdFlags)
	tele := telemetry.New(log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags), prometheus.DefaultRegisterer)

	backend, err := openBackend(cfg.Session)
	if err != nil {
		return err
	}
	var blobs session.BlobStore
	if cfg.Session.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, rerr := session.NewRedisBlobStore(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword,
			cfg.Session.RedisDB, time.Duration(cfg.Session.TTLDays)*24*time.Hour)
		cancel()
		if rerr != nil {
			return rerr
		}
		blobs = store
	} else {
		logger.Printf("warn: no redis configured, media blobs will not persist")
	}

	sessions := session.NewStore(cfg.Session, backend, blobs, log.New(log.Writer(), "[SESSION] ", log.LstdFlags))
	eng := engine.New(cfg.Engine, log.New(log.Writer(), "[ENGINE] ", log.LstdFlags), tele)

	// provider adapters are wired per deployment; until then runs fail with
	// a clear not-configured error instead of a nil panic
	deps := pipeline.Deps{
		Logger:            log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		Engine:            eng,
		Sessions:          sessions,
		Research:          research.NewService(cfg.Research, eng, adapter.UnconfiguredKnowledge(), log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)),
		Telemetry:         tele,
		Text:              adapter.UnconfiguredText(),
		Image:             adapter.UnconfiguredImage(),
		TTS:               adapter.UnconfiguredSpeech(),
		CheckpointTimeout: cfg.Checkpoints.DefaultTimeout,
	}

	registry := format.NewRegistry()
	if err := registry.ApplyOverrides(cfg.Formats); err != nil {
		return err
	}
	router, err := pipeline.NewRouter(registry, deps)
	if err != nil {
		return err
	}

	sched := &server.Scheduler{
		Sessions: sessions,
		Spec:     cfg.Server.CleanupCron,
		Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
	sched.Start()
	defer sched.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Server, router, sessions, log.New(log.Writer(), "[HTTP] ", log.LstdFlags))
	logger.Printf("listening on %s", cfg.Server.Address)
	err = srv.Start(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := sessions.Close(flushCtx); cerr != nil {
		logger.Printf("warn: closing session store: %v", cerr)
	}
	return err
}

func openBackend(cfg config.SessionConfig) (session.Backend, error) {
	switch cfg.Backend {
	case "postgres":
		return session.NewPostgresBackend(cfg.PostgresDSN)
	case "sqlite":
		return session.NewSQLiteBackend(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
