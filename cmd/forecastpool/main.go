package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"ForecastPool/internal/config"
	"ForecastPool/internal/engine"
	"ForecastPool/internal/market"
	"ForecastPool/internal/observability"
	"ForecastPool/internal/oracle"
	"ForecastPool/internal/persistence"
	"ForecastPool/internal/publish"
	"ForecastPool/internal/query"
	"ForecastPool/internal/server"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	log := observability.NewLogger("forecastpool")

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		return err
	}
	log.Info().Msg("migrations applied")

	// --- Observability ---
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealthChecker()

	// --- Output channels ---
	persistChan := make(chan engine.Output, cfg.Engine.PersistBuffer)
	publishChan := make(chan engine.Output, cfg.Engine.PublishBuffer)
	metrics.ChannelCapacity.WithLabelValues("persist").Set(float64(cfg.Engine.PersistBuffer))
	metrics.ChannelCapacity.WithLabelValues("publish").Set(float64(cfg.Engine.PublishBuffer))
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.ChannelSize.WithLabelValues("persist").Set(float64(len(persistChan)))
				metrics.ChannelSize.WithLabelValues("publish").Set(float64(len(publishChan)))
			}
		}
	}()

	// --- Collaborators ---
	custody := engine.NewInMemoryCustody()
	access := engine.NewStaticAccessControl()
	pauser := &engine.SwitchPauser{}
	allowlist := engine.NewStaticAllowlist(cfg.Engine.AllowedAssets...)
	treasury := uuid.MustParse(cfg.Engine.Treasury)

	policy := market.Policy{
		MinResolveGap:        cfg.Policy.MinResolveGap,
		CreationGraceDivisor: cfg.Policy.CreationGraceDivisor,
		SetWindow:            cfg.Policy.SetWindow,
		ChallengeWindow:      cfg.Policy.ChallengeWindow,
	}

	// --- Settlement engine + dispute oracle ---
	eng := engine.New(engine.Config{
		Policy:          policy,
		Custody:         custody,
		Access:          access,
		Pauser:          pauser,
		Allowlist:       allowlist,
		Treasury:        treasury,
		ProtocolFeeRate: cfg.Engine.ProtocolFeeRate,
		PersistChan:     persistChan,
		PublishChan:     publishChan,
		Metrics:         metrics,
		Logger:          observability.NewLogger("engine"),
	})
	orc := oracle.New(oracle.Config{
		Policy:     policy,
		BondAmount: cfg.Engine.BondAmount,
		Settler:    eng,
		Custody:    custody,
		Access:     access,
		Treasury:   treasury,
		Metrics:    metrics,
		Logger:     observability.NewLogger("oracle"),
	})
	eng.AppendHooks(engine.NewQuotaHook(cfg.Engine.CreatorQuota), orc)

	// --- Persistence worker ---
	persistWorker := persistence.NewWorker(
		db, persistChan,
		cfg.Postgres.BatchSize, cfg.Postgres.FlushTimeout,
		metrics, observability.NewLogger("persistence"),
	)
	go func() {
		if err := persistWorker.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("persistence worker stopped")
		}
	}()

	// --- Outbound publisher ---
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return err
		}
		defer nc.Drain()

		js, err := jetstream.New(nc)
		if err != nil {
			return err
		}
		if err := publish.EnsureStream(ctx, js); err != nil {
			return err
		}
		publisher := publish.NewPublisher(js, publishChan, metrics, observability.NewLogger("publisher"))
		go func() {
			if err := publisher.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("publisher stopped")
			}
		}()
		log.Info().Str("url", cfg.NATS.URL).Msg("nats publisher started")
	}

	// --- HTTP query surface ---
	svc := query.NewService(eng, orc)
	srv := server.New(server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
		Gatherer:     registry,
	}, svc, health, metrics, observability.NewLogger("http"))

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	health.SetReady(true)
	log.Info().Str("environment", cfg.Environment).Msg("forecastpool ready")

	select {
	case <-ctx.Done():
	case err := <-errChan:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	return ctx.Err()
}
