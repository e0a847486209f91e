package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/example/rideshare/internal/booking"
	"github.com/example/rideshare/internal/config"
	"github.com/example/rideshare/internal/dispatch"
	"github.com/example/rideshare/internal/geo"
	httpapi "github.com/example/rideshare/internal/http"
	"github.com/example/rideshare/internal/logging"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/payments"
	"github.com/example/rideshare/internal/routing"
	"github.com/example/rideshare/internal/settlement"
	"github.com/example/rideshare/internal/stats"
	"github.com/example/rideshare/internal/storage"
	"github.com/example/rideshare/internal/sweep"
	"github.com/example/rideshare/internal/verification"
)

func main() {
	configFile := pflag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	migrationsDir := pflag.String("migrations", "migrations", "directory holding SQL migrations")
	pflag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := logging.NewLogger("rideshare-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("open postgres", "error", err)
			os.Exit(1)
		}
		closers = append(closers, pg.Close)
		if cfg.RunMigrations {
			if err := migrate(ctx, pg, *migrationsDir); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migration applied", "file", "001_init.sql")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var index geo.RideIndex = geo.NewIndex()
	var recorder stats.Recorder = stats.NewMemory()
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		rs := stats.NewRedisStats(cfg.RedisAddr, cfg.RedisPassword)
		closers = append(closers, rg.Close, rs.Close)
		index, recorder = rg, rs
	}

	routes := &routing.Estimator{Cache: routing.NewCache(cfg.RouteCacheTTL), DefaultSpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMEndpoint != "" {
		routes.Client = routing.NewOSRMClient(cfg.OSRMEndpoint)
	}

	var gateway booking.PaymentGateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeClient(cfg.StripeAPIKey)
	} else {
		logger.Warn("STRIPE_API_KEY not set, card payments use the in-memory ledger")
		gateway = payments.NewLedger()
	}

	ws := dispatch.NewWSRegistry()
	channels := []dispatch.Channel{{Name: "ws", Notifier: ws}}
	if cfg.PushEndpoint != "" {
		channels = append(channels, dispatch.Channel{Name: "push", Notifier: dispatch.NewPushDispatcher(cfg.PushEndpoint)})
	}
	if cfg.FCMEndpoint != "" {
		channels = append(channels, dispatch.Channel{Name: "fcm", Notifier: dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)})
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := dispatch.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kp.Close)
		channels = append(channels, dispatch.Channel{Name: "kafka", Notifier: kp})
	}
	if cfg.AMQPURL != "" {
		ap, err := dispatch.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("amqp unavailable, notifications will skip it", "error", err)
		} else {
			closers = append(closers, ap.Close)
			channels = append(channels, dispatch.Channel{Name: "amqp", Notifier: ap})
		}
	}
	notifier := dispatch.NewAsync(&dispatch.Fanout{Channels: channels}, cfg.NotifyTimeout, logger)

	pricing := settlement.Policy{Commission: cfg.CommissionMinor, Currency: cfg.Currency}
	bookings := &booking.Service{
		Store:       store,
		Index:       index,
		Routes:      routes,
		Stats:       recorder,
		Payments:    gateway,
		Notifier:    notifier,
		Pricing:     pricing,
		Codes:       verification.Generator{Length: cfg.OTPLength, TTL: cfg.OTPTTL},
		ThresholdKm: cfg.MatchThresholdKm,
		IndexStepKm: cfg.IndexStepKm,
		Logger:      logger,
	}
	search := &matcher.Service{
		Rides:       store,
		Index:       index,
		ThresholdKm: cfg.MatchThresholdKm,
		IndexStepKm: cfg.IndexStepKm,
		TopN:        cfg.MatcherTopN,
		Pricing:     pricing,
		Logger:      logger,
	}

	if n, err := bookings.RebuildIndex(ctx); err != nil {
		logger.Warn("ride index rebuild incomplete, search scans the store", "indexed", n, "error", err)
	} else {
		logger.Info("ride index rebuilt", "rides", n)
	}

	var auth httpapi.Authenticator
	if cfg.JWTSecret != "" {
		auth.Secret = []byte(cfg.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, trusting X-User-ID header")
	}
	handler := httpapi.NewServer(bookings, search, ws, &auth, logger)

	if cfg.ExpirySweepInterval > 0 {
		sw := &sweep.Sweeper{Bookings: bookings, TTL: cfg.PendingTTL, Interval: cfg.ExpirySweepInterval, Logger: logger}
		go sw.Run(ctx)
		logger.Info("expiry sweeper started", "interval", cfg.ExpirySweepInterval, "pending_ttl", cfg.PendingTTL)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("rideshare listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		stop()
		return
	}
	logger.Info("server shut down")
}

func migrate(ctx context.Context, pg *storage.PostgresStore, dir string) error {
	b, err := os.ReadFile(filepath.Join(dir, "001_init.sql"))
	if err != nil {
		return err
	}
	_, err = pg.DB().ExecContext(ctx, string(b))
	return err
}
