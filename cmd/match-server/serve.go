package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/events"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/hub"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/match"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides HTTP_ADDR")
	return cmd
}

// closers run in reverse registration order on shutdown.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	log, logFile, err := obslog.Init()
	if err != nil {
		return err
	}
	var cleanup closers
	defer cleanup.run()
	cleanup.add(func() { _ = logFile.Close() })
	cleanup.add(func() { _ = log.Sync() })

	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("telemetry_shutdown_error", zap.Error(err))
		}
	})

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}
	m := metrics.New()

	var mirror registry.Mirror
	if cfg.RedisURL != "" {
		opts, err := registry.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		cleanup.add(func() { _ = rdb.Close() })
		mirror = registry.NewRedisMirror(rdb)
		log.Info("redis_mirror_enabled", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	}

	var trackers []func(*match.Session)
	if cfg.DatabaseURL != "" {
		repo, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		cleanup.add(func() { _ = repo.Close() })
		archiver := archive.NewArchiver(repo, log.Named("archive"))
		cleanup.add(archiver.Close)
		trackers = append(trackers, archiver.Track)
		log.Info("archive_enabled")
	}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		cleanup.add(func() { drainNATS(nc, log) })
		notifier := events.NewNotifier(nc, cfg.NATSSubjectPrefix, log.Named("events"))
		cleanup.add(notifier.Close)
		trackers = append(trackers, notifier.Track)
		log.Info("events_enabled", zap.String("prefix", cfg.NATSSubjectPrefix))
	}

	var h *hub.Hub
	reg, err := registry.New(registry.Config{
		Engine:          rules.NewChess(),
		CreationTimeout: cfg.CreationTimeout,
		Retention:       cfg.Retention,
		DisconnectGrace: cfg.DisconnectGrace,
		Mirror:          mirror,
		Logger:          log.Named("registry"),
	}, registry.Hooks{
		OnCreate: func(s *match.Session) {
			h.Track(s)
			s.Subscribe(m.Observe)
			m.SessionCreated()
			for _, track := range trackers {
				track(s)
			}
		},
		OnEvict: func(code string) { h.CloseRoom(code) },
	})
	if err != nil {
		return err
	}
	cleanup.add(reg.Close)
	m.RegisterLiveSessions(reg.Len)

	h = hub.New(reg, hub.Options{SendBuffer: cfg.SendBuffer, Messages: messages, Metrics: m, Logger: log.Named("hub")})
	cleanup.add(h.Close)

	log.Warn("identity_resolver_unverified", zap.String("resolver", "plain"))
	api, err := httpapi.New(httpapi.Config{
		Registry:           reg,
		Hub:                h,
		Identities:         identity.Plain{},
		Messages:           messages,
		Metrics:            m,
		Logger:             log.Named("http"),
		DefaultTimeControl: cfg.DefaultTimeControl,
		Stream:             hub.StreamOptions{OriginPatterns: cfg.AllowedOrigins, SendBuffer: cfg.SendBuffer},
		Middleware:         telemetry.Middleware(cfg.ServiceName, log.Named("access")),
	})
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go reg.Run(sweepCtx, cfg.SweepInterval)
	cleanup.add(stopSweep)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown_begin")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http_shutdown_error", zap.Error(err))
	}
	log.Info("shutdown_complete")
	return nil
}

func drainNATS(nc *nats.Conn, log *zap.Logger) {
	if err := nc.Drain(); err != nil {
		log.Warn("nats_drain_error", zap.Error(err))
		nc.Close()
	}
}
