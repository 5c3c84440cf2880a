package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ugchub/internal/catalog"
	"ugchub/internal/config"
	"ugchub/internal/db"
	"ugchub/internal/engine"
	"ugchub/internal/logging"
	"ugchub/internal/metrics"
	"ugchub/internal/migrate"
	"ugchub/internal/notify"
	"ugchub/internal/onboarding"
	"ugchub/internal/realtime"
)

// Session carries everything one process needs: config, connections, the
// engine and its collaborators. It replaces process-wide globals.
type Session struct {
	Workspace  string
	Config     *config.Config
	DB         *sql.DB
	Dialect    string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Engine     engine.Engine
	Onboarding onboarding.Store

	closers []func() error
}

type Options struct {
	Workspace string
	// Overrides holds flag and environment values applied over the file.
	Overrides *viper.Viper
	// Connect dials Redis and RabbitMQ when configured. CLI commands that
	// only touch the database leave it off.
	Connect bool
	// Migrate applies pending migrations after opening the database.
	Migrate bool
}

// Open loads config, opens the database and wires the engine.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.Overrides != nil {
		if err := cfg.ApplyOverrides(opts.Overrides); err != nil {
			return nil, err
		}
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Workspace:  opts.Workspace,
		Config:     cfg,
		Dialect:    db.Dialect(cfg.Database.Driver),
		Logger:     logger,
		Metrics:    metrics.New(),
		Onboarding: onboarding.NewStore(opts.Workspace),
	}
	s.closers = append(s.closers, func() error { _ = logger.Sync(); return nil })

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	conn, err := db.Open(cfg.DB(opts.Workspace))
	if err != nil {
		return nil, err
	}
	s.DB = conn
	s.closers = append(s.closers, conn.Close)
	if err := conn.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect %s: %w", s.Dialect, err)
	}
	if opts.Migrate {
		if err := migrate.Migrate(conn, s.Dialect); err != nil {
			s.Close()
			return nil, err
		}
	}

	eng := engine.New(conn, s.Dialect, cat, logger)
	eng.Metrics = s.Metrics
	s.closers = append(s.closers, eng.Broker.Close)
	if opts.Connect {
		if err := s.connect(ctx, &eng); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.Engine = eng
	return s, nil
}

// connect swaps in the Redis broker and the AMQP publisher. Each client is
// registered for Close as soon as it is up.
func (s *Session) connect(ctx context.Context, eng *engine.Engine) error {
	cfg := s.Config
	if cfg.Realtime.Broker == "redis" {
		b := realtime.NewRedisBroker(realtime.RedisConfig{Addr: cfg.Realtime.RedisAddr, DB: cfg.Realtime.RedisDB}, s.Logger)
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		eng.Broker = b
		s.closers = append(s.closers, b.Close)
		s.Logger.Info("realtime broker: redis", zap.String("addr", cfg.Realtime.RedisAddr))
	}
	if cfg.AMQP.URL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		eng.Publisher = p
		s.closers = append(s.closers, p.Close)
		s.Logger.Info("outbound events: amqp", zap.String("exchange", cfg.AMQP.Exchange))
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
