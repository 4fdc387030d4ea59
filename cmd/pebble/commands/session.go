package commands

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/marshallshelly/pebble-integrity/pkg/config"
	"github.com/marshallshelly/pebble-integrity/pkg/events"
	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/loader"
	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/persistence"
	"github.com/marshallshelly/pebble-integrity/pkg/registry"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
)

// session holds everything a command needs to talk to the engine.
type session struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *integrity.Engine
	feed   *events.NATSPublisher
	db     *runtime.DB
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	s := &session{cfg: cfg, log: log}

	reg, err := loadRegistry()
	if err != nil {
		s.Close()
		return nil, err
	}

	backend, err := s.openBackend(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	opts := []integrity.Option{integrity.WithLogger(log)}
	if cfg.NATS.URL != "" {
		s.feed, err = events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			s.Close()
			return nil, err
		}
		opts = append(opts, integrity.WithPublisher(s.feed))
	}

	s.engine, err = integrity.Open(ctx, reg, backend, opts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return s, nil
}

func (s *session) openBackend(ctx context.Context) (persistence.Backend, error) {
	var backend persistence.Backend
	switch s.cfg.Backend.Driver {
	case config.DriverPostgres:
		db, err := runtime.Connect(ctx, s.cfg.Postgres.DB())
		if err != nil {
			return nil, err
		}
		s.db = db
		pg := persistence.NewPostgres(db)
		if err := pg.Initialize(ctx); err != nil {
			return nil, err
		}
		backend = pg
	case config.DriverRedis:
		rd, err := persistence.NewRedis(ctx, s.cfg.Redis.Options())
		if err != nil {
			return nil, err
		}
		backend = rd
	default:
		backend = persistence.NewMemory()
	}

	if s.cfg.Retry.Enabled {
		backend = persistence.WithRetry(backend, s.cfg.Retry.Policy(), s.log)
	}
	s.log.Debug("backend ready", zap.String("driver", s.cfg.Backend.Driver), zap.Bool("retry", s.cfg.Retry.Enabled))
	return backend, nil
}

// Close releases connections in reverse order of acquisition.
func (s *session) Close() {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Warn("failed to close backend", zap.Error(err))
		}
	}
	if s.feed != nil {
		if err := s.feed.Close(); err != nil {
			s.log.Warn("failed to close change feed", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	_ = s.log.Sync()
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if verbose || cfg.Development {
		return zap.NewDevelopment()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}

// loadRegistry returns the built-in kinds, or the kinds declared under --models.
func loadRegistry() (*registry.Registry, error) {
	if modelsPath == "" {
		return models.Registry()
	}
	reg := registry.NewRegistry()
	count, err := loader.LoadModelsFromPath(modelsPath, reg)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("no models found in " + modelsPath)
	}
	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("invalid models in %s: %w", modelsPath, err)
	}
	return reg, nil
}

// withSession opens a session for the duration of fn.
func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
