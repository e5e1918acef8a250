package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/gzhole/replyshield/internal/config"
	"github.com/gzhole/replyshield/internal/gateway"
	"github.com/gzhole/replyshield/internal/logger"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/session"
)

// runtime is everything a command needs to check replies.
type runtime struct {
	cfg     *config.Config
	lib     *patterns.Library
	packs   []patterns.PackInfo
	catalog messages.Catalog
	log     zerolog.Logger
	store   session.Store
	sink    logger.Sink
	gateway *gateway.Gateway
}

// runtimeOptions selects the parts of the runtime a command wants.
type runtimeOptions struct {
	logOut io.Writer
	pretty bool
	// withAudit opens the audit trail (and Postgres when configured).
	withAudit bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if opts.logOut == nil {
		opts.logOut = io.Discard
	}

	r := &runtime{cfg: cfg, log: logger.NewApp(cfg.LogLevel, opts.pretty, opts.logOut)}

	components, packs, err := loadComponents(cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.lib, r.packs, r.catalog = components.Library, packs, components.Catalog

	if r.store, err = openStore(ctx, cfg, r.log); err != nil {
		return nil, err
	}
	if opts.withAudit {
		if r.sink, err = openSink(ctx, cfg); err != nil {
			_ = r.store.Close()
			return nil, err
		}
	}

	pipeline := gateway.BuildPipeline(components)
	gwOpts := []gateway.Option{
		gateway.WithStore(r.store),
		gateway.WithCatalog(r.catalog),
		gateway.WithLogger(r.log),
		gateway.WithMaxCorrections(cfg.Corrections.MaxAttempts),
	}
	if r.sink != nil {
		gwOpts = append(gwOpts, gateway.WithSink(r.sink))
	}
	r.gateway = gateway.New(pipeline, gwOpts...)
	return r, nil
}

// loadComponents resolves packs, catalog overrides and flags from cfg.
func loadComponents(cfg *config.Config, log zerolog.Logger) (gateway.Components, []patterns.PackInfo, error) {
	lib, packs, err := patterns.LoadPacks(cfg.PacksDir, patterns.Default())
	if err != nil {
		return gateway.Components{}, nil, fmt.Errorf("failed to load pattern packs: %w", err)
	}
	for _, p := range packs {
		if p.Error != "" {
			log.Warn().Str("pack", p.Name).Str("error", p.Error).Msg("pattern pack skipped")
		}
	}

	catalog, err := messages.Load(cfg.MessagesPath, messages.Default())
	if err != nil {
		return gateway.Components{}, nil, err
	}

	fl, err := cfg.FeatureFlags()
	if err != nil {
		return gateway.Components{}, nil, err
	}

	return gateway.Components{
		Library:     lib,
		Catalog:     catalog,
		Flags:       &fl,
		Intents:     cfg.Intents,
		URLPolicies: cfg.URLPolicies,
		Logger:      log,
	}, packs, nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (session.Store, error) {
	if cfg.Session.Backend == config.BackendRedis {
		client, err := session.Connect(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisRetries, log)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(client, cfg.Session.Options), nil
	}
	return session.NewMemoryStore(cfg.Session.Capacity, cfg.Session.Options)
}

func openSink(ctx context.Context, cfg *config.Config) (logger.Sink, error) {
	audit, err := logger.New(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return audit, nil
	}
	pg, err := logger.NewPostgresSink(ctx, cfg.Postgres.DSN)
	if err != nil {
		_ = audit.Close()
		return nil, err
	}
	return logger.MultiSink{audit, pg}, nil
}

func (r *runtime) Close() error {
	var errs []error
	if r.sink != nil {
		errs = append(errs, r.sink.Close())
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
