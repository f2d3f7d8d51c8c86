package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/access"
	"github.com/sells-group/leadfinder/internal/enrich"
	"github.com/sells-group/leadfinder/internal/ingest"
	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/provider"
	"github.com/sells-group/leadfinder/internal/resilience"
	"github.com/sells-group/leadfinder/internal/store"
	"github.com/sells-group/leadfinder/pkg/google"
)

// pipelineEnv holds the store, services and clients needed by the
// serve and search commands.
type pipelineEnv struct {
	Store    store.Store
	Access   *access.Service
	Pipeline *ingest.Pipeline
	Cache    *enrich.RedisCache // may be nil
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store and builds the
// ingestion pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Access: access.New(st)}

	googleClient := google.NewClient(cfg.Google.Key,
		google.WithBaseURL(cfg.Google.BaseURL),
		google.WithPageSize(cfg.Google.PageSize),
	)
	googleCfg := provider.GoogleConfig{
		Retry:    resilience.FromRetryConfig(cfg.Provider.MaxAttempts, cfg.Provider.InitialBackoffMs, cfg.Provider.MaxBackoffMs),
		MaxPages: cfg.Provider.MaxPages,
	}
	if cfg.Provider.BreakerThreshold > 0 {
		googleCfg.Breaker = provider.NewBreaker(cfg.Provider.BreakerThreshold,
			time.Duration(cfg.Provider.BreakerCooldownSecs)*time.Second)
	}
	places := provider.NewGoogle(googleClient, googleCfg)

	var enrichOpts []enrich.Option
	if cfg.Cache.RedisURL != "" {
		cache, err := enrich.NewRedisCache(cfg.Cache.RedisURL)
		if err != nil {
			env.Close()
			return nil, err
		}
		if err := cache.Ping(ctx); err != nil {
			// The cache is optional; run without it rather than fail.
			zap.L().Warn("redis cache unreachable, enrichment cache disabled", zap.Error(err))
			_ = cache.Close()
		} else {
			env.Cache = cache
			enrichOpts = append(enrichOpts, enrich.WithCache(cache))
			zap.L().Info("enrichment cache enabled")
		}
	}
	enricher := enrich.New(enrich.Config{
		Timeout:            cfg.Enrich.Timeout(),
		MaxBodyBytes:       cfg.Enrich.MaxBodyBytes,
		UserAgent:          cfg.Enrich.UserAgent,
		PlaceholderDomains: cfg.Enrich.PlaceholderDomains,
		RatePerSec:         cfg.Enrich.RatePerSec,
		Burst:              cfg.Enrich.Burst,
		CacheTTL:           cfg.Cache.TTL(),
	}, enrichOpts...)

	env.Pipeline = ingest.New(st, places, enricher, ingest.Config{
		Workers:         cfg.Enrich.Workers,
		ConflictRetries: cfg.Ingest.ConflictRetries,
	})

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("workers", cfg.Enrich.Workers),
		zap.Int("max_pages", cfg.Provider.MaxPages),
	)
	return env, nil
}

// ingestTimeout returns the configured per-ingestion bound.
func ingestTimeout() time.Duration {
	if cfg.Ingest.TimeoutSecs <= 0 {
		return 0
	}
	return time.Duration(cfg.Ingest.TimeoutSecs) * time.Second
}

// lookupOwner resolves --owner to a stored identity.
func lookupOwner(ctx context.Context, st store.Store, email string) (*model.Identity, error) {
	if email == "" {
		return nil, eris.New("--owner is required")
	}
	id, err := st.GetIdentityByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrapf(err, "look up owner %s", email)
	}
	return id, nil
}
