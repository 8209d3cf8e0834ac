package cmd

import (
	"context"
	"fmt"

	"github.com/reelsync/reelsync/internal/client"
	"github.com/reelsync/reelsync/internal/config"
	"github.com/reelsync/reelsync/internal/core/engine"
	"github.com/reelsync/reelsync/internal/core/events"
	"github.com/reelsync/reelsync/internal/core/ratelimit"
	"github.com/reelsync/reelsync/internal/core/store"
)

// session bundles the engine wiring a one-shot CLI command needs. Auto sync
// stays off here: CLI commands replay the queue only when asked to.
type session struct {
	cfg     *config.Config
	store   *store.Store
	limiter *ratelimit.Limiter
	syncer  *engine.Syncer
	bus     *events.Bus
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	rules, err := cfg.EffectiveRateLimits()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	limiter := ratelimit.New(rules)

	httpClient := client.New(limiter, cfg.Backend.BaseURL, cfg.Backend.SearchPath, cfg.Backend.Timeout)
	if cfg.Backend.MaxWait > 0 {
		httpClient.MaxWait = cfg.Backend.MaxWait
	}

	bus := events.NewBus(0)
	syncer := engine.New(db, httpClient, bus, engine.Options{
		MaxRetries:  cfg.Sync.MaxRetries,
		CacheTTL:    cfg.Cache.TTL,
		ReplayRate:  cfg.Sync.ReplayRate,
		ReplayBurst: cfg.Sync.ReplayBurst,
	})

	return &session{
		cfg:     cfg,
		store:   db,
		limiter: limiter,
		syncer:  syncer,
		bus:     bus,
	}, nil
}

// probeOnline runs a single connectivity probe and records the result.
func (s *session) probeOnline(ctx context.Context) bool {
	prober := engine.NewProber(s.syncer, s.cfg.Backend.BaseURL+s.cfg.Backend.HealthPath, 0)
	online := prober.Probe(ctx)
	s.syncer.SetOnline(online)
	return online
}

func (s *session) Close() {
	if s != nil && s.store != nil {
		_ = s.store.Close()
	}
}
