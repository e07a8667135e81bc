package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sweepd/sweepd/internal/config"
	"github.com/sweepd/sweepd/internal/opportunity"
)

// Storer is the slice of store behaviour the refresher needs.
type Storer interface {
	UpsertOpportunities(ctx context.Context, opps []opportunity.Opportunity) (int, error)
	Candidates(ctx context.Context) ([]opportunity.Opportunity, error)
}

// Announcer is told about newly discovered opportunities. The notify
// dispatcher satisfies it.
type Announcer interface {
	OpportunityDiscovered(ctx context.Context, opp *opportunity.Opportunity)
}

// Refresher periodically pulls the endpoint and probes the configured
// sources, persisting what it finds.
type Refresher struct {
	client    *Client
	cfg       config.FeedConfig
	store     Storer
	announcer Announcer
	logger    *slog.Logger
	cron      *cron.Cron
	timeout   time.Duration
}

// NewRefresher creates a Refresher. announcer may be nil.
func NewRefresher(client *Client, cfg config.FeedConfig, store Storer, announcer Announcer, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		client:    client,
		cfg:       cfg,
		store:     store,
		announcer: announcer,
		logger:    logger,
		cron:      cron.New(),
		timeout:   5 * time.Minute,
	}
}

// Start runs one refresh immediately, then schedules the rest per the
// configured cron spec.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.Refresh(ctx); err != nil {
		r.logger.Warn("feed: initial refresh failed", "error", err)
	}

	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		refreshCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if _, err := r.Refresh(refreshCtx); err != nil {
			r.logger.Warn("feed: scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("feed: schedule %q: %w", r.cfg.Schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

// Refresh pulls every configured source once and returns the number of
// newly discovered opportunities. Individual source failures are logged
// and skipped.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	var discovered []opportunity.Opportunity

	if r.cfg.Endpoint != "" {
		opps, err := r.client.FetchEndpoint(ctx, r.cfg.Endpoint)
		if err != nil {
			r.logger.Warn("feed: endpoint fetch failed", "endpoint", r.cfg.Endpoint, "error", err)
		} else {
			discovered = append(discovered, opps...)
		}
	}

	for _, src := range r.cfg.Sources {
		opp, err := r.client.ProbeSource(ctx, src)
		if err != nil {
			r.logger.Warn("feed: probe failed", "source", src.Key, "error", err)
			continue
		}
		if opp != nil {
			discovered = append(discovered, *opp)
		}
	}

	if len(discovered) == 0 {
		return 0, nil
	}

	known := make(map[string]bool)
	if existing, err := r.store.Candidates(ctx); err == nil {
		for _, o := range existing {
			known[o.ID] = true
		}
	}

	inserted, err := r.store.UpsertOpportunities(ctx, discovered)
	if err != nil {
		return 0, fmt.Errorf("feed: persist refresh: %w", err)
	}

	if r.announcer != nil {
		for i := range discovered {
			if !known[discovered[i].ID] {
				r.announcer.OpportunityDiscovered(ctx, &discovered[i])
			}
		}
	}

	r.logger.Info("feed: refresh complete", "discovered", len(discovered), "new", inserted)
	return inserted, nil
}
