package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"candlevault/internal/config"
	"candlevault/internal/logger"
	"candlevault/internal/market"
	"candlevault/internal/scheduler"
)

// App owns application-level orchestration: build the object graph, run the
// initial backfill, start the live pipeline and the maintenance schedulers.
type App struct {
	cfg   *config.Config
	comps *Components
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	comps, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, comps: comps}, nil
}

// Components exposes the wired graph for harnesses and tests.
func (a *App) Components() *Components {
	if a == nil {
		return nil
	}
	return a.comps
}

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.comps == nil {
		return fmt.Errorf("app not initialized")
	}
	c := a.comps

	logger.Infof("Backfilling %d pairs x %d granularities (%d days)",
		len(c.Pairs), len(c.Granularities), a.cfg.Candles.BackfillDays)
	if err := c.Backfill.BackfillAll(ctx, c.Pairs, c.Granularities, a.cfg.Candles.BackfillDays); err != nil {
		return fmt.Errorf("initial backfill: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	ticks, err := c.Source.SubscribeTicks(ctx, c.Pairs, market.SubscribeOptions{})
	if err != nil {
		return fmt.Errorf("subscribing tick feed: %w", err)
	}
	for _, pair := range c.Pairs {
		if err := c.Aggregator.Subscribe(ctx, pair); err != nil {
			return err
		}
	}

	group.Go(func() error {
		c.Aggregator.Consume(ctx, ticks)
		return nil
	})
	group.Go(func() error {
		c.Reconciler.Run(ctx)
		return nil
	})

	a.startSchedulers(ctx, group)

	if c.Trader != nil {
		group.Go(func() error {
			c.Trader.Run(ctx, c.Aggregator.Events())
			return nil
		})
		profileID := a.cfg.Strategy.DefaultProfile
		for _, pair := range c.Pairs {
			if _, err := c.Trader.StartSessionFromProfile(ctx, pair, profileID); err != nil {
				logger.Errorf("starting session for %s: %v", pair, err)
			}
		}
	} else {
		// Nobody consumes events otherwise; drain so emit never stalls.
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-c.Aggregator.Events():
				}
			}
		})
	}

	err = group.Wait()
	a.shutdown()
	return err
}

func (a *App) startSchedulers(ctx context.Context, group *errgroup.Group) {
	c := a.comps

	if interval, ok := scheduler.ParseIntervalDuration(a.cfg.Candles.GapRepairInterval); ok {
		group.Go(func() error {
			s := scheduler.NewAlignedScheduler(ctx, interval, 30*time.Second)
			s.Start(func() {
				for _, pair := range c.Pairs {
					for _, g := range c.Granularities {
						if _, err := c.Backfill.FillRecentGaps(ctx, pair, g, a.cfg.Candles.RecentGapHours); err != nil {
							logger.Warnf("gap repair %s %s: %v", pair, g, err)
						}
					}
				}
				if line, ok := sourceHealthLine(c.Source.Stats()); ok {
					logger.Warnf("%s", line)
				}
			})
			return nil
		})
	}

	if interval, ok := scheduler.ParseIntervalDuration(a.cfg.Candles.RetentionSweepInterval); ok {
		horizons := make(map[market.Granularity]int, len(a.cfg.Candles.RetentionDays))
		for raw, days := range a.cfg.Candles.RetentionDays {
			if g, err := market.ParseGranularity(raw); err == nil {
				horizons[g] = days
			}
		}
		if len(horizons) > 0 {
			group.Go(func() error {
				s := scheduler.NewAlignedScheduler(ctx, interval, time.Minute)
				s.Start(func() {
					c.Backfill.SweepRetention(ctx, c.Pairs, horizons)
				})
				return nil
			})
		}
	}

	if interval, ok := scheduler.ParseIntervalDuration(a.cfg.Realtime.SlowReconcileInterval); ok {
		group.Go(func() error {
			s := scheduler.NewAlignedOnceScheduler(ctx, time.Minute, interval, 10*time.Second)
			s.Name = "slow-reconcile"
			s.Start(func() {
				for _, pair := range c.Pairs {
					c.Reconciler.EnqueueRecent(pair, a.cfg.Realtime.SlowReconcileMinutes)
				}
			})
			return nil
		})
	}
}

// sourceHealthLine summarizes upstream feed trouble since startup; ok is
// false when there is nothing worth reporting.
func sourceHealthLine(st market.SourceStats) (string, bool) {
	if st.Reconnects == 0 && st.SubscribeErrors == 0 {
		return "", false
	}
	line := fmt.Sprintf("upstream feed: %d reconnects, %d subscribe errors", st.Reconnects, st.SubscribeErrors)
	if st.LastError != "" {
		line += ", last error: " + st.LastError
	}
	return line, true
}

func (a *App) shutdown() {
	c := a.comps
	c.Aggregator.StopAll()
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			logger.Warnf("closing ledger: %v", err)
		}
	}
	if c.Source != nil {
		if err := c.Source.Close(); err != nil {
			logger.Warnf("closing source: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warnf("closing redis: %v", err)
		}
	}
	logger.Infof("Shutdown complete")
}
