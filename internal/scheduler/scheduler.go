// Package scheduler runs the periodic workbench jobs on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"patternpilot/config"
	"patternpilot/internal/markethours"
	"patternpilot/internal/metrics"
	"patternpilot/internal/workbench"

	"github.com/robfig/cron/v3"
)

// marketTickSpec samples the session state once a minute.
const marketTickSpec = "0 * * * * *"

// Refresher recomputes the rotation board.
type Refresher interface {
	RefreshRotation(ctx context.Context, tradingDaysOnly bool) ([]workbench.QuadrantChange, error)
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Refresher Refresher
	Metrics   *metrics.Metrics
	Ctx       context.Context

	now func() time.Time
}

// NewScheduler creates a scheduler whose jobs run under ctx. m may be nil.
func NewScheduler(ctx context.Context, r Refresher, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(cron.WithParser(config.CronParser)),
		Refresher: r,
		Metrics:   m,
		Ctx:       ctx,
		now:       time.Now,
	}
}

// RegisterAll registers the rotation refresh on refreshCron and the
// market-state sampler.
func (s *Scheduler) RegisterAll(refreshCron string) error {
	if _, err := s.Cron.AddFunc(refreshCron, func() { s.RunRefreshNow(true) }); err != nil {
		return fmt.Errorf("register rotation refresh: %w", err)
	}
	if _, err := s.Cron.AddFunc(marketTickSpec, s.marketTick); err != nil {
		return fmt.Errorf("register market tick: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.marketTick()
	s.Cron.Start()
	log.Printf("[scheduler] started with %d jobs", len(s.Cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

// RunRefreshNow executes the rotation refresh immediately. With
// tradingDaysOnly set it does nothing on weekends and NYSE holidays.
func (s *Scheduler) RunRefreshNow(tradingDaysOnly bool) {
	s.run("rotation_refresh", func() error {
		changes, err := s.Refresher.RefreshRotation(s.Ctx, tradingDaysOnly)
		if err != nil {
			return err
		}
		for _, c := range changes {
			log.Printf("[scheduler] %s rotated %s -> %s", c.Symbol, c.From, c.To)
		}
		return nil
	})
}

func (s *Scheduler) marketTick() {
	s.run("market_tick", func() error {
		if s.Metrics == nil {
			return nil
		}
		open := 0.0
		if markethours.IsMarketOpen(s.now()) {
			open = 1
		}
		s.Metrics.MarketState.Set(open)
		return nil
	})
}

// run executes one job, recording its outcome. A panicking job is
// reported as an error and does not take the scheduler down.
func (s *Scheduler) run(job string, fn func() error) {
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			log.Printf("[scheduler] %s panicked: %v", job, r)
		}
		if s.Metrics != nil {
			s.Metrics.JobRuns.WithLabelValues(job, status).Inc()
		}
	}()
	if err := fn(); err != nil {
		status = "error"
		log.Printf("[scheduler] %s failed: %v", job, err)
	}
}
