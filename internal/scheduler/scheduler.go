// Package scheduler drives deadline checks for claims awaiting a guest
// response.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/clock"
	"github.com/claimflow/internal/workflow"
)

const (
	DefaultInterval       = 300 * time.Second
	DefaultMaxConcurrency = 8
)

// Config tunes the scheduler loop. A MaxConcurrency of 1 runs each tick as
// a single sequential engine sweep.
type Config struct {
	Interval       time.Duration
	MaxConcurrency int
}

// TickReport summarises one scheduler tick.
type TickReport struct {
	Checked   int
	Reminded  int
	Suspended int
	Failed    int
	Intents   int
	At        time.Time
}

// Checker is the engine surface the scheduler needs. *workflow.Engine
// satisfies it.
type Checker interface {
	Due(ctx context.Context, now time.Time) iter.Seq2[*claims.Claim, error]
	CheckDeadline(ctx context.Context, claimID string, now time.Time) (workflow.DeadlineAction, workflow.Outcome, error)
	CheckDeadlines(ctx context.Context, now time.Time) (workflow.SweepReport, error)
}

// Scheduler periodically reminds and suspends awaiting claims.
type Scheduler struct {
	engine Checker
	clock  clock.Clock
	cfg    Config
	locks  *keyedMutex
}

// New returns a scheduler with defaults filled in.
func New(engine Checker, clk clock.Clock, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Scheduler{engine: engine, clock: clk, cfg: cfg, locks: newKeyedMutex()}
}

// Interval is the delay between ticks.
func (s *Scheduler) Interval() time.Duration { return s.cfg.Interval }

// Tick checks every claim whose reminder or deadline is due at the current
// time. Claims are processed concurrently but never twice at once.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	now := s.clock.Now()
	if s.cfg.MaxConcurrency == 1 {
		sweep, err := s.engine.CheckDeadlines(ctx, now)
		report := TickReport{
			Checked:   sweep.Checked,
			Reminded:  sweep.Reminded,
			Suspended: sweep.Suspended,
			Failed:    sweep.Failed,
			Intents:   len(sweep.Intents),
			At:        now,
		}
		logTick(report)
		return report, err
	}

	report := TickReport{At: now}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	var scanErr error
	for c, err := range s.engine.Due(ctx, now) {
		if err != nil {
			scanErr = fmt.Errorf("scan awaiting claims: %w", err)
			break
		}
		if gctx.Err() != nil {
			break
		}
		id := c.ID
		g.Go(func() error {
			unlock := s.locks.lock(id)
			defer unlock()

			action, out, err := s.engine.CheckDeadline(gctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			report.Intents += len(out.Intents)
			switch {
			case err != nil:
				report.Failed++
				log.Warn().Err(err).Str("claim_id", id).Msg("Deadline check failed")
			case action == workflow.ActionReminded:
				report.Reminded++
			case action == workflow.ActionSuspended:
				report.Suspended++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && scanErr == nil {
		scanErr = err
	}

	logTick(report)
	return report, scanErr
}

func logTick(report TickReport) {
	log.Info().
		Int("checked", report.Checked).
		Int("reminded", report.Reminded).
		Int("suspended", report.Suspended).
		Int("failed", report.Failed).
		Msg("Deadline tick finished")
}

// Run ticks immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.cfg.Interval).Msg("Deadline scheduler started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Deadline tick failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Deadline scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
