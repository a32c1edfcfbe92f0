package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// sweepTimeout bounds a single pass over the artifact directory.
const sweepTimeout = 5 * time.Minute

// Sweeper deletes expired artifacts at startup and then on a cron schedule.
type Sweeper struct {
	artifacts services.ArtifactServiceProvider
	schedule  cron.Schedule
	expr      string

	mu       sync.Mutex // one sweep at a time
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a Sweeper for the given cron expression (e.g. "@every 10m").
func NewSweeper(artifacts services.ArtifactServiceProvider, expr string) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	return &Sweeper{
		artifacts: artifacts,
		schedule:  schedule,
		expr:      expr,
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}, nil
}

// Run sweeps once immediately, then on every tick of the schedule until Stop.
func (s *Sweeper) Run() {
	defer close(s.finished)
	log.Info().Str("schedule", s.expr).Str("dir", s.artifacts.Dir()).Msg("Starting artifact sweeper...")

	// Run once immediately on start
	s.sweep()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(s.sweep))
	c.Start()

	<-s.done
	log.Info().Msg("Stopping artifact sweeper.")
	// Wait for a sweep in progress.
	<-c.Stop().Done()
}

// Stop halts the sweeper and waits for Run to return. It must only be called after Run was started.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.finished
}

// SweepOnce runs a single pass and reports how many artifacts were deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.artifacts.Sweep(ctx, s.artifacts.Dir(), s.artifacts.Retention())
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", s.artifacts.Dir()).Msg("Sweeper: expired artifacts deleted")
	}
	return removed, nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.SweepOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Sweeper: sweep failed")
	}
}
