package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Runner drives the engine on a fixed tick: instantiate today's tasks, send
// due reminders, then close out expired windows. Pass failures are logged
// and the loop keeps ticking.
type Runner struct {
	engine *Engine
	tick   time.Duration
	logger zerolog.Logger
	done   chan struct{}
}

func NewRunner(engine *Engine, tick time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		engine: engine,
		tick:   tick,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the loop in its own goroutine. It stops when ctx is
// cancelled; Wait blocks until the in-flight pass has finished.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) Wait() {
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	r.logger.Info().Dur("tick", r.tick).Msg("Engine runner started")
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	// An immediate pass so a restart does not wait a full tick.
	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Engine runner stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	now := r.engine.clock.Now()
	if _, err := r.engine.EnsureInstancesForDate(ctx, now); err != nil {
		r.logger.Error().Err(err).Msg("Instantiation pass failed")
	}
	if _, err := r.engine.RunReminderPass(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Reminder pass failed")
	}
	if _, err := r.engine.RunMissedPass(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Missed pass failed")
	}
}
