package service

import (
	"context"
	"time"

	"github.com/arelec/be-report-validation/internal/platform/logger"
)

// ExpirySweeper periodically expires overdue cases and sends automatic
// reminders. It is the in-process scheduler for the time-driven part of the
// workflow; expiry never happens as a side effect of a read.
type ExpirySweeper struct {
	engine           *WorkflowEngineService
	interval         time.Duration
	reminderInterval time.Duration
	log              *logger.Logger
}

// NewExpirySweeper creates a sweeper over the given engine.
func NewExpirySweeper(engine *WorkflowEngineService, interval, reminderInterval time.Duration, log *logger.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		engine:           engine,
		interval:         interval,
		reminderInterval: reminderInterval,
		log:              log,
	}
}

// Run sweeps on every tick until the context is cancelled. One pass runs
// immediately on start so restarts do not delay overdue expirations.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	if _, err := s.engine.SweepExpired(ctx); err != nil {
		s.log.Error().Err(err).Msg("Expiry sweep failed")
	}
	if s.reminderInterval > 0 {
		sent, err := s.engine.SendAutoReminders(ctx, s.reminderInterval)
		if err != nil {
			s.log.Error().Err(err).Msg("Auto reminder pass failed")
		} else if sent > 0 {
			s.log.Info().Int("count", sent).Msg("Automatic reminders recorded")
		}
	}
}
