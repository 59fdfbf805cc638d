package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"postwise.io/internal/obs"
)

// Scheduler triggers sweeps on a fixed interval inside the API process.
// Deployments that drive sweeps from an external cron leave it disabled.
type Scheduler struct {
	d        *Dispatcher
	interval time.Duration
	log      *logrus.Logger
}

func NewScheduler(d *Dispatcher, interval time.Duration) *Scheduler {
	return &Scheduler{d: d, interval: interval, log: obs.Logger()}
}

// Run sweeps every interval until ctx is done. A non-positive interval
// returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.d.Sweep(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.log.Debug("sweep_skipped_in_progress")
	case err != nil && ctx.Err() == nil:
		s.log.WithError(err).Error("scheduled_sweep_failed")
	case len(res.Errors) > 0:
		s.log.WithField("errors", res.Errors).Warn("scheduled_sweep_errors")
	}
}
