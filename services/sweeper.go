package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StaleAttemptExpirer is implemented by AttemptService.
type StaleAttemptExpirer interface {
	ExpireStaleAttempts(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically expires attempts that ran out of time without being
// submitted.
type Sweeper struct {
	attempts StaleAttemptExpirer
	interval time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

func NewSweeper(attempts StaleAttemptExpirer, interval time.Duration, log *logrus.Entry) *Sweeper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sweeper{
		attempts: attempts,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.WithField("component", "sweeper"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("Attempt sweeper started")
	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("Attempt sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.attempts.ExpireStaleAttempts(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.log.WithError(err).WithField("expired", expired).Error("Attempt sweep failed")
	}
}
