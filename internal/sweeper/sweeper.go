// Package sweeper purges expired sessions and one-time code challenges on a cron schedule.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/metrics"
)

const runTimeout = 30 * time.Second

// SessionStore deletes sessions past their absolute expiry or idle since idleCutoff.
type SessionStore interface {
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
}

// ChallengeStore deletes expired challenges.
type ChallengeStore interface {
	Sweep(ctx context.Context) (int64, error)
}

// Sweeper runs one purge pass per tick.
type Sweeper struct {
	sessions   SessionStore
	challenges ChallengeStore
	idle       time.Duration
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	nowF       func() time.Time
}

// New returns a Sweeper. idle is the session idle timeout; zero disables idle expiry.
// metrics may be nil.
func New(sessions SessionStore, challenges ChallengeStore, idle time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		sessions:   sessions,
		challenges: challenges,
		idle:       idle,
		metrics:    m,
		log:        log.WithField("component", "sweeper"),
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce purges both tables. A failure on one table does not skip the other.
func (s *Sweeper) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	now := s.nowF()
	var idleCutoff time.Time
	if s.idle > 0 {
		idleCutoff = now.Add(-s.idle)
	}
	if n, err := s.sessions.DeleteExpired(ctx, now, idleCutoff); err != nil {
		s.log.WithError(err).Warn("session sweep failed")
	} else {
		s.record("sessions", n)
	}
	if n, err := s.challenges.Sweep(ctx); err != nil {
		s.log.WithError(err).Warn("challenge sweep failed")
	} else {
		s.record("otp_challenges", n)
	}
}

func (s *Sweeper) record(table string, n int64) {
	s.metrics.RecordSweep(table, n)
	if n > 0 {
		s.log.WithFields(logrus.Fields{"table": table, "rows": n}).Info("swept expired rows")
	}
}

// Schedule registers RunOnce on c under spec (e.g. "@every 1m").
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() { s.RunOnce(ctx) })
}
