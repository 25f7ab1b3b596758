package sweeper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodial-ledger/internal/metrics"
)

type fakeSessions struct {
	n         int64
	err       error
	now, idle time.Time
	calls     int
}

func (f *fakeSessions) DeleteExpired(_ context.Context, now, idleCutoff time.Time) (int64, error) {
	f.calls++
	f.now, f.idle = now, idleCutoff
	return f.n, f.err
}

type fakeChallenges struct {
	n     int64
	err   error
	calls int
}

func (f *fakeChallenges) Sweep(context.Context) (int64, error) {
	f.calls++
	return f.n, f.err
}

func TestRunOnce_PurgesBothTables(t *testing.T) {
	sessions := &fakeSessions{n: 3}
	challenges := &fakeChallenges{n: 2}
	m := metrics.New()
	logger, hook := test.NewNullLogger()
	s := New(sessions, challenges, 30*time.Minute, m, logger)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.nowF = func() time.Time { return fixed }

	s.RunOnce(context.Background())

	assert.Equal(t, fixed, sessions.now)
	assert.Equal(t, fixed.Add(-30*time.Minute), sessions.idle)
	assert.Equal(t, 1, challenges.calls)
	assert.Len(t, hook.AllEntries(), 2)
	body := scrape(t, m)
	assert.Contains(t, body, `custodial_ledger_worker_swept_rows_total{table="sessions"} 3`)
	assert.Contains(t, body, `custodial_ledger_worker_swept_rows_total{table="otp_challenges"} 2`)
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("db down")}
	challenges := &fakeChallenges{n: 1}
	logger, hook := test.NewNullLogger()
	s := New(sessions, challenges, 0, nil, logger)

	s.RunOnce(context.Background())

	assert.True(t, sessions.idle.IsZero())
	assert.Equal(t, 1, challenges.calls)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "session sweep failed", hook.AllEntries()[0].Message)
}

func TestSchedule_RegistersEntry(t *testing.T) {
	s := New(&fakeSessions{}, &fakeChallenges{}, 0, nil, nil)
	c := cron.New()
	id, err := s.Schedule(context.Background(), c, "@every 1m")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = s.Schedule(context.Background(), c, "not a schedule")
	assert.Error(t, err)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}
