package domain

import (
	"testing"
	"time"
)

func TestSession_Live(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		s    *Session
		idle time.Duration
		want bool
	}{
		{"nil", nil, 0, false},
		{"fresh", &Session{ExpiresAt: now.Add(time.Hour), LastSeenAt: now}, 30 * time.Minute, true},
		{"absolute expiry", &Session{ExpiresAt: now.Add(-time.Second), LastSeenAt: now}, 0, false},
		{"idle too long", &Session{ExpiresAt: now.Add(time.Hour), LastSeenAt: now.Add(-31 * time.Minute)}, 30 * time.Minute, false},
		{"idle disabled", &Session{ExpiresAt: now.Add(time.Hour), LastSeenAt: now.Add(-10 * time.Hour)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Live(now, tt.idle); got != tt.want {
				t.Errorf("Live = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Authorized(t *testing.T) {
	if (&Session{State: StatePendingOTP}).Authorized() {
		t.Error("pending session should not be authorized")
	}
	if !(&Session{State: StateAuthorized}).Authorized() {
		t.Error("authorized session should report authorized")
	}
	var s *Session
	if s.Authorized() {
		t.Error("nil session should not be authorized")
	}
}
