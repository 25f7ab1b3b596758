package domain

import (
	"testing"
	"time"
)

func TestChallenge_ExpiredBoundary(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Challenge{IssuedAt: issued, ExpiresAt: issued.Add(5 * time.Minute)}
	if c.Expired(issued.Add(5 * time.Minute)) {
		t.Error("challenge should still be valid exactly at the window boundary")
	}
	if !c.Expired(issued.Add(5*time.Minute + time.Nanosecond)) {
		t.Error("challenge should be expired just past the window")
	}
}
