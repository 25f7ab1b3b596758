package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransfer_Direction(t *testing.T) {
	tr := &Transfer{SenderID: "alice", ReceiverID: "bob"}
	if got := tr.Direction("alice"); got != "sent" {
		t.Errorf("Direction(alice) = %q, want sent", got)
	}
	if got := tr.Direction("bob"); got != "received" {
		t.Errorf("Direction(bob) = %q, want received", got)
	}
	if got := tr.Direction("carol"); got != "" {
		t.Errorf("Direction(carol) = %q, want empty", got)
	}
}

func TestTransfer_SameRequest(t *testing.T) {
	a := &Transfer{ID: "1", SenderID: "alice", ReceiverID: "bob", Amount: decimal.RequireFromString("300")}
	b := &Transfer{ID: "2", SenderID: "alice", ReceiverID: "bob", Amount: decimal.RequireFromString("300.00")}
	if !a.SameRequest(b) {
		t.Error("equal amounts with different scale should match")
	}
	c := &Transfer{SenderID: "alice", ReceiverID: "bob", Amount: decimal.RequireFromString("301")}
	if a.SameRequest(c) {
		t.Error("different amount should not match")
	}
	d := &Transfer{SenderID: "alice", ReceiverID: "carol", Amount: decimal.RequireFromString("300")}
	if a.SameRequest(d) {
		t.Error("different receiver should not match")
	}
}
