package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateLogin(t *testing.T) {
	valid := []string{"alice", "Bob_1", "a.b-c"}
	invalid := []string{"", "ab", " alice", "alice ", "al ice", "ünï", string(make([]byte, 65))}
	for _, l := range valid {
		if err := ValidateLogin(l); err != nil {
			t.Errorf("ValidateLogin(%q): %v", l, err)
		}
	}
	for _, l := range invalid {
		if err := ValidateLogin(l); err == nil {
			t.Errorf("ValidateLogin(%q) should fail", l)
		}
	}
}

func TestClassifyContact(t *testing.T) {
	testCases := []struct {
		in   string
		want ContactKind
		err  bool
	}{
		{"alice@example.com", ContactEmail, false},
		{"+4915112345678", ContactPhone, false},
		{"919876543210", ContactPhone, false},
		{"", "", true},
		{"not-a-contact", "", true},
		{"123", "", true},
	}
	for _, tc := range testCases {
		got, err := ClassifyContact(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("ClassifyContact(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ClassifyContact(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestAccount_Validate(t *testing.T) {
	a := &Account{Login: "alice", PasswordHash: "h", Contact: "alice@example.com", Balance: decimal.NewFromInt(1000)}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	a.Balance = decimal.NewFromInt(-1)
	if err := a.Validate(); err == nil {
		t.Error("negative balance should fail validation")
	}
	a.Balance = decimal.Zero
	a.PasswordHash = ""
	if err := a.Validate(); err == nil {
		t.Error("missing password hash should fail validation")
	}
}
