package escrow_test

import (
	"testing"

	"EscrowCore/internal/escrow"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from escrow.Status
		to   escrow.Status
		want bool
	}{
		{escrow.StatusPendingFunding, escrow.StatusFunded, true},
		{escrow.StatusPendingFunding, escrow.StatusFailed, true},
		{escrow.StatusPendingFunding, escrow.StatusReleased, false},
		{escrow.StatusPendingFunding, escrow.StatusCancelled, false},
		{escrow.StatusFunded, escrow.StatusReleased, true},
		{escrow.StatusFunded, escrow.StatusCancelled, true},
		{escrow.StatusFunded, escrow.StatusFailed, false},
		{escrow.StatusFunded, escrow.StatusPendingFunding, false},
		{escrow.StatusReleased, escrow.StatusCancelled, false},
		{escrow.StatusCancelled, escrow.StatusReleased, false},
		{escrow.StatusFailed, escrow.StatusFunded, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []escrow.Status{escrow.StatusReleased, escrow.StatusCancelled, escrow.StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if escrow.StatusPendingFunding.Terminal() || escrow.StatusFunded.Terminal() {
		t.Error("non-terminal status reported terminal")
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []escrow.Status{
		escrow.StatusPendingFunding,
		escrow.StatusFunded,
		escrow.StatusReleased,
		escrow.StatusCancelled,
		escrow.StatusFailed,
	} {
		parsed, ok := escrow.ParseStatus(s.String())
		if !ok || parsed != s {
			t.Errorf("ParseStatus(%q) = (%v, %v), want (%v, true)", s.String(), parsed, ok, s)
		}
	}

	if _, ok := escrow.ParseStatus("settling"); ok {
		t.Error("unknown status string accepted")
	}
}
