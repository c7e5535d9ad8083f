package model

import "testing"

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{WithdrawalStatusPending, WithdrawalStatusReserved, true},
		{WithdrawalStatusPending, WithdrawalStatusFailed, true},
		{WithdrawalStatusPending, WithdrawalStatusSubmitted, false},
		{WithdrawalStatusReserved, WithdrawalStatusSubmitted, true},
		{WithdrawalStatusReserved, WithdrawalStatusTransferred, false},
		{WithdrawalStatusSubmitted, WithdrawalStatusReconciling, true},
		{WithdrawalStatusSubmitted, WithdrawalStatusTransferred, true},
		{WithdrawalStatusReconciling, WithdrawalStatusFailed, true},
		{WithdrawalStatusReconciling, WithdrawalStatusSubmitted, false},
		{WithdrawalStatusTransferred, WithdrawalStatusFailed, false},
		{WithdrawalStatusFailed, WithdrawalStatusTransferred, false},
	}
	for _, tt := range tests {
		if got := CanTransitionTo(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPublicStatus(t *testing.T) {
	tests := map[string]string{
		WithdrawalStatusPending:     PublicStatusPending,
		WithdrawalStatusReserved:    PublicStatusProcessing,
		WithdrawalStatusSubmitted:   PublicStatusProcessing,
		WithdrawalStatusReconciling: PublicStatusProcessing,
		WithdrawalStatusTransferred: PublicStatusCompleted,
		WithdrawalStatusFailed:      PublicStatusFailed,
	}
	for internal, want := range tests {
		if got := PublicStatus(internal); got != want {
			t.Errorf("%s: got %s, want %s", internal, got, want)
		}
	}
}

func TestDebitAmountIncludesFee(t *testing.T) {
	w := &WithdrawalRequest{Amount: 1000, Fee: 15}
	if w.DebitAmount() != 1015 {
		t.Fatalf("expected 1015, got %d", w.DebitAmount())
	}
}
