package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", Validation("amount", "必须大于0"), IsValidation},
		{"insufficient", &InsufficientBalanceError{UserID: 1, Requested: 700, Available: 300}, IsInsufficientBalance},
		{"timeout", &GatewayTimeoutError{Provider: "bankrail", Op: "submit"}, IsTimeout},
		{"rejected", &GatewayRejectedError{Provider: "upilink", Code: "INVALID_VPA"}, IsRejected},
		{"duplicate", &DuplicateTransferError{TransferID: "X"}, IsDuplicate},
		{"signature", &SignatureVerificationError{Reason: "mismatch"}, IsSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Fatalf("classifier did not match wrapped %T", tt.err)
			}
			if tt.check(errors.New("other")) {
				t.Fatalf("classifier matched unrelated error")
			}
		})
	}
}

func TestGatewayTimeoutUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := &GatewayTimeoutError{Provider: "bankrail", Op: "submit", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected timeout error to unwrap to its cause")
	}
}
