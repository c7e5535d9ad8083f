package gateway_test

import (
	"context"
	"errors"
	"testing"

	"walletpay/internal/errs"
	"walletpay/internal/gateway"
	"walletpay/internal/gateway/gatewaytest"
	"walletpay/internal/model"
)

func beneficiary(provider string) *model.Beneficiary {
	return &model.Beneficiary{ID: 1, UserID: 7, Provider: provider, ProviderBeneficiaryID: "ben-1"}
}

func TestSubmitNormalizesOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		submit      func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error)
		wantOutcome gateway.Outcome
		wantErr     func(error) bool
	}{
		{
			name: "accepted",
			submit: func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error) {
				return &gateway.SubmitResult{Outcome: gateway.OutcomeAccepted, ProviderRef: "p-1"}, nil
			},
			wantOutcome: gateway.OutcomeAccepted,
			wantErr:     func(err error) bool { return err == nil },
		},
		{
			name: "explicit rejection",
			submit: func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error) {
				return nil, &errs.GatewayRejectedError{Provider: "stub", Code: "invalid_account"}
			},
			wantOutcome: gateway.OutcomeRejected,
			wantErr:     errs.IsRejected,
		},
		{
			name: "rejected outcome without error",
			submit: func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error) {
				return &gateway.SubmitResult{Outcome: gateway.OutcomeRejected, Reason: "limit"}, nil
			},
			wantOutcome: gateway.OutcomeRejected,
			wantErr:     errs.IsRejected,
		},
		{
			name: "transport failure",
			submit: func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error) {
				return nil, errors.New("connection reset by peer")
			},
			wantOutcome: gateway.OutcomeUnknown,
			wantErr:     errs.IsTimeout,
		},
		{
			name: "deadline exceeded",
			submit: func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error) {
				return nil, context.DeadlineExceeded
			},
			wantOutcome: gateway.OutcomeUnknown,
			wantErr:     errs.IsTimeout,
		},
		{
			name: "empty response",
			submit: func(context.Context, gateway.SubmitRequest) (*gateway.SubmitResult, error) {
				return nil, nil
			},
			wantOutcome: gateway.OutcomeUnknown,
			wantErr:     func(err error) bool { return err == nil },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := gatewaytest.New("stub")
			stub.SubmitFunc = tc.submit
			a := gateway.NewAdapter(nil, "INR", stub)

			res, err := a.SubmitTransfer(context.Background(), beneficiary("stub"), 500, "key-1", "")
			if res.Outcome != tc.wantOutcome {
				t.Errorf("expected outcome %s, got %s", tc.wantOutcome, res.Outcome)
			}
			if !tc.wantErr(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestSubmitPassesIdempotencyKeyAndCurrency(t *testing.T) {
	stub := gatewaytest.New("stub")
	a := gateway.NewAdapter(nil, "INR", stub)

	if _, err := a.SubmitTransfer(context.Background(), beneficiary("stub"), 1250, "key-42", "rent"); err != nil {
		t.Fatalf("SubmitTransfer: %v", err)
	}
	submits := stub.Submits()
	if len(submits) != 1 {
		t.Fatalf("expected one submit, got %d", len(submits))
	}
	got := submits[0]
	if got.IdempotencyKey != "key-42" || got.Currency != "INR" || got.Amount != 1250 || got.BeneficiaryRef != "ben-1" {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(stub.StatusQueries()) != 0 {
		t.Fatalf("idempotent provider should not be pre-checked")
	}
}

func TestSubmitPreChecksProvidersWithoutIdempotency(t *testing.T) {
	cases := []struct {
		name        string
		existing    gateway.TransferStatus
		wantOutcome gateway.Outcome
		wantSubmits int
	}{
		{"not found submits", gateway.StatusNotFound, gateway.OutcomeAccepted, 1},
		{"already succeeded", gateway.StatusSucceeded, gateway.OutcomeAccepted, 0},
		{"already failed", gateway.StatusFailed, gateway.OutcomeRejected, 0},
		{"still in flight", gateway.StatusPending, gateway.OutcomeUnknown, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := gatewaytest.New("upi")
			stub.Idempotent = false
			stub.StatusFunc = func(_ context.Context, q gateway.StatusQuery) (*gateway.StatusResult, error) {
				if q.IdempotencyKey != "key-1" || q.ProviderRef != "" {
					t.Errorf("expected lookup by merchant reference, got %+v", q)
				}
				return &gateway.StatusResult{Status: tc.existing, ProviderRef: "upi-9"}, nil
			}
			a := gateway.NewAdapter(nil, "INR", stub)

			res, _ := a.SubmitTransfer(context.Background(), beneficiary("upi"), 500, "key-1", "")
			if res.Outcome != tc.wantOutcome {
				t.Errorf("expected %s, got %s", tc.wantOutcome, res.Outcome)
			}
			if n := len(stub.Submits()); n != tc.wantSubmits {
				t.Errorf("expected %d submits, got %d", tc.wantSubmits, n)
			}
		})
	}
}

func TestSubmitPreCheckFailureIsUnknown(t *testing.T) {
	stub := gatewaytest.New("upi")
	stub.Idempotent = false
	stub.StatusFunc = func(context.Context, gateway.StatusQuery) (*gateway.StatusResult, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	}
	a := gateway.NewAdapter(nil, "INR", stub)

	res, err := a.SubmitTransfer(context.Background(), beneficiary("upi"), 500, "key-1", "")
	if res.Outcome != gateway.OutcomeUnknown || !errs.IsTimeout(err) {
		t.Fatalf("expected unknown + timeout, got %s / %v", res.Outcome, err)
	}
	if len(stub.Submits()) != 0 {
		t.Fatalf("must not submit when existence is unknown")
	}
}

func TestSubmitUnknownProviderIsRejected(t *testing.T) {
	a := gateway.NewAdapter(nil, "INR", gatewaytest.New("stub"))
	res, err := a.SubmitTransfer(context.Background(), beneficiary("missing"), 500, "key-1", "")
	if res.Outcome != gateway.OutcomeRejected || !errs.IsRejected(err) {
		t.Fatalf("expected rejection, got %s / %v", res.Outcome, err)
	}
}

func TestRouteFor(t *testing.T) {
	a := gateway.NewAdapter(map[string]string{"bank": "bankrail"}, "INR", gatewaytest.New("bankrail"), gatewaytest.New("upilink"))

	if name, err := a.RouteFor("bank"); err != nil || name != "bankrail" {
		t.Fatalf("expected bankrail, got %q / %v", name, err)
	}
	if _, err := a.RouteFor("upi"); !errs.IsValidation(err) {
		t.Fatalf("expected validation error for unrouted instrument, got %v", err)
	}

	single := gateway.NewAdapter(nil, "INR", gatewaytest.New("sandbox"))
	if name, err := single.RouteFor("upi"); err != nil || name != "sandbox" {
		t.Fatalf("single provider should take every route, got %q / %v", name, err)
	}
}
