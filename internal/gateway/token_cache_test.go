package gateway

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTokenCacheExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryTokenCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", "tok", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if tok, ok, _ := c.Get(ctx, "k"); !ok || tok != "tok" {
		t.Fatalf("expected hit, got %q %v", tok, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected entry to expire at its ttl")
	}
}

func TestMemoryTokenCacheDelete(t *testing.T) {
	c := NewMemoryTokenCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", "tok", time.Hour)
	_ = c.Delete(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestNewTokenCacheWithoutRedis(t *testing.T) {
	if _, ok := NewTokenCache(nil).(*MemoryTokenCache); !ok {
		t.Fatalf("expected in-process cache when redis is not configured")
	}
}

func TestSandboxIsDeterministicPerKey(t *testing.T) {
	p := NewSandbox("sandbox")
	ctx := context.Background()

	first, err := p.SubmitTransfer(ctx, SubmitRequest{Amount: 1000, IdempotencyKey: "a"})
	if err != nil || first.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %+v / %v", first, err)
	}
	again, _ := p.SubmitTransfer(ctx, SubmitRequest{Amount: 1000, IdempotencyKey: "a"})
	if again.ProviderRef != first.ProviderRef {
		t.Fatalf("expected same provider ref for same key")
	}

	if res, err := p.SubmitTransfer(ctx, SubmitRequest{Amount: 1013, IdempotencyKey: "b"}); res.Outcome != OutcomeRejected || err == nil {
		t.Fatalf("expected rejection for amount ending in 13, got %+v / %v", res, err)
	}

	res, _ := p.SubmitTransfer(ctx, SubmitRequest{Amount: 1099, IdempotencyKey: "c"})
	if res.Outcome != OutcomeUnknown {
		t.Fatalf("expected unknown for amount ending in 99, got %s", res.Outcome)
	}
	st, _ := p.CheckStatus(ctx, StatusQuery{ProviderRef: res.ProviderRef})
	if st.Status != StatusSucceeded {
		t.Fatalf("expected pending transfer to settle on status check, got %s", st.Status)
	}

	if st, _ := p.CheckStatus(ctx, StatusQuery{IdempotencyKey: "zzz"}); st.Status != StatusNotFound {
		t.Fatalf("expected not_found, got %s", st.Status)
	}
}
