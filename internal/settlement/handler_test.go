package settlement

import (
	"context"
	"testing"

	"walletpay/internal/errs"
	"walletpay/internal/ledger"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/testutil"
)

const secret = "whsec-test"

func newHandler(t *testing.T) (*Handler, ledger.Store, *repository.OutboxRepository) {
	t.Helper()
	db := testutil.NewDB(t)
	store := ledger.NewDBStore(db)
	outbox := repository.NewOutboxRepository(db)
	return NewHandler(map[string]string{"bankrail": secret}, store, outbox, "wallet.deposit"), store, outbox
}

func signed(provider, body string) SignedPayload {
	return SignedPayload{Provider: provider, Body: []byte(body), Signature: Sign(secret, []byte(body))}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := Sign(secret, body)

	if err := Verify(secret, body, good); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	cases := map[string]struct {
		secret, sig string
		body        []byte
	}{
		"wrong secret":  {"other", good, body},
		"tampered body": {secret, good, []byte(`{"a":2}`)},
		"missing":       {secret, "", body},
		"not hex":       {secret, "zz", body},
		"no secret":     {"", good, body},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Verify(tc.secret, tc.body, tc.sig); !errs.IsSignature(err) {
				t.Fatalf("expected signature error, got %v", err)
			}
		})
	}
}

func TestDuplicateWebhookCreditsOnce(t *testing.T) {
	h, store, outbox := newHandler(t)
	ctx := context.Background()
	body := `{"provider_transaction_id":"X","user_id":7,"amount":"150.25","status":"settled"}`

	first, err := h.HandleDepositConfirmation(ctx, signed("bankrail", body))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Duplicate || first.Transaction == nil || first.Transaction.Amount != 15025 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := h.HandleDepositConfirmation(ctx, signed("bankrail", body))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !second.Duplicate || second.Transaction.TransactionNo != first.Transaction.TransactionNo {
		t.Fatalf("expected duplicate of the first credit, got %+v", second)
	}

	bal, _ := store.Balance(ctx, 7)
	if bal != 15025 {
		t.Fatalf("expected balance 15025, got %d", bal)
	}
	pending, err := outbox.GetPendingMessages(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one deposit event, got %d", len(pending))
	}
}

func TestCreditAndEventLandTogether(t *testing.T) {
	db := testutil.NewDB(t)
	store := ledger.NewDBStore(db)
	outbox := repository.NewOutboxRepository(db)
	h := NewHandler(map[string]string{"bankrail": secret}, store, outbox, "wallet.deposit")
	ctx := context.Background()
	body := `{"provider_transaction_id":"W","user_id":7,"amount":"20.00","status":"settled"}`

	// outbox 表不可写时入账整体回滚
	if err := db.Migrator().DropTable(&model.OutboxMessage{}); err != nil {
		t.Fatalf("drop outbox: %v", err)
	}
	if _, err := h.HandleDepositConfirmation(ctx, signed("bankrail", body)); err == nil {
		t.Fatalf("expected credit to fail without outbox")
	}
	if bal, _ := store.Balance(ctx, 7); bal != 0 {
		t.Fatalf("balance must stay 0, got %d", bal)
	}

	// 通道重推后入账与事件一起落库
	if err := db.AutoMigrate(&model.OutboxMessage{}); err != nil {
		t.Fatalf("migrate outbox: %v", err)
	}
	res, err := h.HandleDepositConfirmation(ctx, signed("bankrail", body))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Duplicate || res.Transaction == nil {
		t.Fatalf("expected a fresh credit, got %+v", res)
	}
	if bal, _ := store.Balance(ctx, 7); bal != 2000 {
		t.Fatalf("expected balance 2000, got %d", bal)
	}
	pending, err := outbox.GetPendingMessages(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(pending) != 1 || pending[0].MessageKey != res.Transaction.TransactionNo {
		t.Fatalf("expected one event keyed by the credit, got %+v", pending)
	}
}

func TestBadSignatureHasNoLedgerEffect(t *testing.T) {
	h, store, _ := newHandler(t)
	ctx := context.Background()
	p := signed("bankrail", `{"provider_transaction_id":"Y","user_id":7,"amount":10,"status":"settled"}`)
	p.Body = []byte(`{"provider_transaction_id":"Y","user_id":7,"amount":1000,"status":"settled"}`)

	if _, err := h.HandleDepositConfirmation(ctx, p); !errs.IsSignature(err) {
		t.Fatalf("expected signature error, got %v", err)
	}
	// 未配置密钥的通道同样拒绝
	if _, err := h.HandleDepositConfirmation(ctx, signed("unknown", `{}`)); !errs.IsSignature(err) {
		t.Fatalf("expected signature error for unknown provider, got %v", err)
	}
	if bal, _ := store.Balance(ctx, 7); bal != 0 {
		t.Fatalf("balance must stay 0, got %d", bal)
	}
}

func TestNonSettledStatusIgnored(t *testing.T) {
	h, store, _ := newHandler(t)
	ctx := context.Background()

	res, err := h.HandleDepositConfirmation(ctx, signed("bankrail",
		`{"provider_transaction_id":"Z","user_id":7,"amount":10,"status":"pending"}`))
	if err != nil {
		t.Fatalf("HandleDepositConfirmation: %v", err)
	}
	if !res.Ignored {
		t.Fatalf("expected ignored result")
	}
	if bal, _ := store.Balance(ctx, 7); bal != 0 {
		t.Fatalf("balance must stay 0, got %d", bal)
	}

	// 之后到账回调仍然可以入账
	res, err = h.HandleDepositConfirmation(ctx, signed("bankrail",
		`{"provider_transaction_id":"Z","user_id":7,"amount":10,"status":"SETTLED"}`))
	if err != nil || res.Transaction == nil {
		t.Fatalf("settled delivery: %+v %v", res, err)
	}
	if res.Transaction.Type != model.TransactionTypeCredit || res.Transaction.Amount != 1000 {
		t.Fatalf("unexpected transaction %+v", res.Transaction)
	}
}

func TestInvalidPayload(t *testing.T) {
	h, _, _ := newHandler(t)
	cases := map[string]string{
		"not json":       `nope`,
		"missing id":     `{"user_id":7,"amount":10,"status":"settled"}`,
		"bad user":       `{"provider_transaction_id":"A","user_id":0,"amount":10,"status":"settled"}`,
		"three decimals": `{"provider_transaction_id":"A","user_id":7,"amount":"1.005","status":"settled"}`,
		"zero amount":    `{"provider_transaction_id":"A","user_id":7,"amount":0,"status":"settled"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := h.HandleDepositConfirmation(context.Background(), signed("bankrail", body)); !errs.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSameProviderIDAcrossProvidersIsDistinct(t *testing.T) {
	if TransferIDFor("bankrail", "X") == TransferIDFor("upilink", "X") {
		t.Fatalf("transfer ids must be scoped per provider")
	}
}
