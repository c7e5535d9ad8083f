package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/gateway"
	"walletpay/internal/gateway/gatewaytest"
	"walletpay/internal/ledger"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/internal/testutil"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type allowAll struct{}

func (allowAll) Authorize(context.Context, int64, string) error { return nil }

type pollerEnv struct {
	db     *gorm.DB
	store  ledger.Store
	stub   *gatewaytest.Stub
	payout *service.PayoutService
	poller *ReconcilePoller
}

func newPollerEnv(t *testing.T) *pollerEnv {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := &config.Config{}
	cfg.Payout.Currency = "INR"
	cfg.Payout.GatewayTimeout = 50 * time.Millisecond
	cfg.MQ.Topic.WithdrawalEvents = "wallet.withdrawal"
	cfg.Reconcile = config.ReconcileConfig{
		Interval:    time.Minute,
		GracePeriod: 5 * time.Minute,
		ClaimLease:  time.Minute,
		MaxAttempts: 3,
		MaxAge:      24 * time.Hour,
		BatchSize:   10,
	}

	store := ledger.NewDBStore(db)
	stub := gatewaytest.New("stub")
	adapter := gateway.NewAdapter(nil, "INR", stub)
	payout := service.NewPayoutService(db, cfg, store, adapter, allowAll{})
	poller := NewReconcilePoller(db, cfg, payout, adapter)
	// 所有单据都已过宽限期
	poller.now = func() time.Time { return time.Now().Add(time.Hour) }

	return &pollerEnv{db: db, store: store, stub: stub, payout: payout, poller: poller}
}

// inFlight 建一笔结果未知、停在 reconciling 的出款单
func (e *pollerEnv) inFlight(t *testing.T, amount int64) *model.WithdrawalRequest {
	t.Helper()
	ctx := context.Background()
	if _, err := e.store.Credit(ctx, ledger.CreditRequest{UserID: 1, Amount: 1000, TransferID: "seed-" + uuid.NewString()}); err != nil {
		t.Fatalf("fund: %v", err)
	}
	ben := &model.Beneficiary{
		UserID:                1,
		Fingerprint:           "fp-" + uuid.NewString(),
		Provider:              "stub",
		ProviderBeneficiaryID: "stub-ben",
		InstrumentType:        model.InstrumentBank,
		AccountRef:            "XXXXXX7890",
		VerifiedStatus:        model.BeneficiaryVerified,
	}
	if err := repository.NewBeneficiaryRepository(e.db).Create(ctx, ben); err != nil {
		t.Fatalf("create beneficiary: %v", err)
	}

	e.stub.SubmitFunc = func(ctx context.Context, _ gateway.SubmitRequest) (*gateway.SubmitResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	view, err := e.payout.RequestWithdrawal(ctx, &service.WithdrawRequest{
		RequestID: "req-" + uuid.NewString(), UserID: 1, Amount: amount, BeneficiaryID: ben.ID,
	})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	e.stub.SubmitFunc = nil

	w := e.load(t, view.RequestNo)
	if w.Status != model.WithdrawalStatusReconciling {
		t.Fatalf("expected reconciling, got %s", w.Status)
	}
	return w
}

func (e *pollerEnv) load(t *testing.T, requestNo string) *model.WithdrawalRequest {
	t.Helper()
	w, err := repository.NewWithdrawalRepository(e.db).GetByRequestNo(context.Background(), requestNo)
	if err != nil {
		t.Fatalf("GetByRequestNo: %v", err)
	}
	return w
}

func (e *pollerEnv) balance(t *testing.T) int64 {
	t.Helper()
	b, err := e.store.Balance(context.Background(), 1)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func (e *pollerEnv) assertConsistent(t *testing.T) {
	t.Helper()
	res, err := e.store.Audit(context.Background(), 1)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !res.Consistent {
		t.Fatalf("ledger inconsistent: %+v", res)
	}
}

func TestPollerFailedRestoresBalance(t *testing.T) {
	env := newPollerEnv(t)
	w := env.inFlight(t, 400)
	if got := env.balance(t); got != 600 {
		t.Fatalf("expected reserved balance 600, got %d", got)
	}

	env.stub.StatusFunc = func(_ context.Context, q gateway.StatusQuery) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusFailed, ProviderRef: "ref-9", Reason: "beneficiary bank down"}, nil
	}

	stats := env.poller.RunOnce(context.Background())
	if stats.Scanned != 1 || stats.Resolved != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	got := env.load(t, w.RequestNo)
	if got.Status != model.WithdrawalStatusFailed || got.FailureReason != "beneficiary bank down" {
		t.Fatalf("unexpected withdrawal %+v", got)
	}
	if b := env.balance(t); b != 1000 {
		t.Fatalf("expected balance restored to 1000, got %d", b)
	}
	queries := env.stub.StatusQueries()
	if len(queries) != 1 || queries[0].IdempotencyKey != w.TransferID {
		t.Fatalf("expected status query by transfer id, got %+v", queries)
	}
	env.assertConsistent(t)
}

func TestPollerSucceededCommits(t *testing.T) {
	env := newPollerEnv(t)
	w := env.inFlight(t, 400)
	env.stub.StatusFunc = func(context.Context, gateway.StatusQuery) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusSucceeded, ProviderRef: "ref-1"}, nil
	}

	env.poller.RunOnce(context.Background())

	got := env.load(t, w.RequestNo)
	if got.Status != model.WithdrawalStatusTransferred || got.ProviderRef != "ref-1" {
		t.Fatalf("unexpected withdrawal %+v", got)
	}
	if b := env.balance(t); b != 600 {
		t.Fatalf("expected balance 600, got %d", b)
	}
	res, _ := env.store.ReservationFor(context.Background(), w.TransferID)
	if res == nil || res.Status != model.TransactionStatusCompleted {
		t.Fatalf("expected committed reservation, got %+v", res)
	}
	env.assertConsistent(t)

	// 已结束的单据不会再被扫描
	if stats := env.poller.RunOnce(context.Background()); stats.Scanned != 0 {
		t.Fatalf("terminal request scanned again: %+v", stats)
	}
}

func TestPollerResubmitsUnknownTransfer(t *testing.T) {
	env := newPollerEnv(t)
	w := env.inFlight(t, 300)

	stats := env.poller.RunOnce(context.Background())
	if stats.Resolved != 1 {
		t.Fatalf("expected resolved after resubmit, got %+v", stats)
	}

	submits := env.stub.Submits()
	if len(submits) != 2 {
		t.Fatalf("expected original submit plus one resubmit, got %d", len(submits))
	}
	if submits[0].IdempotencyKey != submits[1].IdempotencyKey || submits[1].IdempotencyKey != w.TransferID {
		t.Fatalf("resubmit must reuse the idempotency key: %+v", submits)
	}
	if got := env.load(t, w.RequestNo); got.Status != model.WithdrawalStatusTransferred {
		t.Fatalf("expected transferred, got %s", got.Status)
	}
	if b := env.balance(t); b != 700 {
		t.Fatalf("expected balance 700, got %d", b)
	}
}

func TestPollerFlagsManualReviewWhenExhausted(t *testing.T) {
	env := newPollerEnv(t)
	env.poller.cfg.MaxAttempts = 2
	w := env.inFlight(t, 250)
	env.stub.StatusFunc = func(context.Context, gateway.StatusQuery) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusPending}, nil
	}
	ctx := context.Background()

	if stats := env.poller.RunOnce(ctx); stats.Pending != 1 {
		t.Fatalf("first round: expected pending, got %+v", stats)
	}
	got := env.load(t, w.RequestNo)
	if got.ReconAttempts != 1 || got.ClaimedUntil != nil {
		t.Fatalf("expected one attempt and released claim, got %+v", got)
	}

	if stats := env.poller.RunOnce(ctx); stats.Flagged != 1 {
		t.Fatalf("second round: expected manual review, got %+v", stats)
	}
	got = env.load(t, w.RequestNo)
	if !got.ManualReview || got.Status != model.WithdrawalStatusReconciling {
		t.Fatalf("expected manual review in reconciling, got %+v", got)
	}
	// 转人工不动账本
	if b := env.balance(t); b != 750 {
		t.Fatalf("expected reserved balance 750, got %d", b)
	}

	if stats := env.poller.RunOnce(ctx); stats.Scanned != 0 {
		t.Fatalf("manual review requests must not be polled, got %+v", stats)
	}
}

func TestPollerFlagsManualReviewByAge(t *testing.T) {
	env := newPollerEnv(t)
	env.poller.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	w := env.inFlight(t, 100)
	env.stub.StatusFunc = func(context.Context, gateway.StatusQuery) (*gateway.StatusResult, error) {
		return nil, errors.New("connection reset")
	}

	if stats := env.poller.RunOnce(context.Background()); stats.Flagged != 1 {
		t.Fatalf("expected manual review by age, got %+v", stats)
	}
	if got := env.load(t, w.RequestNo); !got.ManualReview {
		t.Fatalf("expected manual review flag")
	}
}

func TestPollerRequeueRestartsAgeLimit(t *testing.T) {
	env := newPollerEnv(t)
	env.poller.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	w := env.inFlight(t, 100)
	env.stub.StatusFunc = func(context.Context, gateway.StatusQuery) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Status: gateway.StatusPending}, nil
	}
	ctx := context.Background()

	if stats := env.poller.RunOnce(ctx); stats.Flagged != 1 {
		t.Fatalf("expected manual review by age, got %+v", stats)
	}
	if err := env.payout.Requeue(ctx, w.RequestNo); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	// 重新入队后按入队时间计算时长，不会立刻再次转人工
	env.poller.now = func() time.Time { return time.Now().Add(time.Hour) }
	if stats := env.poller.RunOnce(ctx); stats.Pending != 1 || stats.Flagged != 0 {
		t.Fatalf("expected a normal pending round after requeue, got %+v", stats)
	}
	got := env.load(t, w.RequestNo)
	if got.ManualReview || got.RequeuedAt == nil || got.ReconAttempts != 1 {
		t.Fatalf("unexpected request after requeue %+v", got)
	}
}

func TestPollerSkipsClaimedRequests(t *testing.T) {
	env := newPollerEnv(t)
	w := env.inFlight(t, 100)

	// 另一个实例持有租约
	until := time.Now().Add(3 * time.Hour)
	if err := env.db.Model(&model.WithdrawalRequest{}).
		Where("request_no = ?", w.RequestNo).
		UpdateColumn("claimed_until", until).Error; err != nil {
		t.Fatalf("set claim: %v", err)
	}

	stats := env.poller.RunOnce(context.Background())
	if stats.Skipped != 1 {
		t.Fatalf("expected skipped, got %+v", stats)
	}
	if len(env.stub.StatusQueries()) != 0 {
		t.Fatalf("claimed request must not be queried")
	}
}

func TestPollerCheckErrorKeepsReservation(t *testing.T) {
	env := newPollerEnv(t)
	w := env.inFlight(t, 100)
	env.stub.StatusFunc = func(context.Context, gateway.StatusQuery) (*gateway.StatusResult, error) {
		return nil, errors.New("connection reset")
	}

	if stats := env.poller.RunOnce(context.Background()); stats.Pending != 1 {
		t.Fatalf("expected unresolved, got %+v", stats)
	}
	if got := env.load(t, w.RequestNo); got.Status != model.WithdrawalStatusReconciling {
		t.Fatalf("expected reconciling, got %s", got.Status)
	}
	if b := env.balance(t); b != 900 {
		t.Fatalf("expected reserved balance 900, got %d", b)
	}
	env.assertConsistent(t)
}

func TestPollerStopEndsLoopAndIsRepeatable(t *testing.T) {
	env := newPollerEnv(t)
	done := make(chan struct{})
	go func() {
		env.poller.Start(context.Background())
		close(done)
	}()

	env.poller.Stop()
	env.poller.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop")
	}
}
