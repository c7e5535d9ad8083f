package service

import (
	"context"
	"testing"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/gateway"
	"walletpay/internal/gateway/gatewaytest"
	"walletpay/internal/ledger"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/testutil"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const testPIN = "2468"

type pinAuth struct{ pin string }

func (a pinAuth) Authorize(_ context.Context, _ int64, proof string) error {
	if proof != a.pin {
		return ErrPINInvalid
	}
	return nil
}

type payoutEnv struct {
	db     *gorm.DB
	cfg    *config.Config
	store  ledger.Store
	stub   *gatewaytest.Stub
	payout *PayoutService
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Payout.Currency = "INR"
	cfg.Payout.MaxAmount = 1000000
	cfg.Payout.GatewayTimeout = 200 * time.Millisecond
	cfg.MQ.Topic.WithdrawalEvents = "wallet.withdrawal"
	cfg.MQ.Topic.DepositEvents = "wallet.deposit"
	return cfg
}

func newPayoutEnv(t *testing.T) *payoutEnv {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := testConfig()
	store := ledger.NewDBStore(db)
	stub := gatewaytest.New("stub")
	adapter := gateway.NewAdapter(nil, cfg.Payout.Currency, stub)

	return &payoutEnv{
		db:     db,
		cfg:    cfg,
		store:  store,
		stub:   stub,
		payout: NewPayoutService(db, cfg, store, adapter, pinAuth{pin: testPIN}),
	}
}

func (e *payoutEnv) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := e.store.Credit(context.Background(), ledger.CreditRequest{
		UserID:     userID,
		Amount:     amount,
		TransferID: "seed-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (e *payoutEnv) beneficiary(t *testing.T, userID int64) *model.Beneficiary {
	t.Helper()
	b := &model.Beneficiary{
		UserID:                userID,
		Fingerprint:           "fp-" + uuid.NewString(),
		Provider:              "stub",
		ProviderBeneficiaryID: "stub-ben",
		InstrumentType:        model.InstrumentBank,
		AccountRef:            "XXXXXX7890",
		RoutingCode:           "HDFC0001234",
		VerifiedStatus:        model.BeneficiaryVerified,
	}
	if err := repository.NewBeneficiaryRepository(e.db).Create(context.Background(), b); err != nil {
		t.Fatalf("create beneficiary: %v", err)
	}
	return b
}

func (e *payoutEnv) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := e.store.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func (e *payoutEnv) withdrawal(t *testing.T, requestNo string) *model.WithdrawalRequest {
	t.Helper()
	w, err := repository.NewWithdrawalRepository(e.db).GetByRequestNo(context.Background(), requestNo)
	if err != nil {
		t.Fatalf("GetByRequestNo: %v", err)
	}
	return w
}

func (e *payoutEnv) assertConsistent(t *testing.T, userID int64) {
	t.Helper()
	res, err := e.store.Audit(context.Background(), userID)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !res.Consistent {
		t.Fatalf("ledger inconsistent: %+v", res)
	}
}

func (e *payoutEnv) outboxEvents(t *testing.T, event string) int64 {
	t.Helper()
	var n int64
	err := e.db.Model(&model.OutboxMessage{}).
		Where("payload LIKE ?", `%"event":"`+event+`"%`).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}
