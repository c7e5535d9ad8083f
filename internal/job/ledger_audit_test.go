package job

import (
	"context"
	"testing"

	"walletpay/internal/config"
	"walletpay/internal/ledger"
	"walletpay/internal/model"
	"walletpay/internal/testutil"
)

func TestLedgerAuditFindsMismatches(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	store := ledger.NewDBStore(db)
	cfg := &config.Config{}
	cfg.Jobs.AuditBatchSize = 1

	for userID := int64(1); userID <= 3; userID++ {
		if _, err := store.Credit(ctx, ledger.CreditRequest{
			UserID: userID, Amount: 500, TransferID: "seed-" + string(rune('a'+userID)),
		}); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}
	if _, err := store.Reserve(ctx, ledger.ReserveRequest{UserID: 1, Amount: 200, TransferID: "tr-1"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// 绕过账本直接改余额
	if err := db.Model(&model.Wallet{}).Where("user_id = ?", 2).Update("balance", 999).Error; err != nil {
		t.Fatalf("corrupt wallet: %v", err)
	}

	job := NewLedgerAuditJob(db, cfg, store)
	report, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Checked != 3 {
		t.Fatalf("expected 3 wallets checked, got %d", report.Checked)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].UserID != 2 || report.Mismatches[0].Balance != 999 {
		t.Fatalf("unexpected mismatches %+v", report.Mismatches)
	}
}

func TestLedgerAuditRejectsBadSchedule(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := &config.Config{}
	cfg.Jobs.AuditSchedule = "not a schedule"

	job := NewLedgerAuditJob(db, cfg, ledger.NewDBStore(db))
	if err := job.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}
