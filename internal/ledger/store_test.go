package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"walletpay/internal/errs"
	"walletpay/internal/model"
	"walletpay/internal/testutil"

	"gorm.io/gorm"
)

// forEachStore 同一组用例分别跑数据库实现和内存实现
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("db", func(t *testing.T) {
		fn(t, NewDBStore(testutil.NewDB(t)))
	})
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemStore())
	})
}

func fund(t *testing.T, s Store, userID, amount int64, transferID string) {
	t.Helper()
	if _, err := s.Credit(context.Background(), CreditRequest{UserID: userID, Amount: amount, TransferID: transferID}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func assertBalance(t *testing.T, s Store, userID, want int64) {
	t.Helper()
	got, err := s.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got != want {
		t.Fatalf("expected balance %d, got %d", want, got)
	}
}

func assertConsistent(t *testing.T, s Store, userID int64) {
	t.Helper()
	res, err := s.Audit(context.Background(), userID)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !res.Consistent {
		t.Fatalf("ledger inconsistent: %+v", res)
	}
}

func TestReserveDeductsAndRecordsPendingDebit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 1000, "dep-1")

		res, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 300, TransferID: "tr-1", OrderID: "WDR1"})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if res.Status != "pending" || res.Amount != 300 {
			t.Fatalf("unexpected reservation %+v", res)
		}
		assertBalance(t, s, 1, 700)
		assertConsistent(t, s, 1)

		audit, _ := s.Audit(ctx, 1)
		if audit.PendingDebits != 300 {
			t.Fatalf("expected pending debits 300, got %d", audit.PendingDebits)
		}
	})
}

func TestReserveInsufficientLeavesNoTrace(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 100, "dep-1")

		_, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 101, TransferID: "tr-1"})
		if !errs.IsInsufficientBalance(err) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
		var ib *errs.InsufficientBalanceError
		if errors.As(err, &ib) && ib.Available != 100 {
			t.Errorf("expected available 100, got %d", ib.Available)
		}

		assertBalance(t, s, 1, 100)
		if r, _ := s.ReservationFor(ctx, "tr-1"); r != nil {
			t.Fatalf("expected no reservation, got %+v", r)
		}
		_, total, _ := s.Transactions(ctx, 1, 1, 10)
		if total != 1 {
			t.Fatalf("expected only the funding transaction, got %d", total)
		}
	})
}

func TestReserveRejectsInvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		cases := []ReserveRequest{
			{UserID: 1, Amount: 0, TransferID: "tr"},
			{UserID: 1, Amount: -5, TransferID: "tr"},
			{UserID: 1, Amount: 5},
		}
		for _, req := range cases {
			if _, err := s.Reserve(context.Background(), req); !errs.IsValidation(err) {
				t.Errorf("Reserve(%+v): expected validation error, got %v", req, err)
			}
		}
	})
}

func TestReserveSameTransferIDReturnsExisting(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 1000, "dep-1")

		first, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 400, TransferID: "tr-1"})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		second, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 400, TransferID: "tr-1"})
		if !errs.IsDuplicate(err) {
			t.Fatalf("expected duplicate, got %v", err)
		}
		if second == nil || second.TransactionNo != first.TransactionNo {
			t.Fatalf("expected original reservation back, got %+v", second)
		}
		assertBalance(t, s, 1, 600)
	})
}

func TestReleaseRestoresBalanceExactlyOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 1000, "dep-1")

		res, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 250, TransferID: "tr-1"})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if err := s.Release(ctx, res); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if err := s.Release(ctx, res); err != nil {
			t.Fatalf("second Release should be a no-op, got %v", err)
		}
		assertBalance(t, s, 1, 1000)
		assertConsistent(t, s, 1)

		if err := s.Commit(ctx, res); !errors.Is(err, ErrReservationSettled) {
			t.Fatalf("commit after release: expected ErrReservationSettled, got %v", err)
		}
	})
}

func TestCommitIsIdempotentAndBlocksRelease(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 1000, "dep-1")

		res, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 600, TransferID: "tr-1"})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if err := s.Commit(ctx, res); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if err := s.Commit(ctx, res); err != nil {
			t.Fatalf("second Commit should be a no-op, got %v", err)
		}
		if err := s.Release(ctx, res); !errors.Is(err, ErrReservationSettled) {
			t.Fatalf("release after commit: expected ErrReservationSettled, got %v", err)
		}
		assertBalance(t, s, 1, 400)
		assertConsistent(t, s, 1)
	})
}

func TestCommitUnknownReservation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.Commit(context.Background(), &Reservation{TransactionNo: "TXN-missing"})
		if !errors.Is(err, ErrReservationNotFound) {
			t.Fatalf("expected ErrReservationNotFound, got %v", err)
		}
	})
}

func TestCreditDuplicateWebhookAppliesOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.Credit(ctx, CreditRequest{UserID: 9, Amount: 500, TransferID: "X"})
		if err != nil {
			t.Fatalf("Credit: %v", err)
		}
		again, err := s.Credit(ctx, CreditRequest{UserID: 9, Amount: 500, TransferID: "X"})
		if !errs.IsDuplicate(err) {
			t.Fatalf("expected duplicate, got %v", err)
		}
		if again == nil || again.TransactionNo != first.TransactionNo {
			t.Fatalf("expected original transaction back, got %+v", again)
		}
		assertBalance(t, s, 9, 500)

		_, total, _ := s.Transactions(ctx, 9, 1, 10)
		if total != 1 {
			t.Fatalf("expected one transaction, got %d", total)
		}
	})
}

func TestCreditHookFailureRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		hookErr := errors.New("outbox down")

		_, err := s.Credit(ctx, CreditRequest{UserID: 9, Amount: 500, TransferID: "X",
			OnCredit: func(*gorm.DB, *model.Transaction) error { return hookErr }})
		if !errors.Is(err, hookErr) {
			t.Fatalf("expected hook error, got %v", err)
		}
		assertBalance(t, s, 9, 0)
		if _, total, _ := s.Transactions(ctx, 9, 1, 10); total != 0 {
			t.Fatalf("expected no transaction, got %d", total)
		}

		// 重试时仍能入账，钩子拿到本次流水
		var seen string
		txn, err := s.Credit(ctx, CreditRequest{UserID: 9, Amount: 500, TransferID: "X",
			OnCredit: func(_ *gorm.DB, credited *model.Transaction) error { seen = credited.TransactionNo; return nil }})
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if seen != txn.TransactionNo {
			t.Fatalf("hook saw %q, credit returned %q", seen, txn.TransactionNo)
		}
		assertBalance(t, s, 9, 500)
		assertConsistent(t, s, 9)
	})
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 1000, "dep-1")

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.Reserve(ctx, ReserveRequest{
					UserID:     1,
					Amount:     700,
					TransferID: []string{"tr-a", "tr-b"}[i],
				})
			}(i)
		}
		wg.Wait()

		succeeded, insufficient := 0, 0
		for _, err := range results {
			switch {
			case err == nil:
				succeeded++
			case errs.IsInsufficientBalance(err):
				insufficient++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if succeeded != 1 || insufficient != 1 {
			t.Fatalf("expected exactly one success, got %d successes / %d insufficient", succeeded, insufficient)
		}
		assertBalance(t, s, 1, 300)
		assertConsistent(t, s, 1)
	})
}

func TestAuditHoldsAcrossMixedHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		fund(t, s, 1, 2000, "dep-1")
		fund(t, s, 1, 500, "dep-2")

		committed, _ := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 800, TransferID: "tr-1"})
		released, _ := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 300, TransferID: "tr-2"})
		if _, err := s.Reserve(ctx, ReserveRequest{UserID: 1, Amount: 200, TransferID: "tr-3"}); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if err := s.Commit(ctx, committed); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if err := s.Release(ctx, released); err != nil {
			t.Fatalf("Release: %v", err)
		}

		audit, err := s.Audit(ctx, 1)
		if err != nil {
			t.Fatalf("Audit: %v", err)
		}
		want := AuditResult{UserID: 1, Balance: 1500, CompletedCredits: 2500, CompletedDebits: 800, PendingDebits: 200, Consistent: true}
		if *audit != want {
			t.Fatalf("expected %+v, got %+v", want, *audit)
		}
	})
}

func TestTransactionsPagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, id := range []string{"d1", "d2", "d3"} {
			fund(t, s, 1, int64(100*(i+1)), id)
		}

		page, total, err := s.Transactions(ctx, 1, 2, 2)
		if err != nil {
			t.Fatalf("Transactions: %v", err)
		}
		if total != 3 || len(page) != 1 {
			t.Fatalf("expected total 3 and 1 item on page 2, got %d / %d", total, len(page))
		}
	})
}
