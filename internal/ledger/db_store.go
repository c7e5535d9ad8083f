package ledger

import (
	"context"
	"errors"
	"fmt"

	"walletpay/internal/errs"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBStore 基于 gorm 的账本实现
type DBStore struct {
	db              *gorm.DB
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
}

var _ Store = (*DBStore)(nil)

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{
		db:              db,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

func (s *DBStore) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if err := validateReserve(req); err != nil {
		return nil, err
	}

	existing, err := s.transactionRepo.GetByTransferID(ctx, nil, req.TransferID)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		return duplicateReservation(existing)
	}

	var res *Reservation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.EnsureExists(ctx, tx, req.UserID); err != nil {
			return fmt.Errorf("创建钱包失败: %w", err)
		}

		if err := s.walletRepo.Deduct(ctx, tx, req.UserID, req.Amount); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				insufficient := &errs.InsufficientBalanceError{UserID: req.UserID, Requested: req.Amount}
				if w, getErr := s.walletRepo.GetByUserID(ctx, tx, req.UserID); getErr == nil {
					insufficient.Available = w.Balance
				}
				return insufficient
			}
			return fmt.Errorf("扣减余额失败: %w", err)
		}

		wallet, err := s.walletRepo.GetByUserID(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("查询钱包失败: %w", err)
		}

		transferID := req.TransferID
		trans := &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			Type:          model.TransactionTypeDebit,
			Amount:        req.Amount,
			Status:        model.TransactionStatusPending,
			Source:        model.TransactionSourceWallet,
			TransferID:    &transferID,
			OrderID:       req.OrderID,
			FeeBreakdown:  req.FeeBreakdown,
			BalanceBefore: wallet.Balance + req.Amount,
			BalanceAfter:  wallet.Balance,
			Remark:        req.Remark,
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		res = reservationOf(trans)
		return nil
	})

	if err != nil {
		// 并发预留同一 transferId：唯一索引冲突，事务已回滚，返回先写入的那一笔
		if !errs.IsInsufficientBalance(err) {
			if dup, getErr := s.transactionRepo.GetByTransferID(ctx, nil, req.TransferID); getErr == nil && dup != nil {
				return duplicateReservation(dup)
			}
		}
		return nil, err
	}

	zap.L().Info("余额预留成功",
		zap.Int64("user_id", req.UserID),
		zap.Int64("amount", req.Amount),
		zap.String("transfer_id", req.TransferID),
		zap.String("transaction_no", res.TransactionNo),
	)
	return res, nil
}

func (s *DBStore) Commit(ctx context.Context, res *Reservation) error {
	ok, err := s.transactionRepo.UpdateStatus(ctx, nil, res.TransactionNo, model.TransactionStatusPending, model.TransactionStatusCompleted)
	if err != nil {
		return fmt.Errorf("确认流水失败: %w", err)
	}
	if ok {
		return nil
	}

	trans, err := s.transactionRepo.GetByTransactionNo(ctx, nil, res.TransactionNo)
	if err != nil {
		return fmt.Errorf("查询流水失败: %w", err)
	}
	if trans == nil {
		return ErrReservationNotFound
	}
	if trans.Status == model.TransactionStatusCompleted {
		return nil
	}
	return ErrReservationSettled
}

func (s *DBStore) Release(ctx context.Context, res *Reservation) error {
	errAlreadyReleased := errors.New("already released")

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByTransactionNo(ctx, tx, res.TransactionNo)
		if err != nil {
			return fmt.Errorf("查询流水失败: %w", err)
		}
		if trans == nil {
			return ErrReservationNotFound
		}

		ok, err := s.transactionRepo.UpdateStatus(ctx, tx, trans.TransactionNo, model.TransactionStatusPending, model.TransactionStatusFailed)
		if err != nil {
			return fmt.Errorf("关闭流水失败: %w", err)
		}
		if !ok {
			current, err := s.transactionRepo.GetByTransactionNo(ctx, tx, trans.TransactionNo)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			if current.Status == model.TransactionStatusFailed {
				return errAlreadyReleased
			}
			return ErrReservationSettled
		}

		if err := s.walletRepo.Increase(ctx, tx, trans.UserID, trans.Amount); err != nil {
			return fmt.Errorf("退回余额失败: %w", err)
		}
		return nil
	})

	if errors.Is(err, errAlreadyReleased) {
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Info("预留已释放，余额退回",
		zap.Int64("user_id", res.UserID),
		zap.Int64("amount", res.Amount),
		zap.String("transaction_no", res.TransactionNo),
	)
	return nil
}

func (s *DBStore) Credit(ctx context.Context, req CreditRequest) (*model.Transaction, error) {
	if err := validateCredit(req); err != nil {
		return nil, err
	}

	existing, err := s.transactionRepo.GetByTransferID(ctx, nil, req.TransferID)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		return existing, &errs.DuplicateTransferError{TransferID: req.TransferID}
	}

	source := req.Source
	if source == "" {
		source = model.TransactionSourceExternal
	}

	var trans *model.Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.EnsureExists(ctx, tx, req.UserID); err != nil {
			return fmt.Errorf("创建钱包失败: %w", err)
		}
		if err := s.walletRepo.Increase(ctx, tx, req.UserID, req.Amount); err != nil {
			return fmt.Errorf("增加余额失败: %w", err)
		}

		wallet, err := s.walletRepo.GetByUserID(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("查询钱包失败: %w", err)
		}

		transferID := req.TransferID
		trans = &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			Type:          model.TransactionTypeCredit,
			Amount:        req.Amount,
			Status:        model.TransactionStatusCompleted,
			Source:        source,
			TransferID:    &transferID,
			BalanceBefore: wallet.Balance - req.Amount,
			BalanceAfter:  wallet.Balance,
			Remark:        req.Remark,
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return err
		}
		if req.OnCredit != nil {
			return req.OnCredit(tx, trans)
		}
		return nil
	})

	if err != nil {
		if dup, getErr := s.transactionRepo.GetByTransferID(ctx, nil, req.TransferID); getErr == nil && dup != nil {
			return dup, &errs.DuplicateTransferError{TransferID: req.TransferID}
		}
		return nil, err
	}

	return trans, nil
}

func (s *DBStore) Balance(ctx context.Context, userID int64) (int64, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *DBStore) Transactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *DBStore) ReservationFor(ctx context.Context, transferID string) (*Reservation, error) {
	trans, err := s.transactionRepo.GetByTransferID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}
	if trans == nil || trans.Type != model.TransactionTypeDebit {
		return nil, nil
	}
	return reservationOf(trans), nil
}

func (s *DBStore) Audit(ctx context.Context, userID int64) (*AuditResult, error) {
	result := &AuditResult{UserID: userID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserID(ctx, tx, userID)
		if err != nil && !errors.Is(err, repository.ErrWalletNotFound) {
			return err
		}
		if wallet != nil {
			result.Balance = wallet.Balance
		}

		sums, err := s.transactionRepo.SumByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.CompletedCredits = sums.CompletedCredits
		result.CompletedDebits = sums.CompletedDebits
		result.PendingDebits = sums.PendingDebits
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("账本审计失败: %w", err)
	}

	result.evaluate()
	return result, nil
}
