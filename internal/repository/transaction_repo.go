package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	return r.conn(tx).WithContext(ctx).Create(trans).Error
}

// GetByTransferID 不存在时返回 nil, nil
func (r *TransactionRepository) GetByTransferID(ctx context.Context, tx *gorm.DB, transferID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("transfer_id = ?", transferID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateStatus 流水状态 CAS，返回是否命中
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, transactionNo, fromStatus, toStatus string) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// LedgerSums 按类型/状态汇总的流水金额
type LedgerSums struct {
	CompletedCredits int64
	CompletedDebits  int64
	PendingDebits    int64
}

func (r *TransactionRepository) SumByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*LedgerSums, error) {
	var rows []struct {
		Type   string
		Status string
		Total  int64
	}
	err := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Select("type, status, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).
		Group("type, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := &LedgerSums{}
	for _, row := range rows {
		switch {
		case row.Type == model.TransactionTypeCredit && row.Status == model.TransactionStatusCompleted:
			sums.CompletedCredits += row.Total
		case row.Type == model.TransactionTypeDebit && row.Status == model.TransactionStatusCompleted:
			sums.CompletedDebits += row.Total
		case row.Type == model.TransactionTypeDebit && row.Status == model.TransactionStatusPending:
			sums.PendingDebits += row.Total
		}
	}
	return sums, nil
}
