package ledger

import (
	"context"
	"errors"

	"walletpay/internal/errs"
	"walletpay/internal/model"

	"gorm.io/gorm"
)

// ============================================================================
// 账本存储
// ============================================================================
//
// 余额的所有变动都经过这里：
//   Reserve  条件扣减余额 + 写 pending 出账流水（同一事务）
//   Commit   pending -> completed
//   Release  pending -> failed 并退回余额（同一事务）
//   Credit   入账，按 transferId 幂等
//
// 不变式：balance == 已完成入账 - 已完成出账 - 处理中出账，任何时刻成立
//
// ============================================================================

var (
	ErrReservationNotFound = errors.New("预留流水不存在")
	ErrReservationSettled  = errors.New("预留流水已结算，不能再反向处理")
)

type ReserveRequest struct {
	UserID       int64
	Amount       int64 // 实际扣减金额（本金 + 手续费）
	TransferID   string
	OrderID      string
	FeeBreakdown string
	Remark       string
}

// Reservation 预留凭证，Commit/Release 时原样传回
type Reservation struct {
	TransactionNo string `json:"transaction_no"`
	UserID        int64  `json:"user_id"`
	Amount        int64  `json:"amount"`
	TransferID    string `json:"transfer_id"`
	Status        string `json:"status"`
}

type CreditRequest struct {
	UserID     int64
	Amount     int64
	TransferID string
	Source     string
	Remark     string
	// OnCredit 与入账在同一事务内执行（如写 outbox），返回错误则整笔入账回滚
	// MemStore 没有数据库事务，tx 为 nil
	OnCredit func(tx *gorm.DB, t *model.Transaction) error
}

type AuditResult struct {
	UserID           int64 `json:"user_id"`
	Balance          int64 `json:"balance"`
	CompletedCredits int64 `json:"completed_credits"`
	CompletedDebits  int64 `json:"completed_debits"`
	PendingDebits    int64 `json:"pending_debits"`
	Consistent       bool  `json:"consistent"`
}

func (a *AuditResult) evaluate() {
	a.Consistent = a.Balance == a.CompletedCredits-a.CompletedDebits-a.PendingDebits
}

type Store interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	Commit(ctx context.Context, res *Reservation) error
	Release(ctx context.Context, res *Reservation) error
	Credit(ctx context.Context, req CreditRequest) (*model.Transaction, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	Transactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error)
	// ReservationFor 按 transferId 查出账预留，不存在时返回 nil, nil
	ReservationFor(ctx context.Context, transferID string) (*Reservation, error)
	Audit(ctx context.Context, userID int64) (*AuditResult, error)
}

func validateReserve(req ReserveRequest) error {
	if req.Amount <= 0 {
		return errs.Validation("amount", "必须大于0")
	}
	if req.TransferID == "" {
		return errs.Validation("transfer_id", "不能为空")
	}
	return nil
}

func validateCredit(req CreditRequest) error {
	if req.Amount <= 0 {
		return errs.Validation("amount", "必须大于0")
	}
	if req.TransferID == "" {
		return errs.Validation("transfer_id", "不能为空")
	}
	return nil
}

func reservationOf(t *model.Transaction) *Reservation {
	return &Reservation{
		TransactionNo: t.TransactionNo,
		UserID:        t.UserID,
		Amount:        t.Amount,
		TransferID:    t.TransferIDValue(),
		Status:        t.Status,
	}
}

// duplicateReservation 同一 transferId 已预留过：返回原凭证 + DuplicateTransferError
func duplicateReservation(existing *model.Transaction) (*Reservation, error) {
	dup := &errs.DuplicateTransferError{TransferID: existing.TransferIDValue()}
	if existing.Type != model.TransactionTypeDebit {
		return nil, dup
	}
	return reservationOf(existing), dup
}
