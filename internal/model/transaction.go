package model

import (
	"time"
)

// ============================================================================
// 流水类型/状态常量
// ============================================================================

const (
	TransactionTypeCredit = "credit" // 入账
	TransactionTypeDebit  = "debit"  // 出账
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

const (
	TransactionSourceWallet   = "wallet"
	TransactionSourceBank     = "bank"
	TransactionSourceExternal = "external"
)

// ============================================================================
// 钱包流水实体
// ============================================================================

// Transaction 钱包流水表
//
// 【重要】流水表设计原则：
// 1. 每次余额变动对应且仅对应一条流水，与余额变更在同一个数据库事务内写入
// 2. 只追加，不删除；唯一允许修改的字段是 status，且只能 pending -> completed/failed
// 3. transfer_id 全局唯一，是防止同一外部事件被重复结算的幂等键
type Transaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(16);not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // 恒为正数，方向由 Type 决定
	Status        string    `gorm:"type:varchar(16);index;not null" json:"status"`
	Source        string    `gorm:"type:varchar(16);not null" json:"source"`
	TransferID    *string   `gorm:"type:varchar(128);uniqueIndex" json:"transfer_id,omitempty"`
	OrderID       string    `gorm:"type:varchar(64);index" json:"order_id,omitempty"` // 关联出款单号
	FeeBreakdown  string    `gorm:"type:text" json:"fee_breakdown,omitempty"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "wallet_transaction"
}

func (t *Transaction) TransferIDValue() string {
	if t.TransferID == nil {
		return ""
	}
	return *t.TransferID
}
