package model

import (
	"time"
)

const (
	WithdrawalStatusPending     = "pending"
	WithdrawalStatusReserved    = "reserved"
	WithdrawalStatusSubmitted   = "submitted"
	WithdrawalStatusReconciling = "reconciling"
	WithdrawalStatusTransferred = "transferred"
	WithdrawalStatusFailed      = "failed"
)

// 对外展示的状态，不暴露内部状态机细节
const (
	PublicStatusPending    = "pending"
	PublicStatusProcessing = "processing"
	PublicStatusCompleted  = "completed"
	PublicStatusFailed     = "failed"
)

// ValidWithdrawalTransitions 出款单状态机，只能前进不能回退，transferred/failed 为终态
var ValidWithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending:     {WithdrawalStatusReserved, WithdrawalStatusFailed},
	WithdrawalStatusReserved:    {WithdrawalStatusSubmitted, WithdrawalStatusFailed},
	WithdrawalStatusSubmitted:   {WithdrawalStatusTransferred, WithdrawalStatusFailed, WithdrawalStatusReconciling},
	WithdrawalStatusReconciling: {WithdrawalStatusTransferred, WithdrawalStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidWithdrawalTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == WithdrawalStatusTransferred || status == WithdrawalStatusFailed
}

func PublicStatus(status string) string {
	switch status {
	case WithdrawalStatusPending:
		return PublicStatusPending
	case WithdrawalStatusTransferred:
		return PublicStatusCompleted
	case WithdrawalStatusFailed:
		return PublicStatusFailed
	default:
		return PublicStatusProcessing
	}
}

// WithdrawalRequest 出款单
// 只允许出款编排服务和对账任务修改，永不删除
type WithdrawalRequest struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`
	RequestID     string     `gorm:"type:varchar(64);uniqueIndex:idx_user_request;not null" json:"request_id"` // 客户端幂等ID
	UserID        int64      `gorm:"uniqueIndex:idx_user_request;index;not null" json:"user_id"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Fee           int64      `gorm:"not null;default:0" json:"fee"`
	BeneficiaryID int64      `gorm:"not null" json:"beneficiary_id"`
	Provider      string     `gorm:"type:varchar(32);not null" json:"provider"`
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`
	TransferID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_id"` // 由 RequestNo 派生，重试时保持不变
	ProviderRef   string     `gorm:"type:varchar(128)" json:"provider_ref"`
	Remarks       string     `gorm:"type:varchar(256)" json:"remarks"`
	FailureReason string     `gorm:"type:varchar(256)" json:"failure_reason"`
	ReconAttempts int        `gorm:"not null;default:0" json:"recon_attempts"`
	ManualReview  bool       `gorm:"not null;default:false;index" json:"manual_review"`
	ClaimedUntil  *time.Time `json:"-"`
	ApprovedAt    *time.Time `json:"approved_at"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	RequeuedAt    *time.Time `json:"requeued_at,omitempty"` // 最近一次人工重新入队，对账时长从这里重新计算
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_request"
}

// DebitAmount 预留时实际扣减的金额（本金 + 手续费）
func (w *WithdrawalRequest) DebitAmount() int64 {
	return w.Amount + w.Fee
}
