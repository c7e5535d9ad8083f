package model

import (
	"time"
)

const (
	InstrumentBank = "bank"
	InstrumentUPI  = "upi"
)

const (
	BeneficiaryVerified = "verified"
	BeneficiaryPending  = "pending"
)

// Beneficiary 收款方
// 同一用户同一收款账户（按指纹）只登记一次，对应一个通道侧的收款方ID
type Beneficiary struct {
	ID                    int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                int64     `gorm:"uniqueIndex:idx_user_fingerprint;not null" json:"user_id"`
	Fingerprint           string    `gorm:"type:varchar(64);uniqueIndex:idx_user_fingerprint;not null" json:"-"`
	Provider              string    `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderBeneficiaryID string    `gorm:"type:varchar(128);not null" json:"provider_beneficiary_id"`
	InstrumentType        string    `gorm:"type:varchar(8);not null" json:"instrument_type"`
	AccountRef            string    `gorm:"type:varchar(128);not null" json:"account_ref"` // 脱敏后的账号或 VPA
	RoutingCode           string    `gorm:"type:varchar(16)" json:"routing_code,omitempty"`
	HolderName            string    `gorm:"type:varchar(128)" json:"holder_name"`
	VerifiedStatus        string    `gorm:"type:varchar(16);not null" json:"verified_status"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Beneficiary) TableName() string {
	return "beneficiary"
}
