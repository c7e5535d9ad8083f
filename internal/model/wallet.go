package model

import (
	"time"
)

// Wallet 用户钱包
// 每个用户一条记录，Balance 为可用余额（最小货币单位），任何时刻不得为负
type Wallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"` // 可用余额，预留（reserve）时直接扣减
	Version   int       `gorm:"not null;default:0" json:"version"` // 每次变动递增，便于排查
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
