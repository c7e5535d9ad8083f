package repository

import (
	"context"
	"errors"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCredentialNotFound = errors.New("未设置支付密码")

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) GetByUserID(ctx context.Context, userID int64) (*model.UserCredential, error) {
	var c model.UserCredential
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Upsert 设置或重置支付密码，同时清空失败次数和锁定
func (r *CredentialRepository) Upsert(ctx context.Context, userID int64, pinHash string) error {
	cred := &model.UserCredential{UserID: userID, PINHash: pinHash}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"pin_hash":        pinHash,
				"failed_attempts": 0,
				"locked_until":    nil,
				"updated_at":      time.Now(),
			}),
		}).
		Create(cred).Error
}

// RecordFailedAttempt 原子累加失败次数，达到上限时写入锁定截止时间
func (r *CredentialRepository) RecordFailedAttempt(ctx context.Context, userID int64, maxAttempts int, lockUntil time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.UserCredential{}).
			Where("user_id = ?", userID).
			UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1")).Error
		if err != nil {
			return err
		}
		return tx.Model(&model.UserCredential{}).
			Where("user_id = ? AND failed_attempts >= ?", userID, maxAttempts).
			Update("locked_until", lockUntil).Error
	})
}

func (r *CredentialRepository) ResetFailedAttempts(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.UserCredential{}).
		Where("user_id = ? AND failed_attempts > 0", userID).
		Updates(map[string]interface{}{
			"failed_attempts": 0,
			"locked_until":    nil,
		}).Error
}
