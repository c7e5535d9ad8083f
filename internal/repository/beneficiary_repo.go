package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBeneficiaryNotFound  = errors.New("收款方不存在")
	ErrBeneficiaryDuplicate = errors.New("收款方已存在")
)

type BeneficiaryRepository struct {
	db *gorm.DB
}

func NewBeneficiaryRepository(db *gorm.DB) *BeneficiaryRepository {
	return &BeneficiaryRepository{db: db}
}

func (r *BeneficiaryRepository) Create(ctx context.Context, b *model.Beneficiary) error {
	err := r.db.WithContext(ctx).Create(b).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrBeneficiaryDuplicate
	}
	return err
}

// GetByFingerprint 不存在时返回 nil, nil
func (r *BeneficiaryRepository) GetByFingerprint(ctx context.Context, userID int64, fingerprint string) (*model.Beneficiary, error) {
	var b model.Beneficiary
	err := r.db.WithContext(ctx).Where("user_id = ? AND fingerprint = ?", userID, fingerprint).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// GetByID 只能查询自己名下的收款方
func (r *BeneficiaryRepository) GetByID(ctx context.Context, userID, id int64) (*model.Beneficiary, error) {
	var b model.Beneficiary
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BeneficiaryRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Beneficiary, error) {
	var list []*model.Beneficiary
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	return list, err
}
