package repository

import (
	"context"
	"errors"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrWithdrawalNotFound      = errors.New("出款单不存在")
	ErrWithdrawalStatusInvalid = errors.New("出款单状态不合法")
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return r.conn(tx).WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByRequestNo(ctx context.Context, requestNo string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetByUserRequestID 客户端幂等ID查询，不存在时返回 nil, nil
func (r *WithdrawalRepository) GetByUserRequestID(ctx context.Context, userID int64, requestID string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("user_id = ? AND request_id = ?", userID, requestID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// UpdateStatus 状态 CAS：WHERE status = from，未命中返回 ErrWithdrawalStatusInvalid
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, requestNo string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrWithdrawalStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	now := time.Now()
	switch toStatus {
	case model.WithdrawalStatusReserved:
		updates["approved_at"] = &now
	case model.WithdrawalStatusSubmitted:
		updates["submitted_at"] = &now
	case model.WithdrawalStatusTransferred, model.WithdrawalStatusFailed:
		updates["completed_at"] = &now
		updates["claimed_until"] = nil
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("request_no = ? AND status = ?", requestNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrWithdrawalStatusInvalid
	}

	return nil
}

// ListStale 查询超过宽限期仍未结束的单据（不含已转人工的）
func (r *WithdrawalRepository) ListStale(ctx context.Context, statuses []string, before time.Time, limit int) ([]*model.WithdrawalRequest, error) {
	var list []*model.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("status IN ? AND manual_review = ? AND updated_at < ?", statuses, false, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// ListResumable 查询卡住待推进的单据：reserved，或已有预留流水的 pending
// 审批前停住的 pending 没有预留，留给用户重试，不占批次
func (r *WithdrawalRepository) ListResumable(ctx context.Context, before time.Time, limit int) ([]*model.WithdrawalRequest, error) {
	var list []*model.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("manual_review = ? AND updated_at < ?", false, before).
		Where("status = ? OR (status = ? AND EXISTS (SELECT 1 FROM wallet_transaction t WHERE t.transfer_id = withdrawal_request.transfer_id))",
			model.WithdrawalStatusReserved, model.WithdrawalStatusPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// Claim 对账任务认领单据
//
// 只有仍处于 submitted/reconciling、未转人工、且没有被其他轮次持有（或租约已过期）的单据能被认领；
// 认领本身是一条条件 UPDATE，命中即获得处理权，同时把状态推进到 reconciling 并累加尝试次数
func (r *WithdrawalRepository) Claim(ctx context.Context, requestNo string, now time.Time, lease time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("request_no = ? AND status IN ? AND manual_review = ? AND (claimed_until IS NULL OR claimed_until < ?)",
			requestNo,
			[]string{model.WithdrawalStatusSubmitted, model.WithdrawalStatusReconciling},
			false,
			now,
		).
		Updates(map[string]interface{}{
			"status":         model.WithdrawalStatusReconciling,
			"claimed_until":  now.Add(lease),
			"recon_attempts": gorm.Expr("recon_attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *WithdrawalRepository) ReleaseClaim(ctx context.Context, requestNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("request_no = ?", requestNo).
		UpdateColumn("claimed_until", nil).Error
}

// FlagManualReview 标记人工处理，状态保持不变，对账任务不再自动处理
func (r *WithdrawalRepository) FlagManualReview(ctx context.Context, tx *gorm.DB, requestNo, reason string) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("request_no = ? AND status IN ? AND manual_review = ?",
			requestNo,
			[]string{model.WithdrawalStatusSubmitted, model.WithdrawalStatusReconciling},
			false,
		).
		Updates(map[string]interface{}{
			"manual_review":  true,
			"failure_reason": reason,
			"claimed_until":  nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Requeue 人工确认后重新交给对账任务，仍然需要查询通道状态才能结束
func (r *WithdrawalRepository) Requeue(ctx context.Context, requestNo string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("request_no = ? AND manual_review = ?", requestNo, true).
		Updates(map[string]interface{}{
			"manual_review":  false,
			"recon_attempts": 0,
			"requeued_at":    time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *WithdrawalRepository) ListManualReview(ctx context.Context, limit int) ([]*model.WithdrawalRequest, error) {
	var list []*model.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("manual_review = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	var list []*model.WithdrawalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error

	return list, total, err
}
