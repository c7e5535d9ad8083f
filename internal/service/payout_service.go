package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/errs"
	"walletpay/internal/gateway"
	"walletpay/internal/ledger"
	"walletpay/internal/metrics"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 出款编排
// ============================================================================
//
// 状态机：
//   pending -> reserved -> submitted -> transferred / failed
//                          submitted -> reconciling -> transferred / failed
//   pending -> failed（余额不足）   reserved -> failed（提交前放弃）
//
// 规则：
//   1. 先动账本（Commit / Release），再做状态 CAS，二者都幂等，
//      编排服务和对账任务同时处理同一笔单据时最终收敛到同一状态
//   2. 通道超时、异常、结果不明一律进入 reconciling，只有查询到明确结果才结束
//   3. 每次进入终态或 reconciling，都在同一事务里写 outbox 事件
//
// ============================================================================

var ErrReservationMissing = errors.New("出款单没有对应的预留流水")

type PayoutService struct {
	db              *gorm.DB
	cfg             *config.Config
	store           ledger.Store
	adapter         *gateway.Adapter
	auth            Authorizer
	fee             FeePolicy
	withdrawalRepo  *repository.WithdrawalRepository
	beneficiaryRepo *repository.BeneficiaryRepository
	outboxRepo      *repository.OutboxRepository
}

func NewPayoutService(db *gorm.DB, cfg *config.Config, store ledger.Store, adapter *gateway.Adapter, auth Authorizer) *PayoutService {
	return &PayoutService{
		db:              db,
		cfg:             cfg,
		store:           store,
		adapter:         adapter,
		auth:            auth,
		fee:             NewFeePolicy(&cfg.Payout),
		withdrawalRepo:  repository.NewWithdrawalRepository(db),
		beneficiaryRepo: repository.NewBeneficiaryRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

type WithdrawRequest struct {
	RequestID     string `json:"request_id" binding:"required"`
	UserID        int64  `json:"-"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	BeneficiaryID int64  `json:"beneficiary_id" binding:"required"`
	AuthProof     string `json:"pin"`
	Remarks       string `json:"remarks"`
}

// WithdrawalView 对用户展示的出款单，只暴露对外状态
type WithdrawalView struct {
	RequestNo     string     `json:"request_no"`
	RequestID     string     `json:"request_id"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Fee           int64      `json:"fee"`
	BeneficiaryID int64      `json:"beneficiary_id"`
	Provider      string     `json:"provider"`
	ProviderRef   string     `json:"provider_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func viewOf(w *model.WithdrawalRequest) *WithdrawalView {
	v := &WithdrawalView{
		RequestNo:     w.RequestNo,
		RequestID:     w.RequestID,
		Status:        model.PublicStatus(w.Status),
		Amount:        w.Amount,
		Fee:           w.Fee,
		BeneficiaryID: w.BeneficiaryID,
		Provider:      w.Provider,
		ProviderRef:   w.ProviderRef,
		CreatedAt:     w.CreatedAt,
		CompletedAt:   w.CompletedAt,
	}
	if w.Status == model.WithdrawalStatusFailed {
		v.FailureReason = w.FailureReason
	}
	return v
}

// WithdrawalEvent outbox 事件内容
type WithdrawalEvent struct {
	Event       string    `json:"event"`
	RequestNo   string    `json:"request_no"`
	UserID      int64     `json:"user_id"`
	Amount      int64     `json:"amount"`
	Fee         int64     `json:"fee"`
	Status      string    `json:"status"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (s *PayoutService) RequestWithdrawal(ctx context.Context, req *WithdrawRequest) (*WithdrawalView, error) {
	if req.RequestID == "" {
		return nil, errs.Validation("request_id", "不能为空")
	}
	if req.Amount <= 0 {
		return nil, errs.Validation("amount", "必须大于0")
	}
	if limit := s.cfg.Payout.MaxAmount; limit > 0 && req.Amount > limit {
		return nil, errs.Validation("amount", fmt.Sprintf("超过单笔上限 %d", limit))
	}

	// 幂等：同一用户同一 request_id 只建一张单，重试时接着推进
	existing, err := s.withdrawalRepo.GetByUserRequestID(ctx, req.UserID, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询出款单失败: %w", err)
	}
	if existing != nil {
		return s.resume(ctx, existing, req.AuthProof)
	}

	ben, err := s.beneficiaryRepo.GetByID(ctx, req.UserID, req.BeneficiaryID)
	if err != nil {
		if errors.Is(err, repository.ErrBeneficiaryNotFound) {
			return nil, errs.Validation("beneficiary_id", "收款方不存在")
		}
		return nil, fmt.Errorf("查询收款方失败: %w", err)
	}

	requestNo := idgen.GenerateRequestNo()
	w := &model.WithdrawalRequest{
		RequestNo:     requestNo,
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Fee:           s.fee.Compute(req.Amount),
		BeneficiaryID: ben.ID,
		Provider:      ben.Provider,
		Status:        model.WithdrawalStatusPending,
		TransferID:    idgen.TransferIDFor(requestNo),
		Remarks:       req.Remarks,
	}
	if err := s.withdrawalRepo.Create(ctx, nil, w); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 同一 request_id 并发提交，以先落库的为准
			if existing, getErr := s.withdrawalRepo.GetByUserRequestID(ctx, req.UserID, req.RequestID); getErr == nil && existing != nil {
				return s.resume(ctx, existing, req.AuthProof)
			}
		}
		return nil, fmt.Errorf("创建出款单失败: %w", err)
	}

	zap.L().Info("出款单已创建",
		zap.String("request_no", w.RequestNo),
		zap.Int64("user_id", w.UserID),
		zap.Int64("amount", w.Amount),
		zap.Int64("fee", w.Fee),
		zap.String("provider", w.Provider),
	)
	return s.drive(ctx, w, ben, req.AuthProof)
}

// resume 已存在的单据：未提交的继续推进，其余直接返回当前状态
func (s *PayoutService) resume(ctx context.Context, w *model.WithdrawalRequest, proof string) (*WithdrawalView, error) {
	if w.Status != model.WithdrawalStatusPending && w.Status != model.WithdrawalStatusReserved {
		return viewOf(w), nil
	}
	ben, err := s.beneficiaryRepo.GetByID(ctx, w.UserID, w.BeneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("查询收款方失败: %w", err)
	}
	return s.drive(ctx, w, ben, proof)
}

// drive pending -> reserved -> submitted -> ...
func (s *PayoutService) drive(ctx context.Context, w *model.WithdrawalRequest, ben *model.Beneficiary, proof string) (*WithdrawalView, error) {
	if w.Status == model.WithdrawalStatusPending {
		if err := s.auth.Authorize(ctx, w.UserID, proof); err != nil {
			// 审批失败单据保持 pending，可以带正确凭证重试
			metrics.WithdrawalsTotal.WithLabelValues("unauthorized").Inc()
			return viewOf(w), err
		}

		advanced, err := s.reserve(ctx, w)
		if err != nil || !advanced {
			return viewOf(w), err
		}
	}

	if w.Status != model.WithdrawalStatusReserved {
		return viewOf(w), nil
	}
	if err := s.submit(ctx, w, ben); err != nil {
		return viewOf(w), err
	}
	return viewOf(w), nil
}

// reserve 预留余额并推进到 reserved，返回是否由本次调用推进
func (s *PayoutService) reserve(ctx context.Context, w *model.WithdrawalRequest) (bool, error) {
	res, err := s.store.Reserve(ctx, ledger.ReserveRequest{
		UserID:       w.UserID,
		Amount:       w.DebitAmount(),
		TransferID:   w.TransferID,
		OrderID:      w.RequestNo,
		FeeBreakdown: s.fee.Breakdown(w.Amount),
		Remark:       "出款-" + w.RequestNo,
	})
	switch {
	case err == nil:
	case errs.IsDuplicate(err) && res != nil:
		// 崩溃重启或并发重试，预留已经存在
		if res.Status == model.TransactionStatusFailed {
			return false, s.FailTransfer(ctx, w, "", "预留已释放")
		}
	case errs.IsInsufficientBalance(err):
		metrics.WithdrawalsTotal.WithLabelValues("insufficient_balance").Inc()
		if failErr := s.transition(ctx, w, model.WithdrawalStatusFailed, map[string]interface{}{
			"failure_reason": "余额不足",
		}, model.EventWithdrawalFailed, "余额不足"); failErr != nil {
			zap.L().Error("出款单标记失败出错", zap.String("request_no", w.RequestNo), zap.Error(failErr))
		}
		return false, err
	default:
		return false, fmt.Errorf("预留余额失败: %w", err)
	}

	if err := s.withdrawalRepo.UpdateStatus(ctx, nil, w.RequestNo, model.WithdrawalStatusPending, model.WithdrawalStatusReserved, nil); err != nil {
		if errors.Is(err, repository.ErrWithdrawalStatusInvalid) {
			// 另一个请求已经推进
			return false, s.reload(ctx, w)
		}
		return false, err
	}
	w.Status = model.WithdrawalStatusReserved
	return true, nil
}

// submit reserved -> submitted，然后调用通道
func (s *PayoutService) submit(ctx context.Context, w *model.WithdrawalRequest, ben *model.Beneficiary) error {
	// 一旦提交，后续状态落库不能因调用方断开而中止
	ctx = context.WithoutCancel(ctx)

	if err := s.withdrawalRepo.UpdateStatus(ctx, nil, w.RequestNo, model.WithdrawalStatusReserved, model.WithdrawalStatusSubmitted, nil); err != nil {
		if errors.Is(err, repository.ErrWithdrawalStatusInvalid) {
			return s.reload(ctx, w)
		}
		return err
	}
	w.Status = model.WithdrawalStatusSubmitted

	res, err := s.callGateway(ctx, w, ben)
	return s.applySubmitOutcome(ctx, w, res, err)
}

// callGateway 带超时调用通道，panic 视为结果未知
func (s *PayoutService) callGateway(ctx context.Context, w *model.WithdrawalRequest, ben *model.Beneficiary) (res *gateway.SubmitResult, err error) {
	timeout := s.cfg.Payout.GatewayTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("[PayoutService] 通道调用 panic",
				zap.String("request_no", w.RequestNo),
				zap.Any("panic", r),
			)
			res = &gateway.SubmitResult{Outcome: gateway.OutcomeUnknown}
			err = &errs.GatewayTimeoutError{Provider: w.Provider, Op: "submit", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return s.adapter.SubmitTransfer(callCtx, ben, w.Amount, w.TransferID, w.Remarks)
}

// applySubmitOutcome 通道结果驱动状态：accepted -> transferred，rejected -> failed，其余 -> reconciling
func (s *PayoutService) applySubmitOutcome(ctx context.Context, w *model.WithdrawalRequest, res *gateway.SubmitResult, callErr error) error {
	var providerRef, reason string
	if res != nil {
		providerRef, reason = res.ProviderRef, res.Reason
	}

	switch {
	case callErr == nil && res != nil && res.Outcome == gateway.OutcomeAccepted:
		return s.CompleteTransfer(ctx, w, providerRef)
	case errs.IsRejected(callErr) || (res != nil && res.Outcome == gateway.OutcomeRejected):
		if reason == "" && callErr != nil {
			reason = callErr.Error()
		}
		return s.FailTransfer(ctx, w, providerRef, reason)
	default:
		if callErr != nil {
			reason = callErr.Error()
		}
		return s.MarkReconciling(ctx, w, providerRef, reason)
	}
}

// CompleteTransfer 通道确认成功：Commit 预留，状态 -> transferred
func (s *PayoutService) CompleteTransfer(ctx context.Context, w *model.WithdrawalRequest, providerRef string) error {
	res, err := s.store.ReservationFor(ctx, w.TransferID)
	if err != nil {
		return fmt.Errorf("查询预留失败: %w", err)
	}
	if res == nil {
		s.flagConflict(ctx, w, "通道成功但预留不存在")
		return ErrReservationMissing
	}
	if err := s.store.Commit(ctx, res); err != nil {
		if errors.Is(err, ledger.ErrReservationSettled) {
			s.flagConflict(ctx, w, "通道成功但预留已释放")
		}
		return fmt.Errorf("确认预留失败: %w", err)
	}

	extra := map[string]interface{}{}
	if providerRef != "" {
		extra["provider_ref"] = providerRef
		w.ProviderRef = providerRef
	}
	if err := s.transition(ctx, w, model.WithdrawalStatusTransferred, extra, model.EventWithdrawalTransferred, ""); err != nil {
		return err
	}

	metrics.WithdrawalsTotal.WithLabelValues(model.WithdrawalStatusTransferred).Inc()
	zap.L().Info("出款成功",
		zap.String("request_no", w.RequestNo),
		zap.Int64("user_id", w.UserID),
		zap.Int64("amount", w.Amount),
		zap.String("provider_ref", w.ProviderRef),
	)
	return nil
}

// FailTransfer 通道明确失败（或提交前放弃）：Release 预留，状态 -> failed
func (s *PayoutService) FailTransfer(ctx context.Context, w *model.WithdrawalRequest, providerRef, reason string) error {
	res, err := s.store.ReservationFor(ctx, w.TransferID)
	if err != nil {
		return fmt.Errorf("查询预留失败: %w", err)
	}
	if res != nil {
		if err := s.store.Release(ctx, res); err != nil {
			if errors.Is(err, ledger.ErrReservationSettled) {
				s.flagConflict(ctx, w, "通道失败但预留已确认")
			}
			return fmt.Errorf("释放预留失败: %w", err)
		}
	}

	extra := map[string]interface{}{"failure_reason": truncateReason(reason)}
	if providerRef != "" {
		extra["provider_ref"] = providerRef
		w.ProviderRef = providerRef
	}
	if err := s.transition(ctx, w, model.WithdrawalStatusFailed, extra, model.EventWithdrawalFailed, reason); err != nil {
		return err
	}
	w.FailureReason = truncateReason(reason)

	metrics.WithdrawalsTotal.WithLabelValues(model.WithdrawalStatusFailed).Inc()
	zap.L().Info("出款失败，余额已退回",
		zap.String("request_no", w.RequestNo),
		zap.Int64("user_id", w.UserID),
		zap.Int64("amount", w.DebitAmount()),
		zap.String("reason", reason),
	)
	return nil
}

// MarkReconciling 结果不明，交给对账任务，不动账本
func (s *PayoutService) MarkReconciling(ctx context.Context, w *model.WithdrawalRequest, providerRef, reason string) error {
	extra := map[string]interface{}{}
	if providerRef != "" {
		extra["provider_ref"] = providerRef
		w.ProviderRef = providerRef
	}
	if err := s.transition(ctx, w, model.WithdrawalStatusReconciling, extra, model.EventWithdrawalReconciling, reason); err != nil {
		return err
	}

	metrics.WithdrawalsTotal.WithLabelValues(model.WithdrawalStatusReconciling).Inc()
	zap.L().Warn("出款结果未知，进入对账",
		zap.String("request_no", w.RequestNo),
		zap.String("provider", w.Provider),
		zap.String("reason", reason),
	)
	return nil
}

// Resubmit 通道查不到该笔转账时用同一幂等键重新提交，结果不明则保持 reconciling
func (s *PayoutService) Resubmit(ctx context.Context, w *model.WithdrawalRequest) error {
	ben, err := s.beneficiaryRepo.GetByID(ctx, w.UserID, w.BeneficiaryID)
	if err != nil {
		return fmt.Errorf("查询收款方失败: %w", err)
	}

	res, callErr := s.callGateway(ctx, w, ben)
	switch {
	case callErr == nil && res != nil && res.Outcome == gateway.OutcomeAccepted:
		return s.CompleteTransfer(ctx, w, res.ProviderRef)
	case errs.IsRejected(callErr):
		reason := callErr.Error()
		if res != nil && res.Reason != "" {
			reason = res.Reason
		}
		ref := ""
		if res != nil {
			ref = res.ProviderRef
		}
		return s.FailTransfer(ctx, w, ref, reason)
	default:
		if res != nil && res.ProviderRef != "" && res.ProviderRef != w.ProviderRef {
			if err := s.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).
				Where("request_no = ?", w.RequestNo).
				Update("provider_ref", res.ProviderRef).Error; err != nil {
				return err
			}
			w.ProviderRef = res.ProviderRef
		}
		zap.L().Info("[PayoutService] 重新提交结果仍未知，继续对账",
			zap.String("request_no", w.RequestNo),
			zap.Error(callErr),
		)
		return nil
	}
}

// FlagManualReview 对账耗尽，转人工，不再自动处理
func (s *PayoutService) FlagManualReview(ctx context.Context, w *model.WithdrawalRequest, reason string) error {
	var flagged bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.withdrawalRepo.FlagManualReview(ctx, tx, w.RequestNo, reason)
		if err != nil || !ok {
			return err
		}
		flagged = true
		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.MQ.Topic.WithdrawalEvents, w.RequestNo,
			s.event(w, model.EventWithdrawalManualReview, w.Status, reason))
	})
	if err != nil {
		return err
	}
	if flagged {
		w.ManualReview = true
		metrics.ManualReviewTotal.Inc()
		zap.L().Error("出款单转人工处理",
			zap.String("request_no", w.RequestNo),
			zap.String("status", w.Status),
			zap.String("reason", reason),
		)
	}
	return nil
}

// flagConflict 账本与通道结果矛盾，只能人工处理
func (s *PayoutService) flagConflict(ctx context.Context, w *model.WithdrawalRequest, reason string) {
	if err := s.FlagManualReview(ctx, w, reason); err != nil {
		zap.L().Error("标记人工处理失败", zap.String("request_no", w.RequestNo), zap.Error(err))
	}
}

// ResumeStalled 推进进程崩溃后卡在 pending（已预留）或 reserved 的单据
func (s *PayoutService) ResumeStalled(ctx context.Context, before time.Time, limit int) (int, error) {
	list, err := s.withdrawalRepo.ListResumable(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, w := range list {
		if w.Status == model.WithdrawalStatusPending {
			res, err := s.store.ReservationFor(ctx, w.TransferID)
			if err != nil {
				zap.L().Error("[ResumeStalled] 查询预留失败", zap.String("request_no", w.RequestNo), zap.Error(err))
				continue
			}
			// 没有预留说明停在审批前，等用户重试
			if res == nil {
				continue
			}
			if res.Status == model.TransactionStatusFailed {
				if err := s.FailTransfer(ctx, w, "", "预留已释放"); err != nil {
					zap.L().Error("[ResumeStalled] 关闭单据失败", zap.String("request_no", w.RequestNo), zap.Error(err))
				}
				continue
			}
			if err := s.withdrawalRepo.UpdateStatus(ctx, nil, w.RequestNo, model.WithdrawalStatusPending, model.WithdrawalStatusReserved, nil); err != nil {
				continue
			}
			w.Status = model.WithdrawalStatusReserved
		}

		ben, err := s.beneficiaryRepo.GetByID(ctx, w.UserID, w.BeneficiaryID)
		if err != nil {
			zap.L().Error("[ResumeStalled] 查询收款方失败，放弃提交", zap.String("request_no", w.RequestNo), zap.Error(err))
			if err := s.FailTransfer(ctx, w, "", "收款方不存在"); err != nil {
				zap.L().Error("[ResumeStalled] 关闭单据失败", zap.String("request_no", w.RequestNo), zap.Error(err))
			}
			continue
		}
		if err := s.submit(ctx, w, ben); err != nil {
			zap.L().Error("[ResumeStalled] 提交失败", zap.String("request_no", w.RequestNo), zap.Error(err))
			continue
		}
		resumed++
		zap.L().Info("[ResumeStalled] 单据已继续推进", zap.String("request_no", w.RequestNo), zap.String("status", w.Status))
	}
	return resumed, nil
}

func (s *PayoutService) GetWithdrawal(ctx context.Context, userID int64, requestNo string) (*WithdrawalView, error) {
	w, err := s.withdrawalRepo.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, repository.ErrWithdrawalNotFound
	}
	return viewOf(w), nil
}

type WithdrawalPage struct {
	List     []*WithdrawalView `json:"list"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func (s *PayoutService) ListWithdrawals(ctx context.Context, userID int64, page, pageSize int) (*WithdrawalPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.withdrawalRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	views := make([]*WithdrawalView, 0, len(list))
	for _, w := range list {
		views = append(views, viewOf(w))
	}
	return &WithdrawalPage{List: views, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *PayoutService) ListManualReview(ctx context.Context, limit int) ([]*model.WithdrawalRequest, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return s.withdrawalRepo.ListManualReview(ctx, limit)
}

// Requeue 人工确认后交回对账任务，仍需查询通道才能结束
func (s *PayoutService) Requeue(ctx context.Context, requestNo string) error {
	ok, err := s.withdrawalRepo.Requeue(ctx, requestNo)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.withdrawalRepo.GetByRequestNo(ctx, requestNo); err != nil {
			return err
		}
		return repository.ErrWithdrawalStatusInvalid
	}
	zap.L().Info("出款单已重新交给对账任务", zap.String("request_no", requestNo))
	return nil
}

// transition 状态 CAS + outbox 同事务；CAS 未命中时按当前状态重试一次，已在目标状态视为成功
func (s *PayoutService) transition(ctx context.Context, w *model.WithdrawalRequest, to string, extra map[string]interface{}, event, reason string) error {
	from := w.Status
	for attempt := 0; attempt < 2; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w.RequestNo, from, to, extra); err != nil {
				return err
			}
			return s.outboxRepo.Enqueue(ctx, tx, s.cfg.MQ.Topic.WithdrawalEvents, w.RequestNo, s.event(w, event, to, reason))
		})
		if err == nil {
			w.Status = to
			return nil
		}
		if !errors.Is(err, repository.ErrWithdrawalStatusInvalid) {
			return fmt.Errorf("更新出款单状态失败: %w", err)
		}

		current, getErr := s.withdrawalRepo.GetByRequestNo(ctx, w.RequestNo)
		if getErr != nil {
			return getErr
		}
		*w = *current
		if current.Status == to {
			return nil
		}
		if !model.CanTransitionTo(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", repository.ErrWithdrawalStatusInvalid, current.Status, to)
		}
		from = current.Status
	}
	return repository.ErrWithdrawalStatusInvalid
}

func (s *PayoutService) reload(ctx context.Context, w *model.WithdrawalRequest) error {
	current, err := s.withdrawalRepo.GetByRequestNo(ctx, w.RequestNo)
	if err != nil {
		return err
	}
	*w = *current
	return nil
}

func (s *PayoutService) event(w *model.WithdrawalRequest, event, status, reason string) *WithdrawalEvent {
	return &WithdrawalEvent{
		Event:       event,
		RequestNo:   w.RequestNo,
		UserID:      w.UserID,
		Amount:      w.Amount,
		Fee:         w.Fee,
		Status:      model.PublicStatus(status),
		Provider:    w.Provider,
		ProviderRef: w.ProviderRef,
		Reason:      reason,
		OccurredAt:  time.Now(),
	}
}

func truncateReason(reason string) string {
	const limit = 256
	r := []rune(reason)
	if len(r) > limit {
		return string(r[:limit])
	}
	return reason
}
