package job

import (
	"context"
	"sync"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/errs"
	"walletpay/internal/gateway"
	"walletpay/internal/metrics"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcilePoller 对账任务
//
// 每轮两次扫描：
//  1. submitted/reconciling 超过宽限期的单据：认领后查询通道，查到明确结果才结束；
//     查不到则用同一幂等键重新提交；次数或时长耗尽转人工
//  2. 崩溃后卡在 pending（已预留）/reserved 的单据交给 ResumeStalled 继续推进
//
// 多实例并发时靠 Claim 的条件 UPDATE 保证同一单据同一时刻只有一个处理者
type ReconcilePoller struct {
	payout         *service.PayoutService
	adapter        *gateway.Adapter
	withdrawalRepo *repository.WithdrawalRepository
	cfg            config.ReconcileConfig
	stopCh         chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

// ReconcileStats 单轮处理结果
type ReconcileStats struct {
	Scanned     int
	Resolved    int
	Resubmitted int
	Pending     int
	Flagged     int
	Skipped     int
	Resumed     int
}

func NewReconcilePoller(db *gorm.DB, cfg *config.Config, payout *service.PayoutService, adapter *gateway.Adapter) *ReconcilePoller {
	rc := cfg.Reconcile
	if rc.Interval <= 0 {
		rc.Interval = 2 * time.Minute
	}
	if rc.ClaimLease <= 0 {
		rc.ClaimLease = time.Minute
	}
	if rc.BatchSize <= 0 {
		rc.BatchSize = 50
	}
	return &ReconcilePoller{
		payout:         payout,
		adapter:        adapter,
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		cfg:            rc,
		stopCh:         make(chan struct{}),
		now:            time.Now,
	}
}

func (p *ReconcilePoller) Start(ctx context.Context) {
	zap.L().Info("[ReconcilePoller] 对账任务启动",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("grace_period", p.cfg.GracePeriod),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[ReconcilePoller] 收到停止信号，任务退出")
			return
		case <-p.stopCh:
			zap.L().Info("[ReconcilePoller] 任务停止")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// Stop 当前一轮处理完后退出，可重复调用
func (p *ReconcilePoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// RunOnce 执行一轮对账
func (p *ReconcilePoller) RunOnce(ctx context.Context) ReconcileStats {
	var stats ReconcileStats
	before := p.now().Add(-p.cfg.GracePeriod)

	list, err := p.withdrawalRepo.ListStale(ctx,
		[]string{model.WithdrawalStatusSubmitted, model.WithdrawalStatusReconciling}, before, p.cfg.BatchSize)
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		zap.L().Error("[ReconcilePoller] 查询待对账单据失败", zap.Error(err))
		return stats
	}
	stats.Scanned = len(list)

	for _, w := range list {
		action := p.reconcile(ctx, w)
		metrics.ReconcileResolvedTotal.WithLabelValues(action).Inc()
		switch action {
		case "transferred", "failed":
			stats.Resolved++
		case "resubmitted":
			stats.Resubmitted++
		case "manual_review":
			stats.Flagged++
		case "skipped":
			stats.Skipped++
		default:
			stats.Pending++
		}
	}

	resumed, err := p.payout.ResumeStalled(ctx, before, p.cfg.BatchSize)
	if err != nil {
		zap.L().Error("[ReconcilePoller] 推进卡住的单据失败", zap.Error(err))
	}
	stats.Resumed = resumed

	metrics.ReconcileRunsTotal.WithLabelValues("ok").Inc()
	if stats.Scanned > 0 || stats.Resumed > 0 {
		zap.L().Info("[ReconcilePoller] 本轮对账完成",
			zap.Int("scanned", stats.Scanned),
			zap.Int("resolved", stats.Resolved),
			zap.Int("resubmitted", stats.Resubmitted),
			zap.Int("pending", stats.Pending),
			zap.Int("manual_review", stats.Flagged),
			zap.Int("resumed", stats.Resumed),
		)
	}
	return stats
}

// reconcile 处理单张单据，返回动作名
func (p *ReconcilePoller) reconcile(ctx context.Context, w *model.WithdrawalRequest) string {
	now := p.now()
	claimed, err := p.withdrawalRepo.Claim(ctx, w.RequestNo, now, p.cfg.ClaimLease)
	if err != nil {
		zap.L().Error("[ReconcilePoller] 认领单据失败", zap.String("request_no", w.RequestNo), zap.Error(err))
		return "error"
	}
	if !claimed {
		return "skipped"
	}
	w.Status = model.WithdrawalStatusReconciling
	w.ReconAttempts++

	status, err := p.adapter.CheckStatus(ctx, w.Provider, gateway.StatusQuery{
		ProviderRef:    w.ProviderRef,
		IdempotencyKey: w.TransferID,
	})
	if err != nil {
		zap.L().Warn("[ReconcilePoller] 查询通道状态失败",
			zap.String("request_no", w.RequestNo),
			zap.Int("attempts", w.ReconAttempts),
			zap.Error(err),
		)
		return p.unresolved(ctx, w, now, "error")
	}

	switch status.Status {
	case gateway.StatusSucceeded:
		if err := p.payout.CompleteTransfer(ctx, w, status.ProviderRef); err != nil {
			zap.L().Error("[ReconcilePoller] 确认出款失败", zap.String("request_no", w.RequestNo), zap.Error(err))
			return p.unresolved(ctx, w, now, "error")
		}
		return "transferred"
	case gateway.StatusFailed:
		if err := p.payout.FailTransfer(ctx, w, status.ProviderRef, status.Reason); err != nil {
			zap.L().Error("[ReconcilePoller] 关闭出款失败", zap.String("request_no", w.RequestNo), zap.Error(err))
			return p.unresolved(ctx, w, now, "error")
		}
		return "failed"
	case gateway.StatusNotFound:
		zap.L().Info("[ReconcilePoller] 通道查无此单，使用原幂等键重新提交",
			zap.String("request_no", w.RequestNo),
			zap.String("transfer_id", w.TransferID),
		)
		if err := p.payout.Resubmit(ctx, w); err != nil {
			zap.L().Error("[ReconcilePoller] 重新提交失败", zap.String("request_no", w.RequestNo), zap.Error(err))
			return p.unresolved(ctx, w, now, "error")
		}
		if model.IsTerminal(w.Status) {
			return w.Status
		}
		return p.unresolved(ctx, w, now, "resubmitted")
	default:
		return p.unresolved(ctx, w, now, "pending")
	}
}

// unresolved 本轮没有结果：耗尽则转人工，否则释放认领等下一轮
func (p *ReconcilePoller) unresolved(ctx context.Context, w *model.WithdrawalRequest, now time.Time, action string) string {
	if p.exhausted(w, now) {
		exhausted := &errs.ReconciliationExhaustedError{RequestNo: w.RequestNo, Attempts: w.ReconAttempts}
		zap.L().Error("[ReconcilePoller] 对账耗尽", zap.Error(exhausted))
		if err := p.payout.FlagManualReview(ctx, w, exhausted.Error()); err != nil {
			zap.L().Error("[ReconcilePoller] 转人工失败", zap.String("request_no", w.RequestNo), zap.Error(err))
			return "error"
		}
		return "manual_review"
	}

	if err := p.withdrawalRepo.ReleaseClaim(ctx, w.RequestNo); err != nil {
		zap.L().Warn("[ReconcilePoller] 释放认领失败，等待租约过期", zap.String("request_no", w.RequestNo), zap.Error(err))
	}
	return action
}

func (p *ReconcilePoller) exhausted(w *model.WithdrawalRequest, now time.Time) bool {
	if p.cfg.MaxAttempts > 0 && w.ReconAttempts >= p.cfg.MaxAttempts {
		return true
	}
	started := w.CreatedAt
	if w.SubmittedAt != nil {
		started = *w.SubmittedAt
	}
	if w.RequeuedAt != nil && w.RequeuedAt.After(started) {
		started = *w.RequeuedAt
	}
	return p.cfg.MaxAge > 0 && now.Sub(started) >= p.cfg.MaxAge
}
