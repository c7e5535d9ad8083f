package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"walletpay/internal/errs"
	"walletpay/internal/ledger"
	"walletpay/internal/metrics"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 入账回调处理
// ============================================================================
//
// 1. 先验签，签名不对直接拒绝，不碰账本
// 2. 只有到账状态才入账，其他状态只记录日志
// 3. 入账按 transferId 幂等，同一笔回调重复推送只入账一次
// 4. 入账事件与入账同一事务落库
//
// ============================================================================

// SignedPayload 原始回调，Body 必须是未经改动的请求体
type SignedPayload struct {
	Provider  string
	Body      []byte
	Signature string
}

type DepositConfirmation struct {
	ProviderTransactionID string          `json:"provider_transaction_id"`
	UserID                int64           `json:"user_id"`
	Amount                decimal.Decimal `json:"amount"`
	Status                string          `json:"status"`
}

type Result struct {
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Duplicate   bool               `json:"duplicate"`
	Ignored     bool               `json:"ignored"`
}

type DepositEvent struct {
	Event         string    `json:"event"`
	TransactionNo string    `json:"transaction_no"`
	UserID        int64     `json:"user_id"`
	Amount        int64     `json:"amount"`
	Provider      string    `json:"provider"`
	ProviderTxnID string    `json:"provider_transaction_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

var settledStatuses = map[string]bool{
	"settled":   true,
	"success":   true,
	"completed": true,
}

type Handler struct {
	secrets    map[string]string
	store      ledger.Store
	outboxRepo *repository.OutboxRepository
	topic      string
}

// NewHandler outboxRepo 为 nil 时不发入账事件
func NewHandler(secrets map[string]string, store ledger.Store, outboxRepo *repository.OutboxRepository, topic string) *Handler {
	return &Handler{secrets: secrets, store: store, outboxRepo: outboxRepo, topic: topic}
}

// TransferIDFor 入账幂等键，按通道隔离
func TransferIDFor(provider, providerTxnID string) string {
	return "deposit:" + provider + ":" + providerTxnID
}

func (h *Handler) HandleDepositConfirmation(ctx context.Context, p SignedPayload) (*Result, error) {
	if err := Verify(h.secrets[p.Provider], p.Body, p.Signature); err != nil {
		metrics.DepositsTotal.WithLabelValues("bad_signature").Inc()
		zap.L().Warn("[Settlement] 回调验签失败", zap.String("provider", p.Provider), zap.Error(err))
		return nil, err
	}

	var c DepositConfirmation
	if err := json.Unmarshal(p.Body, &c); err != nil {
		metrics.DepositsTotal.WithLabelValues("invalid").Inc()
		return nil, errs.Validation("body", "回调内容无法解析")
	}
	if c.ProviderTransactionID == "" {
		return nil, errs.Validation("provider_transaction_id", "不能为空")
	}
	if c.UserID <= 0 {
		return nil, errs.Validation("user_id", "不合法")
	}

	if !settledStatuses[strings.ToLower(c.Status)] {
		metrics.DepositsTotal.WithLabelValues("ignored").Inc()
		zap.L().Info("[Settlement] 非到账状态，忽略",
			zap.String("provider", p.Provider),
			zap.String("provider_transaction_id", c.ProviderTransactionID),
			zap.String("status", c.Status),
		)
		return &Result{Ignored: true}, nil
	}

	amount, err := money.FromMajor(c.Amount.String())
	if err != nil {
		return nil, errs.Validation("amount", err.Error())
	}
	if amount <= 0 {
		return nil, errs.Validation("amount", "必须大于0")
	}

	req := ledger.CreditRequest{
		UserID:     c.UserID,
		Amount:     amount,
		TransferID: TransferIDFor(p.Provider, c.ProviderTransactionID),
		Source:     model.TransactionSourceBank,
		Remark:     "充值-" + p.Provider,
	}
	if h.outboxRepo != nil {
		// 入账事件与入账同一事务写入，事件写不进去则入账回滚，等通道重推
		req.OnCredit = func(tx *gorm.DB, txn *model.Transaction) error {
			event := &DepositEvent{
				Event:         model.EventDepositCredited,
				TransactionNo: txn.TransactionNo,
				UserID:        c.UserID,
				Amount:        amount,
				Provider:      p.Provider,
				ProviderTxnID: c.ProviderTransactionID,
				OccurredAt:    time.Now(),
			}
			if err := h.outboxRepo.Enqueue(ctx, tx, h.topic, txn.TransactionNo, event); err != nil {
				return fmt.Errorf("写入入账事件失败: %w", err)
			}
			return nil
		}
	}

	txn, err := h.store.Credit(ctx, req)
	if errs.IsDuplicate(err) {
		metrics.DepositsTotal.WithLabelValues("duplicate").Inc()
		zap.L().Info("[Settlement] 重复回调，已入账",
			zap.String("provider", p.Provider),
			zap.String("provider_transaction_id", c.ProviderTransactionID),
		)
		return &Result{Transaction: txn, Duplicate: true}, nil
	}
	if err != nil {
		metrics.DepositsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("入账失败: %w", err)
	}

	metrics.DepositsTotal.WithLabelValues("credited").Inc()
	zap.L().Info("[Settlement] 充值入账成功",
		zap.String("provider", p.Provider),
		zap.String("provider_transaction_id", c.ProviderTransactionID),
		zap.Int64("user_id", c.UserID),
		zap.Int64("amount", amount),
		zap.String("transaction_no", txn.TransactionNo),
	)
	return &Result{Transaction: txn}, nil
}
