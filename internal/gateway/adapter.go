package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletpay/internal/errs"
	"walletpay/internal/metrics"
	"walletpay/internal/model"

	"go.uber.org/zap"
)

var ErrUnknownProvider = errors.New("未配置的出款通道")

// Adapter 按通道名路由，统一结果归一化、打点和先查后提
type Adapter struct {
	providers map[string]Provider
	routes    map[string]string // 收款方式 -> 通道名
	currency  string
}

func NewAdapter(routes map[string]string, currency string, providers ...Provider) *Adapter {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Adapter{providers: m, routes: routes, currency: currency}
}

func (a *Adapter) Provider(name string) (Provider, error) {
	p, ok := a.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// RouteFor 收款方式对应的通道；没有配置路由且只有一个通道时直接用它
func (a *Adapter) RouteFor(instrument string) (string, error) {
	if name, ok := a.routes[instrument]; ok {
		if _, err := a.Provider(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if len(a.providers) == 1 {
		for name := range a.providers {
			return name, nil
		}
	}
	return "", errs.Validation("type", "没有可用的出款通道: "+instrument)
}

func (a *Adapter) RegisterBeneficiary(ctx context.Context, providerName string, userID int64, dest Destination) (*RegisterResult, error) {
	p, err := a.Provider(providerName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := p.RegisterBeneficiary(ctx, userID, dest)
	metrics.GatewayLatency.WithLabelValues(providerName, "register").Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case errs.IsRejected(err):
		outcome = string(OutcomeRejected)
	case err != nil:
		outcome = "error"
	}
	metrics.GatewayCallsTotal.WithLabelValues(providerName, "register", outcome).Inc()
	return res, err
}

// SubmitTransfer 提交出款
//
// 返回值约定：
//   - accepted：err 为 nil
//   - rejected：err 为 *errs.GatewayRejectedError
//   - unknown ：err 为 *errs.GatewayTimeoutError，或 nil（通道处理中）
//
// 通道不支持幂等键时先按商户单号查询，已存在则返回现有状态，不再重复提交
func (a *Adapter) SubmitTransfer(ctx context.Context, b *model.Beneficiary, amount int64, idempotencyKey, remarks string) (*SubmitResult, error) {
	p, err := a.Provider(b.Provider)
	if err != nil {
		return &SubmitResult{Outcome: OutcomeRejected, Reason: err.Error()},
			&errs.GatewayRejectedError{Provider: b.Provider, Code: "unknown_provider", Reason: err.Error()}
	}

	if !p.SupportsIdempotencyKey() {
		existing, err := a.CheckStatus(ctx, b.Provider, StatusQuery{IdempotencyKey: idempotencyKey})
		if err != nil {
			// 查不清是否已经提交过，不能冒险重复提交
			return &SubmitResult{Outcome: OutcomeUnknown, Reason: "pre-check failed"}, asTimeout(b.Provider, "precheck", err)
		}
		switch existing.Status {
		case StatusSucceeded:
			zap.L().Info("[GatewayAdapter] 提交前查询发现转账已成功，不再重复提交",
				zap.String("provider", b.Provider), zap.String("idempotency_key", idempotencyKey))
			return &SubmitResult{Outcome: OutcomeAccepted, ProviderRef: existing.ProviderRef}, nil
		case StatusFailed:
			return &SubmitResult{Outcome: OutcomeRejected, ProviderRef: existing.ProviderRef, Reason: existing.Reason},
				&errs.GatewayRejectedError{Provider: b.Provider, Code: "already_failed", Reason: existing.Reason}
		case StatusPending:
			return &SubmitResult{Outcome: OutcomeUnknown, ProviderRef: existing.ProviderRef, Reason: "already in flight"}, nil
		}
	}

	req := SubmitRequest{
		BeneficiaryRef: b.ProviderBeneficiaryID,
		Amount:         amount,
		Currency:       a.currency,
		IdempotencyKey: idempotencyKey,
		Remarks:        remarks,
	}

	start := time.Now()
	res, err := p.SubmitTransfer(ctx, req)
	metrics.GatewayLatency.WithLabelValues(b.Provider, "submit").Observe(time.Since(start).Seconds())

	res, err = normalizeSubmit(b.Provider, res, err)
	metrics.GatewayCallsTotal.WithLabelValues(b.Provider, "submit", string(res.Outcome)).Inc()

	zap.L().Info("[GatewayAdapter] 出款提交完成",
		zap.String("provider", b.Provider),
		zap.String("idempotency_key", idempotencyKey),
		zap.String("outcome", string(res.Outcome)),
		zap.String("provider_ref", res.ProviderRef),
		zap.Error(err),
	)
	return res, err
}

// CheckStatus 查询出款状态，err 非 nil 时状态视为未知
func (a *Adapter) CheckStatus(ctx context.Context, providerName string, q StatusQuery) (*StatusResult, error) {
	p, err := a.Provider(providerName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := p.CheckStatus(ctx, q)
	metrics.GatewayLatency.WithLabelValues(providerName, "status").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.GatewayCallsTotal.WithLabelValues(providerName, "status", "error").Inc()
		return nil, err
	}
	if res == nil {
		metrics.GatewayCallsTotal.WithLabelValues(providerName, "status", "error").Inc()
		return nil, &errs.GatewayTimeoutError{Provider: providerName, Op: "status", Err: errors.New("empty response")}
	}
	metrics.GatewayCallsTotal.WithLabelValues(providerName, "status", string(res.Status)).Inc()
	return res, nil
}

// normalizeSubmit 保证返回的 outcome 与错误类型一致
func normalizeSubmit(provider string, res *SubmitResult, err error) (*SubmitResult, error) {
	if res == nil {
		res = &SubmitResult{}
	}

	var rejected *errs.GatewayRejectedError
	switch {
	case errors.As(err, &rejected):
		res.Outcome = OutcomeRejected
		if res.Reason == "" {
			res.Reason = rejected.Reason
		}
		return res, err
	case err != nil:
		res.Outcome = OutcomeUnknown
		return res, asTimeout(provider, "submit", err)
	}

	switch res.Outcome {
	case OutcomeAccepted, OutcomeUnknown:
		return res, nil
	case OutcomeRejected:
		return res, &errs.GatewayRejectedError{Provider: provider, Code: "rejected", Reason: res.Reason}
	default:
		res.Outcome = OutcomeUnknown
		return res, nil
	}
}

func asTimeout(provider, op string, err error) error {
	var timeout *errs.GatewayTimeoutError
	if errors.As(err, &timeout) {
		return err
	}
	return &errs.GatewayTimeoutError{Provider: provider, Op: op, Err: err}
}
