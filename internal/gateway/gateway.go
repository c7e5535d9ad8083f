package gateway

import (
	"context"
)

// ============================================================================
// 出款通道抽象
// ============================================================================
//
// 各通道的请求/响应格式在各自实现内部消化，对外只暴露三种提交结果：
//   accepted  通道确认已完成转账
//   rejected  通道明确拒绝，资金未出
//   unknown   结果不确定（超时、连接中断、5xx、通道处理中），只能靠后续查询确认
//
// 查询结果同理归一为 succeeded / failed / pending / not_found
//
// ============================================================================

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeUnknown  Outcome = "unknown"
)

type TransferStatus string

const (
	StatusSucceeded TransferStatus = "succeeded"
	StatusFailed    TransferStatus = "failed"
	StatusPending   TransferStatus = "pending"
	StatusNotFound  TransferStatus = "not_found"
)

// Destination 收款账户明文，只在登记时传给通道，本地不落库
type Destination struct {
	Type          string `json:"type"`
	AccountNumber string `json:"account_number,omitempty"`
	RoutingCode   string `json:"routing_code,omitempty"`
	VPA           string `json:"vpa,omitempty"`
	HolderName    string `json:"holder_name"`
}

type RegisterResult struct {
	ProviderBeneficiaryID string
	Verified              bool
}

type SubmitRequest struct {
	BeneficiaryRef string
	Amount         int64 // 最小货币单位
	Currency       string
	IdempotencyKey string
	Remarks        string
}

type SubmitResult struct {
	Outcome     Outcome `json:"outcome"`
	ProviderRef string  `json:"provider_ref"`
	Reason      string  `json:"reason,omitempty"`
}

// StatusQuery ProviderRef 为空时按商户侧幂等键查询
type StatusQuery struct {
	ProviderRef    string
	IdempotencyKey string
}

type StatusResult struct {
	Status      TransferStatus
	ProviderRef string
	Reason      string
}

// Provider 单个出款通道
//
// SubmitTransfer 返回 rejected 时同时返回 *errs.GatewayRejectedError，
// 返回 unknown 时如果是传输层问题同时返回 *errs.GatewayTimeoutError
type Provider interface {
	Name() string
	// SupportsIdempotencyKey 通道是否原生支持幂等键，不支持的由 Adapter 先查后提
	SupportsIdempotencyKey() bool
	RegisterBeneficiary(ctx context.Context, userID int64, dest Destination) (*RegisterResult, error)
	SubmitTransfer(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	CheckStatus(ctx context.Context, q StatusQuery) (*StatusResult, error)
}
