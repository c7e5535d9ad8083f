package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"walletpay/internal/errs"
)

// Sandbox 本地联调用的进程内通道，结果只由金额决定：
//   金额以 13 结尾  拒绝
//   金额以 99 结尾  处理中，之后查询为成功
//   其余            立即成功
// 同一幂等键重复提交返回第一次的结果
type Sandbox struct {
	name string

	mu        sync.Mutex
	transfers map[string]*StatusResult // 幂等键 -> 结果
	byRef     map[string]string        // providerRef -> 幂等键
}

var _ Provider = (*Sandbox)(nil)

func NewSandbox(name string) *Sandbox {
	return &Sandbox{
		name:      name,
		transfers: make(map[string]*StatusResult),
		byRef:     make(map[string]string),
	}
}

func (p *Sandbox) Name() string                 { return p.name }
func (p *Sandbox) SupportsIdempotencyKey() bool { return true }

func (p *Sandbox) RegisterBeneficiary(ctx context.Context, userID int64, dest Destination) (*RegisterResult, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", userID, dest.AccountNumber, dest.RoutingCode, dest.VPA)))
	return &RegisterResult{ProviderBeneficiaryID: "sbx-ben-" + hex.EncodeToString(sum[:8]), Verified: true}, nil
}

func (p *Sandbox) SubmitTransfer(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.transfers[req.IdempotencyKey]
	if !ok {
		ref := fmt.Sprintf("sbx-%d", len(p.transfers)+1)
		switch req.Amount % 100 {
		case 13:
			st = &StatusResult{Status: StatusFailed, ProviderRef: ref, Reason: "sandbox decline"}
		case 99:
			st = &StatusResult{Status: StatusPending, ProviderRef: ref}
		default:
			st = &StatusResult{Status: StatusSucceeded, ProviderRef: ref}
		}
		p.transfers[req.IdempotencyKey] = st
		p.byRef[ref] = req.IdempotencyKey
	}

	switch st.Status {
	case StatusSucceeded:
		return &SubmitResult{Outcome: OutcomeAccepted, ProviderRef: st.ProviderRef}, nil
	case StatusFailed:
		return &SubmitResult{Outcome: OutcomeRejected, ProviderRef: st.ProviderRef, Reason: st.Reason},
			&errs.GatewayRejectedError{Provider: p.name, Code: "declined", Reason: st.Reason}
	default:
		// 下次查询时完成
		pending := *st
		st.Status = StatusSucceeded
		return &SubmitResult{Outcome: OutcomeUnknown, ProviderRef: pending.ProviderRef}, nil
	}
}

func (p *Sandbox) CheckStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := q.IdempotencyKey
	if q.ProviderRef != "" {
		if k, ok := p.byRef[q.ProviderRef]; ok {
			key = k
		}
	}
	st, ok := p.transfers[key]
	if !ok {
		return &StatusResult{Status: StatusNotFound}, nil
	}
	c := *st
	return &c, nil
}
