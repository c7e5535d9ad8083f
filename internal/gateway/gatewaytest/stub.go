// Package gatewaytest 可编排结果的出款通道替身
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"walletpay/internal/gateway"
)

// Stub 未设置对应 Func 时：登记成功，提交立即成功，查询返回 not_found
type Stub struct {
	ProviderName string
	Idempotent   bool

	RegisterFunc func(ctx context.Context, userID int64, dest gateway.Destination) (*gateway.RegisterResult, error)
	SubmitFunc   func(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResult, error)
	StatusFunc   func(ctx context.Context, q gateway.StatusQuery) (*gateway.StatusResult, error)

	mu        sync.Mutex
	registers []gateway.Destination
	submits   []gateway.SubmitRequest
	statuses  []gateway.StatusQuery
}

var _ gateway.Provider = (*Stub)(nil)

func New(name string) *Stub {
	return &Stub{ProviderName: name, Idempotent: true}
}

func (s *Stub) Name() string                 { return s.ProviderName }
func (s *Stub) SupportsIdempotencyKey() bool { return s.Idempotent }

func (s *Stub) RegisterBeneficiary(ctx context.Context, userID int64, dest gateway.Destination) (*gateway.RegisterResult, error) {
	s.mu.Lock()
	s.registers = append(s.registers, dest)
	n := len(s.registers)
	s.mu.Unlock()

	if s.RegisterFunc != nil {
		return s.RegisterFunc(ctx, userID, dest)
	}
	return &gateway.RegisterResult{ProviderBeneficiaryID: fmt.Sprintf("stub-ben-%d", n), Verified: true}, nil
}

func (s *Stub) SubmitTransfer(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResult, error) {
	s.mu.Lock()
	s.submits = append(s.submits, req)
	s.mu.Unlock()

	if s.SubmitFunc != nil {
		return s.SubmitFunc(ctx, req)
	}
	return &gateway.SubmitResult{Outcome: gateway.OutcomeAccepted, ProviderRef: "stub-" + req.IdempotencyKey}, nil
}

func (s *Stub) CheckStatus(ctx context.Context, q gateway.StatusQuery) (*gateway.StatusResult, error) {
	s.mu.Lock()
	s.statuses = append(s.statuses, q)
	s.mu.Unlock()

	if s.StatusFunc != nil {
		return s.StatusFunc(ctx, q)
	}
	return &gateway.StatusResult{Status: gateway.StatusNotFound}, nil
}

func (s *Stub) Registers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registers)
}

func (s *Stub) Submits() []gateway.SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.SubmitRequest(nil), s.submits...)
}

func (s *Stub) StatusQueries() []gateway.StatusQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.StatusQuery(nil), s.statuses...)
}
