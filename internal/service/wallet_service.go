package service

import (
	"context"

	"walletpay/internal/ledger"
	"walletpay/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

type WalletService struct {
	store ledger.Store
}

func NewWalletService(store ledger.Store) *WalletService {
	return &WalletService{store: store}
}

func (s *WalletService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.store.Balance(ctx, userID)
}

type TransactionPage struct {
	List     []*model.Transaction `json:"list"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) (*TransactionPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.store.Transactions(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

// Audit 核对余额与流水，管理端接口和定时审计共用
func (s *WalletService) Audit(ctx context.Context, userID int64) (*ledger.AuditResult, error) {
	return s.store.Audit(ctx, userID)
}
