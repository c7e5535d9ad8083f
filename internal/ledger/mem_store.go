package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"walletpay/internal/errs"
	"walletpay/internal/model"
	"walletpay/pkg/idgen"
)

// MemStore 进程内账本，单把互斥锁保证余额检查与扣减原子
// 用于本地联调和不依赖数据库的测试
type MemStore struct {
	mu         sync.Mutex
	balances   map[int64]int64
	txns       []*model.Transaction
	byNo       map[string]*model.Transaction
	byTransfer map[string]*model.Transaction
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		balances:   make(map[int64]int64),
		byNo:       make(map[string]*model.Transaction),
		byTransfer: make(map[string]*model.Transaction),
	}
}

func (s *MemStore) append(t *model.Transaction) {
	now := time.Now()
	t.ID = int64(len(s.txns) + 1)
	t.CreatedAt = now
	t.UpdatedAt = now
	s.txns = append(s.txns, t)
	s.byNo[t.TransactionNo] = t
	s.byTransfer[t.TransferIDValue()] = t
}

func (s *MemStore) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if err := validateReserve(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byTransfer[req.TransferID]; ok {
		return duplicateReservation(copyTxn(existing))
	}

	balance := s.balances[req.UserID]
	if balance < req.Amount {
		return nil, &errs.InsufficientBalanceError{UserID: req.UserID, Requested: req.Amount, Available: balance}
	}
	s.balances[req.UserID] = balance - req.Amount

	transferID := req.TransferID
	t := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        req.UserID,
		Type:          model.TransactionTypeDebit,
		Amount:        req.Amount,
		Status:        model.TransactionStatusPending,
		Source:        model.TransactionSourceWallet,
		TransferID:    &transferID,
		OrderID:       req.OrderID,
		FeeBreakdown:  req.FeeBreakdown,
		BalanceBefore: balance,
		BalanceAfter:  balance - req.Amount,
		Remark:        req.Remark,
	}
	s.append(t)
	return reservationOf(t), nil
}

func (s *MemStore) Commit(ctx context.Context, res *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byNo[res.TransactionNo]
	if !ok {
		return ErrReservationNotFound
	}
	switch t.Status {
	case model.TransactionStatusPending:
		t.Status = model.TransactionStatusCompleted
		t.UpdatedAt = time.Now()
		return nil
	case model.TransactionStatusCompleted:
		return nil
	default:
		return ErrReservationSettled
	}
}

func (s *MemStore) Release(ctx context.Context, res *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byNo[res.TransactionNo]
	if !ok {
		return ErrReservationNotFound
	}
	switch t.Status {
	case model.TransactionStatusPending:
		t.Status = model.TransactionStatusFailed
		t.UpdatedAt = time.Now()
		s.balances[t.UserID] += t.Amount
		return nil
	case model.TransactionStatusFailed:
		return nil
	default:
		return ErrReservationSettled
	}
}

func (s *MemStore) Credit(ctx context.Context, req CreditRequest) (*model.Transaction, error) {
	if err := validateCredit(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byTransfer[req.TransferID]; ok {
		return copyTxn(existing), &errs.DuplicateTransferError{TransferID: req.TransferID}
	}

	source := req.Source
	if source == "" {
		source = model.TransactionSourceExternal
	}

	balance := s.balances[req.UserID]

	transferID := req.TransferID
	t := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        req.UserID,
		Type:          model.TransactionTypeCredit,
		Amount:        req.Amount,
		Status:        model.TransactionStatusCompleted,
		Source:        source,
		TransferID:    &transferID,
		BalanceBefore: balance,
		BalanceAfter:  balance + req.Amount,
		Remark:        req.Remark,
	}
	if req.OnCredit != nil {
		if err := req.OnCredit(nil, copyTxn(t)); err != nil {
			return nil, err
		}
	}
	s.balances[req.UserID] = balance + req.Amount
	s.append(t)
	return copyTxn(t), nil
}

func (s *MemStore) Balance(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *MemStore) Transactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*model.Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			mine = append(mine, copyTxn(t))
		}
	}
	// 与数据库实现一致：按创建时间倒序
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].ID > mine[j].ID })

	total := int64(len(mine))
	start := (page - 1) * pageSize
	if start >= len(mine) {
		return []*model.Transaction{}, total, nil
	}
	end := start + pageSize
	if end > len(mine) {
		end = len(mine)
	}
	return mine[start:end], total, nil
}

func (s *MemStore) ReservationFor(ctx context.Context, transferID string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byTransfer[transferID]
	if !ok || t.Type != model.TransactionTypeDebit {
		return nil, nil
	}
	return reservationOf(t), nil
}

func (s *MemStore) Audit(ctx context.Context, userID int64) (*AuditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &AuditResult{UserID: userID, Balance: s.balances[userID]}
	for _, t := range s.txns {
		if t.UserID != userID {
			continue
		}
		switch {
		case t.Type == model.TransactionTypeCredit && t.Status == model.TransactionStatusCompleted:
			result.CompletedCredits += t.Amount
		case t.Type == model.TransactionTypeDebit && t.Status == model.TransactionStatusCompleted:
			result.CompletedDebits += t.Amount
		case t.Type == model.TransactionTypeDebit && t.Status == model.TransactionStatusPending:
			result.PendingDebits += t.Amount
		}
	}
	result.evaluate()
	return result, nil
}

func copyTxn(t *model.Transaction) *model.Transaction {
	c := *t
	if t.TransferID != nil {
		id := *t.TransferID
		c.TransferID = &id
	}
	return &c
}
