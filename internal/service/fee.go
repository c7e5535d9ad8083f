package service

import (
	"encoding/json"

	"walletpay/internal/config"
	"walletpay/pkg/money"
)

// FeePolicy 出款手续费 = 固定费用 + 金额 * bps / 10000
type FeePolicy struct {
	Flat int64
	Bps  int64
}

func NewFeePolicy(cfg *config.PayoutConfig) FeePolicy {
	return FeePolicy{Flat: cfg.FeeFlat, Bps: cfg.FeeBps}
}

func (f FeePolicy) Compute(amount int64) int64 {
	return f.Flat + money.BasisPoints(amount, f.Bps)
}

type feeBreakdown struct {
	Amount  int64 `json:"amount"`
	FeeFlat int64 `json:"fee_flat"`
	FeeBps  int64 `json:"fee_bps"`
	Fee     int64 `json:"fee"`
	Total   int64 `json:"total"`
}

// Breakdown 写入出账流水的费用明细
func (f FeePolicy) Breakdown(amount int64) string {
	fee := f.Compute(amount)
	b, _ := json.Marshal(feeBreakdown{
		Amount:  amount,
		FeeFlat: f.Flat,
		FeeBps:  f.Bps,
		Fee:     fee,
		Total:   amount + fee,
	})
	return string(b)
}
