package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// 账内金额一律用最小货币单位（分/paise）的 int64，两位小数
const minorExp = -2

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ToMajor 最小单位 -> 通道/回调使用的主单位字符串，如 12345 -> "123.45"
func ToMajor(minor int64) string {
	return decimal.New(minor, minorExp).StringFixed(2)
}

// FromMajor 主单位字符串 -> 最小单位，超过两位小数视为非法
func FromMajor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("金额格式错误: %q", s)
	}
	minor := d.Shift(-minorExp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("金额精度超过两位小数: %q", s)
	}
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("金额超出范围: %q", s)
	}
	return minor.IntPart(), nil
}

// BasisPoints amount * bps / 10000，向上取整到最小单位
func BasisPoints(amount, bps int64) int64 {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10000)).
		Ceil().
		IntPart()
}
