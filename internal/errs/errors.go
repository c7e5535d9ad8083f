package errs

import (
	"errors"
	"fmt"
)

// ============================================================================
// 钱包/出款错误分类
// ============================================================================
//
// 校验类、余额类错误同步返回给调用方，不自动重试；
// 通道超时只会把出款单推进到 reconciling，由对账任务查询后处理；
// 重复转账（幂等命中）是良性的，调用方吸收即可。
//
// ============================================================================

// ValidationError 参数或收款方信息不合法，未发生任何资金变动
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "参数错误: " + e.Reason
	}
	return fmt.Sprintf("参数错误: %s %s", e.Field, e.Reason)
}

// InsufficientBalanceError 余额不足，未发生任何资金变动
type InsufficientBalanceError struct {
	UserID    int64
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("余额不足: userID=%d, requested=%d, available=%d", e.UserID, e.Requested, e.Available)
}

// GatewayTimeoutError 通道调用结果未知（超时、连接中断、5xx）
type GatewayTimeoutError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("通道调用结果未知: provider=%s, op=%s, err=%v", e.Provider, e.Op, e.Err)
}

func (e *GatewayTimeoutError) Unwrap() error {
	return e.Err
}

// GatewayRejectedError 通道明确拒绝
type GatewayRejectedError struct {
	Provider string
	Code     string
	Reason   string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("通道拒绝: provider=%s, code=%s, reason=%s", e.Provider, e.Code, e.Reason)
}

// DuplicateTransferError 同一 transferId 已经处理过
type DuplicateTransferError struct {
	TransferID string
}

func (e *DuplicateTransferError) Error() string {
	return "重复转账: transferId=" + e.TransferID
}

// ReconciliationExhaustedError 对账次数耗尽，需要人工介入
type ReconciliationExhaustedError struct {
	RequestNo string
	Attempts  int
}

func (e *ReconciliationExhaustedError) Error() string {
	return fmt.Sprintf("对账重试耗尽，转人工处理: requestNo=%s, attempts=%d", e.RequestNo, e.Attempts)
}

// SignatureVerificationError 回调签名校验失败
type SignatureVerificationError struct {
	Reason string
}

func (e *SignatureVerificationError) Error() string {
	return "签名校验失败: " + e.Reason
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsInsufficientBalance(err error) bool {
	var target *InsufficientBalanceError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *GatewayTimeoutError
	return errors.As(err, &target)
}

func IsRejected(err error) bool {
	var target *GatewayRejectedError
	return errors.As(err, &target)
}

func IsDuplicate(err error) bool {
	var target *DuplicateTransferError
	return errors.As(err, &target)
}

func IsSignature(err error) bool {
	var target *SignatureVerificationError
	return errors.As(err, &target)
}
