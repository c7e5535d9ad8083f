package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"walletpay/internal/errs"
)

// Sign 回调签名：HMAC-SHA256(secret, body)，小写 hex
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 常量时间比较，签名缺失、格式错误或不匹配都返回 SignatureVerificationError
func Verify(secret string, body []byte, signature string) error {
	if secret == "" {
		return &errs.SignatureVerificationError{Reason: "未配置签名密钥"}
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &errs.SignatureVerificationError{Reason: "缺少签名"}
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return &errs.SignatureVerificationError{Reason: "签名格式错误"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return &errs.SignatureVerificationError{Reason: "签名不匹配"}
	}
	return nil
}
