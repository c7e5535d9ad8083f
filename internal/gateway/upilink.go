package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/errs"
	"walletpay/internal/model"
	"walletpay/pkg/money"
)

// UPILink UPI 出款通道
// API Key 换取会话 token，每个请求带 HMAC 签名；不支持幂等键，按商户单号去重由 Adapter 先查后提
type UPILink struct {
	name      string
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	tokens    TokenCache
	now       func() time.Time
}

var _ Provider = (*UPILink)(nil)

func NewUPILink(cfg config.ProviderConfig, tokens TokenCache) (*UPILink, error) {
	client, err := newHTTPClient(cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &UPILink{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		client:    client,
		tokens:    tokens,
		now:       time.Now,
	}, nil
}

func (p *UPILink) Name() string                 { return p.name }
func (p *UPILink) SupportsIdempotencyKey() bool { return false }

// Sign hex(HMAC-SHA256(secret, timestamp + "." + body))
func (p *UPILink) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *UPILink) signedHeaders(body []byte) map[string]string {
	ts := strconv.FormatInt(p.now().Unix(), 10)
	return map[string]string{
		"X-Api-Key":   p.apiKey,
		"X-Timestamp": ts,
		"X-Signature": p.Sign(ts, body),
	}
}

func (p *UPILink) session(ctx context.Context) (string, error) {
	key := p.name + ":session"
	if tok, ok, err := p.tokens.Get(ctx, key); err == nil && ok {
		return tok, nil
	}

	payload, _ := json.Marshal(map[string]string{"api_key": p.apiKey})
	resp, err := doJSON(ctx, p.client, p.name, "auth", http.MethodPost, p.baseURL+"/v2/session", json.RawMessage(payload), p.signedHeaders(payload))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &errs.GatewayTimeoutError{Provider: p.name, Op: "auth", Err: fmt.Errorf("session endpoint http %d", resp.StatusCode)}
	}

	var body struct {
		SessionToken string `json:"session_token"`
		TTLSeconds   int    `json:"ttl_seconds"`
	}
	if err := resp.decode(&body); err != nil || body.SessionToken == "" {
		return "", &errs.GatewayTimeoutError{Provider: p.name, Op: "auth", Err: fmt.Errorf("invalid session response: %v", err)}
	}
	if body.TTLSeconds > 0 {
		_ = p.tokens.Set(ctx, key, body.SessionToken, time.Duration(body.TTLSeconds)*time.Second)
	}
	return body.SessionToken, nil
}

func (p *UPILink) call(ctx context.Context, op, method, path string, body interface{}) (*apiResponse, error) {
	session, err := p.session(ctx)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if body != nil {
		if raw, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
	}

	// 签名覆盖 path，GET 请求没有 body
	signed := raw
	if signed == nil {
		signed = []byte(path)
	}
	headers := p.signedHeaders(signed)
	headers["Authorization"] = "Session " + session

	var payload interface{}
	if raw != nil {
		payload = json.RawMessage(raw)
	}
	return doJSON(ctx, p.client, p.name, op, method, p.baseURL+path, payload, headers)
}

func (p *UPILink) RegisterBeneficiary(ctx context.Context, userID int64, dest Destination) (*RegisterResult, error) {
	if dest.Type != model.InstrumentUPI {
		return nil, &errs.GatewayRejectedError{Provider: p.name, Code: "unsupported_instrument", Reason: "only upi destinations are supported"}
	}

	resp, err := p.call(ctx, "register", http.MethodPost, "/v2/vpa/validate", map[string]string{
		"vpa":  dest.VPA,
		"name": dest.HolderName,
	})
	if err != nil {
		return nil, err
	}
	if err := classify(p.name, "register", resp); err != nil {
		return nil, err
	}

	var body struct {
		Valid          bool   `json:"valid"`
		BeneficiaryRef string `json:"beneficiary_ref"`
		RegisteredName string `json:"registered_name"`
	}
	if err := resp.decode(&body); err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: p.name, Op: "register", Err: fmt.Errorf("invalid response: %w", err)}
	}
	if !body.Valid {
		return nil, &errs.GatewayRejectedError{Provider: p.name, Code: "invalid_vpa", Reason: "vpa could not be validated"}
	}

	ref := body.BeneficiaryRef
	if ref == "" {
		ref = dest.VPA
	}
	return &RegisterResult{ProviderBeneficiaryID: ref, Verified: true}, nil
}

type upiPayment struct {
	TxnID       string `json:"txn_id"`
	MerchantRef string `json:"merchant_ref"`
	State       string `json:"state"`
	Message     string `json:"message"`
}

func (p *UPILink) SubmitTransfer(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	resp, err := p.call(ctx, "submit", http.MethodPost, "/v2/payments", map[string]string{
		"merchant_ref":    req.IdempotencyKey,
		"beneficiary_ref": req.BeneficiaryRef,
		"amount":          money.ToMajor(req.Amount),
		"currency":        req.Currency,
		"remarks":         req.Remarks,
	})
	if err != nil {
		return nil, err
	}
	if err := classify(p.name, "submit", resp); err != nil {
		return nil, err
	}

	var body upiPayment
	if err := resp.decode(&body); err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: p.name, Op: "submit", Err: fmt.Errorf("invalid response: %w", err)}
	}

	res := &SubmitResult{ProviderRef: body.TxnID, Reason: body.Message}
	switch upiState(body.State) {
	case StatusSucceeded:
		res.Outcome = OutcomeAccepted
	case StatusFailed:
		res.Outcome = OutcomeRejected
		return res, &errs.GatewayRejectedError{Provider: p.name, Code: body.State, Reason: body.Message}
	default:
		res.Outcome = OutcomeUnknown
	}
	return res, nil
}

func (p *UPILink) CheckStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	path := "/v2/payments/" + url.PathEscape(q.ProviderRef)
	if q.ProviderRef == "" {
		path = "/v2/payments?merchant_ref=" + url.QueryEscape(q.IdempotencyKey)
	}

	resp, err := p.call(ctx, "status", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return &StatusResult{Status: StatusNotFound}, nil
	}
	if err := classify(p.name, "status", resp); err != nil {
		return nil, err
	}

	var body upiPayment
	if err := resp.decode(&body); err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: p.name, Op: "status", Err: fmt.Errorf("invalid response: %w", err)}
	}
	return &StatusResult{Status: upiState(body.State), ProviderRef: body.TxnID, Reason: body.Message}, nil
}

func upiState(s string) TransferStatus {
	switch strings.ToUpper(s) {
	case "SUCCESS":
		return StatusSucceeded
	case "FAILURE", "DECLINED", "EXPIRED":
		return StatusFailed
	default:
		return StatusPending
	}
}
