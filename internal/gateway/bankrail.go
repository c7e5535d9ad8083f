package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/errs"
	"walletpay/pkg/money"

	"go.uber.org/zap"
)

// BankRail 银行转账通道
// OAuth client_credentials 换取 token；出款接口原生支持 Idempotency-Key
type BankRail struct {
	name         string
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	tokens       TokenCache
}

var _ Provider = (*BankRail)(nil)

func NewBankRail(cfg config.ProviderConfig, tokens TokenCache) (*BankRail, error) {
	client, err := newHTTPClient(cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &BankRail{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		tokens:       tokens,
	}, nil
}

func (p *BankRail) Name() string                 { return p.name }
func (p *BankRail) SupportsIdempotencyKey() bool { return true }

func (p *BankRail) tokenKey() string {
	return p.name + ":" + p.clientID
}

// token 缓存未命中时换取新 token，提前 30 秒过期
func (p *BankRail) token(ctx context.Context) (string, error) {
	if tok, ok, err := p.tokens.Get(ctx, p.tokenKey()); err == nil && ok {
		return tok, nil
	} else if err != nil {
		zap.L().Warn("[BankRail] 读取 token 缓存失败，重新换取", zap.String("provider", p.name), zap.Error(err))
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &errs.GatewayTimeoutError{Provider: p.name, Op: "auth", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &errs.GatewayTimeoutError{Provider: p.name, Op: "auth", Err: fmt.Errorf("token endpoint http %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := decodeBody(resp, &body); err != nil || body.AccessToken == "" {
		return "", &errs.GatewayTimeoutError{Provider: p.name, Op: "auth", Err: fmt.Errorf("invalid token response: %v", err)}
	}

	ttl := time.Duration(body.ExpiresIn)*time.Second - 30*time.Second
	if ttl <= 0 {
		ttl = time.Duration(body.ExpiresIn) * time.Second
	}
	if ttl > 0 {
		if err := p.tokens.Set(ctx, p.tokenKey(), body.AccessToken, ttl); err != nil {
			zap.L().Warn("[BankRail] 写入 token 缓存失败", zap.String("provider", p.name), zap.Error(err))
		}
	}
	return body.AccessToken, nil
}

// call 带 token 调用，401 时丢弃缓存的 token 重试一次
func (p *BankRail) call(ctx context.Context, op, method, path string, body interface{}, headers map[string]string) (*apiResponse, error) {
	for attempt := 0; ; attempt++ {
		tok, err := p.token(ctx)
		if err != nil {
			return nil, err
		}

		h := map[string]string{"Authorization": "Bearer " + tok}
		for k, v := range headers {
			h[k] = v
		}

		resp, err := doJSON(ctx, p.client, p.name, op, method, p.baseURL+path, body, h)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_ = p.tokens.Delete(ctx, p.tokenKey())
			continue
		}
		return resp, nil
	}
}

type bankRailBeneficiaryReq struct {
	Type          string `json:"type"`
	AccountNumber string `json:"account_number,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	VPA           string `json:"vpa,omitempty"`
	Name          string `json:"name"`
	Reference     string `json:"reference"`
}

func (p *BankRail) RegisterBeneficiary(ctx context.Context, userID int64, dest Destination) (*RegisterResult, error) {
	resp, err := p.call(ctx, "register", http.MethodPost, "/v1/beneficiaries", bankRailBeneficiaryReq{
		Type:          dest.Type,
		AccountNumber: dest.AccountNumber,
		IFSC:          dest.RoutingCode,
		VPA:           dest.VPA,
		Name:          dest.HolderName,
		Reference:     fmt.Sprintf("user-%d", userID),
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := classify(p.name, "register", resp); err != nil {
		return nil, err
	}

	var body struct {
		BeneficiaryID string `json:"beneficiary_id"`
		Status        string `json:"status"`
	}
	if err := resp.decode(&body); err != nil || body.BeneficiaryID == "" {
		return nil, &errs.GatewayTimeoutError{Provider: p.name, Op: "register", Err: fmt.Errorf("invalid response: %v", err)}
	}
	return &RegisterResult{
		ProviderBeneficiaryID: body.BeneficiaryID,
		Verified:              strings.EqualFold(body.Status, "verified"),
	}, nil
}

type bankRailPayoutReq struct {
	BeneficiaryID string `json:"beneficiary_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
	Narration     string `json:"narration,omitempty"`
}

type bankRailPayout struct {
	PayoutID      string `json:"payout_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (p *BankRail) SubmitTransfer(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	resp, err := p.call(ctx, "submit", http.MethodPost, "/v1/payouts", bankRailPayoutReq{
		BeneficiaryID: req.BeneficiaryRef,
		Amount:        money.ToMajor(req.Amount),
		Currency:      req.Currency,
		Reference:     req.IdempotencyKey,
		Narration:     req.Remarks,
	}, map[string]string{"Idempotency-Key": req.IdempotencyKey})
	if err != nil {
		return nil, err
	}
	if err := classify(p.name, "submit", resp); err != nil {
		return nil, err
	}

	var body bankRailPayout
	if err := resp.decode(&body); err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: p.name, Op: "submit", Err: fmt.Errorf("invalid response: %w", err)}
	}

	res := &SubmitResult{ProviderRef: body.PayoutID, Reason: body.FailureReason}
	switch bankRailStatus(body.Status) {
	case StatusSucceeded:
		res.Outcome = OutcomeAccepted
	case StatusFailed:
		res.Outcome = OutcomeRejected
		return res, &errs.GatewayRejectedError{Provider: p.name, Code: body.Status, Reason: body.FailureReason}
	default:
		res.Outcome = OutcomeUnknown
	}
	return res, nil
}

func (p *BankRail) CheckStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	path := "/v1/payouts/" + url.PathEscape(q.ProviderRef)
	if q.ProviderRef == "" {
		path = "/v1/payouts/by-reference/" + url.PathEscape(q.IdempotencyKey)
	}

	resp, err := p.call(ctx, "status", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return &StatusResult{Status: StatusNotFound}, nil
	}
	if err := classify(p.name, "status", resp); err != nil {
		return nil, err
	}

	var body bankRailPayout
	if err := resp.decode(&body); err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: p.name, Op: "status", Err: fmt.Errorf("invalid response: %w", err)}
	}
	return &StatusResult{
		Status:      bankRailStatus(body.Status),
		ProviderRef: body.PayoutID,
		Reason:      body.FailureReason,
	}, nil
}

func bankRailStatus(s string) TransferStatus {
	switch strings.ToLower(s) {
	case "processed", "completed", "success":
		return StatusSucceeded
	case "failed", "rejected", "reversed", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}
