package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"walletpay/internal/errs"

	"golang.org/x/net/http2"
)

func newHTTPClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("配置 http2 失败: %w", err)
	}

	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// apiResponse 一次 HTTP 调用的结果，状态码分类由调用方决定
type apiResponse struct {
	StatusCode int
	Body       []byte
}

func (r *apiResponse) decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// doJSON 发送 JSON 请求，请求发出后的失败（超时、连接中断、读响应失败）归为 GatewayTimeoutError
func doJSON(ctx context.Context, client *http.Client, provider, op, method, url string, body interface{}, headers map[string]string) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.GatewayTimeoutError{Provider: provider, Op: op, Err: err}
	}
	return &apiResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// ambiguousStatus 这些状态码不能说明请求没有被处理：
// 409/423/425 通常是同一幂等键的请求正在处理或已存在
var ambiguousStatus = map[int]bool{
	http.StatusRequestTimeout:  true,
	http.StatusConflict:        true,
	http.StatusLocked:          true,
	http.StatusTooEarly:        true,
	http.StatusTooManyRequests: true,
}

// classify 5xx 与 ambiguousStatus 视为结果未知，其余 4xx 为明确拒绝
func classify(provider, op string, resp *apiResponse) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500, ambiguousStatus[resp.StatusCode]:
		return &errs.GatewayTimeoutError{
			Provider: provider,
			Op:       op,
			Err:      fmt.Errorf("http %d: %s", resp.StatusCode, truncate(resp.Body)),
		}
	default:
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body, &e)
		reason := e.Message
		if reason == "" {
			reason = e.Error
		}
		if reason == "" {
			reason = truncate(resp.Body)
		}
		code := e.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return &errs.GatewayRejectedError{Provider: provider, Code: code, Reason: reason}
	}
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}

func decodeBody(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
