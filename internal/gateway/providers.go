package gateway

import (
	"fmt"

	"walletpay/internal/config"
)

// NewProviders 按配置构造通道，所有通道共用同一个 token 缓存（key 带通道名）
func NewProviders(cfgs []config.ProviderConfig, tokens TokenCache) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfgs))
	for _, c := range cfgs {
		var (
			p   Provider
			err error
		)
		switch c.Kind {
		case "bankrail":
			p, err = NewBankRail(c, tokens)
		case "upilink":
			p, err = NewUPILink(c, tokens)
		case "sandbox":
			p = NewSandbox(c.Name)
		default:
			return nil, fmt.Errorf("不支持的通道类型: %s (%s)", c.Kind, c.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("初始化通道 %s 失败: %w", c.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
