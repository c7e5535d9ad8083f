package mq

import (
	"context"
	"fmt"

	"walletpay/internal/config"

	"go.uber.org/zap"
)

// Publisher 消息投递接口，OutboxSender 只依赖这个接口
type Publisher interface {
	Publish(ctx context.Context, topic, key, payload string) error
	Close() error
}

// NewPublisher 按 mq.driver 创建投递实现
func NewPublisher(cfg *config.MQConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "kafka":
		return NewKafkaPublisher(cfg)
	case "rabbitmq":
		return NewRabbitPublisher(cfg)
	case "none":
		return NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("不支持的消息队列驱动: %s", cfg.Driver)
	}
}

// NopPublisher 本地开发不接消息队列时使用，只打日志
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic, key, payload string) error {
	zap.L().Debug("消息队列未启用，跳过投递", zap.String("topic", topic), zap.String("key", key))
	return nil
}

func (NopPublisher) Close() error { return nil }
