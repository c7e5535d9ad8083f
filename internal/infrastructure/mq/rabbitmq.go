package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"walletpay/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitPublisher 投递到 topic 类型的 exchange，topic 作为 routing key
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewRabbitPublisher(cfg *config.MQConfig) (*RabbitPublisher, error) {
	conn, err := amqp.DialConfig(cfg.AMQPURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}

	p := &RabbitPublisher{conn: conn, exchange: cfg.Exchange}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}

	zap.L().Info("RabbitMQ 生产者创建成功", zap.String("exchange", cfg.Exchange))
	return p, nil
}

func (p *RabbitPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("打开 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("声明 exchange 失败: %w", err)
	}
	p.channel = ch
	return nil
}

// Publish channel 断开时重开一次再重试
func (p *RabbitPublisher) Publish(ctx context.Context, topic, key, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now(),
		Body:         []byte(payload),
	}

	err := p.channel.PublishWithContext(ctx, p.exchange, topic, false, false, msg)
	if err == nil {
		return nil
	}

	zap.L().Warn("RabbitMQ 投递失败，重开 channel 后重试", zap.String("topic", topic), zap.Error(err))
	if reopenErr := p.openChannel(); reopenErr != nil {
		return reopenErr
	}
	return p.channel.PublishWithContext(ctx, p.exchange, topic, false, false, msg)
}

func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	return p.conn.Close()
}
