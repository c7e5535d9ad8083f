package cache

import (
	"context"
	"fmt"
	"time"

	"walletpay/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// InitRedis 未配置 Redis 时返回 nil，调用方按可选依赖处理
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		zap.L().Info("未配置 Redis，跳过连接")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Fatal("连接 Redis 失败", zap.Error(err))
	}

	zap.L().Info("Redis 连接成功", zap.String("addr", client.Options().Addr))
	return client
}
