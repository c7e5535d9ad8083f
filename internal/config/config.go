package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQ         MQConfig         `mapstructure:"mq"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	WorkerID int `mapstructure:"worker_id"` // 雪花算法机器ID
}

// DatabaseConfig driver 可选 mysql / postgres / sqlite，sqlite 时直接使用 DSN
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

// RedisConfig Host 为空时不连接 Redis，token 缓存退化为进程内缓存
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// MQConfig driver 可选 kafka / rabbitmq / none
type MQConfig struct {
	Driver   string        `mapstructure:"driver"`
	Brokers  []string      `mapstructure:"brokers"`
	AMQPURL  string        `mapstructure:"amqp_url"`
	Exchange string        `mapstructure:"exchange"`
	Topic    MQTopicConfig `mapstructure:"topic"`
}

type MQTopicConfig struct {
	WithdrawalEvents string `mapstructure:"withdrawal_events"`
	DepositEvents    string `mapstructure:"deposit_events"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type PayoutConfig struct {
	Currency        string        `mapstructure:"currency"`
	MaxAmount       int64         `mapstructure:"max_amount"`
	FeeFlat         int64         `mapstructure:"fee_flat"`
	FeeBps          int64         `mapstructure:"fee_bps"`
	GatewayTimeout  time.Duration `mapstructure:"gateway_timeout"`
	MaxPINAttempts  int           `mapstructure:"max_pin_attempts"`
	PINLockDuration time.Duration `mapstructure:"pin_lock_duration"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
	// 按收款方式路由到通道，如 bank -> bankrail, upi -> upilink
	Routes map[string]string `mapstructure:"routes"`
}

type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	BatchSize   int           `mapstructure:"batch_size"`
}

type JobsConfig struct {
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
	OutboxMaxRetry int           `mapstructure:"outbox_max_retry"`
	AuditSchedule  string        `mapstructure:"audit_schedule"`
	AuditBatchSize int           `mapstructure:"audit_batch_size"`
}

// ProviderConfig kind 可选 bankrail / upilink / sandbox
type ProviderConfig struct {
	Name         string        `mapstructure:"name"`
	Kind         string        `mapstructure:"kind"`
	BaseURL      string        `mapstructure:"base_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// defaultProviderTimeout 通道未配置 timeout 时 HTTP 客户端使用的超时
const defaultProviderTimeout = 30 * time.Second

// MaxProviderTimeout 所有通道中最长的单次请求超时
func (c *Config) MaxProviderTimeout() time.Duration {
	var longest time.Duration
	for _, p := range c.Providers {
		t := p.Timeout
		if t <= 0 {
			t = defaultProviderTimeout
		}
		if t > longest {
			longest = t
		}
	}
	if longest == 0 {
		longest = defaultProviderTimeout
	}
	return longest
}

type SettlementConfig struct {
	// 通道名 -> 回调签名密钥
	WebhookSecrets map[string]string `mapstructure:"webhook_secrets"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("mq.driver", "kafka")
	v.SetDefault("mq.exchange", "wallet_events")
	v.SetDefault("mq.topic.withdrawal_events", "wallet.withdrawal")
	v.SetDefault("mq.topic.deposit_events", "wallet.deposit")
	v.SetDefault("log.level", "info")
	v.SetDefault("payout.currency", "INR")
	v.SetDefault("payout.max_amount", 10000000)
	v.SetDefault("payout.gateway_timeout", 15*time.Second)
	v.SetDefault("payout.max_pin_attempts", 5)
	v.SetDefault("payout.pin_lock_duration", 30*time.Minute)
	v.SetDefault("payout.bcrypt_cost", 10)
	v.SetDefault("reconcile.interval", 2*time.Minute)
	v.SetDefault("reconcile.grace_period", 5*time.Minute)
	v.SetDefault("reconcile.claim_lease", time.Minute)
	v.SetDefault("reconcile.max_attempts", 12)
	v.SetDefault("reconcile.max_age", 24*time.Hour)
	v.SetDefault("reconcile.batch_size", 50)
	v.SetDefault("jobs.outbox_interval", 500*time.Millisecond)
	v.SetDefault("jobs.outbox_max_retry", 5)
	v.SetDefault("jobs.audit_schedule", "@every 1h")
	v.SetDefault("jobs.audit_batch_size", 200)
}

// LoadConfig 加载配置文件，环境变量 WALLETPAY_* 覆盖同名配置
// 例如 WALLETPAY_DATABASE_PASSWORD 覆盖 database.password
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WALLETPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate 校验启动必需的配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret 不能为空")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("至少需要配置一个出款通道")
	}
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("出款通道 name 不能为空")
		}
		if names[p.Name] {
			return fmt.Errorf("出款通道重复: %s", p.Name)
		}
		names[p.Name] = true
	}
	for instrument, provider := range c.Payout.Routes {
		if !names[provider] {
			return fmt.Errorf("payout.routes.%s 指向未配置的通道: %s", instrument, provider)
		}
	}
	if c.Reconcile.GracePeriod <= c.Payout.GatewayTimeout {
		return fmt.Errorf("reconcile.grace_period 必须大于 payout.gateway_timeout")
	}
	return nil
}
