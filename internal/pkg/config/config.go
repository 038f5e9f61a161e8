package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	App         AppConfig         `mapstructure:"app"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RabbitMQ    RabbitMQConfig    `mapstructure:"rabbitmq"`
	Push        PushConfig        `mapstructure:"push"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

// DSN gorm postgres 驱动使用的连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone)
}

// URL golang-migrate 使用的连接串
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

// PaymentConfig 预授权相关配置
type PaymentConfig struct {
	MaxAmount           string `mapstructure:"max_amount"` // 单笔预授权上限，十进制字符串
	Currency            string `mapstructure:"currency"`
	DefaultValidityDays int    `mapstructure:"default_validity_days"`
	PageSize            int    `mapstructure:"page_size"` // 可抢订单列表默认条数
	MaxPageSize         int    `mapstructure:"max_page_size"`
}

// MaxAmountDecimal 解析后的金额上限
func (c PaymentConfig) MaxAmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GatewayConfig 支付网关调用配置
type GatewayConfig struct {
	Driver         string        `mapstructure:"driver"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// SweeperConfig 过期预授权清理任务配置
type SweeperConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	StaleClaimAfter time.Duration `mapstructure:"stale_claim_after"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"` // e.g., "cn-hangzhou"
}

type RateLimitConfig struct {
	AssignRPS   float64 `mapstructure:"assign_rps"`
	AssignBurst int     `mapstructure:"assign_burst"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	maxAmount, err := decimal.NewFromString(c.Payment.MaxAmount)
	if err != nil {
		return fmt.Errorf("payment.max_amount: %w", err)
	}
	if !maxAmount.IsPositive() {
		return errors.New("payment.max_amount must be positive")
	}
	if c.Payment.DefaultValidityDays <= 0 {
		return errors.New("payment.default_validity_days must be positive")
	}
	if c.Payment.PageSize > c.Payment.MaxPageSize {
		return errors.New("payment.page_size must not exceed payment.max_page_size")
	}

	if c.Gateway.MaxAttempts < 1 {
		return errors.New("gateway.max_attempts must be at least 1")
	}
	if c.Gateway.CallTimeout <= 0 {
		return errors.New("gateway.call_timeout must be positive")
	}

	if c.Sweeper.Interval <= 0 || c.Sweeper.BatchSize <= 0 {
		return errors.New("sweeper interval and batch_size must be positive")
	}

	// 悬挂抢占判定必须晚于一次扣款可能耗费的最长时间，否则会与进行中的扣款并发补偿
	budget := time.Duration(c.Gateway.MaxAttempts) * (c.Gateway.CallTimeout + c.Gateway.MaxBackoff)
	if c.Sweeper.StaleClaimAfter <= budget {
		return fmt.Errorf("sweeper.stale_claim_after must exceed the capture budget (%s)", budget)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)

	v.SetDefault("payment.max_amount", "5000.00")
	v.SetDefault("payment.currency", "EUR")
	v.SetDefault("payment.default_validity_days", 7)
	v.SetDefault("payment.page_size", 20)
	v.SetDefault("payment.max_page_size", 50)

	v.SetDefault("gateway.driver", "sandbox")
	v.SetDefault("gateway.call_timeout", 5*time.Second)
	v.SetDefault("gateway.max_attempts", 4)
	v.SetDefault("gateway.initial_backoff", 200*time.Millisecond)
	v.SetDefault("gateway.max_backoff", 3*time.Second)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", 5*time.Minute)
	v.SetDefault("sweeper.batch_size", 200)
	v.SetDefault("sweeper.concurrency", 8)
	v.SetDefault("sweeper.stale_claim_after", 10*time.Minute)

	v.SetDefault("idempotency.ttl", 72*time.Hour)
	v.SetDefault("rabbitmq.exchange", "fourmiz.notifications")
	v.SetDefault("rate_limit.assign_rps", 5)
	v.SetDefault("rate_limit.assign_burst", 10)
}

// Load 加载配置
// path 为空时按 APP_ENV 在 ./configs 与 . 下查找 config[.env].yaml
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		env := os.Getenv("APP_ENV")
		configName := "config"
		if env != "" && env != "dev" {
			configName = "config." + env
		}
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// FOURMIZ_DATABASE_HOST -> database.host
	v.SetEnvPrefix("fourmiz")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	GlobalConfig = cfg
	return &cfg, nil
}
