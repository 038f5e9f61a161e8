package service

import (
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultValidityDays     = 7
	defaultSweepBatchSize   = 200
	defaultSweepConcurrency = 8
	defaultStaleClaimAfter  = 10 * time.Minute

	reasonAuthorizationExpired = "authorization expired"
	reasonAuthorizationRevoked = "authorization canceled during assignment"
)

// Options 支付服务共享配置
type Options struct {
	Retry               RetryPolicy
	MaxAmount           decimal.Decimal
	DefaultValidityDays int
	SweepBatchSize      int
	SweepConcurrency    int
	StaleClaimAfter     time.Duration
	PageSize            int
	MaxPageSize         int
	Clock               func() time.Time
	Logger              *zap.Logger
	Metrics             *metrics.PaymentMetrics
}

// OptionsFromConfig 由全局配置构造服务配置
func OptionsFromConfig(cfg *config.Config, log *zap.Logger, m *metrics.PaymentMetrics) Options {
	return Options{
		Retry: RetryPolicy{
			MaxAttempts:    cfg.Gateway.MaxAttempts,
			InitialBackoff: cfg.Gateway.InitialBackoff,
			MaxBackoff:     cfg.Gateway.MaxBackoff,
			CallTimeout:    cfg.Gateway.CallTimeout,
		},
		MaxAmount:           cfg.Payment.MaxAmountDecimal(),
		DefaultValidityDays: cfg.Payment.DefaultValidityDays,
		SweepBatchSize:      cfg.Sweeper.BatchSize,
		SweepConcurrency:    cfg.Sweeper.Concurrency,
		StaleClaimAfter:     cfg.Sweeper.StaleClaimAfter,
		PageSize:            cfg.Payment.PageSize,
		MaxPageSize:         cfg.Payment.MaxPageSize,
		Logger:              log,
		Metrics:             m,
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultValidityDays <= 0 {
		o.DefaultValidityDays = defaultValidityDays
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = defaultSweepBatchSize
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = defaultSweepConcurrency
	}
	if o.StaleClaimAfter <= 0 {
		o.StaleClaimAfter = defaultStaleClaimAfter
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
