package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"

	"github.com/shopspring/decimal"
)

// Gateway 支付网关能力：预授权、扣款、释放、查询
// 线协议对调用方不透明，错误统一使用 model 包中的哨兵错误
type Gateway interface {
	CreateAuthorization(ctx context.Context, req AuthorizeRequest) (*model.AuthorizationHandle, error)
	Capture(ctx context.Context, req CaptureRequest) (*model.AuthorizationHandle, error)
	Cancel(ctx context.Context, req CancelRequest) (*model.AuthorizationHandle, error)
	GetStatus(ctx context.Context, authorizationID string) (*model.AuthorizationHandle, error)
}

type AuthorizeRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	ExpiresAt      time.Time
	IdempotencyKey string
}

type CaptureRequest struct {
	AuthorizationID string
	Amount          decimal.Decimal
	IdempotencyKey  string
}

type CancelRequest struct {
	AuthorizationID string
	Reason          string
	IdempotencyKey  string
}

// Factory 根据配置构造网关
type Factory func(cfg config.GatewayConfig) (Gateway, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{
		DriverSandbox: func(config.GatewayConfig) (Gateway, error) {
			return NewSandbox(time.Now), nil
		},
	}
)

// Register 注册网关驱动
func Register(driver string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[driver] = f
}

// Drivers 已注册的驱动名
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New 按 cfg.Driver 创建网关
func New(cfg config.GatewayConfig) (Gateway, error) {
	mu.RLock()
	f, ok := factories[cfg.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported payment gateway driver %q", cfg.Driver)
	}
	return f(cfg)
}
