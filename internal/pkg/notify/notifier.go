package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AssignedEvent 订单已被某位 fourmiz 接单并完成扣款
type AssignedEvent struct {
	OrderID    string          `json:"orderId"`
	ProviderID string          `json:"providerId"`
	ClientID   string          `json:"clientId"`
	Amount     decimal.Decimal `json:"amount"`
	AssignedAt time.Time       `json:"assignedAt"`
}

// ExpiredEvent 预授权过期，订单取消且未扣款
type ExpiredEvent struct {
	OrderID   string          `json:"orderId"`
	ClientID  string          `json:"clientId"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiredAt time.Time       `json:"expiredAt"`
}

// Notifier 订单事件通知
// 通知失败只记录日志，不回滚订单状态
type Notifier interface {
	OrderAssigned(ctx context.Context, e AssignedEvent) error
	OrderAuthorizationExpired(ctx context.Context, e ExpiredEvent) error
}

type Nop struct{}

func (Nop) OrderAssigned(context.Context, AssignedEvent) error { return nil }
func (Nop) OrderAuthorizationExpired(context.Context, ExpiredEvent) error { return nil }

// Multi 依次通知所有下游，汇总错误
type Multi []Notifier

func (m Multi) OrderAssigned(ctx context.Context, e AssignedEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.OrderAssigned(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) OrderAuthorizationExpired(ctx context.Context, e ExpiredEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.OrderAuthorizationExpired(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
