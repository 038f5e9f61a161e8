package notify

import (
	"context"
	"fmt"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/push"
)

// PushNotifier 通过移动推送通知客户
type PushNotifier struct {
	push push.PushService
}

func NewPushNotifier(p push.PushService) *PushNotifier {
	return &PushNotifier{push: p}
}

func (n *PushNotifier) OrderAssigned(_ context.Context, e AssignedEvent) error {
	body := fmt.Sprintf("您的订单 %s 已被接单，已扣款 %s。", e.OrderID, e.Amount.StringFixed(2))
	return n.push.PushToAccount(e.ClientID, "订单已接单", body, map[string]string{
		"orderId":    e.OrderID,
		"providerId": e.ProviderID,
		"event":      RoutingKeyOrderAssigned,
	})
}

func (n *PushNotifier) OrderAuthorizationExpired(_ context.Context, e ExpiredEvent) error {
	body := fmt.Sprintf("您的订单 %s 无人接单已自动取消，预授权 %s 已释放，未产生任何扣款。", e.OrderID, e.Amount.StringFixed(2))
	return n.push.PushToAccount(e.ClientID, "订单已取消", body, map[string]string{
		"orderId": e.OrderID,
		"event":   RoutingKeyOrderExpired,
	})
}
