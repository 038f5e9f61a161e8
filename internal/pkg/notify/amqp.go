package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingKeyOrderAssigned = "order.assigned"
	RoutingKeyOrderExpired  = "order.authorization_expired"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier 把订单事件以持久化 JSON 消息发布到 topic 交换机
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	pub      publisher
	exchange string
	mu       sync.Mutex
}

// DialAMQP 建立连接并声明 topic 交换机
func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, pub: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) Close() {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
}

func (n *AMQPNotifier) OrderAssigned(ctx context.Context, e AssignedEvent) error {
	return n.publish(ctx, RoutingKeyOrderAssigned, e.OrderID, e)
}

func (n *AMQPNotifier) OrderAuthorizationExpired(ctx context.Context, e ExpiredEvent) error {
	return n.publish(ctx, RoutingKeyOrderExpired, e.OrderID, e)
}

// publish 同一 channel 不能并发发布，需串行
func (n *AMQPNotifier) publish(ctx context.Context, key, orderID string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.pub.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		CorrelationId: orderID,
		Timestamp:     time.Now().UTC(),
		Headers:       amqp.Table{"x-source": "fourmiz-payments"},
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}
