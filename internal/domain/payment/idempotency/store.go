package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fourmiz:idem:"

// Store 扣款幂等记录
// 同一订单的重复扣款请求直接返回已记录的结果，不再调用网关
type Store interface {
	Get(ctx context.Context, key string) (*model.CaptureResult, bool, error)
	Put(ctx context.Context, key string, result *model.CaptureResult) error
}

// CaptureKey 订单级扣款幂等键
func CaptureKey(orderID string) string {
	return "capture:" + orderID
}

// CancelKey 订单级释放幂等键
func CancelKey(orderID string) string {
	return "cancel:" + orderID
}

// AuthorizeKey 订单级预授权幂等键
func AuthorizeKey(orderID string) string {
	return "authorize:" + orderID
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*model.CaptureResult, bool, error) {
	val, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var result model.CaptureResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	return &result, true, nil
}

// Put 只在键不存在时写入，先写入者为准
func (s *RedisStore) Put(ctx context.Context, key string, result *model.CaptureResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.rdb.SetNX(ctx, keyPrefix+key, data, s.ttl).Err()
}
