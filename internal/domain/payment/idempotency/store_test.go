package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "capture:order-100", CaptureKey("order-100"))
	assert.Equal(t, "cancel:order-100", CancelKey("order-100"))
	assert.Equal(t, "authorize:order-100", AuthorizeKey("order-100"))
}

// 需要本地 Redis：REDIS_ADDR=localhost:6379 go test ./...
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	store := NewRedisStore(rdb, time.Minute)
	ctx := context.Background()
	key := CaptureKey("order-" + uuid.New().String())
	t.Cleanup(func() { rdb.Del(ctx, keyPrefix+key) })

	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	first := &model.CaptureResult{
		AuthorizationID: "auth_1",
		OrderID:         "order-100",
		ProviderID:      "F1",
		Amount:          decimal.RequireFromString("12.50"),
		Status:          model.AuthorizationCaptured,
		IdempotencyKey:  key,
	}
	require.NoError(t, store.Put(ctx, key, first))
	require.NoError(t, store.Put(ctx, key, &model.CaptureResult{ProviderID: "F2"}))

	got, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "F1", got.ProviderID)
	assert.True(t, got.Amount.Equal(first.Amount))
}
