package service

import (
	"context"
	"testing"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAuthorizationRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "25.00")

	h, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString("25.00"), 7)
	require.NoError(t, err)

	status, err := env.auth.GetStatus(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, h.ID, status.ID)
	assert.Equal(t, model.AuthorizationAuthorized, status.Status)
	assert.True(t, status.Amount.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, status.CanCapture)

	order := env.repo.snapshot("order-1")
	assert.Equal(t, model.PaymentStatusAuthorized, order.PaymentStatus)
	assert.Equal(t, h.ID, *order.PaymentAuthorizationID)
	assert.Equal(t, t0.AddDate(0, 0, 7), *order.AuthorizationExpiresAt)
	assert.Equal(t, model.OrderStatusPending, order.Status)
}

func TestCreateAuthorizationIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.authorizedOrder(t, "order-1", "40.00")

	env.clock.Advance(time.Hour)
	second, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString("40.00"), 7)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.gw.Calls(gateway.OpAuthorize))
}

func TestCreateAuthorizationValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "25.00")

	tests := []struct {
		name   string
		amount string
	}{
		{"zero", "0"},
		{"negative", "-1.00"},
		{"above ceiling", "5000.01"},
		{"differs from proposed amount", "24.99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString(tt.amount), 7)
			assert.ErrorIs(t, err, model.ErrInvalidAmount)
		})
	}
	assert.Equal(t, 0, env.gw.Calls(gateway.OpAuthorize))
}

func TestCreateAuthorizationNotEligible(t *testing.T) {
	env := newTestEnv(t)
	env.authorizedOrder(t, "order-1", "25.00")

	// 过期后订单已不是 none，不能重新冻结
	env.clock.Advance(8 * 24 * time.Hour)
	_, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString("25.00"), 7)
	assert.ErrorIs(t, err, model.ErrOrderNotEligible)

	_, err = env.auth.CreateAuthorization(context.Background(), "missing", decimal.RequireFromString("25.00"), 7)
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestCreateAuthorizationGateway(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedOrder(t, "order-1", "25.00")
		env.gw.FailNext(gateway.OpAuthorize, 2, model.ErrGatewayUnavailable)

		h, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString("25.00"), 0)

		require.NoError(t, err)
		assert.Equal(t, 3, env.gw.Calls(gateway.OpAuthorize))
		assert.Equal(t, t0.AddDate(0, 0, 7), h.ExpiresAt)
	})

	t.Run("exhausted budget leaves order untouched", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedOrder(t, "order-1", "25.00")
		env.gw.FailNext(gateway.OpAuthorize, 3, model.ErrGatewayUnavailable)

		_, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString("25.00"), 7)

		assert.ErrorIs(t, err, model.ErrGatewayUnavailable)
		assert.Equal(t, model.PaymentStatusNone, env.repo.snapshot("order-1").PaymentStatus)
	})

	t.Run("lost response reuses the same hold", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedOrder(t, "order-1", "25.00")
		env.gw.DropResponses(gateway.OpAuthorize, 1)

		h, err := env.auth.CreateAuthorization(context.Background(), "order-1", decimal.RequireFromString("25.00"), 7)

		require.NoError(t, err)
		assert.Equal(t, h.ID, *env.repo.snapshot("order-1").PaymentAuthorizationID)
	})
}
