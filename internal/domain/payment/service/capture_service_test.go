package service

import (
	"context"
	"testing"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimedOrder(t *testing.T, env *testEnv, id, amount, provider string) *model.AuthorizationHandle {
	t.Helper()
	h := env.authorizedOrder(t, id, amount)
	ok, err := env.repo.ClaimForAssignment(context.Background(), id, provider, env.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	return h
}

func TestCapture(t *testing.T) {
	t.Run("partial capture", func(t *testing.T) {
		env := newTestEnv(t)
		h := claimedOrder(t, env, "order-1", "50.00", "F1")
		amount := decimal.RequireFromString("35.00")

		res, err := env.capture.Capture(context.Background(), CaptureRequest{AuthorizationID: h.ID, OrderID: "order-1", ProviderID: "F1", Amount: &amount})

		require.NoError(t, err)
		assert.True(t, res.Amount.Equal(amount))
		assert.Equal(t, model.AuthorizationCaptured, res.Status)
		assert.Equal(t, "capture:order-1", res.IdempotencyKey)
	})

	t.Run("amount above authorized", func(t *testing.T) {
		env := newTestEnv(t)
		h := claimedOrder(t, env, "order-1", "50.00", "F1")
		amount := decimal.RequireFromString("50.01")

		_, err := env.capture.Capture(context.Background(), CaptureRequest{AuthorizationID: h.ID, OrderID: "order-1", ProviderID: "F1", Amount: &amount})

		assert.ErrorIs(t, err, model.ErrAmountExceedsAuthorized)
		assert.Equal(t, 0, env.gw.Calls(gateway.OpCapture))
	})

	t.Run("only the claim holder may capture", func(t *testing.T) {
		env := newTestEnv(t)
		h := claimedOrder(t, env, "order-1", "50.00", "F1")

		_, err := env.capture.Capture(context.Background(), CaptureRequest{AuthorizationID: h.ID, OrderID: "order-1", ProviderID: "F2"})

		assert.ErrorIs(t, err, model.ErrOrderNotEligible)
	})

	t.Run("mismatched authorization", func(t *testing.T) {
		env := newTestEnv(t)
		claimedOrder(t, env, "order-1", "50.00", "F1")

		_, err := env.capture.Capture(context.Background(), CaptureRequest{AuthorizationID: "auth_other", OrderID: "order-1", ProviderID: "F1"})

		assert.ErrorIs(t, err, model.ErrAuthorizationNotFound)
	})

	t.Run("repeated request is served from the idempotency store", func(t *testing.T) {
		env := newTestEnv(t)
		h := claimedOrder(t, env, "order-1", "50.00", "F1")
		req := CaptureRequest{AuthorizationID: h.ID, OrderID: "order-1", ProviderID: "F1"}

		first, err := env.capture.Capture(context.Background(), req)
		require.NoError(t, err)
		second, err := env.capture.Capture(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, env.gw.Calls(gateway.OpCapture))
	})

	t.Run("gateway terminal error is not retried", func(t *testing.T) {
		env := newTestEnv(t)
		h := claimedOrder(t, env, "order-1", "50.00", "F1")
		env.gw.Expire(h.ID)

		_, err := env.capture.Capture(context.Background(), CaptureRequest{AuthorizationID: h.ID, OrderID: "order-1", ProviderID: "F1"})

		assert.ErrorIs(t, err, model.ErrAuthorizationExpired)
		assert.Equal(t, 1, env.gw.Calls(gateway.OpCapture))
	})
}
