package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/idempotency"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CaptureRequest Amount 为空时按订单金额全额扣款
type CaptureRequest struct {
	AuthorizationID string
	OrderID         string
	ProviderID      string
	Amount          *decimal.Decimal
}

// CaptureService 扣款执行器
type CaptureService struct {
	repo  repository.OrderRepository
	gw    gateway.Gateway
	store idempotency.Store
	opts  Options
	log   *zap.Logger
}

func NewCaptureService(repo repository.OrderRepository, gw gateway.Gateway, store idempotency.Store, opts Options) *CaptureService {
	opts = opts.withDefaults()
	return &CaptureService{
		repo:  repo,
		gw:    gw,
		store: store,
		opts:  opts,
		log:   opts.Logger.With(zap.String("component", "capture")),
	}
}

// Capture 把预授权转为实际扣款
// 幂等键按订单生成，同一请求的重试不会重复扣款
func (s *CaptureService) Capture(ctx context.Context, req CaptureRequest) (*model.CaptureResult, error) {
	if req.ProviderID == "" {
		return nil, model.ErrInvalidProvider
	}
	key := idempotency.CaptureKey(req.OrderID)

	if cached, ok := s.cached(ctx, key, req.ProviderID); ok {
		return cached, nil
	}

	order, err := s.repo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentAuthorizationID == nil || *order.PaymentAuthorizationID != req.AuthorizationID {
		return nil, model.ErrAuthorizationNotFound
	}
	if order.PaymentStatus == model.PaymentStatusCaptured {
		if order.AssignedProviderID != nil && *order.AssignedProviderID == req.ProviderID {
			return resultFromOrder(order, key), nil
		}
		return nil, model.ErrAlreadyCaptured
	}
	if order.Status != model.OrderStatusAssigning || order.AssignedProviderID == nil || *order.AssignedProviderID != req.ProviderID {
		return nil, model.ErrOrderNotEligible
	}

	amount := order.ProposedAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	if amount.GreaterThan(order.ProposedAmount) {
		return nil, model.ErrAmountExceedsAuthorized
	}
	if order.AuthorizationExpiresAt == nil || !s.opts.Clock().Before(*order.AuthorizationExpiresAt) {
		return nil, model.ErrAuthorizationExpired
	}

	start := time.Now()
	var handle *model.AuthorizationHandle
	err = s.opts.Retry.do(ctx, s.onRetry("capture", req.OrderID), func(ctx context.Context) error {
		h, err := s.gw.Capture(ctx, gateway.CaptureRequest{
			AuthorizationID: req.AuthorizationID,
			Amount:          amount,
			IdempotencyKey:  key,
		})
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		s.opts.Metrics.RecordCapture("failed", time.Since(start))
		if model.IsRetryable(err) {
			return nil, fmt.Errorf("%w: order %s: %w", model.ErrCaptureFailed, req.OrderID, err)
		}
		return nil, err
	}
	s.opts.Metrics.RecordCapture("success", time.Since(start))

	captured := handle.CapturedAmount
	if captured.IsZero() {
		captured = amount
	}
	result := &model.CaptureResult{
		AuthorizationID: req.AuthorizationID,
		OrderID:         req.OrderID,
		ProviderID:      req.ProviderID,
		Amount:          captured,
		Status:          handle.Status,
		IdempotencyKey:  key,
		CapturedAt:      s.opts.Clock(),
	}
	if s.store != nil {
		if err := s.store.Put(ctx, key, result); err != nil {
			s.log.Warn("store capture result failed", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}
	return result, nil
}

// Reconcile 查询网关侧的权威状态
func (s *CaptureService) Reconcile(ctx context.Context, authorizationID string) (*model.AuthorizationHandle, error) {
	var handle *model.AuthorizationHandle
	err := s.opts.Retry.do(ctx, s.onRetry("status", authorizationID), func(ctx context.Context) error {
		h, err := s.gw.GetStatus(ctx, authorizationID)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (s *CaptureService) cached(ctx context.Context, key, providerID string) (*model.CaptureResult, bool) {
	if s.store == nil {
		return nil, false
	}
	result, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Warn("read capture idempotency record failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found || result.ProviderID != providerID {
		return nil, false
	}
	return result, true
}

func (s *CaptureService) onRetry(op, id string) func(int, error) {
	return func(attempt int, err error) {
		s.opts.Metrics.RecordGatewayRetry(op)
		s.log.Warn("gateway call failed, retrying",
			zap.String("operation", op),
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

func resultFromOrder(order *model.Order, key string) *model.CaptureResult {
	result := &model.CaptureResult{
		OrderID:        order.ID,
		ProviderID:     *order.AssignedProviderID,
		Amount:         order.CapturedAmount.Decimal,
		Status:         model.AuthorizationCaptured,
		IdempotencyKey: key,
	}
	if order.PaymentAuthorizationID != nil {
		result.AuthorizationID = *order.PaymentAuthorizationID
	}
	if order.AssignedAt != nil {
		result.CapturedAt = *order.AssignedAt
	}
	return result
}
