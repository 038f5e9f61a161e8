package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/idempotency"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AuthorizationService 预授权发起
type AuthorizationService struct {
	repo repository.OrderRepository
	gw   gateway.Gateway
	opts Options
	log  *zap.Logger
}

func NewAuthorizationService(repo repository.OrderRepository, gw gateway.Gateway, opts Options) *AuthorizationService {
	opts = opts.withDefaults()
	return &AuthorizationService{
		repo: repo,
		gw:   gw,
		opts: opts,
		log:  opts.Logger.With(zap.String("component", "authorization")),
	}
}

// CreateAuthorization 为订单冻结资金
// 订单已有有效预授权时直接返回已有句柄，客户端重试不会产生第二笔冻结
func (s *AuthorizationService) CreateAuthorization(ctx context.Context, orderID string, amount decimal.Decimal, validityDays int) (*model.AuthorizationHandle, error) {
	if !amount.IsPositive() || (s.opts.MaxAmount.IsPositive() && amount.GreaterThan(s.opts.MaxAmount)) {
		s.opts.Metrics.RecordAuthorization("invalid")
		return nil, model.ErrInvalidAmount
	}
	if validityDays <= 0 {
		validityDays = s.opts.DefaultValidityDays
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.ProposedAmount.Equal(amount) {
		s.opts.Metrics.RecordAuthorization("invalid")
		return nil, fmt.Errorf("%w: %s does not match proposed amount %s", model.ErrInvalidAmount, amount, order.ProposedAmount)
	}

	now := s.opts.Clock()
	if order.IsAuthorizationLive(now) {
		s.opts.Metrics.RecordAuthorization("existing")
		return s.existing(ctx, order), nil
	}
	if order.PaymentStatus != model.PaymentStatusNone {
		s.opts.Metrics.RecordAuthorization("not_eligible")
		return nil, model.ErrOrderNotEligible
	}

	var handle *model.AuthorizationHandle
	err = s.opts.Retry.do(ctx, s.onRetry(orderID), func(ctx context.Context) error {
		h, err := s.gw.CreateAuthorization(ctx, gateway.AuthorizeRequest{
			OrderID:        orderID,
			Amount:         amount,
			ExpiresAt:      now.AddDate(0, 0, validityDays),
			IdempotencyKey: idempotency.AuthorizeKey(orderID),
		})
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		s.opts.Metrics.RecordAuthorization("failed")
		return nil, fmt.Errorf("create authorization for order %s: %w", orderID, err)
	}
	if handle.Status != model.AuthorizationAuthorized || !handle.ExpiresAt.After(now) {
		s.opts.Metrics.RecordAuthorization("failed")
		return nil, fmt.Errorf("gateway returned %s hold for order %s: %w", handle.Status, orderID, model.ErrAuthorizationExpired)
	}

	err = s.opts.Retry.persist(ctx, func(ctx context.Context) error {
		return s.repo.MarkAuthorized(ctx, orderID, handle.ID, handle.ExpiresAt, now)
	})
	if errors.Is(err, repository.ErrPreconditionFailed) {
		return s.resolveConflict(ctx, orderID, handle)
	}
	if err != nil {
		// 网关已冻结但订单未记录：幂等键保证重试拿到同一笔冻结
		s.opts.Metrics.RecordAuthorization("failed")
		return nil, fmt.Errorf("record authorization for order %s: %w", orderID, err)
	}

	s.opts.Metrics.RecordAuthorization("created")
	s.log.Info("authorization created",
		zap.String("order_id", orderID),
		zap.String("authorization_id", handle.ID),
		zap.Time("expires_at", handle.ExpiresAt),
	)
	return handle, nil
}

// GetOrder 读取订单记录
func (s *AuthorizationService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

// GetStatus 查询订单当前预授权在网关侧的状态
func (s *AuthorizationService) GetStatus(ctx context.Context, orderID string) (*model.AuthorizationHandle, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentAuthorizationID == nil {
		return nil, model.ErrAuthorizationNotFound
	}

	var handle *model.AuthorizationHandle
	err = s.opts.Retry.do(ctx, s.onRetry(orderID), func(ctx context.Context) error {
		h, err := s.gw.GetStatus(ctx, *order.PaymentAuthorizationID)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	return handle, err
}

// resolveConflict 并发写入抢先记录了预授权
func (s *AuthorizationService) resolveConflict(ctx context.Context, orderID string, handle *model.AuthorizationHandle) (*model.AuthorizationHandle, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentAuthorizationID != nil && *order.PaymentAuthorizationID == handle.ID {
		s.opts.Metrics.RecordAuthorization("existing")
		return handle, nil
	}

	// 订单状态已变化，释放刚创建的孤立冻结
	err = s.opts.Retry.do(ctx, s.onRetry(orderID), func(ctx context.Context) error {
		_, err := s.gw.Cancel(ctx, gateway.CancelRequest{
			AuthorizationID: handle.ID,
			Reason:          "order no longer eligible",
			IdempotencyKey:  idempotency.CancelKey(orderID),
		})
		return err
	})
	if err != nil && !model.IsGatewayTerminal(err) {
		s.log.Error("release orphan authorization failed",
			zap.String("order_id", orderID),
			zap.String("authorization_id", handle.ID),
			zap.Bool("needs_manual_intervention", true),
			zap.Error(err),
		)
	}
	s.opts.Metrics.RecordAuthorization("not_eligible")
	return nil, model.ErrOrderNotEligible
}

// existing 优先返回网关侧状态，网关不可用时由订单记录重建
func (s *AuthorizationService) existing(ctx context.Context, order *model.Order) *model.AuthorizationHandle {
	h, err := s.gw.GetStatus(ctx, *order.PaymentAuthorizationID)
	if err == nil {
		return h
	}
	s.log.Warn("gateway status unavailable, using order record",
		zap.String("order_id", order.ID),
		zap.Error(err),
	)
	return &model.AuthorizationHandle{
		ID:         *order.PaymentAuthorizationID,
		OrderID:    order.ID,
		Amount:     order.ProposedAmount,
		Status:     model.AuthorizationAuthorized,
		ExpiresAt:  *order.AuthorizationExpiresAt,
		CanCapture: true,
	}
}

func (s *AuthorizationService) onRetry(orderID string) func(int, error) {
	return func(attempt int, err error) {
		s.opts.Metrics.RecordGatewayRetry("authorize")
		s.log.Warn("gateway call failed, retrying",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
