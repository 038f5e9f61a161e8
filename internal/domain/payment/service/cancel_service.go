package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/idempotency"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"

	"go.uber.org/zap"
)

type CancelRequest struct {
	AuthorizationID string
	OrderID         string
	Reason          string
	CanceledBy      string
}

// CancelService 预授权释放执行器
type CancelService struct {
	repo repository.OrderRepository
	gw   gateway.Gateway
	opts Options
	log  *zap.Logger
}

func NewCancelService(repo repository.OrderRepository, gw gateway.Gateway, opts Options) *CancelService {
	opts = opts.withDefaults()
	return &CancelService{
		repo: repo,
		gw:   gw,
		opts: opts,
		log:  opts.Logger.With(zap.String("component", "cancel")),
	}
}

// Cancel 释放预授权
// 过期清理与人工取消可能并发调用，已处于终态时返回该终态而不是报错
func (s *CancelService) Cancel(ctx context.Context, req CancelRequest) (*model.CancelResult, error) {
	var handle *model.AuthorizationHandle
	err := s.opts.Retry.do(ctx, s.onRetry(req.OrderID), func(ctx context.Context) error {
		h, err := s.gw.Cancel(ctx, gateway.CancelRequest{
			AuthorizationID: req.AuthorizationID,
			Reason:          req.Reason,
			IdempotencyKey:  idempotency.CancelKey(req.OrderID),
		})
		if err != nil {
			return err
		}
		handle = h
		return nil
	})

	var status model.AuthorizationStatus
	switch {
	case err == nil:
		status = handle.Status
	case errors.Is(err, model.ErrAlreadyCanceled):
		status = model.AuthorizationCanceled
	case errors.Is(err, model.ErrAlreadyCaptured):
		status = model.AuthorizationCaptured
	case errors.Is(err, model.ErrAuthorizationExpired):
		status = model.AuthorizationExpired
	case model.IsRetryable(err):
		s.opts.Metrics.RecordCancellation("failed")
		return nil, fmt.Errorf("%w: order %s: %w", model.ErrCancelFailed, req.OrderID, err)
	default:
		s.opts.Metrics.RecordCancellation("failed")
		return nil, err
	}

	if err != nil {
		s.log.Info("authorization already terminal",
			zap.String("order_id", req.OrderID),
			zap.String("authorization_id", req.AuthorizationID),
			zap.String("status", string(status)),
		)
	}
	s.opts.Metrics.RecordCancellation(string(status))
	return &model.CancelResult{
		AuthorizationID: req.AuthorizationID,
		OrderID:         req.OrderID,
		Status:          status,
		Reason:          req.Reason,
		CanceledBy:      req.CanceledBy,
	}, nil
}

// CancelOrder 客户或管理员取消尚未被接单的订单并释放预授权
func (s *CancelService) CancelOrder(ctx context.Context, orderID, reason, canceledBy string) (*model.CancelResult, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPending ||
		order.PaymentStatus != model.PaymentStatusAuthorized ||
		order.AssignedProviderID != nil ||
		order.PaymentAuthorizationID == nil {
		return nil, model.ErrOrderNotEligible
	}

	result, err := s.Cancel(ctx, CancelRequest{
		AuthorizationID: *order.PaymentAuthorizationID,
		OrderID:         orderID,
		Reason:          reason,
		CanceledBy:      canceledBy,
	})
	if err != nil {
		return nil, err
	}
	if result.Status == model.AuthorizationCaptured {
		// 抢单已在网关侧扣款，订单状态由抢单流程提交
		return nil, model.ErrAlreadyCaptured
	}

	now := s.opts.Clock()
	var updated bool
	err = s.opts.Retry.persist(ctx, func(ctx context.Context) error {
		var err error
		if result.Status == model.AuthorizationExpired {
			updated, err = s.repo.MarkAuthorizationExpired(ctx, orderID, reasonAuthorizationExpired, now)
			if err != nil || updated {
				return err
			}
		}
		updated, err = s.repo.MarkCancelled(ctx, orderID, canceledBy, reason, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mark order %s cancelled: %w", orderID, err)
	}
	if !updated {
		s.log.Warn("order changed while cancelling, hold already released",
			zap.String("order_id", orderID),
			zap.String("status", string(result.Status)),
		)
		return nil, model.ErrOrderNotEligible
	}
	return result, nil
}

func (s *CancelService) onRetry(orderID string) func(int, error) {
	return func(attempt int, err error) {
		s.opts.Metrics.RecordGatewayRetry("cancel")
		s.log.Warn("gateway cancel failed, retrying",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
