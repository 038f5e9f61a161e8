package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/notify"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AssignmentService 抢单协调器：抢占 -> 扣款 -> 提交或补偿
type AssignmentService struct {
	repo     repository.OrderRepository
	capture  *CaptureService
	cancel   *CancelService
	notifier notify.Notifier
	opts     Options
	log      *zap.Logger
}

func NewAssignmentService(repo repository.OrderRepository, capture *CaptureService, cancel *CancelService, notifier notify.Notifier, opts Options) *AssignmentService {
	opts = opts.withDefaults()
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AssignmentService{
		repo:     repo,
		capture:  capture,
		cancel:   cancel,
		notifier: notifier,
		opts:     opts,
		log:      opts.Logger.With(zap.String("component", "assignment")),
	}
}

// Assign 由 providerID 抢占订单并扣款
// 抢占是一次条件更新，失败者立即得到 ErrAlreadyAssignedOrUnavailable
// 扣款在任何锁之外进行，失败时显式回滚或取消订单，不会静默丢弃
func (s *AssignmentService) Assign(ctx context.Context, orderID, providerID string) (*model.AssignmentResult, error) {
	if providerID == "" {
		return nil, model.ErrInvalidProvider
	}

	claimed, err := s.repo.ClaimForAssignment(ctx, orderID, providerID, s.opts.Clock())
	if err != nil {
		return nil, fmt.Errorf("claim order %s: %w", orderID, err)
	}
	if !claimed {
		s.opts.Metrics.RecordAssignment(string(model.AssignmentUnavailable))
		return &model.AssignmentResult{
			OrderID:    orderID,
			ProviderID: providerID,
			Outcome:    model.AssignmentUnavailable,
		}, model.ErrAlreadyAssignedOrUnavailable
	}

	// 抢占成功后必须走到提交或补偿，不受调用方取消影响
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(zap.String("order_id", orderID), zap.String("provider_id", providerID))

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		log.Error("load claimed order failed", zap.Error(err))
		return s.release(ctx, orderID, providerID, err)
	}

	result, err := s.capture.Capture(ctx, CaptureRequest{
		AuthorizationID: *order.PaymentAuthorizationID,
		OrderID:         orderID,
		ProviderID:      providerID,
	})
	if err == nil {
		return s.commit(ctx, order, providerID, result.Amount)
	}

	log.Warn("capture failed, compensating", zap.Error(err))
	return s.resolve(ctx, order, providerID, err)
}

// ResolveClaim 按网关状态收尾一个停留在 assigning 的订单
func (s *AssignmentService) ResolveClaim(ctx context.Context, order *model.Order) (*model.AssignmentResult, error) {
	if order.AssignedProviderID == nil || order.PaymentAuthorizationID == nil {
		return nil, fmt.Errorf("order %s: %w", order.ID, model.ErrOrderNotEligible)
	}
	return s.resolve(ctx, order, *order.AssignedProviderID, nil)
}

// ListEligible fourmiz 可抢的订单
func (s *AssignmentService) ListEligible(ctx context.Context, page utils.Pagination) (*utils.PageResult, error) {
	offset, limit := page.Window(s.opts.PageSize, s.opts.MaxPageSize)
	orders, total, err := s.repo.ListEligible(ctx, s.opts.Clock(), offset, limit)
	if err != nil {
		return nil, err
	}
	return page.Result(orders, total), nil
}

// resolve 补偿前先向网关核实，避免释放一个实际已扣款的订单
// cause 为空表示恢复任务调用，此时回滚不算失败
func (s *AssignmentService) resolve(ctx context.Context, order *model.Order, providerID string, cause error) (*model.AssignmentResult, error) {
	handle, err := s.capture.Reconcile(ctx, *order.PaymentAuthorizationID)
	if err != nil {
		return s.intervene(order.ID, providerID, "gateway status unknown", errors.Join(cause, err))
	}

	now := s.opts.Clock()
	switch handle.Status {
	case model.AuthorizationCaptured:
		amount := handle.CapturedAmount
		if amount.IsZero() {
			amount = order.ProposedAmount
		}
		return s.commit(ctx, order, providerID, amount)

	case model.AuthorizationAuthorized:
		if order.AuthorizationExpiresAt != nil && now.Before(*order.AuthorizationExpiresAt) && handle.ExpiresAt.After(now) {
			return s.release(ctx, order.ID, providerID, cause)
		}
		if _, err := s.cancel.Cancel(ctx, CancelRequest{
			AuthorizationID: handle.ID,
			OrderID:         order.ID,
			Reason:          reasonAuthorizationExpired,
			CanceledBy:      model.CancelledBySystem,
		}); err != nil {
			return s.intervene(order.ID, providerID, "release expired hold failed", errors.Join(cause, err))
		}
		return s.expire(ctx, order, providerID, model.PaymentStatusAuthorizationExpired)

	case model.AuthorizationExpired:
		return s.expire(ctx, order, providerID, model.PaymentStatusAuthorizationExpired)

	case model.AuthorizationCanceled:
		return s.expire(ctx, order, providerID, model.PaymentStatusCanceled)
	}

	return s.intervene(order.ID, providerID, "unexpected gateway status "+string(handle.Status), cause)
}

func (s *AssignmentService) commit(ctx context.Context, order *model.Order, providerID string, amount decimal.Decimal) (*model.AssignmentResult, error) {
	now := s.opts.Clock()
	err := s.opts.Retry.persist(ctx, func(ctx context.Context) error {
		return s.repo.CommitCapture(ctx, order.ID, providerID, amount, now)
	})
	if err != nil && !s.alreadyApplied(ctx, order.ID, err, func(o *model.Order) bool {
		return o.Status == model.OrderStatusAssigned &&
			o.PaymentStatus == model.PaymentStatusCaptured &&
			o.AssignedProviderID != nil && *o.AssignedProviderID == providerID
	}) {
		// 资金已扣，不能释放抢占
		return s.intervene(order.ID, providerID, "commit after capture failed", err)
	}

	s.opts.Metrics.RecordAssignment(string(model.AssignmentAssigned))
	s.log.Info("order assigned",
		zap.String("order_id", order.ID),
		zap.String("provider_id", providerID),
		zap.String("amount", amount.StringFixed(2)),
	)
	if err := s.notifier.OrderAssigned(ctx, notify.AssignedEvent{
		OrderID:    order.ID,
		ProviderID: providerID,
		ClientID:   order.ClientID,
		Amount:     amount,
		AssignedAt: now,
	}); err != nil {
		s.log.Warn("notify order assigned failed", zap.String("order_id", order.ID), zap.Error(err))
	}

	return &model.AssignmentResult{
		OrderID:        order.ID,
		ProviderID:     providerID,
		Outcome:        model.AssignmentAssigned,
		CapturedAmount: amount,
		AssignedAt:     &now,
	}, nil
}

// release 扣款失败且预授权仍有效：订单回到 pending，其他 fourmiz 可以再抢
func (s *AssignmentService) release(ctx context.Context, orderID, providerID string, cause error) (*model.AssignmentResult, error) {
	now := s.opts.Clock()
	err := s.opts.Retry.persist(ctx, func(ctx context.Context) error {
		return s.repo.ReleaseClaim(ctx, orderID, providerID, now)
	})
	if err != nil && !s.alreadyApplied(ctx, orderID, err, func(o *model.Order) bool {
		return o.Status == model.OrderStatusPending &&
			o.PaymentStatus == model.PaymentStatusAuthorized &&
			o.AssignedProviderID == nil
	}) {
		return s.intervene(orderID, providerID, "release claim failed", errors.Join(cause, err))
	}

	s.opts.Metrics.RecordAssignment(string(model.AssignmentReverted))
	result := &model.AssignmentResult{
		OrderID:    orderID,
		ProviderID: providerID,
		Outcome:    model.AssignmentReverted,
		Reason:     "capture failed, order released",
	}
	if cause == nil {
		return result, nil
	}
	result.Reason = cause.Error()
	return result, fmt.Errorf("order %s released: %w", orderID, cause)
}

// expire 预授权已失效或已释放：直接取消订单
func (s *AssignmentService) expire(ctx context.Context, order *model.Order, providerID string, paymentStatus model.PaymentStatus) (*model.AssignmentResult, error) {
	outcome, reason, sentinel := model.AssignmentExpired, reasonAuthorizationExpired, model.ErrAuthorizationExpired
	if paymentStatus == model.PaymentStatusCanceled {
		outcome, reason, sentinel = model.AssignmentCancelled, reasonAuthorizationRevoked, model.ErrAlreadyCanceled
	}

	now := s.opts.Clock()
	err := s.opts.Retry.persist(ctx, func(ctx context.Context) error {
		return s.repo.CancelClaim(ctx, order.ID, providerID, paymentStatus, reason, now)
	})
	if err != nil && !s.alreadyApplied(ctx, order.ID, err, func(o *model.Order) bool {
		return o.Status == model.OrderStatusCancelled &&
			o.PaymentStatus == paymentStatus &&
			o.AssignedProviderID == nil
	}) {
		return s.intervene(order.ID, providerID, "cancel claim failed", err)
	}

	if paymentStatus == model.PaymentStatusAuthorizationExpired {
		if err := s.notifier.OrderAuthorizationExpired(ctx, notify.ExpiredEvent{
			OrderID:   order.ID,
			ClientID:  order.ClientID,
			Amount:    order.ProposedAmount,
			ExpiredAt: now,
		}); err != nil {
			s.log.Warn("notify authorization expired failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	s.opts.Metrics.RecordAssignment(string(outcome))
	return &model.AssignmentResult{
		OrderID:    order.ID,
		ProviderID: providerID,
		Outcome:    outcome,
		Reason:     reason,
	}, fmt.Errorf("order %s cancelled: %w", order.ID, sentinel)
}

// alreadyApplied 写入已生效但确认丢失时，重试会命中 0 行
// 重新读取订单，已处于目标状态即视为写入成功
func (s *AssignmentService) alreadyApplied(ctx context.Context, orderID string, err error, reached func(o *model.Order) bool) bool {
	if !errors.Is(err, repository.ErrPreconditionFailed) {
		return false
	}
	order, getErr := s.repo.GetByID(ctx, orderID)
	if getErr != nil {
		s.log.Warn("reload order after precondition failure failed", zap.String("order_id", orderID), zap.Error(getErr))
		return false
	}
	if !reached(order) {
		return false
	}
	s.log.Info("order already in target state, treating retried write as applied",
		zap.String("order_id", orderID),
		zap.String("status", string(order.Status)),
		zap.String("payment_status", string(order.PaymentStatus)),
	)
	return true
}

// intervene 无法安全补偿：订单保持在最后一致状态，等待人工处理
func (s *AssignmentService) intervene(orderID, providerID, reason string, cause error) (*model.AssignmentResult, error) {
	s.opts.Metrics.RecordAssignment(string(model.AssignmentNeedsIntervention))
	s.log.Error("assignment compensation failed",
		zap.String("order_id", orderID),
		zap.String("provider_id", providerID),
		zap.String("reason", reason),
		zap.Bool("needs_manual_intervention", true),
		zap.Error(cause),
	)
	result := &model.AssignmentResult{
		OrderID:    orderID,
		ProviderID: providerID,
		Outcome:    model.AssignmentNeedsIntervention,
		Reason:     reason,
	}
	if cause == nil {
		return result, fmt.Errorf("%w: order %s: %s", model.ErrCompensationFailed, orderID, reason)
	}
	return result, fmt.Errorf("%w: order %s: %s: %w", model.ErrCompensationFailed, orderID, reason, cause)
}
