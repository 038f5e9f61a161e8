package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/notify"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type sweepOutcome int

const (
	sweepCancelled sweepOutcome = iota
	sweepSkipped
	sweepFailed
)

// ExpirySweeper 过期预授权清理
// 无状态，可随时重复运行，也可与抢单并发运行
type ExpirySweeper struct {
	repo       repository.OrderRepository
	cancel     *CancelService
	assignment *AssignmentService
	notifier   notify.Notifier
	opts       Options
	log        *zap.Logger
}

func NewExpirySweeper(repo repository.OrderRepository, cancel *CancelService, assignment *AssignmentService, notifier notify.Notifier, opts Options) *ExpirySweeper {
	opts = opts.withDefaults()
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ExpirySweeper{
		repo:       repo,
		cancel:     cancel,
		assignment: assignment,
		notifier:   notifier,
		opts:       opts,
		log:        opts.Logger.With(zap.String("component", "expiry_sweeper")),
	}
}

// Run 释放 now 时刻已过期且无人抢占的预授权
// 单个订单失败只计数，不影响同批次其他订单；只有查询失败才返回 error
func (s *ExpirySweeper) Run(ctx context.Context, now time.Time) (*model.ExpiryResult, error) {
	orders, err := s.repo.FindExpiredAuthorizations(ctx, now, s.opts.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("find expired authorizations: %w", err)
	}

	result := &model.ExpiryResult{
		TotalProcessed: len(orders),
		Errors:         []model.OrderError{},
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.SweepConcurrency)

	for i := range orders {
		order := &orders[i]
		g.Go(func() error {
			outcome, err := s.expire(ctx, order, now)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case sweepCancelled:
				result.SuccessfulCancellations++
			case sweepSkipped:
				result.Skipped++
			case sweepFailed:
				result.FailedCancellations++
				result.Errors = append(result.Errors, model.OrderError{OrderID: order.ID, Error: err.Error()})
				s.log.Warn("expire authorization failed", zap.String("order_id", order.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].OrderID < result.Errors[j].OrderID })
	s.opts.Metrics.RecordSweep(result.SuccessfulCancellations, result.FailedCancellations, result.Skipped)
	s.log.Info("expiry sweep finished",
		zap.Time("now", now),
		zap.Int("total", result.TotalProcessed),
		zap.Int("cancelled", result.SuccessfulCancellations),
		zap.Int("failed", result.FailedCancellations),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *ExpirySweeper) expire(ctx context.Context, order *model.Order, now time.Time) (sweepOutcome, error) {
	if order.PaymentAuthorizationID == nil {
		return sweepFailed, model.ErrAuthorizationNotFound
	}

	res, err := s.cancel.Cancel(ctx, CancelRequest{
		AuthorizationID: *order.PaymentAuthorizationID,
		OrderID:         order.ID,
		Reason:          reasonAuthorizationExpired,
		CanceledBy:      model.CancelledBySystem,
	})
	if err != nil {
		return sweepFailed, err
	}
	if res.Status == model.AuthorizationCaptured {
		// 网关已扣款而订单仍未分配，需要人工核对
		return sweepFailed, fmt.Errorf("%w: gateway reports captured for unassigned order", model.ErrAlreadyCaptured)
	}

	var updated bool
	err = s.opts.Retry.persist(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.MarkAuthorizationExpired(ctx, order.ID, reasonAuthorizationExpired, now)
		return err
	})
	if err != nil {
		return sweepFailed, err
	}
	if !updated {
		return sweepSkipped, nil
	}

	if err := s.notifier.OrderAuthorizationExpired(ctx, notify.ExpiredEvent{
		OrderID:   order.ID,
		ClientID:  order.ClientID,
		Amount:    order.ProposedAmount,
		ExpiredAt: now,
	}); err != nil {
		s.log.Warn("notify authorization expired failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	return sweepCancelled, nil
}

// RecoverStaleClaims 收尾抢占后进程中断、长时间停留在 assigning 的订单
func (s *ExpirySweeper) RecoverStaleClaims(ctx context.Context, now time.Time) (*model.RecoveryResult, error) {
	orders, err := s.repo.FindStaleClaims(ctx, now.Add(-s.opts.StaleClaimAfter), s.opts.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("find stale claims: %w", err)
	}

	result := &model.RecoveryResult{
		TotalProcessed: len(orders),
		Errors:         []model.OrderError{},
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.SweepConcurrency)

	for i := range orders {
		order := &orders[i]
		g.Go(func() error {
			res, err := s.assignment.ResolveClaim(ctx, order)

			mu.Lock()
			defer mu.Unlock()
			outcome := model.AssignmentNeedsIntervention
			if res != nil {
				outcome = res.Outcome
			}
			switch outcome {
			case model.AssignmentAssigned:
				result.Committed++
			case model.AssignmentReverted:
				result.Released++
			case model.AssignmentExpired, model.AssignmentCancelled:
				result.Expired++
			default:
				result.Failed++
				msg := "unresolved"
				if err != nil {
					msg = err.Error()
				}
				result.Errors = append(result.Errors, model.OrderError{OrderID: order.ID, Error: msg})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].OrderID < result.Errors[j].OrderID })
	s.log.Info("stale claim recovery finished",
		zap.Int("total", result.TotalProcessed),
		zap.Int("committed", result.Committed),
		zap.Int("released", result.Released),
		zap.Int("expired", result.Expired),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
