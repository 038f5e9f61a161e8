package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"
)

// RetryPolicy 网关调用的超时与退避重试策略
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p RetryPolicy) next(backoff time.Duration) time.Duration {
	backoff *= 2
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// sleep 等待 d，ctx 取消时返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// do 执行一次网关调用，每次尝试使用独立的超时
// 只有 ErrGatewayUnavailable 会被重试，其余错误立即返回
func (p RetryPolicy) do(ctx context.Context, onRetry func(attempt int, err error), call func(ctx context.Context) error) error {
	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		// 单次调用超时视为瞬时错误
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !model.IsRetryable(err) {
			err = fmt.Errorf("%w: %w", model.ErrGatewayUnavailable, err)
		}
		if !model.IsRetryable(err) || attempt >= p.attempts() {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if !sleep(ctx, backoff) {
			return err
		}
		backoff = p.next(backoff)
	}
}

// persist 重试存储写入，前置条件不满足或记录不存在时不重试
func (p RetryPolicy) persist(ctx context.Context, write func(ctx context.Context) error) error {
	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := write(ctx)
		if err == nil ||
			errors.Is(err, repository.ErrPreconditionFailed) ||
			errors.Is(err, model.ErrOrderNotFound) ||
			attempt >= p.attempts() {
			return err
		}
		if !sleep(ctx, backoff) {
			return err
		}
		backoff = p.next(backoff)
	}
}
