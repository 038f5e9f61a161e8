package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	baseModel "github.com/garrec-gildas/fourmiz-app-sub004/pkg/model"
)

const DriverSandbox = "sandbox"

// Operation 网关操作名，用于故障注入与调用计数
type Operation string

const (
	OpAuthorize Operation = "authorize"
	OpCapture   Operation = "capture"
	OpCancel    Operation = "cancel"
	OpStatus    Operation = "status"
)

type sandboxAuth struct {
	handle     model.AuthorizationHandle
	captureKey string
}

// Sandbox 进程内模拟网关
// 支持幂等键去重、按时钟过期、故障注入，供本地运行与测试使用
type Sandbox struct {
	mu      sync.Mutex
	now     func() time.Time
	auths   map[string]*sandboxAuth
	byKey   map[string]string
	faults  map[Operation][]error
	dropped map[Operation]int
	calls   map[Operation]int
	latency time.Duration
}

func NewSandbox(now func() time.Time) *Sandbox {
	if now == nil {
		now = time.Now
	}
	return &Sandbox{
		now:     now,
		auths:   make(map[string]*sandboxAuth),
		byKey:   make(map[string]string),
		faults:  make(map[Operation][]error),
		dropped: make(map[Operation]int),
		calls:   make(map[Operation]int),
	}
}

// FailNext 接下来 n 次 op 调用直接返回 err，不产生副作用
func (s *Sandbox) FailNext(op Operation, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults[op] = append(s.faults[op], err)
	}
}

// DropResponses 接下来 n 次 op 调用照常生效，但响应丢失 (返回 ErrGatewayUnavailable)
func (s *Sandbox) DropResponses(op Operation, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[op] += n
}

// SetLatency 每次调用的模拟延迟
func (s *Sandbox) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Calls op 被调用的次数 (含失败)
func (s *Sandbox) Calls(op Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Expire 立即把预授权置为过期，模拟网关侧提前失效
func (s *Sandbox) Expire(authorizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.auths[authorizationID]; ok && a.handle.Status == model.AuthorizationAuthorized {
		a.handle.Status = model.AuthorizationExpired
		a.handle.CanCapture = false
	}
}

// enter 计数、模拟延迟并取出注入的故障
func (s *Sandbox) enter(ctx context.Context, op Operation) error {
	s.mu.Lock()
	s.calls[op]++
	latency := s.latency
	var fault error
	if q := s.faults[op]; len(q) > 0 {
		fault = q[0]
		s.faults[op] = q[1:]
	}
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", model.ErrGatewayUnavailable, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrGatewayUnavailable, err)
	}
	return fault
}

// leave 在副作用生效后决定是否丢弃响应，调用方需持有锁
func (s *Sandbox) leave(op Operation) error {
	if s.dropped[op] > 0 {
		s.dropped[op]--
		return fmt.Errorf("%w: response lost", model.ErrGatewayUnavailable)
	}
	return nil
}

// reply 返回句柄副本，响应被丢弃时只返回错误，调用方需持有锁
func (s *Sandbox) reply(op Operation, h model.AuthorizationHandle) (*model.AuthorizationHandle, error) {
	if err := s.leave(op); err != nil {
		return nil, err
	}
	return &h, nil
}

// refresh 按当前时间推进过期状态，调用方需持有锁
func (s *Sandbox) refresh(a *sandboxAuth) {
	if a.handle.Status == model.AuthorizationAuthorized && !s.now().Before(a.handle.ExpiresAt) {
		a.handle.Status = model.AuthorizationExpired
		a.handle.CanCapture = false
	}
}

func (s *Sandbox) CreateAuthorization(ctx context.Context, req AuthorizeRequest) (*model.AuthorizationHandle, error) {
	if err := s.enter(ctx, OpAuthorize); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		a := s.auths[id]
		s.refresh(a)
		return s.reply(OpAuthorize, a.handle)
	}
	if !req.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	a := &sandboxAuth{handle: model.AuthorizationHandle{
		ID:         baseModel.NewID("auth_"),
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Status:     model.AuthorizationAuthorized,
		ExpiresAt:  req.ExpiresAt,
		CanCapture: true,
	}}
	s.auths[a.handle.ID] = a
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = a.handle.ID
	}
	return s.reply(OpAuthorize, a.handle)
}

func (s *Sandbox) Capture(ctx context.Context, req CaptureRequest) (*model.AuthorizationHandle, error) {
	if err := s.enter(ctx, OpCapture); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[req.AuthorizationID]
	if !ok {
		return nil, model.ErrAuthorizationNotFound
	}
	s.refresh(a)

	switch a.handle.Status {
	case model.AuthorizationCaptured:
		if req.IdempotencyKey != "" && req.IdempotencyKey == a.captureKey {
			return s.reply(OpCapture, a.handle)
		}
		return nil, model.ErrAlreadyCaptured
	case model.AuthorizationCanceled:
		return nil, model.ErrAlreadyCanceled
	case model.AuthorizationExpired:
		return nil, model.ErrAuthorizationExpired
	}

	if !req.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	if req.Amount.GreaterThan(a.handle.Amount) {
		return nil, model.ErrAmountExceedsAuthorized
	}

	a.handle.Status = model.AuthorizationCaptured
	a.handle.CapturedAmount = req.Amount
	a.handle.CanCapture = false
	a.captureKey = req.IdempotencyKey
	return s.reply(OpCapture, a.handle)
}

// Cancel 网关本身不保证幂等：重复释放返回 ErrAlreadyCanceled
func (s *Sandbox) Cancel(ctx context.Context, req CancelRequest) (*model.AuthorizationHandle, error) {
	if err := s.enter(ctx, OpCancel); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[req.AuthorizationID]
	if !ok {
		return nil, model.ErrAuthorizationNotFound
	}
	s.refresh(a)

	switch a.handle.Status {
	case model.AuthorizationCaptured:
		return nil, model.ErrAlreadyCaptured
	case model.AuthorizationCanceled:
		return nil, model.ErrAlreadyCanceled
	case model.AuthorizationExpired:
		return nil, model.ErrAuthorizationExpired
	}

	a.handle.Status = model.AuthorizationCanceled
	a.handle.CanCapture = false
	return s.reply(OpCancel, a.handle)
}

func (s *Sandbox) GetStatus(ctx context.Context, authorizationID string) (*model.AuthorizationHandle, error) {
	if err := s.enter(ctx, OpStatus); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[authorizationID]
	if !ok {
		return nil, model.ErrAuthorizationNotFound
	}
	s.refresh(a)
	return s.reply(OpStatus, a.handle)
}

var _ Gateway = (*Sandbox)(nil)
