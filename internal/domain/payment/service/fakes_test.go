package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/notify"
	baseModel "github.com/garrec-gildas/fourmiz-app-sub004/pkg/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memRepo 内存订单存储，每次条件更新在同一把锁内完成判断与写入
type memRepo struct {
	mu         sync.Mutex
	orders     map[string]*model.Order
	failWrites int
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[string]*model.Order)}
}

var errDBDown = errors.New("database unavailable")

func (r *memRepo) snapshot(id string) model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[id]
}

func (r *memRepo) failNextWrites(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrites = n
}

// cas 在锁内校验 pred 并执行 apply
func (r *memRepo) cas(id string, pred func(o *model.Order) bool, apply func(o *model.Order)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites > 0 {
		r.failWrites--
		return false, errDBDown
	}
	o, ok := r.orders[id]
	if !ok || !pred(o) {
		return false, nil
	}
	apply(o)
	return true, nil
}

func mustCAS(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrPreconditionFailed
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

func (r *memRepo) Create(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *order
	r.orders[order.ID] = &c
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (r *memRepo) MarkAuthorized(_ context.Context, id, authorizationID string, expiresAt, now time.Time) error {
	return mustCAS(r.cas(id, func(o *model.Order) bool {
		return o.PaymentStatus == model.PaymentStatusNone
	}, func(o *model.Order) {
		o.PaymentStatus = model.PaymentStatusAuthorized
		o.PaymentAuthorizationID = ptr(authorizationID)
		o.AuthorizationExpiresAt = ptr(expiresAt)
		o.UpdatedAt = now
	}))
}

func (r *memRepo) ClaimForAssignment(_ context.Context, id, providerID string, now time.Time) (bool, error) {
	return r.cas(id, func(o *model.Order) bool {
		return o.Status == model.OrderStatusPending &&
			o.PaymentStatus == model.PaymentStatusAuthorized &&
			o.AssignedProviderID == nil &&
			o.AuthorizationExpiresAt != nil && o.AuthorizationExpiresAt.After(now)
	}, func(o *model.Order) {
		o.Status = model.OrderStatusAssigning
		o.AssignedProviderID = ptr(providerID)
		o.ClaimedAt = ptr(now)
		o.UpdatedAt = now
	})
}

func (r *memRepo) CommitCapture(_ context.Context, id, providerID string, amount decimal.Decimal, now time.Time) error {
	return mustCAS(r.cas(id, func(o *model.Order) bool {
		return o.Status == model.OrderStatusAssigning &&
			o.AssignedProviderID != nil && *o.AssignedProviderID == providerID &&
			o.PaymentStatus == model.PaymentStatusAuthorized &&
			o.ProposedAmount.GreaterThanOrEqual(amount)
	}, func(o *model.Order) {
		o.Status = model.OrderStatusAssigned
		o.PaymentStatus = model.PaymentStatusCaptured
		o.CapturedAmount = decimal.NewNullDecimal(amount)
		o.AssignedAt = ptr(now)
		o.UpdatedAt = now
	}))
}

func (r *memRepo) ReleaseClaim(_ context.Context, id, providerID string, now time.Time) error {
	return mustCAS(r.cas(id, func(o *model.Order) bool {
		return o.Status == model.OrderStatusAssigning &&
			o.AssignedProviderID != nil && *o.AssignedProviderID == providerID
	}, func(o *model.Order) {
		o.Status = model.OrderStatusPending
		o.AssignedProviderID = nil
		o.ClaimedAt = nil
		o.UpdatedAt = now
	}))
}

func (r *memRepo) CancelClaim(_ context.Context, id, providerID string, paymentStatus model.PaymentStatus, reason string, now time.Time) error {
	return mustCAS(r.cas(id, func(o *model.Order) bool {
		return o.Status == model.OrderStatusAssigning &&
			o.AssignedProviderID != nil && *o.AssignedProviderID == providerID &&
			o.PaymentStatus == model.PaymentStatusAuthorized
	}, func(o *model.Order) {
		o.Status = model.OrderStatusCancelled
		o.PaymentStatus = paymentStatus
		o.AssignedProviderID = nil
		o.ClaimedAt = nil
		o.CancelledAt = ptr(now)
		o.CancelledBy = ptr(model.CancelledBySystem)
		o.CancellationReason = ptr(reason)
		o.UpdatedAt = now
	}))
}

func (r *memRepo) MarkAuthorizationExpired(_ context.Context, id, reason string, now time.Time) (bool, error) {
	return r.cas(id, func(o *model.Order) bool {
		return expiredCandidate(o, now)
	}, func(o *model.Order) {
		o.Status = model.OrderStatusCancelled
		o.PaymentStatus = model.PaymentStatusAuthorizationExpired
		o.CancelledAt = ptr(now)
		o.CancelledBy = ptr(model.CancelledBySystem)
		o.CancellationReason = ptr(reason)
		o.UpdatedAt = now
	})
}

func (r *memRepo) MarkCancelled(_ context.Context, id, cancelledBy, reason string, now time.Time) (bool, error) {
	return r.cas(id, func(o *model.Order) bool {
		return o.Status == model.OrderStatusPending &&
			o.PaymentStatus == model.PaymentStatusAuthorized &&
			o.AssignedProviderID == nil
	}, func(o *model.Order) {
		o.Status = model.OrderStatusCancelled
		o.PaymentStatus = model.PaymentStatusCanceled
		o.CancelledAt = ptr(now)
		o.CancelledBy = ptr(cancelledBy)
		o.CancellationReason = ptr(reason)
		o.UpdatedAt = now
	})
}

func expiredCandidate(o *model.Order, now time.Time) bool {
	return o.PaymentStatus == model.PaymentStatusAuthorized &&
		o.AuthorizationExpiresAt != nil && o.AuthorizationExpiresAt.Before(now) &&
		o.AssignedProviderID == nil
}

func (r *memRepo) find(pred func(o *model.Order) bool, less func(a, b *model.Order) bool, limit int) []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Order
	for _, o := range r.orders {
		if pred(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memRepo) FindExpiredAuthorizations(_ context.Context, now time.Time, limit int) ([]model.Order, error) {
	return r.find(func(o *model.Order) bool { return expiredCandidate(o, now) },
		func(a, b *model.Order) bool { return a.AuthorizationExpiresAt.Before(*b.AuthorizationExpiresAt) }, limit), nil
}

func (r *memRepo) FindStaleClaims(_ context.Context, claimedBefore time.Time, limit int) ([]model.Order, error) {
	return r.find(func(o *model.Order) bool {
		return o.Status == model.OrderStatusAssigning && o.ClaimedAt != nil && o.ClaimedAt.Before(claimedBefore)
	}, func(a, b *model.Order) bool { return a.ClaimedAt.Before(*b.ClaimedAt) }, limit), nil
}

func (r *memRepo) ListEligible(_ context.Context, now time.Time, offset, limit int) ([]model.Order, int64, error) {
	all := r.find(func(o *model.Order) bool { return o.IsEligible(now) },
		func(a, b *model.Order) bool { return a.CreatedAt.Before(b.CreatedAt) }, 0)
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Order{}, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

type memStore struct {
	mu      sync.Mutex
	results map[string]model.CaptureResult
}

func newMemStore() *memStore {
	return &memStore{results: make(map[string]model.CaptureResult)}
}

func (s *memStore) Get(_ context.Context, key string) (*model.CaptureResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *memStore) Put(_ context.Context, key string, result *model.CaptureResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[key]; !ok {
		s.results[key] = *result
	}
	return nil
}

type spyNotifier struct {
	mu       sync.Mutex
	assigned []notify.AssignedEvent
	expired  []notify.ExpiredEvent
}

func (n *spyNotifier) OrderAssigned(_ context.Context, e notify.AssignedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, e)
	return nil
}

func (n *spyNotifier) OrderAuthorizationExpired(_ context.Context, e notify.ExpiredEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, e)
	return nil
}

type testEnv struct {
	clock    *fakeClock
	repo     *memRepo
	gw       *gateway.Sandbox
	store    *memStore
	notifier *spyNotifier

	auth    *AuthorizationService
	capture *CaptureService
	cancel  *CancelService
	assign  *AssignmentService
	sweeper *ExpirySweeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRepo(t, nil)
}

// newTestEnvWithRepo wrap 非空时服务使用包装后的存储，env.repo 仍指向底层内存存储
func newTestEnvWithRepo(t *testing.T, wrap func(*memRepo) repository.OrderRepository) *testEnv {
	t.Helper()
	clock := &fakeClock{now: t0}
	env := &testEnv{
		clock:    clock,
		repo:     newMemRepo(),
		gw:       gateway.NewSandbox(clock.Now),
		store:    newMemStore(),
		notifier: &spyNotifier{},
	}
	opts := Options{
		Retry:            RetryPolicy{MaxAttempts: 3, CallTimeout: time.Second},
		MaxAmount:        decimal.RequireFromString("5000.00"),
		SweepConcurrency: 4,
		StaleClaimAfter:  10 * time.Minute,
		PageSize:         1,
		MaxPageSize:      2,
		Clock:            clock.Now,
	}
	var repo repository.OrderRepository = env.repo
	if wrap != nil {
		repo = wrap(env.repo)
	}
	env.auth = NewAuthorizationService(repo, env.gw, opts)
	env.capture = NewCaptureService(repo, env.gw, env.store, opts)
	env.cancel = NewCancelService(repo, env.gw, opts)
	env.assign = NewAssignmentService(repo, env.capture, env.cancel, env.notifier, opts)
	env.sweeper = NewExpirySweeper(repo, env.cancel, env.assign, env.notifier, opts)
	return env
}

// seedOrder 新建 payment_status=none 的订单
func (e *testEnv) seedOrder(t *testing.T, id, amount string) {
	t.Helper()
	require.NoError(t, e.repo.Create(context.Background(), &model.Order{
		BaseModel:      baseModel.BaseModel{ID: id, CreatedAt: e.clock.Now()},
		ClientID:       "client-" + id,
		ProposedAmount: decimal.RequireFromString(amount),
		Status:         model.OrderStatusPending,
		PaymentStatus:  model.PaymentStatusNone,
	}))
}

// authorizedOrder 新建订单并在当前时间发起 7 天预授权
func (e *testEnv) authorizedOrder(t *testing.T, id, amount string) *model.AuthorizationHandle {
	t.Helper()
	e.seedOrder(t, id, amount)
	h, err := e.auth.CreateAuthorization(context.Background(), id, decimal.RequireFromString(amount), 7)
	require.NoError(t, err)
	return h
}

// ackLossRepo 指定的写入照常生效，但确认丢失，向调用方返回 errDBDown
type ackLossRepo struct {
	*memRepo
	mu   sync.Mutex
	lose map[string]int
}

func (r *ackLossRepo) lost(op string, err error) error {
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lose[op] > 0 {
		r.lose[op]--
		return errDBDown
	}
	return nil
}

func (r *ackLossRepo) CommitCapture(ctx context.Context, id, providerID string, amount decimal.Decimal, now time.Time) error {
	return r.lost("commit", r.memRepo.CommitCapture(ctx, id, providerID, amount, now))
}

func (r *ackLossRepo) ReleaseClaim(ctx context.Context, id, providerID string, now time.Time) error {
	return r.lost("release", r.memRepo.ReleaseClaim(ctx, id, providerID, now))
}

func (r *ackLossRepo) CancelClaim(ctx context.Context, id, providerID string, paymentStatus model.PaymentStatus, reason string, now time.Time) error {
	return r.lost("cancel_claim", r.memRepo.CancelClaim(ctx, id, providerID, paymentStatus, reason, now))
}
