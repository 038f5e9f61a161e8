package repository

import (
	"context"
	"errors"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrPreconditionFailed 条件更新未命中任何行：订单已被其他写入者改变
var ErrPreconditionFailed = errors.New("order precondition failed")

// OrderRepository 订单记录存储
// 所有状态迁移都是带前置条件的条件更新 (CAS)，不存在无条件覆盖写
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)

	// MarkAuthorized none -> authorized
	MarkAuthorized(ctx context.Context, id, authorizationID string, expiresAt, now time.Time) error

	// ClaimForAssignment pending+authorized+未分配+未过期 -> assigning，返回是否抢占成功
	ClaimForAssignment(ctx context.Context, id, providerID string, now time.Time) (bool, error)
	// CommitCapture assigning -> assigned/captured
	CommitCapture(ctx context.Context, id, providerID string, amount decimal.Decimal, now time.Time) error
	// ReleaseClaim assigning -> pending，清空抢占者
	ReleaseClaim(ctx context.Context, id, providerID string, now time.Time) error
	// CancelClaim assigning -> cancelled，用于扣款失败时预授权已失效的场景
	CancelClaim(ctx context.Context, id, providerID string, paymentStatus model.PaymentStatus, reason string, now time.Time) error

	// MarkAuthorizationExpired 过期清理：authorized+未分配+已过期 -> cancelled/authorization_expired
	MarkAuthorizationExpired(ctx context.Context, id, reason string, now time.Time) (bool, error)
	// MarkCancelled 人工/客户取消：pending+authorized+未分配 -> cancelled/canceled
	MarkCancelled(ctx context.Context, id, cancelledBy, reason string, now time.Time) (bool, error)

	FindExpiredAuthorizations(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
	FindStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]model.Order, error)
	ListEligible(ctx context.Context, now time.Time, offset, limit int) ([]model.Order, int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// casUpdate 条件更新，RowsAffected == 0 视为前置条件不满足
func (r *orderRepository) casUpdate(ctx context.Context, updates map[string]interface{}, query string, args ...interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where(query, args...).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func mustAffect(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return ErrPreconditionFailed
	}
	return nil
}

func (r *orderRepository) MarkAuthorized(ctx context.Context, id, authorizationID string, expiresAt, now time.Time) error {
	return mustAffect(r.casUpdate(ctx, map[string]interface{}{
		"payment_authorization_id": authorizationID,
		"payment_status":           string(model.PaymentStatusAuthorized),
		"authorization_expires_at": expiresAt,
		"updated_at":               now,
	}, "id = ? AND payment_status = ?", id, string(model.PaymentStatusNone)))
}

func (r *orderRepository) ClaimForAssignment(ctx context.Context, id, providerID string, now time.Time) (bool, error) {
	return r.casUpdate(ctx, map[string]interface{}{
		"status":               string(model.OrderStatusAssigning),
		"assigned_provider_id": providerID,
		"claimed_at":           now,
		"updated_at":           now,
	}, "id = ? AND status = ? AND payment_status = ? AND assigned_provider_id IS NULL AND authorization_expires_at > ?",
		id, string(model.OrderStatusPending), string(model.PaymentStatusAuthorized), now)
}

func (r *orderRepository) CommitCapture(ctx context.Context, id, providerID string, amount decimal.Decimal, now time.Time) error {
	return mustAffect(r.casUpdate(ctx, map[string]interface{}{
		"status":          string(model.OrderStatusAssigned),
		"payment_status":  string(model.PaymentStatusCaptured),
		"captured_amount": amount,
		"assigned_at":     now,
		"updated_at":      now,
	}, "id = ? AND status = ? AND assigned_provider_id = ? AND payment_status = ? AND proposed_amount >= ?",
		id, string(model.OrderStatusAssigning), providerID, string(model.PaymentStatusAuthorized), amount))
}

func (r *orderRepository) ReleaseClaim(ctx context.Context, id, providerID string, now time.Time) error {
	return mustAffect(r.casUpdate(ctx, map[string]interface{}{
		"status":               string(model.OrderStatusPending),
		"assigned_provider_id": nil,
		"claimed_at":           nil,
		"updated_at":           now,
	}, "id = ? AND status = ? AND assigned_provider_id = ?",
		id, string(model.OrderStatusAssigning), providerID))
}

func (r *orderRepository) CancelClaim(ctx context.Context, id, providerID string, paymentStatus model.PaymentStatus, reason string, now time.Time) error {
	return mustAffect(r.casUpdate(ctx, map[string]interface{}{
		"status":               string(model.OrderStatusCancelled),
		"payment_status":       string(paymentStatus),
		"assigned_provider_id": nil,
		"claimed_at":           nil,
		"cancelled_at":         now,
		"cancelled_by":         model.CancelledBySystem,
		"cancellation_reason":  reason,
		"updated_at":           now,
	}, "id = ? AND status = ? AND assigned_provider_id = ? AND payment_status = ?",
		id, string(model.OrderStatusAssigning), providerID, string(model.PaymentStatusAuthorized)))
}

func (r *orderRepository) MarkAuthorizationExpired(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	return r.casUpdate(ctx, map[string]interface{}{
		"status":              string(model.OrderStatusCancelled),
		"payment_status":      string(model.PaymentStatusAuthorizationExpired),
		"cancelled_at":        now,
		"cancelled_by":        model.CancelledBySystem,
		"cancellation_reason": reason,
		"updated_at":          now,
	}, "id = ? AND payment_status = ? AND authorization_expires_at < ? AND assigned_provider_id IS NULL",
		id, string(model.PaymentStatusAuthorized), now)
}

func (r *orderRepository) MarkCancelled(ctx context.Context, id, cancelledBy, reason string, now time.Time) (bool, error) {
	return r.casUpdate(ctx, map[string]interface{}{
		"status":              string(model.OrderStatusCancelled),
		"payment_status":      string(model.PaymentStatusCanceled),
		"cancelled_at":        now,
		"cancelled_by":        cancelledBy,
		"cancellation_reason": reason,
		"updated_at":          now,
	}, "id = ? AND status = ? AND payment_status = ? AND assigned_provider_id IS NULL",
		id, string(model.OrderStatusPending), string(model.PaymentStatusAuthorized))
}

func (r *orderRepository) FindExpiredAuthorizations(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND authorization_expires_at < ? AND assigned_provider_id IS NULL",
			string(model.PaymentStatusAuthorized), now).
		Order("authorization_expires_at").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) FindStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", string(model.OrderStatusAssigning), claimedBefore).
		Order("claimed_at").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) ListEligible(ctx context.Context, now time.Time, offset, limit int) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ? AND payment_status = ? AND assigned_provider_id IS NULL AND authorization_expires_at > ?",
			string(model.OrderStatusPending), string(model.PaymentStatusAuthorized), now).
		Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at").Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
