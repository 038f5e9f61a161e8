package model

import (
	"time"

	baseModel "github.com/garrec-gildas/fourmiz-app-sub004/pkg/model"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单业务状态
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAssigning 已被某位 fourmiz 抢占，正在扣款
	OrderStatusAssigning  OrderStatus = "assigning"
	OrderStatusAssigned   OrderStatus = "assigned"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus 订单支付状态
type PaymentStatus string

const (
	PaymentStatusNone                 PaymentStatus = "none"
	PaymentStatusAuthorized           PaymentStatus = "authorized"
	PaymentStatusCaptured             PaymentStatus = "captured"
	PaymentStatusCanceled             PaymentStatus = "canceled"
	PaymentStatusAuthorizationExpired PaymentStatus = "authorization_expired"
)

// CancelledBySystem 过期清理任务写入的取消人
const CancelledBySystem = "system"

// Order 订单记录，支付状态的唯一事实来源
type Order struct {
	baseModel.BaseModel
	ClientID               string              `gorm:"type:varchar(64);not null;index" json:"clientId"`
	ProposedAmount         decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"proposedAmount"`
	Status                 OrderStatus         `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	PaymentStatus          PaymentStatus       `gorm:"type:varchar(32);not null;default:'none'" json:"paymentStatus"`
	PaymentAuthorizationID *string             `gorm:"type:varchar(128)" json:"paymentAuthorizationId,omitempty"`
	AuthorizationExpiresAt *time.Time          `json:"authorizationExpiresAt,omitempty"`
	AssignedProviderID     *string             `gorm:"type:varchar(64);index" json:"assignedProviderId,omitempty"`
	ClaimedAt              *time.Time          `json:"claimedAt,omitempty"`
	AssignedAt             *time.Time          `json:"assignedAt,omitempty"`
	CapturedAmount         decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"capturedAmount"`
	CancelledAt            *time.Time          `json:"cancelledAt,omitempty"`
	CancelledBy            *string             `gorm:"type:varchar(64)" json:"cancelledBy,omitempty"`
	CancellationReason     *string             `gorm:"type:varchar(255)" json:"cancellationReason,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// IsAuthorizationLive 预授权在 now 时刻是否仍然有效
func (o *Order) IsAuthorizationLive(now time.Time) bool {
	return o.PaymentStatus == PaymentStatusAuthorized &&
		o.PaymentAuthorizationID != nil &&
		o.AuthorizationExpiresAt != nil &&
		o.AuthorizationExpiresAt.After(now)
}

// IsEligible 订单当前是否可被 fourmiz 抢占
func (o *Order) IsEligible(now time.Time) bool {
	return o.Status == OrderStatusPending && o.AssignedProviderID == nil && o.IsAuthorizationLive(now)
}

// AuthorizationStatus 网关侧预授权状态
type AuthorizationStatus string

const (
	AuthorizationRequiresAuthorization AuthorizationStatus = "requires_authorization"
	AuthorizationAuthorized            AuthorizationStatus = "authorized"
	AuthorizationCaptured              AuthorizationStatus = "captured"
	AuthorizationCanceled              AuthorizationStatus = "canceled"
	AuthorizationExpired               AuthorizationStatus = "expired"
)

// IsTerminal 是否为终态
func (s AuthorizationStatus) IsTerminal() bool {
	return s == AuthorizationCaptured || s == AuthorizationCanceled || s == AuthorizationExpired
}

// AuthorizationHandle 网关返回的预授权句柄
type AuthorizationHandle struct {
	ID             string              `json:"id"`
	OrderID        string              `json:"orderId"`
	Amount         decimal.Decimal     `json:"amount"`
	CapturedAmount decimal.Decimal     `json:"capturedAmount"`
	Status         AuthorizationStatus `json:"status"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	CanCapture     bool                `json:"canCapture"`
}

// CaptureResult 扣款结果
type CaptureResult struct {
	AuthorizationID string              `json:"authorizationId"`
	OrderID         string              `json:"orderId"`
	ProviderID      string              `json:"providerId"`
	Amount          decimal.Decimal     `json:"amount"`
	Status          AuthorizationStatus `json:"status"`
	IdempotencyKey  string              `json:"idempotencyKey"`
	CapturedAt      time.Time           `json:"capturedAt"`
}

// CancelResult 释放预授权结果，重复释放返回相同结果
type CancelResult struct {
	AuthorizationID string              `json:"authorizationId"`
	OrderID         string              `json:"orderId"`
	Status          AuthorizationStatus `json:"status"`
	Reason          string              `json:"reason"`
	CanceledBy      string              `json:"canceledBy"`
}

// AssignmentOutcome 抢单结果
type AssignmentOutcome string

const (
	AssignmentAssigned    AssignmentOutcome = "assigned"
	AssignmentUnavailable AssignmentOutcome = "unavailable"
	// AssignmentReverted 扣款失败，订单已回到 pending
	AssignmentReverted AssignmentOutcome = "reverted"
	// AssignmentExpired 扣款失败且预授权已过期，订单已取消
	AssignmentExpired AssignmentOutcome = "expired"
	// AssignmentCancelled 扣款期间预授权已被释放，订单已取消
	AssignmentCancelled AssignmentOutcome = "cancelled"
	// AssignmentNeedsIntervention 无法确认网关状态，订单保持在最后一致状态
	AssignmentNeedsIntervention AssignmentOutcome = "needs_intervention"
)

// AssignmentResult 抢单结果
type AssignmentResult struct {
	OrderID        string            `json:"orderId"`
	ProviderID     string            `json:"providerId"`
	Outcome        AssignmentOutcome `json:"outcome"`
	CapturedAmount decimal.Decimal   `json:"capturedAmount"`
	AssignedAt     *time.Time        `json:"assignedAt,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// OrderError 批处理中单个订单的失败原因
type OrderError struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

// ExpiryResult 过期清理批次结果
type ExpiryResult struct {
	TotalProcessed          int          `json:"totalProcessed"`
	SuccessfulCancellations int          `json:"successfulCancellations"`
	FailedCancellations     int          `json:"failedCancellations"`
	Skipped                 int          `json:"skipped"`
	Errors                  []OrderError `json:"errors"`
}

// RecoveryResult 悬挂抢占恢复批次结果
type RecoveryResult struct {
	TotalProcessed int          `json:"totalProcessed"`
	Committed      int          `json:"committed"`
	Released       int          `json:"released"`
	Expired        int          `json:"expired"`
	Failed         int          `json:"failed"`
	Errors         []OrderError `json:"errors"`
}
