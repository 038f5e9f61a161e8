package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/middleware"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/response"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Authorizer 预授权创建与查询
type Authorizer interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	CreateAuthorization(ctx context.Context, orderID string, amount decimal.Decimal, validityDays int) (*model.AuthorizationHandle, error)
	GetStatus(ctx context.Context, orderID string) (*model.AuthorizationHandle, error)
}

// Assigner 抢单
type Assigner interface {
	Assign(ctx context.Context, orderID, providerID string) (*model.AssignmentResult, error)
	ListEligible(ctx context.Context, page utils.Pagination) (*utils.PageResult, error)
}

// Canceller 取消未接单订单
type Canceller interface {
	CancelOrder(ctx context.Context, orderID, reason, canceledBy string) (*model.CancelResult, error)
}

// Sweeper 过期清理与悬挂抢占恢复
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (*model.ExpiryResult, error)
	RecoverStaleClaims(ctx context.Context, now time.Time) (*model.RecoveryResult, error)
}

type PaymentHandler struct {
	auth   Authorizer
	assign Assigner
	cancel Canceller
	sweep  Sweeper
	now    func() time.Time
}

func NewPaymentHandler(auth Authorizer, assign Assigner, cancel Canceller, sweep Sweeper) *PaymentHandler {
	return &PaymentHandler{auth: auth, assign: assign, cancel: cancel, sweep: sweep, now: time.Now}
}

type CreateAuthorizationInput struct {
	Amount       string `json:"amount" binding:"required"`
	ValidityDays int    `json:"validityDays" binding:"omitempty,min=1,max=30"`
}

type CancelOrderInput struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// PaymentView 订单支付视图
type PaymentView struct {
	Order         *model.Order               `json:"order"`
	Authorization *model.AuthorizationHandle `json:"authorization,omitempty"`
}

// ListEligible 可抢订单列表
// @Summary 可抢订单列表
// @Tags Payment
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /orders/eligible [get]
func (h *PaymentHandler) ListEligible(c *gin.Context) {
	var page utils.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	result, err := h.assign.ListEligible(c.Request.Context(), page)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// GetPayment 订单支付状态
// @Summary 订单支付状态
// @Tags Payment
// @Produce json
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=PaymentView}
// @Router /orders/{id}/payment [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	view := PaymentView{Order: order}
	if order.PaymentAuthorizationID != nil {
		handle, err := h.auth.GetStatus(c.Request.Context(), order.ID)
		if err != nil && !errors.Is(err, model.ErrGatewayUnavailable) {
			writeError(c, err)
			return
		}
		// 网关不可达时只返回订单记录
		view.Authorization = handle
	}
	response.Success(c, view)
}

// CreateAuthorization 为订单创建预授权
// @Summary 创建预授权
// @Tags Payment
// @Accept json
// @Produce json
// @Param id path string true "订单ID"
// @Param input body CreateAuthorizationInput true "金额与有效天数"
// @Success 200 {object} response.Response{data=model.AuthorizationHandle}
// @Router /orders/{id}/authorization [post]
func (h *PaymentHandler) CreateAuthorization(c *gin.Context) {
	var input CreateAuthorizationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	amount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidAmount, "amount must be a decimal string")
		return
	}

	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	handle, err := h.auth.CreateAuthorization(c.Request.Context(), order.ID, amount, input.ValidityDays)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, handle)
}

// Assign fourmiz 抢单
// @Summary 抢单并扣款
// @Tags Payment
// @Produce json
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=model.AssignmentResult}
// @Router /orders/{id}/assign [post]
func (h *PaymentHandler) Assign(c *gin.Context) {
	providerID := c.GetString(middleware.ContextUserID)
	if providerID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	result, err := h.assign.Assign(c.Request.Context(), c.Param("id"), providerID)
	if err != nil {
		writeErrorWithData(c, err, result)
		return
	}
	response.Success(c, result)
}

// CancelOrder 取消未接单订单并释放预授权
// @Summary 取消订单
// @Tags Payment
// @Accept json
// @Produce json
// @Param id path string true "订单ID"
// @Param input body CancelOrderInput true "取消原因"
// @Success 200 {object} response.Response{data=model.CancelResult}
// @Router /orders/{id}/cancel [post]
func (h *PaymentHandler) CancelOrder(c *gin.Context) {
	var input CancelOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	result, err := h.cancel.CancelOrder(c.Request.Context(), order.ID, input.Reason, c.GetString(middleware.ContextUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RunExpirySweep 手动触发过期清理
// @Summary 手动触发过期清理
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Response{data=model.ExpiryResult}
// @Router /admin/payments/expiry-sweep [post]
func (h *PaymentHandler) RunExpirySweep(c *gin.Context) {
	result, err := h.sweep.Run(c.Request.Context(), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// RecoverStaleClaims 手动收尾悬挂的抢占
// @Summary 收尾悬挂抢占
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Response{data=model.RecoveryResult}
// @Router /admin/payments/stale-claims [post]
func (h *PaymentHandler) RecoverStaleClaims(c *gin.Context) {
	result, err := h.sweep.RecoverStaleClaims(c.Request.Context(), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ownedOrder 读取订单，客户只能操作自己的订单
func (h *PaymentHandler) ownedOrder(c *gin.Context) (*model.Order, bool) {
	order, err := h.auth.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if c.GetString(middleware.ContextRole) == utils.RoleClient &&
		order.ClientID != c.GetString(middleware.ContextUserID) {
		response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Permission denied")
		return nil, false
	}
	return order, true
}
