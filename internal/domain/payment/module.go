package payment

import (
	"context"
	"errors"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/gateway"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/handler"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/idempotency"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/repository"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/service"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/middleware"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/notify"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/registry"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PaymentModule 预授权、抢单扣款与过期清理
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	return 20
}

// Services 支付领域服务集合，HTTP 与命令行共用
type Services struct {
	Authorization *service.AuthorizationService
	Capture       *service.CaptureService
	Cancel        *service.CancelService
	Assignment    *service.AssignmentService
	Sweeper       *service.ExpirySweeper
}

// Build 依赖注入
func Build(ctx *registry.ModuleContext) (*Services, error) {
	if ctx.Config == nil || ctx.DB == nil {
		return nil, errors.New("payment module requires config and database")
	}
	if ctx.Redis == nil {
		return nil, errors.New("payment module requires redis for capture idempotency")
	}

	log := ctx.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var notifier notify.Notifier = notify.Nop{}
	if ctx.Notifier != nil {
		notifier = ctx.Notifier
	}

	gw, err := gateway.New(ctx.Config.Gateway)
	if err != nil {
		return nil, err
	}

	opts := service.OptionsFromConfig(ctx.Config, log.Named("payment"), ctx.Metrics)
	repo := repository.NewOrderRepository(ctx.DB)
	store := idempotency.NewRedisStore(ctx.Redis, ctx.Config.Idempotency.TTL)

	s := &Services{
		Authorization: service.NewAuthorizationService(repo, gw, opts),
		Capture:       service.NewCaptureService(repo, gw, store, opts),
		Cancel:        service.NewCancelService(repo, gw, opts),
	}
	s.Assignment = service.NewAssignmentService(repo, s.Capture, s.Cancel, notifier, opts)
	s.Sweeper = service.NewExpirySweeper(repo, s.Cancel, s.Assignment, notifier, opts)
	return s, nil
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	s, err := Build(ctx)
	if err != nil {
		return err
	}

	if ctx.Router != nil {
		h := handler.NewPaymentHandler(s.Authorization, s.Assignment, s.Cancel, s.Sweeper)
		limiter := middleware.NewKeyedRateLimiter(rate.Limit(ctx.Config.RateLimit.AssignRPS), ctx.Config.RateLimit.AssignBurst)
		setupRoutes(ctx.Router, h, limiter)
	}

	if ctx.Scheduler != nil && ctx.Config.Sweeper.Enabled {
		interval := ctx.Config.Sweeper.Interval
		ctx.Scheduler.Every("expiry-sweep", interval, func(c context.Context, now time.Time) error {
			_, err := s.Sweeper.Run(c, now)
			return err
		})
		ctx.Scheduler.Every("stale-claims", interval, func(c context.Context, now time.Time) error {
			_, err := s.Sweeper.RecoverStaleClaims(c, now)
			return err
		})
	}
	return nil
}

func setupRoutes(r gin.IRouter, h *handler.PaymentHandler, limiter *middleware.KeyedRateLimiter) {
	orders := r.Group("/orders")
	orders.Use(middleware.AuthMiddleware())
	{
		orders.GET("/eligible", middleware.RequireRole(utils.RoleProvider, utils.RoleAdmin), h.ListEligible)
		orders.POST("/:id/assign", middleware.RequireRole(utils.RoleProvider), middleware.RateLimitMiddleware(limiter), h.Assign)

		owner := orders.Group("")
		owner.Use(middleware.RequireRole(utils.RoleClient, utils.RoleAdmin))
		owner.GET("/:id/payment", h.GetPayment)
		owner.POST("/:id/authorization", h.CreateAuthorization)
		owner.POST("/:id/cancel", h.CancelOrder)
	}

	admin := r.Group("/admin/payments")
	admin.Use(middleware.AuthMiddleware(), middleware.RequireRole(utils.RoleAdmin))
	{
		admin.POST("/expiry-sweep", h.RunExpirySweep)
		admin.POST("/stale-claims", h.RecoverStaleClaims)
	}
}
