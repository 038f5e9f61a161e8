package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/garrec-gildas/fourmiz-app-sub004/docs"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/middleware"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/registry"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/worker"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// @title Fourmiz Payment API
// @version 1.0
// @description 预授权、抢单扣款与过期清理
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func runServe(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	gin.SetMode(a.cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:   []string{middleware.HeaderRequestID},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware(metrics.NewMetricsCollector(a.registry)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	scheduler := worker.NewScheduler(a.log.Named("scheduler"))
	a.module.Router = r.Group("/api/v1")
	a.module.Scheduler = scheduler
	if err := registry.InitModules(a.module); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	scheduler.Start(bgCtx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			cancelBg()
			scheduler.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// 进行中的清理批次自行收尾，调度器不再触发新批次
	cancelBg()
	scheduler.Wait()
	return err
}
