package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/notify"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/push"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/registry"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/database"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/logger"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app 进程级依赖
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	module   *registry.ModuleContext
	closers  []func()
}

// bootstrap 加载配置并建立外部连接
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.Init(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{cfg: cfg, log: log, registry: reg}

	db, err := database.InitDatabase(cfg.Database, cfg.App.Debug, log)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}

	rdb, err := database.InitRedis(ctx, cfg.Redis, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	a.module = &registry.ModuleContext{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Logger:   log,
		Metrics:  metrics.NewPaymentMetrics(reg),
		Notifier: a.notifier(),
	}
	return a, nil
}

// notifier 通知通道均为可选，连接失败只记日志
func (a *app) notifier() notify.Notifier {
	var multi notify.Multi

	if a.cfg.RabbitMQ.URL != "" {
		n, err := notify.DialAMQP(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.Exchange)
		if err != nil {
			a.log.Warn("rabbitmq unavailable, order events will not be published", zap.Error(err))
		} else {
			a.closers = append(a.closers, n.Close)
			multi = append(multi, n)
		}
	}

	p, err := push.NewAliyunPushService(a.cfg.Push)
	switch {
	case errors.Is(err, push.ErrNotConfigured):
		a.log.Info("push not configured")
	case err != nil:
		a.log.Warn("init aliyun push failed", zap.Error(err))
	default:
		multi = append(multi, notify.NewPushNotifier(p))
	}

	if len(multi) == 0 {
		return notify.Nop{}
	}
	return multi
}

// close 逆序释放资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	logger.Sync()
}
