package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/notify"
	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/worker"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ModuleContext 模块初始化所需的上下文
type ModuleContext struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Router    gin.IRouter
	Logger    *zap.Logger
	Metrics   *metrics.PaymentMetrics
	Notifier  notify.Notifier
	Scheduler *worker.Scheduler
}

// Module 模块接口
type Module interface {
	Name() string

	// Init 依赖注入、路由注册、后台任务注册
	Init(ctx *ModuleContext) error

	// Priority 数字越小越先初始化
	Priority() int
}

var (
	mu             sync.Mutex
	moduleRegistry = make(map[string]Module)
)

// Register 注册模块，重复注册同名模块会覆盖
func Register(module Module) {
	mu.Lock()
	defer mu.Unlock()
	moduleRegistry[module.Name()] = module
}

// GetModules 按初始化顺序返回已注册模块
func GetModules() []Module {
	mu.Lock()
	defer mu.Unlock()

	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}
	sort.SliceStable(modules, func(i, j int) bool {
		if modules[i].Priority() != modules[j].Priority() {
			return modules[i].Priority() < modules[j].Priority()
		}
		return modules[i].Name() < modules[j].Name()
	})
	return modules
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	for _, module := range GetModules() {
		if err := module.Init(ctx); err != nil {
			return fmt.Errorf("init module %s: %w", module.Name(), err)
		}
	}
	return nil
}
