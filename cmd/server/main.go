package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmflow/internal/database"
	"crmflow/internal/router"
	"crmflow/internal/services"
	"crmflow/pkg/config"
	"crmflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting CRMFlow automation engine...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		if err := database.CloseRedisQueue(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 数据库迁移
	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 种子数据
	if err := seedData(); err != nil {
		appLogger.Fatalf("Failed to initialize seed data: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	db := database.GetDB()
	redisQueue := database.GetRedisQueue()

	// 组装引擎各部件（必须在路由初始化前）
	services.SetConditionMaxDepth(cfg.Engine.ConditionMaxDepth)
	executor := services.NewActionExecutor(db, redisQueue)
	executor.SetTimeouts(
		time.Duration(cfg.Engine.RunTimeoutSeconds)*time.Second,
		time.Duration(cfg.Engine.ActionTimeoutSeconds)*time.Second,
	)

	slaMonitor := services.NewSLAMonitor(db, redisQueue)
	executor.SetSLAMonitor(slaMonitor)

	matcher := services.NewTriggerMatcher(db)
	dispatcher := services.NewEventDispatcher(db, matcher, executor)

	scheduler := services.NewTriggerScheduler(db, dispatcher)
	workflowService := services.NewWorkflowService(db)
	workflowService.SetScheduler(scheduler)

	services.SetUserService(services.NewUserService(db))
	services.SetWorkflowService(workflowService)
	services.SetRunService(services.NewRunService(db, executor))
	services.SetSLAService(services.NewSLAService(db, slaMonitor))
	services.SetBlueprintService(services.NewBlueprintService(db))
	services.SetEventDispatcher(dispatcher)
	services.SetSimulationEngine(services.NewSimulationEngine(db))
	services.SetActionExecutor(executor)
	services.SetSLAMonitor(slaMonitor)
	services.SetTriggerScheduler(scheduler)

	// 启动定时触发调度器
	if err := scheduler.Start(); err != nil {
		appLogger.Errorf("Failed to start trigger scheduler: %v", err)
		// 不影响主服务启动
	}
	defer scheduler.Stop()

	// 启动SLO巡检任务，重启后从运行历史恢复窗口
	slaMonitor.Sweep()
	sweeper := cron.New(cron.WithSeconds())
	if _, err := sweeper.AddFunc(cfg.Engine.SLOSweepCron, slaMonitor.Sweep); err != nil {
		appLogger.Errorf("Failed to schedule SLO sweep: %v", err)
	} else {
		sweeper.Start()
		defer sweeper.Stop()
	}

	// 设置路由
	r := router.SetupRouter()

	// 启动服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	if err := server.Close(); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
