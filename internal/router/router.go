package router

import (
	"crmflow/internal/handlers"
	"crmflow/internal/middleware"
	"crmflow/internal/services"

	"github.com/gin-gonic/gin"
)

// SetupRouter 设置路由
func SetupRouter() *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	registerRoutes(router)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine) {

	auth := middleware.NewAuthMiddleware(services.GetUserService())

	api := router.Group("/api/v1")
	{
		// 健康检查
		systemHandler := handlers.NewSystemHandler()
		api.GET("/health", systemHandler.Health)

		// 认证
		authHandler := handlers.NewAuthHandler(services.GetUserService())
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.GET("/me", auth.RequireLogin(), authHandler.Me)
		}

		// 工作流管理
		workflowHandler := handlers.NewWorkflowHandler(services.GetWorkflowService(), services.GetSimulationEngine())
		workflows := api.Group("/workflows", auth.RequireLogin())
		{
			workflows.POST("", auth.RequireAdmin(), workflowHandler.Create)
			workflows.GET("", workflowHandler.List)
			workflows.GET("/:id", workflowHandler.Get)
			workflows.PUT("/:id", auth.RequireAdmin(), workflowHandler.Update)
			workflows.DELETE("/:id", auth.RequireAdmin(), workflowHandler.Delete)

			// 激活/停用/模拟
			workflows.POST("/:id/activate", auth.RequireAdmin(), workflowHandler.Activate)
			workflows.POST("/:id/deactivate", auth.RequireAdmin(), workflowHandler.Deactivate)
			workflows.POST("/:id/simulate", workflowHandler.Simulate)

			// 触发器和动作
			workflows.POST("/:id/triggers", auth.RequireAdmin(), workflowHandler.CreateTrigger)
			workflows.POST("/:id/actions", auth.RequireAdmin(), workflowHandler.CreateAction)
		}

		triggers := api.Group("/triggers", auth.RequireLogin(), auth.RequireAdmin())
		{
			triggers.DELETE("/:trigger_id", workflowHandler.DeleteTrigger)
		}

		actions := api.Group("/actions", auth.RequireLogin(), auth.RequireAdmin())
		{
			actions.DELETE("/:action_id", workflowHandler.DeleteAction)
		}

		// 蓝图导入导出
		blueprintHandler := handlers.NewBlueprintHandler(services.GetBlueprintService())
		api.GET("/workflows/:id/blueprint", auth.RequireLogin(), blueprintHandler.Export)
		api.POST("/blueprints/import", auth.RequireLogin(), auth.RequireAdmin(), blueprintHandler.Import)

		// 事件投递
		eventHandler := handlers.NewEventHandler(services.GetEventDispatcher())
		api.POST("/events", auth.RequireLogin(), eventHandler.Dispatch)

		// 运行历史
		runHandler := handlers.NewRunHandler(services.GetRunService())
		runs := api.Group("/runs", auth.RequireLogin())
		{
			runs.GET("", runHandler.List)
			runs.GET("/:run_id", runHandler.Get)
			runs.POST("/:run_id/cancel", runHandler.Cancel)
		}

		// SLA管理
		slaHandler := handlers.NewSLAHandler(services.GetSLAService())
		slas := api.Group("/slas", auth.RequireLogin())
		{
			slas.POST("", auth.RequireAdmin(), slaHandler.Create)
			slas.GET("", slaHandler.List)
			slas.PUT("/:id", auth.RequireAdmin(), slaHandler.Update)
			slas.DELETE("/:id", auth.RequireAdmin(), slaHandler.Delete)
			slas.GET("/:id/slo", slaHandler.GetSLOStatus)
		}

		breaches := api.Group("/sla-breaches", auth.RequireLogin())
		{
			breaches.GET("", slaHandler.ListBreaches)
			breaches.POST("/:id/acknowledge", slaHandler.AcknowledgeBreach)
		}

		// 动作目录
		catalogHandler := handlers.NewCatalogHandler()
		api.GET("/action-catalog", auth.RequireLogin(), catalogHandler.List)

		// 运行事件实时推送（token走查询参数）
		wsHandler := handlers.NewWebSocketHandler(services.GetRunService())
		api.GET("/ws/runs/:run_id", wsHandler.RunEvents)
	}
}
