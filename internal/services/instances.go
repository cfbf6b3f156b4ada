package services

// 全局服务实例，启动时在main中初始化注入
var (
	globalUserService      *UserService
	globalWorkflowService  *WorkflowService
	globalRunService       *RunService
	globalSLAService       *SLAService
	globalBlueprintService *BlueprintService
	globalDispatcher       *EventDispatcher
	globalSimulation       *SimulationEngine
	globalExecutor         *ActionExecutor
	globalSLAMonitor       *SLAMonitor
	globalScheduler        *TriggerScheduler
)

// SetUserService 注入用户服务
func SetUserService(s *UserService) { globalUserService = s }

// GetUserService 获取用户服务
func GetUserService() *UserService { return globalUserService }

// SetWorkflowService 注入工作流服务
func SetWorkflowService(s *WorkflowService) { globalWorkflowService = s }

// GetWorkflowService 获取工作流服务
func GetWorkflowService() *WorkflowService { return globalWorkflowService }

// SetRunService 注入运行服务
func SetRunService(s *RunService) { globalRunService = s }

// GetRunService 获取运行服务
func GetRunService() *RunService { return globalRunService }

// SetSLAService 注入SLA服务
func SetSLAService(s *SLAService) { globalSLAService = s }

// GetSLAService 获取SLA服务
func GetSLAService() *SLAService { return globalSLAService }

// SetBlueprintService 注入蓝图服务
func SetBlueprintService(s *BlueprintService) { globalBlueprintService = s }

// GetBlueprintService 获取蓝图服务
func GetBlueprintService() *BlueprintService { return globalBlueprintService }

// SetEventDispatcher 注入事件分发器
func SetEventDispatcher(d *EventDispatcher) { globalDispatcher = d }

// GetEventDispatcher 获取事件分发器
func GetEventDispatcher() *EventDispatcher { return globalDispatcher }

// SetSimulationEngine 注入模拟引擎
func SetSimulationEngine(e *SimulationEngine) { globalSimulation = e }

// GetSimulationEngine 获取模拟引擎
func GetSimulationEngine() *SimulationEngine { return globalSimulation }

// SetActionExecutor 注入动作执行器
func SetActionExecutor(e *ActionExecutor) { globalExecutor = e }

// GetActionExecutor 获取动作执行器
func GetActionExecutor() *ActionExecutor { return globalExecutor }

// SetSLAMonitor 注入SLA监控器
func SetSLAMonitor(m *SLAMonitor) { globalSLAMonitor = m }

// GetSLAMonitor 获取SLA监控器
func GetSLAMonitor() *SLAMonitor { return globalSLAMonitor }

// SetTriggerScheduler 注入定时触发调度器
func SetTriggerScheduler(s *TriggerScheduler) { globalScheduler = s }

// GetTriggerScheduler 获取定时触发调度器
func GetTriggerScheduler() *TriggerScheduler { return globalScheduler }
