package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crmflow/internal/models"
	"crmflow/pkg/logger"
	"crmflow/pkg/queue"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// runControl 进行中运行的取消控制
type runControl struct {
	cancelled atomic.Bool
}

// ActionExecutor 动作执行器
// 按 ordering 串行执行动作链，落库运行与动作记录，推送运行事件
type ActionExecutor struct {
	db         *gorm.DB
	catalog    *ActionCatalog
	handlers   *HandlerRegistry
	evaluator  *ConditionEvaluator
	resolver   *PlaceholderResolver
	queue      *queue.RedisQueue
	slaMonitor *SLAMonitor

	runTimeout    time.Duration
	actionTimeout time.Duration // 0表示按动作延迟等级推导

	controls sync.Map // runID -> *runControl
}

// NewActionExecutor 创建动作执行器
func NewActionExecutor(db *gorm.DB, redisQueue *queue.RedisQueue) *ActionExecutor {
	return &ActionExecutor{
		db:         db,
		catalog:    GetActionCatalog(),
		handlers:   NewHandlerRegistry(redisQueue),
		evaluator:  NewConditionEvaluator(),
		resolver:   NewPlaceholderResolver(),
		queue:      redisQueue,
		runTimeout: 600 * time.Second,
	}
}

// SetSLAMonitor 挂接SLA监控器，运行到达终态后回调
func (e *ActionExecutor) SetSLAMonitor(monitor *SLAMonitor) {
	e.slaMonitor = monitor
}

// SetTimeouts 设置运行级与动作级超时
func (e *ActionExecutor) SetTimeouts(runTimeout, actionTimeout time.Duration) {
	if runTimeout > 0 {
		e.runTimeout = runTimeout
	}
	e.actionTimeout = actionTimeout
}

// StartRun 创建运行记录并异步执行动作链
// 幂等约束由 (trigger_id, correlation_id) 唯一索引兜底，冲突时返回错误
func (e *ActionExecutor) StartRun(workflow *models.Workflow, trigger *models.Trigger, correlationID string, eventType string, eventContext map[string]interface{}) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{
		TenantID:      workflow.TenantID,
		RunID:         uuid.New().String(),
		WorkflowID:    workflow.ID,
		TriggerID:     trigger.ID,
		EventType:     eventType,
		CorrelationID: correlationID,
		Context:       models.MustJSON(eventContext),
		Status:        models.RunStatusRunning,
		StartTime:     time.Now(),
	}

	if e.db != nil {
		if err := e.db.Create(run).Error; err != nil {
			return nil, fmt.Errorf("创建运行记录失败: %v", err)
		}
	}

	var actions []models.Action
	if e.db != nil {
		if err := e.db.Where("workflow_id = ?", workflow.ID).Order("ordering ASC").Find(&actions).Error; err != nil {
			return nil, fmt.Errorf("加载动作列表失败: %v", err)
		}
	} else {
		actions = workflow.Actions
	}

	go e.ExecuteRun(run, workflow, actions, eventContext)

	return run, nil
}

// ExecuteRun 同步执行一次运行（StartRun内部在goroutine中调用，测试可直接调用）
func (e *ActionExecutor) ExecuteRun(run *models.WorkflowRun, workflow *models.Workflow, actions []models.Action, eventContext map[string]interface{}) []models.WorkflowActionRun {
	control := &runControl{}
	e.controls.Store(run.RunID, control)
	defer e.controls.Delete(run.RunID)

	e.publishRunEvent(run, 0, "运行开始")

	actionRuns := e.runActions(run, workflow, actions, eventContext, control)

	now := time.Now()
	run.EndTime = &now
	run.DurationMs = now.Sub(run.StartTime).Milliseconds()

	if e.db != nil {
		if err := e.db.Model(run).Updates(map[string]interface{}{
			"status":      run.Status,
			"end_time":    run.EndTime,
			"duration_ms": run.DurationMs,
			"error_msg":   run.ErrorMsg,
		}).Error; err != nil {
			logger.GetLogger().WithError(err).Errorf("更新运行 %s 终态失败", run.RunID)
		}
	}

	e.publishRunEvent(run, 0, "运行结束: "+run.Status)
	e.updateWorkflowStats(workflow, run)

	if e.slaMonitor != nil {
		e.slaMonitor.OnRunCompleted(run)
	}

	logger.GetLogger().WithFields(map[string]interface{}{
		"run_id":      run.RunID,
		"workflow_id": run.WorkflowID,
		"status":      run.Status,
		"duration_ms": run.DurationMs,
	}).Info("工作流运行结束")

	return actionRuns
}

// runActions 串行执行动作链并决定运行终态
// 终态规则：
// - 有动作致命失败（allow_failure=false）→ failed，剩余动作标记cancelled
// - 仅有允许失败的动作失败 → partial_failure
// - 操作员取消 → cancelled，进行中动作自然结束但结果不再影响终态
// - 全部成功/跳过（含零动作）→ succeeded
func (e *ActionExecutor) runActions(run *models.WorkflowRun, workflow *models.Workflow, actions []models.Action, eventContext map[string]interface{}, control *runControl) []models.WorkflowActionRun {
	sort.Slice(actions, func(i, j int) bool { return actions[i].Ordering < actions[j].Ordering })

	runTimeout := e.runTimeout
	if workflow.RunTimeoutSeconds > 0 {
		runTimeout = time.Duration(workflow.RunTimeoutSeconds) * time.Second
	}
	deadline := run.StartTime.Add(runTimeout)

	// 执行上下文 = 事件上下文 + 已完成动作的输出（outputs.<ordering>）
	execContext := make(map[string]interface{}, len(eventContext)+1)
	for k, v := range eventContext {
		execContext[k] = v
	}
	outputs := make(map[string]interface{})
	execContext["outputs"] = outputs

	actionRuns := make([]models.WorkflowActionRun, 0, len(actions))
	fatalFailed := false
	sawFailure := false
	timedOut := false

	for i := range actions {
		action := &actions[i]
		ar := models.WorkflowActionRun{
			RunID:      run.ID,
			ActionID:   action.ID,
			ActionType: action.ActionType,
			Ordering:   action.Ordering,
			Status:     models.ActionRunStatusPending,
		}

		switch {
		case fatalFailed || timedOut:
			ar.Status = models.ActionRunStatusCancelled
		case control.cancelled.Load():
			ar.Status = models.ActionRunStatusCancelled
		case time.Now().After(deadline):
			timedOut = true
			ar.Status = models.ActionRunStatusCancelled
		default:
			e.executeAction(run, action, &ar, execContext, outputs, deadline)
			if ar.Status == models.ActionRunStatusFailed {
				if action.AllowFailure {
					sawFailure = true
				} else {
					fatalFailed = true
					run.ErrorMsg = fmt.Sprintf("动作 %d(%s) 失败: %s", action.Ordering, action.ActionType, ar.ErrorMsg)
				}
			}
			// 取消发生在动作执行期间时，该动作结果保留但不影响终态
		}

		e.saveActionRun(&ar)
		actionRuns = append(actionRuns, ar)
	}

	switch {
	case control.cancelled.Load():
		run.Status = models.RunStatusCancelled
		if run.ErrorMsg == "" {
			run.ErrorMsg = "运行被操作员取消"
		}
	case timedOut:
		run.Status = models.RunStatusFailed
		run.ErrorMsg = fmt.Sprintf("运行超时（超过%s）", runTimeout)
	case fatalFailed:
		run.Status = models.RunStatusFailed
	case sawFailure:
		run.Status = models.RunStatusPartialFailure
	default:
		run.Status = models.RunStatusSucceeded
	}

	return actionRuns
}

// executeAction 执行单个动作：守卫判断、载荷解析、处理器调用、超时控制
func (e *ActionExecutor) executeAction(run *models.WorkflowRun, action *models.Action, ar *models.WorkflowActionRun, execContext map[string]interface{}, outputs map[string]interface{}, runDeadline time.Time) {
	// 守卫条件为false时跳过，不算失败
	guard, err := ParseCondition(action.Guard)
	if err != nil {
		ar.Status = models.ActionRunStatusFailed
		ar.ErrorMsg = fmt.Sprintf("守卫条件解析失败: %v", err)
		return
	}
	if guard != nil {
		pass, err := e.evaluator.Evaluate(guard, execContext)
		if err != nil {
			ar.Status = models.ActionRunStatusFailed
			ar.ErrorMsg = fmt.Sprintf("守卫条件求值失败: %v", err)
			return
		}
		if !pass {
			ar.Status = models.ActionRunStatusSkipped
			return
		}
	}

	entry, ok := e.catalog.Get(action.ActionType)
	if !ok {
		ar.Status = models.ActionRunStatusFailed
		ar.ErrorMsg = fmt.Sprintf("未注册的动作类型: %s", action.ActionType)
		return
	}
	handler, ok := e.handlers.Get(action.ActionType)
	if !ok {
		ar.Status = models.ActionRunStatusFailed
		ar.ErrorMsg = fmt.Sprintf("动作类型 %s 没有处理器", action.ActionType)
		return
	}

	// 载荷占位符解析：未解析的占位符降级为空值并告警，不阻断执行
	var template map[string]interface{}
	if err := action.Payload.Unmarshal(&template); err != nil {
		ar.Status = models.ActionRunStatusFailed
		ar.ErrorMsg = fmt.Sprintf("载荷模板解析失败: %v", err)
		return
	}
	payload, warnings := e.resolver.ResolveTemplate(template, execContext)
	for _, w := range warnings {
		logger.GetLogger().Warnf("运行 %s 动作 %d: %s", run.RunID, action.Ordering, w)
	}
	ar.ResolvedPayload = models.MustJSON(payload)

	payload[payloadMetaKey] = map[string]interface{}{
		"tenant_id": run.TenantID,
		"run_id":    run.RunID,
	}

	// 单动作超时：配置值或延迟等级上界，且不超过运行剩余预算
	timeout := entry.Latency.TimeoutBound()
	if e.actionTimeout > 0 {
		timeout = e.actionTimeout
	}
	if remaining := time.Until(runDeadline); remaining < timeout {
		timeout = remaining
	}
	if timeout <= 0 {
		ar.Status = models.ActionRunStatusCancelled
		return
	}

	now := time.Now()
	ar.StartTime = &now
	ar.Status = models.ActionRunStatusRunning
	e.publishRunEvent(run, action.Ordering, "动作开始: "+action.ActionType)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type handlerReturn struct {
		result *HandlerResult
		err    error
	}
	done := make(chan handlerReturn, 1)
	go func() {
		result, err := handler.Execute(ctx, payload)
		done <- handlerReturn{result: result, err: err}
	}()

	var result *HandlerResult
	select {
	case ret := <-done:
		if ret.err != nil {
			result = &HandlerResult{Success: false, Error: ret.err.Error()}
		} else {
			result = ret.result
		}
	case <-ctx.Done():
		result = &HandlerResult{Success: false, Error: fmt.Sprintf("动作超时（超过%s）", timeout)}
	}

	end := time.Now()
	ar.EndTime = &end
	ar.DurationMs = end.Sub(*ar.StartTime).Milliseconds()

	if result != nil && result.Success {
		ar.Status = models.ActionRunStatusSucceeded
		if result.Output != nil {
			ar.Output = models.MustJSON(result.Output)
			outputs[fmt.Sprintf("%d", action.Ordering)] = result.Output
		}
	} else {
		ar.Status = models.ActionRunStatusFailed
		if result != nil {
			ar.ErrorMsg = result.Error
		}
	}

	e.publishRunEvent(run, action.Ordering, "动作结束: "+ar.Status)
}

// Cancel 取消一次进行中的运行
// 进行中的动作允许自然结束，后续动作标记为cancelled
func (e *ActionExecutor) Cancel(runID string) error {
	value, ok := e.controls.Load(runID)
	if !ok {
		return fmt.Errorf("运行 %s 不存在或已结束", runID)
	}
	value.(*runControl).cancelled.Store(true)
	logger.GetLogger().Infof("运行 %s 收到取消请求", runID)
	return nil
}

// IsRunning 判断运行是否仍在执行中
func (e *ActionExecutor) IsRunning(runID string) bool {
	_, ok := e.controls.Load(runID)
	return ok
}

// saveActionRun 落库动作运行记录
func (e *ActionExecutor) saveActionRun(ar *models.WorkflowActionRun) {
	if e.db == nil {
		return
	}
	if err := e.db.Create(ar).Error; err != nil {
		logger.GetLogger().WithError(err).Errorf("保存动作运行记录失败 action_id=%d", ar.ActionID)
	}
}

// publishRunEvent 推送运行状态事件
func (e *ActionExecutor) publishRunEvent(run *models.WorkflowRun, ordering int, message string) {
	if e.queue == nil {
		return
	}
	if err := e.queue.PublishRunEvent(&queue.RunEvent{
		RunID:      run.RunID,
		TenantID:   run.TenantID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		Ordering:   ordering,
		Message:    message,
	}); err != nil {
		logger.GetLogger().WithError(err).Debug("推送运行事件失败")
	}
}

// updateWorkflowStats 更新工作流执行统计
func (e *ActionExecutor) updateWorkflowStats(workflow *models.Workflow, run *models.WorkflowRun) {
	if e.db == nil {
		return
	}

	updates := map[string]interface{}{
		"last_run_at": run.StartTime,
		"run_count":   gorm.Expr("run_count + 1"),
	}
	switch run.Status {
	case models.RunStatusSucceeded:
		updates["success_count"] = gorm.Expr("success_count + 1")
	case models.RunStatusFailed, models.RunStatusPartialFailure:
		updates["failure_count"] = gorm.Expr("failure_count + 1")
	}
	// 滑动平均：avg = avg + (duration - avg) / (run_count + 1)
	updates["avg_duration_ms"] = gorm.Expr("avg_duration_ms + (? - avg_duration_ms) / (run_count + 1)", run.DurationMs)

	if err := e.db.Model(&models.Workflow{}).Where("id = ?", workflow.ID).Updates(updates).Error; err != nil {
		logger.GetLogger().WithError(err).Errorf("更新工作流 %d 统计失败", workflow.ID)
	}
}
