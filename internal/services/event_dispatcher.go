package services

import (
	"fmt"

	"crmflow/internal/models"
	"crmflow/pkg/logger"

	"gorm.io/gorm"
)

// Event 业务事件
// correlation_id 是幂等键：同一触发器对同一correlation_id只运行一次
type Event struct {
	EventType     string                 `json:"event_type" binding:"required"`
	CorrelationID string                 `json:"correlation_id" binding:"required"`
	Context       map[string]interface{} `json:"context"`
}

// EventDispatcher 事件分发器
// 事件进来后走触发器匹配，为每个命中的触发器启动一次运行
type EventDispatcher struct {
	db       *gorm.DB
	matcher  *TriggerMatcher
	executor *ActionExecutor
}

// NewEventDispatcher 创建事件分发器
func NewEventDispatcher(db *gorm.DB, matcher *TriggerMatcher, executor *ActionExecutor) *EventDispatcher {
	return &EventDispatcher{
		db:       db,
		matcher:  matcher,
		executor: executor,
	}
}

// Dispatch 分发事件
// 返回本次启动的运行列表；重复投递的触发器跳过，不报错
func (d *EventDispatcher) Dispatch(tenantID uint, event *Event) ([]*models.WorkflowRun, error) {
	if event.EventType == "" || event.CorrelationID == "" {
		return nil, fmt.Errorf("事件缺少event_type或correlation_id")
	}

	matches, err := d.matcher.Match(tenantID, event.EventType, event.Context)
	if err != nil {
		return nil, err
	}

	var runs []*models.WorkflowRun
	for _, match := range matches {
		run, err := d.startForTrigger(&match.Workflow, &match.Trigger, event)
		if err != nil {
			logger.GetLogger().WithError(err).Warnf("触发器 %d 启动运行失败", match.Trigger.ID)
			continue
		}
		if run != nil {
			runs = append(runs, run)
		}
	}

	logger.GetLogger().WithFields(map[string]interface{}{
		"tenant_id":      tenantID,
		"event_type":     event.EventType,
		"correlation_id": event.CorrelationID,
		"matched":        len(matches),
		"started":        len(runs),
	}).Info("事件分发完成")

	return runs, nil
}

// DispatchToTrigger 直接向指定触发器投递事件（定时触发器到点时使用，不走匹配）
func (d *EventDispatcher) DispatchToTrigger(trigger *models.Trigger, event *Event) (*models.WorkflowRun, error) {
	var workflow models.Workflow
	if d.db != nil {
		if err := d.db.First(&workflow, trigger.WorkflowID).Error; err != nil {
			return nil, fmt.Errorf("加载工作流失败: %v", err)
		}
		if !workflow.IsActive {
			return nil, nil
		}
	} else {
		workflow = trigger.Workflow
	}

	return d.startForTrigger(&workflow, trigger, event)
}

// startForTrigger 为单个触发器启动运行，含幂等检查
func (d *EventDispatcher) startForTrigger(workflow *models.Workflow, trigger *models.Trigger, event *Event) (*models.WorkflowRun, error) {
	if d.db != nil {
		var count int64
		if err := d.db.Model(&models.WorkflowRun{}).
			Where("trigger_id = ? AND correlation_id = ?", trigger.ID, event.CorrelationID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			logger.GetLogger().Debugf("触发器 %d 对 correlation_id=%s 已运行过，跳过", trigger.ID, event.CorrelationID)
			return nil, nil
		}
	}

	return d.executor.StartRun(workflow, trigger, event.CorrelationID, event.EventType, event.Context)
}
