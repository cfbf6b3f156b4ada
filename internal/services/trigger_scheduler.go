package services

import (
	"fmt"
	"sync"
	"time"

	"crmflow/internal/models"
	"crmflow/pkg/logger"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// TriggerScheduler 定时触发调度器
// 为配置了cron表达式的触发器注册定时任务，到点投递 schedule.tick 合成事件
type TriggerScheduler struct {
	db         *gorm.DB
	dispatcher *EventDispatcher
	cron       *cron.Cron

	mu        sync.Mutex
	entries   map[uint]cron.EntryID // trigger_id -> cron entry
	workflows map[uint][]uint       // workflow_id -> trigger_ids
}

// NewTriggerScheduler 创建调度器（cron表达式为6字段，含秒）
func NewTriggerScheduler(db *gorm.DB, dispatcher *EventDispatcher) *TriggerScheduler {
	return &TriggerScheduler{
		db:         db,
		dispatcher: dispatcher,
		cron:       cron.New(cron.WithSeconds()),
		entries:    make(map[uint]cron.EntryID),
		workflows:  make(map[uint][]uint),
	}
}

// Start 启动调度器并恢复已激活工作流下的定时触发器
func (s *TriggerScheduler) Start() error {
	if s.db != nil {
		var triggers []models.Trigger
		err := s.db.Joins("JOIN workflows ON workflows.id = triggers.workflow_id").
			Where("triggers.cron_expr <> '' AND triggers.is_active = ? AND workflows.is_active = ?", true, true).
			Find(&triggers).Error
		if err != nil {
			return fmt.Errorf("加载定时触发器失败: %v", err)
		}
		for i := range triggers {
			if err := s.Register(&triggers[i]); err != nil {
				logger.GetLogger().WithError(err).Warnf("触发器 %d 定时注册失败", triggers[i].ID)
			}
		}
	}

	s.cron.Start()
	logger.GetLogger().Infof("定时触发调度器已启动，共 %d 个定时触发器", len(s.entries))
	return nil
}

// Stop 停止调度器，等待进行中的任务结束
func (s *TriggerScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.GetLogger().Info("定时触发调度器已停止")
}

// Register 注册（或重新注册）一个定时触发器
func (s *TriggerScheduler) Register(trigger *models.Trigger) error {
	if trigger.CronExpr == "" {
		return fmt.Errorf("触发器 %d 没有cron表达式", trigger.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[trigger.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, trigger.ID)
	}

	triggerID := trigger.ID
	entryID, err := s.cron.AddFunc(trigger.CronExpr, func() {
		s.fire(triggerID)
	})
	if err != nil {
		return fmt.Errorf("cron表达式不合法: %v", err)
	}

	s.entries[trigger.ID] = entryID
	s.workflows[trigger.WorkflowID] = append(s.workflows[trigger.WorkflowID], trigger.ID)
	logger.GetLogger().Infof("触发器 %d 已注册定时调度: %s", trigger.ID, trigger.CronExpr)
	return nil
}

// Unregister 移除一个定时触发器
func (s *TriggerScheduler) Unregister(triggerID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(triggerID)
}

// UnregisterWorkflow 移除某个工作流下的全部定时触发器（工作流停用时调用）
func (s *TriggerScheduler) UnregisterWorkflow(workflowID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, triggerID := range s.workflows[workflowID] {
		s.unregisterLocked(triggerID)
	}
	delete(s.workflows, workflowID)
}

func (s *TriggerScheduler) unregisterLocked(triggerID uint) {
	if entryID, ok := s.entries[triggerID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, triggerID)
	}
}

// fire 到点投递合成事件
// correlation_id带时间戳，每个tick各自幂等
func (s *TriggerScheduler) fire(triggerID uint) {
	var trigger models.Trigger
	if err := s.db.First(&trigger, triggerID).Error; err != nil {
		logger.GetLogger().WithError(err).Warnf("定时触发器 %d 已不存在，移除调度", triggerID)
		s.Unregister(triggerID)
		return
	}
	if !trigger.IsActive {
		return
	}

	now := time.Now()
	event := &Event{
		EventType:     models.EventTypeScheduleTick,
		CorrelationID: fmt.Sprintf("cron-%d-%d", triggerID, now.Unix()),
		Context: map[string]interface{}{
			"trigger_id":   trigger.ID,
			"workflow_id":  trigger.WorkflowID,
			"scheduled_at": now.Format(time.RFC3339),
		},
	}

	if _, err := s.dispatcher.DispatchToTrigger(&trigger, event); err != nil {
		logger.GetLogger().WithError(err).Warnf("定时触发器 %d 投递失败", triggerID)
	}
}
