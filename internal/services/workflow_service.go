package services

import (
	"errors"
	"fmt"

	"crmflow/internal/models"
	"crmflow/pkg/logger"

	"gorm.io/gorm"
)

// WorkflowService 工作流及其触发器/动作的管理
type WorkflowService struct {
	db         *gorm.DB
	simulation *SimulationEngine
	scheduler  *TriggerScheduler
}

// NewWorkflowService 创建工作流服务
func NewWorkflowService(db *gorm.DB) *WorkflowService {
	return &WorkflowService{
		db:         db,
		simulation: NewSimulationEngine(db),
	}
}

// SetScheduler 挂接定时触发调度器，触发器变更时同步注册
func (s *WorkflowService) SetScheduler(scheduler *TriggerScheduler) {
	s.scheduler = scheduler
}

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	Name              string                 `json:"name" binding:"required"`
	Code              string                 `json:"code" binding:"required"`
	Description       string                 `json:"description"`
	RunTimeoutSeconds int                    `json:"run_timeout_seconds"`
	Layout            map[string]interface{} `json:"layout"`
}

// Create 创建工作流，初始为未激活
func (s *WorkflowService) Create(tenantID, userID uint, req *CreateWorkflowRequest) (*models.Workflow, error) {
	var count int64
	s.db.Model(&models.Workflow{}).Where("tenant_id = ? AND code = ?", tenantID, req.Code).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("工作流编码 %s 已存在", req.Code)
	}

	workflow := &models.Workflow{
		TenantID:          tenantID,
		Name:              req.Name,
		Code:              req.Code,
		Description:       req.Description,
		RunTimeoutSeconds: req.RunTimeoutSeconds,
		Layout:            []byte(models.MustJSON(req.Layout)),
		CreatedBy:         userID,
	}
	if workflow.RunTimeoutSeconds <= 0 {
		workflow.RunTimeoutSeconds = 600
	}

	if err := s.db.Create(workflow).Error; err != nil {
		return nil, fmt.Errorf("创建工作流失败: %v", err)
	}
	return workflow, nil
}

// UpdateWorkflowRequest 更新工作流请求
type UpdateWorkflowRequest struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	RunTimeoutSeconds int                    `json:"run_timeout_seconds"`
	Layout            map[string]interface{} `json:"layout"`
}

// Update 更新工作流基本信息
func (s *WorkflowService) Update(tenantID, workflowID, userID uint, req *UpdateWorkflowRequest) (*models.Workflow, error) {
	workflow, err := s.GetByID(tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		workflow.Name = req.Name
	}
	if req.Description != "" {
		workflow.Description = req.Description
	}
	if req.RunTimeoutSeconds > 0 {
		workflow.RunTimeoutSeconds = req.RunTimeoutSeconds
	}
	if req.Layout != nil {
		workflow.Layout = []byte(models.MustJSON(req.Layout))
	}
	workflow.UpdatedBy = userID
	workflow.Version++

	if err := s.db.Save(workflow).Error; err != nil {
		return nil, fmt.Errorf("更新工作流失败: %v", err)
	}
	return workflow, nil
}

// GetByID 按ID查询工作流（租户隔离）
func (s *WorkflowService) GetByID(tenantID, workflowID uint) (*models.Workflow, error) {
	var workflow models.Workflow
	err := s.db.Where("tenant_id = ?", tenantID).First(&workflow, workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("工作流不存在")
	}
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// GetDetail 查询工作流及其触发器/动作
func (s *WorkflowService) GetDetail(tenantID, workflowID uint) (*models.Workflow, error) {
	var workflow models.Workflow
	err := s.db.Where("tenant_id = ?", tenantID).
		Preload("Triggers", func(db *gorm.DB) *gorm.DB { return db.Order("priority ASC, id ASC") }).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("ordering ASC") }).
		First(&workflow, workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("工作流不存在")
	}
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// List 列出租户下的工作流
func (s *WorkflowService) List(tenantID uint, keyword string, isActive *bool, page, pageSize int) ([]models.Workflow, int64, error) {
	var workflows []models.Workflow
	var total int64

	query := s.db.Model(&models.Workflow{}).Where("tenant_id = ?", tenantID)
	if keyword != "" {
		query = query.Where("name LIKE ? OR code LIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&workflows).Error
	return workflows, total, err
}

// Delete 删除工作流及其触发器/动作（激活中的不允许删除）
func (s *WorkflowService) Delete(tenantID, workflowID uint) error {
	workflow, err := s.GetByID(tenantID, workflowID)
	if err != nil {
		return err
	}
	if workflow.IsActive {
		return fmt.Errorf("激活中的工作流不能删除，请先停用")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workflow_id = ?", workflowID).Delete(&models.Trigger{}).Error; err != nil {
			return err
		}
		if err := tx.Where("workflow_id = ?", workflowID).Delete(&models.Action{}).Error; err != nil {
			return err
		}
		return tx.Delete(workflow).Error
	})
}

// Activate 激活工作流
// 激活前做完整配置校验，任何结构问题都阻断激活并返回问题清单
func (s *WorkflowService) Activate(tenantID, workflowID, userID uint) ([]string, error) {
	workflow, err := s.GetDetail(tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	problems := s.simulation.ValidateWorkflowConfig(workflow)
	if len(problems) > 0 {
		return problems, fmt.Errorf("工作流配置校验未通过")
	}

	workflow.IsActive = true
	workflow.UpdatedBy = userID
	if err := s.db.Model(workflow).Updates(map[string]interface{}{
		"is_active":  true,
		"updated_by": userID,
	}).Error; err != nil {
		return nil, fmt.Errorf("激活工作流失败: %v", err)
	}

	s.syncSchedules(workflow)
	logger.GetLogger().Infof("工作流 %d(%s) 已激活", workflow.ID, workflow.Code)
	return nil, nil
}

// Deactivate 停用工作流
// 停用只阻止新运行，进行中的运行继续执行到终态
func (s *WorkflowService) Deactivate(tenantID, workflowID, userID uint) error {
	workflow, err := s.GetByID(tenantID, workflowID)
	if err != nil {
		return err
	}

	if err := s.db.Model(workflow).Updates(map[string]interface{}{
		"is_active":  false,
		"updated_by": userID,
	}).Error; err != nil {
		return fmt.Errorf("停用工作流失败: %v", err)
	}

	if s.scheduler != nil {
		s.scheduler.UnregisterWorkflow(workflowID)
	}
	logger.GetLogger().Infof("工作流 %d(%s) 已停用", workflow.ID, workflow.Code)
	return nil
}

// syncSchedules 同步工作流下定时触发器的调度注册
func (s *WorkflowService) syncSchedules(workflow *models.Workflow) {
	if s.scheduler == nil {
		return
	}
	for i := range workflow.Triggers {
		trigger := &workflow.Triggers[i]
		if trigger.CronExpr != "" && trigger.IsActive {
			if err := s.scheduler.Register(trigger); err != nil {
				logger.GetLogger().WithError(err).Warnf("触发器 %d 定时注册失败", trigger.ID)
			}
		}
	}
}

// CreateTriggerRequest 创建触发器请求
type CreateTriggerRequest struct {
	Name      string                 `json:"name" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Condition map[string]interface{} `json:"condition"`
	Priority  int                    `json:"priority"`
	CronExpr  string                 `json:"cron_expr"`
}

// CreateTrigger 为工作流新增触发器
func (s *WorkflowService) CreateTrigger(tenantID, workflowID uint, req *CreateTriggerRequest) (*models.Trigger, error) {
	workflow, err := s.GetByID(tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	condition := models.MustJSON(req.Condition)
	if parsed, err := ParseCondition(condition); err != nil {
		return nil, err
	} else if parsed != nil {
		if problems := NewConditionEvaluator().ValidateCondition(parsed); len(problems) > 0 {
			return nil, fmt.Errorf("条件树不合法: %v", problems)
		}
	}

	trigger := &models.Trigger{
		TenantID:   tenantID,
		WorkflowID: workflow.ID,
		Name:       req.Name,
		EventType:  req.EventType,
		Condition:  condition,
		Priority:   req.Priority,
		IsActive:   true,
		CronExpr:   req.CronExpr,
	}
	if trigger.Priority <= 0 {
		trigger.Priority = 100
	}

	if err := s.db.Create(trigger).Error; err != nil {
		return nil, fmt.Errorf("创建触发器失败: %v", err)
	}

	if workflow.IsActive && trigger.CronExpr != "" && s.scheduler != nil {
		if err := s.scheduler.Register(trigger); err != nil {
			logger.GetLogger().WithError(err).Warnf("触发器 %d 定时注册失败", trigger.ID)
		}
	}
	return trigger, nil
}

// DeleteTrigger 删除触发器
func (s *WorkflowService) DeleteTrigger(tenantID, triggerID uint) error {
	var trigger models.Trigger
	err := s.db.Where("tenant_id = ?", tenantID).First(&trigger, triggerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("触发器不存在")
	}
	if err != nil {
		return err
	}

	if s.scheduler != nil {
		s.scheduler.Unregister(trigger.ID)
	}
	return s.db.Delete(&trigger).Error
}

// CreateActionRequest 创建动作请求
type CreateActionRequest struct {
	Name         string                 `json:"name" binding:"required"`
	ActionType   string                 `json:"action_type" binding:"required"`
	Ordering     int                    `json:"ordering" binding:"required,min=1"`
	Payload      map[string]interface{} `json:"payload"`
	Guard        map[string]interface{} `json:"guard"`
	AllowFailure bool                   `json:"allow_failure"`
}

// CreateAction 为工作流新增动作
func (s *WorkflowService) CreateAction(tenantID, workflowID uint, req *CreateActionRequest) (*models.Action, error) {
	workflow, err := s.GetByID(tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	if !GetActionCatalog().Has(req.ActionType) {
		return nil, fmt.Errorf("未注册的动作类型: %s", req.ActionType)
	}

	var count int64
	s.db.Model(&models.Action{}).Where("workflow_id = ? AND ordering = ?", workflowID, req.Ordering).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("ordering %d 已被占用", req.Ordering)
	}

	guard := models.MustJSON(req.Guard)
	if parsed, err := ParseCondition(guard); err != nil {
		return nil, err
	} else if parsed != nil {
		if problems := NewConditionEvaluator().ValidateCondition(parsed); len(problems) > 0 {
			return nil, fmt.Errorf("守卫条件不合法: %v", problems)
		}
	}

	action := &models.Action{
		TenantID:     tenantID,
		WorkflowID:   workflow.ID,
		Name:         req.Name,
		ActionType:   req.ActionType,
		Ordering:     req.Ordering,
		Payload:      models.MustJSON(req.Payload),
		Guard:        guard,
		AllowFailure: req.AllowFailure,
	}

	if err := s.db.Create(action).Error; err != nil {
		return nil, fmt.Errorf("创建动作失败: %v", err)
	}
	return action, nil
}

// DeleteAction 删除动作
func (s *WorkflowService) DeleteAction(tenantID, actionID uint) error {
	var action models.Action
	err := s.db.Where("tenant_id = ?", tenantID).First(&action, actionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("动作不存在")
	}
	if err != nil {
		return err
	}
	return s.db.Delete(&action).Error
}
