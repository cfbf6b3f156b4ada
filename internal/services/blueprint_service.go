package services

import (
	"fmt"

	"crmflow/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 蓝图结构版本，结构变更时递增
const BlueprintSchemaVersion = 1

// TriggerBlueprint 触发器导出结构
type TriggerBlueprint struct {
	Name      string      `json:"name"`
	EventType string      `json:"event_type"`
	Condition models.JSON `json:"condition,omitempty"`
	Priority  int         `json:"priority"`
	IsActive  bool        `json:"is_active"`
	CronExpr  string      `json:"cron_expr,omitempty"`
}

// ActionBlueprint 动作导出结构
type ActionBlueprint struct {
	Name         string      `json:"name"`
	ActionType   string      `json:"action_type"`
	Ordering     int         `json:"ordering"`
	Payload      models.JSON `json:"payload,omitempty"`
	Guard        models.JSON `json:"guard,omitempty"`
	AllowFailure bool        `json:"allow_failure"`
}

// WorkflowBlueprint 工作流蓝图
// 导出后可跨租户/跨环境导入，配置无损往返（画布布局一并携带）
type WorkflowBlueprint struct {
	SchemaVersion int `json:"schema_version"`

	Name              string      `json:"name"`
	Code              string      `json:"code"`
	Description       string      `json:"description,omitempty"`
	RunTimeoutSeconds int         `json:"run_timeout_seconds"`
	Layout            models.JSON `json:"layout,omitempty"`

	Triggers []TriggerBlueprint `json:"triggers"`
	Actions  []ActionBlueprint  `json:"actions"`
}

// BlueprintService 工作流蓝图导入导出
type BlueprintService struct {
	db         *gorm.DB
	simulation *SimulationEngine
}

// NewBlueprintService 创建蓝图服务
func NewBlueprintService(db *gorm.DB) *BlueprintService {
	return &BlueprintService{
		db:         db,
		simulation: NewSimulationEngine(db),
	}
}

// Export 导出工作流为蓝图
func (s *BlueprintService) Export(tenantID, workflowID uint) (*WorkflowBlueprint, error) {
	var workflow models.Workflow
	err := s.db.Where("tenant_id = ?", tenantID).
		Preload("Triggers", func(db *gorm.DB) *gorm.DB { return db.Order("priority ASC, id ASC") }).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("ordering ASC") }).
		First(&workflow, workflowID).Error
	if err != nil {
		return nil, fmt.Errorf("工作流不存在")
	}

	blueprint := &WorkflowBlueprint{
		SchemaVersion:     BlueprintSchemaVersion,
		Name:              workflow.Name,
		Code:              workflow.Code,
		Description:       workflow.Description,
		RunTimeoutSeconds: workflow.RunTimeoutSeconds,
		Layout:            models.JSON(workflow.Layout),
	}

	for _, trigger := range workflow.Triggers {
		blueprint.Triggers = append(blueprint.Triggers, TriggerBlueprint{
			Name:      trigger.Name,
			EventType: trigger.EventType,
			Condition: trigger.Condition,
			Priority:  trigger.Priority,
			IsActive:  trigger.IsActive,
			CronExpr:  trigger.CronExpr,
		})
	}
	for _, action := range workflow.Actions {
		blueprint.Actions = append(blueprint.Actions, ActionBlueprint{
			Name:         action.Name,
			ActionType:   action.ActionType,
			Ordering:     action.Ordering,
			Payload:      action.Payload,
			Guard:        action.Guard,
			AllowFailure: action.AllowFailure,
		})
	}

	return blueprint, nil
}

// Import 从蓝图导入工作流
// 导入前走与激活相同的配置校验；导入后的工作流为未激活状态
func (s *BlueprintService) Import(tenantID, userID uint, blueprint *WorkflowBlueprint) (*models.Workflow, []string, error) {
	if blueprint.SchemaVersion != BlueprintSchemaVersion {
		return nil, nil, fmt.Errorf("不支持的蓝图版本: %d（当前支持 %d）", blueprint.SchemaVersion, BlueprintSchemaVersion)
	}
	if blueprint.Code == "" || blueprint.Name == "" {
		return nil, nil, fmt.Errorf("蓝图缺少name或code")
	}

	var count int64
	s.db.Model(&models.Workflow{}).Where("tenant_id = ? AND code = ?", tenantID, blueprint.Code).Count(&count)
	if count > 0 {
		return nil, nil, fmt.Errorf("工作流编码 %s 已存在", blueprint.Code)
	}

	workflow := s.buildWorkflow(tenantID, userID, blueprint)

	if problems := s.simulation.ValidateWorkflowConfig(workflow); len(problems) > 0 {
		return nil, problems, fmt.Errorf("蓝图配置校验未通过")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		triggers := workflow.Triggers
		actions := workflow.Actions
		workflow.Triggers = nil
		workflow.Actions = nil

		if err := tx.Create(workflow).Error; err != nil {
			return err
		}
		for i := range triggers {
			triggers[i].WorkflowID = workflow.ID
			if err := tx.Create(&triggers[i]).Error; err != nil {
				return err
			}
		}
		for i := range actions {
			actions[i].WorkflowID = workflow.ID
			if err := tx.Create(&actions[i]).Error; err != nil {
				return err
			}
		}
		workflow.Triggers = triggers
		workflow.Actions = actions
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("导入工作流失败: %v", err)
	}

	return workflow, nil, nil
}

// buildWorkflow 将蓝图还原为模型（未落库）
func (s *BlueprintService) buildWorkflow(tenantID, userID uint, blueprint *WorkflowBlueprint) *models.Workflow {
	workflow := &models.Workflow{
		TenantID:          tenantID,
		Name:              blueprint.Name,
		Code:              blueprint.Code,
		Description:       blueprint.Description,
		IsActive:          false,
		RunTimeoutSeconds: blueprint.RunTimeoutSeconds,
		Layout:            datatypes.JSON(blueprint.Layout),
		CreatedBy:         userID,
	}
	if workflow.RunTimeoutSeconds <= 0 {
		workflow.RunTimeoutSeconds = 600
	}

	for _, t := range blueprint.Triggers {
		trigger := models.Trigger{
			TenantID:  tenantID,
			Name:      t.Name,
			EventType: t.EventType,
			Condition: t.Condition,
			Priority:  t.Priority,
			IsActive:  t.IsActive,
			CronExpr:  t.CronExpr,
		}
		if trigger.Priority <= 0 {
			trigger.Priority = 100
		}
		workflow.Triggers = append(workflow.Triggers, trigger)
	}
	for _, a := range blueprint.Actions {
		workflow.Actions = append(workflow.Actions, models.Action{
			TenantID:     tenantID,
			Name:         a.Name,
			ActionType:   a.ActionType,
			Ordering:     a.Ordering,
			Payload:      a.Payload,
			Guard:        a.Guard,
			AllowFailure: a.AllowFailure,
		})
	}

	return workflow
}
