package models

import (
	"time"
)

// WorkflowSLA 工作流SLA配置
// 阈值针对单次运行时长，SLO按最近N次运行的滚动窗口评估
type WorkflowSLA struct {
	BaseModel
	TenantID   uint `gorm:"not null;index" json:"tenant_id"`
	WorkflowID uint `gorm:"not null;uniqueIndex" json:"workflow_id"` // 每个工作流最多一条生效SLA

	Name     string `gorm:"size:200;not null" json:"name"`
	IsActive bool   `gorm:"default:true;index" json:"is_active"`

	// 时长阈值（毫秒）
	TargetMs            int64 `gorm:"not null" json:"target_ms"`             // 目标时长，超出计入SLO但不产生违约记录
	WarningThresholdMs  int64 `gorm:"not null" json:"warning_threshold_ms"`  // 超出记 warning 违约
	CriticalThresholdMs int64 `gorm:"not null" json:"critical_threshold_ms"` // 超出记 critical 违约（覆盖warning，不重复）

	// SLO滚动窗口
	WindowSize       int     `gorm:"default:100" json:"window_size"`       // 最近N次运行
	SLOTargetPercent float64 `gorm:"default:99" json:"slo_target_percent"` // 达标百分比目标

	// 告警接收人（邮箱/用户标识列表）
	Recipients JSON `gorm:"type:jsonb" json:"recipients"`

	// 审计
	CreatedBy uint `gorm:"not null" json:"created_by"`
	UpdatedBy uint `json:"updated_by"`

	// 关联
	Workflow Workflow `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}

// TableName 指定表名
func (WorkflowSLA) TableName() string {
	return "workflow_slas"
}

// SLABreach SLA违约记录
// 除确认字段外不可变；确认只允许 未确认→已确认 单向流转
type SLABreach struct {
	BaseModel
	TenantID   uint `gorm:"not null;index" json:"tenant_id"`
	SLAID      uint `gorm:"not null;index" json:"sla_id"`
	WorkflowID uint `gorm:"not null;index" json:"workflow_id"`
	RunID      uint `gorm:"not null;uniqueIndex" json:"run_id"` // 同一次运行至多一条违约

	Severity string `gorm:"size:20;not null;index" json:"severity"` // warning/critical

	// 实际与目标（毫秒）
	ActualMs int64 `gorm:"not null" json:"actual_ms"`
	TargetMs int64 `gorm:"not null" json:"target_ms"`
	MarginMs int64 `gorm:"not null" json:"margin_ms"` // 超出幅度

	// 确认状态
	Acknowledged   bool       `gorm:"default:false;index" json:"acknowledged"`
	AcknowledgedBy *uint      `json:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`

	// 关联
	SLA      WorkflowSLA `gorm:"foreignKey:SLAID" json:"sla,omitempty"`
	Workflow Workflow    `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
	Run      WorkflowRun `gorm:"foreignKey:RunID" json:"run,omitempty"`
}

// TableName 指定表名
func (SLABreach) TableName() string {
	return "sla_breaches"
}

// 违约级别常量
const (
	BreachSeverityWarning  = "warning"
	BreachSeverityCritical = "critical"
)
