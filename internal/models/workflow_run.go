package models

import (
	"time"
)

// WorkflowRun 工作流运行实例
// 每次 (触发器匹配, 事件) 生成一条；到达终态后不再变更
type WorkflowRun struct {
	BaseModel
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	// 运行标识
	RunID string `gorm:"size:36;not null;uniqueIndex" json:"run_id"`

	// 关联信息
	WorkflowID uint `gorm:"not null;index" json:"workflow_id"`
	TriggerID  uint `gorm:"not null;index;uniqueIndex:idx_trigger_correlation" json:"trigger_id"`

	// 触发事件
	EventType     string `gorm:"size:100;not null" json:"event_type"`
	CorrelationID string `gorm:"size:100;not null;uniqueIndex:idx_trigger_correlation" json:"correlation_id"` // 幂等键：同触发器同事件只运行一次
	Context       JSON   `gorm:"type:jsonb" json:"context"`                                                   // 事件上下文快照

	// 运行状态
	Status     string     `gorm:"size:20;not null;index" json:"status"` // running/succeeded/partial_failure/failed/cancelled
	StartTime  time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	DurationMs int64      `json:"duration_ms"` // 执行时长（毫秒）

	ErrorMsg string `gorm:"type:text" json:"error_msg"`

	// 关联
	Workflow   Workflow            `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
	Trigger    Trigger             `gorm:"foreignKey:TriggerID" json:"trigger,omitempty"`
	Tenant     Tenant              `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	ActionRuns []WorkflowActionRun `gorm:"foreignKey:RunID;references:ID" json:"action_runs,omitempty"`
}

// TableName 指定表名
func (WorkflowRun) TableName() string {
	return "workflow_runs"
}

// IsTerminal 判断运行是否已到达终态
func (r *WorkflowRun) IsTerminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusPartialFailure, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// WorkflowActionRun 动作运行记录
// 严格按 ordering 顺序创建，隶属于唯一一个 WorkflowRun
type WorkflowActionRun struct {
	BaseModel
	RunID    uint `gorm:"not null;index" json:"run_id"` // 关联 WorkflowRun.ID
	ActionID uint `gorm:"not null;index" json:"action_id"`

	ActionType string `gorm:"size:50;not null" json:"action_type"`
	Ordering   int    `gorm:"not null" json:"ordering"`

	Status   string `gorm:"size:20;not null" json:"status"` // pending/running/succeeded/failed/skipped/cancelled
	ErrorMsg string `gorm:"type:text" json:"error_msg"`

	ResolvedPayload JSON `gorm:"type:jsonb" json:"resolved_payload"` // 占位符解析后的载荷
	Output          JSON `gorm:"type:jsonb" json:"output"`           // 处理器返回的输出

	StartTime  *time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	DurationMs int64      `json:"duration_ms"`
}

// TableName 指定表名
func (WorkflowActionRun) TableName() string {
	return "workflow_action_runs"
}

// 运行状态常量
const (
	RunStatusRunning        = "running"
	RunStatusSucceeded      = "succeeded"
	RunStatusPartialFailure = "partial_failure"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
)

// 动作运行状态常量
const (
	ActionRunStatusPending   = "pending"
	ActionRunStatusRunning   = "running"
	ActionRunStatusSucceeded = "succeeded"
	ActionRunStatusFailed    = "failed"
	ActionRunStatusSkipped   = "skipped"
	ActionRunStatusCancelled = "cancelled"
)
