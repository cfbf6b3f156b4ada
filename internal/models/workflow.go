package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Workflow 自动化工作流
type Workflow struct {
	BaseModel
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	// 基本信息
	Name        string `gorm:"size:200;not null" json:"name"`
	Code        string `gorm:"size:100;not null;uniqueIndex:idx_tenant_wf_code" json:"code"`
	Description string `gorm:"size:500" json:"description"`
	Version     int    `gorm:"default:1" json:"version"`
	IsActive    bool   `gorm:"default:false;index" json:"is_active"`

	// 设计器画布布局（蓝图导入导出时随触发器/动作一起往返）
	Layout datatypes.JSON `gorm:"type:jsonb" json:"layout"`

	// 执行配置
	RunTimeoutSeconds int `gorm:"default:600" json:"run_timeout_seconds"` // 运行级超时（秒）

	// 执行统计
	LastRunAt     *time.Time `json:"last_run_at"`
	RunCount      int64      `gorm:"default:0" json:"run_count"`
	SuccessCount  int64      `gorm:"default:0" json:"success_count"`
	FailureCount  int64      `gorm:"default:0" json:"failure_count"`
	AvgDurationMs int64      `gorm:"default:0" json:"avg_duration_ms"` // 平均执行时长（毫秒）

	// 审计
	CreatedBy uint `gorm:"not null" json:"created_by"`
	UpdatedBy uint `json:"updated_by"`

	// 关联
	Tenant   Tenant    `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	Triggers []Trigger `gorm:"foreignKey:WorkflowID" json:"triggers,omitempty"`
	Actions  []Action  `gorm:"foreignKey:WorkflowID" json:"actions,omitempty"`
}

// TableName 指定表名
func (Workflow) TableName() string {
	return "workflows"
}

// Trigger 工作流触发器
type Trigger struct {
	BaseModel
	TenantID   uint `gorm:"not null;index" json:"tenant_id"`
	WorkflowID uint `gorm:"not null;index" json:"workflow_id"`

	Name      string `gorm:"size:200;not null" json:"name"`
	EventType string `gorm:"size:100;not null;index" json:"event_type"` // 如 record.created / stage.changed
	Condition JSON   `gorm:"type:jsonb" json:"condition"`               // 条件树JSON，空表示无条件匹配
	Priority  int    `gorm:"default:100" json:"priority"`               // 数字越小越先评估
	IsActive  bool   `gorm:"default:true;index" json:"is_active"`

	// 定时触发（可选）：cron表达式，到点投递 schedule.tick 合成事件
	CronExpr string `gorm:"size:100" json:"cron_expr"`

	// 关联
	Workflow Workflow `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}

// TableName 指定表名
func (Trigger) TableName() string {
	return "triggers"
}

// Action 工作流动作
type Action struct {
	BaseModel
	TenantID   uint `gorm:"not null;index" json:"tenant_id"`
	WorkflowID uint `gorm:"not null;index;uniqueIndex:idx_wf_ordering" json:"workflow_id"`

	Name       string `gorm:"size:200;not null" json:"name"`
	ActionType string `gorm:"size:50;not null" json:"action_type"`                // 对应动作目录中的类型
	Ordering   int    `gorm:"not null;uniqueIndex:idx_wf_ordering" json:"ordering"` // 工作流内唯一，从1开始连续

	Payload      JSON `gorm:"type:jsonb" json:"payload"`       // 载荷模板，值可含 {{path}} 占位符
	Guard        JSON `gorm:"type:jsonb" json:"guard"`         // 守卫条件树（可选），false时跳过该动作
	AllowFailure bool `gorm:"default:false" json:"allow_failure"`

	// 关联
	Workflow Workflow `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}

// TableName 指定表名
func (Action) TableName() string {
	return "actions"
}

// 内置动作类型常量
const (
	ActionTypeSendEmail        = "send_email"        // 发送邮件
	ActionTypeSendNotification = "send_notification" // 站内通知
	ActionTypeCallWebhook      = "call_webhook"      // 调用Webhook
	ActionTypeCreateTask       = "create_task"       // 创建任务
	ActionTypeUpdateRecord     = "update_record"     // 更新记录字段
	ActionTypeApproval         = "approval"          // 审批环节
	ActionTypeWait             = "wait"              // 等待
)

// 定时触发器的合成事件类型
const EventTypeScheduleTick = "schedule.tick"

// 条件节点类别
const (
	ConditionKindLeaf    = "leaf"
	ConditionKindAnd     = "and"
	ConditionKindOr      = "or"
	ConditionKindNot     = "not"
	ConditionKindInvalid = "invalid"
)

// 叶子节点操作符常量
const (
	OperatorEq          = "eq"
	OperatorNe          = "ne"
	OperatorGt          = "gt"
	OperatorGte         = "gte"
	OperatorLt          = "lt"
	OperatorLte         = "lte"
	OperatorIn          = "in"
	OperatorNotIn       = "not_in"
	OperatorContains    = "contains"
	OperatorNotContains = "not_contains"
	OperatorStartsWith  = "starts_with"
	OperatorEndsWith    = "ends_with"
	OperatorIsNull      = "is_null"
	OperatorIsNotNull   = "is_not_null"
)

// ConditionNode 条件树节点
// 叶子节点：{field, operator, value}
// 组合节点：{and: [...]} / {or: [...]} / {not: 子节点}
type ConditionNode struct {
	Field    string      `json:"field,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`

	And []ConditionNode `json:"and,omitempty"`
	Or  []ConditionNode `json:"or,omitempty"`
	Not []ConditionNode `json:"not,omitempty"`
}

// UnmarshalJSON 兼容 not 字段的两种写法：单个节点对象或节点数组
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	type nodeAlias ConditionNode
	aux := struct {
		*nodeAlias
		Not json.RawMessage `json:"not,omitempty"`
	}{nodeAlias: (*nodeAlias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Not) == 0 {
		return nil
	}

	// 先按数组解析，失败则按单节点解析
	var children []ConditionNode
	if err := json.Unmarshal(aux.Not, &children); err == nil {
		n.Not = children
		return nil
	}

	var child ConditionNode
	if err := json.Unmarshal(aux.Not, &child); err != nil {
		return err
	}
	n.Not = []ConditionNode{child}
	return nil
}

// Kind 返回节点类别
// 同时设置多种形态（如既有field又有and）返回invalid，由验证阶段报错
func (n *ConditionNode) Kind() string {
	forms := 0
	kind := ConditionKindInvalid

	if n.Field != "" || n.Operator != "" {
		forms++
		kind = ConditionKindLeaf
	}
	if len(n.And) > 0 {
		forms++
		kind = ConditionKindAnd
	}
	if len(n.Or) > 0 {
		forms++
		kind = ConditionKindOr
	}
	if len(n.Not) > 0 {
		forms++
		kind = ConditionKindNot
	}

	if forms != 1 {
		return ConditionKindInvalid
	}
	return kind
}
