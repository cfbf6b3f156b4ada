package services

import (
	"fmt"
	"sort"

	"crmflow/internal/models"

	"gorm.io/gorm"
)

// SimulatedAction 单个动作的模拟结果
type SimulatedAction struct {
	ActionID     uint     `json:"action_id"`
	Name         string   `json:"name"`
	ActionType   string   `json:"action_type"`
	Ordering     int      `json:"ordering"`
	WouldExecute bool     `json:"would_execute"`
	GuardResult  *bool    `json:"guard_result,omitempty"` // nil表示无守卫条件
	EstimatedMs  int64    `json:"estimated_ms"`
	Idempotent   bool     `json:"idempotent"`
	SideEffects  []string `json:"side_effects"`

	Placeholders        []string `json:"placeholders,omitempty"`
	MissingPlaceholders []string `json:"missing_placeholders,omitempty"`
}

// BranchExploration 守卫条件的单个分支记录
// 每个带守卫的动作给出守卫为真/为假两条记录，呈现全部可达走向
type BranchExploration struct {
	ActionID     uint                  `json:"action_id"`
	ActionName   string                `json:"action_name"`
	Ordering     int                   `json:"ordering"`
	Guard        *models.ConditionNode `json:"guard"`
	GuardOutcome bool                  `json:"guard_outcome"`

	MatchesSample  bool  `json:"matches_sample"`   // 样例上下文实际走向该分支
	PathDurationMs int64 `json:"path_duration_ms"` // 该分支下整条动作链的预测时长
}

// ApprovalStep 审批链条目
type ApprovalStep struct {
	ActionID uint                  `json:"action_id"`
	Name     string                `json:"name"`
	Ordering int                   `json:"ordering"`
	Approver string                `json:"approver"`        // 载荷模板中配置的审批人
	Guard    *models.ConditionNode `json:"guard,omitempty"` // 守卫条件，无守卫为空
}

// SimulatedTrigger 单个触发器的模拟结果
type SimulatedTrigger struct {
	TriggerID uint   `json:"trigger_id"`
	Name      string `json:"name"`
	EventType string `json:"event_type"`
	Priority  int    `json:"priority"`
	Matched   bool   `json:"matched"`

	Actions []SimulatedAction `json:"actions"`

	// 按样例上下文预测的总时长，以及全部动作都执行时的上界
	PredictedDurationMs int64 `json:"predicted_duration_ms"`
	MaxDurationMs       int64 `json:"max_duration_ms"`
}

// WorkflowSimulation 工作流模拟（干跑）结果
// 只读求值，不落任何运行记录，不产生任何副作用；同输入同输出
type WorkflowSimulation struct {
	WorkflowID   uint   `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	IsActive     bool   `json:"is_active"`

	EventType string `json:"event_type"`

	Triggers           []SimulatedTrigger  `json:"triggers"`
	BranchExplorations []BranchExploration `json:"branch_explorations"`
	ApprovalChain      []ApprovalStep      `json:"approval_chain"` // 链路中的审批动作，无论守卫结果都列出

	Errors   []string `json:"errors"`   // 配置结构错误（激活前必须清零）
	Warnings []string `json:"warnings"` // 可疑但不阻断的问题
}

// SimulationEngine 模拟引擎
// 复用求值器与动作目录做干跑预测，与激活校验共享配置验证逻辑
type SimulationEngine struct {
	db        *gorm.DB
	evaluator *ConditionEvaluator
	resolver  *PlaceholderResolver
	catalog   *ActionCatalog
}

// NewSimulationEngine 创建模拟引擎
func NewSimulationEngine(db *gorm.DB) *SimulationEngine {
	return &SimulationEngine{
		db:        db,
		evaluator: NewConditionEvaluator(),
		resolver:  NewPlaceholderResolver(),
		catalog:   GetActionCatalog(),
	}
}

// Simulate 对工作流做一次干跑模拟
func (s *SimulationEngine) Simulate(tenantID, workflowID uint, event *Event) (*WorkflowSimulation, error) {
	var workflow models.Workflow
	if err := s.db.Preload("Triggers").Preload("Actions").
		Where("tenant_id = ?", tenantID).
		First(&workflow, workflowID).Error; err != nil {
		return nil, fmt.Errorf("工作流不存在: %v", err)
	}
	return s.SimulateWorkflow(&workflow, event), nil
}

// SimulateWorkflow 对已加载的工作流做干跑模拟（纯逻辑）
func (s *SimulationEngine) SimulateWorkflow(workflow *models.Workflow, event *Event) *WorkflowSimulation {
	result := &WorkflowSimulation{
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		IsActive:     workflow.IsActive,
		EventType:    event.EventType,
		Errors:       s.ValidateWorkflowConfig(workflow),
	}

	actions := make([]models.Action, len(workflow.Actions))
	copy(actions, workflow.Actions)
	sort.Slice(actions, func(i, j int) bool { return actions[i].Ordering < actions[j].Ordering })

	// 审批链：无论守卫结果如何都完整列出，附带配置的审批人与守卫条件
	for _, action := range actions {
		if action.ActionType != models.ActionTypeApproval {
			continue
		}
		step := ApprovalStep{
			ActionID: action.ID,
			Name:     action.Name,
			Ordering: action.Ordering,
		}
		var template map[string]interface{}
		if err := action.Payload.Unmarshal(&template); err == nil {
			if approver, ok := template["approver"].(string); ok {
				step.Approver = approver
			}
		}
		if guard, err := ParseCondition(action.Guard); err == nil {
			step.Guard = guard
		}
		result.ApprovalChain = append(result.ApprovalChain, step)
	}

	triggers := make([]models.Trigger, len(workflow.Triggers))
	copy(triggers, workflow.Triggers)
	sort.SliceStable(triggers, func(i, j int) bool {
		if triggers[i].Priority != triggers[j].Priority {
			return triggers[i].Priority < triggers[j].Priority
		}
		return triggers[i].ID < triggers[j].ID
	})

	for _, trigger := range triggers {
		st := SimulatedTrigger{
			TriggerID: trigger.ID,
			Name:      trigger.Name,
			EventType: trigger.EventType,
			Priority:  trigger.Priority,
		}

		if trigger.EventType == event.EventType && trigger.IsActive {
			condition, err := ParseCondition(trigger.Condition)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("触发器 %d: %v", trigger.ID, err))
			} else if condition == nil {
				st.Matched = true
			} else if matched, err := s.evaluator.Evaluate(condition, event.Context); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("触发器 %d 条件求值失败: %v", trigger.ID, err))
			} else {
				st.Matched = matched
			}
		}

		st.Actions, st.PredictedDurationMs, st.MaxDurationMs = s.simulateActions(actions, event.Context, &result.Warnings)
		result.Triggers = append(result.Triggers, st)
	}

	result.BranchExplorations = s.exploreBranches(actions, event.Context)

	s.collectActionWarnings(actions, &result.Warnings)
	s.collectConditionWarnings(triggers, actions, &result.Warnings)

	return result
}

// simulateActions 对动作链做逐个预测
func (s *SimulationEngine) simulateActions(actions []models.Action, eventContext map[string]interface{}, warnings *[]string) ([]SimulatedAction, int64, int64) {
	var simulated []SimulatedAction
	var predicted, max int64

	for _, action := range actions {
		sa := SimulatedAction{
			ActionID:     action.ID,
			Name:         action.Name,
			ActionType:   action.ActionType,
			Ordering:     action.Ordering,
			WouldExecute: true,
		}

		if entry, ok := s.catalog.Get(action.ActionType); ok {
			sa.EstimatedMs = entry.Latency.EstimateMs()
			sa.Idempotent = entry.Idempotent
			sa.SideEffects = entry.SideEffects
		}

		// 守卫条件两个分支都呈现：guard_result给出样例上下文下的走向
		if guard, err := ParseCondition(action.Guard); err != nil {
			*warnings = append(*warnings, fmt.Sprintf("动作 %d 守卫条件无法解析: %v", action.Ordering, err))
			sa.WouldExecute = false
		} else if guard != nil {
			pass, err := s.evaluator.Evaluate(guard, eventContext)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("动作 %d 守卫条件求值失败: %v", action.Ordering, err))
				pass = false
			}
			sa.GuardResult = &pass
			sa.WouldExecute = pass
		}

		// 载荷占位符预检：样例上下文中解析不到的路径列为缺失
		var template map[string]interface{}
		if err := action.Payload.Unmarshal(&template); err == nil && template != nil {
			sa.Placeholders = s.resolver.ListPlaceholders(template)
			for _, path := range sa.Placeholders {
				if ExtractPath(eventContext, path) == nil {
					sa.MissingPlaceholders = append(sa.MissingPlaceholders, path)
				}
			}
			if len(sa.MissingPlaceholders) > 0 {
				*warnings = append(*warnings, fmt.Sprintf("动作 %d 存在无法解析的占位符: %v", action.Ordering, sa.MissingPlaceholders))
			}
		}

		max += sa.EstimatedMs
		if sa.WouldExecute {
			predicted += sa.EstimatedMs
		}

		simulated = append(simulated, sa)
	}

	return simulated, predicted, max
}

// exploreBranches 枚举守卫条件的全部可达分支
// 逐个守卫翻转真假、其余守卫保持样例走向，给出每条分支下动作链的预测时长
func (s *SimulationEngine) exploreBranches(actions []models.Action, eventContext map[string]interface{}) []BranchExploration {
	type guardedAction struct {
		index  int
		guard  *models.ConditionNode
		sample bool
	}

	executes := make([]bool, len(actions))
	estimates := make([]int64, len(actions))
	var guarded []guardedAction
	var samplePredicted int64

	for i := range actions {
		executes[i] = true
		if entry, ok := s.catalog.Get(actions[i].ActionType); ok {
			estimates[i] = entry.Latency.EstimateMs()
		}
		guard, err := ParseCondition(actions[i].Guard)
		if err != nil {
			executes[i] = false
			continue
		}
		if guard != nil {
			pass, err := s.evaluator.Evaluate(guard, eventContext)
			if err != nil {
				pass = false
			}
			executes[i] = pass
			guarded = append(guarded, guardedAction{index: i, guard: guard, sample: pass})
		}
		if executes[i] {
			samplePredicted += estimates[i]
		}
	}

	var explorations []BranchExploration
	for _, g := range guarded {
		action := actions[g.index]
		for _, outcome := range []bool{true, false} {
			pathMs := samplePredicted
			if g.sample {
				pathMs -= estimates[g.index]
			}
			if outcome {
				pathMs += estimates[g.index]
			}
			explorations = append(explorations, BranchExploration{
				ActionID:       action.ID,
				ActionName:     action.Name,
				Ordering:       action.Ordering,
				Guard:          g.guard,
				GuardOutcome:   outcome,
				MatchesSample:  outcome == g.sample,
				PathDurationMs: pathMs,
			})
		}
	}
	return explorations
}

// collectActionWarnings 动作配置层面的告警
func (s *SimulationEngine) collectActionWarnings(actions []models.Action, warnings *[]string) {
	for _, action := range actions {
		entry, ok := s.catalog.Get(action.ActionType)
		if !ok {
			continue
		}
		// 允许失败的非幂等动作重试时可能产生重复副作用
		if action.AllowFailure && !entry.Idempotent {
			*warnings = append(*warnings, fmt.Sprintf("动作 %d(%s) 允许失败且非幂等，失败后人工重放可能产生重复副作用", action.Ordering, action.ActionType))
		}
	}
}

// collectConditionWarnings 条件层面的告警：and组内同字段eq不同值必然为假
func (s *SimulationEngine) collectConditionWarnings(triggers []models.Trigger, actions []models.Action, warnings *[]string) {
	check := func(raw models.JSON, label string) {
		condition, err := ParseCondition(raw)
		if err != nil || condition == nil {
			return
		}
		if hasContradictoryAnd(condition) {
			*warnings = append(*warnings, fmt.Sprintf("%s 的条件包含同一字段eq不同值的and组合，永远不会为真", label))
		}
	}

	for _, trigger := range triggers {
		check(trigger.Condition, fmt.Sprintf("触发器 %d", trigger.ID))
	}
	for _, action := range actions {
		check(action.Guard, fmt.Sprintf("动作 %d 守卫", action.Ordering))
	}
}

// hasContradictoryAnd 检测and组内同字段eq不同常量的矛盾组合
func hasContradictoryAnd(node *models.ConditionNode) bool {
	switch node.Kind() {
	case models.ConditionKindAnd:
		eqValues := make(map[string]interface{})
		for i := range node.And {
			child := &node.And[i]
			if child.Kind() == models.ConditionKindLeaf && child.Operator == models.OperatorEq {
				if prev, seen := eqValues[child.Field]; seen && !valuesEqual(prev, child.Value) {
					return true
				}
				eqValues[child.Field] = child.Value
			}
			if hasContradictoryAnd(child) {
				return true
			}
		}
	case models.ConditionKindOr:
		for i := range node.Or {
			if hasContradictoryAnd(&node.Or[i]) {
				return true
			}
		}
	case models.ConditionKindNot:
		for i := range node.Not {
			if hasContradictoryAnd(&node.Not[i]) {
				return true
			}
		}
	}
	return false
}

// ValidateWorkflowConfig 校验工作流配置的结构完整性
// 返回全部问题列表；激活和蓝图导入前必须为空
func (s *SimulationEngine) ValidateWorkflowConfig(workflow *models.Workflow) []string {
	var problems []string

	if len(workflow.Triggers) == 0 {
		problems = append(problems, "工作流至少需要一个触发器")
	}
	if len(workflow.Actions) == 0 {
		problems = append(problems, "工作流至少需要一个动作")
	}

	for _, trigger := range workflow.Triggers {
		if trigger.EventType == "" {
			problems = append(problems, fmt.Sprintf("触发器 %d 缺少event_type", trigger.ID))
		}
		condition, err := ParseCondition(trigger.Condition)
		if err != nil {
			problems = append(problems, fmt.Sprintf("触发器 %d: %v", trigger.ID, err))
			continue
		}
		for _, p := range s.evaluator.ValidateCondition(condition) {
			problems = append(problems, fmt.Sprintf("触发器 %d: %s", trigger.ID, p))
		}
	}

	seenOrdering := make(map[int]bool)
	maxOrdering := 0
	for _, action := range workflow.Actions {
		if !s.catalog.Has(action.ActionType) {
			problems = append(problems, fmt.Sprintf("动作 %d: 未注册的动作类型 %s", action.Ordering, action.ActionType))
		}
		if action.Ordering < 1 {
			problems = append(problems, fmt.Sprintf("动作 %d(id=%d): ordering必须从1开始", action.Ordering, action.ID))
		}
		if seenOrdering[action.Ordering] {
			problems = append(problems, fmt.Sprintf("动作ordering %d 重复", action.Ordering))
		}
		seenOrdering[action.Ordering] = true
		if action.Ordering > maxOrdering {
			maxOrdering = action.Ordering
		}

		guard, err := ParseCondition(action.Guard)
		if err != nil {
			problems = append(problems, fmt.Sprintf("动作 %d 守卫: %v", action.Ordering, err))
			continue
		}
		for _, p := range s.evaluator.ValidateCondition(guard) {
			problems = append(problems, fmt.Sprintf("动作 %d 守卫: %s", action.Ordering, p))
		}
	}

	// ordering必须连续：1..N无空洞
	if len(workflow.Actions) > 0 && maxOrdering != len(workflow.Actions) {
		problems = append(problems, fmt.Sprintf("动作ordering必须连续（1..%d），实际最大值%d", len(workflow.Actions), maxOrdering))
	}

	return problems
}
