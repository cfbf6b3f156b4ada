package services

import (
	"strings"
	"testing"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func warningsContain(warnings []string, sub string) bool {
	for _, w := range warnings {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

func buildSimWorkflow() *models.Workflow {
	workflow := &models.Workflow{
		Name:     "大额商机审批",
		Code:     "big-deal-approval",
		IsActive: true,
	}
	workflow.ID = 10

	trigger := models.Trigger{
		Name:      "商机创建",
		EventType: "record.created",
		Condition: models.JSON(`{"field":"amount","operator":"gt","value":10000}`),
		Priority:  100,
		IsActive:  true,
	}
	trigger.ID = 1
	workflow.Triggers = []models.Trigger{trigger}

	workflow.Actions = []models.Action{
		makeAction(1, 1, models.ActionTypeUpdateRecord, `{"stage":"{{stage}}"}`, "", false),
		makeAction(2, 2, models.ActionTypeApproval, `{"approver":"{{manager}}"}`,
			`{"field":"amount","operator":"gt","value":50000}`, false),
		makeAction(3, 3, models.ActionTypeSendEmail, `{"to":"{{owner_email}}"}`, "", true),
	}
	workflow.Actions[1].Name = "总监审批"

	return workflow
}

func TestSimulateWorkflowDeterministic(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	event := &Event{
		EventType:     "record.created",
		CorrelationID: "lead-1",
		Context: map[string]interface{}{
			"amount":      float64(20000),
			"stage":       "Qualified",
			"manager":     "director@example.com",
			"owner_email": "sales@example.com",
		},
	}

	first := engine.SimulateWorkflow(workflow, event)
	second := engine.SimulateWorkflow(workflow, event)

	assert.Equal(t, first, second)
}

func TestSimulateWorkflowGuardBranches(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	event := &Event{
		EventType:     "record.created",
		CorrelationID: "lead-2",
		Context: map[string]interface{}{
			"amount":      float64(20000), // 触发器命中，但审批守卫(>50000)不命中
			"stage":       "Qualified",
			"manager":     "director@example.com",
			"owner_email": "sales@example.com",
		},
	}

	result := engine.SimulateWorkflow(workflow, event)

	assert.Empty(t, result.Errors)
	require.Len(t, result.Triggers, 1)
	st := result.Triggers[0]
	assert.True(t, st.Matched)

	require.Len(t, st.Actions, 3)
	assert.True(t, st.Actions[0].WouldExecute)
	assert.Nil(t, st.Actions[0].GuardResult)

	// 守卫为假的分支：不执行但两种走向都可见
	require.NotNil(t, st.Actions[1].GuardResult)
	assert.False(t, *st.Actions[1].GuardResult)
	assert.False(t, st.Actions[1].WouldExecute)

	// 预测时长只累计会执行的动作，上界累计全部
	approvalMs := LatencyVerySlow.EstimateMs()
	assert.Equal(t, st.MaxDurationMs-approvalMs, st.PredictedDurationMs)

	// 审批链无论守卫结果都列出，附带配置审批人与守卫条件
	require.Len(t, result.ApprovalChain, 1)
	step := result.ApprovalChain[0]
	assert.Equal(t, "总监审批", step.Name)
	assert.Equal(t, 2, step.Ordering)
	assert.Equal(t, "{{manager}}", step.Approver)
	require.NotNil(t, step.Guard)
	assert.Equal(t, "amount", step.Guard.Field)
}

func TestSimulateWorkflowBranchExplorations(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	event := &Event{
		EventType:     "record.created",
		CorrelationID: "lead-7",
		Context: map[string]interface{}{
			"amount":      float64(20000), // 审批守卫(>50000)不命中
			"stage":       "Qualified",
			"manager":     "director@example.com",
			"owner_email": "sales@example.com",
		},
	}

	result := engine.SimulateWorkflow(workflow, event)

	// 唯一带守卫的动作产生真假两条分支记录
	require.Len(t, result.BranchExplorations, 2)
	truthy, falsy := result.BranchExplorations[0], result.BranchExplorations[1]
	require.True(t, truthy.GuardOutcome)
	require.False(t, falsy.GuardOutcome)

	assert.Equal(t, 2, truthy.Ordering)
	require.NotNil(t, truthy.Guard)
	assert.Equal(t, "amount", truthy.Guard.Field)

	// 样例上下文走守卫为假的分支
	assert.False(t, truthy.MatchesSample)
	assert.True(t, falsy.MatchesSample)

	// 守卫为真的分支多出审批动作的预估时长
	assert.Equal(t, LatencyVerySlow.EstimateMs(), truthy.PathDurationMs-falsy.PathDurationMs)

	// 为假分支与样例路径的预测一致
	require.Len(t, result.Triggers, 1)
	assert.Equal(t, result.Triggers[0].PredictedDurationMs, falsy.PathDurationMs)
}

func TestSimulateWorkflowTriggerNotMatched(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	event := &Event{
		EventType:     "record.created",
		CorrelationID: "lead-3",
		Context:       map[string]interface{}{"amount": float64(500)},
	}

	result := engine.SimulateWorkflow(workflow, event)

	require.Len(t, result.Triggers, 1)
	assert.False(t, result.Triggers[0].Matched)
}

func TestSimulateWorkflowMissingPlaceholderWarning(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	event := &Event{
		EventType:     "record.created",
		CorrelationID: "lead-4",
		Context:       map[string]interface{}{"amount": float64(60000)},
	}

	result := engine.SimulateWorkflow(workflow, event)

	// stage/manager/owner_email都缺失
	assert.True(t, warningsContain(result.Warnings, "占位符"))

	require.Len(t, result.Triggers, 1)
	assert.NotEmpty(t, result.Triggers[0].Actions[0].MissingPlaceholders)
}

func TestSimulateWorkflowAllowFailureWarning(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	event := &Event{
		EventType:     "record.created",
		CorrelationID: "lead-5",
		Context: map[string]interface{}{
			"amount":      float64(60000),
			"stage":       "Qualified",
			"manager":     "director@example.com",
			"owner_email": "sales@example.com",
		},
	}

	result := engine.SimulateWorkflow(workflow, event)

	// send_email非幂等且允许失败，应有重复副作用告警
	assert.True(t, warningsContain(result.Warnings, "非幂等"))
}

func TestSimulateWorkflowContradictoryAndWarning(t *testing.T) {
	engine := NewSimulationEngine(nil)
	workflow := buildSimWorkflow()
	workflow.Triggers[0].Condition = models.JSON(
		`{"and":[{"field":"stage","operator":"eq","value":"A"},{"field":"stage","operator":"eq","value":"B"}]}`)

	result := engine.SimulateWorkflow(workflow, &Event{
		EventType:     "record.created",
		CorrelationID: "lead-6",
		Context:       map[string]interface{}{"stage": "A"},
	})

	assert.True(t, warningsContain(result.Warnings, "永远不会为真"))
}

func TestValidateWorkflowConfig(t *testing.T) {
	engine := NewSimulationEngine(nil)

	t.Run("合法配置", func(t *testing.T) {
		assert.Empty(t, engine.ValidateWorkflowConfig(buildSimWorkflow()))
	})

	t.Run("缺少触发器和动作", func(t *testing.T) {
		problems := engine.ValidateWorkflowConfig(&models.Workflow{})
		assert.Len(t, problems, 2)
	})

	t.Run("未知动作类型", func(t *testing.T) {
		workflow := buildSimWorkflow()
		workflow.Actions[0].ActionType = "teleport"
		problems := engine.ValidateWorkflowConfig(workflow)
		require.NotEmpty(t, problems)
		assert.Contains(t, problems[0], "teleport")
	})

	t.Run("ordering重复", func(t *testing.T) {
		workflow := buildSimWorkflow()
		workflow.Actions[1].Ordering = 1
		problems := engine.ValidateWorkflowConfig(workflow)
		require.NotEmpty(t, problems)
	})

	t.Run("ordering有空洞", func(t *testing.T) {
		workflow := buildSimWorkflow()
		workflow.Actions[2].Ordering = 7
		problems := engine.ValidateWorkflowConfig(workflow)
		require.NotEmpty(t, problems)
		assert.Contains(t, problems[len(problems)-1], "连续")
	})

	t.Run("条件树问题带触发器标识", func(t *testing.T) {
		workflow := buildSimWorkflow()
		workflow.Triggers[0].Condition = models.JSON(`{"field":"a","operator":"bogus","value":1}`)
		problems := engine.ValidateWorkflowConfig(workflow)
		require.NotEmpty(t, problems)
		assert.Contains(t, problems[0], "触发器 1")
	})
}
