package services

import (
	"encoding/json"
	"testing"
	"time"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAction(id uint, ordering int, actionType, payload, guard string, allowFailure bool) models.Action {
	a := models.Action{
		ActionType:   actionType,
		Ordering:     ordering,
		AllowFailure: allowFailure,
	}
	a.ID = id
	if payload != "" {
		a.Payload = models.JSON(payload)
	}
	if guard != "" {
		a.Guard = models.JSON(guard)
	}
	return a
}

func makeRun(runID string) *models.WorkflowRun {
	return &models.WorkflowRun{
		RunID:     runID,
		Status:    models.RunStatusRunning,
		StartTime: time.Now(),
	}
}

func TestExecuteRunAllSucceed(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-all-ok")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeUpdateRecord, `{"stage":"Qualified"}`, "", false),
		makeAction(2, 2, models.ActionTypeSendNotification, `{"message":"hello"}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.EndTime)
	require.Len(t, actionRuns, 2)
	for _, ar := range actionRuns {
		assert.Equal(t, models.ActionRunStatusSucceeded, ar.Status)
	}
}

func TestExecuteRunZeroActionsSucceeds(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-empty")

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, nil, map[string]interface{}{})

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Empty(t, actionRuns)
}

func TestExecuteRunAllowFailureYieldsPartialFailure(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-partial")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeUpdateRecord, `{"stage":"Qualified"}`, "", false),
		// 空载荷让记录类动作失败
		makeAction(2, 2, models.ActionTypeCreateTask, `{}`, "", true),
		makeAction(3, 3, models.ActionTypeSendNotification, `{"message":"done"}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusPartialFailure, run.Status)
	require.Len(t, actionRuns, 3)
	assert.Equal(t, models.ActionRunStatusSucceeded, actionRuns[0].Status)
	assert.Equal(t, models.ActionRunStatusFailed, actionRuns[1].Status)
	// 允许失败后继续执行后续动作
	assert.Equal(t, models.ActionRunStatusSucceeded, actionRuns[2].Status)
}

func TestExecuteRunFatalFailureCancelsRemaining(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-fatal")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeCreateTask, `{}`, "", false),
		makeAction(2, 2, models.ActionTypeSendNotification, `{"message":"never"}`, "", false),
		makeAction(3, 3, models.ActionTypeUpdateRecord, `{"stage":"x"}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMsg)
	require.Len(t, actionRuns, 3)
	assert.Equal(t, models.ActionRunStatusFailed, actionRuns[0].Status)
	assert.Equal(t, models.ActionRunStatusCancelled, actionRuns[1].Status)
	assert.Equal(t, models.ActionRunStatusCancelled, actionRuns[2].Status)
}

func TestExecuteRunGuardSkips(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-guard")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeSendNotification, `{"message":"big deal"}`,
			`{"field":"amount","operator":"gt","value":10000}`, false),
		makeAction(2, 2, models.ActionTypeUpdateRecord, `{"stage":"Qualified"}`,
			`{"field":"amount","operator":"gt","value":100}`, false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{
		"amount": float64(5000),
	})

	// 守卫为假的动作跳过，不算失败
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.Len(t, actionRuns, 2)
	assert.Equal(t, models.ActionRunStatusSkipped, actionRuns[0].Status)
	assert.Equal(t, models.ActionRunStatusSucceeded, actionRuns[1].Status)
}

func TestExecuteRunActionTimeout(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	executor.SetTimeouts(600*time.Second, 50*time.Millisecond)
	run := makeRun("run-timeout")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeWait, `{"seconds":2}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.Len(t, actionRuns, 1)
	assert.Equal(t, models.ActionRunStatusFailed, actionRuns[0].Status)
	assert.Contains(t, actionRuns[0].ErrorMsg, "超时")
}

func TestExecuteRunBudgetExhaustedCancelsRemaining(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-budget")
	// 开始时间回拨，进入动作链前运行级预算即已耗尽
	run.StartTime = time.Now().Add(-2 * time.Second)

	workflow := &models.Workflow{RunTimeoutSeconds: 1}
	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeUpdateRecord, `{"stage":"x"}`, "", false),
		makeAction(2, 2, models.ActionTypeSendNotification, `{"message":"never"}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, workflow, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMsg, "运行超时")
	require.Len(t, actionRuns, 2)
	// 预算耗尽后未开始的动作全部标记取消，而不是标记失败
	assert.Equal(t, models.ActionRunStatusCancelled, actionRuns[0].Status)
	assert.Equal(t, models.ActionRunStatusCancelled, actionRuns[1].Status)
}

func TestExecuteRunCancellation(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-cancel")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeWait, `{"seconds":0.3}`, "", false),
		makeAction(2, 2, models.ActionTypeSendNotification, `{"message":"never"}`, "", false),
	}

	done := make(chan []models.WorkflowActionRun, 1)
	go func() {
		done <- executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})
	}()

	// 第一个动作执行期间发出取消
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, executor.Cancel("run-cancel"))

	actionRuns := <-done

	assert.Equal(t, models.RunStatusCancelled, run.Status)
	require.Len(t, actionRuns, 2)
	// 进行中的动作自然结束，结果保留
	assert.Equal(t, models.ActionRunStatusSucceeded, actionRuns[0].Status)
	// 后续动作不再执行
	assert.Equal(t, models.ActionRunStatusCancelled, actionRuns[1].Status)
}

func TestCancelUnknownRun(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	assert.Error(t, executor.Cancel("no-such-run"))
}

func TestExecuteRunOutputsFlowToLaterActions(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-outputs")

	actions := []models.Action{
		makeAction(1, 1, models.ActionTypeUpdateRecord, `{"stage":"Qualified"}`, "", false),
		makeAction(2, 2, models.ActionTypeSendNotification, `{"applied":"{{outputs.1.applied}}"}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.Len(t, actionRuns, 2)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(actionRuns[1].ResolvedPayload, &payload))
	assert.Equal(t, true, payload["applied"])
}

func TestExecuteRunUnknownActionType(t *testing.T) {
	executor := NewActionExecutor(nil, nil)
	run := makeRun("run-unknown-type")

	actions := []models.Action{
		makeAction(1, 1, "teleport", `{"to":"moon"}`, "", false),
	}

	actionRuns := executor.ExecuteRun(run, &models.Workflow{}, actions, map[string]interface{}{})

	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.Len(t, actionRuns, 1)
	assert.Contains(t, actionRuns[0].ErrorMsg, "teleport")
}
