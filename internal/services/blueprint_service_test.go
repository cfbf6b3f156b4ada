package services

import (
	"encoding/json"
	"testing"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBlueprint() *WorkflowBlueprint {
	return &WorkflowBlueprint{
		SchemaVersion:     BlueprintSchemaVersion,
		Name:              "线索跟进",
		Code:              "lead-followup",
		Description:       "新线索自动分派与跟进",
		RunTimeoutSeconds: 300,
		Layout:            models.JSON(`{"nodes":[{"id":"n1","x":100,"y":200}]}`),
		Triggers: []TriggerBlueprint{
			{
				Name:      "线索创建",
				EventType: "record.created",
				Condition: models.JSON(`{"field":"score","operator":"gte","value":60}`),
				Priority:  50,
				IsActive:  true,
			},
		},
		Actions: []ActionBlueprint{
			{
				Name:       "分派跟进任务",
				ActionType: models.ActionTypeCreateTask,
				Ordering:   1,
				Payload:    models.JSON(`{"assignee":"{{owner}}"}`),
			},
			{
				Name:         "通知销售",
				ActionType:   models.ActionTypeSendNotification,
				Ordering:     2,
				Payload:      models.JSON(`{"message":"新线索"}`),
				Guard:        models.JSON(`{"field":"score","operator":"gt","value":80}`),
				AllowFailure: true,
			},
		},
	}
}

func TestBlueprintBuildWorkflow(t *testing.T) {
	service := NewBlueprintService(nil)
	blueprint := sampleBlueprint()

	workflow := service.buildWorkflow(7, 3, blueprint)

	assert.Equal(t, uint(7), workflow.TenantID)
	assert.Equal(t, uint(3), workflow.CreatedBy)
	assert.Equal(t, "lead-followup", workflow.Code)
	assert.False(t, workflow.IsActive) // 导入后始终为未激活
	assert.Equal(t, 300, workflow.RunTimeoutSeconds)

	require.Len(t, workflow.Triggers, 1)
	assert.Equal(t, "record.created", workflow.Triggers[0].EventType)
	assert.JSONEq(t, string(blueprint.Triggers[0].Condition), string(workflow.Triggers[0].Condition))

	require.Len(t, workflow.Actions, 2)
	assert.Equal(t, 1, workflow.Actions[0].Ordering)
	assert.True(t, workflow.Actions[1].AllowFailure)
	assert.JSONEq(t, string(blueprint.Actions[1].Guard), string(workflow.Actions[1].Guard))

	// 还原的配置通过与激活相同的校验
	assert.Empty(t, NewSimulationEngine(nil).ValidateWorkflowConfig(workflow))
}

func TestBlueprintJSONRoundTrip(t *testing.T) {
	blueprint := sampleBlueprint()

	data, err := json.Marshal(blueprint)
	require.NoError(t, err)

	var decoded WorkflowBlueprint
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, blueprint.SchemaVersion, decoded.SchemaVersion)
	assert.Equal(t, blueprint.Code, decoded.Code)
	assert.JSONEq(t, string(blueprint.Layout), string(decoded.Layout))
	require.Len(t, decoded.Triggers, 1)
	assert.JSONEq(t, string(blueprint.Triggers[0].Condition), string(decoded.Triggers[0].Condition))
	require.Len(t, decoded.Actions, 2)
	assert.JSONEq(t, string(blueprint.Actions[0].Payload), string(decoded.Actions[0].Payload))
	assert.JSONEq(t, string(blueprint.Actions[1].Guard), string(decoded.Actions[1].Guard))
}

func TestBlueprintDefaultTimeout(t *testing.T) {
	service := NewBlueprintService(nil)
	blueprint := sampleBlueprint()
	blueprint.RunTimeoutSeconds = 0

	workflow := service.buildWorkflow(1, 1, blueprint)
	assert.Equal(t, 600, workflow.RunTimeoutSeconds)
}
