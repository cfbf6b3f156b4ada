package services

import (
	"testing"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrigger(id uint, priority int, condition string) models.Trigger {
	t := models.Trigger{
		EventType: "record.created",
		Priority:  priority,
		IsActive:  true,
	}
	t.ID = id
	if condition != "" {
		t.Condition = models.JSON(condition)
	}
	return t
}

func TestMatchCandidates(t *testing.T) {
	matcher := NewTriggerMatcher(nil)
	context := map[string]interface{}{
		"amount": float64(5000),
		"stage":  "Negotiation",
	}

	triggers := []models.Trigger{
		newTrigger(1, 200, `{"field":"amount","operator":"gt","value":1000}`),
		newTrigger(2, 100, ""), // 空条件无条件匹配
		newTrigger(3, 100, `{"field":"stage","operator":"eq","value":"Closed"}`),
		newTrigger(4, 100, `{"field":"stage","operator":"eq","value":"negotiation"}`),
	}

	matches := matcher.MatchCandidates(triggers, context)

	// 条件为假的3被过滤；按优先级升序、同优先级按ID升序
	require.Len(t, matches, 3)
	assert.Equal(t, uint(2), matches[0].Trigger.ID)
	assert.Equal(t, uint(4), matches[1].Trigger.ID)
	assert.Equal(t, uint(1), matches[2].Trigger.ID)
}

func TestMatchCandidatesBrokenConditionSkipped(t *testing.T) {
	matcher := NewTriggerMatcher(nil)

	triggers := []models.Trigger{
		newTrigger(1, 100, `{"field":"amount","operator":"bogus","value":1}`),
		newTrigger(2, 100, ""),
	}

	matches := matcher.MatchCandidates(triggers, map[string]interface{}{"amount": float64(1)})

	// 求值失败的触发器跳过，不影响其他触发器
	require.Len(t, matches, 1)
	assert.Equal(t, uint(2), matches[0].Trigger.ID)
}

func TestMatchCandidatesDeterministic(t *testing.T) {
	matcher := NewTriggerMatcher(nil)
	context := map[string]interface{}{"amount": float64(10)}

	triggers := []models.Trigger{
		newTrigger(5, 100, ""),
		newTrigger(3, 100, ""),
		newTrigger(9, 50, ""),
	}

	first := matcher.MatchCandidates(triggers, context)
	second := matcher.MatchCandidates(triggers, context)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Trigger.ID, second[i].Trigger.ID)
	}
	assert.Equal(t, uint(9), first[0].Trigger.ID)
}

func TestParseCondition(t *testing.T) {
	node, err := ParseCondition(nil)
	require.NoError(t, err)
	assert.Nil(t, node)

	node, err = ParseCondition(models.JSON(`{}`))
	require.NoError(t, err)
	assert.Nil(t, node)

	node, err = ParseCondition(models.JSON(`{"field":"a","operator":"eq","value":1}`))
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "a", node.Field)

	_, err = ParseCondition(models.JSON(`not-json`))
	assert.Error(t, err)
}
