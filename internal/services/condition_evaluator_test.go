package services

import (
	"encoding/json"
	"testing"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNode(t *testing.T, raw string) *models.ConditionNode {
	t.Helper()
	var node models.ConditionNode
	require.NoError(t, json.Unmarshal([]byte(raw), &node))
	return &node
}

func TestEvaluateLeafOperators(t *testing.T) {
	evaluator := NewConditionEvaluator()
	context := map[string]interface{}{
		"amount":   float64(5000),
		"stage":    "Negotiation",
		"owner":    nil,
		"tags":     []interface{}{"vip", "enterprise"},
		"priority": "3",
	}

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{"eq数值", `{"field":"amount","operator":"eq","value":5000}`, true},
		{"eq字符串不区分大小写", `{"field":"stage","operator":"eq","value":"negotiation"}`, true},
		{"ne", `{"field":"stage","operator":"ne","value":"Closed"}`, true},
		{"gt", `{"field":"amount","operator":"gt","value":1000}`, true},
		{"gt不成立", `{"field":"amount","operator":"gt","value":10000}`, false},
		{"gte相等", `{"field":"amount","operator":"gte","value":5000}`, true},
		{"lt", `{"field":"amount","operator":"lt","value":10000}`, true},
		{"lte", `{"field":"amount","operator":"lte","value":4999}`, false},
		{"数值字符串可比较", `{"field":"priority","operator":"gte","value":2}`, true},
		{"in", `{"field":"stage","operator":"in","value":["Negotiation","Proposal"]}`, true},
		{"not_in", `{"field":"stage","operator":"not_in","value":["Closed","Lost"]}`, true},
		{"contains", `{"field":"stage","operator":"contains","value":"gotia"}`, true},
		{"not_contains", `{"field":"stage","operator":"not_contains","value":"xyz"}`, true},
		{"starts_with", `{"field":"stage","operator":"starts_with","value":"nego"}`, true},
		{"ends_with", `{"field":"stage","operator":"ends_with","value":"TION"}`, true},
		{"is_null命中", `{"field":"owner","operator":"is_null"}`, true},
		{"is_null缺失路径", `{"field":"missing.path","operator":"is_null"}`, true},
		{"is_not_null", `{"field":"stage","operator":"is_not_null"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(mustNode(t, tt.condition), context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateTypeMismatchFailsClosed(t *testing.T) {
	evaluator := NewConditionEvaluator()
	context := map[string]interface{}{"stage": "Negotiation"}

	// 数值操作符作用在非数值上按false处理，不报错
	got, err := evaluator.Evaluate(mustNode(t, `{"field":"stage","operator":"gt","value":100}`), context)
	require.NoError(t, err)
	assert.False(t, got)

	// in的列表值不是数组同样按false处理
	got, err = evaluator.Evaluate(mustNode(t, `{"field":"stage","operator":"in","value":"Negotiation"}`), context)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateComposite(t *testing.T) {
	evaluator := NewConditionEvaluator()
	context := map[string]interface{}{
		"amount": float64(5000),
		"stage":  "Negotiation",
	}

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{
			"and全真",
			`{"and":[{"field":"amount","operator":"gt","value":1000},{"field":"stage","operator":"eq","value":"Negotiation"}]}`,
			true,
		},
		{
			"and短路",
			`{"and":[{"field":"amount","operator":"gt","value":99999},{"field":"stage","operator":"eq","value":"Negotiation"}]}`,
			false,
		},
		{
			"or一真即真",
			`{"or":[{"field":"amount","operator":"gt","value":99999},{"field":"stage","operator":"eq","value":"Negotiation"}]}`,
			true,
		},
		{
			"not取反",
			`{"not":{"field":"stage","operator":"eq","value":"Closed"}}`,
			true,
		},
		{
			"双重否定",
			`{"not":{"not":{"field":"stage","operator":"eq","value":"Negotiation"}}}`,
			true,
		},
		{
			"德摩根等价: not(A and B) == (not A) or (not B)",
			`{"not":{"and":[{"field":"amount","operator":"gt","value":99999},{"field":"stage","operator":"eq","value":"Closed"}]}}`,
			true,
		},
		{
			"嵌套组合",
			`{"and":[{"or":[{"field":"stage","operator":"eq","value":"Negotiation"},{"field":"stage","operator":"eq","value":"Proposal"}]},{"not":{"field":"amount","operator":"lt","value":1000}}]}`,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(mustNode(t, tt.condition), context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateStructuralErrors(t *testing.T) {
	evaluator := NewConditionEvaluator()
	context := map[string]interface{}{"amount": float64(1)}

	// 未知操作符是结构错误
	_, err := evaluator.Evaluate(mustNode(t, `{"field":"amount","operator":"between","value":1}`), context)
	assert.Error(t, err)

	// 缺少field
	_, err = evaluator.Evaluate(&models.ConditionNode{Operator: "eq", Value: 1}, context)
	assert.Error(t, err)

	// not多于一个子节点
	_, err = evaluator.Evaluate(mustNode(t, `{"not":[{"field":"amount","operator":"eq","value":1},{"field":"amount","operator":"eq","value":2}]}`), context)
	assert.Error(t, err)
}

func TestEvaluateNilConditionAlwaysTrue(t *testing.T) {
	evaluator := NewConditionEvaluator()
	got, err := evaluator.Evaluate(nil, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestValidateCondition(t *testing.T) {
	evaluator := NewConditionEvaluator()

	t.Run("合法条件无问题", func(t *testing.T) {
		node := mustNode(t, `{"and":[{"field":"a","operator":"eq","value":1},{"not":{"field":"b","operator":"is_null"}}]}`)
		assert.Empty(t, evaluator.ValidateCondition(node))
	})

	t.Run("问题带路径", func(t *testing.T) {
		node := mustNode(t, `{"and":[{"field":"a","operator":"bogus","value":1},{"operator":"eq","value":2}]}`)
		problems := evaluator.ValidateCondition(node)
		require.Len(t, problems, 2)
		assert.Contains(t, problems[0], "condition.and[0]")
		assert.Contains(t, problems[0], "bogus")
		assert.Contains(t, problems[1], "condition.and[1]")
	})

	t.Run("超出深度上限", func(t *testing.T) {
		leaf := &models.ConditionNode{Field: "a", Operator: "eq", Value: 1}
		node := leaf
		for i := 0; i < DefaultConditionMaxDepth+1; i++ {
			node = &models.ConditionNode{Not: []models.ConditionNode{*node}}
		}
		problems := evaluator.ValidateCondition(node)
		require.NotEmpty(t, problems)
		assert.Contains(t, problems[0], "嵌套深度")
	})

	t.Run("既是叶子又是组合", func(t *testing.T) {
		node := &models.ConditionNode{
			Field:    "a",
			Operator: "eq",
			And:      []models.ConditionNode{{Field: "b", Operator: "eq", Value: 1}},
		}
		problems := evaluator.ValidateCondition(node)
		require.NotEmpty(t, problems)
	})
}

func TestExtractPath(t *testing.T) {
	data := map[string]interface{}{
		"lead": map[string]interface{}{
			"company_name": "Acme",
			"contacts": []interface{}{
				map[string]interface{}{"name": "张三"},
				map[string]interface{}{"name": "李四"},
			},
		},
		"amount": float64(100),
	}

	assert.Equal(t, "Acme", ExtractPath(data, "lead.company_name"))
	assert.Equal(t, float64(100), ExtractPath(data, "amount"))
	assert.Equal(t, "李四", ExtractPath(data, "lead.contacts[1].name"))
	assert.Nil(t, ExtractPath(data, "lead.missing"))
	assert.Nil(t, ExtractPath(data, "lead.contacts[9].name"))
	assert.Nil(t, ExtractPath(data, ""))
	assert.Nil(t, ExtractPath(nil, "amount"))
}

func TestConditionNodeKind(t *testing.T) {
	assert.Equal(t, models.ConditionKindLeaf, mustNode(t, `{"field":"a","operator":"eq","value":1}`).Kind())
	assert.Equal(t, models.ConditionKindAnd, mustNode(t, `{"and":[{"field":"a","operator":"eq","value":1}]}`).Kind())
	assert.Equal(t, models.ConditionKindOr, mustNode(t, `{"or":[{"field":"a","operator":"eq","value":1}]}`).Kind())

	// not支持单节点对象和数组两种写法
	assert.Equal(t, models.ConditionKindNot, mustNode(t, `{"not":{"field":"a","operator":"eq","value":1}}`).Kind())
	assert.Equal(t, models.ConditionKindNot, mustNode(t, `{"not":[{"field":"a","operator":"eq","value":1}]}`).Kind())

	assert.Equal(t, models.ConditionKindInvalid, mustNode(t, `{}`).Kind())
}
