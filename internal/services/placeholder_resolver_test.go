package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTemplate(t *testing.T) {
	resolver := NewPlaceholderResolver()
	context := map[string]interface{}{
		"lead": map[string]interface{}{
			"company_name": "Acme",
			"score":        float64(87),
		},
		"owner_email": "sales@example.com",
	}

	t.Run("整串单占位符保留原始类型", func(t *testing.T) {
		resolved, warnings := resolver.ResolveTemplate(map[string]interface{}{
			"score": "{{lead.score}}",
		}, context)
		assert.Empty(t, warnings)
		assert.Equal(t, float64(87), resolved["score"])
	})

	t.Run("拼接替换", func(t *testing.T) {
		resolved, warnings := resolver.ResolveTemplate(map[string]interface{}{
			"subject": "新商机: {{lead.company_name}}（{{lead.score}}分）",
		}, context)
		assert.Empty(t, warnings)
		assert.Equal(t, "新商机: Acme（87分）", resolved["subject"])
	})

	t.Run("嵌套结构递归解析", func(t *testing.T) {
		resolved, warnings := resolver.ResolveTemplate(map[string]interface{}{
			"to": []interface{}{"{{owner_email}}"},
			"meta": map[string]interface{}{
				"company": "{{lead.company_name}}",
			},
		}, context)
		assert.Empty(t, warnings)
		assert.Equal(t, []interface{}{"sales@example.com"}, resolved["to"])
		assert.Equal(t, "Acme", resolved["meta"].(map[string]interface{})["company"])
	})

	t.Run("未解析占位符降级为空并告警", func(t *testing.T) {
		resolved, warnings := resolver.ResolveTemplate(map[string]interface{}{
			"cc": "{{missing.path}}",
		}, context)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "missing.path")
		assert.Equal(t, "", resolved["cc"])
	})

	t.Run("默认值", func(t *testing.T) {
		resolved, warnings := resolver.ResolveTemplate(map[string]interface{}{
			"region": "{{lead.region|default:华东}}",
		}, context)
		assert.Empty(t, warnings)
		assert.Equal(t, "华东", resolved["region"])
	})

	t.Run("非字符串值原样保留", func(t *testing.T) {
		resolved, warnings := resolver.ResolveTemplate(map[string]interface{}{
			"retry":  float64(3),
			"urgent": true,
		}, context)
		assert.Empty(t, warnings)
		assert.Equal(t, float64(3), resolved["retry"])
		assert.Equal(t, true, resolved["urgent"])
	})
}

func TestListPlaceholders(t *testing.T) {
	resolver := NewPlaceholderResolver()

	paths := resolver.ListPlaceholders(map[string]interface{}{
		"subject": "{{lead.company_name}} - {{lead.score}}",
		"body":    "{{lead.company_name}}",
		"region":  "{{lead.region|default:华东}}",
		"nested": map[string]interface{}{
			"to": []interface{}{"{{owner_email}}"},
		},
	})

	// 去重且剥离默认值部分
	assert.ElementsMatch(t, []string{"lead.company_name", "lead.score", "lead.region", "owner_email"}, paths)
}
