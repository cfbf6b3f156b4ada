package services

import (
	"fmt"
	"regexp"
	"strings"
)

// 占位符语法：{{path.to.value}}，可带默认值 {{path|default:xx}}
var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// PlaceholderResolver 载荷占位符解析器
// 纯字符串扫描，受限语法，不做任何求值或副作用
type PlaceholderResolver struct{}

// NewPlaceholderResolver 创建占位符解析器
func NewPlaceholderResolver() *PlaceholderResolver {
	return &PlaceholderResolver{}
}

// ResolveTemplate 解析载荷模板中的所有占位符
// 未解析的占位符替换为空值并记入告警列表，不作为致命错误
func (r *PlaceholderResolver) ResolveTemplate(template map[string]interface{}, context map[string]interface{}) (map[string]interface{}, []string) {
	var warnings []string
	resolved := r.resolveValue(template, context, &warnings)
	result, ok := resolved.(map[string]interface{})
	if !ok {
		result = make(map[string]interface{})
	}
	return result, warnings
}

// resolveValue 递归解析
func (r *PlaceholderResolver) resolveValue(value interface{}, context map[string]interface{}, warnings *[]string) interface{} {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, context, warnings)
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved[k] = r.resolveValue(val, context, warnings)
		}
		return resolved
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, val := range v {
			resolved[i] = r.resolveValue(val, context, warnings)
		}
		return resolved
	default:
		return v
	}
}

// resolveString 解析单个字符串
// 整串只有一个占位符时保留原始类型，否则做字符串拼接替换
func (r *PlaceholderResolver) resolveString(expr string, context map[string]interface{}, warnings *[]string) interface{} {
	if !strings.Contains(expr, "{{") {
		return expr
	}

	matches := placeholderRe.FindAllStringSubmatch(expr, -1)
	if len(matches) == 1 && expr == matches[0][0] {
		value, ok := r.resolvePlaceholder(matches[0][1], context)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("占位符未解析: %s", matches[0][0]))
			return ""
		}
		return value
	}

	result := expr
	for _, match := range matches {
		value, ok := r.resolvePlaceholder(match[1], context)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("占位符未解析: %s", match[0]))
			value = ""
		}
		result = strings.Replace(result, match[0], placeholderToString(value), 1)
	}
	return result
}

// resolvePlaceholder 解析单个占位符表达式，支持 path|default:value
func (r *PlaceholderResolver) resolvePlaceholder(expr string, context map[string]interface{}) (interface{}, bool) {
	expr = strings.TrimSpace(expr)

	parts := strings.SplitN(expr, "|", 2)
	path := strings.TrimSpace(parts[0])

	value := ExtractPath(context, path)
	if value != nil {
		return value, true
	}

	if len(parts) > 1 {
		defaultPart := strings.TrimSpace(parts[1])
		if strings.HasPrefix(defaultPart, "default:") {
			defaultStr := strings.TrimSpace(strings.TrimPrefix(defaultPart, "default:"))
			defaultStr = strings.Trim(defaultStr, `'"`)
			return defaultStr, true
		}
	}

	return nil, false
}

// ListPlaceholders 列出模板中出现的所有占位符路径（模拟时用于预检）
func (r *PlaceholderResolver) ListPlaceholders(template map[string]interface{}) []string {
	var paths []string
	seen := make(map[string]bool)

	var walk func(value interface{})
	walk = func(value interface{}) {
		switch v := value.(type) {
		case string:
			for _, match := range placeholderRe.FindAllStringSubmatch(v, -1) {
				path := strings.TrimSpace(strings.SplitN(match[1], "|", 2)[0])
				if !seen[path] {
					seen[path] = true
					paths = append(paths, path)
				}
			}
		case map[string]interface{}:
			for _, val := range v {
				walk(val)
			}
		case []interface{}:
			for _, val := range v {
				walk(val)
			}
		}
	}
	walk(template)

	return paths
}

// placeholderToString 将解析值转换为字符串用于拼接
func placeholderToString(value interface{}) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = placeholderToString(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
