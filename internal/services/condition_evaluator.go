package services

import (
	"fmt"
	"strconv"
	"strings"

	"crmflow/internal/models"
)

// 条件树最大嵌套深度，超出在验证阶段报错
const DefaultConditionMaxDepth = 32

var conditionMaxDepth = DefaultConditionMaxDepth

// SetConditionMaxDepth 覆盖条件树嵌套深度上限（启动时按配置调用一次）
func SetConditionMaxDepth(depth int) {
	if depth > 0 {
		conditionMaxDepth = depth
	}
}

// 叶子节点支持的操作符集合
var knownOperators = map[string]bool{
	models.OperatorEq:          true,
	models.OperatorNe:          true,
	models.OperatorGt:          true,
	models.OperatorGte:         true,
	models.OperatorLt:          true,
	models.OperatorLte:         true,
	models.OperatorIn:          true,
	models.OperatorNotIn:       true,
	models.OperatorContains:    true,
	models.OperatorNotContains: true,
	models.OperatorStartsWith:  true,
	models.OperatorEndsWith:    true,
	models.OperatorIsNull:      true,
	models.OperatorIsNotNull:   true,
}

// ConditionEvaluator 条件求值器
// 对标签化条件树 {Leaf, And, Or, Not} 做结构递归求值，无副作用
type ConditionEvaluator struct {
	maxDepth int
}

// NewConditionEvaluator 创建条件求值器
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{maxDepth: conditionMaxDepth}
}

// Evaluate 对条件树求值
// 叶子级的类型不匹配按false处理（fail closed），只有结构畸形才返回错误
func (e *ConditionEvaluator) Evaluate(node *models.ConditionNode, context map[string]interface{}) (bool, error) {
	if node == nil {
		return true, nil
	}

	switch node.Kind() {
	case models.ConditionKindLeaf:
		return e.evaluateLeaf(node, context)

	case models.ConditionKindAnd:
		// 从左到右短路
		for i := range node.And {
			ok, err := e.Evaluate(&node.And[i], context)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case models.ConditionKindOr:
		for i := range node.Or {
			ok, err := e.Evaluate(&node.Or[i], context)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case models.ConditionKindNot:
		if len(node.Not) != 1 {
			return false, fmt.Errorf("not节点必须有且仅有1个子节点，实际%d个", len(node.Not))
		}
		ok, err := e.Evaluate(&node.Not[0], context)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("无效的条件节点")
	}
}

// evaluateLeaf 对叶子节点求值
func (e *ConditionEvaluator) evaluateLeaf(node *models.ConditionNode, context map[string]interface{}) (bool, error) {
	if node.Field == "" || node.Operator == "" {
		return false, fmt.Errorf("叶子节点缺少field或operator")
	}
	if !knownOperators[node.Operator] {
		return false, fmt.Errorf("未知的操作符: %s", node.Operator)
	}

	// 缺失路径解析为空值哨兵
	actual := ExtractPath(context, node.Field)

	switch node.Operator {
	case models.OperatorIsNull:
		return actual == nil, nil
	case models.OperatorIsNotNull:
		return actual != nil, nil
	}

	switch node.Operator {
	case models.OperatorEq:
		return valuesEqual(actual, node.Value), nil
	case models.OperatorNe:
		return !valuesEqual(actual, node.Value), nil

	case models.OperatorGt, models.OperatorGte, models.OperatorLt, models.OperatorLte:
		// 数值操作符要求两侧都能转成数字，转换失败按false处理
		left, ok1 := toNumber(actual)
		right, ok2 := toNumber(node.Value)
		if !ok1 || !ok2 {
			return false, nil
		}
		switch node.Operator {
		case models.OperatorGt:
			return left > right, nil
		case models.OperatorGte:
			return left >= right, nil
		case models.OperatorLt:
			return left < right, nil
		default:
			return left <= right, nil
		}

	case models.OperatorIn:
		return valueInList(actual, node.Value), nil
	case models.OperatorNotIn:
		return !valueInList(actual, node.Value), nil

	case models.OperatorContains:
		return stringsMatch(actual, node.Value, strings.Contains), nil
	case models.OperatorNotContains:
		return !stringsMatch(actual, node.Value, strings.Contains), nil
	case models.OperatorStartsWith:
		return stringsMatch(actual, node.Value, strings.HasPrefix), nil
	case models.OperatorEndsWith:
		return stringsMatch(actual, node.Value, strings.HasSuffix), nil
	}

	return false, fmt.Errorf("未知的操作符: %s", node.Operator)
}

// ValidateCondition 验证条件树结构
// 返回所有结构问题的描述列表（路径+原因），在激活/导入阶段调用
func (e *ConditionEvaluator) ValidateCondition(node *models.ConditionNode) []string {
	if node == nil {
		return nil
	}
	return e.validateNode(node, "condition", 1)
}

func (e *ConditionEvaluator) validateNode(node *models.ConditionNode, path string, depth int) []string {
	var problems []string

	if depth > e.maxDepth {
		return []string{fmt.Sprintf("%s: 条件树嵌套深度超过上限%d", path, e.maxDepth)}
	}

	switch node.Kind() {
	case models.ConditionKindLeaf:
		if node.Field == "" {
			problems = append(problems, fmt.Sprintf("%s: 叶子节点缺少field", path))
		}
		if node.Operator == "" {
			problems = append(problems, fmt.Sprintf("%s: 叶子节点缺少operator", path))
		} else if !knownOperators[node.Operator] {
			problems = append(problems, fmt.Sprintf("%s: 未知的操作符 %s", path, node.Operator))
		}

	case models.ConditionKindAnd:
		for i := range node.And {
			problems = append(problems, e.validateNode(&node.And[i], fmt.Sprintf("%s.and[%d]", path, i), depth+1)...)
		}

	case models.ConditionKindOr:
		for i := range node.Or {
			problems = append(problems, e.validateNode(&node.Or[i], fmt.Sprintf("%s.or[%d]", path, i), depth+1)...)
		}

	case models.ConditionKindNot:
		if len(node.Not) != 1 {
			problems = append(problems, fmt.Sprintf("%s: not节点必须有且仅有1个子节点，实际%d个", path, len(node.Not)))
		}
		for i := range node.Not {
			problems = append(problems, e.validateNode(&node.Not[i], fmt.Sprintf("%s.not[%d]", path, i), depth+1)...)
		}

	default:
		problems = append(problems, fmt.Sprintf("%s: 组合节点必须是and/or/not之一且至少有1个子节点", path))
	}

	return problems
}

// toNumber 数值转换
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// valuesEqual 等值比较：两侧都是数字按数值比，否则按字符串不区分大小写比
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if left, ok1 := toNumber(a); ok1 {
		if right, ok2 := toNumber(b); ok2 {
			return left == right
		}
	}

	if ab, ok1 := a.(bool); ok1 {
		if bb, ok2 := b.(bool); ok2 {
			return ab == bb
		}
	}

	return strings.EqualFold(toCompareString(a), toCompareString(b))
}

// valueInList 成员判断，列表值必须是数组
func valueInList(actual, listValue interface{}) bool {
	list, ok := listValue.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(actual, item) {
			return true
		}
	}
	return false
}

// stringsMatch 字符串匹配，不区分大小写，非字符串转换后比较
func stringsMatch(actual, expected interface{}, match func(s, substr string) bool) bool {
	if actual == nil || expected == nil {
		return false
	}
	return match(strings.ToLower(toCompareString(actual)), strings.ToLower(toCompareString(expected)))
}

// toCompareString 转换为用于比较的字符串
func toCompareString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
