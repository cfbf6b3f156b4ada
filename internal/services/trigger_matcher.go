package services

import (
	"fmt"
	"sort"

	"crmflow/internal/models"
	"crmflow/pkg/logger"

	"gorm.io/gorm"
)

// TriggerMatch 一次匹配结果
type TriggerMatch struct {
	Trigger  models.Trigger
	Workflow models.Workflow
}

// TriggerMatcher 触发器匹配器
// 事件进来后筛选出条件为真的活跃触发器，按优先级排序
type TriggerMatcher struct {
	db        *gorm.DB
	evaluator *ConditionEvaluator
}

// NewTriggerMatcher 创建触发器匹配器
func NewTriggerMatcher(db *gorm.DB) *TriggerMatcher {
	return &TriggerMatcher{
		db:        db,
		evaluator: NewConditionEvaluator(),
	}
}

// Match 匹配事件应触发的所有触发器
// 只考虑活跃工作流下的活跃触发器；条件求值出错的触发器跳过并记日志，不影响其他触发器
func (m *TriggerMatcher) Match(tenantID uint, eventType string, eventContext map[string]interface{}) ([]TriggerMatch, error) {
	var triggers []models.Trigger
	err := m.db.Preload("Workflow").
		Joins("JOIN workflows ON workflows.id = triggers.workflow_id").
		Where("triggers.tenant_id = ? AND triggers.event_type = ? AND triggers.is_active = ?", tenantID, eventType, true).
		Where("workflows.is_active = ?", true).
		Find(&triggers).Error
	if err != nil {
		return nil, fmt.Errorf("查询触发器失败: %v", err)
	}

	return m.MatchCandidates(triggers, eventContext), nil
}

// MatchCandidates 对候选触发器集合做条件筛选和排序（纯逻辑，匹配结果确定）
func (m *TriggerMatcher) MatchCandidates(triggers []models.Trigger, eventContext map[string]interface{}) []TriggerMatch {
	var matches []TriggerMatch

	for _, trigger := range triggers {
		matched, err := m.triggerMatches(&trigger, eventContext)
		if err != nil {
			logger.GetLogger().WithError(err).Warnf("触发器 %d 条件求值失败，跳过", trigger.ID)
			continue
		}
		if matched {
			matches = append(matches, TriggerMatch{Trigger: trigger, Workflow: trigger.Workflow})
		}
	}

	// 优先级数字小的在前，同优先级按ID升序保证顺序稳定
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Trigger.Priority != matches[j].Trigger.Priority {
			return matches[i].Trigger.Priority < matches[j].Trigger.Priority
		}
		return matches[i].Trigger.ID < matches[j].Trigger.ID
	})

	return matches
}

// triggerMatches 单个触发器的条件判断，条件为空视为无条件匹配
func (m *TriggerMatcher) triggerMatches(trigger *models.Trigger, eventContext map[string]interface{}) (bool, error) {
	condition, err := ParseCondition(trigger.Condition)
	if err != nil {
		return false, err
	}
	if condition == nil {
		return true, nil
	}
	return m.evaluator.Evaluate(condition, eventContext)
}

// ParseCondition 将存储的条件JSON解析为条件树，空JSON返回nil
func ParseCondition(raw models.JSON) (*models.ConditionNode, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return nil, nil
	}
	var node models.ConditionNode
	if err := raw.Unmarshal(&node); err != nil {
		return nil, fmt.Errorf("解析条件树失败: %v", err)
	}
	return &node, nil
}
