package services

import (
	"sync"
	"time"

	"crmflow/internal/models"
)

// LatencyClass 延迟等级
type LatencyClass string

const (
	LatencyInstant  LatencyClass = "instant"
	LatencyFast     LatencyClass = "fast"
	LatencyMedium   LatencyClass = "medium"
	LatencySlow     LatencyClass = "slow"
	LatencyVerySlow LatencyClass = "very_slow"
)

// 各延迟等级的预估时长（毫秒），模拟引擎的预测依据
var latencyEstimates = map[LatencyClass]int64{
	LatencyInstant:  0,
	LatencyFast:     500,
	LatencyMedium:   1000,
	LatencySlow:     5000,
	LatencyVerySlow: 30000,
}

// 各延迟等级的超时上界，单动作默认超时取此值
var latencyTimeouts = map[LatencyClass]time.Duration{
	LatencyInstant:  1 * time.Second,
	LatencyFast:     5 * time.Second,
	LatencyMedium:   15 * time.Second,
	LatencySlow:     60 * time.Second,
	LatencyVerySlow: 300 * time.Second,
}

// EstimateMs 该等级的预估执行时长（毫秒）
func (c LatencyClass) EstimateMs() int64 {
	return latencyEstimates[c]
}

// TimeoutBound 该等级的超时上界
func (c LatencyClass) TimeoutBound() time.Duration {
	if d, ok := latencyTimeouts[c]; ok {
		return d
	}
	return 60 * time.Second
}

// CatalogEntry 动作目录条目（静态元数据，执行期只读）
type CatalogEntry struct {
	ActionType  string       `json:"action_type"`
	Description string       `json:"description"`
	Idempotent  bool         `json:"idempotent"`
	Latency     LatencyClass `json:"latency"`
	SideEffects []string     `json:"side_effects"` // 声明的副作用标签
}

// ActionCatalog 动作目录
// 进程内静态注册，执行器与模拟引擎共用
type ActionCatalog struct {
	entries map[string]CatalogEntry
}

// NewActionCatalog 创建并注册内置动作的目录
func NewActionCatalog() *ActionCatalog {
	c := &ActionCatalog{entries: make(map[string]CatalogEntry)}

	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeSendEmail,
		Description: "发送邮件",
		Idempotent:  false,
		Latency:     LatencyFast,
		SideEffects: []string{"email"},
	})
	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeSendNotification,
		Description: "发送站内通知",
		Idempotent:  false,
		Latency:     LatencyInstant,
		SideEffects: []string{"notification"},
	})
	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeCallWebhook,
		Description: "调用Webhook",
		Idempotent:  false,
		Latency:     LatencyMedium,
		SideEffects: []string{"external_http"},
	})
	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeCreateTask,
		Description: "创建跟进任务",
		Idempotent:  false,
		Latency:     LatencyFast,
		SideEffects: []string{"record_write"},
	})
	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeUpdateRecord,
		Description: "更新记录字段",
		Idempotent:  true,
		Latency:     LatencyFast,
		SideEffects: []string{"record_write"},
	})
	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeApproval,
		Description: "审批环节",
		Idempotent:  false,
		Latency:     LatencyVerySlow,
		SideEffects: []string{"approval_request", "notification"},
	})
	c.Register(CatalogEntry{
		ActionType:  models.ActionTypeWait,
		Description: "等待",
		Idempotent:  true,
		Latency:     LatencySlow,
		SideEffects: []string{},
	})

	return c
}

// Register 注册动作条目
func (c *ActionCatalog) Register(entry CatalogEntry) {
	c.entries[entry.ActionType] = entry
}

// Get 查询动作条目
func (c *ActionCatalog) Get(actionType string) (CatalogEntry, bool) {
	entry, ok := c.entries[actionType]
	return entry, ok
}

// Has 判断动作类型是否已注册
func (c *ActionCatalog) Has(actionType string) bool {
	_, ok := c.entries[actionType]
	return ok
}

// List 列出全部动作条目
func (c *ActionCatalog) List() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	return entries
}

// 全局动作目录
var (
	defaultCatalog     *ActionCatalog
	defaultCatalogOnce sync.Once
)

// GetActionCatalog 获取全局动作目录
func GetActionCatalog() *ActionCatalog {
	defaultCatalogOnce.Do(func() {
		defaultCatalog = NewActionCatalog()
	})
	return defaultCatalog
}
