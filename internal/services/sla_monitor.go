package services

import (
	"sync"

	"crmflow/internal/models"
	"crmflow/pkg/logger"
	"crmflow/pkg/queue"

	"gorm.io/gorm"
)

// slidingWindow 最近N次运行的达标环形缓冲
type slidingWindow struct {
	results []bool // true表示该次运行在目标时长内
	size    int
	next    int
	count   int
}

// newSlidingWindow 创建窗口
func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	return &slidingWindow{results: make([]bool, size), size: size}
}

// Add 记入一次运行结果
func (w *slidingWindow) Add(withinTarget bool) {
	w.results[w.next] = withinTarget
	w.next = (w.next + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Full 窗口是否已填满
func (w *slidingWindow) Full() bool {
	return w.count == w.size
}

// CompliancePercent 窗口内达标百分比
func (w *slidingWindow) CompliancePercent() float64 {
	if w.count == 0 {
		return 100
	}
	met := 0
	for i := 0; i < w.count; i++ {
		if w.results[i] {
			met++
		}
	}
	return float64(met) / float64(w.count) * 100
}

// SLAMonitor SLA监控器
// 运行到达终态后评估单次时长违约，并维护SLO滚动窗口做违约边沿检测
type SLAMonitor struct {
	db    *gorm.DB
	queue *queue.RedisQueue

	mu        sync.Mutex
	windows   map[uint]*slidingWindow // sla_id -> 窗口
	violating map[uint]bool           // sla_id -> 当前是否处于SLO违约状态
}

// NewSLAMonitor 创建SLA监控器
func NewSLAMonitor(db *gorm.DB, redisQueue *queue.RedisQueue) *SLAMonitor {
	return &SLAMonitor{
		db:        db,
		queue:     redisQueue,
		windows:   make(map[uint]*slidingWindow),
		violating: make(map[uint]bool),
	}
}

// OnRunCompleted 运行终态回调
// 取消的运行不计入SLA评估
func (m *SLAMonitor) OnRunCompleted(run *models.WorkflowRun) {
	if !run.IsTerminal() || run.Status == models.RunStatusCancelled {
		return
	}

	sla := m.loadSLA(run.WorkflowID)
	if sla == nil {
		return
	}

	severity, margin := EvaluateRun(sla, run.DurationMs)
	if severity != "" {
		m.recordBreach(sla, run, severity, margin)
	}

	m.trackSLO(sla, run.DurationMs <= sla.TargetMs)
}

// EvaluateRun 评估单次运行时长的违约级别（纯逻辑）
// critical覆盖warning，同一次运行至多一个级别；返回级别和超出幅度
func EvaluateRun(sla *models.WorkflowSLA, durationMs int64) (string, int64) {
	if durationMs > sla.CriticalThresholdMs {
		return models.BreachSeverityCritical, durationMs - sla.CriticalThresholdMs
	}
	if durationMs > sla.WarningThresholdMs {
		return models.BreachSeverityWarning, durationMs - sla.WarningThresholdMs
	}
	return "", 0
}

// loadSLA 加载工作流的生效SLA配置
func (m *SLAMonitor) loadSLA(workflowID uint) *models.WorkflowSLA {
	if m.db == nil {
		return nil
	}
	var sla models.WorkflowSLA
	err := m.db.Where("workflow_id = ? AND is_active = ?", workflowID, true).First(&sla).Error
	if err != nil {
		return nil
	}
	return &sla
}

// recordBreach 落库违约记录并投递告警
// run_id唯一索引保证同一次运行至多一条违约
func (m *SLAMonitor) recordBreach(sla *models.WorkflowSLA, run *models.WorkflowRun, severity string, margin int64) {
	threshold := sla.WarningThresholdMs
	if severity == models.BreachSeverityCritical {
		threshold = sla.CriticalThresholdMs
	}

	breach := &models.SLABreach{
		TenantID:   sla.TenantID,
		SLAID:      sla.ID,
		WorkflowID: sla.WorkflowID,
		RunID:      run.ID,
		Severity:   severity,
		ActualMs:   run.DurationMs,
		TargetMs:   threshold,
		MarginMs:   margin,
	}

	if m.db != nil {
		if err := m.db.Create(breach).Error; err != nil {
			logger.GetLogger().WithError(err).Warnf("保存SLA违约记录失败 run_id=%s", run.RunID)
			return
		}
	}

	logger.GetLogger().WithFields(map[string]interface{}{
		"sla_id":    sla.ID,
		"run_id":    run.RunID,
		"severity":  severity,
		"actual_ms": run.DurationMs,
		"margin_ms": margin,
	}).Warn("SLA违约")

	m.enqueueAlert(sla, severity, run.DurationMs, threshold, margin)
}

// trackSLO 维护SLO滚动窗口，仅在 达标→违约 边沿告警一次
func (m *SLAMonitor) trackSLO(sla *models.WorkflowSLA, withinTarget bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window, ok := m.windows[sla.ID]
	if !ok || window.size != sla.WindowSize {
		window = newSlidingWindow(sla.WindowSize)
		m.windows[sla.ID] = window
	}
	window.Add(withinTarget)

	if !window.Full() {
		return
	}

	compliance := window.CompliancePercent()
	violatingNow := compliance < sla.SLOTargetPercent

	if violatingNow && !m.violating[sla.ID] {
		logger.GetLogger().Warnf("SLA %d SLO违约: 窗口达标率 %.2f%% 低于目标 %.2f%%", sla.ID, compliance, sla.SLOTargetPercent)
		m.enqueueAlert(sla, "slo_violation", int64(compliance*100), int64(sla.SLOTargetPercent*100), 0)
	}
	m.violating[sla.ID] = violatingNow
}

// SLOStatus 某个SLA当前的SLO窗口状态
type SLOStatus struct {
	SLAID             uint    `json:"sla_id"`
	WindowSize        int     `json:"window_size"`
	SampleCount       int     `json:"sample_count"`
	CompliancePercent float64 `json:"compliance_percent"`
	TargetPercent     float64 `json:"target_percent"`
	Violating         bool    `json:"violating"`
}

// GetSLOStatus 查询SLA的SLO窗口状态
func (m *SLAMonitor) GetSLOStatus(sla *models.WorkflowSLA) *SLOStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := &SLOStatus{
		SLAID:             sla.ID,
		WindowSize:        sla.WindowSize,
		CompliancePercent: 100,
		TargetPercent:     sla.SLOTargetPercent,
	}
	if window, ok := m.windows[sla.ID]; ok {
		status.SampleCount = window.count
		status.CompliancePercent = window.CompliancePercent()
		status.Violating = m.violating[sla.ID]
	}
	return status
}

// Sweep 定时巡检：从运行历史重建各SLA的窗口状态
// 进程重启后窗口为空，靠巡检恢复
func (m *SLAMonitor) Sweep() {
	if m.db == nil {
		return
	}

	var slas []models.WorkflowSLA
	if err := m.db.Where("is_active = ?", true).Find(&slas).Error; err != nil {
		logger.GetLogger().WithError(err).Error("SLA巡检加载配置失败")
		return
	}

	for i := range slas {
		sla := &slas[i]

		var durations []int64
		err := m.db.Model(&models.WorkflowRun{}).
			Where("workflow_id = ? AND status <> ? AND end_time IS NOT NULL", sla.WorkflowID, models.RunStatusCancelled).
			Order("end_time DESC").
			Limit(sla.WindowSize).
			Pluck("duration_ms", &durations).Error
		if err != nil {
			logger.GetLogger().WithError(err).Warnf("SLA %d 巡检加载运行历史失败", sla.ID)
			continue
		}

		m.mu.Lock()
		window := newSlidingWindow(sla.WindowSize)
		// 历史按时间倒序取出，入窗时恢复时间正序
		for j := len(durations) - 1; j >= 0; j-- {
			window.Add(durations[j] <= sla.TargetMs)
		}
		m.windows[sla.ID] = window
		if window.Full() {
			m.violating[sla.ID] = window.CompliancePercent() < sla.SLOTargetPercent
		}
		m.mu.Unlock()
	}

	logger.GetLogger().Debugf("SLA巡检完成，共 %d 个生效SLA", len(slas))
}

// enqueueAlert 投递SLA告警
func (m *SLAMonitor) enqueueAlert(sla *models.WorkflowSLA, severity string, actual, target, margin int64) {
	if m.queue == nil {
		return
	}

	var recipients []string
	if err := sla.Recipients.Unmarshal(&recipients); err != nil {
		logger.GetLogger().WithError(err).Warnf("SLA %d 接收人列表解析失败", sla.ID)
	}

	workflowName := ""
	if m.db != nil {
		var workflow models.Workflow
		if err := m.db.Select("name").First(&workflow, sla.WorkflowID).Error; err == nil {
			workflowName = workflow.Name
		}
	}

	if err := m.queue.EnqueueAlert(&queue.AlertMessage{
		SLAName:        sla.Name,
		WorkflowName:   workflowName,
		Severity:       severity,
		ActualDuration: actual,
		TargetDuration: target,
		BreachMargin:   margin,
		Recipients:     recipients,
		TenantID:       sla.TenantID,
	}); err != nil {
		logger.GetLogger().WithError(err).Warn("SLA告警入队失败")
	}
}

// ResetWindow 重置某个SLA的窗口（配置变更后调用）
func (m *SLAMonitor) ResetWindow(slaID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, slaID)
	delete(m.violating, slaID)
}
