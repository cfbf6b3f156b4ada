package services

import (
	"testing"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
)

func makeSLA(id uint, targetMs, warningMs, criticalMs int64, windowSize int, sloTarget float64) *models.WorkflowSLA {
	sla := &models.WorkflowSLA{
		TargetMs:            targetMs,
		WarningThresholdMs:  warningMs,
		CriticalThresholdMs: criticalMs,
		WindowSize:          windowSize,
		SLOTargetPercent:    sloTarget,
		IsActive:            true,
	}
	sla.ID = id
	return sla
}

func TestEvaluateRun(t *testing.T) {
	// 目标5分钟，warning 5分钟，critical 5分钟（与告警场景一致）
	sla := makeSLA(1, 300000, 300000, 300000, 100, 99)

	t.Run("达标无违约", func(t *testing.T) {
		severity, margin := EvaluateRun(sla, 200000)
		assert.Equal(t, "", severity)
		assert.Equal(t, int64(0), margin)
	})

	t.Run("超过critical阈值", func(t *testing.T) {
		// 实际450秒对阈值300秒，超出150秒
		severity, margin := EvaluateRun(sla, 450000)
		assert.Equal(t, models.BreachSeverityCritical, severity)
		assert.Equal(t, int64(150000), margin)
	})
}

func TestEvaluateRunSeverityLevels(t *testing.T) {
	sla := makeSLA(2, 100000, 200000, 400000, 100, 99)

	tests := []struct {
		name       string
		durationMs int64
		severity   string
		margin     int64
	}{
		{"目标内", 80000, "", 0},
		{"超目标但未到warning", 150000, "", 0},
		{"warning", 250000, models.BreachSeverityWarning, 50000},
		{"恰好在warning阈值上不违约", 200000, "", 0},
		{"critical覆盖warning只产生一条", 500000, models.BreachSeverityCritical, 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			severity, margin := EvaluateRun(sla, tt.durationMs)
			assert.Equal(t, tt.severity, severity)
			assert.Equal(t, tt.margin, margin)
		})
	}
}

func TestSlidingWindow(t *testing.T) {
	window := newSlidingWindow(4)

	assert.False(t, window.Full())
	assert.Equal(t, float64(100), window.CompliancePercent())

	window.Add(true)
	window.Add(true)
	window.Add(false)
	assert.False(t, window.Full())
	assert.InDelta(t, 66.67, window.CompliancePercent(), 0.01)

	window.Add(true)
	assert.True(t, window.Full())
	assert.Equal(t, float64(75), window.CompliancePercent())

	// 窗口滚动：最旧的结果被挤出
	window.Add(false)
	window.Add(false)
	assert.Equal(t, float64(50), window.CompliancePercent())
}

func TestTrackSLOViolationEdge(t *testing.T) {
	monitor := NewSLAMonitor(nil, nil)
	// 窗口4次，目标75%
	sla := makeSLA(3, 1000, 2000, 3000, 4, 75)

	// 窗口未满不评估
	monitor.trackSLO(sla, false)
	monitor.trackSLO(sla, false)
	monitor.trackSLO(sla, true)
	assert.False(t, monitor.violating[sla.ID])

	// 填满后达标率50% < 75%，进入违约状态
	monitor.trackSLO(sla, true)
	assert.True(t, monitor.violating[sla.ID])

	// 持续违约不重复翻转
	monitor.trackSLO(sla, false)
	assert.True(t, monitor.violating[sla.ID])

	// 恢复达标后状态回落
	monitor.trackSLO(sla, true)
	monitor.trackSLO(sla, true)
	monitor.trackSLO(sla, true)
	assert.False(t, monitor.violating[sla.ID])
}

func TestGetSLOStatus(t *testing.T) {
	monitor := NewSLAMonitor(nil, nil)
	sla := makeSLA(4, 1000, 2000, 3000, 4, 99)

	status := monitor.GetSLOStatus(sla)
	assert.Equal(t, 0, status.SampleCount)
	assert.Equal(t, float64(100), status.CompliancePercent)

	monitor.trackSLO(sla, true)
	monitor.trackSLO(sla, false)

	status = monitor.GetSLOStatus(sla)
	assert.Equal(t, 2, status.SampleCount)
	assert.Equal(t, float64(50), status.CompliancePercent)
}

func TestResetWindow(t *testing.T) {
	monitor := NewSLAMonitor(nil, nil)
	sla := makeSLA(5, 1000, 2000, 3000, 2, 99)

	monitor.trackSLO(sla, false)
	monitor.trackSLO(sla, false)
	assert.True(t, monitor.violating[sla.ID])

	monitor.ResetWindow(sla.ID)
	assert.False(t, monitor.violating[sla.ID])
	status := monitor.GetSLOStatus(sla)
	assert.Equal(t, 0, status.SampleCount)
}

func TestOnRunCompletedIgnoresCancelled(t *testing.T) {
	monitor := NewSLAMonitor(nil, nil)

	run := &models.WorkflowRun{Status: models.RunStatusCancelled, DurationMs: 999999}
	// 取消的运行直接忽略，不触碰任何窗口
	monitor.OnRunCompleted(run)
	assert.Empty(t, monitor.windows)
}
