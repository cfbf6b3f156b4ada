package services

import (
	"errors"
	"fmt"
	"time"

	"crmflow/internal/models"

	"gorm.io/gorm"
)

// SLAService SLA配置与违约记录管理
type SLAService struct {
	db      *gorm.DB
	monitor *SLAMonitor
}

// NewSLAService 创建SLA服务
func NewSLAService(db *gorm.DB, monitor *SLAMonitor) *SLAService {
	return &SLAService{db: db, monitor: monitor}
}

// CreateSLARequest 创建SLA请求
type CreateSLARequest struct {
	WorkflowID          uint     `json:"workflow_id" binding:"required"`
	Name                string   `json:"name" binding:"required"`
	TargetMs            int64    `json:"target_ms" binding:"required,min=1"`
	WarningThresholdMs  int64    `json:"warning_threshold_ms" binding:"required,min=1"`
	CriticalThresholdMs int64    `json:"critical_threshold_ms" binding:"required,min=1"`
	WindowSize          int      `json:"window_size"`
	SLOTargetPercent    float64  `json:"slo_target_percent"`
	Recipients          []string `json:"recipients"`
}

// validateThresholds 阈值必须满足 target <= warning <= critical
// 三者相等是合法配置，此时只产生critical违约
func (r *CreateSLARequest) validateThresholds() error {
	if r.WarningThresholdMs < r.TargetMs {
		return fmt.Errorf("warning阈值不能小于目标时长")
	}
	if r.CriticalThresholdMs < r.WarningThresholdMs {
		return fmt.Errorf("critical阈值不能小于warning阈值")
	}
	return nil
}

// Create 创建SLA配置，每个工作流至多一条
func (s *SLAService) Create(tenantID, userID uint, req *CreateSLARequest) (*models.WorkflowSLA, error) {
	if err := req.validateThresholds(); err != nil {
		return nil, err
	}

	var workflow models.Workflow
	if err := s.db.Where("tenant_id = ?", tenantID).First(&workflow, req.WorkflowID).Error; err != nil {
		return nil, fmt.Errorf("工作流不存在")
	}

	var count int64
	s.db.Model(&models.WorkflowSLA{}).Where("workflow_id = ?", req.WorkflowID).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("工作流已存在SLA配置")
	}

	sla := &models.WorkflowSLA{
		TenantID:            tenantID,
		WorkflowID:          req.WorkflowID,
		Name:                req.Name,
		IsActive:            true,
		TargetMs:            req.TargetMs,
		WarningThresholdMs:  req.WarningThresholdMs,
		CriticalThresholdMs: req.CriticalThresholdMs,
		WindowSize:          req.WindowSize,
		SLOTargetPercent:    req.SLOTargetPercent,
		Recipients:          models.MustJSON(req.Recipients),
		CreatedBy:           userID,
	}
	if sla.WindowSize <= 0 {
		sla.WindowSize = 100
	}
	if sla.SLOTargetPercent <= 0 {
		sla.SLOTargetPercent = 99
	}

	if err := s.db.Create(sla).Error; err != nil {
		return nil, fmt.Errorf("创建SLA失败: %v", err)
	}
	return sla, nil
}

// UpdateSLARequest 更新SLA请求
type UpdateSLARequest struct {
	Name                string   `json:"name"`
	IsActive            *bool    `json:"is_active"`
	TargetMs            int64    `json:"target_ms"`
	WarningThresholdMs  int64    `json:"warning_threshold_ms"`
	CriticalThresholdMs int64    `json:"critical_threshold_ms"`
	WindowSize          int      `json:"window_size"`
	SLOTargetPercent    float64  `json:"slo_target_percent"`
	Recipients          []string `json:"recipients"`
}

// Update 更新SLA配置，阈值或窗口变更后重置SLO窗口
func (s *SLAService) Update(tenantID, slaID, userID uint, req *UpdateSLARequest) (*models.WorkflowSLA, error) {
	sla, err := s.GetByID(tenantID, slaID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		sla.Name = req.Name
	}
	if req.IsActive != nil {
		sla.IsActive = *req.IsActive
	}
	windowChanged := false
	if req.TargetMs > 0 {
		sla.TargetMs = req.TargetMs
		windowChanged = true
	}
	if req.WarningThresholdMs > 0 {
		sla.WarningThresholdMs = req.WarningThresholdMs
	}
	if req.CriticalThresholdMs > 0 {
		sla.CriticalThresholdMs = req.CriticalThresholdMs
	}
	if req.WindowSize > 0 && req.WindowSize != sla.WindowSize {
		sla.WindowSize = req.WindowSize
		windowChanged = true
	}
	if req.SLOTargetPercent > 0 {
		sla.SLOTargetPercent = req.SLOTargetPercent
	}
	if req.Recipients != nil {
		sla.Recipients = models.MustJSON(req.Recipients)
	}

	if sla.WarningThresholdMs < sla.TargetMs {
		return nil, fmt.Errorf("warning阈值不能小于目标时长")
	}
	if sla.CriticalThresholdMs < sla.WarningThresholdMs {
		return nil, fmt.Errorf("critical阈值不能小于warning阈值")
	}

	sla.UpdatedBy = userID
	if err := s.db.Save(sla).Error; err != nil {
		return nil, fmt.Errorf("更新SLA失败: %v", err)
	}

	if windowChanged && s.monitor != nil {
		s.monitor.ResetWindow(sla.ID)
	}
	return sla, nil
}

// GetByID 按ID查询SLA（租户隔离）
func (s *SLAService) GetByID(tenantID, slaID uint) (*models.WorkflowSLA, error) {
	var sla models.WorkflowSLA
	err := s.db.Where("tenant_id = ?", tenantID).First(&sla, slaID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("SLA不存在")
	}
	if err != nil {
		return nil, err
	}
	return &sla, nil
}

// List 列出租户下的SLA配置
func (s *SLAService) List(tenantID uint, page, pageSize int) ([]models.WorkflowSLA, int64, error) {
	var slas []models.WorkflowSLA
	var total int64

	query := s.db.Model(&models.WorkflowSLA{}).Where("tenant_id = ?", tenantID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Preload("Workflow").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&slas).Error
	return slas, total, err
}

// Delete 删除SLA配置（违约历史保留）
func (s *SLAService) Delete(tenantID, slaID uint) error {
	sla, err := s.GetByID(tenantID, slaID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(sla).Error; err != nil {
		return fmt.Errorf("删除SLA失败: %v", err)
	}
	if s.monitor != nil {
		s.monitor.ResetWindow(slaID)
	}
	return nil
}

// ListBreaches 列出违约记录，可按工作流和确认状态过滤
func (s *SLAService) ListBreaches(tenantID uint, workflowID uint, acknowledged *bool, page, pageSize int) ([]models.SLABreach, int64, error) {
	var breaches []models.SLABreach
	var total int64

	query := s.db.Model(&models.SLABreach{}).Where("tenant_id = ?", tenantID)
	if workflowID > 0 {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if acknowledged != nil {
		query = query.Where("acknowledged = ?", *acknowledged)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Preload("Run").Preload("Workflow").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&breaches).Error
	return breaches, total, err
}

// Acknowledge 确认违约记录
// 只允许 未确认→已确认 单向流转，重复确认报错
func (s *SLAService) Acknowledge(tenantID, breachID, userID uint) (*models.SLABreach, error) {
	var breach models.SLABreach
	err := s.db.Where("tenant_id = ?", tenantID).First(&breach, breachID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("违约记录不存在")
	}
	if err != nil {
		return nil, err
	}

	if breach.Acknowledged {
		return nil, fmt.Errorf("违约记录已确认，不能重复确认")
	}

	now := time.Now()
	breach.Acknowledged = true
	breach.AcknowledgedBy = &userID
	breach.AcknowledgedAt = &now

	if err := s.db.Save(&breach).Error; err != nil {
		return nil, fmt.Errorf("确认违约记录失败: %v", err)
	}
	return &breach, nil
}

// GetSLOStatus 查询SLA的SLO窗口状态
func (s *SLAService) GetSLOStatus(tenantID, slaID uint) (*SLOStatus, error) {
	sla, err := s.GetByID(tenantID, slaID)
	if err != nil {
		return nil, err
	}
	if s.monitor == nil {
		return nil, fmt.Errorf("SLA监控器未启用")
	}
	return s.monitor.GetSLOStatus(sla), nil
}
