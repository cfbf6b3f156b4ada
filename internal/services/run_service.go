package services

import (
	"errors"
	"fmt"

	"crmflow/internal/models"

	"gorm.io/gorm"
)

// RunService 运行历史查询与取消
type RunService struct {
	db       *gorm.DB
	executor *ActionExecutor
}

// NewRunService 创建运行服务
func NewRunService(db *gorm.DB, executor *ActionExecutor) *RunService {
	return &RunService{db: db, executor: executor}
}

// List 列出运行历史，可按工作流和状态过滤
func (s *RunService) List(tenantID uint, workflowID uint, status string, page, pageSize int) ([]models.WorkflowRun, int64, error) {
	var runs []models.WorkflowRun
	var total int64

	query := s.db.Model(&models.WorkflowRun{}).Where("tenant_id = ?", tenantID)
	if workflowID > 0 {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Preload("Workflow").Preload("Trigger").
		Order("start_time DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runs).Error
	return runs, total, err
}

// GetByRunID 按运行标识查询运行详情（含动作记录）
func (s *RunService) GetByRunID(tenantID uint, runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	err := s.db.Where("tenant_id = ? AND run_id = ?", tenantID, runID).
		Preload("Workflow").Preload("Trigger").
		Preload("ActionRuns", func(db *gorm.DB) *gorm.DB { return db.Order("ordering ASC") }).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("运行不存在")
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Cancel 取消进行中的运行
// 到达终态的运行不能取消
func (s *RunService) Cancel(tenantID uint, runID string) error {
	run, err := s.GetByRunID(tenantID, runID)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return fmt.Errorf("运行已结束（%s），不能取消", run.Status)
	}
	return s.executor.Cancel(runID)
}
