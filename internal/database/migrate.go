package database

import (
	"crmflow/internal/models"
	"crmflow/pkg/logger"
)

// Migrate 执行数据库迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := DB.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		// 工作流定义
		&models.Workflow{},
		&models.Trigger{},
		&models.Action{},
		// 运行记录
		&models.WorkflowRun{},
		&models.WorkflowActionRun{},
		// SLA
		&models.WorkflowSLA{},
		&models.SLABreach{},
	)

	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")

	return nil
}
