package handlers

import (
	"time"

	"crmflow/internal/database"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type SystemHandler struct {
	startTime time.Time
}

func NewSystemHandler() *SystemHandler {
	return &SystemHandler{startTime: time.Now()}
}

// Health 健康检查：数据库和Redis连通性
func (h *SystemHandler) Health(c *gin.Context) {
	dbStatus := "ok"
	if db := database.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			dbStatus = "error"
		}
	} else {
		dbStatus = "not_initialized"
	}

	redisStatus := "ok"
	if err := database.GetRedisQueue().Ping(); err != nil {
		redisStatus = "error"
	}

	response.Success(c, gin.H{
		"status":         "ok",
		"database":       dbStatus,
		"redis":          redisStatus,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}
