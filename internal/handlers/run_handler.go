package handlers

import (
	"strconv"

	"crmflow/internal/middleware"
	"crmflow/internal/services"
	"crmflow/pkg/pagination"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type RunHandler struct {
	runService *services.RunService
}

func NewRunHandler(runService *services.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// List 分页列出运行历史
func (h *RunHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	var workflowID uint
	if v := c.Query("workflow_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			response.BadRequest(c, "无效的工作流ID")
			return
		}
		workflowID = uint(id)
	}
	status := c.Query("status")

	runs, total, err := h.runService.List(middleware.GetTenantID(c), workflowID, status, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询运行历史失败")
		return
	}
	response.SuccessWithPage(c, runs, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Get 查询运行详情（含各动作的执行记录）
func (h *RunHandler) Get(c *gin.Context) {
	runID := c.Param("run_id")
	if runID == "" {
		response.BadRequest(c, "缺少运行标识")
		return
	}

	run, err := h.runService.GetByRunID(middleware.GetTenantID(c), runID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, run)
}

// Cancel 取消进行中的运行
func (h *RunHandler) Cancel(c *gin.Context) {
	runID := c.Param("run_id")
	if runID == "" {
		response.BadRequest(c, "缺少运行标识")
		return
	}

	if err := h.runService.Cancel(middleware.GetTenantID(c), runID); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "取消请求已受理", nil)
}
