package handlers

import (
	"strconv"

	"crmflow/internal/middleware"
	"crmflow/internal/services"
	"crmflow/pkg/pagination"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type SLAHandler struct {
	slaService *services.SLAService
}

func NewSLAHandler(slaService *services.SLAService) *SLAHandler {
	return &SLAHandler{slaService: slaService}
}

// Create 创建SLA配置
func (h *SLAHandler) Create(c *gin.Context) {
	var req services.CreateSLARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	sla, err := h.slaService.Create(middleware.GetTenantID(c), middleware.GetUserID(c), &req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, sla)
}

// Update 更新SLA配置
func (h *SLAHandler) Update(c *gin.Context) {
	slaID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的SLA ID")
		return
	}

	var req services.UpdateSLARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	sla, err := h.slaService.Update(middleware.GetTenantID(c), slaID, middleware.GetUserID(c), &req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, sla)
}

// List 分页列出SLA配置
func (h *SLAHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	slas, total, err := h.slaService.List(middleware.GetTenantID(c), params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询SLA失败")
		return
	}
	response.SuccessWithPage(c, slas, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Delete 删除SLA配置
func (h *SLAHandler) Delete(c *gin.Context) {
	slaID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的SLA ID")
		return
	}

	if err := h.slaService.Delete(middleware.GetTenantID(c), slaID); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// GetSLOStatus 查询SLA的SLO窗口状态
func (h *SLAHandler) GetSLOStatus(c *gin.Context) {
	slaID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的SLA ID")
		return
	}

	status, err := h.slaService.GetSLOStatus(middleware.GetTenantID(c), slaID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, status)
}

// ListBreaches 分页列出违约记录
func (h *SLAHandler) ListBreaches(c *gin.Context) {
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

	var acknowledged *bool
	if v := c.Query("acknowledged"); v != "" {
		b := v == "true"
		acknowledged = &b
	}

	breaches, total, err := h.slaService.ListBreaches(middleware.GetTenantID(c), workflowID, acknowledged, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询违约记录失败")
		return
	}
	response.SuccessWithPage(c, breaches, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// AcknowledgeBreach 确认违约记录
func (h *SLAHandler) AcknowledgeBreach(c *gin.Context) {
	breachID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的违约记录ID")
		return
	}

	breach, err := h.slaService.Acknowledge(middleware.GetTenantID(c), breachID, middleware.GetUserID(c))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, breach)
}
