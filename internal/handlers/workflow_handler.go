package handlers

import (
	"strconv"

	"crmflow/internal/middleware"
	"crmflow/internal/services"
	"crmflow/pkg/pagination"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type WorkflowHandler struct {
	workflowService *services.WorkflowService
	simulation      *services.SimulationEngine
}

func NewWorkflowHandler(workflowService *services.WorkflowService, simulation *services.SimulationEngine) *WorkflowHandler {
	return &WorkflowHandler{
		workflowService: workflowService,
		simulation:      simulation,
	}
}

// Create 创建工作流
func (h *WorkflowHandler) Create(c *gin.Context) {
	var req services.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	workflow, err := h.workflowService.Create(middleware.GetTenantID(c), middleware.GetUserID(c), &req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, workflow)
}

// Update 更新工作流
func (h *WorkflowHandler) Update(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	var req services.UpdateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	workflow, err := h.workflowService.Update(middleware.GetTenantID(c), workflowID, middleware.GetUserID(c), &req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, workflow)
}

// Get 查询工作流详情（含触发器和动作）
func (h *WorkflowHandler) Get(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	workflow, err := h.workflowService.GetDetail(middleware.GetTenantID(c), workflowID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, workflow)
}

// List 分页列出工作流
func (h *WorkflowHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	keyword := c.Query("keyword")

	var isActive *bool
	if v := c.Query("is_active"); v != "" {
		b := v == "true"
		isActive = &b
	}

	workflows, total, err := h.workflowService.List(middleware.GetTenantID(c), keyword, isActive, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询工作流失败")
		return
	}
	response.SuccessWithPage(c, workflows, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Delete 删除工作流
func (h *WorkflowHandler) Delete(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	if err := h.workflowService.Delete(middleware.GetTenantID(c), workflowID); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// Activate 激活工作流，校验不通过时返回问题清单
func (h *WorkflowHandler) Activate(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	problems, err := h.workflowService.Activate(middleware.GetTenantID(c), workflowID, middleware.GetUserID(c))
	if err != nil {
		if len(problems) > 0 {
			response.Success(c, gin.H{"activated": false, "problems": problems})
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"activated": true})
}

// Deactivate 停用工作流
func (h *WorkflowHandler) Deactivate(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	if err := h.workflowService.Deactivate(middleware.GetTenantID(c), workflowID, middleware.GetUserID(c)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "停用成功", nil)
}

// Simulate 对工作流做干跑模拟
func (h *WorkflowHandler) Simulate(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	var event services.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.simulation.Simulate(middleware.GetTenantID(c), workflowID, &event)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, result)
}

// CreateTrigger 新增触发器
func (h *WorkflowHandler) CreateTrigger(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	var req services.CreateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	trigger, err := h.workflowService.CreateTrigger(middleware.GetTenantID(c), workflowID, &req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, trigger)
}

// DeleteTrigger 删除触发器
func (h *WorkflowHandler) DeleteTrigger(c *gin.Context) {
	triggerID, err := parseUintParam(c, "trigger_id")
	if err != nil {
		response.BadRequest(c, "无效的触发器ID")
		return
	}

	if err := h.workflowService.DeleteTrigger(middleware.GetTenantID(c), triggerID); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// CreateAction 新增动作
func (h *WorkflowHandler) CreateAction(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	var req services.CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	action, err := h.workflowService.CreateAction(middleware.GetTenantID(c), workflowID, &req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, action)
}

// DeleteAction 删除动作
func (h *WorkflowHandler) DeleteAction(c *gin.Context) {
	actionID, err := parseUintParam(c, "action_id")
	if err != nil {
		response.BadRequest(c, "无效的动作ID")
		return
	}

	if err := h.workflowService.DeleteAction(middleware.GetTenantID(c), actionID); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// parseUintParam 解析路径参数为uint
func parseUintParam(c *gin.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}
