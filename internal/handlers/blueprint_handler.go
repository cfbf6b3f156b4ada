package handlers

import (
	"crmflow/internal/middleware"
	"crmflow/internal/services"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type BlueprintHandler struct {
	blueprintService *services.BlueprintService
}

func NewBlueprintHandler(blueprintService *services.BlueprintService) *BlueprintHandler {
	return &BlueprintHandler{blueprintService: blueprintService}
}

// Export 导出工作流蓝图
func (h *BlueprintHandler) Export(c *gin.Context) {
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的工作流ID")
		return
	}

	blueprint, err := h.blueprintService.Export(middleware.GetTenantID(c), workflowID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, blueprint)
}

// Import 从蓝图导入工作流
func (h *BlueprintHandler) Import(c *gin.Context) {
	var blueprint services.WorkflowBlueprint
	if err := c.ShouldBindJSON(&blueprint); err != nil {
		response.BadRequest(c, "蓝图格式错误: "+err.Error())
		return
	}

	workflow, problems, err := h.blueprintService.Import(middleware.GetTenantID(c), middleware.GetUserID(c), &blueprint)
	if err != nil {
		if len(problems) > 0 {
			response.Success(c, gin.H{"imported": false, "problems": problems})
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"imported": true, "workflow": workflow})
}
