package handlers

import (
	"fmt"

	"crmflow/internal/middleware"
	"crmflow/internal/services"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type EventHandler struct {
	dispatcher *services.EventDispatcher
}

func NewEventHandler(dispatcher *services.EventDispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

// Dispatch 投递业务事件
// 同一 (触发器, correlation_id) 重复投递不会产生新运行
func (h *EventHandler) Dispatch(c *gin.Context) {
	var event services.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		// 解析验证错误，提供更友好的提示
		if validationErr, ok := err.(validator.ValidationErrors); ok {
			errorMsg := "参数验证失败"
			for _, fieldErr := range validationErr {
				switch fieldErr.Field() {
				case "EventType":
					errorMsg = "事件类型不能为空"
				case "CorrelationID":
					errorMsg = "关联ID不能为空，幂等去重依赖该字段"
				default:
					errorMsg = fmt.Sprintf("字段 %s 验证失败", fieldErr.Field())
				}
				break // 只返回第一个错误
			}
			response.BadRequest(c, errorMsg)
			return
		}
		response.BadRequest(c, "请求参数格式错误")
		return
	}

	runs, err := h.dispatcher.Dispatch(middleware.GetTenantID(c), &event)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	runIDs := make([]string, 0, len(runs))
	for _, run := range runs {
		runIDs = append(runIDs, run.RunID)
	}
	response.Success(c, gin.H{
		"started": len(runs),
		"run_ids": runIDs,
	})
}
