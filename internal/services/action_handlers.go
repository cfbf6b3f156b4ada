package services

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/models"
	"crmflow/pkg/logger"
	"crmflow/pkg/queue"

	"github.com/google/uuid"
)

// HandlerResult 动作处理结果（外部协作方约定）
type HandlerResult struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output"`
	Error   string                 `json:"error,omitempty"`
}

// ActionHandler 动作处理器接口
// 执行器只关心解析后的载荷和返回结果，不关心动作如何产生效果
type ActionHandler interface {
	Execute(ctx context.Context, payload map[string]interface{}) (*HandlerResult, error)
}

// 载荷中由执行器注入的运行元数据键
const payloadMetaKey = "_meta"

// HandlerRegistry 动作处理器注册表
// 显式静态注册，不做任何基于字符串反射的查找
type HandlerRegistry struct {
	handlers map[string]ActionHandler
}

// NewHandlerRegistry 创建并注册内置处理器
// redisQueue 为nil时通知类动作降级为仅记录日志
func NewHandlerRegistry(redisQueue *queue.RedisQueue) *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]ActionHandler)}

	r.Register(models.ActionTypeSendEmail, &NotifyQueueHandler{queue: redisQueue, jobType: models.ActionTypeSendEmail})
	r.Register(models.ActionTypeSendNotification, &NotifyQueueHandler{queue: redisQueue, jobType: models.ActionTypeSendNotification})
	r.Register(models.ActionTypeCallWebhook, &NotifyQueueHandler{queue: redisQueue, jobType: models.ActionTypeCallWebhook})
	r.Register(models.ActionTypeCreateTask, &RecordStubHandler{operation: "create_task"})
	r.Register(models.ActionTypeUpdateRecord, &RecordStubHandler{operation: "update_record"})
	r.Register(models.ActionTypeApproval, &ApprovalHandler{queue: redisQueue})
	r.Register(models.ActionTypeWait, &WaitHandler{})

	return r
}

// Register 注册处理器
func (r *HandlerRegistry) Register(actionType string, handler ActionHandler) {
	r.handlers[actionType] = handler
}

// Get 查找处理器
func (r *HandlerRegistry) Get(actionType string) (ActionHandler, bool) {
	handler, ok := r.handlers[actionType]
	return handler, ok
}

// extractMeta 取出执行器注入的运行元数据并从载荷中剥离
func extractMeta(payload map[string]interface{}) (tenantID uint, runID string) {
	meta, ok := payload[payloadMetaKey].(map[string]interface{})
	if !ok {
		return 0, ""
	}
	delete(payload, payloadMetaKey)

	if id, ok := meta["tenant_id"].(uint); ok {
		tenantID = id
	}
	if id, ok := meta["run_id"].(string); ok {
		runID = id
	}
	return tenantID, runID
}

// NotifyQueueHandler 通知类动作处理器
// 将作业投递到Redis队列，由外部投递服务消费执行
type NotifyQueueHandler struct {
	queue   *queue.RedisQueue
	jobType string
}

func (h *NotifyQueueHandler) Execute(ctx context.Context, payload map[string]interface{}) (*HandlerResult, error) {
	tenantID, runID := extractMeta(payload)
	jobID := uuid.New().String()

	if h.queue == nil {
		logger.GetLogger().Warnf("通知队列未配置，作业 %s(%s) 仅记录日志", h.jobType, jobID)
		return &HandlerResult{
			Success: true,
			Output:  map[string]interface{}{"job_id": jobID, "queued": false},
		}, nil
	}

	if err := h.queue.EnqueueNotification(&queue.NotificationMessage{
		JobID:    jobID,
		JobType:  h.jobType,
		TenantID: tenantID,
		RunID:    runID,
		Payload:  payload,
	}); err != nil {
		return &HandlerResult{Success: false, Error: err.Error()}, nil
	}

	return &HandlerResult{
		Success: true,
		Output:  map[string]interface{}{"job_id": jobID, "queued": true},
	}, nil
}

// RecordStubHandler 记录类动作处理器
// 记录存储属于外部协作方，这里只做载荷校验并回执
type RecordStubHandler struct {
	operation string
}

func (h *RecordStubHandler) Execute(ctx context.Context, payload map[string]interface{}) (*HandlerResult, error) {
	extractMeta(payload)

	if len(payload) == 0 {
		return &HandlerResult{Success: false, Error: fmt.Sprintf("%s 载荷为空", h.operation)}, nil
	}

	return &HandlerResult{
		Success: true,
		Output: map[string]interface{}{
			"operation": h.operation,
			"applied":   true,
			"fields":    len(payload),
		},
	}, nil
}

// ApprovalHandler 审批动作处理器
// 向审批人投递审批请求通知，审批结论由外部系统回写
type ApprovalHandler struct {
	queue *queue.RedisQueue
}

func (h *ApprovalHandler) Execute(ctx context.Context, payload map[string]interface{}) (*HandlerResult, error) {
	tenantID, runID := extractMeta(payload)

	approver, _ := payload["approver"].(string)
	if approver == "" {
		return &HandlerResult{Success: false, Error: "审批动作缺少approver"}, nil
	}

	requestID := uuid.New().String()
	if h.queue != nil {
		if err := h.queue.EnqueueNotification(&queue.NotificationMessage{
			JobID:    requestID,
			JobType:  "approval_request",
			TenantID: tenantID,
			RunID:    runID,
			Payload:  payload,
		}); err != nil {
			return &HandlerResult{Success: false, Error: err.Error()}, nil
		}
	}

	return &HandlerResult{
		Success: true,
		Output: map[string]interface{}{
			"request_id": requestID,
			"approver":   approver,
			"status":     "requested",
		},
	}, nil
}

// WaitHandler 等待动作处理器
type WaitHandler struct{}

func (h *WaitHandler) Execute(ctx context.Context, payload map[string]interface{}) (*HandlerResult, error) {
	extractMeta(payload)

	seconds := 1.0
	if v, ok := payload["seconds"].(float64); ok && v > 0 {
		seconds = v
	}

	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return &HandlerResult{
			Success: true,
			Output:  map[string]interface{}{"waited_seconds": seconds},
		}, nil
	case <-ctx.Done():
		return &HandlerResult{Success: false, Error: "等待被中断"}, nil
	}
}
