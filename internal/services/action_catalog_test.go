package services

import (
	"context"
	"testing"
	"time"

	"crmflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAndRegistryAligned(t *testing.T) {
	catalog := NewActionCatalog()
	registry := NewHandlerRegistry(nil)

	// 目录中的每个动作类型都必须有处理器
	for _, entry := range catalog.List() {
		_, ok := registry.Get(entry.ActionType)
		assert.True(t, ok, "动作类型 %s 没有处理器", entry.ActionType)
	}
}

func TestLatencyClassBounds(t *testing.T) {
	assert.Equal(t, int64(0), LatencyInstant.EstimateMs())
	assert.Equal(t, int64(500), LatencyFast.EstimateMs())
	assert.Equal(t, int64(30000), LatencyVerySlow.EstimateMs())

	assert.Equal(t, 1*time.Second, LatencyInstant.TimeoutBound())
	assert.Equal(t, 300*time.Second, LatencyVerySlow.TimeoutBound())

	// 未知等级回退到默认上界
	assert.Equal(t, 60*time.Second, LatencyClass("bogus").TimeoutBound())
}

func TestApprovalHandlerRequiresApprover(t *testing.T) {
	handler := &ApprovalHandler{}

	result, err := handler.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "approver")

	result, err = handler.Execute(context.Background(), map[string]interface{}{
		"approver": "director@example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "requested", result.Output["status"])
}

func TestWaitHandlerRespectsContext(t *testing.T) {
	handler := &WaitHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := handler.Execute(ctx, map[string]interface{}{"seconds": float64(5)})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), 1*time.Second)
}

func TestExtractMetaStripsPayload(t *testing.T) {
	payload := map[string]interface{}{
		"message": "hello",
		payloadMetaKey: map[string]interface{}{
			"tenant_id": uint(7),
			"run_id":    "run-1",
		},
	}

	tenantID, runID := extractMeta(payload)
	assert.Equal(t, uint(7), tenantID)
	assert.Equal(t, "run-1", runID)
	// 元数据不能泄漏给处理器载荷
	assert.NotContains(t, payload, payloadMetaKey)
}

func TestCatalogIdempotencyFlags(t *testing.T) {
	catalog := GetActionCatalog()

	update, ok := catalog.Get(models.ActionTypeUpdateRecord)
	require.True(t, ok)
	assert.True(t, update.Idempotent)

	email, ok := catalog.Get(models.ActionTypeSendEmail)
	require.True(t, ok)
	assert.False(t, email.Idempotent)
}
