package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue Redis队列实现
// 承载SLA告警、动作通知作业的投递，以及运行状态事件的发布订阅
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// AlertMessage SLA违约告警消息（投递给外部告警通道）
type AlertMessage struct {
	SLAName        string   `json:"sla_name"`
	WorkflowName   string   `json:"workflow_name"`
	Severity       string   `json:"severity"`        // warning/critical/slo_violation
	ActualDuration int64    `json:"actual_duration"` // 毫秒
	TargetDuration int64    `json:"target_duration"` // 毫秒
	BreachMargin   int64    `json:"breach_margin"`   // 毫秒
	Recipients     []string `json:"recipients"`
	TenantID       uint     `json:"tenant_id"`
	Created        int64    `json:"created"`
}

// NotificationMessage 动作处理产生的通知作业（邮件/站内信等，由外部投递服务消费）
type NotificationMessage struct {
	JobID    string                 `json:"job_id"`
	JobType  string                 `json:"job_type"` // send_email/send_notification/...
	TenantID uint                   `json:"tenant_id"`
	RunID    string                 `json:"run_id"`
	Payload  map[string]interface{} `json:"payload"`
	Created  int64                  `json:"created"`
}

// RunEvent 运行状态事件（用于WebSocket实时推送）
type RunEvent struct {
	RunID      string `json:"run_id"`
	TenantID   uint   `json:"tenant_id"`
	WorkflowID uint   `json:"workflow_id"`
	Status     string `json:"status"`
	Ordering   int    `json:"ordering,omitempty"` // 当前动作序号，0表示运行级事件
	Message    string `json:"message,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisQueue 创建Redis队列实例
func NewRedisQueue(config *Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "crmflow:queue"
	}

	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping() error {
	ctx := context.Background()
	return q.client.Ping(ctx).Err()
}

// GetClient 获取底层Redis客户端
func (q *RedisQueue) GetClient() *redis.Client {
	return q.client
}

// EnqueueAlert 将SLA告警加入告警队列
func (q *RedisQueue) EnqueueAlert(msg *AlertMessage) error {
	ctx := context.Background()

	msg.Created = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %v", err)
	}

	key := fmt.Sprintf("%s:alerts", q.prefix)
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("告警入队失败: %v", err)
	}

	return nil
}

// EnqueueNotification 将通知作业加入队列
func (q *RedisQueue) EnqueueNotification(msg *NotificationMessage) error {
	ctx := context.Background()

	msg.Created = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化通知作业失败: %v", err)
	}

	key := fmt.Sprintf("%s:notifications:%s", q.prefix, msg.JobType)
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("通知作业入队失败: %v", err)
	}

	// 记录作业状态（24小时过期）
	jobKey := fmt.Sprintf("%s:job:%s", q.prefix, msg.JobID)
	jobInfo := map[string]interface{}{
		"job_id":    msg.JobID,
		"job_type":  msg.JobType,
		"tenant_id": msg.TenantID,
		"status":    "queued",
		"queued_at": time.Now().Unix(),
	}
	if err := q.client.HSet(ctx, jobKey, jobInfo).Err(); err != nil {
		return fmt.Errorf("记录作业状态失败: %v", err)
	}
	q.client.Expire(ctx, jobKey, 24*time.Hour)

	return nil
}

// PublishRunEvent 发布运行状态事件
func (q *RedisQueue) PublishRunEvent(event *RunEvent) error {
	ctx := context.Background()

	event.Timestamp = time.Now().Unix()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化运行事件失败: %v", err)
	}

	channel := q.runEventChannel(event.RunID)
	return q.client.Publish(ctx, channel, data).Err()
}

// SubscribeRunEvents 订阅某次运行的状态事件
func (q *RedisQueue) SubscribeRunEvents(ctx context.Context, runID string) *redis.PubSub {
	return q.client.Subscribe(ctx, q.runEventChannel(runID))
}

// runEventChannel 运行事件的频道名
func (q *RedisQueue) runEventChannel(runID string) string {
	return fmt.Sprintf("%s:run_events:%s", q.prefix, runID)
}
