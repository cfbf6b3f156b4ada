package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"crmflow/internal/database"
	"crmflow/internal/services"
	"crmflow/pkg/config"
	"crmflow/pkg/jwt"
	"crmflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 运行状态的实时推送
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	log        *logrus.Logger
	jwtManager *jwt.JWTManager
	runService *services.RunService
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(runService *services.RunService) *WebSocketHandler {
	cfg := config.GetConfig()
	allowedOrigins := cfg.CORS.AllowOrigins

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				for _, allowed := range allowedOrigins {
					if allowed == "*" {
						return true
					}
				}

				// 同源请求的Origin为空
				if origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if matchOrigin(origin, allowed) {
						return true
					}
				}

				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 32,
			WriteBufferSize: 1024 * 32,
		},
		log:        logger.GetLogger(),
		jwtManager: jwt.GetJWTManager(),
		runService: runService,
	}
}

// RunEvents 订阅某次运行的状态事件流
func (h *WebSocketHandler) RunEvents(c *gin.Context) {
	runID := c.Param("run_id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少运行标识"})
		return
	}

	// WebSocket不支持自定义header，token走查询参数
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
		return
	}

	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌"})
		return
	}

	run, err := h.runService.GetByRunID(claims.TenantID, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行不存在或无权访问"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("WebSocket升级失败")
		return
	}
	defer conn.Close()

	h.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"user_id": claims.UserID,
	}).Info("WebSocket连接已建立")

	h.streamRunEvents(conn, runID, claims.TenantID, run.IsTerminal())
}

// streamRunEvents 订阅Redis频道并转发运行事件
func (h *WebSocketHandler) streamRunEvents(conn *websocket.Conn, runID string, tenantID uint, terminal bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := database.GetRedisQueue().SubscribeRunEvents(ctx, runID)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.WithError(err).Error("订阅运行事件频道失败")
		return
	}

	go h.readPump(conn, cancel)

	ch := pubsub.Channel()
	const writeTimeout = 10 * time.Second

	pingTicker := time.NewTicker(60 * time.Second)
	defer pingTicker.Stop()

	// 运行结束后留出宽限期，让尾部事件送达
	lastMessageTime := time.Now()
	const gracePeriod = 5 * time.Second
	graceTicker := time.NewTicker(1 * time.Second)
	defer graceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-graceTicker.C:
			if time.Since(lastMessageTime) > gracePeriod {
				run, err := h.runService.GetByRunID(tenantID, runID)
				if err == nil && run.IsTerminal() {
					h.log.WithField("run_id", runID).Info("运行已结束且宽限期已过，关闭WebSocket")
					return
				}
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.WithError(err).Error("发送ping失败")
				return
			}

		case msg := <-ch:
			if msg == nil {
				continue
			}

			lastMessageTime = time.Now()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			var event map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.WithError(err).Error("解析运行事件失败")
				continue
			}

			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).Error("推送运行事件失败")
				return
			}
		}
	}
}

// readPump 消费客户端消息，连接断开时取消订阅
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// matchOrigin Origin匹配，支持 *.example.com 通配
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := allowed[2:]

		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}
		if idx := strings.Index(originHost, ":"); idx != -1 {
			originHost = originHost[:idx]
		}

		return strings.HasSuffix(originHost, "."+domain) || originHost == domain
	}

	return false
}
