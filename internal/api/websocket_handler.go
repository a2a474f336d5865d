package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/uart-bridge/internal/config"
	"github.com/wfunc/uart-bridge/internal/hardware"
	ws "github.com/wfunc/uart-bridge/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler 处理WebSocket连接：
// 客户端发来的二进制帧原样转发到串口，串口数据经Hub广播给所有客户端。
type WebSocketHandler struct {
	cfg      *config.Config
	uart     hardware.LinkController
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(cfg *config.Config, uart hardware.LinkController, hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		cfg:  cfg,
		uart: uart,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Handle 处理WebSocket连接请求
func (h *WebSocketHandler) Handle(c *gin.Context) {
	clientIP := c.ClientIP()

	// 升级HTTP连接为WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("ip", clientIP),
			zap.Error(err))
		return
	}

	client := ws.NewClient(conn, &h.cfg.WebSocket, h.logger)

	h.logger.Info("新的WebSocket连接",
		zap.String("ip", clientIP),
		zap.String("client_id", client.ID()))

	go client.WritePump()
	h.hub.Join(client)

	defer func() {
		h.hub.Leave(client)
		client.Close()
		h.logger.Info("WebSocket连接断开",
			zap.String("client_id", client.ID()))
	}()

	// 入站读循环：二进制帧写入串口，写失败时通知该客户端
	client.ReadLoop(func(data []byte) {
		if err := h.uart.Write(data); err != nil {
			status := h.uart.Status()
			h.hub.SendInfo(client, ws.NewInfoMessage(
				ws.MessageTypeError,
				"Failed to send data to UART",
				&status,
			))
		}
	})
}
