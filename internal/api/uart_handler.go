package api

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/uart-bridge/internal/config"
	"github.com/wfunc/uart-bridge/internal/hardware"
	ws "github.com/wfunc/uart-bridge/internal/websocket"
	"go.uber.org/zap"
)

// SendRequest 发送数据请求，data为hex字符串（如"48656c6c6f"）
type SendRequest struct {
	Data string `json:"data" binding:"required"`
}

// SendResponse 发送数据响应
type SendResponse struct {
	Status    string `json:"status"` // success/error
	BytesSent int    `json:"bytes_sent"`
	Message   string `json:"message"`
}

// ReconnectResponse 重连响应
type ReconnectResponse struct {
	Status     string          `json:"status"` // success/error
	Message    string          `json:"message"`
	UARTStatus hardware.Status `json:"uart_status"`
}

// SystemStatus 系统状态响应
type SystemStatus struct {
	UART      hardware.Status `json:"uart"`
	WebSocket gin.H           `json:"websocket"`
	Server    gin.H           `json:"server"`
	Timestamp time.Time       `json:"timestamp"`
}

// UARTHandler 串口控制API处理器
type UARTHandler struct {
	cfg  *config.Config
	uart hardware.LinkController
	hub  *ws.Hub
	log  *zap.Logger
}

// NewUARTHandler 创建串口API处理器
func NewUARTHandler(cfg *config.Config, uart hardware.LinkController, hub *ws.Hub, log *zap.Logger) *UARTHandler {
	return &UARTHandler{
		cfg:  cfg,
		uart: uart,
		hub:  hub,
		log:  log,
	}
}

// GetStatus 获取完整系统状态
func (h *UARTHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, SystemStatus{
		UART: h.uart.Status(),
		WebSocket: gin.H{
			"active_connections": h.hub.Count(),
			"ping_interval":      h.cfg.WebSocket.PingInterval.String(),
			"max_message_size":   h.cfg.WebSocket.MaxMessageSize,
		},
		Server: gin.H{
			"host":      h.cfg.Server.Host,
			"port":      h.cfg.Server.Port,
			"log_level": h.cfg.Log.Level,
		},
		Timestamp: time.Now().UTC(),
	})
}

// GetInfo 获取串口详细信息
func (h *UARTHandler) GetInfo(c *gin.Context) {
	status := h.uart.Status()
	c.JSON(http.StatusOK, gin.H{
		"connected":     status.Connected,
		"port":          status.Port,
		"baudrate":      status.BaudRate,
		"bytesize":      status.ByteSize,
		"stopbits":      status.StopBits,
		"parity":        status.Parity,
		"timeout":       h.cfg.Serial.ReadTimeout.String(),
		"write_timeout": h.cfg.Serial.WriteTimeout.String(),
	})
}

// Reconnect 重连串口：先断开再连接，两个独立的核心调用
func (h *UARTHandler) Reconnect(c *gin.Context) {
	h.log.Info("收到串口重连请求")

	h.uart.Disconnect()
	err := h.uart.Connect()

	resp := ReconnectResponse{
		UARTStatus: h.uart.Status(),
	}
	if err != nil {
		resp.Status = "error"
		resp.Message = "串口重连失败"
		h.log.Error("串口重连失败", zap.Error(err))
	} else {
		resp.Status = "success"
		resp.Message = "串口重连成功"
	}

	c.JSON(http.StatusOK, resp)
}

// Send 通过HTTP一次性写入串口，请求体为hex字符串
func (h *UARTHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "请求格式错误: " + err.Error(),
		})
		return
	}

	// hex解码在进入核心之前完成，格式错误直接拒绝
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_HEX",
			"message": "无效的hex格式: " + err.Error(),
		})
		return
	}

	if err := h.uart.Write(data); err != nil {
		c.JSON(http.StatusOK, SendResponse{
			Status:    "error",
			BytesSent: 0,
			Message:   "串口不可用",
		})
		return
	}

	c.JSON(http.StatusOK, SendResponse{
		Status:    "success",
		BytesSent: len(data),
		Message:   "数据已写入串口",
	})
}

// GetConfig 获取当前运行配置（不含敏感信息）
func (h *UARTHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"host": h.cfg.Server.Host,
			"port": h.cfg.Server.Port,
			"mode": h.cfg.Server.Mode,
		},
		"serial": gin.H{
			"port":          h.cfg.Serial.Port,
			"baud_rate":     h.cfg.Serial.BaudRate,
			"data_bits":     h.cfg.Serial.DataBits,
			"stop_bits":     h.cfg.Serial.StopBits,
			"parity":        h.cfg.Serial.Parity,
			"read_timeout":  h.cfg.Serial.ReadTimeout.String(),
			"write_timeout": h.cfg.Serial.WriteTimeout.String(),
		},
		"websocket": gin.H{
			"path":             h.cfg.WebSocket.Path,
			"ping_interval":    h.cfg.WebSocket.PingInterval.String(),
			"pong_timeout":     h.cfg.WebSocket.PongTimeout.String(),
			"max_message_size": h.cfg.WebSocket.MaxMessageSize,
		},
		"logging": gin.H{
			"level": h.cfg.Log.Level,
		},
	})
}
