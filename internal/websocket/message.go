package websocket

import (
	"encoding/json"
	"time"

	"github.com/wfunc/uart-bridge/internal/hardware"
)

// 消息类型
const (
	MessageTypeInfo    = "info"
	MessageTypeError   = "error"
	MessageTypeWarning = "warning"
)

// InfoMessage 发往客户端的结构化消息，构造后不可变。
// 时间戳序列化为ISO-8601格式。
type InfoMessage struct {
	Type       string           `json:"type"` // info/error/warning
	Message    string           `json:"message"`
	UARTStatus *hardware.Status `json:"uartStatus,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewInfoMessage 创建结构化消息
func NewInfoMessage(msgType, message string, status *hardware.Status) *InfoMessage {
	return &InfoMessage{
		Type:       msgType,
		Message:    message,
		UARTStatus: status,
		Timestamp:  time.Now().UTC(),
	}
}

// Encode 序列化为JSON
func (m *InfoMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
