package websocket

import (
	"context"
	"sync"

	"github.com/wfunc/uart-bridge/internal/hardware"
	"github.com/wfunc/uart-bridge/internal/logger"
	"go.uber.org/zap"
)

// 桥接队列容量。读循环只入队不等待，队列满时丢弃最新块（丢新策略）。
const inboundQueueSize = 256

// StatusFunc 提供当前串口链路状态快照
type StatusFunc func() hardware.Status

// Hub WebSocket会话管理中心。维护活跃会话注册表，
// 并承载串口读循环到客户端投递上下文的桥接队列。
type Hub struct {
	// 会话注册表
	sessions   map[string]Session
	sessionsMu sync.RWMutex

	// 串口入站数据的桥接通道
	inbound chan []byte

	status StatusFunc
	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(status StatusFunc, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]Session),
		inbound:  make(chan []byte, inboundQueueSize),
		status:   status,
		logger:   logger,
	}
}

// Join 注册会话，每个新客户端在收到任何广播内容之前
// 先收到携带当前链路状态的欢迎消息。
// 欢迎消息必须先于注册：并发广播只会错过尚未注册的会话，
// 不可能在欢迎消息之前向其投递二进制帧。
func (h *Hub) Join(s Session) {
	var status *hardware.Status
	if h.status != nil {
		st := h.status()
		status = &st
	}
	h.SendInfo(s, NewInfoMessage(MessageTypeInfo, "Connected to UART WebSocket Bridge", status))

	h.sessionsMu.Lock()
	h.sessions[s.ID()] = s
	h.sessionsMu.Unlock()

	h.logger.Info("客户端加入", zap.String("session_id", s.ID()))
}

// Leave 注销会话，幂等
func (h *Hub) Leave(s Session) {
	h.sessionsMu.Lock()
	_, ok := h.sessions[s.ID()]
	if ok {
		delete(h.sessions, s.ID())
	}
	h.sessionsMu.Unlock()

	if ok {
		h.logger.Info("客户端离开", zap.String("session_id", s.ID()))
	}
}

// SendInfo 向单个会话发送结构化消息。
// 发送失败只记录日志，不移除会话：调用方已知目标身份，失败由调用路径处理。
func (h *Hub) SendInfo(s Session, msg *InfoMessage) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	if err := s.SendText(data); err != nil {
		h.logger.Error("发送消息失败",
			zap.String("session_id", s.ID()),
			zap.String("type", msg.Type),
			zap.Error(err))
		return
	}

	logger.LogWebSocketMessage("send", msg.Type, msg.Message)
}

// Broadcast 向所有已注册会话投递二进制载荷，尽力而为，无确认无重试。
// 先对注册表做稳定快照再遍历，广播期间的Join/Leave不影响本次投递；
// 投递失败的会话在遍历结束后统一移除，绝不在快照遍历中途修改注册表。
func (h *Hub) Broadcast(data []byte) {
	h.sessionsMu.RLock()
	snapshot := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.sessionsMu.RUnlock()

	var failed []Session
	for _, s := range snapshot {
		if err := s.SendBinary(data); err != nil {
			h.logger.Warn("广播投递失败，移除会话",
				zap.String("session_id", s.ID()),
				zap.Error(err))
			failed = append(failed, s)
		}
	}

	if len(failed) > 0 {
		h.sessionsMu.Lock()
		for _, s := range failed {
			delete(h.sessions, s.ID())
		}
		h.sessionsMu.Unlock()
	}
}

// Count 当前注册的会话数，任意goroutine可随时调用
func (h *Hub) Count() int {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return len(h.sessions)
}

// BroadcastData 串口读循环的数据回调。只入队立即返回，
// 绝不让读循环等待客户端IO；队列满时丢弃该块并告警。
func (h *Hub) BroadcastData(data []byte) {
	select {
	case h.inbound <- data:
	default:
		h.logger.Warn("桥接队列已满，丢弃数据块", zap.Int("bytes", len(data)))
	}
}

// Run 桥接消费循环，运行在客户端投递上下文中，直到ctx取消。
// 串行消费保证每个会话观察到的投递顺序与入队顺序一致。
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("广播循环启动")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("广播循环退出")
			return
		case data := <-h.inbound:
			h.Broadcast(data)
		}
	}
}
