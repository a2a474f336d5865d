package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/uart-bridge/internal/config"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrSendBufferFull = errors.New("发送缓冲区已满")
	ErrClientClosed   = errors.New("客户端已关闭")
)

// 配置缺省值，配置项缺失或非法时回退
const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 512 * 1024 // 512KB
	defaultSendQueueSize  = 256
)

// frame 出站帧
type frame struct {
	messageType int
	data        []byte
}

// Client 基于gorilla连接的Session实现。
// 出站帧经缓冲通道由WritePump独占写端发送，
// SendBinary/SendText非阻塞，缓冲区满视为投递失败。
// 超时与队列参数取自websocket配置段。
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// NewClient 创建新客户端
func NewClient(conn *websocket.Conn, cfg *config.WebSocketConfig, logger *zap.Logger) *Client {
	writeWait := defaultWriteWait
	pongWait := defaultPongWait
	pingPeriod := defaultPingInterval
	maxMessageSize := int64(defaultMaxMessageSize)
	queueSize := defaultSendQueueSize

	if cfg != nil {
		if cfg.WriteTimeout > 0 {
			writeWait = cfg.WriteTimeout
		}
		if cfg.PongTimeout > 0 {
			pongWait = cfg.PongTimeout
		}
		if cfg.PingInterval > 0 {
			pingPeriod = cfg.PingInterval
		}
		if cfg.MaxMessageSize > 0 {
			maxMessageSize = cfg.MaxMessageSize
		}
		if cfg.SendBufferSize > 0 {
			queueSize = cfg.SendBufferSize
		}
	}

	// ping周期必须小于pong超时，否则连接会被误判超时
	if pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}

	return &Client{
		id:             uuid.New().String(),
		conn:           conn,
		send:           make(chan frame, queueSize),
		done:           make(chan struct{}),
		logger:         logger,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		maxMessageSize: maxMessageSize,
	}
}

// ID 会话唯一标识
func (c *Client) ID() string {
	return c.id
}

// SendBinary 投递一帧二进制数据
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(websocket.BinaryMessage, data)
}

// SendText 投递一条文本消息
func (c *Client) SendText(data []byte) error {
	return c.enqueue(websocket.TextMessage, data)
}

func (c *Client) enqueue(messageType int, data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- frame{messageType: messageType, data: data}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 关闭客户端连接，幂等
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done 连接关闭通知
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump 出站写循环，独占底层连接的写端
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(f.messageType, f.data); err != nil {
				c.logger.Debug("WebSocket写入失败",
					zap.String("client_id", c.id),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop 入站读循环，阻塞直到连接断开。
// 每个二进制帧调用一次onBinary，文本帧忽略。
func (c *Client) ReadLoop(onBinary func(data []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket读取错误",
					zap.String("client_id", c.id),
					zap.Error(err))
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			onBinary(data)
		}
	}
}
