package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/uart-bridge/internal/errors"
	ws "github.com/wfunc/uart-bridge/internal/websocket"
	"go.uber.org/zap"
)

// bridgeFixture 完整桥接链路测试环境
type bridgeFixture struct {
	uart   *mockLink
	hub    *ws.Hub
	server *httptest.Server
	cancel context.CancelFunc
}

func newBridgeFixture(t *testing.T, uart *mockLink) *bridgeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := ws.NewHub(uart.Status, zap.NewNop())
	uart.SetDataCallback(hub.BroadcastData)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := NewRouter(testConfig(), uart, hub, zap.NewNop())
	server := httptest.NewServer(router.GetEngine())

	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &bridgeFixture{uart: uart, hub: hub, server: server, cancel: cancel}
}

func (f *bridgeFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return messageType, data
}

func TestWebSocketWelcomeMessage(t *testing.T) {
	f := newBridgeFixture(t, &mockLink{connected: true})
	conn := f.dial(t)

	// 连接后第一帧是携带链路状态的欢迎消息
	messageType, data := readMessage(t, conn)
	require.Equal(t, websocket.TextMessage, messageType)

	var msg ws.InfoMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.MessageTypeInfo, msg.Type)
	assert.Equal(t, "Connected to UART WebSocket Bridge", msg.Message)
	require.NotNil(t, msg.UARTStatus)
	assert.True(t, msg.UARTStatus.Connected)
}

func TestWebSocketSerialToClients(t *testing.T) {
	f := newBridgeFixture(t, &mockLink{connected: true})
	c1 := f.dial(t)
	c2 := f.dial(t)

	// 跳过欢迎消息
	readMessage(t, c1)
	readMessage(t, c2)

	// 模拟串口读循环产出数据
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	f.uart.dataCallback()(payload)

	for _, conn := range []*websocket.Conn{c1, c2} {
		messageType, data := readMessage(t, conn)
		assert.Equal(t, websocket.BinaryMessage, messageType)
		assert.Equal(t, payload, data)
	}
}

func TestWebSocketClientToSerial(t *testing.T) {
	f := newBridgeFixture(t, &mockLink{connected: true})
	conn := f.dial(t)
	readMessage(t, conn)

	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))

	require.Eventually(t, func() bool {
		frames := f.uart.writtenFrames()
		return len(frames) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, payload, f.uart.writtenFrames()[0])
}

func TestWebSocketWriteFailureNotifiesClient(t *testing.T) {
	uart := &mockLink{}
	uart.writeErr = apperrors.New(apperrors.ErrSerialNotOpen)
	f := newBridgeFixture(t, uart)
	conn := f.dial(t)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))

	// 写串口失败时只有发送方收到错误通知
	messageType, data := readMessage(t, conn)
	require.Equal(t, websocket.TextMessage, messageType)

	var msg ws.InfoMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.MessageTypeError, msg.Type)
	assert.Equal(t, "Failed to send data to UART", msg.Message)
	require.NotNil(t, msg.UARTStatus)
	assert.False(t, msg.UARTStatus.Connected)
}

func TestWebSocketTextFramesIgnored(t *testing.T) {
	f := newBridgeFixture(t, &mockLink{connected: true})
	conn := f.dial(t)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	require.Eventually(t, func() bool {
		return len(f.uart.writtenFrames()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	// 只有二进制帧到达串口
	assert.Equal(t, []byte{0xAA}, f.uart.writtenFrames()[0])
}

func TestWebSocketDisconnectLeavesHub(t *testing.T) {
	f := newBridgeFixture(t, &mockLink{connected: true})
	conn := f.dial(t)
	readMessage(t, conn)

	require.Eventually(t, func() bool {
		return f.hub.Count() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return f.hub.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
