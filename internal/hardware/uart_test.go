package hardware

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
	"github.com/wfunc/uart-bridge/internal/config"
	apperrors "github.com/wfunc/uart-bridge/internal/errors"
)

// mockPort 模拟串口设备。Read在无数据时模拟读超时（返回io.EOF），
// 与tarm串口的超时语义一致。
type mockPort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error

	readCh  chan []byte
	errCh   chan error
	closeCh chan struct{}
	once    sync.Once
}

func newMockPort() *mockPort {
	return &mockPort{
		readCh:  make(chan []byte, 16),
		errCh:   make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

func (p *mockPort) Read(buf []byte) (int, error) {
	select {
	case data := <-p.readCh:
		n := copy(buf, data)
		return n, nil
	case err := <-p.errCh:
		return 0, err
	case <-p.closeCh:
		return 0, errors.New("read on closed port")
	case <-time.After(10 * time.Millisecond):
		// 模拟读超时
		return 0, io.EOF
	}
}

func (p *mockPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(data)
}

func (p *mockPort) Close() error {
	p.once.Do(func() { close(p.closeCh) })
	return nil
}

func (p *mockPort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, p.written.Len())
	copy(out, p.written.Bytes())
	return out
}

func testSerialConfig() *config.SerialConfig {
	return &config.SerialConfig{
		Port:         "/dev/ttySIM0",
		BaudRate:     9600,
		DataBits:     8,
		StopBits:     1,
		Parity:       "N",
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: time.Second,
	}
}

// newTestManager 创建注入模拟设备的管理器，opens统计打开次数
func newTestManager(port *mockPort, opens *int, openErr error) *UARTManager {
	m := NewUARTManager(testSerialConfig())
	m.openPort = func(c *serial.Config) (SerialPort, error) {
		if opens != nil {
			*opens++
		}
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	return m
}

func TestConnectIdempotent(t *testing.T) {
	opens := 0
	m := newTestManager(newMockPort(), &opens, nil)
	defer m.Disconnect()

	require.NoError(t, m.Connect())
	require.True(t, m.IsConnected())
	require.True(t, m.Status().Connected)

	// 第二次Connect应为空操作
	require.NoError(t, m.Connect())
	require.Equal(t, 1, opens)
}

func TestConnectOpenFailure(t *testing.T) {
	m := newTestManager(nil, nil, errors.New("no such device"))

	err := m.Connect()
	require.Error(t, err)
	require.Equal(t, apperrors.ErrSerialPortOpen, apperrors.GetCode(err))
	require.False(t, m.IsConnected())
	require.False(t, m.Status().Connected)
}

func TestConnectInvalidConfig(t *testing.T) {
	m := NewUARTManager(&config.SerialConfig{
		Port:     "/dev/ttySIM0",
		BaudRate: 9600,
		DataBits: 9, // 非法
		StopBits: 1,
		Parity:   "N",
	})

	err := m.Connect()
	require.Error(t, err)
	require.Equal(t, apperrors.ErrConfigValidate, apperrors.GetCode(err))
	require.False(t, m.IsConnected())
}

func TestWriteOnClosedLink(t *testing.T) {
	m := newTestManager(newMockPort(), nil, nil)

	err := m.Write([]byte{0x01})
	require.Error(t, err)
	require.Equal(t, apperrors.ErrSerialNotOpen, apperrors.GetCode(err))
}

func TestWriteForwardsExactBytes(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)
	defer m.Disconnect()

	require.NoError(t, m.Connect())
	require.NoError(t, m.Write([]byte("Hello")))
	require.Equal(t, []byte("Hello"), port.writtenBytes())
}

func TestWriteFailureKeepsLinkOpen(t *testing.T) {
	port := newMockPort()
	port.writeErr = errors.New("device busy")
	m := newTestManager(port, nil, nil)
	defer m.Disconnect()

	require.NoError(t, m.Connect())
	require.Error(t, m.Write([]byte{0x01}))
	// 写失败不关闭链路
	require.True(t, m.IsConnected())
}

func TestReadLoopInvokesCallback(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)
	defer m.Disconnect()

	received := make(chan []byte, 4)
	m.SetDataCallback(func(data []byte) { received <- data })

	require.NoError(t, m.Connect())

	port.readCh <- []byte{0x48, 0x65, 0x6C, 0x6C, 0x6F}

	select {
	case data := <-received:
		require.Equal(t, []byte{0x48, 0x65, 0x6C, 0x6C, 0x6F}, data)
	case <-time.After(time.Second):
		t.Fatal("等待回调数据超时")
	}
}

func TestCallbackPanicDoesNotStopReadLoop(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)
	defer m.Disconnect()

	var calls int
	received := make(chan []byte, 4)
	m.SetDataCallback(func(data []byte) {
		calls++
		if calls == 1 {
			panic("callback boom")
		}
		received <- data
	})

	require.NoError(t, m.Connect())

	port.readCh <- []byte{0x01}
	port.readCh <- []byte{0x02}

	select {
	case data := <-received:
		require.Equal(t, []byte{0x02}, data)
	case <-time.After(time.Second):
		t.Fatal("回调panic后读循环未继续")
	}
	require.True(t, m.IsConnected())
}

func TestDisconnectIdempotent(t *testing.T) {
	m := newTestManager(newMockPort(), nil, nil)

	require.NoError(t, m.Connect())
	m.Disconnect()
	require.False(t, m.IsConnected())
	require.False(t, m.Status().Connected)

	// 重复调用为空操作
	m.Disconnect()
	require.False(t, m.Status().Connected)
}

func TestReadErrorFailsLink(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)

	require.NoError(t, m.Connect())

	// 设备级读错误终止读循环
	port.errCh <- errors.New("input/output error")

	require.Eventually(t, func() bool {
		return !m.IsConnected()
	}, time.Second, 10*time.Millisecond)

	// 失败后写入快速失败，直到显式重连
	require.Error(t, m.Write([]byte{0x01}))
}

func TestReconnectAfterFailure(t *testing.T) {
	port := newMockPort()
	opens := 0
	m := newTestManager(port, &opens, nil)

	require.NoError(t, m.Connect())
	port.errCh <- errors.New("input/output error")
	require.Eventually(t, func() bool {
		return !m.IsConnected()
	}, time.Second, 10*time.Millisecond)

	// 显式重连恢复链路
	m.openPort = func(c *serial.Config) (SerialPort, error) {
		opens++
		return newMockPort(), nil
	}
	m.Disconnect()
	require.NoError(t, m.Connect())
	require.True(t, m.IsConnected())
	require.Equal(t, 2, opens)

	m.Disconnect()
}

func TestReconnectUnavailableDevice(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)

	require.NoError(t, m.Connect())
	m.Disconnect()

	// 设备不可用时重连失败，不留下打开的句柄
	m.openPort = func(c *serial.Config) (SerialPort, error) {
		return nil, errors.New("no such device")
	}
	require.Error(t, m.Connect())
	require.False(t, m.IsConnected())
}

func TestDisconnectFromCallback(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)

	done := make(chan struct{})
	m.SetDataCallback(func(data []byte) {
		// 回调内触发断开，依赖有界等待避免死锁
		m.Disconnect()
		close(done)
	})

	require.NoError(t, m.Connect())
	port.readCh <- []byte{0x01}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("回调内Disconnect死锁")
	}
	require.False(t, m.IsConnected())
}

func TestConcurrentWrites(t *testing.T) {
	port := newMockPort()
	m := newTestManager(port, nil, nil)
	defer m.Disconnect()

	require.NoError(t, m.Connect())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Write([]byte{0xAA, 0xBB})
		}()
	}
	wg.Wait()

	// 写操作互相串行化，数据完整不交错
	require.Len(t, port.writtenBytes(), 16)
}

func TestReconnectUsesCurrentConfig(t *testing.T) {
	cfg := testSerialConfig()
	m := NewUARTManager(cfg)

	var opened []int
	m.openPort = func(c *serial.Config) (SerialPort, error) {
		opened = append(opened, c.Baud)
		return newMockPort(), nil
	}

	require.NoError(t, m.Connect())
	m.Disconnect()

	// 配置热更新就地修改共享结构体，重连使用新参数打开设备
	cfg.BaudRate = 57600
	require.NoError(t, m.Connect())
	require.Equal(t, 57600, m.Status().BaudRate)
	m.Disconnect()

	require.Equal(t, []int{9600, 57600}, opened)
}

func TestStatusSnapshot(t *testing.T) {
	m := newTestManager(newMockPort(), nil, nil)
	defer m.Disconnect()

	st := m.Status()
	require.False(t, st.Connected)
	require.Equal(t, "/dev/ttySIM0", st.Port)
	require.Equal(t, 9600, st.BaudRate)
	require.Equal(t, 8, st.ByteSize)
	require.Equal(t, 1, st.StopBits)
	require.Equal(t, "N", st.Parity)

	require.NoError(t, m.Connect())
	require.True(t, m.Status().Connected)
}
