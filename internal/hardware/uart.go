package hardware

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/uart-bridge/internal/config"
	"github.com/wfunc/uart-bridge/internal/errors"
	"github.com/wfunc/uart-bridge/internal/logger"
	"go.uber.org/zap"
)

const (
	// 单次读取缓冲区大小
	readBufferSize = 4096

	// 等待读循环退出的上界，超时后放弃等待直接关闭句柄
	readerStopWait = 2 * time.Second
)

// UARTManager 串口链路管理器。独占设备句柄，运行专用读循环，
// 写路径与读路径全双工互不阻塞。每个进程只应存在一个实例。
type UARTManager struct {
	cfg *config.SerialConfig

	// mu 只保护句柄与状态位的切换，绝不包住阻塞的设备IO
	mu sync.RWMutex
	// writeMu 串行化并发写入，并与句柄关闭互斥
	writeMu sync.Mutex

	port       SerialPort
	state      linkState
	running    bool
	readerDone chan struct{}
	callback   DataCallback

	// openPort 可注入，测试时替换为模拟设备
	openPort func(*serial.Config) (SerialPort, error)
	logger   *zap.Logger
}

// NewUARTManager 创建串口管理器
func NewUARTManager(cfg *config.SerialConfig) *UARTManager {
	return &UARTManager{
		cfg: cfg,
		openPort: func(c *serial.Config) (SerialPort, error) {
			return serial.OpenPort(c)
		},
		logger: logger.WithModule("serial"),
	}
}

// serialParams 将配置转换为tarm串口参数
func serialParams(cfg *config.SerialConfig) *serial.Config {
	parity := serial.ParityNone
	switch strings.ToUpper(cfg.Parity) {
	case "E":
		parity = serial.ParityEven
	case "O":
		parity = serial.ParityOdd
	case "M":
		parity = serial.ParityMark
	case "S":
		parity = serial.ParitySpace
	}

	stopBits := serial.Stop1
	if cfg.StopBits == 2 {
		stopBits = serial.Stop2
	}

	return &serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: cfg.ReadTimeout,
	}
}

// Connect 打开串口并启动读循环。幂等：已打开时直接返回nil。
// 配置在本次尝试开始时取一次快照，热更新的参数从下一次Connect生效。
// 设备层错误只转换为error返回，不向上抛出任何panic。
func (m *UARTManager) Connect() error {
	m.mu.Lock()
	if m.state == stateOpen {
		m.mu.Unlock()
		m.logger.Warn("串口已打开", zap.String("port", m.cfg.Port))
		return nil
	}
	cfg := *m.cfg
	// 失败态遗留的句柄在重连前收尾
	stale := m.port
	m.port = nil
	m.state = stateClosed
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	if err := cfg.Validate(); err != nil {
		m.logger.Error("串口配置无效", zap.Error(err))
		return errors.Wrap(err, errors.ErrConfigValidate)
	}

	// 打开设备是阻塞调用，不持有状态锁
	port, err := m.openPort(serialParams(&cfg))
	if err != nil {
		m.logger.Error("打开串口失败",
			zap.String("port", cfg.Port),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortOpen)
	}

	m.mu.Lock()
	if m.state == stateOpen {
		// 并发Connect竞争，保留先打开的链路
		m.mu.Unlock()
		port.Close()
		return nil
	}
	done := make(chan struct{})
	m.port = port
	m.state = stateOpen
	m.running = true
	m.readerDone = done
	m.mu.Unlock()

	go m.readLoop(port, done)

	m.logger.Info("串口连接成功",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate))

	return nil
}

// Disconnect 关闭串口。幂等：已关闭时为空操作。
// 先通知读循环退出并有界等待，超时则放弃等待；句柄关闭与写操作互斥。
// 有界等待保证了在数据回调内部调用Disconnect不会死锁。
func (m *UARTManager) Disconnect() {
	m.mu.Lock()
	if m.state == stateClosed && m.port == nil {
		m.mu.Unlock()
		return
	}
	name := m.cfg.Port
	m.running = false
	done := m.readerDone
	m.readerDone = nil
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(readerStopWait):
			m.logger.Warn("读循环未在限期内退出，放弃等待",
				zap.Duration("wait", readerStopWait))
		}
	}

	m.writeMu.Lock()
	m.mu.Lock()
	if m.port != nil {
		if err := m.port.Close(); err != nil {
			m.logger.Error("关闭串口失败", zap.Error(err))
		}
		m.port = nil
	}
	m.state = stateClosed
	m.mu.Unlock()
	m.writeMu.Unlock()

	m.logger.Info("串口已关闭", zap.String("port", name))
}

// Write 将完整载荷写入串口。链路未打开时快速失败。
// 并发写之间以及写与句柄关闭之间互斥，但与读循环全双工并行。
// 写失败不改变链路状态，是否重连由调用方决定。
func (m *UARTManager) Write(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	port := m.port
	open := m.state == stateOpen
	m.mu.RUnlock()

	if !open || port == nil {
		m.logger.Warn("串口未打开，拒绝写入", zap.Int("bytes", len(data)))
		return errors.New(errors.ErrSerialNotOpen)
	}

	if _, err := port.Write(data); err != nil {
		m.logger.Error("串口写入失败",
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortWrite)
	}

	logger.LogSerialData("tx", data)
	return nil
}

// SetDataCallback 注册入站数据的唯一消费者
func (m *UARTManager) SetDataCallback(callback DataCallback) {
	m.mu.Lock()
	m.callback = callback
	m.mu.Unlock()
}

// IsConnected 检查连接状态
func (m *UARTManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateOpen
}

// Status 返回当前状态快照，任意goroutine可随时调用
func (m *UARTManager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Connected: m.state == stateOpen,
		Port:      m.cfg.Port,
		BaudRate:  m.cfg.BaudRate,
		ByteSize:  m.cfg.DataBits,
		StopBits:  m.cfg.StopBits,
		Parity:    strings.ToUpper(m.cfg.Parity),
	}
}

// readLoop 串口读循环，每个Open周期运行一次，独立goroutine。
// 设备级读错误终止循环并使链路进入失败态，不自动重试。
func (m *UARTManager) readLoop(port SerialPort, done chan struct{}) {
	defer close(done)

	m.mu.RLock()
	name := m.cfg.Port
	m.mu.RUnlock()

	m.logger.Debug("串口读循环启动", zap.String("port", name))

	buf := make([]byte, readBufferSize)
	for {
		m.mu.RLock()
		running := m.running
		m.mu.RUnlock()
		if !running {
			break
		}

		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			logger.LogSerialData("rx", chunk)
			m.dispatch(chunk)
		}
		if err != nil {
			if err == io.EOF {
				// 读超时返回EOF，表示暂无数据
				continue
			}
			m.mu.Lock()
			if m.running {
				m.state = stateFailed
				m.running = false
				m.logger.Error("串口读取错误，链路进入失败态", zap.Error(err))
			}
			m.mu.Unlock()
			break
		}
	}

	m.logger.Debug("串口读循环退出", zap.String("port", name))
}

// dispatch 调用注册的回调，回调内的panic不允许打断读循环
func (m *UARTManager) dispatch(data []byte) {
	m.mu.RLock()
	cb := m.callback
	m.mu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("数据回调panic", zap.Any("panic", r))
		}
	}()
	cb(data)
}
