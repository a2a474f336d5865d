package hardware

// linkState 串口连接生命周期状态
type linkState int

const (
	stateClosed linkState = iota // 未打开或已关闭
	stateOpen                    // 设备句柄有效，读循环运行中
	stateFailed                  // 读循环因设备错误退出，等待显式重连
)

func (s linkState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateFailed:
		return "failed"
	default:
		return "closed"
	}
}

// Status 串口状态快照，按需生成，不做缓存
type Status struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	BaudRate  int    `json:"baudrate"`
	ByteSize  int    `json:"bytesize"`
	StopBits  int    `json:"stopbits"`
	Parity    string `json:"parity"`
}

// DataCallback 串口入站数据回调，每个非空读取块调用一次。
// 块边界不保证与写端对齐，这是字节流不是消息流。
type DataCallback func(data []byte)
