package hardware

// LinkController 串口链路控制接口，API层只依赖这个接口
type LinkController interface {
	// 连接管理
	Connect() error
	Disconnect()
	IsConnected() bool

	// 数据收发
	Write(data []byte) error
	SetDataCallback(callback DataCallback)

	// 状态查询
	Status() Status
}
