package websocket

// Session 一个已连接的远端客户端的能力接口。
// Hub按身份存储会话，只依赖此接口，不关心底层传输实现。
type Session interface {
	// ID 会话唯一标识
	ID() string

	// SendBinary 投递一帧二进制数据
	SendBinary(data []byte) error

	// SendText 投递一条文本消息
	SendText(data []byte) error

	// Close 关闭底层连接，幂等
	Close()
}
