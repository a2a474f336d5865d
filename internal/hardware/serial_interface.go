package hardware

import "io"

// SerialPort 串口设备句柄抽象（用于测试替换真实设备）
type SerialPort interface {
	io.ReadWriteCloser
}
