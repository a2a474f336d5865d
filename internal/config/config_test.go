package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSerialConfig() SerialConfig {
	return SerialConfig{
		Port:         "/dev/ttyUSB0",
		BaudRate:     115200,
		DataBits:     8,
		StopBits:     1,
		Parity:       "N",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func TestSerialConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SerialConfig)
		wantErr bool
	}{
		{"默认参数合法", func(c *SerialConfig) {}, false},
		{"空设备路径", func(c *SerialConfig) { c.Port = "" }, true},
		{"波特率为零", func(c *SerialConfig) { c.BaudRate = 0 }, true},
		{"波特率为负", func(c *SerialConfig) { c.BaudRate = -9600 }, true},
		{"数据位过小", func(c *SerialConfig) { c.DataBits = 4 }, true},
		{"数据位过大", func(c *SerialConfig) { c.DataBits = 9 }, true},
		{"数据位5合法", func(c *SerialConfig) { c.DataBits = 5 }, false},
		{"停止位为零", func(c *SerialConfig) { c.StopBits = 0 }, true},
		{"停止位为3", func(c *SerialConfig) { c.StopBits = 3 }, true},
		{"停止位2合法", func(c *SerialConfig) { c.StopBits = 2 }, false},
		{"非法校验位", func(c *SerialConfig) { c.Parity = "X" }, true},
		{"偶校验合法", func(c *SerialConfig) { c.Parity = "E" }, false},
		{"奇校验合法", func(c *SerialConfig) { c.Parity = "O" }, false},
		{"小写校验位合法", func(c *SerialConfig) { c.Parity = "n" }, false},
		{"负读超时", func(c *SerialConfig) { c.ReadTimeout = -time.Second }, true},
		{"负写超时", func(c *SerialConfig) { c.WriteTimeout = -time.Second }, true},
		{"零超时合法", func(c *SerialConfig) { c.ReadTimeout = 0; c.WriteTimeout = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validSerialConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	c := &Config{}
	require.NoError(t, v.Unmarshal(c))

	assert.Equal(t, "0.0.0.0", c.Server.Host)
	assert.Equal(t, 8000, c.Server.Port)
	assert.Equal(t, "release", c.Server.Mode)

	assert.Equal(t, "/dev/ttyUSB0", c.Serial.Port)
	assert.Equal(t, 115200, c.Serial.BaudRate)
	assert.Equal(t, 8, c.Serial.DataBits)
	assert.Equal(t, 1, c.Serial.StopBits)
	assert.Equal(t, "N", c.Serial.Parity)
	assert.Equal(t, time.Second, c.Serial.ReadTimeout)

	assert.Equal(t, "/ws", c.WebSocket.Path)
	assert.Equal(t, 4096, c.WebSocket.ReadBufferSize)
	assert.Equal(t, int64(524288), c.WebSocket.MaxMessageSize)
	assert.Equal(t, 256, c.WebSocket.SendBufferSize)

	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)

	// 默认配置整体应通过校验
	assert.NoError(t, c.Serial.Validate())
}

func TestReloadUpdatesHeldPointers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baud_rate: 9600\n"), 0644))
	require.NoError(t, Init(path))

	held := Get()
	require.NotNil(t, held)
	serial := &held.Serial
	require.Equal(t, 9600, serial.BaudRate)

	// 重载后，早先拿到的指针必须观察到新值
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baud_rate: 57600\n"), 0644))
	var cbCfg *Config
	require.NoError(t, reload(func(c *Config) { cbCfg = c }))

	assert.Equal(t, 57600, serial.BaudRate)
	assert.Equal(t, 57600, held.Serial.BaudRate)
	assert.Same(t, held, cbCfg)

	// 非法配置被拒绝，旧值保留
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baud_rate: -1\n"), 0644))
	require.Error(t, reload(nil))
	assert.Equal(t, 57600, serial.BaudRate)
}
