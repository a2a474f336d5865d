package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/wfunc/uart-bridge/internal/api"
	"github.com/wfunc/uart-bridge/internal/config"
	"github.com/wfunc/uart-bridge/internal/hardware"
	"github.com/wfunc/uart-bridge/internal/logger"
	ws "github.com/wfunc/uart-bridge/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	uart       *hardware.UARTManager
	hub        *ws.Hub
	router     *api.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 创建并启动服务器
	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	// 等待退出信号
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动UART WebSocket桥接服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode))

	// 串口管理器
	s.uart = hardware.NewUARTManager(&s.cfg.Serial)

	// WebSocket会话中心，欢迎消息携带链路状态快照
	s.hub = ws.NewHub(s.uart.Status, logger.WithModule("websocket"))

	// 桥接：读循环入队，广播循环在客户端投递上下文消费
	s.uart.SetDataCallback(s.hub.BroadcastData)
	go s.hub.Run(s.ctx)

	// 串口打开失败不阻止服务启动，可通过/api/uart/reconnect重试
	if err := s.uart.Connect(); err != nil {
		s.logger.Warn("串口初始连接失败，等待手动重连", zap.Error(err))
	}

	// HTTP服务
	s.router = api.NewRouter(s.cfg, s.uart, s.hub, s.logger)
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	// 监听配置变化。重载就地覆盖共享配置实例，
	// API层立即看到新值，串口新参数在下次重连时生效
	config.Watch(func(_ *config.Config) {
		s.logger.Info("配置已更新，串口参数将在下次重连时生效")
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
		zap.String("serial", s.cfg.Serial.Port))

	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止HTTP服务
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("关闭HTTP服务失败", zap.Error(err))
	}

	// 停止广播循环
	s.cancel()

	// 关闭串口
	s.uart.Disconnect()

	// 同步日志
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("UART WebSocket桥接服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
