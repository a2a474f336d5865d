package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/uart-bridge/internal/config"
	"github.com/wfunc/uart-bridge/internal/hardware"
	ws "github.com/wfunc/uart-bridge/internal/websocket"
	"go.uber.org/zap"
)

// Router API路由器
type Router struct {
	engine      *gin.Engine
	cfg         *config.Config
	uart        hardware.LinkController
	hub         *ws.Hub
	uartHandler *UARTHandler
	wsHandler   *WebSocketHandler
	log         *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(cfg *config.Config, uart hardware.LinkController, hub *ws.Hub, log *zap.Logger) *Router {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())

	router := &Router{
		engine:      engine,
		cfg:         cfg,
		uart:        uart,
		hub:         hub,
		uartHandler: NewUARTHandler(cfg, uart, hub, log),
		wsHandler:   NewWebSocketHandler(cfg, uart, hub, log),
		log:         log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 服务信息与健康检查
	r.engine.GET("/", r.index)
	r.engine.GET("/health", r.healthCheck)

	// API路由组
	api := r.engine.Group("/api")
	{
		api.GET("/status", r.uartHandler.GetStatus)
		api.GET("/config", r.uartHandler.GetConfig)

		uart := api.Group("/uart")
		{
			uart.GET("/info", r.uartHandler.GetInfo)
			uart.POST("/reconnect", r.uartHandler.Reconnect)
			uart.POST("/send", r.uartHandler.Send)
		}
	}

	// WebSocket路由
	r.engine.GET(r.cfg.WebSocket.Path, r.wsHandler.Handle)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// corsMiddleware 允许跨域访问
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// index 服务信息
func (r *Router) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "UART WebSocket Bridge API",
		"version":     "1.0.0",
		"description": "双向桥接WebSocket客户端与UART串口",
		"endpoints": gin.H{
			"websocket":      r.cfg.WebSocket.Path,
			"status":         "/api/status",
			"uart_info":      "/api/uart/info",
			"uart_reconnect": "/api/uart/reconnect",
			"uart_send":      "/api/uart/send",
			"config":         "/api/config",
		},
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := "healthy"
	if !r.uart.IsConnected() {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                status,
		"uart_connected":        r.uart.IsConnected(),
		"websocket_connections": r.hub.Count(),
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
