package status

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/whoami-client/internal/client"
	"github.com/wfunc/whoami-client/internal/config"
	"go.uber.org/zap"
)

// Server 本机状态端点
// 只监听回环地址，供本地排障时查看连接、心跳与房间状态。
type Server struct {
	engine *gin.Engine
	httpd  *http.Server
	cli    *client.Client
	cfg    config.StatusConfig
	log    *zap.Logger
}

// NewServer 创建状态服务器
func NewServer(cli *client.Client, cfg config.StatusConfig, log *zap.Logger) *Server {
	gin.SetMode(cfg.Mode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		cli:    cli,
		cfg:    cfg,
		log:    log,
	}

	s.setupRoutes()

	s.httpd = &http.Server{
		Addr:    cfg.Addr,
		Handler: engine,
	}

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/status", s.fullStatus)
		v1.GET("/status/connection", s.connectionStatus)
		v1.GET("/status/heartbeat", s.heartbeatStatus)
		v1.GET("/status/room", s.roomStatus)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "healthy",
		"message": "客户端运行正常",
	})
}

// fullStatus 汇总状态
func (s *Server) fullStatus(c *gin.Context) {
	c.JSON(200, gin.H{
		"connection": s.cli.ConnectionState(),
		"heartbeat":  s.cli.HeartbeatState(),
		"room":       s.cli.Rooms.Room(),
		"playerView": s.cli.Rooms.PlayerView(),
	})
}

// connectionStatus 连接恢复状态
func (s *Server) connectionStatus(c *gin.Context) {
	c.JSON(200, s.cli.ConnectionState())
}

// heartbeatStatus 心跳状态
func (s *Server) heartbeatStatus(c *gin.Context) {
	c.JSON(200, s.cli.HeartbeatState())
}

// roomStatus 房间快照
func (s *Server) roomStatus(c *gin.Context) {
	r := s.cli.Rooms.Room()
	if r == nil {
		c.JSON(404, gin.H{
			"code":    "NO_ROOM",
			"message": "当前没有房间",
		})
		return
	}
	c.JSON(200, r)
}

// Start 启动状态服务器
func (s *Server) Start() {
	if !s.cfg.Enabled {
		return
	}

	go func() {
		s.log.Info("状态端点已启动", zap.String("address", s.cfg.Addr))
		if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("状态端点异常退出", zap.Error(err))
		}
	}()
}

// Stop 关闭状态服务器
func (s *Server) Stop() {
	if !s.cfg.Enabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.httpd.Shutdown(ctx); err != nil {
		s.log.Warn("状态端点关闭失败", zap.Error(err))
	}
}

// GetEngine 获取Gin引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}
