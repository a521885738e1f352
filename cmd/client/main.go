package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wfunc/whoami-client/internal/client"
	"github.com/wfunc/whoami-client/internal/config"
	"github.com/wfunc/whoami-client/internal/database"
	apperrors "github.com/wfunc/whoami-client/internal/errors"
	"github.com/wfunc/whoami-client/internal/logger"
	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/status"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// App 客户端应用实例
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db     *gorm.DB
	store  session.Store
	cli    *client.Client
	status *status.Server

	shutdownCh chan struct{}
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
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
	defer logger.Cleanup()

	app := NewApp(cfg)

	if err := app.Start(); err != nil {
		logger.Fatal("客户端启动失败", zap.Error(err))
	}

	app.WaitForShutdown()

	if err := app.Shutdown(); err != nil {
		logger.Error("客户端关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("客户端已安全关闭")
}

// NewApp 创建应用实例
func NewApp(cfg *config.Config) *App {
	return &App{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动客户端
func (a *App) Start() error {
	a.logger.Info("正在启动whoami客户端...",
		zap.String("version", Version),
		zap.String("server", a.cfg.Server.URL),
	)

	if err := a.initSessionStore(); err != nil {
		return err
	}

	conn := transport.NewConn(&a.cfg.Server, logger.WithModule("transport"))
	notifier := notify.NewLogNotifier(logger.WithModule("notify"))
	navigator := notify.NopNavigator{}

	a.cli = client.New(a.cfg, conn, a.store, notifier, navigator, a.logger)

	if err := a.cli.Start(); err != nil {
		// 首连失败不致命，恢复控制器会继续按退避重试
		a.logger.Warn("初次连接失败，等待自动重连", zap.Error(err))
	}

	a.status = status.NewServer(a.cli, a.cfg.Status, logger.WithModule("status"))
	a.status.Start()

	config.Watch(func(newCfg *config.Config) {
		a.logger.Info("配置已更新")
	})

	a.logger.Info("客户端启动成功")
	return nil
}

// initSessionStore 初始化会话存储
func (a *App) initSessionStore() error {
	db, err := database.Open(a.cfg.Session.DSN, logger.WithModule("database"))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSessionStore, "打开会话数据库失败")
	}
	a.db = db

	store := session.NewDatabaseStore(db, a.cfg.Session.TTL, logger.WithModule("session"))
	if a.cfg.Session.PruneOnStart {
		if err := store.Prune(); err != nil {
			a.logger.Warn("清理过期会话失败", zap.Error(err))
		}
	}
	a.store = store

	return nil
}

// WaitForShutdown 等待退出信号
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-a.shutdownCh:
		a.logger.Info("收到内部关闭请求")
	}
}

// Shutdown 优雅关闭
func (a *App) Shutdown() error {
	a.logger.Info("正在关闭客户端...")

	if a.status != nil {
		a.status.Stop()
	}
	if a.cli != nil {
		a.cli.Stop()
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("关闭数据库失败", zap.Error(err))
		}
	}

	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("whoami-client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("whoami-client - 我是谁派对游戏客户端")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  whoami-client [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string   配置文件路径")
	fmt.Println("  -version         显示版本信息")
	fmt.Println("  -help            显示帮助信息")
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  WHOAMI_CLIENT_SERVER_URL   服务器地址")
	fmt.Println("  WHOAMI_CLIENT_LOG_LEVEL    日志级别")
}
