package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Session   SessionConfig   `mapstructure:"session"`
	Status    StatusConfig    `mapstructure:"status"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 游戏服务器连接配置
// 传输层不做自动重连，所有重连调度由应用层恢复控制器统一负责。
type ServerConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
}

// HeartbeatConfig 应用层心跳配置
type HeartbeatConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxMissed    int           `mapstructure:"max_missed"`
	CycleDelay   time.Duration `mapstructure:"cycle_delay"`
}

// RecoveryConfig 断线恢复配置
type RecoveryConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	JitterRatio   float64       `mapstructure:"jitter_ratio"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RejoinTimeout time.Duration `mapstructure:"rejoin_timeout"`
}

// SyncConfig 房间定时同步配置
type SyncConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Interval     time.Duration `mapstructure:"interval"`
	MinSpacing   time.Duration `mapstructure:"min_spacing"`
	AckTimeout   time.Duration `mapstructure:"ack_timeout"`
	MaxFailures  int           `mapstructure:"max_failures"`
}

// SessionConfig 本地会话存储配置
type SessionConfig struct {
	DSN string        `mapstructure:"dsn"`
	TTL time.Duration `mapstructure:"ttl"`
	// 启动时自动清理过期会话记录
	PruneOnStart bool `mapstructure:"prune_on_start"`
}

// StatusConfig 本地状态查询端点配置
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Mode    string `mapstructure:"mode"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("WHOAMI_CLIENT")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				err = nil
			} else {
				return
			}
		}

		// 解析配置到结构体
		cfg = &Config{}
		err = v.Unmarshal(cfg)
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.url", "ws://localhost:3000/ws")
	v.SetDefault("server.dial_timeout", "20s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.pong_timeout", "60s")

	// 心跳默认配置
	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.interval", "15s")
	v.SetDefault("heartbeat.timeout", "5s")
	v.SetDefault("heartbeat.initial_delay", "5s")
	v.SetDefault("heartbeat.max_missed", 3)
	v.SetDefault("heartbeat.cycle_delay", "1s")

	// 断线恢复默认配置
	v.SetDefault("recovery.base_delay", "2s")
	v.SetDefault("recovery.max_delay", "30s")
	v.SetDefault("recovery.jitter_ratio", 0.2)
	v.SetDefault("recovery.max_attempts", 5)
	v.SetDefault("recovery.rejoin_timeout", "10s")

	// 房间同步默认配置
	v.SetDefault("sync.initial_delay", "2s")
	v.SetDefault("sync.interval", "8s")
	v.SetDefault("sync.min_spacing", "5s")
	v.SetDefault("sync.ack_timeout", "5s")
	v.SetDefault("sync.max_failures", 3)

	// 会话存储默认配置
	v.SetDefault("session.dsn", "./data/whoami-session.db")
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.prune_on_start", true)

	// 状态端点默认配置
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", "127.0.0.1:8089")
	v.SetDefault("status.mode", "release")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "whoami-client.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 7)
	v.SetDefault("log.file.max_backups", 10)
	v.SetDefault("log.file.compress", true)
}

// Get 获取全局配置
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}
