// Package config 提供 TCP 服务器的统一配置加载与管理能力。
// 配置来源优先级: 命令行参数 > 环境变量 (TCPSERVER_ 前缀) > TOML 文件 > 默认值。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀。
const EnvPrefix = "TCPSERVER"

// Config 全局顶级配置结构。
type Config struct {
	Version string        `mapstructure:"version" toml:"version"`
	Log     LogConfig     `mapstructure:"log"     toml:"log"`
	Tracing TracingConfig `mapstructure:"tracing" toml:"tracing"`
	Kafka   KafkaConfig   `mapstructure:"kafka"   toml:"kafka"`
	IDGen   IDGenConfig   `mapstructure:"idgen"   toml:"idgen"`
	Metrics MetricsConfig `mapstructure:"metrics" toml:"metrics"`
	Server  ServerConfig  `mapstructure:"server"  toml:"server"`
	Admin   AdminConfig   `mapstructure:"admin"   toml:"admin"`
}

// ServerConfig 定义 TCP 服务器的网络与处理参数。
type ServerConfig struct {
	Handler        string            `mapstructure:"handler"          toml:"handler"          validate:"oneof=sink answer"`
	Response       string            `mapstructure:"response"         toml:"response"         validate:"required_if=Handler answer"`
	Framing        string            `mapstructure:"framing"          toml:"framing"          validate:"oneof=raw line"`
	Host           string            `mapstructure:"host"             toml:"host"`
	AcceptLimit    AcceptLimitConfig `mapstructure:"accept_limit"     toml:"accept_limit"`
	WriteTimeout   time.Duration     `mapstructure:"write_timeout"    toml:"write_timeout"`
	KeepAlive      time.Duration     `mapstructure:"keep_alive"       toml:"keep_alive"`
	Port           int               `mapstructure:"port"             toml:"port"             validate:"required,min=1,max=65535"`
	Workers        int               `mapstructure:"workers"          toml:"workers"          validate:"min=0"`
	QueueSize      int               `mapstructure:"queue_size"       toml:"queue_size"       validate:"min=0"`
	ReadBufferSize int               `mapstructure:"read_buffer_size" toml:"read_buffer_size" validate:"min=0"`
	MaxConnections int               `mapstructure:"max_connections"  toml:"max_connections"  validate:"min=0"`
	Debug          bool              `mapstructure:"debug"            toml:"debug"`
	Verbose        bool              `mapstructure:"verbose"          toml:"verbose"`
}

// AcceptLimitConfig 新连接接入限流。配置 RedisAddr 时使用分布式滑动窗口。
type AcceptLimitConfig struct {
	RedisAddr string        `mapstructure:"redis_addr" toml:"redis_addr"`
	Window    time.Duration `mapstructure:"window"     toml:"window"`
	Rate      float64       `mapstructure:"rate"       toml:"rate"  validate:"min=0"`
	Burst     int           `mapstructure:"burst"      toml:"burst" validate:"min=0"`
	Enabled   bool          `mapstructure:"enabled"    toml:"enabled"`
}

// AdminConfig 管理 HTTP 服务配置。
type AdminConfig struct {
	Port    int  `mapstructure:"port"    toml:"port"    validate:"min=0,max=65535"`
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// LogConfig 定义日志输出、级别与切割策略。
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"`                                              // 日志级别。
	Format     string `mapstructure:"format"      toml:"format"  validate:"omitempty,oneof=json text"`       // 日志格式（json/text）。
	Output     string `mapstructure:"output"      toml:"output"  validate:"omitempty,oneof=stdout file both"` // 日志输出目标。
	File       string `mapstructure:"file"        toml:"file"`                                               // 日志文件路径。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`                                           // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`                                        // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`                                            // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`                                           // 是否启用压缩。
}

// TracingConfig OpenTelemetry 链路追踪配置。
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" validate:"min=0,max=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标配置。指标经由管理服务的 Path 暴露。
type MetricsConfig struct {
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// KafkaConfig 事务事件发布参数。
type KafkaConfig struct {
	Topic          string        `mapstructure:"topic"           toml:"topic"   validate:"required_if=Enabled true"`
	DLQTopic       string        `mapstructure:"dlq_topic"       toml:"dlq_topic"`
	Brokers        []string      `mapstructure:"brokers"         toml:"brokers" validate:"required_if=Enabled true"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"   toml:"write_timeout"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"   toml:"batch_timeout"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout" toml:"breaker_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"    toml:"max_attempts"`
	RequiredAcks   int           `mapstructure:"required_acks"   toml:"required_acks"`
	BreakerTrips   uint32        `mapstructure:"breaker_trips"   toml:"breaker_trips"`
	QueueSize      int           `mapstructure:"queue_size"      toml:"queue_size"    validate:"min=0"`
	Async          bool          `mapstructure:"async"           toml:"async"`
	Enabled        bool          `mapstructure:"enabled"         toml:"enabled"`
}

// IDGenConfig 连接 ID 生成器参数。
type IDGenConfig struct {
	Type      string `mapstructure:"type"       toml:"type"       validate:"omitempty,oneof=snowflake sonyflake sequence"`
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id"`
}

// Default 返回默认配置。端口没有默认值，必须由文件、环境变量或命令行提供。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Handler:        "answer",
			Response:       "Acknowledged",
			Framing:        "raw",
			Verbose:        true,
			Workers:        4,
			QueueSize:      256,
			ReadBufferSize: 4096,
			AcceptLimit:    AcceptLimitConfig{Window: time.Second},
		},
		Admin: AdminConfig{Port: 9090},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{Path: "/metrics", Enabled: true},
		Tracing: TracingConfig{ServiceName: "tcpserver", SamplerRatio: 1.0},
		Kafka: KafkaConfig{
			Topic:          "tcpserver.transactions",
			WriteTimeout:   10 * time.Second,
			BatchTimeout:   10 * time.Millisecond,
			BreakerTimeout: 30 * time.Second,
			MaxAttempts:    3,
			RequiredAcks:   1,
			BreakerTrips:   5,
			QueueSize:      1024,
		},
		IDGen: IDGenConfig{Type: "snowflake", MachineID: 1},
	}
}

// flagKeys 命令行参数到配置键的映射。
var flagKeys = map[string]string{
	"port":     "server.port",
	"response": "server.response",
	"handler":  "server.handler",
	"framing":  "server.framing",
	"debug":    "server.debug",
	"verbose":  "server.verbose",
}

// Loader 持有一个独立的 viper 实例。
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	conf     *Config
	hooks    []func(*Config)
	mu       sync.Mutex
	watching bool
}

// NewLoader 创建配置加载器并注册默认值与环境变量规则。
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	return &Loader{v: v, validate: validator.New()}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.handler", d.Server.Handler)
	v.SetDefault("server.response", d.Server.Response)
	v.SetDefault("server.framing", d.Server.Framing)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.debug", d.Server.Debug)
	v.SetDefault("server.verbose", d.Server.Verbose)
	v.SetDefault("server.workers", d.Server.Workers)
	v.SetDefault("server.queue_size", d.Server.QueueSize)
	v.SetDefault("server.read_buffer_size", d.Server.ReadBufferSize)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.keep_alive", d.Server.KeepAlive)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.accept_limit.enabled", d.Server.AcceptLimit.Enabled)
	v.SetDefault("server.accept_limit.rate", d.Server.AcceptLimit.Rate)
	v.SetDefault("server.accept_limit.burst", d.Server.AcceptLimit.Burst)
	v.SetDefault("server.accept_limit.redis_addr", d.Server.AcceptLimit.RedisAddr)
	v.SetDefault("server.accept_limit.window", d.Server.AcceptLimit.Window)
	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.port", d.Admin.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sampler_ratio", d.Tracing.SamplerRatio)
	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.dlq_topic", d.Kafka.DLQTopic)
	v.SetDefault("kafka.write_timeout", d.Kafka.WriteTimeout)
	v.SetDefault("kafka.breaker_timeout", d.Kafka.BreakerTimeout)
	v.SetDefault("kafka.max_attempts", d.Kafka.MaxAttempts)
	v.SetDefault("kafka.required_acks", d.Kafka.RequiredAcks)
	v.SetDefault("kafka.breaker_trips", d.Kafka.BreakerTrips)
	v.SetDefault("kafka.batch_timeout", d.Kafka.BatchTimeout)
	v.SetDefault("kafka.queue_size", d.Kafka.QueueSize)
	v.SetDefault("kafka.async", d.Kafka.Async)
	v.SetDefault("idgen.type", d.IDGen.Type)
	v.SetDefault("idgen.start_time", d.IDGen.StartTime)
	v.SetDefault("idgen.machine_id", d.IDGen.MachineID)
}

// BindFlags 把命令行参数绑定到对应的配置键，仅绑定 fs 中存在的参数。
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load 读取配置到 conf 并校验。path 为空时只使用默认值、环境变量与命令行参数。
func (l *Loader) Load(path string, conf *Config) error {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config error: %w", err)
		}
	}

	if err := l.v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := l.validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	l.mu.Lock()
	l.conf = conf
	l.mu.Unlock()
	return nil
}

// Watch 注册配置热更新回调，并在加载过配置文件时开始监听文件变化。
// 回调收到的是重新加载并校验通过的新配置副本。
func (l *Loader) Watch(hook func(*Config)) {
	if hook == nil {
		return
	}

	l.mu.Lock()
	l.hooks = append(l.hooks, hook)
	start := !l.watching && l.v.ConfigFileUsed() != ""
	l.watching = l.watching || start
	l.mu.Unlock()

	if !start {
		return
	}

	l.v.OnConfigChange(l.reload)
	l.v.WatchConfig()
}

func (l *Loader) reload(event fsnotify.Event) {
	slog.Info("detecting config change", "file", event.Name)
	const debounceTimeout = 500 * time.Millisecond
	time.Sleep(debounceTimeout)

	next := Default()
	if err := l.v.Unmarshal(next); err != nil {
		slog.Error("reload config unmarshal failed", "error", err)
		return
	}
	if err := l.validate.Struct(next); err != nil {
		slog.Error("reload config validation failed", "error", err)
		return
	}

	l.mu.Lock()
	l.conf = next
	hooks := append([]func(*Config){}, l.hooks...)
	l.mu.Unlock()

	slog.Info("config hot-reloaded and validated successfully")
	for _, hook := range hooks {
		hook(next)
	}
}

// Current 返回最近一次成功加载的配置。
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conf
}

// Viper 返回底层的 viper 实例。
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

var std = NewLoader()

// BindFlags 使用默认加载器绑定命令行参数。
func BindFlags(fs *pflag.FlagSet) error {
	return std.BindFlags(fs)
}

// Load 使用默认加载器读取配置。
func Load(path string, conf *Config) error {
	return std.Load(path, conf)
}

// Watch 使用默认加载器注册热更新回调。
func Watch(hook func(*Config)) {
	std.Watch(hook)
}

// PrintWithMask 脱敏打印当前配置。
func PrintWithMask(logger *slog.Logger, conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		logger.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if err := json.Unmarshal(data, &configMap); err != nil {
		logger.Error("failed to unmarshal config for masking", "error", err)
		return
	}

	mask(configMap)
	logger.Debug("Current effective configuration", "config", configMap)
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "token", "redisaddr", "brokers"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}
