package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/internal/network/connector"
	"github.com/lk2023060901/linechat/internal/network/eventloop"
	zlog "github.com/lk2023060901/linechat/pkg/log"
	"github.com/lk2023060901/linechat/pkg/util/merr"
	zviper "github.com/lk2023060901/linechat/pkg/util/viper"
)

const (
	// DefaultConfigPath 为默认配置文件路径，文件不存在时忽略。
	DefaultConfigPath = "./linechat.yaml"
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "LINECHAT_CONFIG_FILE_PATH"
	// EnvPrefix 为配置项环境变量覆盖的前缀，例如 LINECHAT_SERVER_MAX_CLIENTS。
	EnvPrefix = "LINECHAT"
)

// 配置项。
const (
	KeyServerMaxClients       = "server.max-clients"
	KeyServerDefaultChannel   = "server.default-channel"
	KeyServerReadBufferSize   = "server.read-buffer-size"
	KeyServerWriteTimeout     = "server.write-timeout"
	KeyServerEventQueueSize   = "server.event-queue-size"
	KeyServerAcceptBackoffMax = "server.accept-backoff-max"
	KeyClientChannel          = "client.channel"
	KeyClientDialAttempts     = "client.dial-attempts"
	KeyMetricsAddr            = "metrics.addr"
	KeyLogging                = "logging"
)

// Application 是 linechat 进程的运行时容器，负责配置与日志的初始化。
type Application struct {
	args       []string
	positional []string
	cfg        *zviper.Config
	loggers    map[string]*zlog.MLogger
}

// New 创建 Application，args 为不含程序名的命令行参数。
func New(args []string) *Application {
	return &Application{args: args}
}

// Init 解析命令行、加载配置并初始化日志。
//
// 配置文件路径的优先级（后者覆盖前者）：
//  1. 默认：./linechat.yaml（不存在时忽略）
//  2. 环境变量：LINECHAT_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
func (a *Application) Init() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	return a.initLogging()
}

// Args 返回去掉 --config 之后的位置参数。
func (a *Application) Args() []string {
	return a.positional
}

// Config 返回已加载的配置。
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Logger 返回按模块名配置的 Logger，未配置的模块退回到全局 Logger。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With(zlog.FieldModule(name))
}

// ServerConfig 从配置中组装事件循环参数。
func (a *Application) ServerConfig() (eventloop.Config, error) {
	cfg := eventloop.Config{
		MaxClients:       a.cfg.GetInt(KeyServerMaxClients),
		DefaultChannel:   a.cfg.GetString(KeyServerDefaultChannel),
		ReadBufferSize:   a.cfg.GetInt(KeyServerReadBufferSize),
		WriteTimeout:     a.cfg.GetDuration(KeyServerWriteTimeout),
		EventQueueSize:   a.cfg.GetInt(KeyServerEventQueueSize),
		AcceptBackoffMax: a.cfg.GetDuration(KeyServerAcceptBackoffMax),
	}
	if err := cfg.Validate(); err != nil {
		return eventloop.Config{}, err
	}
	return cfg, nil
}

// ClientConfig 从配置中组装终端客户端参数。
func (a *Application) ClientConfig() (connector.Config, error) {
	channel := a.cfg.GetString(KeyClientChannel)
	if channel == "" || len(channel) > codec.MaxChan-1 {
		return connector.Config{}, merr.WrapErrParameterInvalidMsg("%s must be 1..%d bytes, got %q",
			KeyClientChannel, codec.MaxChan-1, channel)
	}
	attempts := a.cfg.GetInt(KeyClientDialAttempts)
	if attempts <= 0 {
		return connector.Config{}, merr.WrapErrParameterInvalidRange(1, 100, attempts, KeyClientDialAttempts)
	}
	return connector.Config{
		Channel:      channel,
		DialAttempts: uint(attempts),
	}, nil
}

// MetricsAddr 返回 /metrics 的监听地址，空串表示关闭。
func (a *Application) MetricsAddr() string {
	return a.cfg.GetString(KeyMetricsAddr)
}

func setDefaults(cfg *zviper.Config) {
	def := eventloop.DefaultConfig()
	cfg.SetDefault(KeyServerMaxClients, def.MaxClients)
	cfg.SetDefault(KeyServerDefaultChannel, def.DefaultChannel)
	cfg.SetDefault(KeyServerReadBufferSize, def.ReadBufferSize)
	cfg.SetDefault(KeyServerWriteTimeout, def.WriteTimeout)
	cfg.SetDefault(KeyServerEventQueueSize, def.EventQueueSize)
	cfg.SetDefault(KeyServerAcceptBackoffMax, def.AcceptBackoffMax)
	cfg.SetDefault(KeyClientChannel, codec.DefaultChannel)
	cfg.SetDefault(KeyClientDialAttempts, 3)
	cfg.SetDefault(KeyMetricsAddr, "")
}

// loadConfig 解析配置文件路径并通过 viper 加载。
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := DefaultConfigPath
	explicit := false

	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		configPath = envPath
		explicit = true
	}

	a.positional = a.positional[:0]
	args := a.args
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, merr.WrapErrParameterMissing("--config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
		a.positional = append(a.positional, arg)
	}

	cfg := zviper.New()
	setDefaults(cfg)
	cfg.SetEnvPrefix(EnvPrefix)

	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// initLogging 初始化全局 Logger 与各模块 Logger。
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 依据 LINECHAT_LOG_* 环境变量配置进程级 Logger。
//
//   - LINECHAT_LOG_ENABLE：为 "1"/"true" 时开启输出，否则全部丢弃；
//   - LINECHAT_LOG_LEVEL：日志级别，默认 info；
//   - LINECHAT_LOG_STDOUT：是否输出到标准输出，默认 false；
//   - LINECHAT_LOG_FILE_DIR：日志目录；
//   - LINECHAT_LOG_FILE：日志文件名，留空表示不写文件；
//   - LINECHAT_LOG_FORMAT：日志格式，"console" 或 "json"，默认 console。
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("LINECHAT_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:  getenvDefault("LINECHAT_LOG_LEVEL", "info"),
		Format: getenvDefault("LINECHAT_LOG_FORMAT", zlog.FormatConsole),
		Stdout: getenvBool("LINECHAT_LOG_STDOUT", false),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("LINECHAT_LOG_FILE_DIR", ""),
			Filename: getenvDefault("LINECHAT_LOG_FILE", ""),
		},
	}
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 依据配置中的 logging 段创建模块 Logger。
//
// 示例：
//
//	logging:
//	  server:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: server.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil || !a.cfg.IsSet(KeyLogging) {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey(KeyLogging, &raw); err != nil {
		return errors.Wrap(err, "unmarshal logging section")
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = (&zlog.MLogger{Logger: logger}).With(zlog.FieldModule(name))
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
