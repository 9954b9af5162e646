package eventloop

import (
	"net"
	"time"

	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/internal/network/router"
	"github.com/lk2023060901/linechat/pkg/util/merr"
)

// Config 描述聊天服务器事件循环的参数。
type Config struct {
	// MaxClients 为注册表容量，超出的连接被立即关闭。
	MaxClients int
	// DefaultChannel 为新会话加入的频道。
	DefaultChannel string
	// ReadBufferSize 为单次读取的字节数，同时作为单行累积的上限。
	ReadBufferSize int
	// WriteTimeout 为向单个接收方写一行的截止时间。
	WriteTimeout time.Duration
	// EventQueueSize 为读协程与事件循环之间的队列容量。
	EventQueueSize int
	// AcceptBackoffMax 为 Accept 连续失败时的最大退避间隔。
	AcceptBackoffMax time.Duration

	// ChannelFor 在接入时为连接选择频道，返回空串表示使用 DefaultChannel。
	ChannelFor func(remote net.Addr) string
}

// DefaultMaxClients 与 select() 的 FD_SETSIZE 一致。
const DefaultMaxClients = 1024

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxClients:       DefaultMaxClients,
		DefaultChannel:   codec.DefaultChannel,
		ReadBufferSize:   codec.MaxLine,
		WriteTimeout:     router.DefaultWriteTimeout,
		EventQueueSize:   1024,
		AcceptBackoffMax: time.Second,
	}
}

// Validate 检查配置是否合法。
func (c Config) Validate() error {
	if c.MaxClients <= 0 {
		return merr.WrapErrParameterInvalidRange(1, 1<<20, c.MaxClients, "server.max-clients")
	}
	if c.DefaultChannel == "" || len(c.DefaultChannel) > codec.MaxChan-1 {
		return merr.WrapErrParameterInvalidMsg("server.default-channel must be 1..%d bytes, got %q",
			codec.MaxChan-1, c.DefaultChannel)
	}
	if c.ReadBufferSize <= 0 || c.ReadBufferSize > codec.MaxLine {
		return merr.WrapErrParameterInvalidRange(1, codec.MaxLine, c.ReadBufferSize, "server.read-buffer-size")
	}
	if c.WriteTimeout <= 0 {
		return merr.WrapErrParameterInvalidMsg("server.write-timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.AcceptBackoffMax <= 0 {
		return merr.WrapErrParameterInvalidMsg("server.accept-backoff-max must be positive, got %s", c.AcceptBackoffMax)
	}
	if c.EventQueueSize <= 0 {
		return merr.WrapErrParameterInvalidRange(1, 1<<20, c.EventQueueSize, "server.event-queue-size")
	}
	return nil
}
