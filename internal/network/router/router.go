package router

import (
	"time"

	"go.uber.org/zap"

	network "github.com/lk2023060901/linechat/internal/network"
	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/internal/network/session"
	"github.com/lk2023060901/linechat/pkg/log"
	"github.com/lk2023060901/linechat/pkg/metrics"
)

// Notice 表示系统通知的类型。
type Notice int

const (
	NoticeJoin Notice = iota
	NoticeLeave
)

func (n Notice) String() string {
	switch n {
	case NoticeJoin:
		return "join"
	case NoticeLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// DefaultWriteTimeout 为单次向接收方写出的默认截止时间。
const DefaultWriteTimeout = 500 * time.Millisecond

// Router 负责把一行数据投递给与发送方同频道的其他会话。
//
// 说明：
//   - Router 只读取 Registry，不改变任何会话的成员关系或状态；
//   - 投递是尽力而为的：某个接收方写失败只记录日志，不影响其余接收方；
//   - 发送方永远不会收到自己的消息或通知。
type Router struct {
	log.Binder

	writeTimeout time.Duration
}

// Option 用于配置 Router。
type Option func(r *Router)

// WithWriteTimeout 设置单次写的截止时间，<= 0 表示不设置。
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.writeTimeout = d
	}
}

// New 创建一个 Router。
func New(opts ...Option) *Router {
	r := &Router{
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Announce 向 sender 所在频道的其他会话发送加入/离开通知，返回成功投递的数量。
func (r *Router) Announce(reg *session.Registry, sender *session.Session, notice Notice) int {
	var line []byte
	switch notice {
	case NoticeJoin:
		line = codec.JoinNotice(sender.Name(), sender.Channel())
	case NoticeLeave:
		line = codec.LeaveNotice(sender.Name(), sender.Channel())
	default:
		return 0
	}
	return r.broadcast(reg, sender, line, metrics.DeliveryNotice)
}

// Relay 将 "<name>: <message>" 转发给 sender 所在频道的其他会话，返回成功投递的数量。
func (r *Router) Relay(reg *session.Registry, sender *session.Session, message string) int {
	return r.broadcast(reg, sender, codec.RelayLine(sender.Name(), message), metrics.DeliveryRelay)
}

func (r *Router) broadcast(reg *session.Registry, sender *session.Session, line []byte, kind string) int {
	channel := sender.Channel()
	delivered := 0

	reg.ForEach(func(s *session.Session) bool {
		return s != sender && s.Channel() == channel
	}, func(s *session.Session) {
		if err := s.Send(line, r.writeTimeout); err != nil {
			metrics.DeliveriesTotal.WithLabelValues(kind, metrics.ResultFailed).Inc()
			r.Logger().RatedWarn(1, "deliver line failed",
				log.FieldStage(network.StageSend.String()),
				log.FieldSessionID(s.ID()),
				log.FieldSlot(s.Slot()),
				log.FieldRemote(s.RemoteAddr()),
				log.FieldChannel(channel),
				zap.Error(err))
			return
		}
		metrics.DeliveriesTotal.WithLabelValues(kind, metrics.ResultOK).Inc()
		delivered++
	})
	return delivered
}
