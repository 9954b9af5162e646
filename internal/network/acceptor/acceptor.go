package acceptor

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	network "github.com/lk2023060901/linechat/internal/network"
	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/pkg/log"
	"github.com/lk2023060901/linechat/pkg/metrics"
	"github.com/lk2023060901/linechat/pkg/util/conc"
	"github.com/lk2023060901/linechat/pkg/util/merr"
	"github.com/lk2023060901/linechat/pkg/util/retry"
)

// EventKind 表示 Acceptor 投递给事件循环的事件类型。
type EventKind int

const (
	// EventAccepted 表示接受了一条新连接，尚未进入注册表。
	EventAccepted EventKind = iota
	// EventData 表示从连接读到了 N>0 字节。
	EventData
	// EventClosed 表示连接读到 EOF 或读失败，Err 为 nil 表示对端正常关闭。
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventData:
		return "data"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event 是读协程与接入协程交给事件循环的唯一输入。
type Event struct {
	Kind EventKind
	Conn net.Conn
	Data []byte
	Err  error
}

// Config 描述 Acceptor 的行为参数。
//
// 说明：
//   - ReadBufferSize 为单次 Read 的缓冲大小；
//   - QueueSize 为事件队列容量，队列满时读协程阻塞，不再继续读取；
//   - BackoffMax 为 Accept 连续失败时的最大退避间隔。
type Config struct {
	ReadBufferSize int
	QueueSize      int
	BackoffMax     time.Duration
}

func defaultConfig() Config {
	return Config{
		ReadBufferSize: codec.MaxLine,
		QueueSize:      1024,
		BackoffMax:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := defaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	return c
}

// Acceptor 持有监听端口，负责接受连接并为每条已登记的连接运行一个读任务。
//
// Acceptor 不接触注册表：它只把 Accepted/Data/Closed 事件写入 Events()，
// 由事件循环决定连接的去留。
type Acceptor struct {
	log.Binder

	ln     net.Listener
	cfg    Config
	pool   *conc.Pool
	events chan Event

	closeOnce sync.Once
}

// Listen 在 addr 上监听 TCP 并创建 Acceptor。监听失败返回 ErrListenFailed。
func Listen(addr string, cfg Config, pool *conc.Pool) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, merr.WrapErrListenFailed(addr, err)
	}
	a, err := New(ln, cfg, pool)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return a, nil
}

// New 使用已有的 Listener 创建 Acceptor。
func New(ln net.Listener, cfg Config, pool *conc.Pool) (*Acceptor, error) {
	if ln == nil {
		return nil, merr.WrapErrParameterMissing("listener")
	}
	if pool == nil {
		return nil, merr.WrapErrParameterMissing("pool")
	}
	cfg = cfg.withDefaults()
	return &Acceptor{
		ln:     ln,
		cfg:    cfg,
		pool:   pool,
		events: make(chan Event, cfg.QueueSize),
	}, nil
}

// Addr 返回实际监听地址。
func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Events 返回事件队列，只应由事件循环消费。
func (a *Acceptor) Events() <-chan Event {
	return a.events
}

// Run 运行接入循环，阻塞直至 ctx 取消或 Close 被调用，此时返回 nil。
//
// Accept 的失败只影响那一次接入：记录日志后按指数退避重试，不会终止循环。
func (a *Acceptor) Run(ctx context.Context) error {
	logger := a.Logger().With(log.FieldStage(network.StageAccept.String()))

	stop := context.AfterFunc(ctx, func() {
		_ = a.Close()
	})
	defer stop()

	bo := retry.NewBackOff(retry.Sleep(5*time.Millisecond), retry.MaxSleepTime(a.cfg.BackoffMax))
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				wait = a.cfg.BackoffMax
			}
			logger.RatedWarn(1, "accept failed, retrying", zap.Duration("backoff", wait), zap.Error(err))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		bo.Reset()
		metrics.AcceptedConnections.Inc()

		if !a.post(ctx, Event{Kind: EventAccepted, Conn: conn}) {
			_ = conn.Close()
			return nil
		}
	}
}

// Watch 为一条已进入注册表的连接启动读任务。
//
// 读任务把读到的字节以 EventData 投递，读到 EOF 或出错时投递一次 EventClosed 后退出。
// 协程池已满或已关闭时返回错误，连接由调用方处理。
func (a *Acceptor) Watch(ctx context.Context, conn net.Conn) error {
	return a.pool.Submit(func() {
		a.readLoop(ctx, conn)
	})
}

func (a *Acceptor) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, a.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !a.post(ctx, Event{Kind: EventData, Conn: conn, Data: data}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			a.post(ctx, Event{Kind: EventClosed, Conn: conn, Err: err})
			return
		}
	}
}

// post 投递事件，ctx 结束时放弃并返回 false。
func (a *Acceptor) post(ctx context.Context, ev Event) bool {
	select {
	case a.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Drain 取出队列中尚未处理的事件，关闭其中从未进入注册表的新连接。
// 只应在事件循环退出后调用。
func (a *Acceptor) Drain() int {
	dropped := 0
	for {
		select {
		case ev := <-a.events:
			if ev.Kind == EventAccepted {
				_ = ev.Conn.Close()
				dropped++
			}
		default:
			return dropped
		}
	}
}

// Close 关闭监听端口，多次调用是安全的。
func (a *Acceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.ln.Close()
	})
	return err
}
