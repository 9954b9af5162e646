package eventloop

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	network "github.com/lk2023060901/linechat/internal/network"
	"github.com/lk2023060901/linechat/internal/network/acceptor"
	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/internal/network/router"
	"github.com/lk2023060901/linechat/internal/network/session"
	"github.com/lk2023060901/linechat/pkg/log"
	"github.com/lk2023060901/linechat/pkg/metrics"
	"github.com/lk2023060901/linechat/pkg/util/conc"
	"github.com/lk2023060901/linechat/pkg/util/merr"
)

// Server 是聊天中继的事件循环。
//
// 并发模型：
//   - 接入协程与每条连接的读任务只负责产生事件（acceptor.Event）；
//   - 唯一的分发协程（loop）消费事件，独占注册表的 insert/remove/update，
//     并在同一协程内驱动 Codec 与 Router；
//   - 因此注册表与会话状态无需加锁。
type Server struct {
	log.Binder

	cfg      Config
	acceptor *acceptor.Acceptor
	registry *session.Registry
	router   *router.Router
	pool     *conc.Pool

	serving atomic.Bool
}

// New 在 addr 上监听并创建 Server。
// 配置非法返回 ErrParameterInvalid，监听失败返回 ErrListenFailed，两者都属于启动期的致命错误。
func New(addr string, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := session.NewRegistry(cfg.MaxClients,
		session.WithDefaultChannel(cfg.DefaultChannel),
		session.WithLineSize(cfg.ReadBufferSize))
	if err != nil {
		return nil, err
	}

	// 会话被移除后，其读任务要等投递完最后一个 Closed 事件才退出，
	// 池容量留出一倍余量，避免槽位复用时读任务数量短暂超过注册表容量。
	pool, err := conc.NewPool(2*cfg.MaxClients,
		conc.WithNonBlocking(true),
		conc.WithConcealPanic(true),
		conc.WithLogger(log.With(log.FieldComponent("reader-pool"))))
	if err != nil {
		return nil, err
	}

	acc, err := acceptor.Listen(addr, acceptor.Config{
		ReadBufferSize: cfg.ReadBufferSize,
		QueueSize:      cfg.EventQueueSize,
		BackoffMax:     cfg.AcceptBackoffMax,
	}, pool)
	if err != nil {
		pool.Release()
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		acceptor: acc,
		registry: registry,
		router:   router.New(router.WithWriteTimeout(cfg.WriteTimeout)),
		pool:     pool,
	}, nil
}

// SetLogger 同时为 Server 及其子组件绑定 Logger。
func (s *Server) SetLogger(logger *log.MLogger) {
	s.Binder.SetLogger(logger)
	s.acceptor.SetLogger(logger.With(log.FieldComponent("acceptor")))
	s.router.SetLogger(logger.With(log.FieldComponent("router")))
}

// Addr 返回实际监听地址。
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Serve 运行事件循环，阻塞直至 ctx 取消或发生致命错误。
//
// 退出时关闭监听端口，向每个已注册会话所在频道广播离开通知并关闭全部连接。
// ctx 取消属于正常退出，返回 nil。Serve 只能调用一次。
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return merr.WrapErrServiceClosed("eventloop", "Serve called twice")
	}

	s.Logger().Info("server listening",
		zap.Stringer("addr", s.Addr()),
		zap.Int("maxClients", s.cfg.MaxClients),
		zap.String("defaultChannel", s.cfg.DefaultChannel))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptor.Run(gctx)
	})
	g.Go(func() error {
		return s.loop(gctx)
	})
	err := g.Wait()

	// 两个协程都已退出，此时由当前协程接管注册表。
	_ = s.acceptor.Close()
	s.shutdown()
	s.pool.Release()
	return err
}

func (s *Server) loop(ctx context.Context) error {
	events := s.acceptor.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			start := time.Now()
			s.handle(ctx, ev)
			metrics.EventProcessingDuration.WithLabelValues(ev.Kind.String()).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *Server) handle(ctx context.Context, ev acceptor.Event) {
	switch ev.Kind {
	case acceptor.EventAccepted:
		s.handleAccepted(ctx, ev.Conn)
	case acceptor.EventData:
		sess, err := s.registry.FindByConnection(ev.Conn)
		if err != nil {
			// 会话已被移除，读任务投递的残留数据直接丢弃。
			return
		}
		for _, line := range sess.Lines().Feed(ev.Data) {
			s.dispatch(sess, line)
		}
	case acceptor.EventClosed:
		sess, err := s.registry.FindByConnection(ev.Conn)
		if err != nil {
			return
		}
		s.evict(sess, ev.Err)
	}
}

func (s *Server) handleAccepted(ctx context.Context, conn net.Conn) {
	logger := s.Logger()

	channel := s.cfg.DefaultChannel
	if s.cfg.ChannelFor != nil {
		if c := s.cfg.ChannelFor(conn.RemoteAddr()); c != "" {
			channel = c
		}
	}

	sess, err := s.registry.InsertInChannel(conn, channel)
	if err != nil {
		metrics.RejectedConnections.Inc()
		msg := "insert session failed, connection rejected"
		if errors.Is(err, merr.ErrCapacityExceeded) {
			msg = "too many clients, connection rejected"
		}
		logger.RatedWarn(1, msg,
			log.FieldStage(network.StageAccept.String()),
			log.FieldRemote(conn.RemoteAddr()),
			log.FieldChannel(channel),
			zap.Int("maxClients", s.registry.Cap()),
			zap.Error(err))
		_ = conn.Close()
		return
	}

	if err := s.acceptor.Watch(ctx, conn); err != nil {
		metrics.RejectedConnections.Inc()
		logger.Warn("failed to start reader, connection rejected",
			log.FieldStage(network.StageAccept.String()),
			log.FieldRemote(conn.RemoteAddr()),
			zap.Error(err))
		_ = s.registry.Remove(sess)
		return
	}

	metrics.ConnectedSessions.Set(float64(s.registry.Len()))
	logger.Info("new client",
		log.FieldSessionID(sess.ID()),
		log.FieldSlot(sess.Slot()),
		log.FieldRemote(sess.RemoteAddr()),
		log.FieldChannel(sess.Channel()))
}

// dispatch 解释会话的一行输入并执行对应动作。
//
// 格式错误与跨频道的指令直接丢弃，不向发送方返回任何提示。
func (s *Server) dispatch(sess *session.Session, line []byte) {
	ev := codec.Decode(line, sess.Name(), sess.Channel())
	metrics.LinesTotal.WithLabelValues(ev.Kind.String()).Inc()

	logger := s.Logger().With(log.FieldSessionID(sess.ID()), log.FieldSlot(sess.Slot()))
	switch ev.Kind {
	case codec.EventRegistered:
		if err := sess.SetName(ev.Name); err != nil {
			logger.Warn("register name failed", log.FieldStage(network.StageDispatch.String()), zap.Error(err))
			return
		}
		logger.Info("client registered", log.FieldUser(sess.Name()), log.FieldChannel(sess.Channel()))
		s.router.Announce(s.registry, sess, router.NoticeJoin)
	case codec.EventDirective:
		s.router.Relay(s.registry, sess, ev.Message)
	case codec.EventMalformed:
		logger.Debug("malformed directive dropped", log.FieldStage(network.StageDecode.String()))
	case codec.EventMismatched:
		logger.Debug("cross-channel directive dropped",
			log.FieldStage(network.StageDecode.String()),
			log.FieldChannel(sess.Channel()),
			zap.String("target", ev.Channel))
	case codec.EventEmpty:
	}
}

// evict 将会话转入 Closed：已注册的会话先广播离开通知，再释放槽位。
func (s *Server) evict(sess *session.Session, cause error) {
	logger := s.Logger().With(
		log.FieldSessionID(sess.ID()),
		log.FieldSlot(sess.Slot()),
		log.FieldRemote(sess.RemoteAddr()))

	if sess.Named() {
		s.router.Announce(s.registry, sess, router.NoticeLeave)
	}
	name := sess.Name()
	if err := s.registry.Remove(sess); err != nil {
		logger.Warn("remove session failed", zap.Error(err))
	}
	metrics.ConnectedSessions.Set(float64(s.registry.Len()))

	if cause != nil {
		logger.Warn("client read failed", log.FieldStage(network.StageRecv.String()), log.FieldUser(name), zap.Error(cause))
		return
	}
	logger.Info("client disconnected", log.FieldUser(name))
}

func (s *Server) shutdown() {
	n := s.registry.Len()
	s.registry.ForEach(nil, func(sess *session.Session) {
		s.evict(sess, nil)
	})
	dropped := s.acceptor.Drain()
	s.Logger().Info("server stopped", zap.Int("sessions", n), zap.Int("pendingDropped", dropped))
}
