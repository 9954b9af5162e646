package session

import (
	"net"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/pkg/util/merr"
)

// Registry 是固定容量的会话槽位表。
//
// 说明：
//   - slots 为按槽位下标存放的会话数组（nil 表示空闲），index 为 conn -> 槽位 的反查表；
//   - Insert 总是占用下标最小的空闲槽位，因此遍历顺序是槽位顺序而非接入顺序；
//   - Registry 不加锁，所有调用必须发生在同一个 goroutine（事件循环）上。
type Registry struct {
	slots []*Session
	index map[net.Conn]int

	defaultChannel string
	lineSize       int
	nextID         uint64
}

// Option 用于配置 Registry。
type Option func(r *Registry)

// WithDefaultChannel 设置新会话加入的频道，默认 codec.DefaultChannel。
func WithDefaultChannel(channel string) Option {
	return func(r *Registry) {
		r.defaultChannel = channel
	}
}

// WithLineSize 设置每个会话行缓冲的上限，默认 codec.MaxLine。
func WithLineSize(n int) Option {
	return func(r *Registry) {
		r.lineSize = n
	}
}

// NewRegistry 创建容量为 capacity 的注册表。
func NewRegistry(capacity int, opts ...Option) (*Registry, error) {
	if capacity <= 0 {
		return nil, merr.WrapErrParameterInvalidMsg("registry capacity must be positive, got %d", capacity)
	}
	r := &Registry{
		slots:          make([]*Session, capacity),
		index:          make(map[net.Conn]int, capacity),
		defaultChannel: codec.DefaultChannel,
		lineSize:       codec.MaxLine,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultChannel == "" || len(r.defaultChannel) > codec.MaxChan-1 {
		return nil, merr.WrapErrParameterInvalidMsg("invalid default channel %q", r.defaultChannel)
	}
	return r, nil
}

// Insert 为 conn 分配第一个空闲槽位，返回处于 Connected 状态的新会话。
//
// 没有空闲槽位时返回 ErrCapacityExceeded，此时 conn 不会进入注册表，
// 关闭它是调用方的责任。
func (r *Registry) Insert(conn net.Conn) (*Session, error) {
	return r.InsertInChannel(conn, r.defaultChannel)
}

// InsertInChannel 与 Insert 相同，但新会话加入指定频道。
// 频道在会话生命周期内不再改变。
func (r *Registry) InsertInChannel(conn net.Conn, channel string) (*Session, error) {
	if channel == "" || len(channel) > codec.MaxChan-1 {
		return nil, merr.WrapErrParameterInvalidMsg("invalid channel %q", channel)
	}
	if conn == nil {
		return nil, merr.WrapErrParameterMissing("conn")
	}
	if _, ok := r.index[conn]; ok {
		return nil, merr.WrapErrParameterInvalidMsg("connection already registered")
	}

	slot := -1
	for i, s := range r.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, merr.WrapErrCapacityExceeded(len(r.slots))
	}

	r.nextID++
	s := &Session{
		slot:       slot,
		id:         r.nextID,
		conn:       conn,
		channel:    channel,
		state:      StateConnected,
		remoteAddr: conn.RemoteAddr(),
		lines:      codec.NewLineBuffer(r.lineSize),
	}
	r.slots[slot] = s
	r.index[conn] = slot
	return s, nil
}

// Remove 关闭会话持有的连接、清空字段并释放槽位。
//
// 对同一会话调用两次会返回 ErrSessionNotFound。连接关闭失败不影响槽位释放，
// 该错误会被原样返回供调用方记录。
func (r *Registry) Remove(s *Session) error {
	if s == nil || s.state == StateClosed {
		return merr.WrapErrSessionNotFound(sessionID(s))
	}
	slot, ok := r.index[s.conn]
	if !ok || r.slots[slot] != s {
		return merr.WrapErrSessionNotFound(s.id)
	}

	conn := s.conn
	delete(r.index, conn)
	r.slots[slot] = nil
	s.reset()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return merr.WrapErrIoFailed("close", err)
	}
	return nil
}

// ForEach 按槽位顺序遍历所有会话，对 pred 返回 true 的会话调用 action。
// pred 为 nil 时匹配全部会话。action 中可以对当前会话调用 Remove。
func (r *Registry) ForEach(pred func(s *Session) bool, action func(s *Session)) {
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		if pred == nil || pred(s) {
			action(s)
		}
	}
}

// FindByConnection 查找持有 conn 的会话，不存在时返回 ErrSessionNotFound。
func (r *Registry) FindByConnection(conn net.Conn) (*Session, error) {
	slot, ok := r.index[conn]
	if !ok {
		return nil, merr.WrapErrSessionNotFound("conn")
	}
	return r.slots[slot], nil
}

// Sessions 返回当前会话的快照，按槽位顺序排列。
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.index))
	r.ForEach(nil, func(s *Session) {
		out = append(out, s)
	})
	return out
}

// Len 返回已占用的槽位数。
func (r *Registry) Len() int {
	return len(r.index)
}

// Cap 返回注册表容量。
func (r *Registry) Cap() int {
	return len(r.slots)
}

// DefaultChannel 返回新会话加入的频道。
func (r *Registry) DefaultChannel() string {
	return r.defaultChannel
}

func sessionID(s *Session) uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
