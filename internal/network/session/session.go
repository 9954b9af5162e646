package session

import (
	"net"
	"time"

	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/pkg/util/merr"
)

// State 表示会话在事件循环中的生命周期阶段。
type State int32

const (
	// StateConnected 表示连接已接入但尚未完成注册。
	StateConnected State = iota
	// StateNamed 表示已完成注册，name 不再改变。
	StateNamed
	// StateClosed 为终态：连接已关闭，槽位已释放。
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateNamed:
		return "named"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 表示一条已接入的连接及其聊天状态。
//
// 约定：
//   - Session 只能由 Registry 创建与销毁；
//   - conn 归 Session 独占，由 Registry.Remove 关闭且只关闭一次；
//   - 除 Send 外的所有方法只应在事件循环所在的 goroutine 上调用。
type Session struct {
	slot    int
	id      uint64
	conn    net.Conn
	name    string
	channel string
	state   State

	remoteAddr net.Addr

	// lines 为接收侧的行累积缓冲。
	lines *codec.LineBuffer
}

// Slot 返回会话在注册表中的槽位下标。
func (s *Session) Slot() int {
	return s.slot
}

// ID 返回会话在进程内唯一的自增编号，槽位复用后也不会重复。
func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Conn() net.Conn {
	return s.conn
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Channel() string {
	return s.channel
}

func (s *Session) State() State {
	return s.state
}

// Named 报告会话是否已完成注册。
func (s *Session) Named() bool {
	return s.state == StateNamed
}

func (s *Session) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// Lines 返回会话的接收行缓冲。
func (s *Session) Lines() *codec.LineBuffer {
	return s.lines
}

// SetName 完成注册：Connected -> Named。
// name 只能设置一次，重复设置返回 ErrNameAlreadySet。
func (s *Session) SetName(name string) error {
	switch s.state {
	case StateClosed:
		return merr.WrapErrSessionClosed(s.id)
	case StateNamed:
		return merr.WrapErrNameAlreadySet(s.id, s.name)
	}
	if name == "" {
		return merr.WrapErrParameterMissing("name")
	}
	s.name = codec.Truncate(name, codec.MaxName-1)
	s.state = StateNamed
	return nil
}

// Send 向对端写出一行数据，timeout > 0 时为本次写设置截止时间。
// 写失败不会改变会话状态，由调用方决定是否继续。
func (s *Session) Send(line []byte, timeout time.Duration) error {
	if s.state == StateClosed || s.conn == nil {
		return merr.WrapErrSessionClosed(s.id)
	}
	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return merr.WrapErrIoFailed(s.remoteString(), err)
		}
	}
	if _, err := s.conn.Write(line); err != nil {
		return merr.WrapErrIoFailed(s.remoteString(), err)
	}
	return nil
}

func (s *Session) remoteString() string {
	if s.remoteAddr == nil {
		return ""
	}
	return s.remoteAddr.String()
}

// reset 清空会话字段，供 Registry.Remove 使用。
func (s *Session) reset() {
	if s.lines != nil {
		s.lines.Release()
		s.lines = nil
	}
	s.conn = nil
	s.name = ""
	s.channel = ""
	s.state = StateClosed
}
