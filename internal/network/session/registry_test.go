package session

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/pkg/util/merr"
)

// pipe 返回一对内存连接，server 端交给注册表，client 端在测试结束时关闭。
func pipe(t *testing.T) (server, client net.Conn) {
	t.Helper()
	server, client = net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func TestNewRegistryInvalid(t *testing.T) {
	_, err := NewRegistry(0)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = NewRegistry(1, WithDefaultChannel(""))
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestInsertInitialState(t *testing.T) {
	r, err := NewRegistry(4)
	require.NoError(t, err)

	conn, _ := pipe(t)
	s, err := r.Insert(conn)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Slot())
	assert.Equal(t, "", s.Name())
	assert.Equal(t, codec.DefaultChannel, s.Channel())
	assert.Equal(t, StateConnected, s.State())
	assert.False(t, s.Named())
	assert.NotNil(t, s.Lines())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 4, r.Cap())

	found, err := r.FindByConnection(conn)
	require.NoError(t, err)
	assert.Same(t, s, found)
}

func TestInsertCapacityExceeded(t *testing.T) {
	r, err := NewRegistry(2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		conn, _ := pipe(t)
		_, err := r.Insert(conn)
		require.NoError(t, err)
	}

	conn, _ := pipe(t)
	_, err = r.Insert(conn)
	assert.ErrorIs(t, err, merr.ErrCapacityExceeded)
	assert.True(t, merr.IsRetryableErr(err))
	assert.Equal(t, 2, r.Len())

	_, err = r.FindByConnection(conn)
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
}

func TestInsertDuplicateConn(t *testing.T) {
	r, err := NewRegistry(2)
	require.NoError(t, err)

	conn, _ := pipe(t)
	_, err = r.Insert(conn)
	require.NoError(t, err)
	_, err = r.Insert(conn)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestRemoveClosesConnection(t *testing.T) {
	r, err := NewRegistry(2)
	require.NoError(t, err)

	conn, peer := pipe(t)
	s, err := r.Insert(conn)
	require.NoError(t, err)
	require.NoError(t, s.SetName("alice"))

	require.NoError(t, r.Remove(s))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, "", s.Name())
	assert.Nil(t, s.Lines())

	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, err = peer.Read(make([]byte, 1))
	assert.Error(t, err)

	_, err = r.FindByConnection(conn)
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)

	assert.ErrorIs(t, r.Remove(s), merr.ErrSessionNotFound)
	assert.ErrorIs(t, r.Remove(nil), merr.ErrSessionNotFound)
}

func TestSlotReuse(t *testing.T) {
	r, err := NewRegistry(3, WithDefaultChannel("lobby"))
	require.NoError(t, err)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		conn, _ := pipe(t)
		s, err := r.Insert(conn)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	require.NoError(t, sessions[1].SetName("bob"))
	require.NoError(t, r.Remove(sessions[1]))

	conn, _ := pipe(t)
	s, err := r.Insert(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Slot())
	assert.Equal(t, "", s.Name())
	assert.Equal(t, "lobby", s.Channel())
	assert.Equal(t, StateConnected, s.State())
	assert.Greater(t, s.ID(), sessions[2].ID())
}

func TestForEachSlotOrder(t *testing.T) {
	r, err := NewRegistry(4)
	require.NoError(t, err)

	var sessions []*Session
	for i := 0; i < 4; i++ {
		conn, _ := pipe(t)
		s, err := r.Insert(conn)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	require.NoError(t, r.Remove(sessions[0]))
	conn, _ := pipe(t)
	reused, err := r.Insert(conn)
	require.NoError(t, err)

	var slots []int
	var ids []uint64
	r.ForEach(nil, func(s *Session) {
		slots = append(slots, s.Slot())
		ids = append(ids, s.ID())
	})
	assert.Equal(t, []int{0, 1, 2, 3}, slots)
	assert.Equal(t, reused.ID(), ids[0])

	var odd []int
	r.ForEach(func(s *Session) bool { return s.Slot()%2 == 1 }, func(s *Session) {
		odd = append(odd, s.Slot())
	})
	assert.Equal(t, []int{1, 3}, odd)
}

func TestForEachRemoveAll(t *testing.T) {
	r, err := NewRegistry(3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		conn, _ := pipe(t)
		_, err := r.Insert(conn)
		require.NoError(t, err)
	}

	r.ForEach(nil, func(s *Session) {
		assert.NoError(t, r.Remove(s))
	})
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Sessions())
}

func TestSetNameOnce(t *testing.T) {
	r, err := NewRegistry(1)
	require.NoError(t, err)
	conn, _ := pipe(t)
	s, err := r.Insert(conn)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetName(""), merr.ErrParameterMissing)
	require.NoError(t, s.SetName("alice"))
	assert.True(t, s.Named())

	err = s.SetName("mallory")
	assert.ErrorIs(t, err, merr.ErrNameAlreadySet)
	assert.Equal(t, "alice", s.Name())

	require.NoError(t, r.Remove(s))
	assert.ErrorIs(t, s.SetName("bob"), merr.ErrSessionClosed)
}

func TestSend(t *testing.T) {
	r, err := NewRegistry(1)
	require.NoError(t, err)
	conn, peer := pipe(t)
	s, err := r.Insert(conn)
	require.NoError(t, err)

	go func() {
		_ = s.Send([]byte("hi\n"), time.Second)
	}()
	buf := make([]byte, 8)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf[:n]))

	// 对端不读时写超时。
	err = s.Send([]byte("stuck\n"), 20*time.Millisecond)
	assert.ErrorIs(t, err, merr.ErrIoFailed)

	require.NoError(t, r.Remove(s))
	assert.ErrorIs(t, s.Send([]byte("x\n"), 0), merr.ErrSessionClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "named", StateNamed.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestInsertInChannel(t *testing.T) {
	r, err := NewRegistry(2)
	require.NoError(t, err)

	conn, _ := pipe(t)
	s, err := r.InsertInChannel(conn, "other")
	require.NoError(t, err)
	assert.Equal(t, "other", s.Channel())

	conn2, _ := pipe(t)
	_, err = r.InsertInChannel(conn2, "")
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	_, err = r.InsertInChannel(conn2, strings.Repeat("c", codec.MaxChan))
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	assert.Equal(t, 1, r.Len())
}
