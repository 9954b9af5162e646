package codec

import (
	"bytes"
)

// 行协议常量。
const (
	// MaxLine 为单次读取以及单行输出的最大字节数（含结尾换行）。
	MaxLine = 512
	// MaxName 为用户名缓冲大小，实际可用 MaxName-1 字节。
	MaxName = 32
	// MaxChan 为频道名缓冲大小，实际可用 MaxChan-1 字节。
	MaxChan = 32
)

// DefaultChannel 为会话建立时默认加入的频道。
const DefaultChannel = "general"

// EventKind 表示一行输入被解释后的协议事件类型。
type EventKind int

const (
	// EventEmpty 表示空行，不产生任何动作。
	EventEmpty EventKind = iota
	// EventRegistered 表示未命名会话的首个非空行，Name 为注册的用户名。
	EventRegistered
	// EventDirective 表示 "<channel>:<message>" 且频道与会话一致。
	EventDirective
	// EventMalformed 表示已命名会话发送了不含 ':' 的行。
	EventMalformed
	// EventMismatched 表示指令中的频道与会话所在频道不一致。
	EventMismatched
)

func (k EventKind) String() string {
	switch k {
	case EventEmpty:
		return "empty"
	case EventRegistered:
		return "registered"
	case EventDirective:
		return "directive"
	case EventMalformed:
		return "malformed"
	case EventMismatched:
		return "mismatched"
	default:
		return "unknown"
	}
}

// Event 为 Decode 的输出。
//
// 字段含义随 Kind 变化：
//   - EventRegistered：Name 为截断后的用户名；
//   - EventDirective / EventMismatched：Channel 为解析出的频道，Message 为 ':' 之后的全部内容。
type Event struct {
	Kind    EventKind
	Name    string
	Channel string
	Message string
}

// Decode 按会话当前的 name/channel 状态解释一行输入。
//
// line 可以带或不带结尾的 "\n"（以及 "\r\n"），Decode 不保存任何状态。
// 格式错误与频道不匹配都只体现在返回的 Kind 上，不会产生 error：
// 协议层对发送方不做任何反馈。
func Decode(line []byte, name, channel string) Event {
	line = TrimEOL(line)

	if name == "" {
		if len(line) == 0 {
			return Event{Kind: EventEmpty}
		}
		return Event{Kind: EventRegistered, Name: Truncate(string(line), MaxName-1)}
	}

	if len(line) == 0 {
		return Event{Kind: EventEmpty}
	}
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return Event{Kind: EventMalformed}
	}

	ev := Event{
		Kind:    EventDirective,
		Channel: Truncate(string(line[:idx]), MaxChan-1),
		Message: string(line[idx+1:]),
	}
	if ev.Channel != channel {
		ev.Kind = EventMismatched
	}
	return ev
}

// TrimEOL 去掉行尾的 "\n" 以及紧随其前的 "\r"。
func TrimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// Truncate 按字节将 s 截断到至多 n 字节。
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
