package codec

import (
	"fmt"
)

const (
	joinTemplate  = "*** %s has joined %s ***\n"
	leaveTemplate = "*** %s has left %s ***\n"
)

// JoinNotice 格式化一条加入频道的系统通知。
func JoinNotice(name, channel string) []byte {
	return capLine(fmt.Sprintf(joinTemplate, name, channel))
}

// LeaveNotice 格式化一条离开频道的系统通知。
func LeaveNotice(name, channel string) []byte {
	return capLine(fmt.Sprintf(leaveTemplate, name, channel))
}

// RelayLine 格式化一条转发给频道内其他会话的消息："<name>: <message>\n"。
func RelayLine(name, message string) []byte {
	return capLine(name + ": " + message + "\n")
}

// DirectiveLine 格式化客户端发往服务器的一条频道消息："<channel>:<message>\n"。
func DirectiveLine(channel, message string) []byte {
	return capLine(channel + ":" + message + "\n")
}

// RegistrationLine 格式化客户端的首行注册消息。
func RegistrationLine(name string) []byte {
	return capLine(Truncate(name, MaxName-1) + "\n")
}

// capLine 保证输出至多 MaxLine 字节，且始终以 '\n' 结尾。
func capLine(s string) []byte {
	if len(s) <= MaxLine {
		return []byte(s)
	}
	out := make([]byte, MaxLine)
	copy(out, s[:MaxLine-1])
	out[MaxLine-1] = '\n'
	return out
}
