package network

// Stage 表示连接处理链路中的阶段。
//
// 主要用于在日志中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageListen   Stage = "listen"   // 绑定/监听端口
	StageAccept   Stage = "accept"   // 接受新连接
	StageRecv     Stage = "recv"     // 从连接读取原始字节
	StageDecode   Stage = "decode"   // 字节 -> 行 -> 协议事件
	StageDispatch Stage = "dispatch" // 协议事件 -> 注册表/广播
	StageSend     Stage = "send"     // 向对端写出一行
)

// String 实现 fmt.Stringer，便于直接作为日志字段输出。
func (s Stage) String() string {
	return string(s)
}
