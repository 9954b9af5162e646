package log

import (
	"net"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSessionID = "sessionID"
	FieldNameSlot      = "slot"
	FieldNameChannel   = "channel"
	FieldNameUser      = "user"
	FieldNameRemote    = "remote"
	FieldNameStage     = "stage"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

func FieldSessionID(id uint64) zap.Field {
	return zap.Uint64(FieldNameSessionID, id)
}

func FieldSlot(slot int) zap.Field {
	return zap.Int(FieldNameSlot, slot)
}

func FieldChannel(channel string) zap.Field {
	return zap.String(FieldNameChannel, channel)
}

func FieldUser(name string) zap.Field {
	return zap.String(FieldNameUser, name)
}

// FieldRemote 记录对端地址；addr 为 nil 时输出空串。
func FieldRemote(addr net.Addr) zap.Field {
	if addr == nil {
		return zap.String(FieldNameRemote, "")
	}
	return zap.String(FieldNameRemote, addr.String())
}

func FieldStage(stage string) zap.Field {
	return zap.String(FieldNameStage, stage)
}
