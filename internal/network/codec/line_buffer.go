package codec

import (
	"bytes"

	"github.com/valyala/bytebufferpool"
)

// LineBuffer 为单个会话累积尚未成行的字节。
//
// 规则：
//   - 每个 '\n' 结束一行，行尾的 "\r\n" 会被去掉；
//   - 累积到 max 字节仍未见到 '\n' 时，整块作为一行输出；
//   - 连接关闭时残留的半行直接丢弃（Release 即可）。
//
// LineBuffer 不是并发安全的，只应由持有会话的那个 goroutine 使用。
type LineBuffer struct {
	buf *bytebufferpool.ByteBuffer
	max int
}

// NewLineBuffer 从对象池取出底层缓冲，max <= 0 时使用 MaxLine。
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = MaxLine
	}
	return &LineBuffer{
		buf: bytebufferpool.Get(),
		max: max,
	}
}

// Feed 追加一段读到的字节，返回其中所有已完整的行（不含行尾）。
// 返回的切片归调用方所有。
func (b *LineBuffer) Feed(p []byte) [][]byte {
	if b.buf == nil {
		return nil
	}

	var lines [][]byte
	for len(p) > 0 {
		room := b.max - b.buf.Len()
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}

		if idx := bytes.IndexByte(chunk, '\n'); idx >= 0 {
			b.buf.Write(chunk[:idx])
			lines = append(lines, b.take(true))
			p = p[idx+1:]
			continue
		}

		b.buf.Write(chunk)
		p = p[len(chunk):]
		if b.buf.Len() >= b.max {
			lines = append(lines, b.take(false))
		}
	}
	return lines
}

// Pending 返回尚未成行的字节数。
func (b *LineBuffer) Pending() int {
	if b.buf == nil {
		return 0
	}
	return b.buf.Len()
}

// Release 丢弃残留数据并将底层缓冲归还对象池，之后的 Feed 不再产生任何行。
func (b *LineBuffer) Release() {
	if b.buf == nil {
		return
	}
	bytebufferpool.Put(b.buf)
	b.buf = nil
}

func (b *LineBuffer) take(terminated bool) []byte {
	line := b.buf.Bytes()
	if terminated {
		line = bytes.TrimSuffix(line, []byte{'\r'})
	}
	out := make([]byte, len(line))
	copy(out, line)
	b.buf.Reset()
	return out
}
