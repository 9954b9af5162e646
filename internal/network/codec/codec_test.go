package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRegistration(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{"plain", "alice\n", Event{Kind: EventRegistered, Name: "alice"}},
		{"crlf", "alice\r\n", Event{Kind: EventRegistered, Name: "alice"}},
		{"no terminator", "alice", Event{Kind: EventRegistered, Name: "alice"}},
		{"empty", "\n", Event{Kind: EventEmpty}},
		{"colon kept in name", "a:b\n", Event{Kind: EventRegistered, Name: "a:b"}},
		{"truncated", strings.Repeat("n", 40) + "\n", Event{Kind: EventRegistered, Name: strings.Repeat("n", MaxName-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode([]byte(tt.line), "", DefaultChannel))
		})
	}
}

func TestDecodeDirective(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{"directive", "general:hello\n", Event{Kind: EventDirective, Channel: "general", Message: "hello"}},
		{"message keeps colons", "general:a:b:c\n", Event{Kind: EventDirective, Channel: "general", Message: "a:b:c"}},
		{"empty message", "general:\n", Event{Kind: EventDirective, Channel: "general", Message: ""}},
		{"mismatched", "other:hi\n", Event{Kind: EventMismatched, Channel: "other", Message: "hi"}},
		{"empty channel", ":hi\n", Event{Kind: EventMismatched, Channel: "", Message: "hi"}},
		{"malformed", "hello there\n", Event{Kind: EventMalformed}},
		{"empty", "\r\n", Event{Kind: EventEmpty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode([]byte(tt.line), "alice", "general"))
		})
	}
}

func TestDecodeChannelTruncation(t *testing.T) {
	long := strings.Repeat("c", 40)
	ev := Decode([]byte(long+":hi\n"), "alice", strings.Repeat("c", MaxChan-1))
	assert.Equal(t, EventDirective, ev.Kind)
	assert.Len(t, ev.Channel, MaxChan-1)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "registered", EventRegistered.String())
	assert.Equal(t, "mismatched", EventMismatched.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "*** alice has joined general ***\n", string(JoinNotice("alice", "general")))
	assert.Equal(t, "*** alice has left general ***\n", string(LeaveNotice("alice", "general")))
	assert.Equal(t, "alice: hello\n", string(RelayLine("alice", "hello")))
	assert.Equal(t, "general:hello\n", string(DirectiveLine("general", "hello")))
	assert.Equal(t, strings.Repeat("n", MaxName-1)+"\n", string(RegistrationLine(strings.Repeat("n", 64))))
}

func TestFormatCapsLine(t *testing.T) {
	line := RelayLine("alice", strings.Repeat("x", 2*MaxLine))
	assert.Len(t, line, MaxLine)
	assert.Equal(t, byte('\n'), line[len(line)-1])
	assert.True(t, strings.HasPrefix(string(line), "alice: xxx"))
}
