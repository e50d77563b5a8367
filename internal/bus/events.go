package bus

import (
	"time"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	MessageID string
	Content   string
	Timestamp time.Time
	// Command is set when the transport recognised an operator command
	// (without the leading slash); Content then holds its arguments.
	Command  string
	Metadata map[string]any
}

// UserKey identifies the person behind the message across chats.
func (m *InboundMessage) UserKey() string {
	return m.Channel + ":" + m.SenderID
}

// DedupKey is unique per delivered message.
func (m *InboundMessage) DedupKey() string {
	id := m.MessageID
	if id == "" {
		id = m.Timestamp.Format(time.RFC3339Nano)
	}
	return m.UserKey() + ":" + id
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// Reaction, when set, is an emoji applied to ReplyTo instead of a text message.
	Reaction string
	ReplyTo  string
	// Typing asks the transport to show a typing indicator; Content is ignored.
	Typing   bool
	Metadata map[string]any
}

func (m *OutboundMessage) IsReaction() bool {
	return m.Reaction != ""
}
