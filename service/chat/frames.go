package chat

import (
	"encoding/json"
	"fmt"

	"IMCore/module/chat/model"
	errs "IMCore/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Inbound events.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventMarkAsRead  = "mark_as_read"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Outbound events.
const (
	EventOnlineUsers     = "getOnlineUsers"
	EventMessageSent     = "message_sent"
	EventMessageReceived = "message_received"
	EventMessageQueued   = "message_queued"
	EventMessagesRead    = "messages_read"
	EventUserTyping      = "user_typing"
	EventError           = "error"
)

// Frame is the wire unit in both directions.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame missing event")
	}
	return f, nil
}

// DecodePayload maps the loose data object of a frame onto a typed
// payload struct, honoring the json tags.
func DecodePayload[T any](data map[string]any) (*T, error) {
	out := new(T)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(data); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// ===== Inbound payloads =====

type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text,omitempty"`
	Image      string `json:"image,omitempty"`
}

type MarkAsReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	SenderID   string   `json:"senderId"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

// ===== Outbound builders =====

func marshalFrame(event string, data any) []byte {
	var m map[string]any
	if data != nil {
		b, _ := json.Marshal(data)
		_ = json.Unmarshal(b, &m)
	}
	b, _ := json.Marshal(Frame{Event: event, Data: m})
	return b
}

// BuildErrorFrame carries the taxonomy code alongside the message so
// callers can branch without string matching. Detail, when present, is
// the user-facing message; the code's registered text is the fallback.
func BuildErrorFrame(e *errs.CodeError) []byte {
	msg := e.Msg
	if e.Detail != "" {
		msg = e.Detail
	}
	return marshalFrame(EventError, map[string]any{"code": e.Code, "message": msg})
}

func BuildOnlineUsersFrame(users []string) []byte {
	return marshalFrame(EventOnlineUsers, map[string]any{"userIds": users})
}

func BuildMessageFrame(event string, m *model.Message) []byte {
	return marshalFrame(event, m)
}

func BuildMessagesReadFrame(readerID string, ids []string) []byte {
	return marshalFrame(EventMessagesRead, map[string]any{
		"readerId":   readerID,
		"messageIds": ids,
	})
}

func BuildTypingFrame(senderID string, typing bool) []byte {
	return marshalFrame(EventUserTyping, map[string]any{
		"senderId": senderID,
		"typing":   typing,
	})
}
