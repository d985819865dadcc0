package model

import (
	"strings"
	"time"
)

const MsgTableName = "messages"

// Message is one direct message. Immutable once persisted, except the
// Seen flag which only ever transitions false -> true.
type Message struct {
	ID         string    `bson:"_id" json:"id"`
	SenderID   string    `bson:"sender_id" json:"senderId"`
	ReceiverID string    `bson:"receiver_id" json:"receiverId"`
	Text       string    `bson:"text,omitempty" json:"text,omitempty"`
	Image      string    `bson:"image,omitempty" json:"image,omitempty"` // attachment reference, not bytes
	Seen       bool      `bson:"seen" json:"seen"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
}

// Valid reports whether the message carries at least one of text/image.
func (m *Message) Valid() bool {
	return m.Text != "" || m.Image != ""
}

// ConversationKey buckets the unordered pair (a,b) so both sides address
// the same logical conversation regardless of direction.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationOf is the key for this message's conversation.
func (m *Message) ConversationOf() string {
	return ConversationKey(m.SenderID, m.ReceiverID)
}

// Participants splits a conversation key back into the user pair.
func Participants(convKey string) (string, string) {
	i := strings.IndexByte(convKey, ':')
	if i < 0 {
		return convKey, ""
	}
	return convKey[:i], convKey[i+1:]
}

// Cache key formats shared by the cache layer and its invalidators.
func ChatCacheKey(convKey string) string { return "chat:" + convKey + ":messages" }
func UserCacheKey(userID string) string  { return "user:" + userID }
