package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationKeySymmetric(t *testing.T) {
	assert.Equal(t, ConversationKey("u1", "u2"), ConversationKey("u2", "u1"))
	assert.Equal(t, "u1:u2", ConversationKey("u2", "u1"))
	assert.Equal(t, "u1:u1", ConversationKey("u1", "u1"))
}

func TestConversationOf(t *testing.T) {
	m := &Message{SenderID: "zed", ReceiverID: "amy"}
	assert.Equal(t, "amy:zed", m.ConversationOf())
}

func TestParticipants(t *testing.T) {
	a, b := Participants("amy:zed")
	assert.Equal(t, "amy", a)
	assert.Equal(t, "zed", b)

	a, b = Participants("solo")
	assert.Equal(t, "solo", a)
	assert.Empty(t, b)
}

func TestValid(t *testing.T) {
	assert.False(t, (&Message{}).Valid())
	assert.True(t, (&Message{Text: "hi"}).Valid())
	assert.True(t, (&Message{Image: "ref"}).Valid())
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "chat:amy:zed:messages", ChatCacheKey("amy:zed"))
	assert.Equal(t, "user:u1", UserCacheKey("u1"))
}
