package chat

import (
	"context"
	"encoding/json"
	"time"

	"IMCore/logger"
	"IMCore/module/chat/model"
	"IMCore/service/natsx"
	"IMCore/service/typing"
	errs "IMCore/tools/errs"
	"IMCore/tools/ids"
	"IMCore/tools/safe"
)

const handlerTimeout = 5 * time.Second

// handleSendMessage: validate, deliver optimistically, then enqueue for
// durable batching. The sender sees message_queued right away and
// message_sent once the batch is flushed.
func (s *Server) handleSendMessage(c *Client, f *Frame) {
	p, err := DecodePayload[SendMessagePayload](f.Data)
	if err != nil || p.ReceiverID == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("invalid send_message payload")))
		return
	}
	if p.Text == "" && p.Image == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("message requires text or image")))
		return
	}

	msg := &model.Message{
		ID:         ids.GenerateString(),
		SenderID:   c.UserID,
		ReceiverID: p.ReceiverID,
		Text:       p.Text,
		Image:      p.Image,
		CreatedAt:  time.Now().UTC(),
	}
	c.CountMessage()
	convKey := msg.ConversationOf()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	// Direct delivery to local connections first, then always announce
	// on the broadcast channel: a multi-device receiver may hold
	// connections on several instances at once. Publishers skip their
	// own events, so the local copy is never delivered twice.
	recvFrame := BuildMessageFrame(EventMessageReceived, msg)
	localOnline := s.reg.IsOnline(p.ReceiverID)
	if localOnline {
		s.fanout.Broadcast(s.reg.Conns(p.ReceiverID), recvFrame)
	}
	b, _ := json.Marshal(BroadcastEvent{GatewayID: s.conf.GatewayID, Kind: "message", Message: msg})
	if perr := s.bus.Publish(natsx.ChannelMessageBroadcast, b); perr != nil {
		logger.Warnf("[gate] broadcast message id=%s: %v", msg.ID, perr)
	}

	// Offline queue only when the receiver is reachable nowhere: no
	// local connection and no live presence claim by a sibling.
	if !localOnline {
		gw, online, lerr := s.presence.Lookup(ctx, p.ReceiverID)
		if lerr != nil || !online || gw == s.conf.GatewayID {
			if qerr := s.offline.Enqueue(ctx, p.ReceiverID, c.UserID, recvFrame); qerr != nil {
				logger.Warnf("[gate] offline enqueue user=%s: %v", p.ReceiverID, qerr)
			}
		}
	}

	res, err := s.batcher.Enqueue(ctx, convKey, msg)
	if err != nil {
		// terminal for this batch only; the connection keeps going
		c.Deliver(BuildErrorFrame(errs.ErrPersistence.WithDetail("message persistence failed")))
		return
	}
	if res == nil {
		// queued, not yet durable; message_sent follows on flush
		c.Deliver(BuildMessageFrame(EventMessageQueued, msg))
	}
}

// handleMarkAsRead: bulk seen=false -> true; only the receiver of a
// message may mark it, enforced by the store filter.
func (s *Server) handleMarkAsRead(c *Client, f *Frame) {
	p, err := DecodePayload[MarkAsReadPayload](f.Data)
	if err != nil || len(p.MessageIDs) == 0 || p.SenderID == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("invalid mark_as_read payload")))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	convKey := model.ConversationKey(c.UserID, p.SenderID)
	// make in-flight messages of this conversation durable first
	if _, ferr := s.batcher.Flush(ctx, convKey); ferr != nil {
		logger.Warnf("[gate] pre-read flush conv=%s: %v", convKey, ferr)
	}

	updated, err := s.store.MarkRead(ctx, c.UserID, p.MessageIDs)
	if err != nil {
		c.Deliver(BuildErrorFrame(errs.ErrPersistence.WithDetail("mark as read failed")))
		return
	}
	if len(updated) == 0 {
		return
	}
	s.cache.Invalidate(ctx, model.ChatCacheKey(convKey))

	// Local delivery plus an unconditional broadcast, same shape as
	// message delivery: the sender may be connected on many instances.
	frame := BuildMessagesReadFrame(c.UserID, updated)
	if s.reg.IsOnline(p.SenderID) {
		s.fanout.Broadcast(s.reg.Conns(p.SenderID), frame)
	}
	b, _ := json.Marshal(BroadcastEvent{
		GatewayID: s.conf.GatewayID,
		Kind:      "read",
		ReadIDs:   updated,
		ReaderID:  c.UserID,
		TargetID:  p.SenderID,
	})
	if perr := s.bus.Publish(natsx.ChannelMessageBroadcast, b); perr != nil {
		logger.Warnf("[gate] broadcast read conv=%s: %v", convKey, perr)
	}
}

func (s *Server) handleTypingStart(c *Client, f *Frame) {
	p, err := DecodePayload[TypingPayload](f.Data)
	if err != nil || p.ReceiverID == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("invalid typing payload")))
		return
	}
	s.deb.Signal(c.UserID, p.ReceiverID, true)
}

func (s *Server) handleTypingStop(c *Client, f *Frame) {
	p, err := DecodePayload[TypingPayload](f.Data)
	if err != nil || p.ReceiverID == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("invalid typing payload")))
		return
	}
	s.deb.Signal(c.UserID, p.ReceiverID, false)
}

// emitTyping is the debouncer's downstream: deliver to the receiver's
// local connections.
func (s *Server) emitTyping(ev typing.Event) {
	s.fanout.Broadcast(s.reg.Conns(ev.Receiver), BuildTypingFrame(ev.Sender, ev.Typing))
}

func (s *Server) handleJoinChat(c *Client, f *Frame) {
	p, err := DecodePayload[JoinChatPayload](f.Data)
	if err != nil || p.ChatID == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("invalid join_chat payload")))
		return
	}
	s.reg.Join(p.ChatID, c)
	// warm the conversation page cache for the joiner
	chatID := p.ChatID
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if _, err := s.ConversationPage(ctx, chatID); err != nil {
			logger.Debug("[gate] page warm failed: " + err.Error())
		}
	})
}

func (s *Server) handleLeaveChat(c *Client, f *Frame) {
	p, err := DecodePayload[JoinChatPayload](f.Data)
	if err != nil || p.ChatID == "" {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("invalid leave_chat payload")))
		return
	}
	s.reg.Leave(p.ChatID, c)
}
