package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"IMCore/module/chat/model"
	"IMCore/service/natsx"
	"IMCore/service/storage"
	errs "IMCore/tools/errs"
	"IMCore/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = security.Options{Secret: []byte("gateway-test-secret"), Alg: "HS256", TTL: time.Hour}

// ===== in-memory collaborators =====

type fakeStore struct {
	mu        sync.Mutex
	byConv    map[string][]*model.Message
	byID      map[string]*model.Message
	pageCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byConv: make(map[string][]*model.Message),
		byID:   make(map[string]*model.Message),
	}
}

func (s *fakeStore) PersistBatch(_ context.Context, convKey string, msgs []*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.byConv[convKey] = append(s.byConv[convKey], m)
		s.byID[m.ID] = m
	}
	return nil
}

func (s *fakeStore) MarkRead(_ context.Context, receiverID string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated []string
	for _, id := range ids {
		m, ok := s.byID[id]
		if ok && m.ReceiverID == receiverID && !m.Seen {
			m.Seen = true
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (s *fakeStore) RecentPage(_ context.Context, convKey string, limit int64) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageCalls++
	msgs := s.byConv[convKey]
	if int64(len(msgs)) > limit {
		msgs = msgs[len(msgs)-int(limit):]
	}
	return append([]*model.Message{}, msgs...), nil
}

func (s *fakeStore) pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCalls
}

type fakePresence struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakePresence() *fakePresence { return &fakePresence{m: make(map[string]string)} }

func (p *fakePresence) Online(_ context.Context, user, gatewayID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[user] = gatewayID
	return nil
}

func (p *fakePresence) Renew(context.Context, string, time.Duration) error { return nil }

func (p *fakePresence) Offline(_ context.Context, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, user)
	return nil
}

func (p *fakePresence) Lookup(_ context.Context, user string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gw, ok := p.m[user]
	return gw, ok, nil
}

func (p *fakePresence) has(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[user]
	return ok
}

type fakeOffline struct {
	mu sync.Mutex
	m  map[string][]storage.OfflineMsg
}

func newFakeOffline() *fakeOffline { return &fakeOffline{m: make(map[string][]storage.OfflineMsg)} }

func (q *fakeOffline) Enqueue(_ context.Context, user, from string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.m[user] = append(q.m[user], storage.OfflineMsg{From: from, Payload: payload})
	return nil
}

func (q *fakeOffline) Fetch(_ context.Context, user string, n int) ([]storage.OfflineMsg, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.m[user]
	if len(msgs) > n {
		msgs, q.m[user] = msgs[:n], msgs[n:]
	} else {
		delete(q.m, user)
	}
	return msgs, nil
}

func (q *fakeOffline) depth(user string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.m[user])
}

type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapKV() *mapKV { return &mapKV{data: make(map[string][]byte)} }

func (m *mapKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *mapKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// ===== harness =====

type env struct {
	srv      *Server
	store    *fakeStore
	presence *fakePresence
	offline  *fakeOffline
}

type envOpts struct {
	gatewayID string
	bus       natsx.Bus
	store     *fakeStore
	presence  *fakePresence
	conf      Conf
}

func newEnv(t *testing.T, o envOpts) *env {
	t.Helper()
	if o.bus == nil {
		o.bus = natsx.NewMemBus()
	}
	if o.store == nil {
		o.store = newFakeStore()
	}
	if o.presence == nil {
		o.presence = newFakePresence()
	}
	o.conf.GatewayID = o.gatewayID
	if o.conf.BatchSize == 0 {
		o.conf.BatchSize = 1 // durable immediately unless a test says otherwise
	}
	if o.conf.BatchTimeout == 0 {
		o.conf.BatchTimeout = time.Hour
	}
	if o.conf.TypingStopDelay == 0 {
		o.conf.TypingStopDelay = time.Hour
	}
	if o.conf.RateLimit == 0 {
		o.conf.RateLimit = 1000
	}

	off := newFakeOffline()
	srv, err := NewServer(Options{
		Conf:     o.conf,
		Auth:     testAuth,
		Store:    o.store,
		Bus:      o.bus,
		KV:       newMapKV(),
		Presence: o.presence,
		Offline:  off,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Close(ctx)
	})
	return &env{srv: srv, store: o.store, presence: o.presence, offline: off}
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, _, err := security.Generate(testAuth, user)
	require.NoError(t, err)
	return tok
}

func (e *env) connect(t *testing.T, user string) *Client {
	t.Helper()
	c, err := e.srv.Connect(token(t, user), nil)
	require.NoError(t, err)
	return c
}

// recvEvent reads frames off the client's send queue until the wanted
// event arrives, skipping everything else.
func recvEvent(t *testing.T, c *Client, event string) *Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.Send:
			f, err := ParseFrame(raw)
			require.NoError(t, err)
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q on user=%s", event, c.UserID)
			return nil
		}
	}
}

// recvEventRejecting is recvEvent plus a failure if a forbidden event
// shows up first.
func recvEventRejecting(t *testing.T, c *Client, event string, forbidden ...string) *Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.Send:
			f, err := ParseFrame(raw)
			require.NoError(t, err)
			for _, bad := range forbidden {
				if f.Event == bad {
					t.Fatalf("got forbidden event %q before %q", bad, event)
				}
			}
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q on user=%s", event, c.UserID)
			return nil
		}
	}
}

func assertNoEvent(t *testing.T, c *Client, event string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case raw := <-c.Send:
			f, err := ParseFrame(raw)
			require.NoError(t, err)
			if f.Event == event {
				t.Fatalf("unexpected event %q on user=%s", event, c.UserID)
			}
		case <-deadline:
			return
		}
	}
}

func sendFrame(e *env, c *Client, raw string) {
	e.srv.HandleFrame(c, []byte(raw))
}

// ===== connection gate =====

func TestConnectRejectsBadCredential(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})

	for _, bad := range []string{"", "garbage", token(t, "")} {
		_, err := e.srv.Connect(bad, nil)
		require.Error(t, err)
	}
	// a rejected handshake mutates nothing
	assert.Equal(t, 0, e.srv.Registry().ConnCount())
	assert.False(t, e.presence.has("u1"))
}

func TestConnectDeliversOnlineUsers(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})

	a := e.connect(t, "u1")
	f := recvEvent(t, a, EventOnlineUsers)
	assert.Contains(t, f.Data["userIds"], "u1")
	assert.True(t, e.presence.has("u1"))

	b := e.connect(t, "u2")
	f = recvEvent(t, b, EventOnlineUsers)
	assert.ElementsMatch(t, []any{"u1", "u2"}, f.Data["userIds"])
}

func TestDisconnectLastConnectionGoesOffline(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})

	c1 := e.connect(t, "u1")
	c2 := e.connect(t, "u1")
	require.True(t, e.presence.has("u1"))

	e.srv.Disconnect(c1)
	assert.True(t, e.srv.Registry().IsOnline("u1"))
	assert.True(t, e.presence.has("u1"), "one live connection keeps the user online")

	e.srv.Disconnect(c2)
	assert.False(t, e.srv.Registry().IsOnline("u1"))
	assert.False(t, e.presence.has("u1"))
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	a := e.connect(t, "u1")

	sendFrame(e, a, `not json`)
	f := recvEvent(t, a, EventError)
	assert.Contains(t, f.Data["message"], "malformed")

	sendFrame(e, a, `{"event":"dance"}`)
	f = recvEvent(t, a, EventError)
	assert.Contains(t, f.Data["message"], "unknown event")

	// the connection survives both
	assert.True(t, e.srv.Registry().IsOnline("u1"))
}

func TestRateLimitRejectsExcess(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test", conf: Conf{RateLimit: 2, RateWindow: time.Minute}})
	a := e.connect(t, "u1")

	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)
	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)
	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)

	f := recvEvent(t, a, EventError)
	assert.Contains(t, f.Data["message"], "rate limit")
	assert.EqualValues(t, errs.CodeRateLimited, f.Data["code"])
}

func TestLimiterWindowsSweptWhenIdle(t *testing.T) {
	e := newEnv(t, envOpts{
		gatewayID: "gw-test",
		conf:      Conf{RateWindow: 25 * time.Millisecond},
	})
	a := e.connect(t, "u1")

	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)
	require.GreaterOrEqual(t, e.srv.limiter.Tracked(), 1)

	// once the window expires the background sweeper reclaims the entry
	require.Eventually(t, func() bool {
		return e.srv.limiter.Tracked() == 0
	}, time.Second, 5*time.Millisecond)
}

// ===== messaging =====

func TestSendMessageLocalDelivery(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	a := e.connect(t, "u1")
	b := e.connect(t, "u2")

	sendFrame(e, a, `{"event":"send_message","data":{"receiverId":"u2","text":"hello"}}`)

	recv := recvEvent(t, b, EventMessageReceived)
	assert.Equal(t, "u1", recv.Data["senderId"])
	assert.Equal(t, "hello", recv.Data["text"])

	// batch size 1: durable at once, no optimistic ack
	sent := recvEventRejecting(t, a, EventMessageSent, EventMessageQueued)
	assert.Equal(t, recv.Data["id"], sent.Data["id"])
}

func TestSendMessageQueuedThenSent(t *testing.T) {
	e := newEnv(t, envOpts{
		gatewayID: "gw-test",
		conf:      Conf{BatchSize: 50, BatchTimeout: 40 * time.Millisecond},
	})
	a := e.connect(t, "u1")

	sendFrame(e, a, `{"event":"send_message","data":{"receiverId":"u2","text":"hello"}}`)

	q := recvEvent(t, a, EventMessageQueued)
	// the flush timer confirms durability shortly after
	s := recvEvent(t, a, EventMessageSent)
	assert.Equal(t, q.Data["id"], s.Data["id"])
}

func TestSendMessageValidation(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	a := e.connect(t, "u1")

	sendFrame(e, a, `{"event":"send_message","data":{"text":"no receiver"}}`)
	f := recvEvent(t, a, EventError)
	assert.Contains(t, f.Data["message"], "invalid send_message")

	sendFrame(e, a, `{"event":"send_message","data":{"receiverId":"u2"}}`)
	f = recvEvent(t, a, EventError)
	assert.Contains(t, f.Data["message"], "text or image")
}

func TestOfflineQueueAndReplay(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	a := e.connect(t, "u1")

	// u2 has no connection anywhere: the frame lands in the offline queue
	sendFrame(e, a, `{"event":"send_message","data":{"receiverId":"u2","text":"catch up"}}`)
	recvEvent(t, a, EventMessageSent)
	require.Eventually(t, func() bool { return e.offline.depth("u2") == 1 }, time.Second, 5*time.Millisecond)

	b := e.connect(t, "u2")
	f := recvEvent(t, b, EventMessageReceived)
	assert.Equal(t, "catch up", f.Data["text"])
	assert.Equal(t, 0, e.offline.depth("u2"))
}

func TestMarkAsRead(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	a := e.connect(t, "u1")
	b := e.connect(t, "u2")

	sendFrame(e, a, `{"event":"send_message","data":{"receiverId":"u2","text":"hello"}}`)
	recv := recvEvent(t, b, EventMessageReceived)
	id, _ := recv.Data["id"].(string)
	require.NotEmpty(t, id)
	recvEvent(t, a, EventMessageSent)

	sendFrame(e, b, `{"event":"mark_as_read","data":{"messageIds":["`+id+`"],"senderId":"u1"}}`)

	f := recvEvent(t, a, EventMessagesRead)
	assert.Equal(t, "u2", f.Data["readerId"])
	assert.Contains(t, f.Data["messageIds"], id)

	// only the receiver may mark; the sender marking their own message is a no-op
	sendFrame(e, a, `{"event":"mark_as_read","data":{"messageIds":["`+id+`"],"senderId":"u2"}}`)
	assertNoEvent(t, b, EventMessagesRead, 100*time.Millisecond)
}

func TestMarkAsReadFlushesPendingFirst(t *testing.T) {
	e := newEnv(t, envOpts{
		gatewayID: "gw-test",
		conf:      Conf{BatchSize: 50, BatchTimeout: time.Hour},
	})
	a := e.connect(t, "u1")
	b := e.connect(t, "u2")

	sendFrame(e, a, `{"event":"send_message","data":{"receiverId":"u2","text":"hello"}}`)
	recv := recvEvent(t, b, EventMessageReceived)
	id, _ := recv.Data["id"].(string)
	recvEvent(t, a, EventMessageQueued)

	// the message is still only queued; marking it read forces the flush
	sendFrame(e, b, `{"event":"mark_as_read","data":{"messageIds":["`+id+`"],"senderId":"u1"}}`)
	got := recvEvents(t, a, EventMessagesRead, EventMessageSent)
	assert.Contains(t, got[EventMessagesRead].Data["messageIds"], id)
	assert.Equal(t, id, got[EventMessageSent].Data["id"])
}

// recvEvents collects frames until every wanted event was seen once;
// arrival order between them is not fixed.
func recvEvents(t *testing.T, c *Client, events ...string) map[string]*Frame {
	t.Helper()
	want := make(map[string]bool, len(events))
	for _, ev := range events {
		want[ev] = true
	}
	got := make(map[string]*Frame, len(events))
	deadline := time.After(2 * time.Second)
	for len(got) < len(events) {
		select {
		case raw := <-c.Send:
			f, err := ParseFrame(raw)
			require.NoError(t, err)
			if want[f.Event] && got[f.Event] == nil {
				got[f.Event] = f
			}
		case <-deadline:
			t.Fatalf("timed out, got %d of %d events", len(got), len(events))
		}
	}
	return got
}

// ===== typing =====

func TestTypingFanout(t *testing.T) {
	e := newEnv(t, envOpts{
		gatewayID: "gw-test",
		conf:      Conf{TypingStopDelay: 30 * time.Millisecond},
	})
	a := e.connect(t, "u1")
	b := e.connect(t, "u2")

	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)
	f := recvEvent(t, b, EventUserTyping)
	assert.Equal(t, "u1", f.Data["senderId"])
	assert.Equal(t, true, f.Data["typing"])

	sendFrame(e, a, `{"event":"typing_stop","data":{"receiverId":"u2"}}`)
	f = recvEvent(t, b, EventUserTyping)
	assert.Equal(t, false, f.Data["typing"])
}

func TestTypingStopCancelledByRestart(t *testing.T) {
	e := newEnv(t, envOpts{
		gatewayID: "gw-test",
		conf:      Conf{TypingStopDelay: 50 * time.Millisecond},
	})
	a := e.connect(t, "u1")
	b := e.connect(t, "u2")

	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)
	recvEvent(t, b, EventUserTyping)

	sendFrame(e, a, `{"event":"typing_stop","data":{"receiverId":"u2"}}`)
	sendFrame(e, a, `{"event":"typing_start","data":{"receiverId":"u2"}}`)
	f := recvEvent(t, b, EventUserTyping)
	assert.Equal(t, true, f.Data["typing"])

	// the swallowed stop never fires
	assertNoEvent(t, b, EventUserTyping, 120*time.Millisecond)
}

// ===== rooms =====

func TestJoinLeaveChat(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	a := e.connect(t, "u1")

	sendFrame(e, a, `{"event":"join_chat","data":{"chatId":"u1:u2"}}`)
	require.Eventually(t, func() bool {
		return len(e.srv.Registry().Room("u1:u2")) == 1
	}, time.Second, 5*time.Millisecond)

	sendFrame(e, a, `{"event":"leave_chat","data":{"chatId":"u1:u2"}}`)
	assert.Empty(t, e.srv.Registry().Room("u1:u2"))
}

// ===== cached reads =====

func TestConversationPageCached(t *testing.T) {
	e := newEnv(t, envOpts{gatewayID: "gw-test"})
	ctx := context.Background()

	seed := []*model.Message{{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hi"}}
	require.NoError(t, e.store.PersistBatch(ctx, "u1:u2", seed))

	p1, err := e.srv.ConversationPage(ctx, "u1:u2")
	require.NoError(t, err)
	p2, err := e.srv.ConversationPage(ctx, "u1:u2")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, e.store.pages(), "second read must come from the cache")

	e.srv.Cache().Invalidate(ctx, model.ChatCacheKey("u1:u2"))
	_, err = e.srv.ConversationPage(ctx, "u1:u2")
	require.NoError(t, err)
	assert.Equal(t, 2, e.store.pages())
}

// ===== cross-instance =====

func TestCrossInstanceDelivery(t *testing.T) {
	bus := natsx.NewMemBus()
	presence := newFakePresence()
	store := newFakeStore()

	ea := newEnv(t, envOpts{gatewayID: "gw-a", bus: bus, presence: presence, store: store})
	eb := newEnv(t, envOpts{gatewayID: "gw-b", bus: bus, presence: presence, store: store})

	b := eb.connect(t, "u2")
	a := ea.connect(t, "u1")

	// gw-a learns about u2 from the presence channel
	require.Eventually(t, func() bool {
		for _, u := range ea.srv.OnlineUsers() {
			if u == "u2" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	sendFrame(ea, a, `{"event":"send_message","data":{"receiverId":"u2","text":"across"}}`)

	f := recvEvent(t, b, EventMessageReceived)
	assert.Equal(t, "across", f.Data["text"])
	assert.Equal(t, "u1", f.Data["senderId"])
	recvEvent(t, a, EventMessageSent)

	// the read receipt travels the other way
	id, _ := f.Data["id"].(string)
	sendFrame(eb, b, `{"event":"mark_as_read","data":{"messageIds":["`+id+`"],"senderId":"u1"}}`)
	rf := recvEvent(t, a, EventMessagesRead)
	assert.Equal(t, "u2", rf.Data["readerId"])
}

func TestMultiDeviceDeliveryAcrossInstances(t *testing.T) {
	bus := natsx.NewMemBus()
	presence := newFakePresence()
	store := newFakeStore()

	ea := newEnv(t, envOpts{gatewayID: "gw-a", bus: bus, presence: presence, store: store})
	eb := newEnv(t, envOpts{gatewayID: "gw-b", bus: bus, presence: presence, store: store})

	// u2 holds one device on each instance; the sender shares gw-a
	b1 := ea.connect(t, "u2")
	b2 := eb.connect(t, "u2")
	a := ea.connect(t, "u1")

	sendFrame(ea, a, `{"event":"send_message","data":{"receiverId":"u2","text":"both devices"}}`)

	f1 := recvEvent(t, b1, EventMessageReceived)
	f2 := recvEvent(t, b2, EventMessageReceived)
	assert.Equal(t, "both devices", f1.Data["text"])
	assert.Equal(t, f1.Data["id"], f2.Data["id"])
	recvEvent(t, a, EventMessageSent)

	// the receiver was reachable, so nothing lands in the offline queue
	assert.Equal(t, 0, ea.offline.depth("u2"))
	assert.Equal(t, 0, eb.offline.depth("u2"))
}

func TestReadReceiptReachesAllSenderDevices(t *testing.T) {
	bus := natsx.NewMemBus()
	presence := newFakePresence()
	store := newFakeStore()

	ea := newEnv(t, envOpts{gatewayID: "gw-a", bus: bus, presence: presence, store: store})
	eb := newEnv(t, envOpts{gatewayID: "gw-b", bus: bus, presence: presence, store: store})

	// the sender holds devices on both instances, the reader shares gw-a
	a1 := ea.connect(t, "u1")
	a2 := eb.connect(t, "u1")
	b := ea.connect(t, "u2")

	sendFrame(ea, a1, `{"event":"send_message","data":{"receiverId":"u2","text":"hello"}}`)
	recv := recvEvent(t, b, EventMessageReceived)
	id, _ := recv.Data["id"].(string)
	require.NotEmpty(t, id)
	recvEvent(t, a1, EventMessageSent)

	sendFrame(ea, b, `{"event":"mark_as_read","data":{"messageIds":["`+id+`"],"senderId":"u1"}}`)

	for _, dev := range []*Client{a1, a2} {
		f := recvEvent(t, dev, EventMessagesRead)
		assert.Equal(t, "u2", f.Data["readerId"])
		assert.Contains(t, f.Data["messageIds"], id)
	}
}

func TestCrossInstancePresenceTeardown(t *testing.T) {
	bus := natsx.NewMemBus()
	presence := newFakePresence()

	ea := newEnv(t, envOpts{gatewayID: "gw-a", bus: bus, presence: presence})
	eb := newEnv(t, envOpts{gatewayID: "gw-b", bus: bus, presence: presence})

	b := eb.connect(t, "u2")
	_ = ea.connect(t, "u1")

	require.Eventually(t, func() bool {
		return containsUser(ea.srv.OnlineUsers(), "u2")
	}, time.Second, 5*time.Millisecond)

	eb.srv.Disconnect(b)
	require.Eventually(t, func() bool {
		return !containsUser(ea.srv.OnlineUsers(), "u2")
	}, time.Second, 5*time.Millisecond)
}

func containsUser(users []string, want string) bool {
	for _, u := range users {
		if u == want {
			return true
		}
	}
	return false
}

// ===== handshake plumbing =====

func TestCredentialExtraction(t *testing.T) {
	// exercised indirectly through HandleWS; here just the helper logic
	// matters: query param beats header, header requires Bearer.
	r := newRequest(t, "/ws?token=abc", "")
	assert.Equal(t, "abc", credentialFrom(r))

	r = newRequest(t, "/ws", "Bearer xyz")
	assert.Equal(t, "xyz", credentialFrom(r))

	r = newRequest(t, "/ws", "Basic xyz")
	assert.Empty(t, credentialFrom(r))
}

func newRequest(t *testing.T, target, auth string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	return r
}
