package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"IMCore/logger"
	"IMCore/module/chat/model"
	"IMCore/service/batcher"
	"IMCore/service/natsx"
	"IMCore/service/ratelimit"
	"IMCore/service/storage"
	"IMCore/service/typing"
	errs "IMCore/tools/errs"
	"IMCore/tools/ids"
	"IMCore/tools/safe"
	"IMCore/tools/security"

	"github.com/gorilla/websocket"
)

// MessageStore is the durable store surface the gateway needs.
type MessageStore interface {
	PersistBatch(ctx context.Context, convKey string, msgs []*model.Message) error
	MarkRead(ctx context.Context, receiverID string, ids []string) ([]string, error)
	RecentPage(ctx context.Context, convKey string, limit int64) ([]*model.Message, error)
}

// PresenceStore is the shared (cross-instance) presence hint store.
type PresenceStore interface {
	Online(ctx context.Context, user, gatewayID string, ttl time.Duration) error
	Renew(ctx context.Context, user string, ttl time.Duration) error
	Offline(ctx context.Context, user string) error
	Lookup(ctx context.Context, user string) (string, bool, error)
}

// OfflineQueue buffers frames for users with no live connection.
type OfflineQueue interface {
	Enqueue(ctx context.Context, user, from string, payload []byte) error
	Fetch(ctx context.Context, user string, n int) ([]storage.OfflineMsg, error)
}

// ===== configuration =====

type Conf struct {
	GatewayID     string
	SendQueueSize int

	PresenceTTL time.Duration // shared-store presence key TTL

	RateLimit  int
	RateWindow time.Duration

	BatchSize    int
	BatchTimeout time.Duration

	TypingStopDelay time.Duration

	ConvCacheTTL time.Duration
	UserCacheTTL time.Duration
	PageLimit    int64

	FanoutWorkers int
	FanoutQueue   int
}

func (c *Conf) norm() {
	if c.GatewayID == "" {
		c.GatewayID = "gw-" + ids.GenerateString()
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 300 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = ratelimit.DefaultLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = ratelimit.DefaultWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = batcher.DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = batcher.DefaultFlushTimeout
	}
	if c.TypingStopDelay <= 0 {
		c.TypingStopDelay = typing.DefaultStopDelay
	}
	if c.ConvCacheTTL <= 0 {
		c.ConvCacheTTL = 300 * time.Second
	}
	if c.UserCacheTTL <= 0 {
		c.UserCacheTTL = 600 * time.Second
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 50
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 1024
	}
}

// Options wires the gateway's collaborators. Every field but Store and
// Bus has a production default.
type Options struct {
	Conf     Conf
	Auth     security.Options
	Store    MessageStore
	Bus      natsx.Bus
	KV       storage.KV    // cache backend; default Redis
	Presence PresenceStore // default Redis presence keys
	Offline  OfflineQueue  // default Redis offline lists

	// Archive receives every durably persisted batch (Kafka mirror).
	Archive func(*batcher.FlushResult)
}

// ===== fanout envelopes =====

type PresenceEvent struct {
	GatewayID string `json:"gatewayId"`
	UserID    string `json:"userId"`
	Online    bool   `json:"online"`
}

type BroadcastEvent struct {
	GatewayID string         `json:"gatewayId"`
	Kind      string         `json:"kind"` // message | read
	Message   *model.Message `json:"message,omitempty"`
	ReadIDs   []string       `json:"readIds,omitempty"`
	ReaderID  string         `json:"readerId,omitempty"`
	TargetID  string         `json:"targetId,omitempty"`
}

// Server is the connection gate: it authenticates new transports,
// registers presence, and routes every inbound event through the rate
// limiter to the batcher / debouncer / cache.
type Server struct {
	conf Conf
	auth security.Options

	reg      *Registry
	limiter  *ratelimit.Limiter
	batcher  *batcher.Batcher
	deb      *typing.Debouncer
	cache    *storage.Cache
	bus      natsx.Bus
	store    MessageStore
	presence PresenceStore
	offline  OfflineQueue
	fanout   *Fanout

	handlers map[string]func(*Client, *Frame)

	// remote presence hints learned from the fanout channel
	remoteMu sync.RWMutex
	remote   map[string]string // user -> gateway id

	archive func(*batcher.FlushResult)

	sweepStop chan struct{}
	closeOnce sync.Once
}

func NewServer(opts Options) (*Server, error) {
	opts.Conf.norm()

	s := &Server{
		conf:      opts.Conf,
		auth:      opts.Auth,
		reg:       NewRegistry(),
		limiter:   ratelimit.New(opts.Conf.RateLimit, opts.Conf.RateWindow),
		bus:       opts.Bus,
		store:     opts.Store,
		presence:  opts.Presence,
		offline:   opts.Offline,
		fanout:    NewFanout(opts.Conf.FanoutWorkers, opts.Conf.FanoutQueue),
		remote:    make(map[string]string),
		archive:   opts.Archive,
		sweepStop: make(chan struct{}),
	}
	if s.presence == nil {
		s.presence = storage.RedisPresenceStore{}
	}
	if s.offline == nil {
		s.offline = storage.RedisOfflineQueue{}
	}

	kv := opts.KV
	if kv == nil {
		kv = storage.NewRedisKV()
	}
	s.cache = storage.NewCache(kv, func(payload []byte) {
		if err := s.bus.Publish(natsx.ChannelCacheInvalidation, payload); err != nil {
			logger.Warnf("[gate] publish invalidation: %v", err)
		}
	})

	s.batcher = batcher.New(opts.Store, opts.Conf.BatchSize, opts.Conf.BatchTimeout)
	s.batcher.OnFlush(s.onBatchFlushed)

	s.deb = typing.New(opts.Conf.TypingStopDelay, s.emitTyping)

	s.handlers = map[string]func(*Client, *Frame){
		EventSendMessage: s.handleSendMessage,
		EventMarkAsRead:  s.handleMarkAsRead,
		EventTypingStart: s.handleTypingStart,
		EventTypingStop:  s.handleTypingStop,
		EventJoinChat:    s.handleJoinChat,
		EventLeaveChat:   s.handleLeaveChat,
	}

	if err := s.subscribe(); err != nil {
		return nil, err
	}
	safe.Go(s.sweepWindows)
	return s, nil
}

// sweepWindows periodically drops expired rate limiter windows so the
// per-user map does not grow with every user ever seen.
func (s *Server) sweepWindows() {
	t := time.NewTicker(s.conf.RateWindow)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.limiter.Sweep()
		case <-s.sweepStop:
			return
		}
	}
}

func (s *Server) GatewayID() string     { return s.conf.GatewayID }
func (s *Server) Registry() *Registry   { return s.reg }
func (s *Server) Cache() *storage.Cache { return s.cache }

// subscribe binds the fanout channels linking sibling instances.
func (s *Server) subscribe() error {
	if err := s.bus.Subscribe(natsx.ChannelOnlineUsers, s.onPresenceEvent); err != nil {
		return err
	}
	if err := s.bus.Subscribe(natsx.ChannelMessageBroadcast, s.onBroadcastEvent); err != nil {
		return err
	}
	return s.bus.Subscribe(natsx.ChannelCacheInvalidation, s.cache.HandleInvalidation)
}

// ===== connection gate =====

// Connect validates the credential and, only then, mutates state:
// registers presence, announces it, and replays the offline queue.
func (s *Server) Connect(credential string, ws *websocket.Conn) (*Client, error) {
	userID, err := security.Verify(s.auth, credential)
	if err != nil {
		return nil, err // fail closed, nothing registered yet
	}

	c := NewClient(ids.GenerateString(), userID, ws, s.conf.SendQueueSize)
	s.reg.Add(c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.presence.Online(ctx, userID, s.conf.GatewayID, s.conf.PresenceTTL); err != nil {
		logger.Warnf("[gate] presence online user=%s: %v", userID, err)
	}
	s.publishPresence(userID, true)

	if ws != nil {
		ws.SetPongHandler(func(string) error {
			c.Touch()
			safe.Go(func() {
				rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer rcancel()
				_ = s.presence.Renew(rctx, userID, s.conf.PresenceTTL)
			})
			return nil
		})
		safe.Go(c.writePump)
	}

	c.Deliver(BuildOnlineUsersFrame(s.OnlineUsers()))
	s.broadcastOnlineUsers()
	s.replayOffline(c)

	logger.Infof("[gate] connected user=%s conn=%s gateway=%s", userID, c.ConnID, s.conf.GatewayID)
	return c, nil
}

// Disconnect tears one connection down: all per-connection timers are
// cancelled and every map entry released (leak guard under churn).
func (s *Server) Disconnect(c *Client) {
	c.Close()
	last := s.reg.Remove(c)
	s.deb.CancelAll(c.UserID)

	if last {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.presence.Offline(ctx, c.UserID); err != nil {
			logger.Warnf("[gate] presence offline user=%s: %v", c.UserID, err)
		}
		s.publishPresence(c.UserID, false)
	}
	s.broadcastOnlineUsers()
	logger.Infof("[gate] disconnected user=%s conn=%s last=%v", c.UserID, c.ConnID, last)
}

// HandleFrame admits one inbound event through the rate limiter and
// dispatches it. Errors are terminal for the call, not the connection.
func (s *Server) HandleFrame(c *Client, raw []byte) {
	f, err := ParseFrame(raw)
	if err != nil {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("malformed frame")))
		return
	}
	c.Touch()

	if !s.limiter.Allow(c.UserID) {
		c.Deliver(BuildErrorFrame(errs.ErrRateLimited))
		return
	}

	h, ok := s.handlers[f.Event]
	if !ok {
		c.Deliver(BuildErrorFrame(errs.ErrValidation.WithDetail("unknown event: " + f.Event)))
		return
	}
	h(c, f)
}

// Close stops the window sweeper, flushes pending batches, and shuts
// the fanout pool down. Safe to call more than once.
func (s *Server) Close(ctx context.Context) {
	s.closeOnce.Do(func() { close(s.sweepStop) })
	s.batcher.Close(ctx)
	s.fanout.Close()
}

// ===== presence =====

// OnlineUsers merges the local registry with remote hints.
func (s *Server) OnlineUsers() []string {
	local := s.reg.Snapshot()
	seen := make(map[string]struct{}, len(local))
	for _, u := range local {
		seen[u] = struct{}{}
	}
	s.remoteMu.RLock()
	for u := range s.remote {
		if _, ok := seen[u]; !ok {
			local = append(local, u)
		}
	}
	s.remoteMu.RUnlock()
	return local
}

func (s *Server) publishPresence(user string, online bool) {
	b, _ := json.Marshal(PresenceEvent{GatewayID: s.conf.GatewayID, UserID: user, Online: online})
	if err := s.bus.Publish(natsx.ChannelOnlineUsers, b); err != nil {
		logger.Warnf("[gate] publish presence user=%s: %v", user, err)
	}
}

func (s *Server) broadcastOnlineUsers() {
	s.fanout.Broadcast(s.reg.All(), BuildOnlineUsersFrame(s.OnlineUsers()))
}

func (s *Server) onPresenceEvent(payload []byte) {
	var ev PresenceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warnf("[gate] bad presence event: %v", err)
		return
	}
	if ev.GatewayID == s.conf.GatewayID {
		return
	}
	s.remoteMu.Lock()
	if ev.Online {
		s.remote[ev.UserID] = ev.GatewayID
	} else {
		delete(s.remote, ev.UserID)
	}
	s.remoteMu.Unlock()
	s.broadcastOnlineUsers()
}

// ===== cross-instance delivery =====

func (s *Server) onBroadcastEvent(payload []byte) {
	var ev BroadcastEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warnf("[gate] bad broadcast event: %v", err)
		return
	}
	if ev.GatewayID == s.conf.GatewayID {
		return // already delivered locally before publishing
	}
	switch ev.Kind {
	case "message":
		if ev.Message == nil {
			return
		}
		s.fanout.Broadcast(s.reg.Conns(ev.Message.ReceiverID), BuildMessageFrame(EventMessageReceived, ev.Message))
	case "read":
		if ev.TargetID == "" {
			return
		}
		s.fanout.Broadcast(s.reg.Conns(ev.TargetID), BuildMessagesReadFrame(ev.ReaderID, ev.ReadIDs))
	}
}

// ===== flush pipeline =====

// onBatchFlushed runs after every durable bulk write: confirm to the
// senders, invalidate the conversation page, mirror to the archive.
func (s *Server) onBatchFlushed(res *batcher.FlushResult) {
	for _, m := range res.Msgs {
		s.fanout.Broadcast(s.reg.Conns(m.SenderID), BuildMessageFrame(EventMessageSent, m))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.cache.Invalidate(ctx, model.ChatCacheKey(res.ConvKey))
	if s.archive != nil {
		s.archive(res)
	}
}

// ===== cached reads =====

// ConversationPage returns the newest page of one conversation through
// the read-through cache (miss falls through to the durable store).
func (s *Server) ConversationPage(ctx context.Context, convKey string) ([]byte, error) {
	return s.cache.GetOrLoad(ctx, model.ChatCacheKey(convKey), s.conf.ConvCacheTTL, func(ctx context.Context) ([]byte, error) {
		page, err := s.store.RecentPage(ctx, convKey, s.conf.PageLimit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(page)
	})
}

// UserProfile serves a resolved profile through the cache; the loader
// is the caller's (profiles live outside the messaging core).
func (s *Server) UserProfile(ctx context.Context, userID string, loader func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return s.cache.GetOrLoad(ctx, model.UserCacheKey(userID), s.conf.UserCacheTTL, loader)
}

// ===== offline replay =====

func (s *Server) replayOffline(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := s.offline.Fetch(ctx, c.UserID, 100)
	if err != nil {
		logger.Warnf("[gate] offline fetch user=%s: %v", c.UserID, err)
		return
	}
	for _, m := range msgs {
		c.Deliver(m.Payload)
	}
}
