package natsx

// Fanout channels linking sibling gateway instances. Delivery is
// best-effort, at-most-once: these are hint channels, never the
// source of truth for message delivery.
const (
	ChannelOnlineUsers       = "online_users_update"
	ChannelMessageBroadcast  = "message_broadcast"
	ChannelCacheInvalidation = "cache_invalidation"
)

// Bus is the pub/sub fanout surface. Production runs on NATS core;
// tests run on MemBus.
type Bus interface {
	Publish(channel string, payload []byte) error
	Subscribe(channel string, handler func(payload []byte)) error
	Close() error
}
