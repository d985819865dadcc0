package natsx

import (
	"strings"
	"sync"
	"time"

	"IMCore/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Config for the NATS connection.
type Config struct {
	Servers       []string
	Name          string
	Username      string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsBus implements Bus over NATS core. No JetStream: the fanout
// contract is at-most-once with no replay across restarts.
type NatsBus struct {
	cfg Config
	nc  *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNatsBus(cfg Config) (*NatsBus, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{cfg: cfg, nc: nc}, nil
}

func (b *NatsBus) Publish(channel string, payload []byte) error {
	return b.nc.Publish(channel, payload)
}

func (b *NatsBus) Subscribe(channel string, handler func(payload []byte)) error {
	sub, err := b.nc.Subscribe(channel, func(m *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[natsx] handler panic channel=%s: %v", channel, r)
			}
		}()
		handler(m.Data)
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *NatsBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Drain()
	}
	b.subs = nil
	b.mu.Unlock()
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
