package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"IMCore/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	DefaultSendQueueSize = 256
)

// Client is one authenticated transport session. A user may hold many
// clients (multi-device); each keeps its own send queue consumed by a
// single writer goroutine.
type Client struct {
	ConnID string
	UserID string
	WS     *websocket.Conn // nil in tests; Send is read directly
	Send   chan []byte

	lastActivity atomic.Int64 // unix ms
	msgCount     atomic.Int64

	joinMu sync.Mutex
	joined map[string]struct{} // conversation channels this conn subscribed to

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = DefaultSendQueueSize
	}
	c := &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		joined: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	c.Touch()
	return c
}

// Touch refreshes the last-activity timestamp.
func (c *Client) Touch() { c.lastActivity.Store(time.Now().UnixMilli()) }

func (c *Client) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

// CountMessage bumps the per-connection message counter.
func (c *Client) CountMessage() int64 { return c.msgCount.Add(1) }

func (c *Client) MessageCount() int64 { return c.msgCount.Load() }

// Deliver queues a payload without blocking. Slow clients drop frames
// rather than stalling the fanout path.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		logger.Warnf("[client] send queue full, drop frame conn=%s user=%s", c.ConnID, c.UserID)
		return false
	}
}

func (c *Client) Join(chatID string) {
	c.joinMu.Lock()
	c.joined[chatID] = struct{}{}
	c.joinMu.Unlock()
}

func (c *Client) Leave(chatID string) {
	c.joinMu.Lock()
	delete(c.joined, chatID)
	c.joinMu.Unlock()
}

func (c *Client) Joined() []string {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

// Close stops the writer goroutine and closes the socket. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.WS != nil {
			_ = c.WS.Close()
		}
	})
}

// Done is closed when the client is torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// writePump is the single writer for this connection. Started by the
// gate; exits on Close or on the first write error.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("[client] write failed, closing")
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
