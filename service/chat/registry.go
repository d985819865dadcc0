package chat

import (
	"sort"
	"sync"
)

// Registry is the local presence registry: user -> live connections,
// plus named conversation channels (join_chat/leave_chat). It is the
// authoritative source for local delivery; Redis presence keys are a
// cross-instance hint layered on top.
//
// Invariant: a conn id lives in at most one user's set; removing the
// last connection for a user deletes the entry (user goes offline).
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client
	rooms  map[string]map[string]*Client // chatID -> connID -> client
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		rooms:  make(map[string]map[string]*Client),
	}
}

// Add registers the connection under its user.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ConnID] = c
	mm := r.byUser[c.UserID]
	if mm == nil {
		mm = make(map[string]*Client)
		r.byUser[c.UserID] = mm
	}
	mm[c.ConnID] = c
}

// Remove drops the connection from every index. Reports whether it was
// the user's last connection (user went offline).
func (r *Registry) Remove(c *Client) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byConn, c.ConnID)
	for chatID, members := range r.rooms {
		delete(members, c.ConnID)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	mm := r.byUser[c.UserID]
	if mm == nil {
		return false
	}
	if _, ok := mm[c.ConnID]; !ok {
		return false
	}
	delete(mm, c.ConnID)
	if len(mm) == 0 {
		delete(r.byUser, c.UserID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[user]) > 0
}

// Snapshot returns a consistent point-in-time view of online users.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for user := range r.byUser {
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

// Conns returns the user's live connections.
func (r *Registry) Conns(user string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mm := r.byUser[user]
	out := make([]*Client, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// All returns every live connection (broadcast target).
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Join subscribes a connection to a conversation's delivery channel.
func (r *Registry) Join(chatID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[chatID]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[chatID] = members
	}
	members[c.ConnID] = c
	c.Join(chatID)
}

func (r *Registry) Leave(chatID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members := r.rooms[chatID]; members != nil {
		delete(members, c.ConnID)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	c.Leave(chatID)
}

// Room returns the connections subscribed to a conversation channel.
func (r *Registry) Room(chatID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[chatID]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}
