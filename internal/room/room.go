// Package room exposes cached room metadata to the rest of the relay. The
// cache itself is populated by the capture layer; this core only reads it.
package room

import "sync"

// Owner is the room owner snapshot held in the cache.
type Owner struct {
	UserID       string
	SecUID       string
	Nickname     string
	HeadURL      string
	FollowStatus int64
}

// Context is the cached metadata for one room.
type Context struct {
	WebRoomID    string
	Title        string
	IsAnonymous  bool
	Owner        *Owner
	AdminUserIDs map[string]struct{}
}

// IsAdmin reports whether the user id is in the room's admin set.
func (c *Context) IsAdmin(userID string) bool {
	if c == nil || len(c.AdminUserIDs) == 0 {
		return false
	}
	_, ok := c.AdminUserIDs[userID]
	return ok
}

// IsOwner reports whether the user id is the room owner's id.
func (c *Context) IsOwner(userID string) bool {
	return c != nil && c.Owner != nil && c.Owner.UserID == userID
}

// Provider resolves a room id to its cached metadata.
type Provider interface {
	Lookup(roomID string) (*Context, bool)
}

// Cache is a concurrency-safe in-memory Provider. The capture layer calls
// Put as it learns about rooms; the relay only calls Lookup.
type Cache struct {
	mu    sync.RWMutex
	rooms map[string]*Context
}

func NewCache() *Cache {
	return &Cache{rooms: make(map[string]*Context)}
}

func (c *Cache) Put(roomID string, ctx *Context) {
	c.mu.Lock()
	c.rooms[roomID] = ctx
	c.mu.Unlock()
}

func (c *Cache) Lookup(roomID string) (*Context, bool) {
	c.mu.RLock()
	ctx, ok := c.rooms[roomID]
	c.mu.RUnlock()
	return ctx, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}
