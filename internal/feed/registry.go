package feed

import (
	"context"
	"sort"
	"sync"
)

// Transport is the outbound half of a client connection. The feed borrows it
// to push frames and to request a close; the transport layer owns its
// lifecycle.
//
// Send must not block on a slow peer: implementations queue the frame and
// return an error when the frame cannot be queued (closed connection, full
// buffer). Frames accepted by Send are written in the order they were given.
type Transport interface {
	Send(msg []byte) error
	// Close sends a normal-closure notification and releases the connection,
	// giving up when ctx is done. It must be safe to call more than once.
	Close(ctx context.Context) error
}

// Conn is a registered connection and its subscription set.
type Conn struct {
	id        string
	transport Transport

	mu   sync.RWMutex
	subs map[Key]struct{}
}

func newConn(id string, t Transport) *Conn {
	return &Conn{id: id, transport: t, subs: make(map[Key]struct{})}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Subscribe adds k and reports whether it was new.
func (c *Conn) Subscribe(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[k]; ok {
		return false
	}
	c.subs[k] = struct{}{}
	return true
}

// Unsubscribe removes k and reports whether it was present.
func (c *Conn) Unsubscribe(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[k]; !ok {
		return false
	}
	delete(c.subs, k)
	return true
}

// UnsubscribeChannel removes every key on channel and returns how many were
// removed.
func (c *Conn) UnsubscribeChannel(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.subs {
		if k.Channel == channel {
			delete(c.subs, k)
			n++
		}
	}
	return n
}

// Clear drops all subscriptions.
func (c *Conn) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.subs)
	clear(c.subs)
	return n
}

// Has reports whether the connection holds k.
func (c *Conn) Has(k Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[k]
	return ok
}

// Keys returns a sorted snapshot of the subscription set.
func (c *Conn) Keys() []Key {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Channel != keys[j].Channel {
			return keys[i].Channel < keys[j].Channel
		}
		return keys[i].ProductID < keys[j].ProductID
	})
	return keys
}

// ChannelSubscription is one entry of a subscriptions confirmation: a channel
// and the products subscribed on it.
type ChannelSubscription struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// Grouped returns the subscription set grouped by channel, channels and
// products in lexical order.
func (c *Conn) Grouped() []ChannelSubscription {
	out := []ChannelSubscription{}
	for _, k := range c.Keys() {
		if n := len(out); n > 0 && out[n-1].Name == k.Channel {
			out[n-1].ProductIDs = append(out[n-1].ProductIDs, k.ProductID)
			continue
		}
		out = append(out, ChannelSubscription{Name: k.Channel, ProductIDs: []string{k.ProductID}})
	}
	return out
}

// Registry tracks live connections. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Add registers a connection with an empty subscription set. Adding an id that
// is already registered returns the existing connection unchanged.
func (r *Registry) Add(id string, t Transport) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		return c
	}
	c := newConn(id, t)
	r.conns[id] = c
	return c
}

// Remove deletes the connection and its subscriptions and returns it. It is a
// no-op when id is absent.
func (r *Registry) Remove(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Subscriptions returns a snapshot of the keys held by id, or nil when the
// connection is not registered.
func (r *Registry) Subscriptions(id string) []Key {
	c, ok := r.Get(id)
	if !ok {
		return nil
	}
	return c.Keys()
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the registered connections at the time of the call.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// PriceProducts returns the distinct products that at least one connection
// follows on a price-driving channel, in lexical order.
func (r *Registry) PriceProducts() []string {
	seen := make(map[string]struct{})
	for _, c := range r.Snapshot() {
		c.mu.RLock()
		for k := range c.subs {
			if drivesPrice(k.Channel) {
				seen[k.ProductID] = struct{}{}
			}
		}
		c.mu.RUnlock()
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
