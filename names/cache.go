// Package names resolves thread identifiers to the names announced in a
// record stream.
package names

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/jnesss/event-recorder/client"
	"github.com/jnesss/event-recorder/types"
)

// Cache assembles thread names from THREAD_ID and THREAD_NAME items with
// LRU eviction
type Cache struct {
	cache *lru.Cache
	width int

	// pending holds the name under construction per processor.
	pending map[uint32]*pending
}

type pending struct {
	id   uint32
	name []byte
}

// NewCache creates a cache for size threads. width is the data width of
// the stream, 4 or 8 bytes.
func NewCache(size, width int) (*Cache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		cache:   cache,
		width:   width,
		pending: make(map[uint32]*pending),
	}, nil
}

// SetWidth changes the data width, for example once the stream format is
// known.
func (c *Cache) SetWidth(width int) {
	c.width = width
}

// Observe feeds a decoded event. It returns the thread whose name changed,
// if any.
func (c *Cache) Observe(e client.Event) (id uint32, name string, ok bool) {
	switch e.Event {
	case types.EventThreadID:
		c.pending[e.CPU] = &pending{id: uint32(e.Data)}
	case types.EventThreadName:
		p := c.pending[e.CPU]
		if p == nil {
			return 0, "", false
		}
		p.name = append(p.name, types.UnpackString(e.Data, c.width)...)
		name := string(p.name)
		c.cache.Add(p.id, name)
		return p.id, name, true
	default:
		delete(c.pending, e.CPU)
	}
	return 0, "", false
}

// Add stores a name directly.
func (c *Cache) Add(id uint32, name string) {
	c.cache.Add(id, name)
}

// Lookup returns the name of a thread.
func (c *Cache) Lookup(id uint32) (string, bool) {
	v, found := c.cache.Get(id)
	if !found {
		return "", false
	}
	return v.(string), true
}

// Len is the number of cached names.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// IsThreadEvent reports whether the data of an event is a thread
// identifier.
func IsThreadEvent(e types.Event) bool {
	switch e {
	case types.EventThreadBegin, types.EventThreadCreate, types.EventThreadDelete,
		types.EventThreadExitted, types.EventThreadRestart, types.EventThreadStart,
		types.EventThreadSwitchIn, types.EventThreadSwitchOut, types.EventThreadTerminate,
		types.EventThreadID:
		return true
	}
	return false
}
