// Copyright 2024-2026 Aiku AI

package bridge

import (
	"container/list"
	"context"
	"sync"

	"maunium.net/go/mautrix/id"
)

// aliasCache is a fixed-capacity LRU map of alias to room ID. Purely an
// optimization for the replication fan-out, which resolves the same
// handful of aliases on every event; correctness never depends on it
// and there is no invalidation. Room IDs are stable for the lifetime of
// a room, so stale entries only matter for rooms deleted out-of-band.
type aliasCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[id.RoomAlias]*list.Element
}

type aliasCacheEntry struct {
	alias  id.RoomAlias
	roomID id.RoomID
}

func newAliasCache(capacity int) *aliasCache {
	return &aliasCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[id.RoomAlias]*list.Element, capacity),
	}
}

func (c *aliasCache) Get(alias id.RoomAlias) (id.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[alias]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*aliasCacheEntry).roomID, true
}

func (c *aliasCache) Put(alias id.RoomAlias, roomID id.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[alias]; ok {
		elem.Value.(*aliasCacheEntry).roomID = roomID
		c.order.MoveToFront(elem)
		return
	}
	c.items[alias] = c.order.PushFront(&aliasCacheEntry{alias: alias, roomID: roomID})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*aliasCacheEntry).alias)
	}
}

func (c *aliasCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// cachedDirectory wraps a Directory with a read-through alias cache.
// Only successful ResolveAlias lookups are cached; negative results
// must stay visible so a site registered after a miss is found on the
// next query.
type cachedDirectory struct {
	Directory
	cache *aliasCache
}

// NewCachedDirectory adds a bounded alias-resolution cache in front of
// a Directory. A capacity of zero or less disables caching and returns
// the Directory unchanged.
func NewCachedDirectory(dir Directory, capacity int) Directory {
	if capacity <= 0 {
		return dir
	}
	return &cachedDirectory{Directory: dir, cache: newAliasCache(capacity)}
}

func (d *cachedDirectory) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	if roomID, ok := d.cache.Get(alias); ok {
		return roomID, nil
	}
	roomID, err := d.Directory.ResolveAlias(ctx, alias)
	if err != nil {
		return "", err
	}
	d.cache.Put(alias, roomID)
	return roomID, nil
}
