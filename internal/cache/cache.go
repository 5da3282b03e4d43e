// Package cache implements the concurrent, fixed-capacity keyed cache that
// backs both the image-record cache and the mipmap pyramid cache: a
// power-of-two bucket table probed within a bounded neighborhood window,
// per-entry reader/writer leases, and cost-quota eviction in insertion
// order. Keys are never the zero value; callers reserve 0 to mean "no
// entry".
package cache

import (
	"fmt"
	"sync"
)

// Allocator fills in a freshly claimed slot for key. It returns the cost to
// charge against the cache's quota and whether the caller should receive
// the entry already write-locked (used when the payload still needs
// out-of-band work, such as a decode, before it is safe to read).
type Allocator[V any] func(key uint32, payload *V) (cost int64, needsWriteLock bool)

// Cleanup is invoked once, with the entry's lock held (and, on eviction,
// the structural lock too), when an entry is evicted or explicitly
// removed, so the allocator's resources (pooled
// buffers, open descriptors) can be reclaimed before the slot is reused.
type Cleanup[V any] func(key uint32, payload V)

type entry[V any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	key     uint32
	payload V
	cost    int64
	readers int
	writer  bool
	removed bool // Remove() called while still referenced; reclaim on last release.
}

type orderItem struct {
	key  uint32
	slot uint32
}

// Cache is a fixed-capacity, concurrency-safe keyed cache of payload type V.
// It never grows past the capacity chosen at construction: a new key evicts
// the oldest unreferenced entry when the cost quota is reached or the key's
// neighborhood has no free slot.
type Cache[V any] struct {
	structMu sync.RWMutex // structural changes (insert/evict/remove) vs. cheap hit lookups

	entries      []*entry[V]
	index        map[uint32]uint32 // key -> slot, guarded by structMu
	order        []orderItem       // insertion order, oldest first, guarded by structMu
	mask         uint32
	neighborhood int

	costQuota int64
	cost      int64 // guarded by structMu
	size      int64 // guarded by structMu

	alloc   Allocator[V]
	cleanup Cleanup[V]

	// static is set by StaticAllocation. Once set, eviction and reclaim
	// never zero an entry's payload: it stays bound to its slab element
	// for the cache's lifetime, and only the allocator/cleanup callbacks
	// reset its logical contents.
	static bool
}

// ReadLease is proof that the holder may read (but not mutate) a cached
// payload. It must be released with Cache.ReadRelease.
type ReadLease[V any] struct {
	key   uint32
	entry *entry[V]
}

// Key returns the key this lease was acquired for.
func (l ReadLease[V]) Key() uint32 { return l.key }

// Payload returns a pointer to the cached value. The pointer is stable for
// the lifetime of the lease but must not be retained past ReadRelease.
func (l ReadLease[V]) Payload() *V { return &l.entry.payload }

// WriteLease is proof that the holder may mutate a cached payload. It is
// obtained either as part of a miss (the allocator asked for it) or via
// Cache.WriteGet, and must be released with Cache.WriteRelease.
type WriteLease[V any] struct {
	key   uint32
	entry *entry[V]
}

// Key returns the key this lease was acquired for.
func (l WriteLease[V]) Key() uint32 { return l.key }

// Payload returns a pointer to the cached value for mutation.
func (l WriteLease[V]) Payload() *V { return &l.entry.payload }

// New builds a cache with room for at least capacity entries, rounded up to
// the next power of two, probing neighborhood slots past each key's home
// bucket before falling back to eviction. costQuota bounds the sum of costs
// returned by alloc; once exceeded, the oldest unreferenced entry is
// evicted to make room for a new one.
func New[V any](capacity uint32, neighborhood int, costQuota int64, alloc Allocator[V], cleanup Cleanup[V]) *Cache[V] {
	if capacity == 0 {
		capacity = 1
	}
	cap2 := nextPowerOfTwo(capacity)
	if neighborhood <= 0 {
		neighborhood = 16
	}
	if int(cap2) < neighborhood {
		neighborhood = int(cap2)
	}
	c := &Cache[V]{
		entries:      make([]*entry[V], cap2),
		index:        make(map[uint32]uint32, cap2),
		mask:         cap2 - 1,
		neighborhood: neighborhood,
		costQuota:    costQuota,
		alloc:        alloc,
		cleanup:      cleanup,
	}
	for i := range c.entries {
		e := &entry[V]{}
		e.cond = sync.NewCond(&e.mu)
		c.entries[i] = e
	}
	return c
}

// StaticAllocation binds the cache to a pre-allocated slab: slab must have
// exactly Capacity() elements, one per slot in entry order. Subsequent
// allocator callbacks are handed the slot's slab element already in
// place (via payload, same as any other miss) rather than a freshly
// allocated zero value, so the allocator's job becomes resetting it
// in place instead of constructing a new one. It must be called once,
// before the cache is given to any concurrent caller.
func (c *Cache[V]) StaticAllocation(slab []V) {
	if len(slab) != len(c.entries) {
		panic(fmt.Sprintf("cache: static_allocation slab length %d does not match capacity %d", len(slab), len(c.entries)))
	}
	for i, e := range c.entries {
		e.payload = slab[i]
	}
	c.static = true
}

func nextPowerOfTwo(n uint32) uint32 {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

// Capacity returns the number of slots the table was built with.
func (c *Cache[V]) Capacity() uint32 {
	return uint32(len(c.entries))
}

// Size returns the number of currently occupied slots.
func (c *Cache[V]) Size() int64 {
	c.structMu.RLock()
	defer c.structMu.RUnlock()
	return c.size
}

// Cost returns the sum of costs charged by currently occupied entries.
func (c *Cache[V]) Cost() int64 {
	c.structMu.RLock()
	defer c.structMu.RUnlock()
	return c.cost
}

// CostQuota returns the configured eviction threshold.
func (c *Cache[V]) CostQuota() int64 {
	return c.costQuota
}

// ReadGet returns a read lease on key, allocating it on a miss. If this call
// is the one that allocated the entry and the allocator asked for a write
// lock, the returned WriteLease is non-nil and must be released (via
// WriteRelease) before the ReadLease's own release.
func (c *Cache[V]) ReadGet(key uint32) (ReadLease[V], *WriteLease[V]) {
	if key == 0 {
		panic("cache: key 0 is reserved for \"absent\"")
	}

	c.structMu.Lock()
	if slot, ok := c.index[key]; ok {
		e := c.entries[slot]
		c.structMu.Unlock()
		return c.lockForRead(key, e), nil
	}

	slot := c.claimSlotLocked(key)
	e := c.entries[slot]
	e.mu.Lock()
	e.key = key
	e.readers = 1
	e.writer = false
	e.removed = false
	c.index[key] = slot
	c.order = append(c.order, orderItem{key: key, slot: slot})
	c.size++
	// Release the structural lock before running the allocator: it may do
	// real I/O, and other keys must stay reachable while it runs. A second
	// ReadGet for this same key will find it in the index and block on
	// e.mu below, same as any other writer-held entry.
	c.structMu.Unlock()

	cost, needsWrite := c.alloc(key, &e.payload)
	e.cost = cost
	e.writer = needsWrite
	e.mu.Unlock()

	c.structMu.Lock()
	c.cost += cost
	c.structMu.Unlock()

	rl := ReadLease[V]{key: key, entry: e}
	if needsWrite {
		return rl, &WriteLease[V]{key: key, entry: e}
	}
	return rl, nil
}

// ReadTestGet returns a read lease on key only if it is already resident; it
// never allocates and never blocks. It uses TryLock rather than Lock on the
// entry mutex: a held entry lock means either a writer holds the entry or a
// concurrent ReadGet miss is still running its allocator (which may be doing
// real I/O), and read_testget must not wait out either one.
func (c *Cache[V]) ReadTestGet(key uint32) (ReadLease[V], bool) {
	if key == 0 {
		return ReadLease[V]{}, false
	}
	c.structMu.RLock()
	slot, ok := c.index[key]
	if !ok {
		c.structMu.RUnlock()
		return ReadLease[V]{}, false
	}
	e := c.entries[slot]
	c.structMu.RUnlock()

	if !e.mu.TryLock() {
		return ReadLease[V]{}, false
	}
	if e.writer || e.key != key {
		e.mu.Unlock()
		return ReadLease[V]{}, false
	}
	e.readers++
	e.mu.Unlock()
	return ReadLease[V]{key: key, entry: e}, true
}

func (c *Cache[V]) lockForRead(key uint32, e *entry[V]) ReadLease[V] {
	e.mu.Lock()
	for e.writer {
		e.cond.Wait()
	}
	e.readers++
	e.mu.Unlock()
	return ReadLease[V]{key: key, entry: e}
}

// claimSlotLocked picks a slot for key, evicting if necessary. c.structMu
// must be held for writing.
func (c *Cache[V]) claimSlotLocked(key uint32) uint32 {
	// Cost quota: evict oldest unreferenced entries while the quota is
	// reached; with no victim left, the insert proceeds over quota.
	for c.cost >= c.costQuota {
		if !c.evictOneLocked() {
			break
		}
	}
	if slot, ok := c.freeSlotInNeighborhood(key); ok {
		return slot
	}
	for {
		if c.evictOneLocked() {
			if slot, ok := c.freeSlotInNeighborhood(key); ok {
				return slot
			}
			continue
		}
		break
	}
	// Neighborhood exhausted and nothing anywhere was evictable: fall back
	// to a full-table scan for any free slot, outside the key's
	// neighborhood, rather than refuse the insert; it should not be reachable when
	// tiers are dimensioned per the sizing rules (capacity well above the
	// expected concurrently-referenced set).
	for i, e := range c.entries {
		e.mu.Lock()
		free := e.key == 0
		e.mu.Unlock()
		if free {
			return uint32(i)
		}
	}
	for {
		if c.evictOneLocked() {
			for i, e := range c.entries {
				e.mu.Lock()
				free := e.key == 0
				e.mu.Unlock()
				if free {
					return uint32(i)
				}
			}
			continue
		}
		panic("cache: no free or evictable slot available (capacity exhausted by referenced entries)")
	}
}

func (c *Cache[V]) freeSlotInNeighborhood(key uint32) (uint32, bool) {
	home := key & c.mask
	for i := 0; i < c.neighborhood; i++ {
		slot := (home + uint32(i)) & c.mask
		e := c.entries[slot]
		e.mu.Lock()
		free := e.key == 0
		e.mu.Unlock()
		if free {
			return slot, true
		}
	}
	return 0, false
}

// evictOneLocked evicts the oldest unreferenced entry. c.structMu must be
// held for writing. Returns false if every occupied entry is referenced.
func (c *Cache[V]) evictOneLocked() bool {
	for i, it := range c.order {
		e := c.entries[it.slot]
		e.mu.Lock()
		if e.key == it.key && e.readers == 0 && !e.writer {
			if c.cleanup != nil {
				c.cleanup(e.key, e.payload)
			}
			if !c.static {
				var zero V
				e.payload = zero
			}
			e.key = 0
			e.removed = false
			c.cost -= e.cost
			e.cost = 0
			e.mu.Unlock()

			c.order = append(c.order[:i:i], c.order[i+1:]...)
			c.size--
			return true
		}
		e.mu.Unlock()
	}
	return false
}

// ReadRelease drops a read lease. Once the last reader (and any writer)
// steps back from an entry that Remove marked for reclamation, the slot is
// reclaimed immediately.
func (c *Cache[V]) ReadRelease(l ReadLease[V]) {
	e := l.entry
	e.mu.Lock()
	if e.readers == 0 {
		e.mu.Unlock()
		panic(fmt.Sprintf("cache: read_release without a held lease for key %d", l.key))
	}
	e.readers--
	finish := e.readers == 0 && e.removed && !e.writer
	e.cond.Broadcast()
	e.mu.Unlock()
	if finish {
		c.reclaimLocked(e, l.key)
	}
}

// WriteGet upgrades an already-held read lease to a write lease. It blocks
// until this caller is the only reader and no other writer holds the entry.
func (c *Cache[V]) WriteGet(l ReadLease[V]) WriteLease[V] {
	e := l.entry
	e.mu.Lock()
	for e.readers > 1 || e.writer {
		e.cond.Wait()
	}
	e.writer = true
	e.mu.Unlock()
	return WriteLease[V]{key: l.key, entry: e}
}

// WriteRelease downgrades a write lease back to a read lease: the caller is
// still considered a reader and must eventually call ReadRelease.
func (c *Cache[V]) WriteRelease(l WriteLease[V]) ReadLease[V] {
	e := l.entry
	e.mu.Lock()
	if !e.writer {
		e.mu.Unlock()
		panic(fmt.Sprintf("cache: write_release without a held write lease for key %d", l.key))
	}
	e.writer = false
	e.cond.Broadcast()
	e.mu.Unlock()
	return ReadLease[V]{key: l.key, entry: e}
}

// Realloc grows or replaces an entry's payload in place while the write
// lease is held, updating the charged cost to newCost.
func (c *Cache[V]) Realloc(l WriteLease[V], newCost int64, grow func(old V) V) {
	e := l.entry
	e.mu.Lock()
	if !e.writer {
		e.mu.Unlock()
		panic(fmt.Sprintf("cache: realloc requires a held write lease for key %d", l.key))
	}
	e.payload = grow(e.payload)
	delta := newCost - e.cost
	e.cost = newCost
	e.mu.Unlock()

	c.structMu.Lock()
	c.cost += delta
	c.structMu.Unlock()
}

// Remove drops key from the cache. If it is currently referenced, removal
// is deferred until the last lease on it is released.
func (c *Cache[V]) Remove(key uint32) {
	c.structMu.Lock()
	slot, ok := c.index[key]
	if !ok {
		c.structMu.Unlock()
		return
	}
	delete(c.index, key)
	c.structMu.Unlock()

	e := c.entries[slot]
	e.mu.Lock()
	if e.key != key {
		e.mu.Unlock()
		return
	}
	if e.readers == 0 && !e.writer {
		e.mu.Unlock()
		c.reclaimLocked(e, key)
		return
	}
	e.removed = true
	e.mu.Unlock()
}

func (c *Cache[V]) reclaimLocked(e *entry[V], key uint32) {
	e.mu.Lock()
	if e.key != key || (e.readers != 0 || e.writer) {
		e.mu.Unlock()
		return
	}
	if c.cleanup != nil {
		c.cleanup(e.key, e.payload)
	}
	if !c.static {
		var zero V
		e.payload = zero
	}
	e.key = 0
	e.removed = false
	cost := e.cost
	e.cost = 0
	e.mu.Unlock()

	c.structMu.Lock()
	c.cost -= cost
	c.size--
	for i, it := range c.order {
		if it.key == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.structMu.Unlock()
}

// ForAll visits every resident entry under a read lease, in an unspecified
// order, until visit returns false or every entry has been visited. It is
// meant for whole-cache snapshot operations (persistence), not general
// iteration: visit must not call back into the cache it is iterating.
func (c *Cache[V]) ForAll(visit func(key uint32, payload *V) bool) {
	c.structMu.RLock()
	keys := make([]uint32, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.structMu.RUnlock()

	for _, k := range keys {
		rl, ok := c.ReadTestGet(k)
		if !ok {
			continue
		}
		keepGoing := visit(k, rl.Payload())
		c.ReadRelease(rl)
		if !keepGoing {
			return
		}
	}
}
