package record

import (
	"log"

	"github.com/pspoerri/rawcache/internal/cache"
)

// Cache is the write-through front end over a Store, matching the single
// global image-record cache: one fixed-size slab of record slots, loaded
// lazily from the store on first reference.
type Cache struct {
	store   Store
	sidecar SidecarWriter
	c       *cache.Cache[*Record]
}

// DefaultMaxMemoryBytes is the default budget the original used for the
// image-record cache before rounding to a power-of-two entry count.
const DefaultMaxMemoryBytes = 50 * 1024 * 1024

// recordCost is charged per resident record regardless of its string
// field lengths: the original counts sizeof(dt_image_t), a fixed struct
// size, not actual string length.
const recordCost = 256

// NewCache builds a record cache sized from maxMemoryBytes (rounded up by
// internal/cache to the next power of two, same as dt_image_cache_init's
// `1.5f*max_mem/sizeof(dt_image_t)` sizing pass). Every slot is
// pre-warmed with a zeroed record at construction, mirroring the
// original's memcpy-from-slot-zero loop.
func NewCache(store Store, sidecar SidecarWriter, maxMemoryBytes int64) *Cache {
	if maxMemoryBytes <= 0 {
		maxMemoryBytes = DefaultMaxMemoryBytes
	}
	capacity := uint32(float64(maxMemoryBytes) * 1.5 / float64(recordCost))
	if capacity == 0 {
		capacity = 1
	}

	rc := &Cache{store: store, sidecar: sidecar}
	rc.c = cache.New[*Record](capacity, 16, maxMemoryBytes,
		func(key uint32, payload **Record) (int64, bool) {
			// static_allocation already carved this slot's *Record out of
			// the cache's slab; reset it in place rather than allocating a
			// fresh one, mirroring the original's memcpy-from-slot-zero
			// reuse instead of malloc per claim.
			rec := *payload
			rec.init()
			if loaded, ok := store.FetchRecord(int32(key)); ok {
				*rec = loaded
				rec.BPP = bytesPerPixel(rec.Flags)
			} else {
				log.Printf("record: failed to load record %d from store", key)
			}
			return recordCost, false // fully populated here, no write lock needed
		},
		func(key uint32, payload *Record) {
			// Slots are reused, not freed; reset star ratings and other
			// per-image state so it doesn't spill into the next owner.
			payload.init()
		},
	)

	// static_allocation: every slot's Record is pre-warmed with a zeroed
	// value at construction, matching dt_image_cache_init's
	// memcpy-from-slot-zero loop over the whole slab up front.
	slab := make([]Record, rc.c.Capacity())
	ptrs := make([]*Record, len(slab))
	for i := range ptrs {
		ptrs[i] = &slab[i]
	}
	rc.c.StaticAllocation(ptrs)

	return rc
}

// Capacity returns the number of record slots the cache was built with.
func (rc *Cache) Capacity() uint32 { return rc.c.Capacity() }

// ReadGet returns a read lease on the record for id. It returns ok=false
// for id<=0 without touching the store, matching the original's
// `if(imgid <= 0) return NULL;` guard.
func (rc *Cache) ReadGet(id int32) (cache.ReadLease[*Record], bool) {
	if id <= 0 {
		return cache.ReadLease[*Record]{}, false
	}
	rl, _ := rc.c.ReadGet(uint32(id))
	return rl, true
}

// ReadTestGet returns a read lease only if the record is already resident.
func (rc *Cache) ReadTestGet(id int32) (cache.ReadLease[*Record], bool) {
	if id <= 0 {
		return cache.ReadLease[*Record]{}, false
	}
	return rc.c.ReadTestGet(uint32(id))
}

// ReadRelease drops a read lease obtained from ReadGet or ReadTestGet.
func (rc *Cache) ReadRelease(rl cache.ReadLease[*Record]) {
	if rl.Key() == 0 {
		return
	}
	rc.c.ReadRelease(rl)
}

// WriteGet upgrades an already-held read lease to a write lease, blocking
// until the caller is the only reader.
func (rc *Cache) WriteGet(rl cache.ReadLease[*Record]) cache.WriteLease[*Record] {
	return rc.c.WriteGet(rl)
}

// WriteRelease writes the record back through to the store (and, in
// WriteSafe mode, flushes the sidecar synchronously) and downgrades the
// lease back to a read lease, matching dt_image_cache_write_release.
func (rc *Cache) WriteRelease(wl cache.WriteLease[*Record], mode WriteMode) cache.ReadLease[*Record] {
	rec := *wl.Payload()
	if rec.ID <= 0 {
		return rc.c.WriteRelease(wl)
	}
	if err := rc.store.UpdateRecord(*rec); err != nil {
		log.Printf("record: write-through for %d failed: %v", rec.ID, err)
	}
	if mode == WriteSafe && rc.sidecar != nil {
		if err := rc.sidecar(rec.ID); err != nil {
			log.Printf("record: sidecar sync for %d failed: %v", rec.ID, err)
		}
	}
	return rc.c.WriteRelease(wl)
}

// Remove drops id from the cache without touching the store.
func (rc *Cache) Remove(id int32) {
	if id <= 0 {
		return
	}
	rc.c.Remove(uint32(id))
}

// ForAll visits every resident record under a read lease.
func (rc *Cache) ForAll(visit func(id int32, rec *Record) bool) {
	rc.c.ForAll(func(key uint32, payload **Record) bool {
		return visit(int32(key), *payload)
	})
}
