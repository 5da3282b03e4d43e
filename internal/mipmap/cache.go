package mipmap

import (
	"log"

	"github.com/pspoerri/rawcache/internal/cache"
)

// Config describes the pyramid's shape: how many pre-sized tiers exist,
// the largest pre-sized tier's maximum dimensions (the float tier shares
// them), and the sizing inputs shared by every tier.
type Config struct {
	PreSizedTiers int // number of tiers at indices [0, PreSizedTiers)
	MaxWidth      int32
	MaxHeight     int32
	Parallelism   int
	// MemoryBudget is the per-tier byte budget used to size pre-sized and
	// float tiers before power-of-two rounding and the parallelism floor.
	MemoryBudget int64
	// RecordBPP supplies the bytes-per-pixel for the full tier's minimal
	// fallback allocation; the real per-image bpp is known only once a
	// record is loaded, so full-tier buffers grow via Realloc afterward.
	RecordBPP int32
}

type tierInfo struct {
	maxW, maxH    int32
	bytesPerPixel int32
	perEntryBytes int64
	c             *cache.Cache[*Buffer]
}

// Cache is the mipmap pyramid: one internal/cache.Cache per tier, wired
// together so callers address them uniformly by (id, Tier).
type Cache struct {
	cfg       Config
	floatTier Tier
	fullTier  Tier
	tiers     []tierInfo
}

// NewCache builds every tier's cache per the dimensioning rules: maximum
// dimensions halve geometrically below the float tier, entry counts come
// from dimensionTier, and pre-sized/float tiers bind a static slab (one
// Buffer per slot, pre-allocated, never moved) while the full tier
// allocates dynamically.
func NewCache(cfg Config) *Cache {
	n := cfg.PreSizedTiers
	floatTier := Tier(n)
	fullTier := Tier(n + 1)

	maxW := make([]int32, n+1) // +1 for the float tier, sharing index n
	maxH := make([]int32, n+1)
	maxW[n-1], maxH[n-1] = cfg.MaxWidth, cfg.MaxHeight
	for k := n - 2; k >= 0; k-- {
		maxW[k] = halveDimension(maxW[k+1])
		maxH[k] = halveDimension(maxH[k+1])
	}
	maxW[n], maxH[n] = cfg.MaxWidth, cfg.MaxHeight // float tier shares the largest

	mc := &Cache{cfg: cfg, floatTier: floatTier, fullTier: fullTier}
	mc.tiers = make([]tierInfo, n+2)

	for k := 0; k <= n; k++ {
		tier := Tier(k)
		bpp := BytesPerPixel(tier, floatTier, fullTier, cfg.RecordBPP)
		perEntry := int64(maxW[k]) * int64(maxH[k]) * int64(bpp)
		entries, quota := dimensionTier(cfg.MemoryBudget, cfg.Parallelism, perEntry)

		info := tierInfo{maxW: maxW[k], maxH: maxH[k], bytesPerPixel: bpp, perEntryBytes: perEntry}
		w, h := maxW[k], maxH[k]
		info.c = cache.New[*Buffer](entries, cfg.Parallelism*4, quota,
			func(key uint32, payload **Buffer) (int64, bool) {
				// static_allocation already carved this slot's *Buffer and
				// its Pix storage out of the tier's slab; reset it in place
				// rather than allocating a fresh one.
				buf := *payload
				clear(buf.Pix)
				buf.Width, buf.Height = w, h
				buf.Size = int32(perEntry)
				buf.NeedsGeneration = true
				return perEntry, true
			},
			func(key uint32, payload *Buffer) {
				payload.NeedsGeneration = false
				payload.Width, payload.Height = 0, 0
			},
		)

		// static_allocation: one contiguous slab per tier, holding every
		// slot's Buffer and its pixel storage for the cache's lifetime; the
		// i-th slot's pixels live at offset i * perEntryBytes within pixSlab.
		slabEntries := int64(info.c.Capacity())
		bufs := make([]Buffer, slabEntries)
		pixSlab := make([]byte, slabEntries*perEntry)
		slab := make([]*Buffer, slabEntries)
		for i := range slab {
			b := &bufs[i]
			b.Width, b.Height = w, h
			b.Size = int32(perEntry)
			b.Pix = pixSlab[int64(i)*perEntry : int64(i+1)*perEntry : int64(i+1)*perEntry]
			slab[i] = b
		}
		info.c.StaticAllocation(slab)

		mc.tiers[k] = info
		log.Printf("mipmap: tier %d has %d entries (%.2f MB)", k, entries, float64(entries)*float64(perEntry)/(1024*1024))
	}

	fullEntries := nearestPowerOfTwo(uint32(2 * cfg.Parallelism))
	if fullEntries < 16 {
		fullEntries = 16
	}
	fullQuota := int64(0.9 * float64(fullEntries))
	mc.tiers[fullTier] = tierInfo{bytesPerPixel: cfg.RecordBPP}
	mc.tiers[fullTier].c = cache.New[*Buffer](fullEntries, cfg.Parallelism*4, fullQuota,
		func(key uint32, payload **Buffer) (int64, bool) {
			buf := *payload
			const fallback = 4 * 64 * 4 // header-free: dead-image-sized scratch
			if buf == nil || len(buf.Pix) < fallback {
				buf = &Buffer{Size: fallback, Pix: make([]byte, fallback)}
			}
			buf.NeedsGeneration = true
			*payload = buf
			return 1, true // flat cost: buffers vary in size, so only the slot count is quota-worthy
		},
		nil, // no cleanup: the full tier has no static slab, so eviction drops the payload pointer and the next miss allocates a fresh Buffer
	)

	return mc
}

// FloatTier returns the configured float tier index.
func (mc *Cache) FloatTier() Tier { return mc.floatTier }

// FullTier returns the configured full tier index.
func (mc *Cache) FullTier() Tier { return mc.fullTier }

// TierDimensions returns the configured maximum dimensions of a pre-sized
// or float tier.
func (mc *Cache) TierDimensions(tier Tier) (w, h int32) {
	t := mc.tiers[tier]
	return t.maxW, t.maxH
}

// ClosestTier returns the pre-sized tier whose max_w+max_h is nearest to
// w+h, breaking ties toward the larger tier.
func (mc *Cache) ClosestTier(w, h int32) Tier {
	target := w + h
	best := Tier(0)
	bestDist := int64(-1)
	for k := 0; k < mc.cfg.PreSizedTiers; k++ {
		t := mc.tiers[k]
		dist := int64(t.maxW+t.maxH) - int64(target)
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist <= bestDist {
			bestDist = dist
			best = Tier(k)
		}
	}
	return best
}

// ReadGet implements the four read modes against tier for id.
func (mc *Cache) ReadGet(id int32, tier Tier, mode ReadMode, gen Generator, sched Scheduler) (cache.ReadLease[*Buffer], bool) {
	switch mode {
	case TestLock:
		return mc.testLock(id, tier)
	case Prefetch:
		if sched != nil {
			sched.Enqueue(tier, id)
		}
		return cache.ReadLease[*Buffer]{}, false
	case Blocking:
		return mc.blocking(id, tier, gen)
	case BestEffort:
		return mc.bestEffort(id, tier, sched)
	default:
		return cache.ReadLease[*Buffer]{}, false
	}
}

// cacheKey is the key a tier's cache.Cache indexes (id, tier) by: GetKey
// plus one, since GetKey(1, 0) is 0 and cache.Cache reserves 0 for
// "absent". Identifiers stay below 2^29, so the sum never wraps.
func cacheKey(id int32, tier Tier) uint32 { return GetKey(id, tier) + 1 }

func (mc *Cache) testLock(id int32, tier Tier) (cache.ReadLease[*Buffer], bool) {
	key := cacheKey(id, tier)
	rl, ok := mc.tiers[tier].c.ReadTestGet(key)
	if !ok {
		return cache.ReadLease[*Buffer]{}, false
	}
	buf := *rl.Payload()
	if buf.Width == 0 || buf.Height == 0 {
		mc.tiers[tier].c.ReadRelease(rl)
		return cache.ReadLease[*Buffer]{}, false
	}
	return rl, true
}

func (mc *Cache) blocking(id int32, tier Tier, gen Generator) (cache.ReadLease[*Buffer], bool) {
	key := cacheKey(id, tier)
	rl, wl := mc.tiers[tier].c.ReadGet(key)
	buf := *rl.Payload()

	if wl != nil && buf.NeedsGeneration {
		var grow func(newSize int32)
		if tier == mc.fullTier {
			grow = func(newSize int32) { mc.Realloc(*wl, newSize) }
		}
		if err := gen.Generate(tier, id, buf, grow); err != nil {
			log.Printf("mipmap: generation failed for id %d tier %d: %v", id, tier, err)
			buf.Width, buf.Height = 0, 0
		}
		buf.NeedsGeneration = false
		mc.tiers[tier].c.WriteRelease(*wl)
	}

	if buf.Width == 0 || buf.Height == 0 {
		if tier == mc.fullTier {
			mc.tiers[tier].c.ReadRelease(rl)
			return cache.ReadLease[*Buffer]{}, false
		}
		if tier < mc.floatTier {
			RenderDead8(buf)
		} else if tier == mc.floatTier {
			RenderDeadFloat(buf)
		}
	}
	return rl, true
}

func (mc *Cache) bestEffort(id int32, tier Tier, sched Scheduler) (cache.ReadLease[*Buffer], bool) {
	minTier := Tier(0)
	if tier >= mc.floatTier {
		minTier = tier
	}
	for k := tier; k >= minTier; k-- {
		if rl, ok := mc.testLock(id, k); ok {
			return rl, true
		}
	}
	if sched != nil {
		sched.Enqueue(tier, id)
	}
	return cache.ReadLease[*Buffer]{}, false
}

// ReadRelease drops a read lease obtained from ReadGet.
func (mc *Cache) ReadRelease(tier Tier, rl cache.ReadLease[*Buffer]) {
	mc.tiers[tier].c.ReadRelease(rl)
}

// WriteGet upgrades an already-held read lease on tier to a write lease.
func (mc *Cache) WriteGet(tier Tier, rl cache.ReadLease[*Buffer]) cache.WriteLease[*Buffer] {
	return mc.tiers[tier].c.WriteGet(rl)
}

// WriteRelease drops a write lease, downgrading back to a read lease.
func (mc *Cache) WriteRelease(tier Tier, wl cache.WriteLease[*Buffer]) cache.ReadLease[*Buffer] {
	return mc.tiers[tier].c.WriteRelease(wl)
}

// Realloc grows a full-tier buffer in place, used by the raw decoder's
// allocator callback when the real image size exceeds the current
// fallback allocation. The cost charged stays flat (the full tier
// doesn't size its quota on bytes), so only the payload's storage
// changes; the entry's pointer identity is preserved so callers already
// holding buf see the grown storage without re-fetching the lease.
func (mc *Cache) Realloc(wl cache.WriteLease[*Buffer], newSize int32) {
	mc.tiers[mc.fullTier].c.Realloc(wl, 1, func(old *Buffer) *Buffer {
		if old == nil {
			old = &Buffer{}
		}
		if int32(len(old.Pix)) < newSize {
			old.Pix = make([]byte, newSize)
		}
		old.Size = newSize
		return old
	})
}

// Restore seeds tier's slot for id with already-decoded pixel data,
// without invoking a Generator. It is used by the snapshot loader to
// repopulate the cache from a prior run's persisted envelope. If the slot
// is already resident (concurrent load beat it to the claim, or it was
// already generated), the given data is discarded and restored reports
// false.
func (mc *Cache) Restore(tier Tier, id int32, w, h int32, pix []byte) bool {
	key := cacheKey(id, tier)
	rl, wl := mc.tiers[tier].c.ReadGet(key)
	if wl == nil {
		mc.tiers[tier].c.ReadRelease(rl)
		return false
	}
	buf := *rl.Payload()
	if int32(len(buf.Pix)) < int32(len(pix)) {
		buf.Pix = make([]byte, len(pix))
	}
	copy(buf.Pix, pix)
	buf.Width, buf.Height = w, h
	buf.NeedsGeneration = false
	mc.tiers[tier].c.WriteRelease(*wl)
	mc.tiers[tier].c.ReadRelease(rl)
	return true
}

// ForAll visits every resident buffer of tier under a read lease.
func (mc *Cache) ForAll(tier Tier, visit func(id int32, buf *Buffer) bool) {
	mc.tiers[tier].c.ForAll(func(key uint32, payload **Buffer) bool {
		return visit(GetImgID(key-1), *payload)
	})
}
