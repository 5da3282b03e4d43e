// Package mipmap implements the mipmap pyramid cache: one concurrent
// cache.Cache per size tier, lazily populated, backed by a Generator
// collaborator that fills freshly-allocated slots.
package mipmap

// Tier identifies one level of the pyramid. Values must fit in 3 bits (see
// GetKey), so at most 8 tiers are representable. Tier 0 is the smallest
// pre-sized tier; pre-sized tiers grow geometrically up to the float tier's
// dimensions, which the full tier then exceeds arbitrarily.
type Tier int32

// GetKey encodes (identifier, tier) into a single 32-bit value, the key
// written to the persisted envelope. Identifiers are 1-based and GetKey
// stores id-1, so GetKey(1, 0) is 0; because cache.Cache reserves 0 for
// "absent", Cache indexes each tier's cache.Cache by GetKey plus one.
func GetKey(id int32, tier Tier) uint32 {
	return (uint32(tier) << 29) | uint32(id-1)
}

// GetImgID recovers the identifier from a key produced by GetKey.
func GetImgID(key uint32) int32 {
	return int32(key&0x1fffffff) + 1
}

// GetSize recovers the tier from a key produced by GetKey.
func GetSize(key uint32) Tier {
	return Tier(key >> 29)
}

// ReadMode selects how ReadGet behaves on a miss.
type ReadMode int

const (
	// TestLock returns only if the entry is already resident; never
	// blocks, never generates.
	TestLock ReadMode = iota
	// Prefetch enqueues generation work and returns immediately without a
	// lease.
	Prefetch
	// Blocking waits for generation to complete (running it itself if
	// this call is the one that claimed the slot). For pre-sized and float
	// tiers it always returns a populated buffer, falling back to the
	// dead-image glyph on failure; a failed full-tier generation returns
	// no lease.
	Blocking
	// BestEffort scans downward from the requested tier for whatever is
	// already resident, prefetching the requested tier if nothing is
	// found.
	BestEffort
)

// Generator fills a freshly-claimed, write-locked buffer for (id, tier).
// It is the C3-side view of the thumbnail materializer: mipmap owns the
// cache and the lease discipline, Generator owns the decode/downsample
// logic, so the two packages don't import each other. grow is non-nil
// only when tier is the full tier: it lets the generator replace buf's
// backing storage mid-decode, once the real image size is known, via
// the same realloc contract the underlying cache exposes for any
// payload type.
type Generator interface {
	Generate(tier Tier, id int32, buf *Buffer, grow func(newSize int32)) error
}

// Scheduler enqueues background generation work. Prefetch and the
// fallback branch of BestEffort go through it rather than blocking the
// caller.
type Scheduler interface {
	Enqueue(tier Tier, id int32)
}
