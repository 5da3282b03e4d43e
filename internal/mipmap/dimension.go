package mipmap

// dimensionTier computes how many entries a tier's cache should hold and
// the cost quota to enforce, given the tier's per-entry byte cost, a
// memory budget, and the number of concurrent workers that must always be
// able to claim a slot.
//
// Entries start at max(2*parallelism, nearest power of two of
// maxMemoryBytes/perEntryBytes), then halve (only while the halved count
// stays at or above 2*parallelism) as long as the power-of-two rounding pushed total
// size past the budget — trading a little memory headroom for staying
// inside it.
func dimensionTier(maxMemoryBytes int64, parallelism int, perEntryBytes int64) (entries uint32, quota int64) {
	if perEntryBytes <= 0 {
		perEntryBytes = 1
	}
	floor := uint32(2 * parallelism)
	if floor == 0 {
		floor = 2
	}

	byBudget := nearestPowerOfTwo(uint32(maxMemoryBytes / perEntryBytes))
	entries = floor
	if byBudget > floor {
		entries = byBudget
	}
	for entries/2 >= floor && int64(entries)*perEntryBytes > maxMemoryBytes {
		entries /= 2
	}

	quota = int64(0.9 * float64(entries) * float64(perEntryBytes))
	return entries, quota
}

func nearestPowerOfTwo(value uint32) uint32 {
	rc := uint32(1)
	for rc < value {
		rc <<= 1
	}
	return rc
}

// halveDimension halves a tier's maximum dimension, matching the
// geometric pyramid's per-step shrink.
func halveDimension(v int32) int32 {
	v /= 2
	if v < 1 {
		v = 1
	}
	return v
}
