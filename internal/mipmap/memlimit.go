package mipmap

import "log"

// DefaultMemoryBudgetFraction mirrors the original's clamp of the
// configured cache_memory setting into [100MB, 2GB], further divided by
// five tiers worth of headroom; here it's expressed as a fraction of
// detected system RAM for callers that don't have an explicit config
// value to clamp.
const DefaultMemoryBudgetFraction = 0.1

const (
	minMemoryBudget = 100 << 20
	maxMemoryBudget = 2 << 30
)

// ComputeDefaultMemoryBudget returns a reasonable per-tier memory budget
// in bytes, derived from detected system RAM and clamped to the same
// [100MB, 2GB] range the original uses for its cache_memory setting.
// Returns minMemoryBudget if RAM detection fails.
func ComputeDefaultMemoryBudget(verbose bool) int64 {
	total, err := totalSystemRAM()
	if err != nil {
		if verbose {
			log.Printf("mipmap: cannot detect system RAM: %v; using minimum budget", err)
		}
		return minMemoryBudget
	}

	budget := int64(float64(total) * DefaultMemoryBudgetFraction)
	if budget < minMemoryBudget {
		budget = minMemoryBudget
	}
	if budget > maxMemoryBudget {
		budget = maxMemoryBudget
	}
	if verbose {
		log.Printf("mipmap: system RAM %.1f GB, per-tier budget %.1f MB",
			float64(total)/(1024*1024*1024), float64(budget)/(1024*1024))
	}
	return budget
}
