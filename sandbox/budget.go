package sandbox

import "time"

// wasmPageSize is the WebAssembly linear-memory page size.
const wasmPageSize = 64 * 1024

// Budget bounds one guarded execution.
//
// Memory is enforced by the engine (linear-memory page limit for WASM,
// allocation checks for script engines). The wall-clock deadline is
// enforced by the session through context cancellation. MaxCPUPercent
// is carried for configuration compatibility; in-process CPU-time
// accounting is not available per goroutine, so CPU pressure is bounded
// cooperatively by the wall-clock deadline.
type Budget struct {
	MaxMemoryMB   int
	MaxCPUPercent int
	MaxExecution  time.Duration
}

// DefaultBudget returns the budget applied when configuration does not
// override it.
func DefaultBudget() Budget {
	return Budget{
		MaxMemoryMB:   128,
		MaxCPUPercent: 50,
		MaxExecution:  30 * time.Second,
	}
}

// MemoryPages converts the memory ceiling to WASM pages, rounding up.
// Zero means no ceiling.
func (b Budget) MemoryPages() uint32 {
	if b.MaxMemoryMB <= 0 {
		return 0
	}
	bytes := uint64(b.MaxMemoryMB) * 1024 * 1024
	pages := bytes / wasmPageSize
	if bytes%wasmPageSize != 0 {
		pages++
	}
	return uint32(pages)
}

// Merge overlays non-zero fields of other onto the budget. Used to
// apply per-plugin overrides on top of global defaults.
func (b Budget) Merge(other Budget) Budget {
	merged := b
	if other.MaxMemoryMB > 0 {
		merged.MaxMemoryMB = other.MaxMemoryMB
	}
	if other.MaxCPUPercent > 0 {
		merged.MaxCPUPercent = other.MaxCPUPercent
	}
	if other.MaxExecution > 0 {
		merged.MaxExecution = other.MaxExecution
	}
	return merged
}
