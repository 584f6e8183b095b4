package observability

import (
	"runtime"
	"runtime/debug"
)

// MemorySnapshot captures a point-in-time view of heap usage and GC pressure,
// used by internal/diagnostics to report a rough memory trend alongside its
// per-tick percentile profiling (spec §4.J).
type MemorySnapshot struct {
	HeapAllocBytes uint64
	NumGoroutine   int
	NumGC          uint32
	PauseTotalNs   uint64
}

// ReadMemorySnapshot reads current runtime memory statistics. It is called
// synchronously by its caller (internal/diagnostics reads it once per tick)
// rather than on a background ticker, since the kernel's tick loop is itself
// the clock.
func ReadMemorySnapshot() MemorySnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var gcStats debug.GCStats
	debug.ReadGCStats(&gcStats)

	return MemorySnapshot{
		HeapAllocBytes: memStats.HeapAlloc,
		NumGoroutine:   runtime.NumGoroutine(),
		NumGC:          memStats.NumGC,
		PauseTotalNs:   uint64(memStats.PauseTotalNs),
	}
}
