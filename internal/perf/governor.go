// Package perf keeps large-batch runs from thrashing: it sizes in-memory
// batches against a memory budget and watches process memory between batches.
package perf

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"

	"docpipe/internal/common"
)

const (
	// Half the budget is reserved for non-batch overhead when sizing batches.
	batchMemoryFraction = 0.5
	maxBatchSize        = 1000
)

// Governor computes adaptive batch sizes and checks memory pressure.
type Governor struct {
	maxMemoryMB float64
	monitoring  bool
	logger      *slog.Logger
}

func NewGovernor(maxMemoryMB int, monitoring bool, logger *slog.Logger) *Governor {
	if maxMemoryMB <= 0 {
		maxMemoryMB = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{maxMemoryMB: float64(maxMemoryMB), monitoring: monitoring, logger: logger}
}

// OptimalBatchSize returns how many items to keep in flight at once given a
// per-item size estimate in MB. Clamped to [1, min(1000, totalItems)].
func (g *Governor) OptimalBatchSize(totalItems int, itemSizeMB float64) int {
	if totalItems <= 0 {
		return 1
	}
	if itemSizeMB <= 0 {
		itemSizeMB = 1.0
	}
	available := g.maxMemoryMB * batchMemoryFraction
	size := int(available / itemSizeMB)

	upper := maxBatchSize
	if totalItems < upper {
		upper = totalItems
	}
	if size > upper {
		size = upper
	}
	if size < 1 {
		size = 1
	}
	g.logger.Debug("computed batch size", "total_items", totalItems, "item_size_mb", itemSizeMB, "batch_size", size)
	return size
}

// CheckMemory returns the current heap footprint in MB; it reports a
// resource-exhaustion error when the configured ceiling is exceeded.
// Callers decide whether that is fatal or a signal to shrink the next batch.
func (g *Governor) CheckMemory() (float64, error) {
	if !g.monitoring {
		return 0, nil
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	currentMB := float64(ms.HeapAlloc) / (1024 * 1024)
	if currentMB > g.maxMemoryMB {
		return currentMB, common.ResourceExhaustedError(
			fmt.Sprintf("memory usage %.1fMB exceeds limit %.0fMB", currentMB, g.maxMemoryMB), nil)
	}
	return currentMB, nil
}

// ReclaimMemory forces a collection pass and returns freed pages to the OS.
// Invoked between batches only; far too expensive per page.
func (g *Governor) ReclaimMemory() {
	runtime.GC()
	debug.FreeOSMemory()
	g.logger.Debug("forced memory reclaim")
}
