// Package rt resolves container-aware resource limits for sizing the
// runtime: how many shards to start, and what a safe per-session memory
// budget looks like. Adapted from the teacher's cgroup.go (cgroup v2/v1
// memory.max reading, calculateMaxConnections' overhead-reservation
// arithmetic) and main.go's automaxprocs import, generalized from sizing
// one WebSocket connection pool to sizing shard count and per-session
// mailbox budgets.
package rt

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	_ "go.uber.org/automaxprocs" // rounds GOMAXPROCS to the container CPU quota as a side effect of import
)

// MemoryLimitBytes returns the container memory limit, trying cgroup v2
// (memory.max) then cgroup v1 (memory.limit_in_bytes), 0 if undetectable.
func MemoryLimitBytes() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return v
			}
		}
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// DefaultShardCount mirrors main.go's "GOMAXPROCS after automaxprocs" rule:
// automaxprocs has already clamped runtime.GOMAXPROCS(0) to the container's
// CPU quota (rounding down) by the time this package is imported, so one
// shard per available core is the safe default (spec.md §4.9 "Main ...
// Configure N shards (typically hardware_concurrency)").
func DefaultShardCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}

// CPUPercent reports system-wide CPU utilization as one percentage over
// all CPUs (gopsutil's cpu.Percent with interval 0 and percpu false, so
// measured since the previous call). Grounded on the teacher's gopsutil-based
// cpu.Percent() sampling (sharded/server.go's collectMetrics).
func CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// MaxSessionsForMemory sizes a safe upper bound on concurrently open
// sessions given a per-session byte budget, reserving runtimeOverheadBytes
// for the Go runtime and libraries — the same reservation idiom as
// cgroup.go's calculateMaxConnections, generalized to an arbitrary
// per-session footprint instead of a WebSocket client's hardcoded 180KB.
func MaxSessionsForMemory(memoryLimitBytes int64, bytesPerSession int64, runtimeOverheadBytes int64) int {
	if memoryLimitBytes == 0 {
		return 10000
	}
	if bytesPerSession <= 0 {
		bytesPerSession = 32 * 1024
	}
	available := memoryLimitBytes - runtimeOverheadBytes
	if available < 0 {
		available = memoryLimitBytes / 2
	}
	max := int(available / bytesPerSession)
	if max < 100 {
		max = 100
	}
	if max > 500000 {
		max = 500000
	}
	return max
}
