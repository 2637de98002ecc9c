package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	log "github.com/sirupsen/logrus"
)

var (
	lastCPUTime        time.Time
	lastCPUUsage       float64
	cpuUsageMutex      sync.Mutex
	cpuUsageSampleRate = 500 * time.Millisecond
)

// SystemStats holds current host and process statistics for the admin
// endpoint. Venue hardware is often underpowered; these numbers tell
// support whether a slow queue is the network or the box.
type SystemStats struct {
	NumCPU           int     `json:"num_cpu"`
	GoRoutines       int     `json:"go_routines"`
	CPUUsage         float64 `json:"cpu_usage"`
	MemoryAlloc      uint64  `json:"memory_alloc"`
	MemoryAllocHuman string  `json:"memory_alloc_human"`
	MemorySys        uint64  `json:"memory_sys"`
	MemorySysHuman   string  `json:"memory_sys_human"`

	Timestamp time.Time `json:"timestamp"`
}

// FormatBytes renders bytes in human readable units.
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// GetCPUUsage samples host CPU usage via gopsutil, caching the result for
// half a second so a busy status endpoint does not hammer /proc.
func GetCPUUsage() float64 {
	cpuUsageMutex.Lock()
	defer cpuUsageMutex.Unlock()

	if time.Since(lastCPUTime) < cpuUsageSampleRate && lastCPUTime.Unix() > 0 {
		return lastCPUUsage
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("Failed to sample CPU usage: %v", err)
		return 0.0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0]
	}

	lastCPUTime = time.Now()
	lastCPUUsage = usage
	return usage
}

// CollectSystemStats gathers a snapshot of host and runtime statistics.
func CollectSystemStats() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemStats{
		NumCPU:           runtime.NumCPU(),
		GoRoutines:       runtime.NumGoroutine(),
		CPUUsage:         GetCPUUsage(),
		MemoryAlloc:      mem.Alloc,
		MemoryAllocHuman: FormatBytes(mem.Alloc),
		MemorySys:        mem.Sys,
		MemorySysHuman:   FormatBytes(mem.Sys),
		Timestamp:        time.Now(),
	}
}
