package models

import "time"

// ProcessSample is one entry of the optional per-process breakdown.
type ProcessSample struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// RawSample is a single host observation. Network counters are cumulative.
type RawSample struct {
	Timestamp        time.Time       `json:"timestamp"`
	CPUPercent       float64         `json:"cpu_percent"`
	CPUFrequencyMHz  float64         `json:"cpu_frequency_mhz"`
	MemoryUsedBytes  uint64          `json:"memory_used_bytes"`
	MemoryTotalBytes uint64          `json:"memory_total_bytes"`
	DiskUsedBytes    uint64          `json:"disk_used_bytes"`
	DiskTotalBytes   uint64          `json:"disk_total_bytes"`
	NetBytesSent     uint64          `json:"net_bytes_sent"`
	NetBytesRecv     uint64          `json:"net_bytes_recv"`
	Processes        []ProcessSample `json:"processes,omitempty"`
}

// MemoryPercent returns used/total memory as a percentage, or 0 when total is unknown.
func (s RawSample) MemoryPercent() float64 {
	return percentOf(s.MemoryUsedBytes, s.MemoryTotalBytes)
}

// DiskPercent returns used/total disk as a percentage, or 0 when total is unknown.
func (s RawSample) DiskPercent() float64 {
	return percentOf(s.DiskUsedBytes, s.DiskTotalBytes)
}

func percentOf(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
