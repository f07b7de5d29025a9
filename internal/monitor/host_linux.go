//go:build linux

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// HostConfig configures HostSource.
type HostConfig struct {
	ProcPath     string
	DiskPath     string
	TopProcesses int
}

// HostSource samples the local machine from procfs and statfs.
type HostSource struct {
	cfg    HostConfig
	fs     procfs.FS
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	prevCPU  procfs.CPUStat
	prevProc map[int]float64
	prevTime float64
}

// NewHostSource opens procfs and primes the CPU counters so the first sample
// already has a delta to work with.
func NewHostSource(cfg HostConfig, clk clock.Clock, logger *slog.Logger) (*HostSource, error) {
	if cfg.ProcPath == "" {
		cfg.ProcPath = procfs.DefaultMountPoint
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := procfs.NewFS(cfg.ProcPath)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", cfg.ProcPath, err)
	}
	stat, err := fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("read %s/stat: %w", cfg.ProcPath, err)
	}
	return &HostSource{
		cfg:      cfg,
		fs:       fs,
		clock:    clk,
		logger:   logger,
		prevCPU:  stat.CPUTotal,
		prevProc: make(map[int]float64),
		prevTime: cpuTotal(stat.CPUTotal),
	}, nil
}

// Sample reads CPU, memory, disk and network counters.
func (h *HostSource) Sample(ctx context.Context) (models.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return models.RawSample{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	stat, err := h.fs.Stat()
	if err != nil {
		return models.RawSample{}, unavailable("read stat", err)
	}
	meminfo, err := h.fs.Meminfo()
	if err != nil {
		return models.RawSample{}, unavailable("read meminfo", err)
	}
	netDev, err := h.fs.NetDev()
	if err != nil {
		return models.RawSample{}, unavailable("read net/dev", err)
	}
	var st unix.Statfs_t
	if err := unix.Statfs(h.cfg.DiskPath, &st); err != nil {
		return models.RawSample{}, unavailable("statfs "+h.cfg.DiskPath, err)
	}

	sample := models.RawSample{
		Timestamp:  h.clock.Now(),
		CPUPercent: cpuPercent(h.prevCPU, stat.CPUTotal),
	}
	elapsedCPU := cpuTotal(stat.CPUTotal) - h.prevTime
	h.prevCPU = stat.CPUTotal
	h.prevTime = cpuTotal(stat.CPUTotal)

	if meminfo.MemTotal != nil {
		sample.MemoryTotalBytes = *meminfo.MemTotal * 1024
		available := uint64(0)
		if meminfo.MemAvailable != nil {
			available = *meminfo.MemAvailable * 1024
		} else if meminfo.MemFree != nil {
			available = *meminfo.MemFree * 1024
		}
		if available <= sample.MemoryTotalBytes {
			sample.MemoryUsedBytes = sample.MemoryTotalBytes - available
		}
	}

	blockSize := uint64(st.Bsize)
	sample.DiskTotalBytes = uint64(st.Blocks) * blockSize
	sample.DiskUsedBytes = (uint64(st.Blocks) - uint64(st.Bfree)) * blockSize

	for name, line := range netDev {
		if name == "lo" {
			continue
		}
		sample.NetBytesSent += line.TxBytes
		sample.NetBytesRecv += line.RxBytes
	}

	if info, err := h.fs.CPUInfo(); err == nil && len(info) > 0 {
		total := 0.0
		for _, cpu := range info {
			total += cpu.CPUMHz
		}
		sample.CPUFrequencyMHz = total / float64(len(info))
	}

	if h.cfg.TopProcesses > 0 {
		sample.Processes = h.topProcesses(sample.MemoryTotalBytes, elapsedCPU/float64(max(1, len(stat.CPU))))
	}
	return sample, nil
}

// topProcesses ranks processes by resident memory. CPU share is measured
// against the wall time covered by the last stat delta.
func (h *HostSource) topProcesses(memTotal uint64, elapsedSeconds float64) []models.ProcessSample {
	procs, err := h.fs.AllProcs()
	if err != nil {
		h.logger.Debug("process listing failed", slog.Any("error", err))
		return nil
	}
	seen := make(map[int]float64, len(procs))
	out := make([]models.ProcessSample, 0, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		cpuTime := stat.CPUTime()
		seen[p.PID] = cpuTime

		ps := models.ProcessSample{PID: int32(p.PID), Name: stat.Comm}
		if memTotal > 0 {
			ps.MemoryPercent = float64(stat.ResidentMemory()) / float64(memTotal) * 100
		}
		if prev, ok := h.prevProc[p.PID]; ok && elapsedSeconds > 0 && cpuTime >= prev {
			ps.CPUPercent = (cpuTime - prev) / elapsedSeconds * 100
		}
		out = append(out, ps)
	}
	h.prevProc = seen

	sort.Slice(out, func(i, j int) bool { return out[i].MemoryPercent > out[j].MemoryPercent })
	if len(out) > h.cfg.TopProcesses {
		out = out[:h.cfg.TopProcesses]
	}
	return out
}

func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

func cpuPercent(prev, cur procfs.CPUStat) float64 {
	total := cpuTotal(cur) - cpuTotal(prev)
	if total <= 0 {
		return 0
	}
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	busy := total - idle
	if busy < 0 {
		busy = 0
	}
	return busy / total * 100
}
