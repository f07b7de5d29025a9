package monitor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// Scenario names a synthetic workload shape.
type Scenario string

const (
	ScenarioNormal       Scenario = "normal"
	ScenarioCPUSpike     Scenario = "cpu_spike"
	ScenarioMemoryLeak   Scenario = "memory_leak"
	ScenarioNetworkBurst Scenario = "network_burst"
	ScenarioDiskFull     Scenario = "disk_full"
	ScenarioCombined     Scenario = "combined"
)

// Scenarios lists every supported scenario.
var Scenarios = []Scenario{
	ScenarioNormal, ScenarioCPUSpike, ScenarioMemoryLeak,
	ScenarioNetworkBurst, ScenarioDiskFull, ScenarioCombined,
}

// ParseScenario resolves a scenario name.
func ParseScenario(name string) (Scenario, error) {
	for _, s := range Scenarios {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown scenario %q", name)
}

const (
	syntheticMemoryTotal = 8 << 30
	syntheticDiskTotal   = 256 << 30
	syntheticCPUMHz      = 2400
)

// SyntheticConfig configures SyntheticSource.
type SyntheticConfig struct {
	Scenario Scenario
	Seed     int64
	// Start is the timestamp of the first sample.
	Start    time.Time
	Interval time.Duration
	// AnomalyStart is the index of the first anomalous sample.
	AnomalyStart int
	// AnomalyDuration bounds spike and burst scenarios.
	AnomalyDuration int
	// Length is the horizon used by progressive scenarios (disk_full, combined).
	Length int
}

// DefaultSyntheticConfig starts anomalies at sample 50 over a 100 sample horizon.
func DefaultSyntheticConfig(s Scenario, seed int64) SyntheticConfig {
	return SyntheticConfig{
		Scenario:        s,
		Seed:            seed,
		Start:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:        time.Second,
		AnomalyStart:    50,
		AnomalyDuration: 10,
		Length:          100,
	}
}

// SyntheticSource generates reproducible samples. Timestamps advance by
// Interval per call and do not depend on wall time.
type SyntheticSource struct {
	cfg SyntheticConfig

	mu    sync.Mutex
	rng   *rand.Rand
	index int
	sent  float64
	recv  float64
}

// NewSyntheticSource validates cfg and returns a generator positioned at index 0.
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	if _, err := ParseScenario(string(cfg.Scenario)); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("synthetic interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Length <= 0 {
		cfg.Length = 100
	}
	if cfg.AnomalyDuration <= 0 {
		cfg.AnomalyDuration = 10
	}
	if cfg.AnomalyStart < 0 {
		cfg.AnomalyStart = 0
	}
	if cfg.Start.IsZero() {
		cfg.Start = DefaultSyntheticConfig(cfg.Scenario, cfg.Seed).Start
	}
	return &SyntheticSource{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		sent: 1e6,
		recv: 1e6,
	}, nil
}

// Sample returns the next generated sample.
func (s *SyntheticSource) Sample(ctx context.Context) (models.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return models.RawSample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := s.next()
	s.index++
	return sample, nil
}

// ContinueFrom restarts the generator right after last: the next sample is
// one interval later and the network counters carry on from last's values.
func (s *SyntheticSource) ContinueFrom(last models.RawSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Start = last.Timestamp.Add(s.cfg.Interval)
	s.index = 0
	s.sent = float64(last.NetBytesSent)
	s.recv = float64(last.NetBytesRecv)
}

// Take generates n consecutive samples.
func (s *SyntheticSource) Take(n int) []models.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RawSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.next())
		s.index++
	}
	return out
}

func (s *SyntheticSource) next() models.RawSample {
	i := s.index
	cpu := s.normal(35, 10)
	mem := s.normal(45, 8)
	disk := s.normal(50, 5)
	sendRate := s.normal(1e4, 2e3)
	recvRate := s.normal(1e4, 2e3)

	switch s.cfg.Scenario {
	case ScenarioCPUSpike:
		if s.inWindow(i, s.cfg.AnomalyStart, s.cfg.AnomalyDuration) {
			cpu = s.normal(85, 5)
		}
	case ScenarioMemoryLeak:
		if i >= s.cfg.AnomalyStart {
			mem = math.Min(95, 45+float64(i-s.cfg.AnomalyStart)*0.5)
		}
	case ScenarioNetworkBurst:
		if s.inWindow(i, s.cfg.AnomalyStart, s.cfg.AnomalyDuration) {
			sendRate = s.normal(5e8, 1e8)
			recvRate = s.normal(5e8, 1e8)
		}
	case ScenarioDiskFull:
		progress := math.Min(1, float64(i)/float64(s.cfg.Length))
		disk = 50 + progress*45
	case ScenarioCombined:
		start := s.cfg.AnomalyStart
		if s.inWindow(i, start-20, 20) {
			cpu = s.normal(82, 5)
		}
		if i >= start {
			span := math.Max(1, float64(s.cfg.Length-start))
			mem = 45 + math.Min(1, float64(i-start)/span)*40
		}
		if s.inWindow(i, start-10, 20) {
			sendRate = s.normal(5e8, 1e8)
		}
	}

	secs := s.cfg.Interval.Seconds()
	s.sent += math.Max(0, sendRate) * secs
	s.recv += math.Max(0, recvRate) * secs

	return models.RawSample{
		Timestamp:        s.cfg.Start.Add(time.Duration(i) * s.cfg.Interval),
		CPUPercent:       clampPercent(cpu),
		CPUFrequencyMHz:  syntheticCPUMHz,
		MemoryUsedBytes:  uint64(clampPercent(mem) / 100 * syntheticMemoryTotal),
		MemoryTotalBytes: syntheticMemoryTotal,
		DiskUsedBytes:    uint64(clampPercent(disk) / 100 * syntheticDiskTotal),
		DiskTotalBytes:   syntheticDiskTotal,
		NetBytesSent:     uint64(s.sent),
		NetBytesRecv:     uint64(s.recv),
	}
}

func (s *SyntheticSource) inWindow(i, start, length int) bool {
	return i >= start && i < start+length
}

func (s *SyntheticSource) normal(mean, std float64) float64 {
	return mean + s.rng.NormFloat64()*std
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
