// Package features turns raw host samples into fixed-order feature vectors.
package features

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// DefaultWindow is the trailing window used for rolling statistics.
const DefaultWindow = 5

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024
)

// Feature names in vector order.
const (
	CPUPercent       = "cpu_percent"
	MemoryPercent    = "memory_percent"
	DiskPercent      = "disk_percent"
	MemoryUsedMB     = "memory_used_mb"
	DiskUsedGB       = "disk_used_gb"
	NetworkSentRate  = "network_sent_rate"
	NetworkRecvRate  = "network_recv_rate"
	CPUFrequency     = "cpu_frequency"
	CPUMovingAvg     = "cpu_ma"
	MemoryMovingAvg  = "memory_ma"
	DiskMovingAvg    = "disk_ma"
	CPUStdDev        = "cpu_std"
	MemoryStdDev     = "memory_std"
	DiskStdDev       = "disk_std"
	CPURateOfChange  = "cpu_roc"
	MemoryRateChange = "memory_roc"
	DiskRateOfChange = "disk_roc"
	ResourcePressure = "resource_pressure"
	NetworkActivity  = "network_activity"
	HourOfDay        = "hour"
	MinuteOfHour     = "minute"
)

var names = []string{
	CPUPercent, MemoryPercent, DiskPercent, MemoryUsedMB, DiskUsedGB,
	NetworkSentRate, NetworkRecvRate, CPUFrequency,
	CPUMovingAvg, MemoryMovingAvg, DiskMovingAvg,
	CPUStdDev, MemoryStdDev, DiskStdDev,
	CPURateOfChange, MemoryRateChange, DiskRateOfChange,
	ResourcePressure, NetworkActivity, HourOfDay, MinuteOfHour,
}

// Groups maps each resource to the features derived from it.
var Groups = map[models.Resource][]string{
	models.ResourceCPU:    {CPUPercent, CPUMovingAvg, CPUStdDev, CPURateOfChange},
	models.ResourceMemory: {MemoryPercent, MemoryUsedMB, MemoryMovingAvg, MemoryStdDev, MemoryRateChange},
	models.ResourceDisk:   {DiskPercent, DiskUsedGB, DiskMovingAvg, DiskStdDev, DiskRateOfChange},
}

// Names returns a copy of the feature names in vector order.
func Names() []string {
	return append([]string(nil), names...)
}

// Count is the feature vector length.
func Count() int {
	return len(names)
}

// InsufficientDataError reports a sample missing a field every feature depends on.
type InsufficientDataError struct {
	Field string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: sample missing %s", e.Field)
}

// Extractor derives feature vectors from a sample history.
type Extractor struct {
	window int
}

// NewExtractor returns an extractor using the given rolling window.
func NewExtractor(window int) (*Extractor, error) {
	if window < 1 {
		return nil, fmt.Errorf("feature window must be >= 1, got %d", window)
	}
	return &Extractor{window: window}, nil
}

// Window returns the configured rolling window.
func (e *Extractor) Window() int {
	return e.window
}

// Extract builds the vector for the last sample in history. Rolling features use the
// trailing min(window, len(history)) samples; a short history never fails.
func (e *Extractor) Extract(history []models.RawSample) (models.FeatureVector, error) {
	if len(history) == 0 {
		return models.FeatureVector{}, &InsufficientDataError{Field: "sample"}
	}
	cur := history[len(history)-1]
	if err := validate(cur); err != nil {
		return models.FeatureVector{}, err
	}

	start := len(history) - e.window
	if start < 0 {
		start = 0
	}
	window := history[start:]

	cpuSeries := make([]float64, 0, len(window))
	memSeries := make([]float64, 0, len(window))
	diskSeries := make([]float64, 0, len(window))
	for _, s := range window {
		cpuSeries = append(cpuSeries, s.CPUPercent)
		memSeries = append(memSeries, s.MemoryPercent())
		diskSeries = append(diskSeries, s.DiskPercent())
	}

	cpu := cur.CPUPercent
	mem := cur.MemoryPercent()
	disk := cur.DiskPercent()

	var cpuROC, memROC, diskROC, sentRate, recvRate float64
	if len(history) > 1 {
		prev := history[len(history)-2]
		cpuROC = cpu - prev.CPUPercent
		memROC = mem - prev.MemoryPercent()
		diskROC = disk - prev.DiskPercent()

		elapsed := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		sentRate = counterRate(prev.NetBytesSent, cur.NetBytesSent, elapsed)
		recvRate = counterRate(prev.NetBytesRecv, cur.NetBytesRecv, elapsed)
	}

	values := []float64{
		cpu,
		mem,
		disk,
		float64(cur.MemoryUsedBytes) / bytesPerMB,
		float64(cur.DiskUsedBytes) / bytesPerGB,
		sentRate,
		recvRate,
		cur.CPUFrequencyMHz,
		mean(cpuSeries),
		mean(memSeries),
		mean(diskSeries),
		sampleStdDev(cpuSeries),
		sampleStdDev(memSeries),
		sampleStdDev(diskSeries),
		cpuROC,
		memROC,
		diskROC,
		0.3*cpu + 0.4*mem + 0.3*disk,
		sentRate + recvRate,
		float64(cur.Timestamp.Hour()),
		float64(cur.Timestamp.Minute()),
	}

	return models.FeatureVector{
		Timestamp: cur.Timestamp,
		Names:     Names(),
		Values:    values,
	}, nil
}

// ExtractAll returns one vector per sample, each computed over the prefix ending at it.
func (e *Extractor) ExtractAll(samples []models.RawSample) ([]models.FeatureVector, error) {
	vectors := make([]models.FeatureVector, 0, len(samples))
	for i := range samples {
		vec, err := e.Extract(samples[:i+1])
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func validate(s models.RawSample) error {
	switch {
	case s.Timestamp.IsZero():
		return &InsufficientDataError{Field: "timestamp"}
	case math.IsNaN(s.CPUPercent) || math.IsInf(s.CPUPercent, 0) || s.CPUPercent < 0:
		return &InsufficientDataError{Field: "cpu_percent"}
	case s.MemoryTotalBytes == 0:
		return &InsufficientDataError{Field: "memory_total_bytes"}
	case s.DiskTotalBytes == 0:
		return &InsufficientDataError{Field: "disk_total_bytes"}
	}
	return nil
}
