package engine

import (
	"github.com/miradorstack/mirador-adapt/internal/decision"
	"github.com/miradorstack/mirador-adapt/internal/detector"
	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/utils"
)

// Statistics is a read-only view of pipeline activity.
type Statistics struct {
	Processed         int                  `json:"samples_processed"`
	Skipped           int                  `json:"samples_skipped"`
	Anomalies         int                  `json:"anomalies_detected"`
	MonitorPauses     int                  `json:"monitor_pauses"`
	Executions        int                  `json:"executions"`
	ExecutionFailures int                  `json:"execution_failures"`
	Exported          int                  `json:"exported"`
	ExportDropped     uint64               `json:"export_dropped"`
	Buffered          int                  `json:"buffered_samples"`
	Latency           utils.LatencySummary `json:"latency"`
	Model             *detector.Metadata   `json:"model,omitempty"`
	Decisions         decision.Statistics  `json:"decisions"`
}

// Statistics snapshots counters from the pipeline and its collaborators.
func (p *Pipeline) Statistics() Statistics {
	p.mu.Lock()
	stats := Statistics{
		Processed:         p.counters.processed,
		Skipped:           p.counters.skipped,
		Anomalies:         p.counters.anomalies,
		MonitorPauses:     p.counters.pauses,
		Executions:        p.counters.executions,
		ExecutionFailures: p.counters.executionFailures,
		Exported:          p.counters.exported,
		Buffered:          len(p.buffer),
	}
	p.mu.Unlock()

	stats.Latency = p.latency.Summary()
	stats.Decisions = p.deps.Decider.Statistics()
	if p.deps.Exporter != nil {
		stats.ExportDropped = p.deps.Exporter.Dropped()
	}
	if meta, err := p.deps.Scorer.Metadata(); err == nil {
		stats.Model = &meta
	}
	return stats
}

// RecentDecisions returns up to n of the newest decisions, oldest first.
func (p *Pipeline) RecentDecisions(n int) []models.Decision {
	history := p.deps.Decider.History()
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// Trained reports whether a model is installed.
func (p *Pipeline) Trained() bool {
	return p.deps.Scorer.Trained()
}
