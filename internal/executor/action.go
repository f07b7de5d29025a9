// Package executor turns decisions into recovery steps and runs them.
package executor

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// StepKind names one concrete recovery step.
type StepKind string

const (
	StepScaleUp        StepKind = "scale_up"
	StepScaleDown      StepKind = "scale_down"
	StepRestartService StepKind = "restart_service"
	StepOptimizeMemory StepKind = "optimize_memory"
	StepOptimizeCPU    StepKind = "optimize_cpu"
	StepOptimizeDisk   StepKind = "optimize_disk"
	StepNotify         StepKind = "notify"
)

// Status is the lifecycle state of a step or of a whole plan.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// RecoveryAction is one planned step.
type RecoveryAction struct {
	ID            string    `json:"id" yaml:"-"`
	Kind          StepKind  `json:"kind" yaml:"kind"`
	Instances     int       `json:"instances,omitempty" yaml:"instances"`
	MemoryPercent int       `json:"memory_percent,omitempty" yaml:"memoryPercent"`
	TargetPercent int       `json:"target_percent,omitempty" yaml:"targetPercent"`
	Service       string    `json:"service,omitempty" yaml:"service"`
	Status        Status    `json:"status" yaml:"-"`
	Detail        string    `json:"detail,omitempty" yaml:"-"`
	StartedAt     time.Time `json:"started_at,omitempty" yaml:"-"`
	FinishedAt    time.Time `json:"finished_at,omitempty" yaml:"-"`
}

// Result is what an executor reports back for one decision.
type Result struct {
	Status  Status           `json:"status"`
	Detail  string           `json:"detail"`
	Misfire bool             `json:"misfire,omitempty"`
	Steps   []RecoveryAction `json:"steps"`
}

// Verdict maps a result onto adaptation feedback: success confirms the
// decision, an explicit misfire refutes it, any other failure is neutral.
func (r Result) Verdict() models.Verdict {
	switch {
	case r.Misfire:
		return models.VerdictIncorrect
	case r.Status == StatusSuccess:
		return models.VerdictCorrect
	default:
		return models.VerdictNeutral
	}
}

// Executor carries out an actionable decision.
type Executor interface {
	Execute(ctx context.Context, d models.Decision) (Result, error)
}
