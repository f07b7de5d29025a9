package executor

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

const (
	healthMonitorService = "health-monitor"
	applicationService   = "application"
	memoryTargetPercent  = 60
)

// Planner expands a decision into ordered recovery steps.
type Planner struct {
	overrides *PlanOverrides
}

// NewPlanner returns a planner. overrides may be nil.
func NewPlanner(overrides *PlanOverrides) *Planner {
	return &Planner{overrides: overrides}
}

// Plan returns the steps for d given the current instance count. A monitor
// decision yields no steps.
func (p *Planner) Plan(d models.Decision, instances int) []RecoveryAction {
	var steps []RecoveryAction
	switch d.Action {
	case models.ActionMonitor:
		return nil
	case models.ActionScaleUp:
		step := RecoveryAction{Kind: StepScaleUp, Instances: scaleUpInstances(d, instances), MemoryPercent: 20}
		if d.Alert {
			step.MemoryPercent = 50
		}
		steps = append(steps, step)
	case models.ActionScaleDown:
		steps = append(steps, RecoveryAction{Kind: StepScaleDown, Instances: 1})
	case models.ActionRestart:
		steps = append(steps, RecoveryAction{Kind: StepRestartService, Service: applicationService})
	case models.ActionOptimizeMemory:
		if d.Target == models.ResourceDisk {
			steps = append(steps, RecoveryAction{Kind: StepOptimizeDisk})
		} else {
			steps = append(steps, RecoveryAction{Kind: StepOptimizeMemory, TargetPercent: memoryTargetPercent})
		}
	case models.ActionOptimizeCPU:
		steps = append(steps, RecoveryAction{Kind: StepOptimizeCPU})
	}

	if d.Alert {
		steps = append(steps,
			RecoveryAction{Kind: StepRestartService, Service: healthMonitorService},
			RecoveryAction{Kind: StepNotify},
		)
	}
	steps = appendUnique(steps, p.overrides.Steps(d)...)

	for i := range steps {
		steps[i].ID = fmt.Sprintf("%s-%d-%d", steps[i].Kind, d.Timestamp.UnixNano(), i)
		steps[i].Status = StatusPending
	}
	return steps
}

// scaleUpInstances prefers an explicit instance count and otherwise grows the
// current fleet by the scale factor, adding at least one instance.
func scaleUpInstances(d models.Decision, current int) int {
	if d.AddInstances > 0 {
		return d.AddInstances
	}
	if current < 1 {
		current = 1
	}
	factor := d.ScaleFactor
	if factor <= 1 {
		return 1
	}
	add := int(math.Ceil(float64(current)*factor)) - current
	return max(1, add)
}
