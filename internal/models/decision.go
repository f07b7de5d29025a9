package models

import (
	"fmt"
	"strings"
	"time"
)

// Action is the closed set of mitigations a decision can carry.
type Action int

const (
	ActionMonitor Action = iota
	ActionScaleUp
	ActionScaleDown
	ActionRestart
	ActionOptimizeMemory
	ActionOptimizeCPU
)

// Actions lists every action.
var Actions = []Action{
	ActionMonitor,
	ActionScaleUp,
	ActionScaleDown,
	ActionRestart,
	ActionOptimizeMemory,
	ActionOptimizeCPU,
}

func (a Action) String() string {
	switch a {
	case ActionMonitor:
		return "monitor"
	case ActionScaleUp:
		return "scale_up"
	case ActionScaleDown:
		return "scale_down"
	case ActionRestart:
		return "restart"
	case ActionOptimizeMemory:
		return "optimize_memory"
	case ActionOptimizeCPU:
		return "optimize_cpu"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// MarshalText renders the action name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses an action name.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction parses an action name such as "scale_up".
func ParseAction(v string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(v, a.String()) {
			return a, nil
		}
	}
	return ActionMonitor, fmt.Errorf("unknown action %q", v)
}

// Resource names the host resource a decision targets.
type Resource string

const (
	ResourceNone   Resource = ""
	ResourceCPU    Resource = "cpu"
	ResourceMemory Resource = "memory"
	ResourceDisk   Resource = "disk"
)

// Decision is the immutable output of the decision engine for one sample.
type Decision struct {
	Action       Action    `json:"action"`
	Target       Resource  `json:"target,omitempty"`
	Severity     Severity  `json:"severity"`
	Confidence   float64   `json:"confidence"`
	Probability  float64   `json:"probability"`
	Reason       string    `json:"reason"`
	ScaleFactor  float64   `json:"scale_factor,omitempty"`
	AddInstances int       `json:"add_instances,omitempty"`
	Alert        bool      `json:"alert,omitempty"`
	Suppressed   bool      `json:"suppressed,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Actionable reports whether the decision should be forwarded to an executor.
func (d Decision) Actionable() bool {
	return d.Action != ActionMonitor
}

// SystemState is the decision engine's mutable context.
type SystemState struct {
	Instances              int       `json:"instances"`
	LastActionTime         time.Time `json:"last_action_time"`
	ConsecutiveEmergencies int       `json:"consecutive_emergencies"`
	TruePositives          int       `json:"true_positives"`
	FalsePositives         int       `json:"false_positives"`
	TrueNegatives          int       `json:"true_negatives"`
	FalseNegatives         int       `json:"false_negatives"`
	NeutralOutcomes        int       `json:"neutral_outcomes"`
}

// Verdict classifies how a decision turned out.
type Verdict int

const (
	VerdictNeutral Verdict = iota
	VerdictCorrect
	VerdictIncorrect
)

func (v Verdict) String() string {
	switch v {
	case VerdictCorrect:
		return "correct"
	case VerdictIncorrect:
		return "incorrect"
	}
	return "neutral"
}

// Outcome is the feedback used to adapt severity cutoffs.
type Outcome struct {
	Decision Decision `json:"decision"`
	Verdict  Verdict  `json:"verdict"`
	Detail   string   `json:"detail,omitempty"`
}
