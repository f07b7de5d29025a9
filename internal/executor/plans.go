package executor

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// PlanOverrides appends operator-defined steps to generated plans.
type PlanOverrides struct {
	plans  []Plan
	logger *slog.Logger
}

// Plan is a single override entry.
type Plan struct {
	ID    string           `yaml:"id"`
	Match PlanMatch        `yaml:"match"`
	Steps []RecoveryAction `yaml:"steps"`
}

// PlanMatch lists optional attributes a decision must carry. Empty fields match anything.
type PlanMatch struct {
	Action   string `yaml:"action"`
	Severity string `yaml:"severity"`
	Target   string `yaml:"target"`
}

// PlanFile is the YAML root structure.
type PlanFile struct {
	Plans []Plan `yaml:"plans"`
}

// LoadPlans reads overrides from path. An empty path or a missing file yields nil overrides.
func LoadPlans(path string, logger *slog.Logger) (*PlanOverrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file PlanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range file.Plans {
		for _, step := range p.Steps {
			if !knownStep(step.Kind) {
				logger.Warn("plan override references unknown step", slog.String("plan", p.ID), slog.String("kind", string(step.Kind)))
			}
		}
	}
	return &PlanOverrides{plans: file.Plans, logger: logger}, nil
}

// Steps returns the extra steps of every plan matching d, in file order.
func (o *PlanOverrides) Steps(d models.Decision) []RecoveryAction {
	if o == nil {
		return nil
	}
	var out []RecoveryAction
	for _, p := range o.plans {
		if !p.Match.matches(d) {
			continue
		}
		for _, step := range p.Steps {
			if knownStep(step.Kind) {
				out = append(out, step)
			}
		}
	}
	return out
}

func (m PlanMatch) matches(d models.Decision) bool {
	if m.Action != "" && !strings.EqualFold(m.Action, d.Action.String()) {
		return false
	}
	if m.Severity != "" && !strings.EqualFold(m.Severity, d.Severity.String()) {
		return false
	}
	if m.Target != "" && !strings.EqualFold(m.Target, string(d.Target)) {
		return false
	}
	return true
}

func knownStep(k StepKind) bool {
	switch k {
	case StepScaleUp, StepScaleDown, StepRestartService, StepOptimizeMemory,
		StepOptimizeCPU, StepOptimizeDisk, StepNotify:
		return true
	}
	return false
}

// appendUnique appends steps whose kind and service are not already planned.
func appendUnique(existing []RecoveryAction, additions ...RecoveryAction) []RecoveryAction {
	type key struct {
		kind    StepKind
		service string
	}
	seen := make(map[key]struct{}, len(existing))
	for _, s := range existing {
		seen[key{s.Kind, s.Service}] = struct{}{}
	}
	for _, s := range additions {
		k := key{s.Kind, s.Service}
		if _, ok := seen[k]; ok {
			continue
		}
		existing = append(existing, s)
		seen[k] = struct{}{}
	}
	return existing
}
