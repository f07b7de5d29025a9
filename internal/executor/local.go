package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// LocalConfig configures LocalExecutor.
type LocalConfig struct {
	InitialInstances int
	MaxInstances     int
	// DryRun plans and records steps without touching the instance counter.
	DryRun bool
}

// Option customizes a LocalExecutor.
type Option func(*LocalExecutor)

// WithClock overrides the clock used for step timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *LocalExecutor) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *LocalExecutor) { e.logger = logger }
}

// LocalExecutor simulates recovery against an in-process instance counter.
type LocalExecutor struct {
	cfg     LocalConfig
	planner *Planner
	clock   clock.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	instances int
	stats     map[StepKind]*stepStats
	total     int
	succeeded int
}

type stepStats struct {
	total, succeeded int
}

// Stats summarizes executed steps.
type Stats struct {
	Total       int                  `json:"total"`
	Successful  int                  `json:"successful"`
	Failed      int                  `json:"failed"`
	SuccessRate float64              `json:"success_rate"`
	ByKind      map[StepKind]int     `json:"by_kind"`
	KindRates   map[StepKind]float64 `json:"kind_success_rate"`
	Instances   int                  `json:"instances"`
	Kinds       []StepKind           `json:"kinds"`
}

// NewLocalExecutor builds an executor that plans with planner.
func NewLocalExecutor(cfg LocalConfig, planner *Planner, opts ...Option) (*LocalExecutor, error) {
	if cfg.MaxInstances < 1 {
		return nil, fmt.Errorf("maxInstances must be at least 1, got %d", cfg.MaxInstances)
	}
	if cfg.InitialInstances < 1 {
		cfg.InitialInstances = 1
	}
	if cfg.InitialInstances > cfg.MaxInstances {
		return nil, fmt.Errorf("initial instances %d exceed maxInstances %d", cfg.InitialInstances, cfg.MaxInstances)
	}
	if planner == nil {
		planner = NewPlanner(nil)
	}
	e := &LocalExecutor{
		cfg:       cfg,
		planner:   planner,
		clock:     clock.New(),
		logger:    slog.Default(),
		instances: cfg.InitialInstances,
		stats:     make(map[StepKind]*stepStats),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Instances returns the current simulated instance count.
func (e *LocalExecutor) Instances() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instances
}

// Execute plans d and runs each step in order. A failing step does not stop
// later steps; the result fails when any step failed.
func (e *LocalExecutor) Execute(ctx context.Context, d models.Decision) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := e.planner.Plan(d, e.instances)
	if len(steps) == 0 {
		return Result{Status: StatusSuccess, Detail: "no steps planned"}, nil
	}

	result := Result{Status: StatusSuccess, Steps: steps}
	failed := 0
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		step := &steps[i]
		step.StartedAt = e.clock.Now()
		detail, misfire, err := e.run(*step)
		step.FinishedAt = e.clock.Now()
		e.count(step.Kind, err == nil)
		if err != nil {
			step.Status = StatusFailure
			step.Detail = err.Error()
			failed++
			if misfire {
				result.Misfire = true
			}
			e.logger.Warn("recovery step failed", slog.String("step", step.ID), slog.Any("error", err))
			continue
		}
		step.Status = StatusSuccess
		step.Detail = detail
		e.logger.Info("recovery step executed", slog.String("step", step.ID), slog.String("detail", detail))
	}

	if failed > 0 {
		result.Status = StatusFailure
		result.Detail = fmt.Sprintf("%d/%d steps failed", failed, len(steps))
	} else {
		result.Detail = fmt.Sprintf("%d steps executed", len(steps))
	}
	return result, nil
}

// run applies one step. misfire marks failures caused by the decision itself
// rather than by the environment.
func (e *LocalExecutor) run(step RecoveryAction) (detail string, misfire bool, err error) {
	switch step.Kind {
	case StepScaleUp:
		target := e.instances + step.Instances
		if target > e.cfg.MaxInstances {
			return "", false, fmt.Errorf("scale up by %d would exceed %d instances", step.Instances, e.cfg.MaxInstances)
		}
		if !e.cfg.DryRun {
			e.instances = target
		}
		return fmt.Sprintf("scaled up by %d instances", step.Instances), false, nil
	case StepScaleDown:
		if e.instances-step.Instances < 1 {
			return "", true, fmt.Errorf("cannot scale below one instance")
		}
		if !e.cfg.DryRun {
			e.instances -= step.Instances
		}
		return fmt.Sprintf("scaled down by %d instances", step.Instances), false, nil
	case StepRestartService:
		return fmt.Sprintf("service %s restarted", step.Service), false, nil
	case StepOptimizeMemory:
		return fmt.Sprintf("memory optimized, target %d%%", step.TargetPercent), false, nil
	case StepOptimizeCPU:
		return "cpu utilization optimized", false, nil
	case StepOptimizeDisk:
		return "disk space optimized", false, nil
	case StepNotify:
		return "alert raised", false, nil
	}
	return "", false, fmt.Errorf("unknown step kind %q", step.Kind)
}

func (e *LocalExecutor) count(kind StepKind, ok bool) {
	s, found := e.stats[kind]
	if !found {
		s = &stepStats{}
		e.stats[kind] = s
	}
	s.total++
	e.total++
	if ok {
		s.succeeded++
		e.succeeded++
	}
}

// Stats returns a snapshot of step statistics.
func (e *LocalExecutor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Stats{
		Total:      e.total,
		Successful: e.succeeded,
		Failed:     e.total - e.succeeded,
		ByKind:     make(map[StepKind]int, len(e.stats)),
		KindRates:  make(map[StepKind]float64, len(e.stats)),
		Instances:  e.instances,
	}
	if e.total > 0 {
		out.SuccessRate = float64(e.succeeded) / float64(e.total)
	}
	for kind, s := range e.stats {
		out.ByKind[kind] = s.total
		out.KindRates[kind] = float64(s.succeeded) / float64(s.total)
		out.Kinds = append(out.Kinds, kind)
	}
	sort.Slice(out.Kinds, func(i, j int) bool { return out.Kinds[i] < out.Kinds[j] })
	return out
}
