package decision

import (
	"math"
	"sort"

	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/severity"
)

// Statistics summarises every decision made since the engine started.
type Statistics struct {
	Total            int                 `json:"total"`
	ByAction         map[string]int      `json:"by_action"`
	BySeverity       map[string]int      `json:"by_severity"`
	MostCommonAction string              `json:"most_common_action"`
	MeanConfidence   float64             `json:"mean_confidence"`
	MinConfidence    float64             `json:"min_confidence"`
	MaxConfidence    float64             `json:"max_confidence"`
	Alerts           int                 `json:"alerts"`
	Suppressed       int                 `json:"suppressed"`
	Bias             float64             `json:"bias"`
	Thresholds       severity.Thresholds `json:"thresholds"`
	State            models.SystemState  `json:"state"`
	Policy           PolicyEvaluation    `json:"policy"`
}

type counters struct {
	total      int
	byAction   map[models.Action]int
	bySeverity map[models.Severity]int
	sumConf    float64
	minConf    float64
	maxConf    float64
	alerts     int
	suppressed int
}

func newCounters() counters {
	return counters{
		byAction:   make(map[models.Action]int),
		bySeverity: make(map[models.Severity]int),
		minConf:    math.Inf(1),
		maxConf:    math.Inf(-1),
	}
}

func (c *counters) add(d models.Decision) {
	c.total++
	c.byAction[d.Action]++
	c.bySeverity[d.Severity]++
	c.sumConf += d.Confidence
	c.minConf = math.Min(c.minConf, d.Confidence)
	c.maxConf = math.Max(c.maxConf, d.Confidence)
	if d.Alert {
		c.alerts++
	}
	if d.Suppressed {
		c.suppressed++
	}
}

// Statistics returns a read-only summary; it never mutates engine state.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.stats
	out := Statistics{
		Total:      c.total,
		ByAction:   make(map[string]int, len(c.byAction)),
		BySeverity: make(map[string]int, len(c.bySeverity)),
		Alerts:     c.alerts,
		Suppressed: c.suppressed,
		Bias:       e.bias,
		Thresholds: e.classifier.Thresholds(),
		State:      e.state,
		Policy:     EvaluatePolicy(e.state),
	}
	if c.total == 0 {
		return out
	}

	for action, n := range c.byAction {
		out.ByAction[action.String()] = n
	}
	for sev, n := range c.bySeverity {
		out.BySeverity[sev.String()] = n
	}
	out.MeanConfidence = c.sumConf / float64(c.total)
	out.MinConfidence = c.minConf
	out.MaxConfidence = c.maxConf
	out.MostCommonAction = mostCommon(c.byAction)
	return out
}

// mostCommon breaks ties by declaration order of the actions.
func mostCommon(byAction map[models.Action]int) string {
	actions := make([]models.Action, 0, len(byAction))
	for a := range byAction {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if byAction[actions[i]] != byAction[actions[j]] {
			return byAction[actions[i]] > byAction[actions[j]]
		}
		return actions[i] < actions[j]
	})
	return actions[0].String()
}
