package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"
)

// snapshotFormat is bumped whenever the persisted layout changes.
const snapshotFormat = 1

// ErrInvalidSnapshot is wrapped by every Load failure caused by the snapshot contents.
var ErrInvalidSnapshot = errors.New("invalid model snapshot")

type snapshot struct {
	Format        int            `json:"format"`
	FeatureNames  []string       `json:"feature_names"`
	Mean          []float64      `json:"mean"`
	Std           []float64      `json:"std"`
	Threshold     float64        `json:"threshold"`
	Spread        float64        `json:"spread"`
	SampleCount   int            `json:"sample_count"`
	Contamination float64        `json:"contamination"`
	TrainedAt     time.Time      `json:"trained_at"`
	SubSampleSize int            `json:"sub_sample_size"`
	MaxDepth      int            `json:"max_depth"`
	Trees         [][]nodeRecord `json:"trees"`
}

// nodeRecord is one tree node in pre-order. Left and Right index into the
// same tree's slice and are -1 on leaves.
type nodeRecord struct {
	Feature int     `json:"f,omitempty"`
	Split   float64 `json:"s,omitempty"`
	Lower   float64 `json:"lo,omitempty"`
	Upper   float64 `json:"hi,omitempty"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

// Save writes the installed model to w as JSON.
func (s *Scorer) Save(w io.Writer) error {
	state := s.state.Load()
	if state == nil {
		return ErrModelNotTrained
	}
	snap := snapshot{
		Format:        snapshotFormat,
		FeatureNames:  state.featureNames,
		Mean:          state.scaler.mean,
		Std:           state.scaler.std,
		Threshold:     state.threshold,
		Spread:        state.spread,
		SampleCount:   state.sampleCount,
		Contamination: state.contamination,
		TrainedAt:     state.trainedAt,
		SubSampleSize: state.forest.subSampleSize,
		MaxDepth:      state.forest.maxDepth,
		Trees:         make([][]nodeRecord, 0, len(state.forest.trees)),
	}
	for _, tree := range state.forest.trees {
		snap.Trees = append(snap.Trees, flattenTree(tree, nil))
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode model snapshot: %w", err)
	}
	return nil
}

// Load reads a model written by Save and installs it. When featureNames is
// non-nil the model must have been trained on exactly that layout. The loaded
// model gets a fresh local version; on any error the current model stays in
// place.
func (s *Scorer) Load(r io.Reader, featureNames []string) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := snap.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if featureNames != nil {
		if len(featureNames) != len(snap.Mean) {
			return &FeatureShapeMismatchError{Got: len(snap.Mean), Want: len(featureNames)}
		}
		if !slices.Equal(featureNames, snap.FeatureNames) {
			return fmt.Errorf("%w: feature layout differs from %v", ErrInvalidSnapshot, featureNames)
		}
	}

	forest := &isolationForest{
		trees:         make([]*isolationTree, 0, len(snap.Trees)),
		subSampleSize: snap.SubSampleSize,
		maxDepth:      snap.MaxDepth,
		normaliser:    averagePathLength(snap.SubSampleSize),
	}
	for i, nodes := range snap.Trees {
		tree, err := buildFromRecords(nodes, 0, len(snap.Mean), 0)
		if err != nil {
			return fmt.Errorf("%w: tree %d: %v", ErrInvalidSnapshot, i, err)
		}
		forest.trees = append(forest.trees, tree)
	}

	state := &ModelState{
		forest:        forest,
		scaler:        scaler{mean: snap.Mean, std: snap.Std},
		threshold:     snap.Threshold,
		spread:        snap.Spread,
		featureNames:  snap.FeatureNames,
		sampleCount:   snap.SampleCount,
		contamination: snap.Contamination,
		trainedAt:     snap.TrainedAt,
		version:       s.version.Add(1),
	}
	s.state.Store(state)

	s.logger.Info("anomaly model loaded",
		slog.Int("samples", state.sampleCount),
		slog.Int("features", len(state.scaler.mean)),
		slog.Time("trained_at", state.trainedAt),
		slog.Uint64("version", state.version),
	)
	return nil
}

// FeatureNames returns the feature layout of the installed model.
func (s *Scorer) FeatureNames() []string {
	state := s.state.Load()
	if state == nil {
		return nil
	}
	return append([]string(nil), state.featureNames...)
}

func (snap *snapshot) validate() error {
	width := len(snap.Mean)
	switch {
	case snap.Format != snapshotFormat:
		return fmt.Errorf("unsupported format %d", snap.Format)
	case width == 0:
		return errors.New("no features")
	case len(snap.Std) != width:
		return fmt.Errorf("std has %d entries, mean has %d", len(snap.Std), width)
	case len(snap.FeatureNames) != width:
		return fmt.Errorf("%d feature names for %d features", len(snap.FeatureNames), width)
	case len(snap.Trees) == 0:
		return errors.New("no trees")
	case snap.SubSampleSize < 1:
		return fmt.Errorf("sub-sample size %d", snap.SubSampleSize)
	case !(snap.Spread > 0) || math.IsInf(snap.Spread, 0):
		return fmt.Errorf("score spread %v", snap.Spread)
	case math.IsNaN(snap.Threshold) || math.IsInf(snap.Threshold, 0):
		return fmt.Errorf("threshold %v", snap.Threshold)
	}
	for j, sd := range snap.Std {
		if !(sd > 0) {
			return fmt.Errorf("std[%d] is %v", j, sd)
		}
	}
	return nil
}

func flattenTree(t *isolationTree, out []nodeRecord) []nodeRecord {
	idx := len(out)
	out = append(out, nodeRecord{Left: -1, Right: -1, Size: t.size})
	if t.leaf {
		return out
	}
	out[idx].Feature = t.splitFeature
	out[idx].Split = t.splitValue
	out[idx].Lower = t.lower
	out[idx].Upper = t.upper
	out[idx].Left = len(out)
	out = flattenTree(t.left, out)
	out[idx].Right = len(out)
	return flattenTree(t.right, out)
}

// buildFromRecords rebuilds the subtree rooted at nodes[i]. Children must come
// after their parent, which also rules out cycles.
func buildFromRecords(nodes []nodeRecord, i, width, depth int) (*isolationTree, error) {
	if i < 0 || i >= len(nodes) {
		return nil, fmt.Errorf("node index %d out of range", i)
	}
	if depth > len(nodes) {
		return nil, errors.New("tree deeper than its node count")
	}
	n := nodes[i]
	if n.Left == -1 && n.Right == -1 {
		return &isolationTree{size: n.Size, leaf: true}, nil
	}
	if n.Left <= i || n.Right <= i {
		return nil, fmt.Errorf("node %d has backward child reference", i)
	}
	if n.Feature < 0 || n.Feature >= width {
		return nil, fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, width)
	}
	left, err := buildFromRecords(nodes, n.Left, width, depth+1)
	if err != nil {
		return nil, err
	}
	right, err := buildFromRecords(nodes, n.Right, width, depth+1)
	if err != nil {
		return nil, err
	}
	return &isolationTree{
		splitFeature: n.Feature,
		splitValue:   n.Split,
		lower:        n.Lower,
		upper:        n.Upper,
		left:         left,
		right:        right,
		size:         n.Size,
	}, nil
}
