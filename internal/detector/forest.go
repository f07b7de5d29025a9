package detector

import (
	"math"
	"math/rand"
)

// eulerGamma approximates the harmonic number H(n) ~ ln(n) + gamma.
const eulerGamma = 0.5772156649

// isolationTree is one node of an isolation tree. Internal nodes remember the
// range their training data spanned on the split feature.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	lower        float64
	upper        float64
	left         *isolationTree
	right        *isolationTree
	size         int
	leaf         bool
}

// isolationForest is an immutable ensemble once fitted.
type isolationForest struct {
	trees         []*isolationTree
	subSampleSize int
	maxDepth      int
	normaliser    float64
}

// fitForest grows numTrees trees, each on a subsample of at most maxSamples rows
// drawn without replacement.
func fitForest(data [][]float64, numTrees, maxSamples int, rng *rand.Rand) *isolationForest {
	subSample := maxSamples
	if subSample <= 0 || subSample > len(data) {
		subSample = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subSample))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	f := &isolationForest{
		trees:         make([]*isolationTree, 0, numTrees),
		subSampleSize: subSample,
		maxDepth:      maxDepth,
		normaliser:    averagePathLength(subSample),
	}

	indices := make([]int, len(data))
	for i := 0; i < numTrees; i++ {
		for j := range indices {
			indices[j] = j
		}
		// partial Fisher-Yates: the first subSample slots end up uniformly drawn
		for j := 0; j < subSample; j++ {
			k := j + rng.Intn(len(indices)-j)
			indices[j], indices[k] = indices[k], indices[j]
		}
		sample := make([][]float64, subSample)
		for j := 0; j < subSample; j++ {
			sample[j] = data[indices[j]]
		}
		f.trees = append(f.trees, buildTree(sample, 0, maxDepth, rng))
	}
	return f
}

func buildTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *isolationTree {
	if len(data) <= 1 || depth >= maxDepth {
		return &isolationTree{size: len(data), leaf: true}
	}

	candidates := varyingFeatures(data)
	if len(candidates) == 0 {
		return &isolationTree{size: len(data), leaf: true}
	}

	feature := candidates[rng.Intn(len(candidates))]
	lower, upper := featureRange(data, feature)
	split := lower + rng.Float64()*(upper-lower)

	left := make([][]float64, 0, len(data))
	right := make([][]float64, 0, len(data))
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(data), leaf: true}
	}

	return &isolationTree{
		splitFeature: feature,
		splitValue:   split,
		lower:        lower,
		upper:        upper,
		left:         buildTree(left, depth+1, maxDepth, rng),
		right:        buildTree(right, depth+1, maxDepth, rng),
		size:         len(data),
	}
}

// pathLength follows x down the tree. A point further outside the node's
// training range than the range is wide is isolated at that node.
func (t *isolationTree) pathLength(x []float64, depth int) float64 {
	node := t
	for !node.leaf {
		v := x[node.splitFeature]
		width := node.upper - node.lower
		if v < node.lower-width || v > node.upper+width {
			return float64(depth + 1)
		}
		if v < node.splitValue {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// meanPathLength averages the path length of x over every tree.
func (f *isolationForest) meanPathLength(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.trees {
		total += tree.pathLength(x, 0)
	}
	return total / float64(len(f.trees))
}

// score returns -2^(-E[h]/c(psi)): values near -1 are anomalous, near -0.5 are not.
func (f *isolationForest) score(x []float64) float64 {
	if f.normaliser == 0 {
		return -0.5
	}
	return -math.Pow(2, -f.meanPathLength(x)/f.normaliser)
}

// averagePathLength is c(n), the mean unsuccessful-search path in a BST of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	harmonic := math.Log(float64(n-1)) + eulerGamma
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

func varyingFeatures(data [][]float64) []int {
	features := make([]int, 0, len(data[0]))
	for j := range data[0] {
		lower, upper := featureRange(data, j)
		if upper > lower {
			features = append(features, j)
		}
	}
	return features
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	lower, upper := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		v := row[feature]
		if v < lower {
			lower = v
		}
		if v > upper {
			upper = v
		}
	}
	return lower, upper
}
