package detector

import (
	"math"
	"math/rand"
	"testing"
)

func TestAveragePathLength(t *testing.T) {
	if got := averagePathLength(1); got != 0 {
		t.Fatalf("c(1) = %v, want 0", got)
	}
	if got := averagePathLength(2); got != 1 {
		t.Fatalf("c(2) = %v, want 1", got)
	}
	want := 2*(math.Log(255)+eulerGamma) - 2*255.0/256.0
	if got := averagePathLength(256); math.Abs(got-want) > 1e-12 {
		t.Fatalf("c(256) = %v, want %v", got, want)
	}
}

func TestPercentileInterpolates(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	if got := percentile(values, 50); got != 2.5 {
		t.Fatalf("median = %v, want 2.5", got)
	}
	if got := percentile(values, 0); got != 1 {
		t.Fatalf("p0 = %v, want 1", got)
	}
	if got := percentile(values, 100); got != 4 {
		t.Fatalf("p100 = %v, want 4", got)
	}
}

func TestForestIsolatesOutlierFaster(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 64)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}
	forest := fitForest(data, 100, 256, rand.New(rand.NewSource(42)))

	inlier := forest.meanPathLength([]float64{0, 0})
	outlier := forest.meanPathLength([]float64{8, -8})
	if outlier >= inlier {
		t.Fatalf("expected outlier path %.2f < inlier path %.2f", outlier, inlier)
	}
	if forest.score([]float64{8, -8}) >= forest.score([]float64{0, 0}) {
		t.Fatalf("expected outlier score to be more negative")
	}
}

func TestConstantFeaturesProduceLeaves(t *testing.T) {
	data := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	tree := buildTree(data, 0, 4, rand.New(rand.NewSource(1)))
	if !tree.leaf || tree.size != 4 {
		t.Fatalf("expected single leaf of size 4, got leaf=%v size=%d", tree.leaf, tree.size)
	}
}

func TestScalerHandlesConstantColumn(t *testing.T) {
	sc := fitScaler([][]float64{{1, 5}, {3, 5}})
	out := sc.transform([]float64{2, 7})
	if out[0] != 0 {
		t.Fatalf("expected centred value 0, got %v", out[0])
	}
	if out[1] != 2 {
		t.Fatalf("expected constant column scaled by 1, got %v", out[1])
	}
}
