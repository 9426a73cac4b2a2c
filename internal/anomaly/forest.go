// Package anomaly fits, persists and applies the isolation-based outlier
// ensemble that flags abnormal motion patterns.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Dimensions is the width of the model input: (delta_z, dist_3d, delta_tilt).
const Dimensions = 3

const eulerGamma = 0.5772156649015329

// ForestParams controls ensemble fitting.
type ForestParams struct {
	NumTrees      int     `msgpack:"num_trees"`
	MaxSamples    int     `msgpack:"max_samples"`
	Contamination float64 `msgpack:"contamination"`
	Seed          int64   `msgpack:"seed"`
}

// DefaultForestParams mirrors the usual isolation forest defaults with a 1%
// expected anomaly fraction.
func DefaultForestParams() ForestParams {
	return ForestParams{
		NumTrees:      100,
		MaxSamples:    256,
		Contamination: 0.01,
		Seed:          42,
	}
}

func (p ForestParams) validate() error {
	if p.NumTrees < 1 {
		return fmt.Errorf("num_trees must be at least 1, got %d", p.NumTrees)
	}
	if p.MaxSamples < 2 {
		return fmt.Errorf("max_samples must be at least 2, got %d", p.MaxSamples)
	}
	if !(p.Contamination > 0 && p.Contamination <= 0.5) {
		return fmt.Errorf("contamination must be in (0, 0.5], got %v", p.Contamination)
	}
	return nil
}

// node is one vertex of an isolation tree. External nodes have Left == -1 and
// record how many training points reached them.
type node struct {
	Feature int8    `msgpack:"f"`
	Split   float64 `msgpack:"s"`
	Left    int32   `msgpack:"l"`
	Right   int32   `msgpack:"r"`
	Size    int32   `msgpack:"n"`
}

func (n node) external() bool {
	return n.Left < 0
}

// tree stores its nodes in preorder; the root is index 0 and children always
// follow their parent.
type tree []node

func (t tree) pathLength(x [Dimensions]float64) float64 {
	var depth float64
	i := int32(0)
	for {
		n := t[i]
		if n.external() {
			return depth + averagePathLength(int(n.Size))
		}
		if x[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// FeatureSummary describes one input dimension of the training corpus.
type FeatureSummary struct {
	Name   string  `msgpack:"name" json:"name"`
	Mean   float64 `msgpack:"mean" json:"mean"`
	StdDev float64 `msgpack:"std_dev" json:"std_dev"`
}

// Forest is a fitted isolation forest together with its decision threshold.
type Forest struct {
	params     ForestParams
	sampleSize int
	threshold  float64
	summary    []FeatureSummary
	trees      []tree
}

// Fit grows the ensemble over samples. The same samples and params always
// yield the same forest.
func Fit(samples [][Dimensions]float64, names []string, p ForestParams) (*Forest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return nil, errors.New("at least two samples are required to fit a forest")
	}
	if len(names) != Dimensions {
		return nil, fmt.Errorf("expected %d feature names, got %d", Dimensions, len(names))
	}

	psi := p.MaxSamples
	if len(samples) < psi {
		psi = len(samples)
	}

	f := &Forest{
		params:     p,
		sampleSize: psi,
		trees:      make([]tree, p.NumTrees),
		summary:    summarize(samples, names),
	}

	rng := rand.New(rand.NewSource(p.Seed))
	limit := int(math.Ceil(math.Log2(float64(psi))))

	for i := range f.trees {
		perm := rng.Perm(len(samples))[:psi]
		sub := make([][Dimensions]float64, psi)
		for j, idx := range perm {
			sub[j] = samples[idx]
		}

		b := builder{rng: rng, limit: limit}
		b.grow(sub, 0)
		f.trees[i] = b.nodes
	}

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = f.Score(s)
	}
	sort.Float64s(scores)
	f.threshold = stat.Quantile(1-p.Contamination, stat.LinInterp, scores, nil)

	return f, nil
}

type builder struct {
	rng   *rand.Rand
	limit int
	nodes tree
}

func (b *builder) grow(points [][Dimensions]float64, depth int) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: int32(len(points))})

	if depth >= b.limit || len(points) <= 1 {
		return id
	}

	lo, hi := points[0], points[0]
	for _, pt := range points[1:] {
		for d := 0; d < Dimensions; d++ {
			lo[d] = math.Min(lo[d], pt[d])
			hi[d] = math.Max(hi[d], pt[d])
		}
	}

	var spread []int
	for d := 0; d < Dimensions; d++ {
		if hi[d] > lo[d] {
			spread = append(spread, d)
		}
	}
	if len(spread) == 0 {
		// all points identical
		return id
	}

	feature := spread[b.rng.Intn(len(spread))]
	split := lo[feature] + b.rng.Float64()*(hi[feature]-lo[feature])
	if split <= lo[feature] {
		split = lo[feature] + (hi[feature]-lo[feature])/2
	}

	var left, right [][Dimensions]float64
	for _, pt := range points {
		if pt[feature] < split {
			left = append(left, pt)
		} else {
			right = append(right, pt)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)

	b.nodes[id].Feature = int8(feature)
	b.nodes[id].Split = split
	b.nodes[id].Left = l
	b.nodes[id].Right = r

	return id
}

// Score returns the anomaly score of x in (0, 1]. Points that are isolated in
// fewer splits score higher.
func (f *Forest) Score(x [Dimensions]float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += t.pathLength(x)
	}
	mean := total / float64(len(f.trees))

	c := averagePathLength(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

// IsAnomaly reports whether x scores above the contamination threshold
func (f *Forest) IsAnomaly(x [Dimensions]float64) bool {
	return f.Score(x) > f.threshold
}

// Threshold is the score above which a point is an outlier
func (f *Forest) Threshold() float64 {
	return f.threshold
}

// Params returns the parameters the forest was fitted with
func (f *Forest) Params() ForestParams {
	return f.params
}

// Summary describes the training corpus per input dimension
func (f *Forest) Summary() []FeatureSummary {
	out := make([]FeatureSummary, len(f.summary))
	copy(out, f.summary)
	return out
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func summarize(samples [][Dimensions]float64, names []string) []FeatureSummary {
	col := make([]float64, len(samples))
	out := make([]FeatureSummary, Dimensions)
	for d := 0; d < Dimensions; d++ {
		for i, s := range samples {
			col[i] = s[d]
		}
		mean, std := stat.MeanStdDev(col, nil)
		out[d] = FeatureSummary{Name: names[d], Mean: mean, StdDev: std}
	}
	return out
}
