package demand

import (
	"math/rand/v2"
	"sort"
)

const maxBins = 64

// binning maps raw feature values to histogram bins. A value v falls in the
// first bin b with v <= edges[f][b]; values above every edge fall in the last
// bin, so splitting on "bin <= b" is the same as "v <= edges[f][b]".
type binning struct {
	edges [][]float64
	bins  [][]uint8 // row-major: bins[row][feature]
}

func newBinning(X [][]float64) *binning {
	if len(X) == 0 {
		return &binning{}
	}
	nf := len(X[0])
	b := &binning{edges: make([][]float64, nf), bins: make([][]uint8, len(X))}

	col := make([]float64, len(X))
	for f := 0; f < nf; f++ {
		for i, row := range X {
			col[i] = row[f]
		}
		b.edges[f] = cutPoints(col)
	}

	for i, row := range X {
		rb := make([]uint8, nf)
		for f, v := range row {
			rb[f] = uint8(sort.SearchFloat64s(b.edges[f], v))
		}
		b.bins[i] = rb
	}
	return b
}

// cutPoints returns at most maxBins-1 ascending split thresholds.
func cutPoints(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	uniq := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) <= 1 {
		return nil
	}

	if len(uniq) <= maxBins {
		out := make([]float64, len(uniq)-1)
		for i := range out {
			out[i] = (uniq[i] + uniq[i+1]) / 2
		}
		return out
	}

	out := make([]float64, 0, maxBins-1)
	for q := 1; q < maxBins; q++ {
		v := sorted[q*len(sorted)/maxBins]
		if len(out) == 0 || v > out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func (b *binning) numBins(f int) int {
	return len(b.edges[f]) + 1
}

// TreeParams configures a regression tree.
type TreeParams struct {
	MaxDepth int `json:"max_depth"`
	MinLeaf  int `json:"min_leaf"`

	// MaxFeatures considered per split; 0 means all.
	MaxFeatures int `json:"max_features,omitempty"`
}

func (p TreeParams) withDefaults(depth, leaf int) TreeParams {
	if p.MaxDepth <= 0 {
		p.MaxDepth = depth
	}
	if p.MinLeaf <= 0 {
		p.MinLeaf = leaf
	}
	return p
}

// TreeNode is a flattened tree node. Leaves have Left == -1.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree.
type Tree struct {
	Params TreeParams `json:"params"`
	Nodes  []TreeNode `json:"nodes"`
	Seed   uint64     `json:"seed"`
}

// NewTree creates an unfitted regression tree.
func NewTree(params TreeParams, seed uint64) *Tree {
	return &Tree{Params: params.withDefaults(8, 5), Seed: seed}
}

// Kind implements Regressor.
func (t *Tree) Kind() Kind { return KindDecisionTree }

// Fit implements Regressor.
func (t *Tree) Fit(X [][]float64, y []float64) error {
	if err := checkShape(X, y); err != nil {
		return err
	}
	b := newBinning(X)
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewPCG(t.Seed, t.Seed^0x9e3779b97f4a7c15))
	t.grow(b, y, idx, rng)
	return nil
}

// Predict implements Regressor.
func (t *Tree) Predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	n := 0
	for t.Nodes[n].Left >= 0 {
		node := t.Nodes[n]
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
	return t.Nodes[n].Value
}

// grow builds the tree over rows idx of the binned data.
func (t *Tree) grow(b *binning, y []float64, idx []int, rng *rand.Rand) {
	t.Nodes = t.Nodes[:0]
	nf := len(b.edges)
	features := make([]int, nf)
	for i := range features {
		features[i] = i
	}
	g := &grower{tree: t, b: b, y: y, rng: rng, features: features}
	g.node(idx, 0)
}

type grower struct {
	tree     *Tree
	b        *binning
	y        []float64
	rng      *rand.Rand
	features []int
	count    [maxBins]float64
	sum      [maxBins]float64
}

func (g *grower) node(idx []int, depth int) int {
	total := 0.0
	for _, i := range idx {
		total += g.y[i]
	}
	n := float64(len(idx))
	self := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, TreeNode{Left: -1, Right: -1, Value: total / n})

	p := g.tree.Params
	if depth >= p.MaxDepth || len(idx) < 2*p.MinLeaf {
		return self
	}

	candidates := g.features
	if p.MaxFeatures > 0 && p.MaxFeatures < len(g.features) {
		g.rng.Shuffle(len(g.features), func(i, j int) {
			g.features[i], g.features[j] = g.features[j], g.features[i]
		})
		candidates = g.features[:p.MaxFeatures]
	}

	parentScore := total * total / n
	bestGain, bestFeature, bestBin := 1e-9, -1, 0
	for _, f := range candidates {
		nb := g.b.numBins(f)
		if nb < 2 {
			continue
		}
		for k := 0; k < nb; k++ {
			g.count[k], g.sum[k] = 0, 0
		}
		for _, i := range idx {
			k := g.b.bins[i][f]
			g.count[k]++
			g.sum[k] += g.y[i]
		}

		var nl, sl float64
		for k := 0; k < nb-1; k++ {
			nl += g.count[k]
			sl += g.sum[k]
			nr := n - nl
			if nl < float64(p.MinLeaf) {
				continue
			}
			if nr < float64(p.MinLeaf) {
				break
			}
			sr := total - sl
			gain := sl*sl/nl + sr*sr/nr - parentScore
			if gain > bestGain {
				bestGain, bestFeature, bestBin = gain, f, k
			}
		}
	}
	if bestFeature < 0 {
		return self
	}

	// Partition in place: rows with bin <= bestBin first.
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		if int(g.b.bins[idx[lo]][bestFeature]) <= bestBin {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}

	left := g.node(idx[:lo], depth+1)
	right := g.node(idx[lo:], depth+1)
	g.tree.Nodes[self].Feature = bestFeature
	g.tree.Nodes[self].Threshold = g.b.edges[bestFeature][bestBin]
	g.tree.Nodes[self].Left = left
	g.tree.Nodes[self].Right = right
	return self
}
