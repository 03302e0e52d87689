package search

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalnine/hypertune/internal/space"
)

const (
	defaultStartupTrials = 10
	defaultEICandidates  = 24
	// maxGood caps the "good" split so a long history does not dilute it.
	maxGood     = 25
	goodFrac    = 0.1
	maxRejects  = 64
	minLogDense = -700.0
)

// TPE is a tree-structured Parzen estimator over independent parameters.
// Completed trials are split into a good and a bad group by score; each
// parameter gets a truncated Gaussian mixture per group, and the candidate
// drawn from the good mixture with the highest log l(x) - log g(x) wins.
type TPE struct {
	startup    int
	candidates int
}

func NewTPE(o Options) *TPE {
	t := &TPE{startup: o.StartupTrials, candidates: o.EICandidates}
	if t.startup <= 0 {
		t.startup = defaultStartupTrials
	}
	if t.candidates <= 0 {
		t.candidates = defaultEICandidates
	}
	return t
}

func (t *TPE) Name() string { return "tpe" }

func (t *TPE) Sample(sp *space.Space, history []Observation, rng *rand.Rand) space.Values {
	if len(history) < t.startup {
		return sp.Uniform(rng)
	}
	good, bad := splitHistory(history)

	v := make(space.Values, len(sp.Params))
	for _, p := range sp.Params {
		lo, hi := p.Low, p.High
		if p.Kind == space.Int {
			// Widen discrete domains so the edge values get a full bin.
			lo -= p.Step / 2
			hi += p.Step / 2
		}
		if hi <= lo {
			v[p.Name] = p.Low
			continue
		}
		l := newParzen(column(good, p.Name), lo, hi)
		g := newParzen(column(bad, p.Name), lo, hi)

		bestX, bestScore := 0.0, math.Inf(-1)
		for i := 0; i < t.candidates; i++ {
			x := l.sample(rng)
			if s := l.logPdf(x) - g.logPdf(x); s > bestScore {
				bestX, bestScore = x, s
			}
		}
		v[p.Name] = p.Snap(bestX)
	}
	return v
}

// splitHistory puts the top goodFrac of trials (at least one, at most
// maxGood) in good. Equal scores keep history order.
func splitHistory(history []Observation) (good, bad []Observation) {
	sorted := make([]Observation, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	n := int(math.Ceil(goodFrac * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	if n > maxGood {
		n = maxGood
	}
	return sorted[:n], sorted[n:]
}

func column(obs []Observation, name string) []float64 {
	xs := make([]float64, 0, len(obs))
	for _, o := range obs {
		if x, ok := o.Params[name]; ok {
			xs = append(xs, x)
		}
	}
	return xs
}

// parzen is an equally weighted mixture of Gaussians truncated to [lo, hi]:
// one kernel per observation plus a broad prior centred on the domain.
type parzen struct {
	lo, hi  float64
	kernels []distuv.Normal
	mass    []float64
}

func newParzen(xs []float64, lo, hi float64) *parzen {
	width := hi - lo
	bw := width
	if len(xs) >= 2 {
		if sd := stat.StdDev(xs, nil); sd > 0 && !math.IsNaN(sd) {
			bw = 1.06 * sd * math.Pow(float64(len(xs)), -0.2)
		}
	}
	minBW := width / math.Min(100, float64(1+len(xs)))
	bw = math.Max(minBW, math.Min(bw, width))

	p := &parzen{lo: lo, hi: hi}
	p.add(distuv.Normal{Mu: lo + width/2, Sigma: width})
	for _, x := range xs {
		p.add(distuv.Normal{Mu: x, Sigma: bw})
	}
	return p
}

func (p *parzen) add(n distuv.Normal) {
	p.kernels = append(p.kernels, n)
	p.mass = append(p.mass, n.CDF(p.hi)-n.CDF(p.lo))
}

func (p *parzen) sample(rng *rand.Rand) float64 {
	k := p.kernels[rng.Intn(len(p.kernels))]
	for i := 0; i < maxRejects; i++ {
		x := k.Mu + k.Sigma*rng.NormFloat64()
		if x >= p.lo && x <= p.hi {
			return x
		}
	}
	return math.Max(p.lo, math.Min(p.hi, k.Mu))
}

func (p *parzen) logPdf(x float64) float64 {
	var sum float64
	for i, k := range p.kernels {
		if p.mass[i] > 0 {
			sum += k.Prob(x) / p.mass[i]
		}
	}
	sum /= float64(len(p.kernels))
	if sum <= 0 {
		return minLogDense
	}
	return math.Log(sum)
}
