package search

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/signalnine/hypertune/internal/space"
)

// Observation is one completed trial as seen by a sampler.
type Observation struct {
	Params space.Values
	Score  float64
}

// Sampler proposes the next parameter set from the completed history. It is
// only ever called with the study lock held, so implementations need no
// locking of their own.
type Sampler interface {
	Name() string
	Sample(sp *space.Space, history []Observation, rng *rand.Rand) space.Values
}

type Options struct {
	// StartupTrials are sampled uniformly before the model kicks in.
	StartupTrials int
	// EICandidates is the number of draws scored per parameter.
	EICandidates int
}

var registry = map[string]func(Options) Sampler{}

// Register adds a sampler constructor to the registry.
func Register(name string, constructor func(Options) Sampler) {
	registry[name] = constructor
}

// Get returns a sampler by name.
func Get(name string, opts Options) (Sampler, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown sampler: %s (available: %v)", name, Names())
	}
	return ctor(opts), nil
}

// Names returns all registered sampler names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("random", func(Options) Sampler { return Random{} })
	Register("tpe", func(o Options) Sampler { return NewTPE(o) })
}

// Random ignores history and samples every domain uniformly.
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Sample(sp *space.Space, _ []Observation, rng *rand.Rand) space.Values {
	return sp.Uniform(rng)
}
