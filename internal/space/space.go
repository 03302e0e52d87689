// Package space declares the hyperparameter domains the evaluator accepts.
//
// A Space is the contract between the search controller, which must only
// propose values inside these domains, and the trial executor, which passes
// proposed values through without re-validating them.
package space

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

type Kind string

const (
	Float Kind = "float"
	Int   Kind = "int"
)

// alignTolerance absorbs float noise when checking integer and step alignment.
const alignTolerance = 1e-9

type Param struct {
	Name string  `yaml:"name" json:"name"`
	Kind Kind    `yaml:"kind" json:"kind"`
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
	Step float64 `yaml:"step,omitempty" json:"step,omitempty"`
}

// Values maps parameter names to sampled values. Integer parameters hold
// whole numbers.
type Values map[string]float64

// Clone returns an independent copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

type Space struct {
	Params []Param
	index  map[string]int
}

// New validates params and builds a Space. Integer parameters default to a
// step of 1, and an upper bound that is not reachable from Low in whole steps
// is lowered to the last reachable value.
func New(params []Param) (*Space, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("parameter space is empty")
	}
	s := &Space{Params: make([]Param, 0, len(params)), index: make(map[string]int, len(params))}
	for i, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d: name is required", i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, fmt.Errorf("parameter %q declared twice", p.Name)
		}
		if math.IsNaN(p.Low) || math.IsNaN(p.High) || p.Low > p.High {
			return nil, fmt.Errorf("parameter %q: invalid bounds [%v, %v]", p.Name, p.Low, p.High)
		}
		switch p.Kind {
		case Float:
			if p.Step != 0 {
				return nil, fmt.Errorf("parameter %q: step is only valid for int parameters", p.Name)
			}
		case Int:
			if p.Step == 0 {
				p.Step = 1
			}
			if p.Step < 1 || !isWhole(p.Step) || !isWhole(p.Low) || !isWhole(p.High) {
				return nil, fmt.Errorf("parameter %q: int bounds and step must be whole numbers (step >= 1)", p.Name)
			}
			p.High = p.Low + math.Floor((p.High-p.Low)/p.Step)*p.Step
		default:
			return nil, fmt.Errorf("parameter %q: unknown kind %q", p.Name, p.Kind)
		}
		s.index[p.Name] = len(s.Params)
		s.Params = append(s.Params, p)
	}
	return s, nil
}

// Default returns the thirteen parameters tuned for the annealing solver:
// placement ratios, temperature schedule, move distances, the forbidden area
// coefficient, the hungarian rarity interval and three operator weights.
func Default() *Space {
	s, err := New([]Param{
		{Name: "placed_musicians_ratio", Kind: Float, Low: 0.2, High: 0.5},
		{Name: "important_attendees_ratio", Kind: Float, Low: 0.1, High: 0.2},
		{Name: "important_musician_range", Kind: Int, Low: 200, High: 500, Step: 10},
		{Name: "max_temp", Kind: Int, Low: 1_000_000, High: 20_000_000, Step: 1_000_000},
		{Name: "min_temp", Kind: Int, Low: 0, High: 100_000, Step: 10_000},
		{Name: "temp_func_power", Kind: Float, Low: 1.0, High: 3.0},
		{Name: "max_move_dist", Kind: Int, Low: 40, High: 100, Step: 1},
		{Name: "min_move_dist", Kind: Int, Low: 1, High: 40, Step: 1},
		{Name: "forbidden_area_coeff", Kind: Float, Low: 0.4, High: 1.0},
		{Name: "hungarian_rarity", Kind: Int, Low: 1_000_000, High: 100_000_000, Step: 1_000_000},
		{Name: "swap", Kind: Int, Low: 1, High: 10, Step: 1},
		{Name: "move_random", Kind: Int, Low: 1, High: 10, Step: 1},
		{Name: "move_dir", Kind: Int, Low: 1, High: 10, Step: 1},
	})
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Space) Lookup(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return Param{}, false
	}
	return s.Params[i], true
}

func (s *Space) Names() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

// Contains reports the first parameter of v that is missing, unknown or
// outside its domain.
func (s *Space) Contains(v Values) error {
	for _, p := range s.Params {
		x, ok := v[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name)
		}
		if err := p.Contains(x); err != nil {
			return err
		}
	}
	if len(v) != len(s.Params) {
		var extra []string
		for name := range v {
			if _, ok := s.index[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("unknown parameters %v", extra)
	}
	return nil
}

// Uniform draws every parameter independently and uniformly from its domain.
func (s *Space) Uniform(rng *rand.Rand) Values {
	v := make(Values, len(s.Params))
	for _, p := range s.Params {
		v[p.Name] = p.Uniform(rng)
	}
	return v
}

// Document renders v for the evaluator's parameter file: floats stay real
// numbers, int parameters become integers.
func (s *Space) Document(v Values) map[string]any {
	doc := make(map[string]any, len(v))
	for name, x := range v {
		if p, ok := s.Lookup(name); ok && p.Kind == Int {
			doc[name] = int64(math.Round(x))
			continue
		}
		doc[name] = x
	}
	return doc
}

func (p Param) Contains(x float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("parameter %q: %v is not a finite number", p.Name, x)
	}
	if x < p.Low || x > p.High {
		return fmt.Errorf("parameter %q: %v outside [%v, %v]", p.Name, x, p.Low, p.High)
	}
	if p.Kind == Int {
		if !isWhole(x) {
			return fmt.Errorf("parameter %q: %v is not an integer", p.Name, x)
		}
		if !isWhole((x - p.Low) / p.Step) {
			return fmt.Errorf("parameter %q: %v not aligned to step %v from %v", p.Name, x, p.Step, p.Low)
		}
	}
	return nil
}

// Snap clamps x into the domain and, for int parameters, rounds it to the
// nearest step from Low.
func (p Param) Snap(x float64) float64 {
	x = math.Max(p.Low, math.Min(p.High, x))
	if p.Kind == Int {
		x = p.Low + math.Round((x-p.Low)/p.Step)*p.Step
		x = math.Min(p.High, x)
	}
	return x
}

func (p Param) Uniform(rng *rand.Rand) float64 {
	if p.Kind == Int {
		n := int(math.Round((p.High - p.Low) / p.Step))
		return p.Low + float64(rng.Intn(n+1))*p.Step
	}
	return p.Low + rng.Float64()*(p.High-p.Low)
}

func isWhole(x float64) bool {
	return math.Abs(x-math.Round(x)) < alignTolerance
}
