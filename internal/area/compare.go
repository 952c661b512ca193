package area

import (
	"math"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
)

// Result is one strategy's outcome in a comparison.
type Result struct {
	Strategy Strategy `json:"-"`
	Name     string   `json:"strategy"`
	Area     float64  `json:"area_m2"`
	// Deviation is Area minus the Exact area.
	Deviation float64 `json:"deviation_m2"`
}

// Report holds the outcome of every requested strategy.
type Report struct {
	Results []Result `json:"results"`
	// MaxSpread is the largest pairwise difference between results.
	MaxSpread float64 `json:"max_spread_m2"`
	// WithinTolerance is true when MaxSpread <= Tolerance.
	WithinTolerance bool `json:"within_tolerance"`
}

// Compare runs the given strategies (all of them when none are given) on the
// same bitmap. Exact is always computed as the deviation baseline.
func (e *Estimator) Compare(src coverage.Source, strategies ...Strategy) (Report, error) {
	if len(strategies) == 0 {
		strategies = AllStrategies()
	}
	exact, err := e.TotalArea(src, Exact)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Results: make([]Result, 0, len(strategies))}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range strategies {
		a := exact
		if s != Exact {
			if a, err = e.TotalArea(src, s); err != nil {
				return Report{}, err
			}
		}
		rep.Results = append(rep.Results, Result{Strategy: s, Name: s.String(), Area: a, Deviation: a - exact})
		lo, hi = math.Min(lo, a), math.Max(hi, a)
	}
	rep.MaxSpread = hi - lo
	rep.WithinTolerance = rep.MaxSpread <= Tolerance
	return rep, nil
}
