package area

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy selects how a bitmap is reduced to an area.
type Strategy int

const (
	// Exact sums the latitude-dependent area of every set pixel.
	Exact Strategy = iota
	// WidthOnly applies the latitude correction to the horizontal extent
	// and takes the vertical extent straight from the row's latitude span.
	WidthOnly
	// HeightOnly applies the latitude correction to the vertical extent and
	// measures the horizontal extent as a great-circle distance.
	HeightOnly
	// BlockApprox evaluates one row per block, the popcount-weighted
	// centroid row, and multiplies by the block popcount.
	BlockApprox
	// BlockOnly evaluates the block's middle row and multiplies by the
	// cached popcount; it never reads individual bits.
	BlockOnly
)

// Tolerance is the agreement bound (m²) between any two strategies.
const Tolerance = 1e4

var ErrUnknownStrategy = errors.New("unknown area strategy")

var strategyNames = [...]string{
	Exact:       "exact",
	WidthOnly:   "width_only",
	HeightOnly:  "height_only",
	BlockApprox: "block_approx",
	BlockOnly:   "block_only",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("strategy(%d)", int(s))
	}
	return strategyNames[s]
}

func (s Strategy) valid() bool {
	return s >= Exact && s <= BlockOnly
}

// ParseStrategy accepts the String form, case-insensitively, with '-' or '_'.
func ParseStrategy(name string) (Strategy, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, s := range strategyNames {
		if s == n {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// AllStrategies lists every strategy in declaration order.
func AllStrategies() []Strategy {
	return []Strategy{Exact, WidthOnly, HeightOnly, BlockApprox, BlockOnly}
}
