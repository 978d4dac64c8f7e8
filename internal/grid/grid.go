package grid

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// LevelSet is the immutable ladder of grid prices for one strategy run.
// Levels are strictly increasing, levels[0] == bottom and
// levels[count-1] == top.
type LevelSet struct {
	prices  []decimal.Decimal
	spacing core.SpacingMode
}

// Compute derives the ladder from the configured range. It is pure: the same
// inputs always produce the same levels.
func Compute(bottom, top decimal.Decimal, count int, spacing core.SpacingMode) (LevelSet, error) {
	if count < 2 {
		return LevelSet{}, fmt.Errorf("%w: count %d must be >= 2", core.ErrInvalidRange, count)
	}
	if bottom.Cmp(decimal.Zero) <= 0 {
		return LevelSet{}, fmt.Errorf("%w: bottom %s must be > 0", core.ErrInvalidRange, bottom)
	}
	if bottom.Cmp(top) >= 0 {
		return LevelSet{}, fmt.Errorf("%w: bottom %s must be below top %s", core.ErrInvalidRange, bottom, top)
	}

	prices := make([]decimal.Decimal, count)
	switch spacing {
	case core.SpacingArithmetic:
		step := top.Sub(bottom).Div(decimal.NewFromInt(int64(count - 1)))
		for i := 0; i < count; i++ {
			prices[i] = bottom.Add(step.Mul(decimal.NewFromInt(int64(i))))
		}
	case core.SpacingGeometric:
		// Even spacing in log space: level_i = bottom * (top/bottom)^(i/(n-1)).
		ratio := math.Pow(top.Div(bottom).InexactFloat64(), 1/float64(count-1))
		for i := 0; i < count; i++ {
			prices[i] = bottom.Mul(decimal.NewFromFloat(math.Pow(ratio, float64(i))))
		}
	default:
		return LevelSet{}, fmt.Errorf("%w: unknown spacing %q", core.ErrInvalidRange, spacing)
	}
	// Pin the endpoints so accumulated division error never moves the range.
	prices[0] = bottom
	prices[count-1] = top

	set := LevelSet{prices: prices, spacing: spacing}
	if err := set.checkIncreasing(); err != nil {
		return LevelSet{}, err
	}
	return set, nil
}

// Normalize snaps every level to the instrument price tick. Levels that
// collapse onto each other after rounding make the configured grid unusable.
func (s LevelSet) Normalize(tick decimal.Decimal) (LevelSet, error) {
	if tick.Cmp(decimal.Zero) <= 0 {
		return s, nil
	}
	out := make([]decimal.Decimal, len(s.prices))
	for i, p := range s.prices {
		out[i] = core.RoundDown(p, tick)
	}
	norm := LevelSet{prices: out, spacing: s.spacing}
	if err := norm.checkIncreasing(); err != nil {
		return LevelSet{}, fmt.Errorf("grid collapsed at tick %s: %w", tick, err)
	}
	return norm, nil
}

func (s LevelSet) checkIncreasing() error {
	for i := 1; i < len(s.prices); i++ {
		if s.prices[i].Cmp(s.prices[i-1]) <= 0 {
			return fmt.Errorf("%w: level %d (%s) not above level %d (%s)",
				core.ErrInvalidRange, i, s.prices[i], i-1, s.prices[i-1])
		}
	}
	return nil
}

func (s LevelSet) Count() int { return len(s.prices) }

func (s LevelSet) Spacing() core.SpacingMode { return s.spacing }

func (s LevelSet) PriceAt(index int) decimal.Decimal {
	if index < 0 || index >= len(s.prices) {
		return decimal.Zero
	}
	return s.prices[index]
}

func (s LevelSet) Prices() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.prices))
	copy(out, s.prices)
	return out
}

// NearestIndex returns the level closest to price; ties resolve downward.
func (s LevelSet) NearestIndex(price decimal.Decimal) int {
	idx := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].Cmp(price) >= 0 })
	if idx == 0 {
		return 0
	}
	if idx == len(s.prices) {
		return len(s.prices) - 1
	}
	below := price.Sub(s.prices[idx-1])
	above := s.prices[idx].Sub(price)
	if above.Cmp(below) < 0 {
		return idx
	}
	return idx - 1
}

// CrossedBetween returns the indexes of levels a price path from `from` to
// `to` traverses, in traversal order: ascending for an up move (levels with
// from < p <= to), descending for a down move (levels with to <= p < from).
func (s LevelSet) CrossedBetween(from, to decimal.Decimal) []int {
	switch from.Cmp(to) {
	case 0:
		return nil
	case -1:
		lo := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].Cmp(from) > 0 })
		hi := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].Cmp(to) > 0 })
		out := make([]int, 0, hi-lo)
		for i := lo; i < hi; i++ {
			out = append(out, i)
		}
		return out
	default:
		lo := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].Cmp(to) >= 0 })
		hi := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].Cmp(from) >= 0 })
		out := make([]int, 0, hi-lo)
		for i := hi - 1; i >= lo; i-- {
			out = append(out, i)
		}
		return out
	}
}
