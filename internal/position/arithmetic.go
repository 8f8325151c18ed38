package position

import "math"

// Calculate returns a new ordering key for an item inserted between prev and next.
// Nil prev means "insert at head", nil next means "insert at tail", both nil means the scope is
// empty.
//
// Results are always integral. Wide gaps get a randomized key inside the centered
// RandomRangePercent of the gap so that two offline clients inserting at the same slot rarely
// collide. A gap of 1 has no integer strictly inside it and yields prev; the comparator's
// created_at tie-break orders the duplicate.
func Calculate(prev, next *float64, cfg Config) float64 {
	cfg = cfg.WithDefaults()
	switch {
	case prev != nil && next != nil:
		return between(*prev, *next, cfg)
	case next != nil:
		return before(*next, cfg)
	case prev != nil:
		return after(*prev, cfg)
	default:
		return cfg.InitialPosition
	}
}

// Between is Calculate with both neighbours known.
func Between(prev, next float64, cfg Config) float64 { return Calculate(&prev, &next, cfg) }

// Before is Calculate for an insert ahead of next.
func Before(next float64, cfg Config) float64 { return Calculate(nil, &next, cfg) }

// After is Calculate for an insert behind prev.
func After(prev float64, cfg Config) float64 { return Calculate(&prev, nil, cfg) }

// Initial is the position of the first item in an empty scope.
func Initial(cfg Config) float64 { return Calculate(nil, nil, cfg) }

func between(prev, next float64, cfg Config) float64 {
	gap := next - prev
	if gap < RandomizationThreshold || cfg.DisableRandomization {
		return math.Floor((prev + next) / 2)
	}
	width := gap * cfg.RandomRangePercent
	lo := (prev+next)/2 - width/2
	v := math.Floor(lo + cfg.random()*width)

	// Keep the result strictly inside (prev, next) even at RandomRangePercent=1.
	minV := math.Floor(prev) + 1
	maxV := math.Ceil(next) - 1
	if minV <= maxV {
		v = math.Max(minV, math.Min(maxV, v))
	}
	return v
}

func before(next float64, cfg Config) float64 {
	if cfg.DisableRandomization {
		return math.Floor(next - 1)
	}
	offset := 1 + math.Floor(cfg.random()*cfg.DefaultSpacing)
	if offset > cfg.DefaultSpacing && cfg.DefaultSpacing >= 1 {
		offset = cfg.DefaultSpacing
	}
	return math.Floor(next - offset)
}

func after(prev float64, cfg Config) float64 {
	spacing := cfg.DefaultSpacing
	if !cfg.DisableRandomization {
		variance := spacing * cfg.RandomRangePercent / 2
		if variance >= 1 && spacing-variance >= 1 {
			s := spacing - variance + cfg.random()*2*variance
			return math.Floor(prev + s)
		}
	}
	return math.Floor(prev + spacing)
}
