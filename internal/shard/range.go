package shard

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange = errors.New("shard: invalid range")
	// ErrNoAutoSpawn reports a mode that leaves spawning to the caller.
	ErrNoAutoSpawn = errors.New("shard: no auto spawn")
)

type Mode int

const (
	ModeAuto Mode = iota
	ModeCount
	ModeRange
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeCount:
		return "count"
	case ModeRange:
		return "range"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Spec is the requested shard layout.
type Spec struct {
	Mode    Mode
	Count   int
	Lowest  int
	Highest int
	Total   int
}

func Auto() Spec { return Spec{Mode: ModeAuto} }

func Count(n int) Spec { return Spec{Mode: ModeCount, Count: n} }

func RangeOf(lowest, highest, total int) Spec {
	return Spec{Mode: ModeRange, Lowest: lowest, Highest: highest, Total: total}
}

func Manual() Spec { return Spec{Mode: ModeManual} }

// Range is a contiguous, 1-based run of shard numbers out of Total.
type Range struct {
	Lowest  int `json:"lowest"`
	Highest int `json:"highest"`
	Total   int `json:"total"`
}

func (r Range) Len() int {
	if r.Highest < r.Lowest {
		return 0
	}
	return r.Highest - r.Lowest + 1
}

func (r Range) Numbers() []int {
	out := make([]int, 0, r.Len())
	for n := r.Lowest; n <= r.Highest; n++ {
		out = append(out, n)
	}
	return out
}

func (r Range) Valid() bool {
	return r.Lowest >= 1 && r.Lowest <= r.Highest && r.Highest <= r.Total
}

// ComputeRange resolves spec against the platform's recommended shard
// count. mismatch reports an explicit count that differs from the
// recommendation. Manual mode returns ErrNoAutoSpawn; an unusable layout
// returns ErrInvalidRange.
func ComputeRange(spec Spec, recommended int) (r Range, mismatch bool, err error) {
	switch spec.Mode {
	case ModeAuto:
		if recommended <= 0 {
			return Range{}, false, fmt.Errorf("%w: recommended count %d", ErrInvalidRange, recommended)
		}
		return Range{Lowest: 1, Highest: recommended, Total: recommended}, false, nil
	case ModeCount:
		if spec.Count <= 0 {
			return Range{}, false, fmt.Errorf("%w: count %d", ErrInvalidRange, spec.Count)
		}
		return Range{Lowest: 1, Highest: spec.Count, Total: spec.Count}, spec.Count != recommended, nil
	case ModeRange:
		r := Range{Lowest: spec.Lowest, Highest: spec.Highest, Total: spec.Total}
		if !r.Valid() {
			return Range{}, false, fmt.Errorf("%w: %d..%d of %d", ErrInvalidRange, spec.Lowest, spec.Highest, spec.Total)
		}
		return r, false, nil
	case ModeManual:
		return Range{}, false, ErrNoAutoSpawn
	default:
		return Range{}, false, fmt.Errorf("%w: mode %d", ErrInvalidRange, spec.Mode)
	}
}
