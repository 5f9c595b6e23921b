package shard

import (
	"errors"
	"testing"

	"github.com/danmuck/shardline/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestComputeRangeCoversEveryValidTriple(t *testing.T) {
	testlog.Start(t)
	for total := 1; total <= 12; total++ {
		for lo := 1; lo <= total; lo++ {
			for hi := lo; hi <= total; hi++ {
				r, _, err := ComputeRange(RangeOf(lo, hi, total), 7)
				if err != nil {
					t.Fatalf("range %d..%d of %d: %v", lo, hi, total, err)
				}
				nums := r.Numbers()
				if len(nums) != hi-lo+1 || r.Len() != len(nums) {
					t.Fatalf("range %d..%d of %d: got %d numbers", lo, hi, total, len(nums))
				}
				seen := map[int]bool{}
				for _, n := range nums {
					if n < lo || n > hi || seen[n] {
						t.Fatalf("range %d..%d: bad or repeated number %d", lo, hi, n)
					}
					seen[n] = true
				}
				if r.Total != total {
					t.Fatalf("total changed: %d != %d", r.Total, total)
				}
			}
		}
	}
}

func TestComputeRangeCountEqualToRecommendedMatchesAuto(t *testing.T) {
	testlog.Start(t)
	for _, rec := range []int{1, 2, 16, 150} {
		auto, autoMismatch, err := ComputeRange(Auto(), rec)
		require.NoError(t, err)
		count, countMismatch, err := ComputeRange(Count(rec), rec)
		require.NoError(t, err)
		require.Equal(t, auto, count)
		require.False(t, autoMismatch)
		require.False(t, countMismatch)
	}
}

func TestComputeRangeExplicitCountOverridesRecommendation(t *testing.T) {
	testlog.Start(t)
	r, mismatch, err := ComputeRange(Count(3), 8)
	require.NoError(t, err)
	require.True(t, mismatch)
	require.Equal(t, Range{Lowest: 1, Highest: 3, Total: 3}, r)
}

func TestComputeRangeRejectsUnusableLayouts(t *testing.T) {
	testlog.Start(t)
	cases := []Spec{
		RangeOf(0, 1, 2),
		RangeOf(3, 2, 4),
		RangeOf(1, 5, 4),
		Count(0),
		Count(-2),
		{Mode: Mode(42)},
	}
	for _, spec := range cases {
		if _, _, err := ComputeRange(spec, 4); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("spec %+v: expected ErrInvalidRange, got %v", spec, err)
		}
	}
	if _, _, err := ComputeRange(Auto(), 0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for auto without recommendation, got %v", err)
	}
	if _, _, err := ComputeRange(Manual(), 4); !errors.Is(err, ErrNoAutoSpawn) {
		t.Fatalf("expected ErrNoAutoSpawn, got %v", err)
	}
}
