package bench

import (
	"testing"

	"github.com/swapforge/swapforge/pkg/types"
)

func TestMatchesExpectedOrderTrueWhenRanked(t *testing.T) {
	stats := map[string]types.CompressorStat{
		"zsmalloc": {EffectiveCapacityPct: 90},
		"z3fold":   {EffectiveCapacityPct: 70},
		"zbud":     {EffectiveCapacityPct: 50},
	}
	if !matchesExpectedOrder(stats, defaultAllocatorOrder) {
		t.Error("expected a correctly ranked sweep to match the default order")
	}
}

func TestMatchesExpectedOrderFalseWhenContradicted(t *testing.T) {
	stats := map[string]types.CompressorStat{
		"zsmalloc": {EffectiveCapacityPct: 40},
		"z3fold":   {EffectiveCapacityPct: 70},
		"zbud":     {EffectiveCapacityPct: 90},
	}
	if matchesExpectedOrder(stats, defaultAllocatorOrder) {
		t.Error("expected a reversed sweep to contradict the default order")
	}
}

func TestMatchesExpectedOrderSkipsMissingAllocators(t *testing.T) {
	stats := map[string]types.CompressorStat{
		"zsmalloc": {EffectiveCapacityPct: 90},
	}
	if !matchesExpectedOrder(stats, defaultAllocatorOrder) {
		t.Error("a single present allocator cannot contradict an ordering")
	}
}

func TestBestCompressorPicksHighestBandwidth(t *testing.T) {
	stats := map[string]types.CompressorStat{
		"lz4":  {BandwidthMBPerS: 500},
		"zstd": {BandwidthMBPerS: 300},
	}
	if got := bestCompressor(stats); got != "lz4" {
		t.Errorf("expected lz4 to win on bandwidth, got %s", got)
	}
}

func TestBestCompressorEmptyMapReturnsEmptyString(t *testing.T) {
	if got := bestCompressor(nil); got != "" {
		t.Errorf("expected empty string for an empty sweep, got %q", got)
	}
}
