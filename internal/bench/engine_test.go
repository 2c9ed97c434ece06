package bench

import (
	"testing"

	"github.com/swapforge/swapforge/pkg/types"
)

func TestSplitLinesHandlesTrailingNewline(t *testing.T) {
	got := splitLines("a\nb\nc\n")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitLinesHandlesNoTrailingNewline(t *testing.T) {
	got := splitLines("a\nb")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected split: %v", got)
	}
}

func TestPressureFootprintIsBoundedByRAM(t *testing.T) {
	inv := types.Inventory{RAMBytes: 8 << 30}
	lockBytes, fillBytes := pressureFootprint(inv)
	if lockBytes+fillBytes > inv.RAMBytes {
		t.Errorf("lock+fill footprint (%d) should not exceed total RAM (%d)", lockBytes+fillBytes, inv.RAMBytes)
	}
	if lockBytes == 0 || fillBytes == 0 {
		t.Error("expected both lock and fill footprints to be non-zero for a normal RAM size")
	}
}
