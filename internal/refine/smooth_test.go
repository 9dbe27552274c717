package refine_test

import (
	"testing"

	"github.com/MrWong99/kepler/internal/refine"
	"github.com/MrWong99/kepler/pkg/types"
)

func TestSmoothRelabelsShortFlip(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "a", "Speaker 1", 0, 2000, 1),
		unit(1, "b", "Speaker 2", 2000, 2800, 1),
		unit(2, "c", "Speaker 1", 2800, 4800, 1),
	}

	out := refine.Smooth(in, 1500)
	if out[1].Speaker != "Speaker 1" {
		t.Errorf("short flanked flip not smoothed: %q", out[1].Speaker)
	}
	if in[1].Speaker != "Speaker 2" {
		t.Errorf("input mutated: %q", in[1].Speaker)
	}
}

func TestSmoothKeepsLongFlip(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "a", "Speaker 1", 0, 2000, 1),
		unit(1, "b", "Speaker 2", 2000, 3600, 1), // 1600ms, at threshold
		unit(2, "c", "Speaker 1", 3600, 5600, 1),
	}

	out := refine.Smooth(in, 1500)
	if out[1].Speaker != "Speaker 2" {
		t.Errorf("long flip should stay, got %q", out[1].Speaker)
	}
}

func TestSmoothUsesOriginalNeighborLabels(t *testing.T) {
	t.Parallel()

	// After smoothing index 1 to A, index 2 must still be judged against
	// the ORIGINAL label at index 1 (B), so it stays untouched.
	in := []types.Utterance{
		unit(0, "a", "A", 0, 2000, 1),
		unit(1, "b", "B", 2000, 2500, 1),
		unit(2, "c", "A", 2500, 3000, 1),
		unit(3, "d", "B", 3000, 5000, 1),
	}

	out := refine.Smooth(in, 1500)
	if out[1].Speaker != "A" {
		t.Errorf("index 1 should smooth to A, got %q", out[1].Speaker)
	}
	// Original neighbours of index 2 are B and B, differing from A, so it
	// smooths to B. A stale read of the already-corrected index 1 would
	// have left it alone.
	if out[2].Speaker != "B" {
		t.Errorf("index 2 should smooth to B against original labels, got %q", out[2].Speaker)
	}
}

func TestSmoothShortSequencesUnchanged(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "a", "A", 0, 100, 1),
		unit(1, "b", "B", 100, 200, 1),
	}
	out := refine.Smooth(in, 1500)
	if len(out) != 2 || out[1].Speaker != "B" {
		t.Errorf("sequence shorter than 3 must pass through unchanged: %+v", out)
	}
}
