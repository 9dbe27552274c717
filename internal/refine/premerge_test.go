package refine_test

import (
	"math"
	"testing"

	"github.com/MrWong99/kepler/internal/refine"
	"github.com/MrWong99/kepler/pkg/types"
)

func TestPreMergeJoinsCloseSameSpeaker(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "hello ", "A", 0, 1000, 0.8),
		unit(1, "world", "A", 1200, 2000, 0.4), // 200ms gap
	}

	out := refine.PreMerge(in, 500)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged unit, got %d", len(out))
	}
	m := out[0]
	if m.Text != "hello world" {
		t.Errorf("text = %q, want concatenation with no separator", m.Text)
	}
	if m.Index != 0 || m.StartMS != 0 || m.EndMS != 2000 {
		t.Errorf("merged identity/span wrong: %+v", m)
	}
	// Weighted by rune counts 6 and 5: (0.8*6 + 0.4*5) / 11.
	want := (0.8*6 + 0.4*5) / 11
	if math.Abs(m.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want length-weighted %v", m.Confidence, want)
	}
	if len(m.Parts) != 2 || m.Parts[1].StartMS != 1200 {
		t.Errorf("constituent spans not retained: %+v", m.Parts)
	}
	if m.CorrectedText != m.Text {
		t.Errorf("corrected text not reset to merged text")
	}
}

func TestPreMergeRespectsGapAndSpeaker(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "a", "A", 0, 1000, 1),
		unit(1, "b", "A", 1500, 2000, 1), // 500ms gap, not < 500
		unit(2, "c", "B", 2100, 3000, 1), // close but different speaker
	}

	out := refine.PreMerge(in, 500)
	if len(out) != 3 {
		t.Fatalf("expected no merges, got %d units", len(out))
	}
	for i, u := range out {
		if u.Parts != nil {
			t.Errorf("unit %d should have no parts: %+v", i, u.Parts)
		}
	}
}

func TestPreMergeChain(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "a", "A", 0, 100, 0.9),
		unit(1, "b", "A", 150, 300, 0.9),
		unit(2, "c", "A", 350, 500, 0.9),
	}

	out := refine.PreMerge(in, 500)
	if len(out) != 1 {
		t.Fatalf("expected chain merge into 1 unit, got %d", len(out))
	}
	if out[0].Text != "abc" || len(out[0].Parts) != 3 {
		t.Errorf("chain merge wrong: %+v", out[0])
	}
}

func TestPreMergeEmpty(t *testing.T) {
	t.Parallel()

	if out := refine.PreMerge(nil, 500); out != nil {
		t.Errorf("expected nil for empty input, got %+v", out)
	}
}
