package refine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/kepler/internal/refine"
	"github.com/MrWong99/kepler/pkg/provider/llm"
	"github.com/MrWong99/kepler/pkg/provider/llm/mock"
	"github.com/MrWong99/kepler/pkg/types"
)

func TestRefineEndToEnd(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "Hello everyone. ", "Speaker 1", 0, 1500, 0.95),
		unit(1, "Todays agenda has to items.", "Speaker 1", 1600, 4000, 0.5), // gap 100ms: pre-merges with 0
		unit(2, "Thanks for having me.", "Speaker 2", 4500, 6000, 0.97),
	}

	// The pre-merged low-confidence unit keeps index 0.
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"id":0,"text":"Hello everyone. Today's agenda has two items."}]`,
	}}

	pipe := refine.NewPipeline(p, refine.DefaultConfig())
	res, err := pipe.Refine(context.Background(), in)
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}

	if len(res.Units) != 2 {
		t.Fatalf("expected 2 pre-merged units, got %d", len(res.Units))
	}
	if res.Units[0].CorrectedText != "Hello everyone. Today's agenda has two items." {
		t.Errorf("merged unit not corrected: %q", res.Units[0].CorrectedText)
	}
	if res.Units[1].CorrectedText != res.Units[1].Text {
		t.Errorf("trusted unit must pass through exactly: %q", res.Units[1].CorrectedText)
	}
	if res.Stats.Chunks != 1 || res.Stats.DegradedChunks != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if len(res.Blocks) != 2 {
		t.Errorf("expected 2 blocks (one per speaker), got %d", len(res.Blocks))
	}
}

func TestRefineLosslessOnTotalOutage(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "alpha", "A", 0, 1000, 0.1),
		unit(1, "beta", "A", 2000, 3000, 0.1),
		unit(2, "gamma", "B", 4000, 5000, 0.1),
	}

	p := &mock.Provider{CompleteErr: errors.New("oracle down")}
	pipe := refine.NewPipeline(p, refine.DefaultConfig())

	res, err := pipe.Refine(context.Background(), in)
	if err != nil {
		t.Fatalf("total oracle outage must not fail the pipeline: %v", err)
	}
	if len(res.Units) != 3 {
		t.Fatalf("unit count changed: %d", len(res.Units))
	}
	for i, u := range res.Units {
		if u.CorrectedText != in[i].Text {
			t.Errorf("unit %d should degrade to original text, got %q", i, u.CorrectedText)
		}
		if u.CorrectedText == "" {
			t.Errorf("unit %d corrected text is blank", i)
		}
	}
	if res.Stats.DegradedChunks != res.Stats.Chunks || res.Stats.Chunks == 0 {
		t.Errorf("stats should report full degradation: %+v", res.Stats)
	}
}

func TestRefineOrderPreserved(t *testing.T) {
	t.Parallel()

	in := make([]types.Utterance, 10)
	for i := range in {
		// Alternate speakers so nothing pre-merges; all need correction.
		speaker := "A"
		if i%2 == 1 {
			speaker = "B"
		}
		in[i] = unit(i, "text", speaker, int64(i*2000), int64(i*2000+500), 0.2)
	}

	p := &mock.Provider{CompleteFunc: echoCorrections}
	pipe := refine.NewPipeline(p, refine.DefaultConfig())
	res, err := pipe.Refine(context.Background(), in)
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}

	for i := 1; i < len(res.Units); i++ {
		if res.Units[i].StartMS < res.Units[i-1].StartMS {
			t.Fatalf("output order broken at %d", i)
		}
	}
	for i, u := range res.Units {
		if u.Index != i {
			t.Errorf("unit %d has index %d, order/identity changed", i, u.Index)
		}
	}
}

func TestRefineEmptyInput(t *testing.T) {
	t.Parallel()

	pipe := refine.NewPipeline(&mock.Provider{}, refine.DefaultConfig())
	res, err := pipe.Refine(context.Background(), nil)
	if err != nil {
		t.Fatalf("nil input must yield empty result, got error %v", err)
	}
	if len(res.Units) != 0 || len(res.Blocks) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestRefineRejectsUnorderedInput(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "later", "A", 5000, 6000, 1),
		unit(1, "earlier", "A", 0, 1000, 1),
	}
	pipe := refine.NewPipeline(&mock.Provider{}, refine.DefaultConfig())
	if _, err := pipe.Refine(context.Background(), in); err == nil {
		t.Fatal("expected error for out-of-order input")
	}
}

func TestRefinePassesThroughWithoutOracle(t *testing.T) {
	t.Parallel()

	in := []types.Utterance{
		unit(0, "hallo wold", "A", 0, 1000, 0.1),
		unit(1, "nice to met you", "B", 2000, 3000, 0.2),
	}

	pipe := refine.NewPipeline(nil, refine.DefaultConfig())
	res, err := pipe.Refine(context.Background(), in)
	if err != nil {
		t.Fatalf("Refine() without provider must not error, got %v", err)
	}

	for i, u := range res.Units {
		if u.CorrectedText != in[i].Text {
			t.Errorf("unit %d = %q, want unchanged %q", i, u.CorrectedText, in[i].Text)
		}
	}
	if res.Stats.Chunks != 0 || res.Stats.DegradedChunks != 0 {
		t.Errorf("pass-through must issue no correction batches, stats = %+v", res.Stats)
	}
	if len(res.Blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(res.Blocks))
	}
}
