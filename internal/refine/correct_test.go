package refine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/kepler/internal/refine"
	"github.com/MrWong99/kepler/pkg/provider/llm"
	"github.com/MrWong99/kepler/pkg/provider/llm/mock"
	"github.com/MrWong99/kepler/pkg/types"
)

// echoCorrections answers every request with a valid response correcting
// each unit to "fixed <id>".
func echoCorrections(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var records []struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(req.Messages[0].Content), &records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Text = fmt.Sprintf("fixed %d", records[i].ID)
	}
	body, _ := json.Marshal(records)
	return &llm.CompletionResponse{Content: string(body)}, nil
}

func TestCorrectAppliesById(t *testing.T) {
	t.Parallel()

	units := []types.Utterance{
		unit(0, "raw zero", "A", 0, 1, 0.5),
		unit(1, "raw one", "A", 1, 2, 0.5),
	}
	chunks := []refine.Chunk{{Start: 0, End: 2}}

	c := refine.NewCorrector(&mock.Provider{CompleteFunc: echoCorrections})
	stats := c.Correct(context.Background(), units, chunks)

	if stats.DegradedChunks != 0 || stats.DegradedUnits != 0 {
		t.Errorf("unexpected degradation: %+v", stats)
	}
	if units[0].CorrectedText != "fixed 0" || units[1].CorrectedText != "fixed 1" {
		t.Errorf("corrections not applied: %q, %q", units[0].CorrectedText, units[1].CorrectedText)
	}
	if units[0].Text != "raw zero" {
		t.Errorf("original text must stay immutable, got %q", units[0].Text)
	}
}

func TestCorrectReconcilesOutOfOrderResponse(t *testing.T) {
	t.Parallel()

	units := []types.Utterance{
		unit(10, "a", "A", 0, 1, 0.5),
		unit(11, "b", "A", 1, 2, 0.5),
		unit(12, "c", "A", 2, 3, 0.5),
	}
	chunks := []refine.Chunk{{Start: 0, End: 3}}

	// Records come back permuted; reconciliation must key by id.
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"id":12,"text":"C"},{"id":10,"text":"A"},{"id":11,"text":"B"}]`,
	}}
	c := refine.NewCorrector(p)
	c.Correct(context.Background(), units, chunks)

	want := []string{"A", "B", "C"}
	for i, w := range want {
		if units[i].CorrectedText != w {
			t.Errorf("unit %d corrected to %q, want %q", i, units[i].CorrectedText, w)
		}
	}
}

func TestCorrectChunkFailureIsolated(t *testing.T) {
	t.Parallel()

	units := []types.Utterance{
		unit(0, "first chunk", "A", 0, 1, 0.5),
		unit(1, "second chunk", "A", 1, 2, 0.5),
	}
	chunks := []refine.Chunk{{Start: 0, End: 1}, {Start: 1, End: 2}}

	var calls atomic.Int64
	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("oracle unreachable")
		}
		return echoCorrections(ctx, req)
	}}

	c := refine.NewCorrector(p, refine.WithConcurrency(1))
	stats := c.Correct(context.Background(), units, chunks)

	if stats.DegradedChunks != 1 || stats.DegradedUnits != 1 {
		t.Errorf("stats = %+v, want exactly one degraded chunk and unit", stats)
	}
	if units[0].CorrectedText != "first chunk" {
		t.Errorf("failed chunk must keep original text, got %q", units[0].CorrectedText)
	}
	if units[1].CorrectedText != "fixed 1" {
		t.Errorf("sibling chunk must still be corrected, got %q", units[1].CorrectedText)
	}
}

func TestCorrectMissingIdDegradesUnitOnly(t *testing.T) {
	t.Parallel()

	units := []types.Utterance{
		unit(0, "kept", "A", 0, 1, 0.5),
		unit(1, "fixed", "A", 1, 2, 0.5),
	}
	chunks := []refine.Chunk{{Start: 0, End: 2}}

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"id":1,"text":"corrected one"}]`,
	}}
	c := refine.NewCorrector(p)
	stats := c.Correct(context.Background(), units, chunks)

	if units[0].CorrectedText != "kept" {
		t.Errorf("unit with missing id must keep original, got %q", units[0].CorrectedText)
	}
	if units[1].CorrectedText != "corrected one" {
		t.Errorf("matched unit not corrected: %q", units[1].CorrectedText)
	}
	if stats.DegradedUnits != 1 || stats.DegradedChunks != 0 {
		t.Errorf("stats = %+v, want one degraded unit, no degraded chunks", stats)
	}
}

func TestCorrectBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const limit = 2
	var (
		mu       sync.Mutex
		inflight int
		peak     int
	)
	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return echoCorrections(ctx, req)
	}}

	units := make([]types.Utterance, 8)
	chunks := make([]refine.Chunk, 8)
	for i := range units {
		units[i] = unit(i, "t", "A", int64(i), int64(i+1), 0.5)
		chunks[i] = refine.Chunk{Start: i, End: i + 1}
	}

	c := refine.NewCorrector(p, refine.WithConcurrency(limit))
	c.Correct(context.Background(), units, chunks)

	if peak > limit {
		t.Errorf("peak in-flight requests = %d, cap is %d", peak, limit)
	}
	if got := len(p.Calls()); got != 8 {
		t.Errorf("expected 8 oracle calls, got %d", got)
	}
}

func TestCorrectDegradesOnNilResponse(t *testing.T) {
	t.Parallel()

	units := []types.Utterance{
		unit(0, "raw zero", "A", 0, 1, 0.5),
		unit(1, "raw one", "A", 1, 2, 0.5),
	}
	chunks := []refine.Chunk{{Start: 0, End: 2}}

	// A zero-value mock returns (nil, nil); that must degrade the chunk,
	// not panic the corrector.
	c := refine.NewCorrector(&mock.Provider{})
	stats := c.Correct(context.Background(), units, chunks)

	if stats.DegradedChunks != 1 || stats.DegradedUnits != 2 {
		t.Errorf("stats = %+v, want whole chunk degraded", stats)
	}
	if units[0].CorrectedText != "raw zero" || units[1].CorrectedText != "raw one" {
		t.Errorf("degraded units must keep original text: %q, %q",
			units[0].CorrectedText, units[1].CorrectedText)
	}
}
