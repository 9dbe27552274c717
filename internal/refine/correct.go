package refine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/kepler/internal/observe"
	"github.com/MrWong99/kepler/pkg/provider/llm"
	"github.com/MrWong99/kepler/pkg/types"
)

// correctionSystemPrompt instructs the oracle to repair recognition errors
// without restructuring the batch. The id contract is what makes the
// reconciliation step safe: responses are applied by id, never by position.
const correctionSystemPrompt = `You are a speech transcript correction assistant. You receive a JSON array of speech recognition results, each record of the form {"id": <integer>, "text": <string>}.

Correct only obvious recognition errors inside each "text":
- homophone and near-homophone substitutions,
- number and unit formatting,
- punctuation,
- light removal of filler words ("uh", "um" and equivalents).

Hard rules:
1. Never change, add, remove or reorder "id" values.
2. Never merge or split records. Return exactly one record per input record.
3. Do not rewrite, summarize, translate or embellish. When the original wording is plausible, keep it unchanged.
4. Respond with ONLY the corrected JSON array. No explanations, no markdown fences, no surrounding text.`

// Corrector sends correction chunks to an LLM oracle under a shared
// concurrency cap and reconciles responses onto the unit sequence by stable
// index. A Corrector is safe for concurrent use.
type Corrector struct {
	provider    llm.Provider
	log         *slog.Logger
	metrics     *observe.Metrics
	concurrency int64
	timeout     time.Duration
	temperature float64
}

// CorrectorOption customises a [Corrector].
type CorrectorOption func(*Corrector)

// WithConcurrency caps simultaneous in-flight oracle requests. Values below
// 1 are ignored.
func WithConcurrency(n int) CorrectorOption {
	return func(c *Corrector) {
		if n >= 1 {
			c.concurrency = int64(n)
		}
	}
}

// WithTimeout bounds each individual oracle request.
func WithTimeout(d time.Duration) CorrectorOption {
	return func(c *Corrector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTemperature sets the sampling temperature for correction requests.
func WithTemperature(t float64) CorrectorOption {
	return func(c *Corrector) { c.temperature = t }
}

// WithLogger sets the logger used for per-chunk degradation warnings.
func WithLogger(l *slog.Logger) CorrectorOption {
	return func(c *Corrector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) CorrectorOption {
	return func(c *Corrector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCorrector creates a Corrector talking to the given provider.
// Defaults: 4 concurrent requests, 120s per-request timeout, temperature 0.1.
func NewCorrector(provider llm.Provider, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		provider:    provider,
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
		concurrency: 4,
		timeout:     120 * time.Second,
		temperature: 0.1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CorrectionStats aggregates correction outcomes for one pipeline run.
type CorrectionStats struct {
	// Chunks is the total number of correction batches issued.
	Chunks int

	// DegradedChunks counts batches that fell back entirely to original
	// text, from transport errors or unrecoverable responses.
	DegradedChunks int

	// DegradedUnits counts individual units whose corrected text fell back
	// to the original, including units inside degraded chunks.
	DegradedUnits int
}

// Correct issues one oracle request per chunk, all gated by the shared
// concurrency cap, and writes corrected text into units by stable index.
// Chunks partition the unit positions disjointly, so concurrent writes never
// race.
//
// Failures never propagate: a chunk whose request or parse fails leaves its
// units at their pre-correction text and does not disturb sibling chunks.
// The returned stats let callers log and alert on aggregate degradation.
func (c *Corrector) Correct(ctx context.Context, units []types.Utterance, chunks []Chunk) CorrectionStats {
	stats := CorrectionStats{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return stats
	}

	sem := semaphore.NewWeighted(c.concurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk Chunk) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				// Context gone before a slot opened; whole chunk degrades.
				mu.Lock()
				stats.DegradedChunks++
				stats.DegradedUnits += chunk.End - chunk.Start
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			degradedUnits, chunkDegraded := c.correctChunk(ctx, units, chunk)

			mu.Lock()
			if chunkDegraded {
				stats.DegradedChunks++
			}
			stats.DegradedUnits += degradedUnits
			mu.Unlock()
		}(chunk)
	}
	wg.Wait()

	return stats
}

// correctChunk runs one oracle round-trip and applies the response to the
// chunk's units. Returns the number of degraded units and whether the whole
// chunk degraded.
func (c *Corrector) correctChunk(ctx context.Context, units []types.Utterance, chunk Chunk) (int, bool) {
	size := chunk.End - chunk.Start

	payload := make([]correctionRecord, 0, size)
	for _, u := range chunk.Units(units) {
		payload = append(payload, correctionRecord{ID: u.Index, Text: u.CorrectedText})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		// Cannot happen for plain string/int fields; degrade defensively.
		c.log.Error("correction chunk marshal failed", "error", err)
		return size, true
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.metrics.InFlightRequests.Add(ctx, 1)
	start := time.Now()
	resp, err := c.provider.Complete(reqCtx, llm.CompletionRequest{
		SystemPrompt: correctionSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: string(body)}},
		Temperature:  c.temperature,
	})
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.InFlightRequests.Add(ctx, -1)

	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("correction chunk degraded",
				"units", size, "first_id", units[chunk.Start].Index, "error", err)
		}
		c.metrics.RecordChunk(ctx, "degraded")
		c.metrics.RecordDegraded(ctx, int64(size))
		return size, true
	}

	corrections, tier := ParseCorrections(resp.Content)
	c.metrics.RecordParseOutcome(ctx, tier)
	if tier == TierFailed {
		c.log.Warn("correction response unparseable, chunk degraded",
			"units", size, "first_id", units[chunk.Start].Index)
		c.metrics.RecordChunk(ctx, "degraded")
		c.metrics.RecordDegraded(ctx, int64(size))
		return size, true
	}

	degraded := 0
	for i := chunk.Start; i < chunk.End; i++ {
		text, ok := corrections[units[i].Index]
		if !ok || text == "" {
			// Missing or blanked id: keep the pre-correction text.
			degraded++
			continue
		}
		units[i].CorrectedText = text
	}

	c.metrics.RecordChunk(ctx, "ok")
	c.metrics.RecordDegraded(ctx, int64(degraded))
	return degraded, false
}
