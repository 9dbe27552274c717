package refine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/kepler/internal/observe"
	"github.com/MrWong99/kepler/pkg/provider/llm"
	"github.com/MrWong99/kepler/pkg/types"
)

// Config holds the pipeline tunables. The zero value is not usable; start
// from [DefaultConfig].
type Config struct {
	// ConfidenceThreshold is the trust boundary τ: units at or above it
	// bypass correction.
	ConfidenceThreshold float64

	// RunMergeGap is the maximum trusted-unit gap absorbed between two
	// needs-correction runs.
	RunMergeGap int

	// ChunkBudget is the per-batch character budget.
	ChunkBudget int

	// Concurrency caps simultaneous oracle requests.
	Concurrency int

	// PreMergeGapMS and PostMergeGapMS are the merge thresholds for the
	// correction-granularity and display-granularity merges.
	PreMergeGapMS  int64
	PostMergeGapMS int64

	// SmoothMaxDurationMS bounds how long an isolated speaker flip may be
	// and still be smoothed away.
	SmoothMaxDurationMS int64

	// RequestTimeout bounds each individual oracle request.
	RequestTimeout time.Duration

	// Temperature is the oracle sampling temperature.
	Temperature float64
}

// DefaultConfig returns the documented pipeline defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.9,
		RunMergeGap:         3,
		ChunkBudget:         600,
		Concurrency:         4,
		PreMergeGapMS:       500,
		PostMergeGapMS:      5000,
		SmoothMaxDurationMS: 1500,
		RequestTimeout:      120 * time.Second,
		Temperature:         0.1,
	}
}

// Result is the output of one pipeline run.
type Result struct {
	// Units is the ordered corrected unit sequence at pre-merged
	// granularity. Same length and order as the pre-merged input; every
	// CorrectedText is non-empty wherever Text was.
	Units []types.Utterance

	// Blocks is the display-granularity grouping of Units.
	Blocks []types.Block

	// Stats aggregates correction outcomes.
	Stats CorrectionStats
}

// Pipeline wires the refinement stages: smoothing, pre-merge, confidence
// filtering with run merging, chunking, concurrent oracle correction, and
// the display merge.
type Pipeline struct {
	cfg       Config
	corrector *Corrector
	log       *slog.Logger
	metrics   *observe.Metrics
}

// PipelineOption customises a [Pipeline].
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger for pipeline-level aggregate messages.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPipelineMetrics sets the metrics instance used for stage timings.
func WithPipelineMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPipeline creates a Pipeline correcting through the given provider.
// A nil provider puts the pipeline in pass-through mode: all merge and
// grouping stages still run, but no correction requests are issued and every
// unit keeps its recogniser text.
func NewPipeline(provider llm.Provider, cfg Config, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if provider != nil {
		p.corrector = NewCorrector(provider,
			WithConcurrency(cfg.Concurrency),
			WithTimeout(cfg.RequestTimeout),
			WithTemperature(cfg.Temperature),
			WithLogger(p.log),
			WithMetrics(p.metrics),
		)
	}
	return p
}

// Refine runs the full pipeline over the ingested unit sequence and returns
// corrected units plus display blocks.
//
// Correction failures never surface as errors: the worst case is a complete
// transcript at recogniser quality, reported through Result.Stats and a
// warning log. Refine errors only on structurally invalid input; a nil or
// empty sequence yields an empty Result.
func (p *Pipeline) Refine(ctx context.Context, units []types.Utterance) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "refine.Pipeline.Refine")
	defer span.End()

	if len(units) == 0 {
		return &Result{}, nil
	}
	if err := validate(units); err != nil {
		return nil, fmt.Errorf("refine: invalid input: %w", err)
	}

	units = p.timedStage(ctx, "smooth", func() []types.Utterance {
		return Smooth(units, p.cfg.SmoothMaxDurationMS)
	})
	units = p.timedStage(ctx, "premerge", func() []types.Utterance {
		return PreMerge(units, p.cfg.PreMergeGapMS)
	})

	var (
		runs  []Run
		stats CorrectionStats
	)
	if p.corrector != nil {
		runs = DetectRuns(units, p.cfg.ConfidenceThreshold, p.cfg.RunMergeGap)
		chunks := BuildChunks(units, runs, p.cfg.ChunkBudget)

		start := time.Now()
		stats = p.corrector.Correct(ctx, units, chunks)
		p.metrics.RecordStage(ctx, "correct", time.Since(start).Seconds())
	} else {
		p.log.Info("no oracle configured, transcript passes through uncorrected",
			"units", len(units))
	}

	if stats.DegradedChunks > 0 {
		p.log.Warn("correction partially degraded",
			"degraded_chunks", stats.DegradedChunks,
			"total_chunks", stats.Chunks,
			"degraded_units", stats.DegradedUnits,
		)
	}

	start := time.Now()
	blocks := PostMerge(units, p.cfg.PostMergeGapMS)
	p.metrics.RecordStage(ctx, "postmerge", time.Since(start).Seconds())

	p.log.Info("transcript refined",
		"units", len(units),
		"runs", len(runs),
		"chunks", stats.Chunks,
		"blocks", len(blocks),
	)
	return &Result{Units: units, Blocks: blocks, Stats: stats}, nil
}

// timedStage runs fn and records its duration under the stage label.
func (p *Pipeline) timedStage(ctx context.Context, stage string, fn func() []types.Utterance) []types.Utterance {
	start := time.Now()
	out := fn()
	p.metrics.RecordStage(ctx, stage, time.Since(start).Seconds())
	return out
}

// validate rejects input the pipeline cannot safely default: negative spans
// or a sequence not ordered by start time.
func validate(units []types.Utterance) error {
	for i, u := range units {
		if u.EndMS < u.StartMS {
			return fmt.Errorf("unit %d: end %dms before start %dms", u.Index, u.EndMS, u.StartMS)
		}
		if i > 0 && u.StartMS < units[i-1].StartMS {
			return fmt.Errorf("unit %d: start %dms out of order", u.Index, u.StartMS)
		}
	}
	return nil
}
