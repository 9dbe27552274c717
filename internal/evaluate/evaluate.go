// Package evaluate derives a structured content verdict from a refined
// transcript using the LLM provider.
//
// Short transcripts are scored in a single request. Long transcripts are
// evaluated map-reduce style: the text is split at sentence boundaries into
// chunks, each chunk is condensed to bullet points concurrently, and the
// combined bullet points are reduced to one final verdict. This keeps every
// individual request inside a modest context window regardless of recording
// length.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kepler/internal/observe"
	"github.com/MrWong99/kepler/pkg/provider/llm"
)

const (
	defaultMaxTextChars = 50_000
	defaultChunkSize    = 6_000
	defaultMaxRetries   = 2
	defaultTemperature  = 0.1

	// mapFallbackChars is how much raw chunk text stands in for a bullet
	// summary when a map request fails.
	mapFallbackChars = 500
)

const verdictSystemPrompt = `You are a strict data extraction engine, not a chat assistant.
Task: extract key evaluation metrics from the transcript the user provides.

### Scoring dimensions (100 points total)
1. logic (35): are opening, body and closing clear, are the arguments coherent?
2. info_density (35): does the content deliver substance (data, cases, evidence)?
3. expression (30): is the language clear, free of ambiguity and redundancy?

### Hard format constraints
1. Output exactly one valid JSON object and nothing else.
2. No markdown, no preamble, no closing remarks, no explanations.
3. Ignore minor homophone errors introduced by speech recognition; judge the meaning.
4. When a field cannot be extracted, use an empty string or 0.

### JSON structure
{
    "meta": {
        "title": "a precise title for the content",
        "category": "inferred category (e.g. economics/technology/training/product)",
        "keywords": ["keyword1", "keyword2", "keyword3"]
    },
    "scores": {
        "logic": 0,
        "info_density": 0,
        "expression": 0,
        "total": 0
    },
    "analysis": {
        "main_points": ["core point 1", "core point 2", "core point 3"],
        "key_data": ["key figure 1", "key figure 2"],
        "sentiment": "overall sentiment (positive/neutral/negative)"
    },
    "summary": "in-depth summary, at most 300 words"
}`

const mapSystemPrompt = `You are a professional content analysis assistant.
Task: read the given text segment and distill its core content.

Requirements:
1. Extract the segment's core points (2-5 bullets).
2. Extract key figures or facts mentioned, if any.
3. Summarize the segment's topic in 1-2 sentences.
4. No preamble or closing remarks; output the bullets directly.
5. Ignore minor speech recognition homophone errors; judge the meaning.`

const retryReminder = "Your previous answer was not valid JSON. " +
	"Output strictly the JSON object only: no reasoning, no markdown, no explanations."

// Meta identifies the evaluated content.
type Meta struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Scores holds the three dimension scores plus the total.
type Scores struct {
	Logic       int `json:"logic"`
	InfoDensity int `json:"info_density"`
	Expression  int `json:"expression"`
	Total       int `json:"total"`
}

// Analysis holds the extracted content analysis.
type Analysis struct {
	MainPoints []string `json:"main_points"`
	KeyData    []string `json:"key_data"`
	Sentiment  string   `json:"sentiment"`
}

// Verdict is the complete structured evaluation result.
type Verdict struct {
	Meta     Meta     `json:"meta"`
	Scores   Scores   `json:"scores"`
	Analysis Analysis `json:"analysis"`
	Summary  string   `json:"summary"`
}

// Option is a functional option for configuring an [Evaluator].
type Option func(*Evaluator)

// WithMaxTextChars caps the input length in runes; longer input is
// truncated. Default: 50000.
func WithMaxTextChars(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxTextChars = n
		}
	}
}

// WithChunkSize sets the map-phase chunk size in runes; input at or below it
// is evaluated in one request. Default: 6000.
func WithChunkSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithMaxRetries bounds re-prompting when the verdict does not parse.
// Default: 2 attempts total.
func WithMaxRetries(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(t float64) Option {
	return func(e *Evaluator) { e.temperature = t }
}

// WithLogger sets the logger. Default: slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Evaluator scores transcript content through an LLM provider. Safe for
// concurrent use.
type Evaluator struct {
	provider     llm.Provider
	log          *slog.Logger
	metrics      *observe.Metrics
	maxTextChars int
	chunkSize    int
	maxRetries   int
	temperature  float64
}

// New creates an Evaluator talking to the given provider.
func New(provider llm.Provider, opts ...Option) *Evaluator {
	e := &Evaluator{
		provider:     provider,
		log:          slog.Default(),
		metrics:      observe.DefaultMetrics(),
		maxTextChars: defaultMaxTextChars,
		chunkSize:    defaultChunkSize,
		maxRetries:   defaultMaxRetries,
		temperature:  defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate scores text and returns the structured verdict. Long input
// switches to the map-reduce strategy transparently.
func (e *Evaluator) Evaluate(ctx context.Context, text string) (*Verdict, error) {
	ctx, span := observe.StartSpan(ctx, "evaluate.Evaluator.Evaluate")
	defer span.End()

	start := time.Now()
	defer func() {
		e.metrics.EvaluationDuration.Record(ctx, time.Since(start).Seconds())
	}()

	runes := []rune(text)
	if len(runes) > e.maxTextChars {
		e.log.Warn("text too long for evaluation, truncating",
			"chars", len(runes), "max", e.maxTextChars)
		runes = runes[:e.maxTextChars]
		text = string(runes)
	}

	if len(runes) <= e.chunkSize {
		return e.requestVerdict(ctx, text)
	}
	return e.mapReduce(ctx, text)
}

// mapReduce condenses each chunk to bullet points concurrently, then reduces
// the combined bullets to one verdict.
func (e *Evaluator) mapReduce(ctx context.Context, text string) (*Verdict, error) {
	chunks := chunkText(text, e.chunkSize)
	e.log.Info("map-reduce evaluation",
		"chars", len([]rune(text)), "chunks", len(chunks), "chunk_size", e.chunkSize)

	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			summaries[i] = e.mapChunk(gctx, i, len(chunks), chunk)
			return nil
		})
	}
	// Map goroutines never return errors; a failed chunk falls back to a
	// raw-text excerpt so one bad request cannot sink the evaluation.
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate: map phase: %w", err)
	}

	var combined strings.Builder
	for i, s := range summaries {
		if i > 0 {
			combined.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&combined, "[Segment %d/%d]\n%s", i+1, len(chunks), s)
	}

	reduceInput := "The following are per-segment bullet points of one long transcript. " +
		"Combine them and evaluate the transcript as a whole.\n\n" + combined.String()
	return e.requestVerdict(ctx, reduceInput)
}

// mapChunk condenses one segment to bullet points. Failures degrade to a
// raw-text excerpt, never to an error.
func (e *Evaluator) mapChunk(ctx context.Context, index, total int, chunk string) string {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: mapSystemPrompt,
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf("Segment %d of %d. Distill the core points:\n\n%s",
				index+1, total, chunk),
		}},
		Temperature: e.temperature,
	})
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil {
		e.log.Warn("map chunk failed, using raw excerpt",
			"chunk", index+1, "total", total, "error", err)
		runes := []rune(chunk)
		if len(runes) > mapFallbackChars {
			runes = runes[:mapFallbackChars]
		}
		return string(runes)
	}

	content := strings.TrimSpace(stripThink(resp.Content))
	if content == "" {
		return fmt.Sprintf("(segment %d produced no summary)", index+1)
	}
	return content
}

// requestVerdict asks for the verdict JSON with bounded re-prompting.
func (e *Evaluator) requestVerdict(ctx context.Context, text string) (*Verdict, error) {
	messages := []llm.Message{{
		Role: "user",
		Content: "[TEXT START]\n" + text + "\n[TEXT END]\n\n" +
			"Reminder: ignore colloquialisms and output only the JSON evaluation report.",
	}}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if attempt > 1 {
			messages = append(messages, llm.Message{Role: "user", Content: retryReminder})
		}

		resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: verdictSystemPrompt,
			Messages:     messages,
			Temperature:  e.temperature,
		})
		if err == nil && resp == nil {
			err = errors.New("provider returned no response")
		}
		if err != nil {
			lastErr = err
			e.log.Warn("evaluation request failed",
				"attempt", attempt, "max", e.maxRetries, "error", err)
			continue
		}

		raw := extractObject(resp.Content)
		var v Verdict
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			lastErr = fmt.Errorf("decode verdict: %w", err)
			e.log.Warn("evaluation verdict unparseable",
				"attempt", attempt, "max", e.maxRetries, "error", err)
			continue
		}

		e.log.Info("evaluation succeeded",
			"attempt", attempt, "title", v.Meta.Title, "total_score", v.Scores.Total)
		return &v, nil
	}
	return nil, fmt.Errorf("evaluate: all %d attempts failed: %w", e.maxRetries, lastErr)
}

var (
	thinkPairRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkOpenRe  = regexp.MustCompile(`(?s)<think>.*`)
	thinkCloseRe = regexp.MustCompile(`(?s)^.*?</think>`)
)

// stripThink removes model reasoning tags, including unbalanced ones from
// truncated output.
func stripThink(s string) string {
	s = thinkPairRe.ReplaceAllString(s, "")
	s = thinkOpenRe.ReplaceAllString(s, "")
	return thinkCloseRe.ReplaceAllString(s, "")
}

// extractObject pulls the outermost JSON object out of LLM output, tolerating
// reasoning tags, markdown fences, and surrounding prose.
func extractObject(s string) string {
	s = stripThink(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndex(s, "}"); i >= 0 {
		s = s[:i+1]
	}
	return strings.TrimSpace(s)
}

// sentenceEndings are the boundary characters chunkText prefers to split at.
const sentenceEndings = "。！？；.!?;\n"

// chunkText splits text into chunks of at most size runes, preferring
// sentence boundaries. It scans backwards from the size limit down to half a
// chunk; when no boundary is found in that window it splits hard.
func chunkText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		split := end
		for i := end; i > start+size/2; i-- {
			if strings.ContainsRune(sentenceEndings, runes[i]) {
				split = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[start:split]))
		start = split
	}
	return chunks
}
