package evaluate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/kepler/internal/evaluate"
	"github.com/MrWong99/kepler/pkg/provider/llm"
	"github.com/MrWong99/kepler/pkg/provider/llm/mock"
)

const verdictJSON = `{
	"meta": {"title": "Quarterly Review", "category": "economics", "keywords": ["revenue"]},
	"scores": {"logic": 30, "info_density": 28, "expression": 25, "total": 83},
	"analysis": {"main_points": ["revenue grew"], "key_data": ["12%"], "sentiment": "positive"},
	"summary": "A quarterly business review."
}`

func TestEvaluateDirect(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: verdictJSON}}
	e := evaluate.New(p)

	v, err := e.Evaluate(context.Background(), "short transcript text")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Meta.Title != "Quarterly Review" || v.Scores.Total != 83 {
		t.Errorf("verdict wrong: %+v", v)
	}
	if got := len(p.Calls()); got != 1 {
		t.Errorf("short text should evaluate in 1 request, got %d", got)
	}
}

func TestEvaluateToleratesWrappedJSON(t *testing.T) {
	t.Parallel()

	wrapped := "<think>scoring the text now</think>```json\n" + verdictJSON + "\n```"
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: wrapped}}
	e := evaluate.New(p)

	v, err := e.Evaluate(context.Background(), "text")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Scores.Total != 83 {
		t.Errorf("verdict not extracted from wrapped output: %+v", v)
	}
}

func TestEvaluateRetriesOnBadJSON(t *testing.T) {
	t.Parallel()

	call := 0
	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		call++
		if call == 1 {
			return &llm.CompletionResponse{Content: "I think the score is 83."}, nil
		}
		// The retry must carry a corrective reminder message.
		last := req.Messages[len(req.Messages)-1]
		if !strings.Contains(last.Content, "not valid JSON") {
			t.Errorf("retry request missing reminder, got %q", last.Content)
		}
		return &llm.CompletionResponse{Content: verdictJSON}, nil
	}}

	e := evaluate.New(p, evaluate.WithMaxRetries(2))
	v, err := e.Evaluate(context.Background(), "text")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Scores.Total != 83 || call != 2 {
		t.Errorf("retry path wrong: calls=%d verdict=%+v", call, v)
	}
}

func TestEvaluateFailsAfterRetries(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("backend down")}
	e := evaluate.New(p, evaluate.WithMaxRetries(2))

	if _, err := e.Evaluate(context.Background(), "text"); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if got := len(p.Calls()); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestEvaluateMapReduce(t *testing.T) {
	t.Parallel()

	// 3 sentences of ~40 chars with chunk size 50 force multiple chunks.
	text := strings.Repeat("This sentence fills the evaluation chunk. ", 5)

	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if strings.Contains(req.SystemPrompt, "content analysis assistant") {
			return &llm.CompletionResponse{Content: "- a bullet point"}, nil
		}
		// Reduce request must carry the combined segment bullets.
		if !strings.Contains(req.Messages[0].Content, "[Segment 1/") {
			t.Errorf("reduce input missing segment headers: %q", req.Messages[0].Content)
		}
		return &llm.CompletionResponse{Content: verdictJSON}, nil
	}}

	e := evaluate.New(p, evaluate.WithChunkSize(50))
	v, err := e.Evaluate(context.Background(), text)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Scores.Total != 83 {
		t.Errorf("verdict wrong: %+v", v)
	}
	if got := len(p.Calls()); got < 3 {
		t.Errorf("expected map calls plus reduce, got %d calls", got)
	}
}

func TestEvaluateMapFailureDegradesToExcerpt(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Another filler sentence for chunking purposes. ", 4)

	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if strings.Contains(req.SystemPrompt, "content analysis assistant") {
			return nil, errors.New("map backend down")
		}
		// The reduce input should still contain raw-text excerpts.
		if !strings.Contains(req.Messages[0].Content, "filler sentence") {
			t.Errorf("reduce input missing raw excerpt fallback")
		}
		return &llm.CompletionResponse{Content: verdictJSON}, nil
	}}

	e := evaluate.New(p, evaluate.WithChunkSize(60))
	if _, err := e.Evaluate(context.Background(), text); err != nil {
		t.Fatalf("map failures must not fail evaluation: %v", err)
	}
}

func TestEvaluateTruncatesLongInput(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: verdictJSON}}
	e := evaluate.New(p, evaluate.WithMaxTextChars(100), evaluate.WithChunkSize(200))

	if _, err := e.Evaluate(context.Background(), strings.Repeat("x", 500)); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	req := p.Calls()[0].Req
	if strings.Count(req.Messages[0].Content, "x") > 100 {
		t.Errorf("input not truncated: %d x's", strings.Count(req.Messages[0].Content, "x"))
	}
}

func TestEvaluateNilResponseFailsCleanly(t *testing.T) {
	t.Parallel()

	// A zero-value mock returns (nil, nil); every attempt must count as a
	// failed request rather than panic.
	p := &mock.Provider{}
	_, err := evaluate.New(p, evaluate.WithMaxRetries(2)).Evaluate(context.Background(), "short text")
	if err == nil {
		t.Fatal("expected error after exhausted attempts, got nil")
	}
	if got := len(p.Calls()); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}
