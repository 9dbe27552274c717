package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists the provider names recognised by the registry.
// Used by [Validate] to warn about unrecognised names.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unknown llm provider name — may be a typo or third-party provider",
			"name", cfg.LLM.Provider,
			"known", ValidLLMProviders,
		)
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required when llm.provider is set"))
	}
	if cfg.LLM.Provider == "" {
		slog.Warn("no llm provider configured; transcripts will pass through uncorrected")
	}

	p := cfg.Pipeline
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.confidence_threshold %.2f is out of range [0, 1]", p.ConfidenceThreshold))
	}
	if p.RunMergeGap < 0 {
		errs = append(errs, fmt.Errorf("pipeline.run_merge_gap %d must not be negative", p.RunMergeGap))
	}
	if p.ChunkBudget < 1 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_budget %d must be at least 1", p.ChunkBudget))
	}
	if p.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency %d must be at least 1", p.Concurrency))
	}
	if p.PreMergeGapMS < 0 || p.PostMergeGapMS < 0 || p.SmoothMaxDurationMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline gap thresholds must not be negative"))
	}
	if p.PostMergeGapMS < p.PreMergeGapMS {
		slog.Warn("pipeline.post_merge_gap_ms is tighter than pre_merge_gap_ms; display blocks will not coalesce beyond pre-merged units",
			"pre_merge_gap_ms", p.PreMergeGapMS,
			"post_merge_gap_ms", p.PostMergeGapMS,
		)
	}

	if !cfg.Ingest.Aggregator.IsValid() {
		errs = append(errs, fmt.Errorf("ingest.aggregator %q is invalid; valid values: mean, min, geomean", cfg.Ingest.Aggregator))
	}

	if cfg.Evaluation.ChunkSize > cfg.Evaluation.MaxTextChars {
		errs = append(errs, fmt.Errorf("evaluation.chunk_size %d exceeds evaluation.max_text_chars %d", cfg.Evaluation.ChunkSize, cfg.Evaluation.MaxTextChars))
	}

	if cfg.Tasks.MaxInMemory < 1 {
		errs = append(errs, fmt.Errorf("tasks.max_in_memory %d must be at least 1", cfg.Tasks.MaxInMemory))
	}

	return errors.Join(errs...)
}
