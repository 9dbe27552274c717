// Command kepler refines recogniser transcripts: it ingests recognised
// utterances, applies hotword replacement, corrects low-confidence stretches
// through an LLM oracle, and writes the resulting speaker blocks as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/kepler/internal/config"
	"github.com/MrWong99/kepler/internal/evaluate"
	"github.com/MrWong99/kepler/internal/hotword"
	"github.com/MrWong99/kepler/internal/ingest"
	"github.com/MrWong99/kepler/internal/observe"
	"github.com/MrWong99/kepler/internal/refine"
	"github.com/MrWong99/kepler/internal/task"
	taskpg "github.com/MrWong99/kepler/internal/task/postgres"
	"github.com/MrWong99/kepler/pkg/provider/llm"
	"github.com/MrWong99/kepler/pkg/provider/llm/anyllm"
	"github.com/MrWong99/kepler/pkg/provider/llm/openai"
	"github.com/MrWong99/kepler/pkg/types"
)

// document is the JSON output shape.
type document struct {
	TaskID  string            `json:"task_id"`
	Text    string            `json:"text"`
	Blocks  []types.Block     `json:"blocks"`
	Verdict *evaluate.Verdict `json:"evaluation,omitempty"`
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "", "path to the recognizer output JSON document")
	outputPath := flag.String("output", "-", "path for the refined transcript JSON ('-' for stdout)")
	hotwordsPath := flag.String("hotwords", "", "path to a hotword rules file (overrides config)")
	runEval := flag.Bool("evaluate", false, "also run content evaluation on the refined transcript")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "kepler: -input is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kepler: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kepler: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kepler"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr)
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}

	store, closeStore, err := buildStore(ctx, cfg.Tasks)
	if err != nil {
		slog.Error("failed to connect task store", "err", err)
		return 1
	}
	defer closeStore()

	manager := task.NewManager(store,
		task.WithMaxInMemory(cfg.Tasks.MaxInMemory),
		task.WithFlushInterval(cfg.Tasks.FlushInterval),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			slog.Warn("task state flush failed", "err", err)
		}
	}()

	if err := refineFile(ctx, cfg, provider, manager, *inputPath, *outputPath, *hotwordsPath, *runEval); err != nil {
		slog.Error("refinement failed", "err", err)
		return 1
	}
	return 0
}

// refineFile runs the full ingest → hotword → refine (→ evaluate) flow for
// one recognizer document and writes the output.
func refineFile(ctx context.Context, cfg *config.Config, provider llm.Provider, manager *task.Manager, inputPath, outputPath, hotwordsPath string, runEval bool) error {
	units, err := ingest.Load(inputPath, aggregator(cfg.Ingest.Aggregator))
	if err != nil {
		return err
	}
	slog.Info("recognizer document ingested", "input", inputPath, "units", len(units))

	rulesPath := hotwordsPath
	if rulesPath == "" {
		rulesPath = cfg.HotwordsFile
	}
	if rulesPath != "" {
		replacer, err := hotword.Load(rulesPath)
		if err != nil {
			return err
		}
		replacer.ApplyUnits(units)
		slog.Info("hotword rules applied", "rules", rulesPath)
	}

	t := manager.Create()
	manager.SetRunning(t.ID, 1)

	pipeline := refine.NewPipeline(provider, refine.Config{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		RunMergeGap:         cfg.Pipeline.RunMergeGap,
		ChunkBudget:         cfg.Pipeline.ChunkBudget,
		Concurrency:         cfg.Pipeline.Concurrency,
		PreMergeGapMS:       cfg.Pipeline.PreMergeGapMS,
		PostMergeGapMS:      cfg.Pipeline.PostMergeGapMS,
		SmoothMaxDurationMS: cfg.Pipeline.SmoothMaxDurationMS,
		RequestTimeout:      cfg.Pipeline.RequestTimeout,
		Temperature:         cfg.LLM.Temperature,
	})

	result, err := pipeline.Refine(ctx, units)
	if err != nil {
		manager.Fail(t.ID, err)
		return err
	}

	doc := document{TaskID: t.ID, Blocks: result.Blocks}
	for _, b := range result.Blocks {
		doc.Text += b.Text()
	}

	if runEval && provider == nil {
		slog.Warn("content evaluation skipped: no llm provider configured")
		runEval = false
	}
	if runEval {
		verdict, err := evaluate.New(provider,
			evaluate.WithMaxTextChars(cfg.Evaluation.MaxTextChars),
			evaluate.WithChunkSize(cfg.Evaluation.ChunkSize),
			evaluate.WithMaxRetries(cfg.Evaluation.MaxRetries),
			evaluate.WithTemperature(cfg.LLM.Temperature),
		).Evaluate(ctx, doc.Text)
		if err != nil {
			// Evaluation is additive; a failed verdict does not void the
			// refined transcript.
			slog.Warn("content evaluation failed", "err", err)
		} else {
			doc.Verdict = verdict
		}
	}

	summary, err := json.Marshal(map[string]int{
		"units":           len(result.Units),
		"blocks":          len(result.Blocks),
		"chunks":          result.Stats.Chunks,
		"degraded_chunks": result.Stats.DegradedChunks,
		"degraded_units":  result.Stats.DegradedUnits,
	})
	if err == nil {
		manager.Complete(t.ID, summary)
	} else {
		manager.Complete(t.ID, nil)
	}

	return writeDocument(outputPath, doc)
}

func writeDocument(path string, doc document) error {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	out = append(out, '\n')

	if path == "-" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write output %q: %w", path, err)
	}
	slog.Info("refined transcript written", "output", path)
	return nil
}

// buildProvider instantiates the configured LLM backend, always wrapped with
// bounded retries. An empty provider name yields a nil provider, which puts
// the pipeline in pass-through mode.
func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	var (
		inner llm.Provider
		err   error
	)

	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		inner, err = openai.New(cfg.APIKey, cfg.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		inner, err = anyllm.New(cfg.Provider, cfg.Model, opts...)
	}
	if err != nil {
		return nil, err
	}

	return llm.WithRetries(inner, llm.RetryConfig{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
	}), nil
}

// buildStore connects the Postgres task store when a DSN is configured.
// Without one, tasks stay in memory only.
func buildStore(ctx context.Context, cfg config.TasksConfig) (task.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return nil, func() {}, nil
	}
	store, err := taskpg.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func aggregator(name config.Aggregator) ingest.Aggregator {
	switch name {
	case config.AggregatorMin:
		return ingest.Min
	case config.AggregatorGeomean:
		return ingest.GeometricMean
	default:
		return ingest.Mean
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics endpoint failed", "err", err)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
