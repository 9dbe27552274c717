package hotword_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/kepler/internal/hotword"
	"github.com/MrWong99/kepler/pkg/types"
)

func TestParseRulesFile(t *testing.T) {
	t.Parallel()

	input := `
# domain vocabulary
cooper netties->Kubernetes
Grafana          # bare word protects
pros metheus -> Prometheus
`
	r, err := hotword.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got := r.Apply("we deploy cooper netties with pros metheus and Grafana")
	want := "we deploy Kubernetes with Prometheus and Grafana"
	if got != want {
		t.Errorf("Apply() = %q, want %q", got, want)
	}
}

func TestParseRejectsHalfMapping(t *testing.T) {
	t.Parallel()

	if _, err := hotword.Parse(strings.NewReader("broken->")); err == nil {
		t.Fatal("expected error for mapping without right side")
	}
}

func TestApplyLongestMappingWins(t *testing.T) {
	t.Parallel()

	r := hotword.New([]hotword.Rule{
		{Wrong: "data", Right: "Dana"},
		{Wrong: "data dog", Right: "Datadog"},
	}, nil)

	if got := r.Apply("we use data dog"); got != "we use Datadog" {
		t.Errorf("Apply() = %q, longer mapping must take precedence", got)
	}
}

func TestFuzzySnapsNearMiss(t *testing.T) {
	t.Parallel()

	r := hotword.New(nil, []string{"Postgres"})

	if got := r.Apply("stored in postgras today"); got != "stored in Postgres today" {
		t.Errorf("Apply() = %q, want fuzzy snap to protection word", got)
	}
	// Distance 2 stays as recognised.
	if got := r.Apply("stored in postgrass today"); got != "stored in postgrass today" {
		t.Errorf("Apply() = %q, distance beyond threshold must not snap", got)
	}
}

func TestFuzzySkipsShortTokens(t *testing.T) {
	t.Parallel()

	r := hotword.New(nil, []string{"gRPC"})

	// "grep" is within distance 2 but short tokens below the minimum length
	// are never snapped; with the default distance 1 it stays anyway. Use a
	// 3-rune token to hit the length guard directly.
	if got := r.Apply("rpc calls"); got != "rpc calls" {
		t.Errorf("Apply() = %q, short tokens must not snap", got)
	}
}

func TestApplyUnitsRewritesBothTexts(t *testing.T) {
	t.Parallel()

	r := hotword.New([]hotword.Rule{{Wrong: "jason", Right: "JSON"}}, nil)
	units := []types.Utterance{{
		Index: 0, Text: "parse the jason file", CorrectedText: "parse the jason file",
	}}

	r.ApplyUnits(units)
	if units[0].Text != "parse the JSON file" {
		t.Errorf("text = %q", units[0].Text)
	}
	if units[0].CorrectedText != units[0].Text {
		t.Errorf("corrected text must track the replaced text, got %q", units[0].CorrectedText)
	}
}

func TestPreservesPunctuationAroundFuzzyTokens(t *testing.T) {
	t.Parallel()

	r := hotword.New(nil, []string{"Kepler"})
	if got := r.Apply("(keplar), obviously."); got != "(Kepler), obviously." {
		t.Errorf("Apply() = %q, punctuation must survive the fuzzy pass", got)
	}
}
