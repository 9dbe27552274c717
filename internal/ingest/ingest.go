// Package ingest converts raw recogniser output into the ordered Utterance
// sequence consumed by the refinement pipeline.
//
// The recogniser is an external collaborator consumed as a black box: it
// produces an ordered list of timestamped, speaker-labelled segments with
// either an utterance-level confidence or a flat per-token confidence array.
// Ingestion normalises both shapes into [types.Utterance] values, assigns the
// stable indices every later stage relies on, and applies conservative
// defaults so that no unit ever lacks a confidence value.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/MrWong99/kepler/pkg/types"
)

// Segment is one recogniser output unit as found in the input document.
type Segment struct {
	// Text is the recognised text, possibly empty for silence artifacts.
	Text string `json:"text"`

	// StartMS and EndMS are millisecond offsets into the source media.
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	// Speaker is the diarisation cluster index; negative means unknown.
	Speaker int `json:"speaker"`

	// Confidence is an optional precomputed utterance-level score. When the
	// recogniser supplies only token-level scores this stays zero and the
	// document-level TokenConfidence array is consumed instead.
	Confidence float64 `json:"confidence,omitempty"`
}

// Document is the recogniser's per-media output.
type Document struct {
	// Text is the full concatenated transcript. Informational only.
	Text string `json:"text"`

	// Segments is the ordered segment list.
	Segments []Segment `json:"segments"`

	// TokenConfidence is a flat array of per-token recognition scores
	// covering all segments in order. Entries index only non-punctuation
	// characters; alignment skips punctuation positions in segment text.
	TokenConfidence []float64 `json:"token_confidence,omitempty"`
}

// Aggregator reduces a segment's token-level scores to one utterance-level
// scalar. Implementations must return a value in [0, 1] and must handle an
// empty slice (return 0, the conservative default that makes the unit
// correction-eligible).
type Aggregator func(scores []float64) float64

// Mean averages the token scores. This matches the reference recogniser
// integration and is the default policy.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// Min takes the worst token score, flagging an utterance for correction when
// any single token is doubtful.
func Min(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	lowest := scores[0]
	for _, s := range scores[1:] {
		if s < lowest {
			lowest = s
		}
	}
	return lowest
}

// GeometricMean multiplies token probabilities and takes the n-th root,
// penalising low outliers more than [Mean] without collapsing to [Min].
func GeometricMean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var logSum float64
	for _, s := range scores {
		if s <= 0 {
			return 0
		}
		logSum += math.Log(s)
	}
	return math.Exp(logSum / float64(len(scores)))
}

// punctuation lists characters that carry no confidence entry in the
// recogniser's token array. Covers CJK and ASCII sentence punctuation plus
// whitespace.
const punctuation = "。！？；，、：“”‘’（）《》【】…—·\n.!?;,:\"'()[] \t"

func isPunct(r rune) bool {
	return strings.ContainsRune(punctuation, r)
}

// FromDocument converts a recogniser document into the ordered, indexed
// Utterance sequence. agg reduces token scores when the document carries a
// flat TokenConfidence array; nil agg defaults to [Mean].
//
// Segments that carry their own Confidence keep it verbatim, though their
// tokens still consume their share of the alignment. Segments with
// neither an aggregate nor token coverage get 0.0, which makes them eligible
// for correction downstream. Empty text is preserved as an empty unit, never
// dropped.
func FromDocument(doc Document, agg Aggregator) []types.Utterance {
	if agg == nil {
		agg = Mean
	}

	units := make([]types.Utterance, 0, len(doc.Segments))
	confIdx := 0

	for i, seg := range doc.Segments {
		conf := seg.Confidence
		if len(doc.TokenConfidence) > 0 {
			// The token array covers every segment in order, so the cursor
			// must advance over this segment's tokens even when its own
			// precomputed confidence wins.
			var scores []float64
			for _, r := range seg.Text {
				if isPunct(r) {
					continue
				}
				if confIdx < len(doc.TokenConfidence) {
					scores = append(scores, doc.TokenConfidence[confIdx])
					confIdx++
				}
			}
			if conf == 0 {
				conf = agg(scores)
			}
		}

		units = append(units, types.Utterance{
			Index:         i,
			Text:          seg.Text,
			CorrectedText: seg.Text,
			StartMS:       seg.StartMS,
			EndMS:         seg.EndMS,
			Speaker:       speakerLabel(seg.Speaker),
			Confidence:    conf,
		})
	}
	return units
}

// speakerLabel formats a diarisation cluster index as an opaque display
// label. Unknown speakers map to the first label rather than a blank one so
// grouping stages always have a stable identity to compare.
func speakerLabel(speaker int) string {
	if speaker < 0 {
		speaker = 0
	}
	return fmt.Sprintf("Speaker %d", speaker+1)
}

// LoadFromReader decodes a recogniser JSON document from r and converts it
// via [FromDocument].
func LoadFromReader(r io.Reader, agg Aggregator) ([]types.Utterance, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ingest: decode document: %w", err)
	}
	return FromDocument(doc, agg), nil
}

// Load reads and converts the recogniser JSON document at path.
func Load(path string, agg Aggregator) ([]types.Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %q: %w", path, err)
	}
	defer f.Close()

	units, err := LoadFromReader(f, agg)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %q: %w", path, err)
	}
	return units, nil
}
