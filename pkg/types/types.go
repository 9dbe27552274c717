// Package types defines the shared data structures used across all Kepler packages.
//
// These types form the lingua franca between ingestion, the refinement
// pipeline, evaluation, and the task store. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

// Utterance is the atomic unit flowing through the refinement pipeline: one
// timestamped, speaker-labelled span of recognised speech with a confidence
// score and a stable identity.
//
// An Utterance is created exactly once by recognition ingestion and is never
// deleted by any later stage. Stages produce new slices rather than mutating
// input handed downstream; the only field written after creation is
// CorrectedText, and then only for units partitioned disjointly across
// correction batches.
type Utterance struct {
	// Index is the stable unique identity assigned once at ingestion.
	// It is used for O(1) reconciliation of corrected text and is never
	// reused or reassigned by any downstream stage.
	Index int `json:"index"`

	// Text is the recognised text as produced by the recogniser, after any
	// pre-pipeline hotword replacement. No pipeline stage rewrites it.
	Text string `json:"text"`

	// CorrectedText is the text after correction. It equals Text until
	// correction is applied, and degrades back to Text when correction
	// fails — never to an empty value while Text is non-empty.
	CorrectedText string `json:"text_corrected"`

	// StartMS and EndMS are millisecond offsets into the source media.
	// EndMS >= StartMS; StartMS is monotonically non-decreasing across the
	// ordered sequence.
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	// Speaker is an opaque diarisation label (e.g. "Speaker 1"). It is a
	// stable identity used for grouping and is never parsed semantically.
	Speaker string `json:"speaker"`

	// Confidence is the utterance-level recognition confidence in [0, 1].
	// Every unit carries a value; ingestion assigns 0.0 when the recogniser
	// produced none, which makes the unit eligible for correction.
	Confidence float64 `json:"confidence"`

	// Parts holds the original sub-unit boundaries absorbed by the
	// pre-merge stage, in order. Nil for units that were never merged.
	// Retained for rendering individual timestamps, not for reconciliation.
	Parts []Span `json:"parts,omitempty"`
}

// Duration returns the utterance length in milliseconds.
func (u Utterance) Duration() int64 {
	return u.EndMS - u.StartMS
}

// Span is one original recogniser unit preserved through a merge.
type Span struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Block is the final, output-facing grouping: consecutive same-speaker
// corrected utterances merged under a loose time-gap rule for display and
// export. Blocks are assembled once at the end of the pipeline and are
// immutable afterwards.
type Block struct {
	// Speaker is the shared speaker label of every entry in the block.
	Speaker string `json:"speaker"`

	// StartMS and EndMS span the whole block.
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	// Entries lists the constituent corrected utterances in order, so
	// renderers can show per-utterance timestamps within the paragraph.
	Entries []Utterance `json:"entries"`
}

// Text returns the concatenated corrected text of all entries.
// No separator is inserted; recogniser text carries its own punctuation.
func (b Block) Text() string {
	var n int
	for _, e := range b.Entries {
		n += len(e.CorrectedText)
	}
	buf := make([]byte, 0, n)
	for _, e := range b.Entries {
		buf = append(buf, e.CorrectedText...)
	}
	return string(buf)
}
