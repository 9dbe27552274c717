// Package refine implements the transcript refinement pipeline: speaker
// smoothing, pre-merge, confidence filtering, run merging, chunking,
// LLM-backed correction with defensive response parsing, and the final
// display merge into Blocks.
//
// Every stage except the correction orchestrator is a pure, single-pass
// transform over an ordered utterance slice. Stages never reorder and never
// delete units; the worst possible outcome of any failure is a transcript
// identical to the recogniser output.
package refine

import "github.com/MrWong99/kepler/pkg/types"

// Smooth removes isolated speaker-label flips caused by diarisation jitter:
// a single short utterance attributed to speaker B while flanked on both
// sides by speaker A is relabelled to A.
//
// The scan is one left-to-right pass deciding every position against the
// original input labels, so a relabel at i never influences the test at i+1.
// maxDurationMS bounds how long a flip may be and still count as jitter.
// Sequences shorter than 3 are returned as-is.
func Smooth(units []types.Utterance, maxDurationMS int64) []types.Utterance {
	if len(units) < 3 {
		return units
	}

	out := make([]types.Utterance, len(units))
	copy(out, units)

	for i := 1; i < len(units)-1; i++ {
		prev, cur, next := units[i-1], units[i], units[i+1]
		if prev.Speaker == next.Speaker &&
			cur.Speaker != prev.Speaker &&
			cur.Duration() < maxDurationMS {
			out[i].Speaker = prev.Speaker
		}
	}
	return out
}
