package refine

import "github.com/MrWong99/kepler/pkg/types"

// Run is a contiguous half-open positional range [Start, End) of units that
// goes to the correction oracle as one group. After run-merging a Run may
// contain interior trusted units that were absorbed with the gap; they are
// corrected along with the rest.
type Run struct {
	Start, End int
}

// Len returns the number of units in the run.
func (r Run) Len() int { return r.End - r.Start }

// Units returns the run's slice of the unit sequence.
func (r Run) Units(units []types.Utterance) []types.Utterance {
	return units[r.Start:r.End]
}

// NeedsCorrection reports whether a unit falls below the trust threshold.
func NeedsCorrection(u types.Utterance, threshold float64) bool {
	return u.Confidence < threshold
}

// DetectRuns partitions units by the confidence threshold and returns the
// ordered needs-correction runs, merging two runs separated by at most
// mergeGap trusted units into one. A short trusted island between two
// untrusted runs is cheaper to re-correct than to pay an extra oracle batch
// for each side, so it gets swallowed; its units are then treated as needing
// correction regardless of their own confidence.
//
// Trusted units outside every returned run pass through untouched.
func DetectRuns(units []types.Utterance, threshold float64, mergeGap int) []Run {
	var runs []Run
	for i := 0; i < len(units); {
		if !NeedsCorrection(units[i], threshold) {
			i++
			continue
		}
		start := i
		for i < len(units) && NeedsCorrection(units[i], threshold) {
			i++
		}
		runs = append(runs, Run{Start: start, End: i})
	}

	if len(runs) < 2 {
		return runs
	}

	merged := runs[:1]
	for _, next := range runs[1:] {
		last := &merged[len(merged)-1]
		if next.Start-last.End <= mergeGap {
			last.End = next.End
			continue
		}
		merged = append(merged, next)
	}
	return merged
}
