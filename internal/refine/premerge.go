package refine

import (
	"unicode/utf8"

	"github.com/MrWong99/kepler/pkg/types"
)

// PreMerge fuses adjacent same-speaker utterances whose silence gap is
// shorter than gapMS into single units. Text is concatenated with no
// separator (recogniser output carries its own punctuation), EndMS extends
// to the later unit, and confidence becomes the character-length-weighted
// average of the constituents.
//
// The merged utterance keeps the first constituent's Index and becomes the
// atomic unit for every later stage. Original sub-unit boundaries survive
// only as Parts, for timestamp rendering.
func PreMerge(units []types.Utterance, gapMS int64) []types.Utterance {
	if len(units) == 0 {
		return nil
	}

	out := make([]types.Utterance, 0, len(units))
	acc := newMergeAcc(units[0])

	for _, next := range units[1:] {
		if next.Speaker == acc.unit.Speaker && next.StartMS-acc.unit.EndMS < gapMS {
			acc.absorb(next)
			continue
		}
		out = append(out, acc.finish())
		acc = newMergeAcc(next)
	}
	return append(out, acc.finish())
}

// mergeAcc accumulates one pre-merge group, tracking the running
// length-weighted confidence sum.
type mergeAcc struct {
	unit    types.Utterance
	weight  float64
	sum     float64
	count   int
	plain   float64 // unweighted sum, fallback when all parts are empty
	spans   []types.Span
}

func newMergeAcc(u types.Utterance) mergeAcc {
	w := float64(utf8.RuneCountInString(u.Text))
	return mergeAcc{
		unit:   u,
		weight: w,
		sum:    u.Confidence * w,
		count:  1,
		plain:  u.Confidence,
		spans:  []types.Span{{Text: u.Text, StartMS: u.StartMS, EndMS: u.EndMS}},
	}
}

func (a *mergeAcc) absorb(next types.Utterance) {
	a.unit.Text += next.Text
	a.unit.EndMS = next.EndMS

	w := float64(utf8.RuneCountInString(next.Text))
	a.weight += w
	a.sum += next.Confidence * w
	a.count++
	a.plain += next.Confidence
	a.spans = append(a.spans, types.Span{Text: next.Text, StartMS: next.StartMS, EndMS: next.EndMS})
}

func (a *mergeAcc) finish() types.Utterance {
	u := a.unit
	if a.count > 1 {
		if a.weight > 0 {
			u.Confidence = a.sum / a.weight
		} else {
			u.Confidence = a.plain / float64(a.count)
		}
		u.Parts = a.spans
	}
	u.CorrectedText = u.Text
	return u
}
