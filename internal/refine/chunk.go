package refine

import (
	"unicode/utf8"

	"github.com/MrWong99/kepler/pkg/types"
)

// Chunk is one correction batch: a contiguous half-open positional range
// [Start, End) of units whose combined text fits the character budget.
// Chunk boundaries always coincide with unit boundaries, so no unit is ever
// split mid-text and responses need no overlap deduplication.
type Chunk struct {
	Start, End int
}

// Units returns the chunk's slice of the unit sequence.
func (c Chunk) Units(units []types.Utterance) []types.Utterance {
	return units[c.Start:c.End]
}

// BuildChunks splits every run into chunks by greedy accumulation: units are
// added to the current chunk until the next one would push the cumulative
// character count past budget. A single unit whose text alone exceeds the
// budget becomes its own one-unit chunk; units are never split.
func BuildChunks(units []types.Utterance, runs []Run, budget int) []Chunk {
	var chunks []Chunk
	for _, run := range runs {
		start := run.Start
		size := 0
		for i := run.Start; i < run.End; i++ {
			n := utf8.RuneCountInString(units[i].Text)
			if i > start && size+n > budget {
				chunks = append(chunks, Chunk{Start: start, End: i})
				start = i
				size = 0
			}
			size += n
		}
		if start < run.End {
			chunks = append(chunks, Chunk{Start: start, End: run.End})
		}
	}
	return chunks
}
