package refine

import "github.com/MrWong99/kepler/pkg/types"

// PostMerge groups consecutive same-speaker corrected units into display
// Blocks when the gap between them is shorter than gapMS. The threshold is
// deliberately looser than the pre-merge gap: this stage optimises for
// paragraph readability, not correction-batch efficiency.
//
// Each Block keeps its constituent entries in order so renderers can show
// per-utterance timestamps inside the paragraph.
func PostMerge(units []types.Utterance, gapMS int64) []types.Block {
	if len(units) == 0 {
		return nil
	}

	blocks := []types.Block{{
		Speaker: units[0].Speaker,
		StartMS: units[0].StartMS,
		EndMS:   units[0].EndMS,
		Entries: []types.Utterance{units[0]},
	}}

	for _, u := range units[1:] {
		cur := &blocks[len(blocks)-1]
		if u.Speaker == cur.Speaker && u.StartMS-cur.EndMS < gapMS {
			cur.Entries = append(cur.Entries, u)
			cur.EndMS = u.EndMS
			continue
		}
		blocks = append(blocks, types.Block{
			Speaker: u.Speaker,
			StartMS: u.StartMS,
			EndMS:   u.EndMS,
			Entries: []types.Utterance{u},
		})
	}
	return blocks
}
