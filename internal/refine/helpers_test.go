package refine_test

import "github.com/MrWong99/kepler/pkg/types"

// unit builds a test utterance with corrected text initialised like
// ingestion does.
func unit(index int, text, speaker string, startMS, endMS int64, confidence float64) types.Utterance {
	return types.Utterance{
		Index:         index,
		Text:          text,
		CorrectedText: text,
		StartMS:       startMS,
		EndMS:         endMS,
		Speaker:       speaker,
		Confidence:    confidence,
	}
}
