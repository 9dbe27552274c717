package refine

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Parse tiers, in attempt order. Recorded as the "tier" metric attribute so
// a drift in oracle output quality shows up as a shift from strict to the
// recovery tiers.
const (
	TierStrict  = "strict"
	TierExtract = "extract"
	TierSalvage = "salvage"
	TierFailed  = "failed"
)

// correctionRecord is one {id, text} element of the oracle's response array.
type correctionRecord struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\n?|```")
	thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

	// recordRe matches one {id, text} pair inside otherwise broken JSON.
	// The text group is a complete JSON string body (escapes included), so a
	// record with an unterminated string never matches.
	recordRe = regexp.MustCompile(`"id"\s*:\s*(\d+)\s*,\s*"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// ParseCorrections decodes an oracle response into an id-to-text map using
// three tiers, first success wins:
//
//  1. strict: the whole body is a JSON array of {id, text} records.
//  2. extract: the body wraps such an array in prose, markdown fences, or
//     model "thinking" tags; the bracketed substring is located and parsed.
//  3. salvage: the array itself is broken; individual well-formed records
//     are recovered one at a time by pattern match, tolerating malformed
//     neighbours.
//
// Returns the recovered map and the tier that produced it. A nil map with
// [TierFailed] means nothing was recoverable; callers degrade the affected
// units to their original text.
func ParseCorrections(body string) (map[int]string, string) {
	trimmed := strings.TrimSpace(body)

	var records []correctionRecord
	if err := json.Unmarshal([]byte(trimmed), &records); err == nil {
		return toMap(records), TierStrict
	}

	cleaned := thinkRe.ReplaceAllString(trimmed, "")
	cleaned = fenceRe.ReplaceAllString(cleaned, "")
	if sub, ok := bracketedArray(cleaned); ok {
		if err := json.Unmarshal([]byte(sub), &records); err == nil {
			return toMap(records), TierExtract
		}
	}

	if m := salvageRecords(cleaned); len(m) > 0 {
		return m, TierSalvage
	}
	return nil, TierFailed
}

// bracketedArray returns the substring from the first '[' to the last ']'.
func bracketedArray(s string) (string, bool) {
	first := strings.Index(s, "[")
	last := strings.LastIndex(s, "]")
	if first < 0 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

// salvageRecords recovers individual {id, text} pairs from broken JSON.
func salvageRecords(s string) map[int]string {
	matches := recordRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[int]string, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out[id] = unescapeJSONString(m[2])
	}
	return out
}

// unescapeJSONString decodes a matched JSON string body. The pattern only
// captures valid escape sequences, so decode failure should not happen; the
// raw text is kept as a last resort rather than dropping the record.
func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

func toMap(records []correctionRecord) map[int]string {
	out := make(map[int]string, len(records))
	for _, r := range records {
		out[r.ID] = r.Text
	}
	return out
}
