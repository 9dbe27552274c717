// Package hotword applies forced domain-vocabulary replacement to recognised
// text before LLM correction.
//
// Speech recognisers reliably garble proper nouns and project jargon, and
// the correction oracle cannot restore vocabulary it has never seen. A
// hotword rules file pins that vocabulary down with two kinds of rules:
//
//   - mappings "wrong->right": every exact occurrence of "wrong" is replaced
//     with "right"; longer mappings win over shorter ones.
//   - bare protection words: known-correct domain terms. Tokens within a
//     small Levenshtein distance of a protection word are snapped to it.
//
// Replacement only ever rewrites text inside an utterance; it never removes
// or merges utterances.
package hotword

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/kepler/pkg/types"
)

const (
	defaultFuzzyDistance = 1
	defaultMinTokenLen   = 4
)

// Rule is one exact replacement mapping.
type Rule struct {
	Wrong string
	Right string
}

// Option is a functional option for configuring a [Replacer].
type Option func(*Replacer)

// WithFuzzyDistance sets the maximum Levenshtein distance at which a token
// snaps to a protection word. 0 disables the fuzzy pass. Default: 1.
func WithFuzzyDistance(d int) Option {
	return func(r *Replacer) {
		if d >= 0 {
			r.fuzzyDistance = d
		}
	}
}

// WithMinTokenLength sets the minimum token length (in runes) considered by
// the fuzzy pass. Short tokens produce too many near-collisions to snap
// safely. Default: 4.
func WithMinTokenLength(n int) Option {
	return func(r *Replacer) {
		if n >= 1 {
			r.minTokenLen = n
		}
	}
}

// Replacer applies hotword rules to text. All methods are safe for
// concurrent use — the Replacer is read-only after construction.
type Replacer struct {
	rules         []Rule
	protected     []string
	fuzzyDistance int
	minTokenLen   int
}

// New returns a Replacer for the given mappings and protection words.
// Mappings are applied longest-wrong-first so overlapping rules resolve
// deterministically.
func New(rules []Rule, protected []string, opts ...Option) *Replacer {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].Wrong) > utf8.RuneCountInString(sorted[j].Wrong)
	})

	r := &Replacer{
		rules:         sorted,
		protected:     protected,
		fuzzyDistance: defaultFuzzyDistance,
		minTokenLen:   defaultMinTokenLen,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Parse reads a rules file: one rule per line, "wrong->right" for mappings,
// a bare word for protection; '#' starts a comment, blank lines are skipped.
func Parse(rd io.Reader, opts ...Option) (*Replacer, error) {
	var (
		rules     []Rule
		protected []string
	)

	scanner := bufio.NewScanner(rd)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		wrong, right, isMapping := strings.Cut(line, "->")
		if !isMapping {
			protected = append(protected, line)
			continue
		}
		wrong, right = strings.TrimSpace(wrong), strings.TrimSpace(right)
		if wrong == "" || right == "" {
			return nil, fmt.Errorf("hotword: line %d: mapping needs both sides: %q", lineNo, line)
		}
		rules = append(rules, Rule{Wrong: wrong, Right: right})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hotword: read rules: %w", err)
	}
	return New(rules, protected, opts...), nil
}

// Load parses the rules file at path.
func Load(path string, opts ...Option) (*Replacer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hotword: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f, opts...)
}

// Apply rewrites text: exact mappings first (longest wrong side wins), then
// the fuzzy protection pass.
func (r *Replacer) Apply(text string) string {
	for _, rule := range r.rules {
		text = strings.ReplaceAll(text, rule.Wrong, rule.Right)
	}
	if len(r.protected) > 0 && r.fuzzyDistance > 0 {
		text = r.fuzzyPass(text)
	}
	return text
}

// ApplyUnits rewrites every unit's text in place. Hotword replacement runs
// between ingestion and refinement, before the pipeline pins Text down as
// immutable, so both Text and CorrectedText are rewritten together.
func (r *Replacer) ApplyUnits(units []types.Utterance) {
	for i := range units {
		units[i].Text = r.Apply(units[i].Text)
		units[i].CorrectedText = units[i].Text
	}
}

// fuzzyPass walks the text token by token, snapping near-misses of
// protection words while leaving punctuation and spacing intact.
func (r *Replacer) fuzzyPass(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isWordRune(runes[j]) {
			j++
		}
		b.WriteString(r.snapToken(string(runes[i:j])))
		i = j
	}
	return b.String()
}

// snapToken returns the protection word a token is a near-miss of, or the
// token unchanged.
func (r *Replacer) snapToken(tok string) string {
	if utf8.RuneCountInString(tok) < r.minTokenLen {
		return tok
	}
	lower := strings.ToLower(tok)
	for _, p := range r.protected {
		pl := strings.ToLower(p)
		if lower == pl {
			return tok
		}
		if matchr.Levenshtein(lower, pl) <= r.fuzzyDistance {
			return p
		}
	}
	return tok
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-'
}
