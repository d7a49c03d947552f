package enrich

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rfletcher/intelforge/internal/models"
)

// Span is one entity mention located in a text. Offsets are byte positions
// into the scanned string, end exclusive.
type Span struct {
	EntityType string
	EntityID   string
	EntityName string
	Start      int
	End        int
}

// Recognizer finds known threat actor and tool names in text by
// case-insensitive phrase matching on word boundaries. Every entity name
// and alias becomes a matchable phrase.
type Recognizer struct {
	phrases map[string]phraseTarget
}

type phraseTarget struct {
	entityType string
	entityID   string
	entityName string
}

// NewRecognizer builds a recognizer from the given entities. When two
// entities claim the same phrase the first one registered wins.
func NewRecognizer(entities []models.Entity) *Recognizer {
	r := &Recognizer{phrases: make(map[string]phraseTarget)}
	for _, e := range entities {
		r.add(e, e.Name)
		for _, alias := range e.Aliases {
			r.add(e, alias)
		}
	}
	return r
}

func (r *Recognizer) add(e models.Entity, phrase string) {
	key := strings.ToLower(strings.TrimSpace(phrase))
	if key == "" {
		return
	}
	if _, taken := r.phrases[key]; taken {
		return
	}
	r.phrases[key] = phraseTarget{entityType: e.Kind, entityID: e.ID, entityName: e.Name}
}

// PhraseCount returns how many distinct phrases are matchable.
func (r *Recognizer) PhraseCount() int {
	return len(r.phrases)
}

// FindSpans returns every entity mention in text, ordered by position.
// Overlapping candidates resolve to the longest match. Span offsets index
// text itself, not its folded form.
func (r *Recognizer) FindSpans(text string) []Span {
	if text == "" || len(r.phrases) == 0 {
		return nil
	}
	lower, offsets := foldOffsets(text)

	var spans []Span
	for phrase, target := range r.phrases {
		for from := 0; ; {
			idx := strings.Index(lower[from:], phrase)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(phrase)
			if wordBounded(lower, start, end) {
				spans = append(spans, Span{
					EntityType: target.entityType,
					EntityID:   target.entityID,
					EntityName: target.entityName,
					Start:      start,
					End:        end,
				})
			}
			from = start + 1
		}
	}

	spans = resolveOverlaps(spans)

	// Matching ran over the folded string; map the byte offsets back onto
	// the original before anyone slices with them.
	for i := range spans {
		start := offsets[spans[i].Start]
		end := len(text)
		if spans[i].End < len(lower) {
			end = offsets[spans[i].End]
		}
		spans[i].Start, spans[i].End = start, end
	}
	return spans
}

// foldOffsets lower-cases text rune by rune and records, for each byte of
// the folded string, the byte offset of the originating rune in text.
// Folding can change a rune's encoded width (Turkish dotted I folds from
// two bytes to one), so folded offsets do not line up with the original.
func foldOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text))
	for i, r := range text {
		n := b.Len()
		b.WriteRune(unicode.ToLower(r))
		for ; n < b.Len(); n++ {
			offsets = append(offsets, i)
		}
	}
	return b.String(), offsets
}

// wordBounded reports whether s[start:end] is delimited by non-word
// characters, so "apt28" does not match inside "apt281".
func wordBounded(s string, start, end int) bool {
	if start > 0 {
		prev := rune(s[start-1])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
	}
	if end < len(s) {
		next := rune(s[end])
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return false
		}
	}
	return true
}

// resolveOverlaps keeps the longest span at each position, preferring the
// earlier span on ties.
func resolveOverlaps(spans []Span) []Span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End-spans[i].Start > spans[j].End-spans[j].Start
	})

	kept := spans[:0]
	lastEnd := -1
	for _, s := range spans {
		if s.Start < lastEnd {
			continue
		}
		kept = append(kept, s)
		lastEnd = s.End
	}
	return kept
}
