package research

import (
	"strings"
	"unicode"
)

// near-duplicate threshold on token-set Jaccard similarity
const duplicateThreshold = 0.9

// tokenize lowercases the text and splits on anything that is not a letter,
// digit or Arabic-script rune. Tokens of two characters or fewer carry no
// signal and are dropped.
func tokenize(text string) map[string]struct{} {
	isWord := func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
		return r >= 0x0600 && r <= 0x06FF
	}
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWord(r)
	})
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len([]rune(tok)) <= 2 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// jaccard computes set similarity between two token sets. Two empty sets are
// considered identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	var inter int
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

// deduper rejects content whose token set overlaps an accepted entry beyond
// the duplicate threshold.
type deduper struct {
	seen []map[string]struct{}
}

// accept reports whether the content is novel and, if so, remembers it.
func (d *deduper) accept(content string) bool {
	set := tokenize(content)
	for _, prev := range d.seen {
		if jaccard(set, prev) > duplicateThreshold {
			return false
		}
	}
	d.seen = append(d.seen, set)
	return true
}
