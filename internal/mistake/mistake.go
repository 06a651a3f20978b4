// Package mistake aligns scorer mistake descriptions with the words the
// learner actually said.
//
// The scoring endpoint reports mistakes as free-form strings, often quoting
// the offending word ("said 'goed' instead of 'went'"). To highlight that
// word in the live analysis panel we match the quoted fragment, or failing
// that every word of the description, against the transcript using exact,
// phonetic and fuzzy comparison. Pure, no I/O.
package mistake

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Span is one transcript word matched by a mistake description.
type Span struct {
	// Word is the spoken word as it appears in the transcript.
	Word string

	// Index is the word's position in the transcript's word sequence.
	Index int

	// Hint is the mistake description the word was matched from.
	Hint string
}

// fuzzyThreshold is the minimum Jaro-Winkler similarity accepted when
// neither spelling nor phonetics match.
const fuzzyThreshold = 0.88

// Highlight maps each mistake description onto transcript words. Each
// transcript position is reported at most once; descriptions that match
// nothing are skipped.
func Highlight(transcript string, mistakes []string) []Span {
	words := Tokenize(transcript)
	if len(words) == 0 || len(mistakes) == 0 {
		return nil
	}

	var spans []Span
	seen := make(map[int]bool)
	for _, hint := range mistakes {
		for _, idx := range matchHint(words, hint) {
			if seen[idx] {
				continue
			}
			seen[idx] = true
			spans = append(spans, Span{Word: words[idx], Index: idx, Hint: hint})
		}
	}
	return spans
}

// matchHint returns the transcript indexes a single description points at.
// Quoted fragments are authoritative; otherwise every word of the
// description is tried.
func matchHint(words []string, hint string) []int {
	candidates := quotedFragments(hint)
	quoted := len(candidates) > 0
	if !quoted {
		candidates = Tokenize(hint)
	}

	var idxs []int
	for _, cand := range candidates {
		if idx := bestMatch(words, cand, quoted); idx >= 0 {
			idxs = append(idxs, idx)
		}
	}
	return idxs
}

// bestMatch finds the transcript word closest to cand, or -1. Unquoted
// candidates only count on exact matches so that filler words of the
// description ("said", "instead") cannot latch onto the transcript fuzzily.
func bestMatch(words []string, cand string, allowFuzzy bool) int {
	cand = strings.ToLower(cand)
	if cand == "" {
		return -1
	}

	for i, w := range words {
		if w == cand {
			return i
		}
	}
	if !allowFuzzy {
		return -1
	}

	primary, secondary := matchr.DoubleMetaphone(cand)
	bestIdx, bestSim := -1, fuzzyThreshold
	for i, w := range words {
		wp, ws := matchr.DoubleMetaphone(w)
		if primary != "" && (wp == primary || (secondary != "" && ws == secondary)) {
			return i
		}
		if sim := matchr.JaroWinkler(cand, w, false); sim > bestSim {
			bestIdx, bestSim = i, sim
		}
	}
	return bestIdx
}

// quotedFragments extracts 'single' or "double" quoted substrings of hint.
// Apostrophes inside words (can't, doesn't) are not quote delimiters.
func quotedFragments(hint string) []string {
	frags := scanQuotes(hint, '"')
	return append(frags, scanQuotes(hint, '\'')...)
}

func scanQuotes(s string, quote byte) []string {
	var pos []int
	for i := 0; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if quote == '\'' && i > 0 && i+1 < len(s) && isWordByte(s[i-1]) && isWordByte(s[i+1]) {
			continue // contraction
		}
		pos = append(pos, i)
	}

	var frags []string
	for i := 0; i+1 < len(pos); i += 2 {
		if frag := strings.TrimSpace(s[pos[i]+1 : pos[i+1]]); frag != "" {
			frags = append(frags, frag)
		}
	}
	return frags
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// Tokenize splits text into lowercased words, dropping punctuation.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}
