// Package similarity scores how related two keyword phrases are.
//
// Phrases are reduced to sets of stemmed tokens; the score is the Jaccard
// overlap of those sets plus a bonus when one set contains the other
// ("running shoes" inside "best running shoes"). Two phrases that share no
// token always score 0, which lets callers pre-filter candidates with a
// token index without changing results.
package similarity

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// ContainmentBonus is the share of the remaining distance to 1.0 awarded
// when one token set is a subset of the other.
const ContainmentBonus = 0.5

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "with": {}, "vs": {},
}

// Tokens is a normalized, sorted, de-duplicated set of stemmed tokens.
type Tokens []string

// Normalize turns a phrase into its token set.
func Normalize(phrase string) Tokens {
	fields := strings.FieldsFunc(strings.ToLower(phrase), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return Tokens{}
	}

	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; !stop {
			kept = append(kept, f)
		}
	}
	// a phrase made only of stop words still needs an identity
	if len(kept) == 0 {
		kept = fields
	}

	set := make(map[string]struct{}, len(kept))
	for _, f := range kept {
		set[english.Stem(f, false)] = struct{}{}
	}

	tokens := make(Tokens, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Key returns a canonical string for the token set, usable for de-duplication.
func (t Tokens) Key() string {
	return strings.Join(t, " ")
}

// Score returns the similarity of two phrases in [0,1]. Two blank phrases
// score 1 and a blank phrase scores 0 against anything else. Phrases without
// a letter or digit ("!!!") only match themselves.
func Score(a, b string) float64 {
	ta, tb := Normalize(a), Normalize(b)
	if len(ta) == 0 && len(tb) == 0 {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
			return 1.0
		}
		return 0
	}
	return ScoreTokens(ta, tb)
}

// ScoreTokens scores two pre-normalized token sets. Two empty sets score 1.
func ScoreTokens(a, b Tokens) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shared := intersectionSize(a, b)
	if shared == 0 {
		return 0
	}

	union := len(a) + len(b) - shared
	score := float64(shared) / float64(union)
	if score >= 1.0 {
		return 1.0
	}

	if shared == len(a) || shared == len(b) {
		score += ContainmentBonus * (1 - score)
	}
	return score
}

// intersectionSize counts common elements of two sorted sets.
func intersectionSize(a, b Tokens) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
