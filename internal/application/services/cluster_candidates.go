package services

import (
	"fmt"
	"sort"

	"github.com/zatekoja/keywordclusters/pkg/similarity"
)

const (
	StrategyExhaustive = "exhaustive"
	StrategyTokenIndex = "token_index"
)

// candidate is one de-duplicated keyword ready for seeding.
type candidate struct {
	display string
	tokens  similarity.Tokens
	signal  int
}

// CandidateStrategy decides which later keywords a seed is compared against.
// Every strategy must visit all keywords that could score above zero against
// the seed, so the resulting partition does not depend on the strategy.
type CandidateStrategy interface {
	Name() string
	// Prepare is called once with the sorted candidates before seeding starts.
	Prepare(items []candidate)
	// Visit calls fn for candidate indices greater than seed until fn returns false.
	Visit(seed int, fn func(i int) bool)
}

// NewCandidateStrategy returns the strategy registered under name.
func NewCandidateStrategy(name string) (CandidateStrategy, error) {
	switch name {
	case StrategyExhaustive:
		return &exhaustiveStrategy{}, nil
	case StrategyTokenIndex, "":
		return &tokenIndexStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown candidate strategy %q", name)
	}
}

// exhaustiveStrategy compares the seed with every later keyword.
type exhaustiveStrategy struct {
	n int
}

func (s *exhaustiveStrategy) Name() string { return StrategyExhaustive }

func (s *exhaustiveStrategy) Prepare(items []candidate) { s.n = len(items) }

func (s *exhaustiveStrategy) Visit(seed int, fn func(i int) bool) {
	for i := seed + 1; i < s.n; i++ {
		if !fn(i) {
			return
		}
	}
}

// tokenIndexStrategy only visits keywords sharing at least one stemmed token
// with the seed. Keywords with no shared token score 0, so nothing is lost.
type tokenIndexStrategy struct {
	postings map[string][]int
	stamp    []int
	items    []candidate
}

func (s *tokenIndexStrategy) Name() string { return StrategyTokenIndex }

func (s *tokenIndexStrategy) Prepare(items []candidate) {
	s.items = items
	s.stamp = make([]int, len(items))
	s.postings = make(map[string][]int)
	// indices are appended in ascending order, so every posting list is sorted
	for i, item := range items {
		for _, tok := range item.tokens {
			s.postings[tok] = append(s.postings[tok], i)
		}
	}
}

func (s *tokenIndexStrategy) Visit(seed int, fn func(i int) bool) {
	mark := seed + 1
	for _, tok := range s.items[seed].tokens {
		list := s.postings[tok]
		start := sort.SearchInts(list, seed+1)
		for _, i := range list[start:] {
			if s.stamp[i] == mark {
				continue
			}
			s.stamp[i] = mark
			if !fn(i) {
				return
			}
		}
	}
}
