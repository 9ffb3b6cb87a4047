package intent

import "strings"

// Scorer maps an utterance to a sentiment score in [-1, 1] where -1 is
// strongly negative and 0 is neutral.
type Scorer interface {
	Score(text string) float64
}

var negativeWords = []string{
	"angry", "annoyed", "awful", "bad", "disappointed", "frustrated",
	"hate", "horrible", "ridiculous", "terrible", "unacceptable", "useless",
	"waste", "worst", "wrong",
}

var positiveWords = []string{
	"appreciate", "awesome", "excellent", "fantastic", "good", "great",
	"happy", "helpful", "love", "perfect", "thank", "wonderful",
}

// KeywordScorer counts positive and negative markers and normalizes their
// difference by the total hits. No hits scores neutral.
type KeywordScorer struct{}

// NewKeywordScorer constructs the default scorer.
func NewKeywordScorer() *KeywordScorer { return &KeywordScorer{} }

// Score implements Scorer.
func (s *KeywordScorer) Score(text string) float64 {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}
