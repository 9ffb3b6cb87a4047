package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordDetector(t *testing.T) {
	d := NewKeywordDetector()

	t.Run("Maps keywords to intents", func(t *testing.T) {
		cases := map[string]string{
			"I was charged twice on my bill":   "billing",
			"the app keeps showing an error":   "technical",
			"what does the premium plan cost":  "sales",
			"where is my package":              "order",
			"I forgot my password":             "account",
		}
		for text, want := range cases {
			got, ok := d.Detect(text)
			require.True(t, ok, text)
			assert.Equal(t, want, got, text)
		}
	})

	t.Run("Matching is case-insensitive", func(t *testing.T) {
		got, ok := d.Detect("I need a REFUND")
		require.True(t, ok)
		assert.Equal(t, "billing", got)
	})

	t.Run("No keyword yields no intent", func(t *testing.T) {
		_, ok := d.Detect("hello there")
		assert.False(t, ok)
	})

	t.Run("Earlier category wins on overlap", func(t *testing.T) {
		// "refund" (billing) and "order" (order) both present.
		got, ok := d.Detect("refund my order")
		require.True(t, ok)
		assert.Equal(t, "billing", got)
	})

	t.Run("Custom category extends the detector", func(t *testing.T) {
		custom := NewKeywordDetector().WithCategory("cancellation", "cancel", "terminate")
		got, ok := custom.Detect("please cancel my subscription")
		require.True(t, ok)
		assert.Equal(t, "cancellation", got)
	})
}

func TestKeywordScorer(t *testing.T) {
	s := NewKeywordScorer()

	t.Run("Neutral text scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.Score("my account number is 12345"))
	})

	t.Run("Negative text scores below zero", func(t *testing.T) {
		assert.Less(t, s.Score("this is terrible and useless"), 0.0)
	})

	t.Run("Positive text scores above zero", func(t *testing.T) {
		assert.Greater(t, s.Score("great, thank you so much"), 0.0)
	})

	t.Run("Mixed text lands between the extremes", func(t *testing.T) {
		score := s.Score("the product is great but support is terrible")
		assert.Greater(t, score, -1.0)
		assert.Less(t, score, 1.0)
	})
}
