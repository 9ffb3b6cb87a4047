package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/model"
)

func TestSimilarity(t *testing.T) {
	t.Run("identical responses score one", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("the order shipped today", "the order shipped today"), 1e-9)
	})

	t.Run("disjoint responses score zero", func(t *testing.T) {
		assert.Zero(t, Similarity("yes absolutely", "no never"))
	})

	t.Run("empty side scores zero", func(t *testing.T) {
		assert.Zero(t, Similarity("", "anything"))
		assert.Zero(t, Similarity("anything", ""))
	})

	t.Run("partial overlap uses larger vocabulary", func(t *testing.T) {
		// shared {the, order} over max(2, 4) tokens
		got := Similarity("the order", "the order shipped again today")
		assert.InDelta(t, 0.4, got, 1e-9)
	})
}

func TestShadowComparator(t *testing.T) {
	t.Run("logs comparison with similarity", func(t *testing.T) {
		shadow := model.NewMockModel("shadow-model", "mock")
		shadow.SetDefault("your refund was processed yesterday")

		sc := NewShadowComparator(shadow)
		log := sc.CompareTurn(context.Background(), ShadowRequest{
			SessionID:       "sess-1",
			TurnIndex:       2,
			Input:           "where is my refund",
			PrimaryResponse: "your refund was processed yesterday",
			PrimaryModel:    "primary-model",
		})

		assert.Equal(t, "shadow-model", log.ShadowModel)
		assert.InDelta(t, 1.0, log.Similarity, 1e-9)
		assert.True(t, log.IntentMatch)

		logs := sc.Logs()
		require.Len(t, logs, 1)
		assert.Equal(t, "sess-1", logs[0].SessionID)
	})

	t.Run("divergent answers do not match intent", func(t *testing.T) {
		shadow := model.NewMockModel("shadow-model", "mock")
		shadow.SetDefault("please contact billing support")

		sc := NewShadowComparator(shadow)
		log := sc.CompareTurn(context.Background(), ShadowRequest{
			SessionID:       "sess-2",
			Input:           "where is my refund",
			PrimaryResponse: "your refund was processed yesterday",
		})

		assert.False(t, log.IntentMatch)
	})

	t.Run("shadow failure is recorded not surfaced", func(t *testing.T) {
		shadow := model.NewMockModel("shadow-model", "mock")
		shadow.FailWith(errors.New("provider down"))

		sc := NewShadowComparator(shadow)
		log := sc.CompareTurn(context.Background(), ShadowRequest{
			SessionID:       "sess-3",
			Input:           "hello",
			PrimaryResponse: "hi there",
		})

		assert.Empty(t, log.ShadowResponse)
		assert.Zero(t, log.Similarity)
		assert.Len(t, sc.Logs(), 1)
	})
}
