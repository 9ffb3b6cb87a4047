package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Run("Unknown provider scores full health", func(t *testing.T) {
		r := NewRegistry()
		assert.Equal(t, 1.0, r.Score("anthropic"))
		assert.True(t, r.Healthy("anthropic", 0))
	})

	t.Run("Score is success rate when fast", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 3; i++ {
			r.RecordSuccess("anthropic", 100*time.Millisecond)
		}
		r.RecordFailure("anthropic")

		assert.InDelta(t, 0.75, r.Score("anthropic"), 1e-9)
	})

	t.Run("Slow average applies latency penalty", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 4; i++ {
			r.RecordSuccess("openai", 4*time.Second)
		}

		// success rate 1.0, avg 4000ms, penalty (4000-2000)/4000 = 0.5
		assert.InDelta(t, 0.5, r.Score("openai"), 1e-9)
	})

	t.Run("Latency penalty caps at one half", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 4; i++ {
			r.RecordSuccess("openai", time.Minute)
		}

		assert.InDelta(t, 0.5, r.Score("openai"), 1e-9)
	})

	t.Run("Score never drops below zero", func(t *testing.T) {
		r := NewRegistry()
		r.RecordSuccess("openai", time.Minute)
		for i := 0; i < 9; i++ {
			r.RecordFailure("openai")
		}

		assert.Equal(t, 0.0, r.Score("openai"))
	})

	t.Run("Latency window keeps only recent calls", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 20; i++ {
			r.RecordSuccess("anthropic", 10*time.Second)
		}
		for i := 0; i < 20; i++ {
			r.RecordSuccess("anthropic", 100*time.Millisecond)
		}

		// The slow calls rotated out of the window, so no penalty remains.
		assert.Equal(t, 1.0, r.Score("anthropic"))
	})

	t.Run("Healthy honors explicit threshold", func(t *testing.T) {
		r := NewRegistry()
		r.RecordSuccess("openai", 100*time.Millisecond)
		r.RecordFailure("openai")

		assert.True(t, r.Healthy("openai", 0.5))
		assert.False(t, r.Healthy("openai", 0.6))
	})

	t.Run("Snapshot reports every provider", func(t *testing.T) {
		r := NewRegistry()
		r.RecordSuccess("anthropic", 50*time.Millisecond)
		r.RecordFailure("openai")

		snap := r.Snapshot()
		assert.Len(t, snap, 2)

		byName := map[string]Stats{}
		for _, s := range snap {
			byName[s.Provider] = s
		}
		assert.Equal(t, 1, byName["anthropic"].Successes)
		assert.Equal(t, 1, byName["openai"].Failures)
		assert.Equal(t, 0.0, byName["openai"].Score)
	})
}
