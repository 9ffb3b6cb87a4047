package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/health"
)

// warnRecorder captures warning messages emitted during generation.
type warnRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *warnRecorder) Debug(string, ...any) {}
func (r *warnRecorder) Info(string, ...any)  {}
func (r *warnRecorder) Error(string, ...any) {}

func (r *warnRecorder) Warn(msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *warnRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func generate(t *testing.T, m Model, input string) (Response, error) {
	t.Helper()
	respCh, errCh := m.Generate(context.Background(), Request{Input: input})
	return Collect(context.Background(), respCh, errCh)
}

func TestFailoverModel(t *testing.T) {
	t.Run("Primary success is used directly", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.AddResponse("hi", "hello from primary")
		secondary := NewMockModel("gpt", "openai")

		fm := NewFailoverModel(primary, secondary, nil)

		resp, err := generate(t, fm, "hi")
		require.NoError(t, err)
		assert.Equal(t, "hello from primary", resp.Text)
		assert.Equal(t, 0, secondary.Calls())
	})

	t.Run("Primary failure falls back to secondary", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.FailWith(errors.New("rate limited"))
		secondary := NewMockModel("gpt", "openai")
		secondary.AddResponse("hi", "hello from secondary")

		fm := NewFailoverModel(primary, secondary, nil)

		resp, err := generate(t, fm, "hi")
		require.NoError(t, err)
		assert.Equal(t, "hello from secondary", resp.Text)
		assert.Equal(t, 1, primary.Calls())
		assert.Equal(t, 1, secondary.Calls())
	})

	t.Run("Both failing surfaces both errors", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.FailWith(errors.New("primary down"))
		secondary := NewMockModel("gpt", "openai")
		secondary.FailWith(errors.New("secondary down"))

		fm := NewFailoverModel(primary, secondary, nil)

		_, err := generate(t, fm, "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary down")
		assert.Contains(t, err.Error(), "secondary down")
	})

	t.Run("Outcomes feed the health registry", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.FailWith(errors.New("rate limited"))
		secondary := NewMockModel("gpt", "openai")

		registry := health.NewRegistry()
		fm := NewFailoverModel(primary, secondary, registry)

		_, err := generate(t, fm, "hi")
		require.NoError(t, err)

		assert.Equal(t, 0.0, registry.Score("anthropic"))
		assert.Equal(t, 1.0, registry.Score("openai"))
	})

	t.Run("Every attempt counts a primary failure", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.FailWith(errors.New("rate limited"))
		secondary := NewMockModel("gpt", "openai")

		registry := health.NewRegistry()
		fm := NewFailoverModel(primary, secondary, registry)

		for i := 0; i < 3; i++ {
			_, err := generate(t, fm, "hi")
			require.NoError(t, err)
		}

		assert.Equal(t, 3, primary.Calls())
		assert.Equal(t, 3, secondary.Calls())
		assert.Equal(t, 0.0, registry.Score("anthropic"))
	})

	t.Run("Recovered primary is tried first again", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.FailWith(errors.New("blip"))
		secondary := NewMockModel("gpt", "openai")

		fm := NewFailoverModel(primary, secondary, nil)

		_, err := generate(t, fm, "hi")
		require.NoError(t, err)

		primary.FailWith(nil)
		primary.AddResponse("hi", "primary is back")

		resp, err := generate(t, fm, "hi")
		require.NoError(t, err)
		assert.Equal(t, "primary is back", resp.Text)
		assert.Equal(t, 1, secondary.Calls())
	})

	t.Run("Degraded primary logs a warning before the attempt", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.AddResponse("hi", "hello from primary")
		secondary := NewMockModel("gpt", "openai")

		registry := health.NewRegistry()
		registry.RecordFailure("anthropic")
		registry.RecordFailure("anthropic")

		logger := &warnRecorder{}
		fm := NewFailoverModel(primary, secondary, registry, func(o *FailoverOptions) {
			o.Logger = logger
		})

		resp, err := generate(t, fm, "hi")
		require.NoError(t, err)
		assert.Equal(t, "hello from primary", resp.Text, "a degraded primary is still tried first")
		assert.Contains(t, logger.Messages(), "failover.primary_degraded")
	})

	t.Run("Healthy primary logs no warning", func(t *testing.T) {
		primary := NewMockModel("claude", "anthropic")
		primary.AddResponse("hi", "hello from primary")
		secondary := NewMockModel("gpt", "openai")

		logger := &warnRecorder{}
		fm := NewFailoverModel(primary, secondary, health.NewRegistry(), func(o *FailoverOptions) {
			o.Logger = logger
		})

		_, err := generate(t, fm, "hi")
		require.NoError(t, err)
		assert.Empty(t, logger.Messages())
	})

	t.Run("Info reflects the primary without streaming", func(t *testing.T) {
		fm := NewFailoverModel(NewMockModel("claude", "anthropic"), NewMockModel("gpt", "openai"), nil)

		info := fm.Info()
		assert.Equal(t, "anthropic", info.Provider)
		assert.False(t, info.Capabilities.Streaming)
	})
}
