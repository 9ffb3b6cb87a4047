package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	t.Run("substitutes facts", func(t *testing.T) {
		out, err := RenderTemplate("You are helping {{.name}} with their {{.plan}} plan.", map[string]any{
			"name": "Ada",
			"plan": "premium",
		})
		require.NoError(t, err)
		assert.Equal(t, "You are helping Ada with their premium plan.", out)
	})

	t.Run("values reach the prompt verbatim", func(t *testing.T) {
		out, err := RenderTemplate("You assist {{.name}}.", map[string]any{
			"name": "O'Brien & Sons <VIP>",
		})
		require.NoError(t, err)
		assert.Equal(t, "You assist O'Brien & Sons <VIP>.", out)
	})

	t.Run("no markers is a passthrough", func(t *testing.T) {
		out, err := RenderTemplate("You are a helpful concierge.", nil)
		require.NoError(t, err)
		assert.Equal(t, "You are a helpful concierge.", out)
	})

	t.Run("helper funcs", func(t *testing.T) {
		out, err := RenderTemplate(`Tier: {{default "standard" .tier}} ({{upper .region}})`, map[string]any{
			"region": "emea",
		})
		require.NoError(t, err)
		assert.Equal(t, "Tier: standard (EMEA)", out)
	})

	t.Run("parse error is surfaced", func(t *testing.T) {
		_, err := RenderTemplate("Hello {{.name", nil)
		assert.Error(t, err)
	})
}
