package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/session"
)

func TestAuditor(t *testing.T) {
	t.Run("clean turn is compliant", func(t *testing.T) {
		a := NewAuditor(DefaultRules(), nil)

		rec := a.AuditTurn("sess-1", "agent-1", "PROCESSING", 0,
			"what are your opening hours", "We are open nine to five on weekdays.")

		assert.True(t, rec.Compliant)
		assert.Empty(t, rec.Violations)
		assert.Zero(t, rec.RiskScore)
	})

	t.Run("pii leak is critical", func(t *testing.T) {
		a := NewAuditor(DefaultRules(), nil)

		rec := a.AuditTurn("sess-1", "agent-1", "PROCESSING", 1,
			"what address do you have for me",
			"Your email on file is jane@example.com.")

		require.Len(t, rec.Violations, 1)
		assert.Equal(t, "pii_leak", rec.Violations[0].RuleID)
		assert.Equal(t, SeverityCritical, rec.Violations[0].Severity)
		assert.InDelta(t, 0.7, rec.RiskScore, 1e-9)
		assert.False(t, rec.Compliant)
	})

	t.Run("stored record is redacted", func(t *testing.T) {
		a := NewAuditor(DefaultRules(), nil)

		a.AuditTurn("sess-2", "agent-1", "", 0,
			"my number is 555-123-4567",
			"Thanks, I noted 555-123-4567 on the account.")

		recs := a.Records("sess-2")
		require.Len(t, recs, 1)
		assert.NotContains(t, recs[0].UserText, "555-123-4567")
		assert.Contains(t, recs[0].UserText, "[PHONE_REDACTED]")
		assert.NotContains(t, recs[0].AgentText, "555-123-4567")
	})

	t.Run("regex rule and risk accumulation", func(t *testing.T) {
		a := NewAuditor(DefaultRules(), nil)

		rec := a.AuditTurn("sess-3", "agent-1", "", 0,
			"can you promise a refund",
			"I guarantee the refund, and you can reach me at bob@corp.example.")

		require.Len(t, rec.Violations, 2)
		assert.InDelta(t, 1.0, rec.RiskScore, 1e-9)
	})

	t.Run("mandatory phrase rule", func(t *testing.T) {
		rules := []Rule{{
			ID:       "recording_notice",
			Name:     "Recording disclosure",
			Severity: SeverityWarning,
			Type:     RuleMandatoryPhrase,
			Phrase:   "this call may be recorded",
		}}
		a := NewAuditor(rules, nil)

		rec := a.AuditTurn("sess-4", "agent-1", "GREETING", 0, "hi", "Hello, how can I help?")
		require.Len(t, rec.Violations, 1)

		rec = a.AuditTurn("sess-4", "agent-1", "GREETING", 1, "hi",
			"Hello! This call may be recorded for quality purposes.")
		assert.True(t, rec.Compliant)
	})

	t.Run("violation publishes compliance alert", func(t *testing.T) {
		bus := session.NewInMemoryBus()
		ch, cancel := bus.Subscribe("sess-5")
		defer cancel()

		a := NewAuditor(DefaultRules(), bus)
		a.AuditTurn("sess-5", "agent-1", "", 0, "hi", "Reach me at 10.0.0.1 anytime.")

		select {
		case ev := <-ch:
			assert.Equal(t, core.EventComplianceAlert, ev.Type)
			assert.Equal(t, "critical", ev.Severity)
			assert.Greater(t, ev.RiskScore, 0.0)
		case <-time.After(time.Second):
			t.Fatal("expected compliance_alert event")
		}
	})

	t.Run("records filter by session", func(t *testing.T) {
		a := NewAuditor(nil, nil)
		a.AuditTurn("sess-a", "agent-1", "", 0, "hi", "hello")
		a.AuditTurn("sess-b", "agent-1", "", 0, "hi", "hello")

		assert.Len(t, a.Records("sess-a"), 1)
		assert.Len(t, a.Records(""), 2)
	})
}
