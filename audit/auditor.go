package audit

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/policy"
)

// Severity classifies how serious a compliance violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// riskWeight maps a severity to its contribution to the turn risk score.
func riskWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 0.7
	case SeverityWarning:
		return 0.3
	default:
		return 0.1
	}
}

// RuleType selects the evaluation strategy of a compliance rule.
type RuleType string

const (
	// RuleRegex flags responses matching Pattern.
	RuleRegex RuleType = "regex"
	// RuleMandatoryPhrase flags responses missing Phrase.
	RuleMandatoryPhrase RuleType = "mandatory_phrase"
	// RulePII flags responses that leak personally identifiable information.
	RulePII RuleType = "pii"
)

// Rule is one compliance check applied to every audited turn.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Type        RuleType `json:"rule_type"`
	Pattern     string   `json:"pattern,omitempty"`
	Phrase      string   `json:"phrase,omitempty"`

	compiled *regexp.Regexp
}

func (r *Rule) regex() (*regexp.Regexp, error) {
	if r.compiled == nil {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.compiled = re
	}
	return r.compiled, nil
}

// Violation records one rule that a turn broke.
type Violation struct {
	RuleID      string   `json:"rule_id"`
	RuleName    string   `json:"rule_name"`
	Severity    Severity `json:"severity"`
	Reason      string   `json:"reason"`
	MatchedText string   `json:"matched_text,omitempty"`
}

// Record is the stored outcome of auditing one turn. UserText and AgentText
// are PII-redacted before storage.
type Record struct {
	SessionID  string      `json:"session_id"`
	AgentID    string      `json:"agent_id"`
	TurnIndex  int         `json:"turn_index"`
	State      string      `json:"state_name,omitempty"`
	UserText   string      `json:"user_message"`
	AgentText  string      `json:"ai_response"`
	Compliant  bool        `json:"is_compliant"`
	Violations []Violation `json:"violations,omitempty"`
	RiskScore  float64     `json:"risk_score"`
	Timestamp  time.Time   `json:"created_at"`
}

// AuditorOptions configures the auditor.
type AuditorOptions struct {
	Logger logging.Logger
}

// Auditor checks turns against compliance rules and keeps an append-only,
// PII-redacted audit trail. Safe for concurrent use.
type Auditor struct {
	rules  []Rule
	bus    core.Bus
	logger logging.Logger

	mu      sync.Mutex
	records []Record
}

// NewAuditor constructs an auditor publishing alerts to bus. A nil bus
// disables alert publication but keeps the audit trail.
func NewAuditor(rules []Rule, bus core.Bus, optFns ...func(o *AuditorOptions)) *Auditor {
	opts := AuditorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Auditor{rules: rules, bus: bus, logger: opts.Logger}
}

// DefaultRules returns the baseline rule set applied when no regulatory
// policy is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "pii_leak",
			Name:     "PII in agent response",
			Severity: SeverityCritical,
			Type:     RulePII,
		},
		{
			ID:       "guarantee_language",
			Name:     "Unqualified guarantee",
			Severity: SeverityWarning,
			Type:     RuleRegex,
			Pattern:  `\b(guarantee|promise you|100% certain)\b`,
		},
	}
}

// AuditTurn evaluates one completed turn. It stores a redacted record and,
// when any rule is violated, publishes a compliance_alert carrying the risk
// score and the highest severity seen. Errors are logged, never returned;
// the conversation has already moved on.
func (a *Auditor) AuditTurn(sessionID, agentID, stateName string, turnIndex int, userText, agentText string) Record {
	var violations []Violation
	for i := range a.rules {
		v, err := a.evaluate(&a.rules[i], agentText)
		if err != nil {
			a.logger.Warn("audit.rule.error", "rule", a.rules[i].ID, "error", err.Error())
			continue
		}
		if v != nil {
			violations = append(violations, *v)
		}
	}

	risk := 0.0
	highest := SeverityInfo
	for _, v := range violations {
		risk += riskWeight(v.Severity)
		if riskWeight(v.Severity) > riskWeight(highest) {
			highest = v.Severity
		}
	}
	if risk > 1.0 {
		risk = 1.0
	}

	rec := Record{
		SessionID:  sessionID,
		AgentID:    agentID,
		TurnIndex:  turnIndex,
		State:      stateName,
		UserText:   policy.RedactPII(userText),
		AgentText:  policy.RedactPII(agentText),
		Compliant:  len(violations) == 0,
		Violations: violations,
		RiskScore:  risk,
		Timestamp:  time.Now().UTC(),
	}

	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()

	if !rec.Compliant {
		a.logger.Warn("audit.violation",
			"session_id", sessionID,
			"turn", turnIndex,
			"risk_score", risk,
			"severity", string(highest),
			"violations", len(violations))
		if a.bus != nil {
			a.bus.Publish(sessionID, core.NewComplianceAlertEvent(sessionID, risk, string(highest)))
		}
	}

	return rec
}

func (a *Auditor) evaluate(r *Rule, agentText string) (*Violation, error) {
	switch r.Type {
	case RuleRegex:
		re, err := r.regex()
		if err != nil {
			return nil, err
		}
		if match := re.FindString(agentText); match != "" {
			return &Violation{
				RuleID:      r.ID,
				RuleName:    r.Name,
				Severity:    r.Severity,
				Reason:      fmt.Sprintf("response matched pattern %q", r.Pattern),
				MatchedText: match,
			}, nil
		}
	case RuleMandatoryPhrase:
		if !strings.Contains(strings.ToLower(agentText), strings.ToLower(r.Phrase)) {
			return &Violation{
				RuleID:   r.ID,
				RuleName: r.Name,
				Severity: r.Severity,
				Reason:   fmt.Sprintf("response missing required phrase %q", r.Phrase),
			}, nil
		}
	case RulePII:
		if label, found := policy.ContainsPII(agentText); found {
			return &Violation{
				RuleID:   r.ID,
				RuleName: r.Name,
				Severity: r.Severity,
				Reason:   fmt.Sprintf("response contains %s", label),
			}, nil
		}
	default:
		return nil, fmt.Errorf("unknown rule type %q", r.Type)
	}
	return nil, nil
}

// Records returns a copy of the audit trail, optionally filtered by session.
// An empty sessionID returns everything.
func (a *Auditor) Records(sessionID string) []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, 0, len(a.records))
	for _, r := range a.records {
		if sessionID == "" || r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}
