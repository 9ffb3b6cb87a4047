package intent

import "strings"

// Detector classifies an utterance into an intent label. It returns the
// label and whether any intent was detected.
type Detector interface {
	Detect(text string) (string, bool)
}

// category pairs an intent label with its trigger keywords. Categories are
// evaluated in declaration order; the first with a matching keyword wins.
type category struct {
	label    string
	keywords []string
}

// KeywordDetector is a substring-based Detector. It is deliberately crude;
// it exists to be cheap and deterministic, not clever.
type KeywordDetector struct {
	categories []category
}

// NewKeywordDetector constructs a detector with the default support-domain
// categories: billing, technical, sales, order and account.
func NewKeywordDetector() *KeywordDetector {
	return &KeywordDetector{
		categories: []category{
			{"billing", []string{"bill", "payment", "charge", "invoice", "refund", "money"}},
			{"technical", []string{"error", "not working", "broken", "bug", "issue", "problem"}},
			{"sales", []string{"buy", "purchase", "pricing", "cost", "subscribe", "plan"}},
			{"order", []string{"order", "shipping", "delivery", "tracking", "package"}},
			{"account", []string{"account", "login", "password", "profile", "settings"}},
		},
	}
}

// WithCategory appends a custom category. Returns the detector for chaining.
func (d *KeywordDetector) WithCategory(label string, keywords ...string) *KeywordDetector {
	d.categories = append(d.categories, category{label: label, keywords: keywords})
	return d
}

// Detect implements Detector.
func (d *KeywordDetector) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, c := range d.categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.label, true
			}
		}
	}
	return "", false
}
