package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// piiPattern pairs a label with its detection regex. Evaluation order is
// fixed; phone runs before credit_card so ten-digit runs get the phone label.
type piiPattern struct {
	label string
	re    *regexp.Regexp
}

var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{"phone", regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// ContainsPII reports whether text matches any structured PII pattern,
// returning the label of the first match.
func ContainsPII(text string) (string, bool) {
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			return p.label, true
		}
	}
	return "", false
}

// RedactPII substitutes every PII match with a labeled placeholder such as
// [EMAIL_REDACTED].
func RedactPII(text string) string {
	if text == "" {
		return text
	}
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllString(text, fmt.Sprintf("[%s_REDACTED]", strings.ToUpper(p.label)))
	}
	return text
}
