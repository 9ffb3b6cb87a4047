// Package audit provides background quality and compliance checks over
// completed turns.
//
// Two collaborators live here:
//
//   - Auditor evaluates every turn against a set of compliance rules,
//     stores a PII-redacted record and publishes a compliance_alert event
//     when a rule is violated.
//   - ShadowComparator replays the turn against a second model and records
//     a similarity score between the two responses.
//
// Both are invoked after the turn's response has been delivered and must
// never block or fail the conversation. Callers run them on a separate
// goroutine; the methods themselves are synchronous.
package audit
