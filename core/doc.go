// Package core defines the shared domain types of VoiceMesh: sessions and
// their append-only turn history, the inbound/outbound transport event
// unions, agent descriptors with versioned overrides, confidence scores, and
// the store/bus contracts the orchestration layers are built against.
//
// The package carries no service dependencies; concrete implementations of
// SessionStore and Bus live in the session package, and everything above
// (policy, router, pipeline) depends only on the contracts declared here.
package core
