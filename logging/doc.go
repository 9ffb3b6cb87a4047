// Package logging provides a minimal logging interface and adapters for VoiceMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the pipeline and services use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - VoiceMeshLogger with contextual session/turn helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	p := pipeline.New(deps, func(o *pipeline.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
