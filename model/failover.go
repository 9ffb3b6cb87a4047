package model

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/voicemesh/health"
	"github.com/hupe1980/voicemesh/logging"
)

// Compile time check to ensure FailoverModel satisfies the Model interface.
var _ Model = (*FailoverModel)(nil)

// FailoverModel composes a primary and a secondary Model behind the Model
// interface. Every call goes to the primary first; on error the same request
// is retried once against the secondary. Outcomes are recorded in the health
// registry under each model's provider name so routing layers can consult
// aggregate scores.
//
// Failover is reactive per call. A degraded primary is still tried first on
// the next turn; recovery needs no explicit reset.
type FailoverModel struct {
	primary   Model
	secondary Model
	registry  *health.Registry
	logger    logging.Logger
}

// FailoverOptions configures a FailoverModel.
type FailoverOptions struct {
	// Logger receives degraded-primary warnings. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NewFailoverModel wires primary and secondary around a shared registry.
// A nil registry disables health bookkeeping.
func NewFailoverModel(primary, secondary Model, registry *health.Registry, optFns ...func(o *FailoverOptions)) *FailoverModel {
	opts := FailoverOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FailoverModel{primary: primary, secondary: secondary, registry: registry, logger: opts.Logger}
}

// Generate implements Model. The returned channels follow the usual contract:
// both close when generation completes, errCh carries at most one error.
func (m *FailoverModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		// The primary is still tried even when its aggregate score is poor,
		// but operators get a warning that failover is likely.
		if provider := m.primary.Info().Provider; m.registry != nil && m.registry.Score(provider) < health.DefaultThreshold {
			m.logger.Warn("failover.primary_degraded",
				"provider", provider,
				"score", m.registry.Score(provider))
		}

		resp, err := m.attempt(ctx, m.primary, req)
		if err == nil {
			out <- resp
			return
		}
		if ctx.Err() != nil {
			errCh <- ctx.Err()
			return
		}
		primaryErr := err

		resp, err = m.attempt(ctx, m.secondary, req)
		if err != nil {
			errCh <- fmt.Errorf("all providers failed: primary: %v, secondary: %w", primaryErr, err)
			return
		}
		out <- resp
	}()

	return out, errCh
}

func (m *FailoverModel) attempt(ctx context.Context, target Model, req Request) (Response, error) {
	provider := target.Info().Provider
	start := time.Now()
	// Partial chunks cannot be forwarded transparently: a mid-stream failure
	// would leave the caller with a half response from the wrong provider.
	// The inner request is collected and re-emitted as one final response.
	inner := req
	inner.Stream = false
	respCh, errCh := target.Generate(ctx, inner)
	resp, err := Collect(ctx, respCh, errCh)
	if err != nil {
		m.recordFailure(provider)
		return Response{}, err
	}
	m.recordSuccess(provider, time.Since(start))
	return resp, nil
}

func (m *FailoverModel) recordSuccess(provider string, latency time.Duration) {
	if m.registry != nil {
		m.registry.RecordSuccess(provider, latency)
	}
}

func (m *FailoverModel) recordFailure(provider string) {
	if m.registry != nil {
		m.registry.RecordFailure(provider)
	}
}

// Info reports the primary's identity with streaming disabled, reflecting the
// collect-then-emit behavior of Generate.
func (m *FailoverModel) Info() Info {
	info := m.primary.Info()
	info.Capabilities.Streaming = false
	return info
}
