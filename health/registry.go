// Package health tracks per-provider availability for model failover
// decisions. A Registry aggregates success/failure counts and a sliding
// latency window per provider and derives a single score in [0, 1].
package health

import (
	"sync"
	"time"
)

const (
	// latencyWindow is how many recent call latencies feed the score.
	latencyWindow = 20
	// latencyFloorMs is the average latency below which no penalty applies.
	latencyFloorMs = 2000.0
	// latencyScaleMs spreads the penalty over the range above the floor.
	latencyScaleMs = 4000.0
	// maxLatencyPenalty caps how much slowness alone can degrade a provider.
	maxLatencyPenalty = 0.5

	// DefaultThreshold is the score below which a provider counts as unhealthy.
	DefaultThreshold = 0.5
)

// Stats is a point-in-time snapshot of one provider's record.
type Stats struct {
	Provider  string  `json:"provider"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	AvgMs     float64 `json:"avg_latency_ms"`
	Score     float64 `json:"score"`
}

type record struct {
	successes int
	failures  int
	latencies []time.Duration
}

// Registry keeps health records per provider. Safe for concurrent use.
// Providers with no recorded calls score 1.0 so a fresh provider is never
// skipped before it has a chance to fail.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

// RecordSuccess counts a successful call and its latency for provider.
func (r *Registry) RecordSuccess(provider string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.get(provider)
	rec.successes++
	rec.latencies = append(rec.latencies, latency)
	if len(rec.latencies) > latencyWindow {
		rec.latencies = rec.latencies[len(rec.latencies)-latencyWindow:]
	}
}

// RecordFailure counts a failed call for provider.
func (r *Registry) RecordFailure(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(provider).failures++
}

// Score returns the provider's current health score in [0, 1]. The score is
// the success rate minus a latency penalty that starts once the average over
// the window exceeds 2 seconds.
func (r *Registry) Score(provider string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[provider]
	if !ok {
		return 1.0
	}
	return rec.score()
}

// Healthy reports whether the provider's score is at or above threshold.
// A threshold of 0 means DefaultThreshold.
func (r *Registry) Healthy(provider string, threshold float64) bool {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return r.Score(provider) >= threshold
}

// Snapshot returns stats for every provider the registry has seen.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.records))
	for name, rec := range r.records {
		out = append(out, Stats{
			Provider:  name,
			Successes: rec.successes,
			Failures:  rec.failures,
			AvgMs:     rec.avgMs(),
			Score:     rec.score(),
		})
	}
	return out
}

func (r *Registry) get(provider string) *record {
	rec, ok := r.records[provider]
	if !ok {
		rec = &record{}
		r.records[provider] = rec
	}
	return rec
}

func (rec *record) avgMs() float64 {
	if len(rec.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range rec.latencies {
		total += l
	}
	return float64(total.Milliseconds()) / float64(len(rec.latencies))
}

func (rec *record) score() float64 {
	total := rec.successes + rec.failures
	if total == 0 {
		return 1.0
	}
	score := float64(rec.successes) / float64(total)
	if avg := rec.avgMs(); avg > latencyFloorMs {
		penalty := (avg - latencyFloorMs) / latencyScaleMs
		if penalty > maxLatencyPenalty {
			penalty = maxLatencyPenalty
		}
		score -= penalty
	}
	if score < 0 {
		return 0
	}
	return score
}
