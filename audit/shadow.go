package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
)

// intentMatchThreshold is the similarity above which the shadow model is
// considered to have reached the same answer as the primary.
const intentMatchThreshold = 0.85

// ShadowLog records one primary-vs-shadow comparison.
type ShadowLog struct {
	SessionID       string        `json:"session_id"`
	TurnIndex       int           `json:"turn_index"`
	PrimaryModel    string        `json:"primary_model"`
	ShadowModel     string        `json:"shadow_model"`
	PrimaryResponse string        `json:"primary_response"`
	ShadowResponse  string        `json:"shadow_response"`
	Similarity      float64       `json:"similarity_score"`
	PrimaryLatency  time.Duration `json:"primary_latency_ms"`
	ShadowLatency   time.Duration `json:"shadow_latency_ms"`
	IntentMatch     bool          `json:"intent_match"`
	Timestamp       time.Time     `json:"created_at"`
}

// ShadowComparatorOptions configures the comparator.
type ShadowComparatorOptions struct {
	Logger logging.Logger
	// Timeout bounds the shadow generation. Zero means 30 seconds.
	Timeout time.Duration
}

// ShadowComparator replays turns against a second model and scores how
// closely its answer tracks the primary's. Comparisons run after the
// primary response has shipped, so shadow latency never affects callers.
type ShadowComparator struct {
	shadow  model.Model
	logger  logging.Logger
	timeout time.Duration

	mu   sync.Mutex
	logs []ShadowLog
}

// NewShadowComparator constructs a comparator using shadow as the second opinion.
func NewShadowComparator(shadow model.Model, optFns ...func(o *ShadowComparatorOptions)) *ShadowComparator {
	opts := ShadowComparatorOptions{Logger: logging.NoOpLogger{}, Timeout: 30 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ShadowComparator{shadow: shadow, logger: opts.Logger, timeout: opts.Timeout}
}

// ShadowRequest carries everything needed to replay a turn.
type ShadowRequest struct {
	SessionID       string
	TurnIndex       int
	Instructions    string
	History         []core.Turn
	Input           string
	PrimaryResponse string
	PrimaryModel    string
	PrimaryLatency  time.Duration
}

// CompareTurn runs the shadow model on the same input and logs the
// comparison. Failures are recorded with an empty shadow response rather
// than surfaced.
func (s *ShadowComparator) CompareTurn(ctx context.Context, req ShadowRequest) ShadowLog {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	respCh, errCh := s.shadow.Generate(ctx, model.Request{
		Instructions: req.Instructions,
		History:      req.History,
		Input:        req.Input,
	})
	resp, err := model.Collect(ctx, respCh, errCh)
	shadowLatency := time.Since(start)

	shadowText := resp.Text
	if err != nil {
		s.logger.Warn("shadow.generation.failed", "session_id", req.SessionID, "error", err.Error())
		shadowText = ""
	}

	sim := Similarity(req.PrimaryResponse, shadowText)
	log := ShadowLog{
		SessionID:       req.SessionID,
		TurnIndex:       req.TurnIndex,
		PrimaryModel:    req.PrimaryModel,
		ShadowModel:     s.shadow.Info().Name,
		PrimaryResponse: req.PrimaryResponse,
		ShadowResponse:  shadowText,
		Similarity:      sim,
		PrimaryLatency:  req.PrimaryLatency,
		ShadowLatency:   shadowLatency,
		IntentMatch:     sim > intentMatchThreshold,
		Timestamp:       time.Now().UTC(),
	}

	s.mu.Lock()
	s.logs = append(s.logs, log)
	s.mu.Unlock()

	s.logger.Info("shadow.comparison",
		"session_id", req.SessionID,
		"turn", req.TurnIndex,
		"similarity", sim,
		"latency_diff_ms", (shadowLatency - req.PrimaryLatency).Milliseconds())

	return log
}

// Logs returns a copy of all recorded comparisons.
func (s *ShadowComparator) Logs() []ShadowLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShadowLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Similarity is a symmetric token-overlap score in [0,1]: the size of the
// shared vocabulary divided by the larger of the two vocabularies.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}
	larger := len(setA)
	if len(setB) > larger {
		larger = len(setB)
	}
	return float64(shared) / float64(larger)
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}
