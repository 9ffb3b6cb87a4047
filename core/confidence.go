package core

// ConfidenceScores carries per-stage confidence in [0,1] for one input. The
// overall score is the minimum across stages: the pipeline only trusts an
// input as much as its least trusted stage.
type ConfidenceScores struct {
	SpeechRecognition float64 `json:"speech_recognition"`
	IntentDetection   float64 `json:"intent_detection"`
}

// Overall returns the minimum-trust aggregate of the stage scores.
func (c ConfidenceScores) Overall() float64 {
	overall := c.SpeechRecognition
	if c.IntentDetection < overall {
		overall = c.IntentDetection
	}
	return overall
}

// FullConfidence is used for typed text input, which needs no gating.
var FullConfidence = ConfidenceScores{SpeechRecognition: 1, IntentDetection: 1}
