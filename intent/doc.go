// Package intent provides pluggable user-utterance classification strategies.
//
// Detector maps text to an intent label (or none) and Scorer maps text to a
// sentiment score. Both ship with keyword-based implementations; the narrow
// interfaces exist so model-backed classifiers can replace them without
// touching the turn pipeline.
package intent
