package models

import (
	"strings"
	"time"
)

// Signal is a normalized market event emitted by an upstream producer.
// Signals are immutable once emitted and are delivered at-least-once.
type Signal struct {
	ID         string    `json:"id"`
	SignalType string    `json:"signal_type"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Confidence float64   `json:"confidence"` // 0-100
	Source     string    `json:"source"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// SignalSubscription is a filter predicate attached to a pipeline.
// Empty Timeframe and nil MinConfidence mean "any".
type SignalSubscription struct {
	SignalType    string   `json:"signal_type" validate:"required"`
	Timeframe     string   `json:"timeframe,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// Matches reports whether the signal satisfies the subscription.
func (s SignalSubscription) Matches(sig *Signal) bool {
	if sig == nil {
		return false
	}
	if !strings.EqualFold(s.SignalType, sig.SignalType) {
		return false
	}
	if s.Timeframe != "" && !strings.EqualFold(s.Timeframe, sig.Timeframe) {
		return false
	}
	if s.MinConfidence != nil && sig.Confidence < *s.MinConfidence {
		return false
	}
	return true
}
