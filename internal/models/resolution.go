package models

import (
	"errors"
	"time"
)

// ResolutionAnalysis is the once-only classification of a resolved market.
type ResolutionAnalysis struct {
	ID                 string    `json:"id"`
	MarketID           string    `json:"market_id"`
	FinalProbability   float64   `json:"final_probability"`
	ProbabilityBucket  string    `json:"probability_bucket"`
	ResolvedAt         time.Time `json:"resolved_at"`
	Outcome            string    `json:"outcome"`
	PredictedCorrectly bool      `json:"predicted_correctly"`
	IsBlackSwan        bool      `json:"is_black_swan"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// Validate checks that all analysis fields are valid
func (r *ResolutionAnalysis) Validate() error {
	if r.ID == "" {
		return errors.New("analysis ID must not be empty")
	}
	if r.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if r.FinalProbability < 0 || r.FinalProbability > 100 {
		return errors.New("final probability must be between 0 and 100")
	}
	if r.ProbabilityBucket == "" {
		return errors.New("probability bucket must not be empty")
	}
	if r.Outcome == "" {
		return errors.New("outcome must not be empty")
	}
	return nil
}
