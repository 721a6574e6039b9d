package models

import (
	"errors"
	"time"
)

// Snapshot is an immutable point-in-time observation of a market.
type Snapshot struct {
	ID            int64              `json:"id"`
	MarketID      string             `json:"market_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Probability   float64            `json:"probability"` // primary outcome, 0-100
	OutcomePrices map[string]float64 `json:"outcome_prices"`
	Liquidity     float64            `json:"liquidity"`
	Volume        float64            `json:"volume"`
	Volume24h     float64            `json:"volume_24h"`
}

// Validate checks that all snapshot fields are valid
func (s *Snapshot) Validate() error {
	if s.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if s.Probability < 0 || s.Probability > 100 {
		return errors.New("probability must be between 0 and 100")
	}
	if s.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if s.Liquidity < 0 || s.Volume < 0 || s.Volume24h < 0 {
		return errors.New("liquidity and volume must be non-negative")
	}
	return nil
}
