package models

import (
	"errors"
	"math"
	"time"
)

// LargeMove records that a market's primary probability swung by at least the
// configured threshold inside one detection window.
type LargeMove struct {
	ID               string    `json:"id"`
	MarketID         string    `json:"market_id"`
	DetectedAt       time.Time `json:"detected_at"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	ProbabilityStart float64   `json:"probability_start"`
	ProbabilityEnd   float64   `json:"probability_end"`
	ChangePoints     float64   `json:"change_points"`
}

// Validate checks that all large move fields are valid
func (m *LargeMove) Validate() error {
	if m.ID == "" {
		return errors.New("large move ID must not be empty")
	}
	if m.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.WindowEnd.Before(m.WindowStart) {
		return errors.New("window end must not precede window start")
	}
	if m.ChangePoints < 0 || m.ChangePoints > 100 {
		return errors.New("change points must be between 0 and 100")
	}
	// The swing is at least the net change between the reference points.
	if m.ChangePoints+0.001 < math.Abs(m.ProbabilityEnd-m.ProbabilityStart) {
		return errors.New("change points must be at least |end - start|")
	}
	return nil
}

// LargeMoveEvent is what detection reports to its caller.
type LargeMoveEvent struct {
	LargeMove
	Question    string `json:"question"`
	WindowHours int    `json:"window_hours"`
}
