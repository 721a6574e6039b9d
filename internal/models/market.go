package models

import (
	"errors"
	"time"
)

// Market is the latest known state of one tracked prediction market.
type Market struct {
	ID                string             `json:"id"`
	ConditionID       string             `json:"condition_id,omitempty"`
	Question          string             `json:"question"`
	Description       string             `json:"description,omitempty"`
	Category          string             `json:"category,omitempty"`
	Outcomes          []string           `json:"outcomes"`
	OutcomePrices     map[string]float64 `json:"outcome_prices"`
	IsActive          bool               `json:"is_active"`
	IsResolved        bool               `json:"is_resolved"`
	ResolutionOutcome string             `json:"resolution_outcome,omitempty"`
	Liquidity         float64            `json:"liquidity"`
	Volume            float64            `json:"volume"`
	Volume24h         float64            `json:"volume_24h"`
	CreatedAt         *time.Time         `json:"created_at,omitempty"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty"`
	FirstTrackedAt    time.Time          `json:"first_tracked_at"`
	LastUpdatedAt     time.Time          `json:"last_updated_at"`
}

// Validate checks the stored market invariants.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Question == "" {
		return errors.New("question must not be empty")
	}
	if m.Liquidity < 0 || m.Volume < 0 || m.Volume24h < 0 {
		return errors.New("liquidity and volume must be non-negative")
	}
	if m.IsResolved && m.ResolutionOutcome == "" {
		return errors.New("resolved market must carry a resolution outcome")
	}
	for name, p := range m.OutcomePrices {
		if p < 0 || p > 1 {
			return errors.New("price for outcome " + name + " must be between 0.0 and 1.0")
		}
	}
	return nil
}

// DaysToResolution returns the whole days between now and the end date.
// The second value is false when the end date is unknown.
func (m *Market) DaysToResolution(now time.Time) (int, bool) {
	if m.EndDate == nil {
		return 0, false
	}
	return int(m.EndDate.Sub(now).Hours() / 24), true
}
