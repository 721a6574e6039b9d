package models

import (
	"errors"
	"fmt"
	"time"
)

// MarketRecord is one market as reported by the external API, already
// normalized by the parsing layer. Every ambiguous field is resolved before a
// record is built, so consumers never re-interpret raw payloads.
type MarketRecord struct {
	ID                string
	ConditionID       string
	Question          string
	Description       string
	Category          string
	Outcomes          []string
	OutcomePrices     map[string]float64
	ClobTokenIDs      []string
	CreatedAt         *time.Time
	EndDate           *time.Time
	ResolvedAt        *time.Time
	Closed            bool
	IsResolved        bool
	ResolutionOutcome string
	Liquidity         float64
	Volume            float64
	Volume24h         float64
}

// Validate checks that a record is usable for upsert and snapshotting.
func (r *MarketRecord) Validate() error {
	if r.ID == "" {
		return errors.New("record ID must not be empty")
	}
	if r.Question == "" {
		return fmt.Errorf("record %s: question must not be empty", r.ID)
	}
	if len(r.Outcomes) == 0 {
		return fmt.Errorf("record %s: outcomes must not be empty", r.ID)
	}
	for name, p := range r.OutcomePrices {
		if p < 0 || p > 1 {
			return fmt.Errorf("record %s: price %.4f for %q out of range", r.ID, p, name)
		}
	}
	if r.Liquidity < 0 || r.Volume < 0 || r.Volume24h < 0 {
		return fmt.Errorf("record %s: liquidity and volume must be non-negative", r.ID)
	}
	if r.IsResolved && r.ResolutionOutcome == "" {
		return fmt.Errorf("record %s: resolved without an outcome", r.ID)
	}
	return nil
}

// PrimaryProbability returns the primary-outcome probability on a 0-100 scale:
// the outcome named "Yes" when present, else the first declared outcome, else 0.
func (r *MarketRecord) PrimaryProbability() float64 {
	if p, ok := r.OutcomePrices["Yes"]; ok {
		return p * 100
	}
	if len(r.Outcomes) > 0 {
		if p, ok := r.OutcomePrices[r.Outcomes[0]]; ok {
			return p * 100
		}
	}
	return 0
}

// TokenFor returns the CLOB token id of the named outcome, if known.
func (r *MarketRecord) TokenFor(outcome string) (string, bool) {
	for i, o := range r.Outcomes {
		if o == outcome && i < len(r.ClobTokenIDs) {
			return r.ClobTokenIDs[i], true
		}
	}
	return "", false
}
