package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

const (
	winnerPrice = 0.95
	loserPrice  = 0.05
)

var defaultOutcomes = []string{"Yes", "No"}

// ParseMarket normalizes one raw Gamma market payload.
func ParseMarket(data json.RawMessage) (*models.MarketRecord, error) {
	var raw rawMarket
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode market: %w", err)
	}
	return raw.normalize()
}

func (r *rawMarket) normalize() (*models.MarketRecord, error) {
	conditionID := firstNonEmpty(r.ConditionID, r.ConditionIDAlt)
	id := firstNonEmpty(string(r.ID), conditionID)
	if id == "" {
		return nil, fmt.Errorf("market without id or condition id")
	}

	outcomes := []string(r.Outcomes)
	if len(outcomes) == 0 {
		outcomes = defaultOutcomes
	}
	priceList, err := parsePrices(r.OutcomePrices)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", id, err)
	}
	prices := make(map[string]float64, len(outcomes))
	for i, name := range outcomes {
		if i < len(priceList) {
			prices[name] = priceList[i]
		}
	}

	end := r.EndDate
	if end.IsZero() {
		end = r.EndDateISO
	}

	rec := &models.MarketRecord{
		ID:            id,
		ConditionID:   conditionID,
		Question:      r.Question,
		Description:   r.Description,
		Category:      firstNonEmpty(r.Category, r.GroupSlug),
		Outcomes:      outcomes,
		OutcomePrices: prices,
		ClobTokenIDs:  []string(r.ClobTokenIDs),
		CreatedAt:     r.CreatedAt.ptr(),
		EndDate:       end.ptr(),
		Closed:        bool(r.Closed) || bool(r.Resolved),
		Liquidity:     float64(r.LiquidityNum),
		Volume:        float64(r.VolumeNum),
		Volume24h:     float64(r.Volume24hr),
	}
	if rec.Liquidity == 0 {
		rec.Liquidity = float64(r.Liquidity)
	}
	if rec.Volume == 0 {
		rec.Volume = float64(r.Volume)
	}
	if rec.Question == "" {
		rec.Question = "Unknown"
	}

	if rec.Closed {
		winner := DetermineWinner(outcomes, priceList, r.WinningOutcome, r.Winner, r.Resolution)
		if winner != "" {
			rec.IsResolved = true
			rec.ResolutionOutcome = winner
			rec.ResolvedAt = r.ClosedTime.ptr()
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func parsePrices(raw []string) ([]float64, error) {
	prices := make([]float64, len(raw))
	for i, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid outcome price %q: %w", s, err)
		}
		prices[i] = p
	}
	return prices, nil
}

// DetermineWinner picks the winning outcome of a closed market: an outcome
// priced above 0.95; else, when one outcome is priced under 0.05, another
// priced above 0.5; else the first explicit resolution field that names a
// yes/no side or one of the outcomes. It returns "" when undecidable.
func DetermineWinner(outcomes []string, prices []float64, explicit ...string) string {
	for i, p := range prices {
		if p > winnerPrice && i < len(outcomes) {
			return outcomes[i]
		}
	}
	for i, p := range prices {
		if p >= loserPrice || i >= len(outcomes) {
			continue
		}
		for j, other := range prices {
			if j != i && j < len(outcomes) && other > 0.5 {
				return outcomes[j]
			}
		}
	}

	for _, field := range explicit {
		field = strings.TrimSpace(field)
		if field == "" || strings.HasPrefix(field, "http") {
			continue
		}
		switch strings.ToLower(field) {
		case "yes", "true", "1":
			return "Yes"
		case "no", "false", "0":
			return "No"
		}
		for _, o := range outcomes {
			if strings.EqualFold(o, field) {
				return o
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
