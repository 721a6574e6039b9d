package models

import (
	"testing"
	"time"
)

func TestMarketValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  Market
		wantErr bool
	}{
		{
			name: "valid market",
			market: Market{
				ID:            "market-1",
				Question:      "Will X happen?",
				Outcomes:      []string{"Yes", "No"},
				OutcomePrices: map[string]float64{"Yes": 0.75, "No": 0.25},
				IsActive:      true,
				Volume:        150000,
			},
		},
		{
			name:    "empty ID",
			market:  Market{Question: "Will X happen?"},
			wantErr: true,
		},
		{
			name:    "empty question",
			market:  Market{ID: "market-1"},
			wantErr: true,
		},
		{
			name:    "negative volume",
			market:  Market{ID: "market-1", Question: "Q", Volume: -1},
			wantErr: true,
		},
		{
			name:    "resolved without outcome",
			market:  Market{ID: "market-1", Question: "Q", IsResolved: true},
			wantErr: true,
		},
		{
			name: "price out of range",
			market: Market{
				ID:            "market-1",
				Question:      "Q",
				OutcomePrices: map[string]float64{"Yes": 1.2},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Market.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrimaryProbability(t *testing.T) {
	tests := []struct {
		name   string
		record MarketRecord
		want   float64
	}{
		{
			name: "yes outcome preferred",
			record: MarketRecord{
				Outcomes:      []string{"No", "Yes"},
				OutcomePrices: map[string]float64{"No": 0.3, "Yes": 0.7},
			},
			want: 70,
		},
		{
			name: "first outcome when no yes",
			record: MarketRecord{
				Outcomes:      []string{"Lakers", "Celtics"},
				OutcomePrices: map[string]float64{"Lakers": 0.42, "Celtics": 0.58},
			},
			want: 42,
		},
		{
			name:   "no prices",
			record: MarketRecord{Outcomes: []string{"Yes", "No"}},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.record.PrimaryProbability()
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("PrimaryProbability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarketRecordValidate(t *testing.T) {
	valid := MarketRecord{
		ID:            "m1",
		Question:      "Will it rain?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: map[string]float64{"Yes": 0.5, "No": 0.5},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	noOutcomes := valid
	noOutcomes.Outcomes = nil
	if err := noOutcomes.Validate(); err == nil {
		t.Error("expected error for record without outcomes")
	}

	resolved := valid
	resolved.IsResolved = true
	if err := resolved.Validate(); err == nil {
		t.Error("expected error for resolved record without outcome")
	}
}

func TestTokenFor(t *testing.T) {
	r := MarketRecord{Outcomes: []string{"Yes", "No"}, ClobTokenIDs: []string{"t1", "t2"}}
	if tok, ok := r.TokenFor("No"); !ok || tok != "t2" {
		t.Errorf("TokenFor(No) = %q, %v", tok, ok)
	}
	if _, ok := r.TokenFor("Maybe"); ok {
		t.Error("TokenFor(Maybe) should not be found")
	}
}

func TestSnapshotValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		snapshot Snapshot
		wantErr  bool
	}{
		{"valid", Snapshot{MarketID: "m1", Timestamp: now, Probability: 55}, false},
		{"missing market", Snapshot{Timestamp: now, Probability: 55}, true},
		{"probability above 100", Snapshot{MarketID: "m1", Timestamp: now, Probability: 101}, true},
		{"zero timestamp", Snapshot{MarketID: "m1", Probability: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snapshot.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Snapshot.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLargeMoveValidate(t *testing.T) {
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()
	tests := []struct {
		name    string
		move    LargeMove
		wantErr bool
	}{
		{
			name: "round trip swing larger than net change",
			move: LargeMove{ID: "a", MarketID: "m", WindowStart: start, WindowEnd: end,
				ProbabilityStart: 30, ProbabilityEnd: 68, ChangePoints: 42},
		},
		{
			name: "swing below net change",
			move: LargeMove{ID: "a", MarketID: "m", WindowStart: start, WindowEnd: end,
				ProbabilityStart: 30, ProbabilityEnd: 68, ChangePoints: 20},
			wantErr: true,
		},
		{
			name: "inverted window",
			move: LargeMove{ID: "a", MarketID: "m", WindowStart: end, WindowEnd: start,
				ChangePoints: 20},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.move.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("LargeMove.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDaysToResolution(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(72 * time.Hour)
	m := Market{EndDate: &end}
	if d, ok := m.DaysToResolution(now); !ok || d != 3 {
		t.Errorf("DaysToResolution() = %d, %v, want 3, true", d, ok)
	}
	if _, ok := (&Market{}).DaysToResolution(now); ok {
		t.Error("unknown end date should report false")
	}
}
