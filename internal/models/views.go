package models

import "time"

// BucketStat is the calibration summary of one confidence bucket.
type BucketStat struct {
	Bucket         string  `json:"bucket"`
	TotalResolved  int     `json:"total_resolved"`
	Correct        int     `json:"correct"`
	Incorrect      int     `json:"incorrect"`
	AccuracyRate   float64 `json:"accuracy_rate"`
	BlackSwanCount int     `json:"black_swan_count"`
}

// OverviewStats aggregates store-wide counts for dashboards.
type OverviewStats struct {
	TotalMarketsTracked int          `json:"total_markets_tracked"`
	ActiveMarkets       int          `json:"active_markets"`
	ResolvedMarkets     int          `json:"resolved_markets"`
	TotalSnapshots      int          `json:"total_snapshots"`
	BucketStats         []BucketStat `json:"bucket_stats"`
	BlackSwanCount      int          `json:"black_swan_count"`
	RecentLargeMoves    int          `json:"recent_large_moves"`
}

// MarketView is a market with its most recent observed values.
type MarketView struct {
	ID                string     `json:"id"`
	Question          string     `json:"question"`
	Category          string     `json:"category,omitempty"`
	Probability       float64    `json:"probability"`
	Liquidity         float64    `json:"liquidity"`
	Volume            float64    `json:"volume"`
	Volume24h         float64    `json:"volume_24h"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	IsResolved        bool       `json:"is_resolved"`
	ResolutionOutcome string     `json:"resolution_outcome,omitempty"`
	LastUpdatedAt     time.Time  `json:"last_updated_at"`
}

// MarketHistory is a market with its full snapshot and move history.
type MarketHistory struct {
	Market     Market      `json:"market"`
	Snapshots  []Snapshot  `json:"snapshots"`
	LargeMoves []LargeMove `json:"large_moves"`
}

// BlackSwanView is a classified black swan joined with its market.
type BlackSwanView struct {
	MarketID         string    `json:"market_id"`
	Question         string    `json:"question"`
	Category         string    `json:"category,omitempty"`
	FinalProbability float64   `json:"final_probability"`
	Outcome          string    `json:"outcome"`
	ResolvedAt       time.Time `json:"resolved_at"`
}

// Mover is a market ranked by its probability swing inside a window.
type Mover struct {
	MarketID         string  `json:"market_id"`
	Question         string  `json:"question"`
	Category         string  `json:"category,omitempty"`
	ProbabilityStart float64 `json:"probability_start"`
	ProbabilityEnd   float64 `json:"probability_end"`
	Change           float64 `json:"change"`
	AbsChange        float64 `json:"abs_change"`
	MaxSwing         float64 `json:"max_swing"`
	Volume           float64 `json:"volume"`
	WindowHours      int     `json:"window_hours"`
}

// SimulationMarket is a market as it looked on a past date.
type SimulationMarket struct {
	MarketID          string     `json:"market_id"`
	Question          string     `json:"question"`
	Category          string     `json:"category,omitempty"`
	Probability       float64    `json:"probability"`
	Volume            float64    `json:"volume"`
	ObservedAt        time.Time  `json:"observed_at"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	IsResolved        bool       `json:"is_resolved"`
	ResolutionOutcome string     `json:"resolution_outcome,omitempty"`
}
