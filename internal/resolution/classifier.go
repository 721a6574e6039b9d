// Package resolution classifies resolved markets exactly once: final
// probability bucket, whether the favoured side won, and whether the market
// was a black swan.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
)

const (
	confidentYes = 70.0
	confidentNo  = 30.0
	midpoint     = 50.0

	unknownOutcome = "unknown"
)

// Config holds the classification parameters.
type Config struct {
	Boundaries         []float64
	BlackSwanThreshold float64
	LookbackDays       int
}

// DefaultConfig returns the standard classification parameters.
func DefaultConfig() Config {
	return Config{
		Boundaries:         DefaultBoundaries,
		BlackSwanThreshold: 80,
		LookbackDays:       14,
	}
}

// Store is the subset of the market store the classifier needs.
type Store interface {
	MarketsAwaitingClassification(ctx context.Context) ([]models.Market, error)
	Snapshots(ctx context.Context, marketID string) ([]models.Snapshot, error)
	InsertResolutionAnalysis(ctx context.Context, ra *models.ResolutionAnalysis) (bool, error)
	DeactivateMarket(ctx context.Context, id string) error
}

// ClassifyError records a failure to classify a single market.
type ClassifyError struct {
	MarketID string
	Err      error
}

func (e ClassifyError) Error() string {
	return fmt.Sprintf("market %s: %v", e.MarketID, e.Err)
}

func (e ClassifyError) Unwrap() error { return e.Err }

// Classifier writes one ResolutionAnalysis per newly resolved market.
type Classifier struct {
	cfg Config
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Run classifies every resolved market that still lacks an analysis and
// deactivates it. Markets without snapshots are left for a later run.
// Per-market failures are returned separately and do not stop the scan.
func (c *Classifier) Run(ctx context.Context, st Store, now time.Time) ([]models.ResolutionAnalysis, []ClassifyError, error) {
	markets, err := st.MarketsAwaitingClassification(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list resolved markets: %w", err)
	}

	var (
		analyses []models.ResolutionAnalysis
		errs     []ClassifyError
	)
	for i := range markets {
		m := &markets[i]
		snaps, err := st.Snapshots(ctx, m.ID)
		if err != nil {
			errs = append(errs, ClassifyError{MarketID: m.ID, Err: err})
			continue
		}
		ra, ok := Classify(m, snaps, c.cfg, now)
		if !ok {
			logger.Debug("Market %s resolved without snapshots, deferring classification", m.ID)
			continue
		}

		inserted, err := st.InsertResolutionAnalysis(ctx, ra)
		if err != nil {
			errs = append(errs, ClassifyError{MarketID: m.ID, Err: err})
			continue
		}
		if err := st.DeactivateMarket(ctx, m.ID); err != nil {
			errs = append(errs, ClassifyError{MarketID: m.ID, Err: err})
			continue
		}
		if inserted {
			analyses = append(analyses, *ra)
			logger.Info("Classified %s: final=%.1f%% bucket=%s outcome=%s correct=%v black_swan=%v",
				m.ID, ra.FinalProbability, ra.ProbabilityBucket, ra.Outcome, ra.PredictedCorrectly, ra.IsBlackSwan)
		}
	}
	return analyses, errs, nil
}

// Classify builds the analysis of a resolved market from its snapshots in
// capture order. It reports false when there is no snapshot to classify from.
func Classify(m *models.Market, snaps []models.Snapshot, cfg Config, now time.Time) (*models.ResolutionAnalysis, bool) {
	if len(snaps) == 0 {
		return nil, false
	}
	final := snaps[len(snaps)-1].Probability

	outcome := m.ResolutionOutcome
	if outcome == "" {
		outcome = unknownOutcome
	}
	resolvedYes := IsYesLike(outcome)

	resolvedAt := now
	if m.ResolvedAt != nil {
		resolvedAt = *m.ResolvedAt
	}

	return &models.ResolutionAnalysis{
		ID:                 uuid.NewString(),
		MarketID:           m.ID,
		FinalProbability:   final,
		ProbabilityBucket:  Bucket(cfg.Boundaries, final),
		ResolvedAt:         resolvedAt,
		Outcome:            outcome,
		PredictedCorrectly: (final > midpoint) == resolvedYes,
		IsBlackSwan:        IsBlackSwan(history.FromSnapshots(snaps), m.EndDate, final, resolvedYes, cfg),
		AnalyzedAt:         now,
	}, true
}

// IsBlackSwan applies the lookback rule. When a point exists at the lookback
// mark before the end date, the market must have been confident there, then
// crossed the midpoint afterwards, and resolved against that early read.
// Without such a point the final probability is compared to the threshold.
// A market with no end date is never a black swan.
func IsBlackSwan(points []history.Point, endDate *time.Time, final float64, resolvedYes bool, cfg Config) bool {
	if endDate == nil {
		return false
	}
	mark := endDate.AddDate(0, 0, -cfg.LookbackDays)

	early, ok := history.ProbabilityAt(points, mark)
	if !ok {
		t := cfg.BlackSwanThreshold
		return (final >= t && !resolvedYes) || (final <= 100-t && resolvedYes)
	}

	later := history.After(points, mark)
	switch {
	case early.Value >= confidentYes:
		if resolvedYes {
			return false
		}
		for _, p := range later {
			if p.Value < midpoint {
				return true
			}
		}
	case early.Value <= confidentNo:
		if !resolvedYes {
			return false
		}
		for _, p := range later {
			if p.Value > midpoint {
				return true
			}
		}
	}
	return false
}
