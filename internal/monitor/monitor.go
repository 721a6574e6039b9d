// Package monitor detects large probability swings in recent snapshot
// history.
//
// A swing is the spread between the highest and lowest primary-outcome
// probability inside the trailing window, so a market that jumps and comes
// back still counts. At most one LargeMove is persisted per market per window.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
	"github.com/rewired-gh/polyanalytics/internal/storage"
)

// minMoverSwing hides markets that did not move at all from mover listings.
const minMoverSwing = 1.0

// Config holds detection parameters.
type Config struct {
	Threshold float64       // points on the 0-100 scale
	Window    time.Duration // trailing window
}

// DefaultConfig returns a 15 point threshold over 24 hours.
func DefaultConfig() Config {
	return Config{Threshold: 15, Window: 24 * time.Hour}
}

// Store is the subset of the market store detection needs.
type Store interface {
	ListMarkets(ctx context.Context, f storage.MarketFilter) ([]models.Market, error)
	SnapshotsSince(ctx context.Context, marketID string, since time.Time) ([]models.Snapshot, error)
	InsertLargeMoveIfAbsent(ctx context.Context, m *models.LargeMove, windowStart time.Time) (bool, error)
}

// Monitor runs large-move detection over the store.
type Monitor struct {
	store *storage.Store
	cfg   Config
	now   func() time.Time
}

// New creates a new Monitor instance
func New(s *storage.Store, cfg Config) *Monitor {
	return &Monitor{store: s, cfg: cfg, now: time.Now}
}

// DetectionError represents a per-market error during detection
type DetectionError struct {
	MarketID string
	Err      error
}

func (e DetectionError) Error() string {
	return fmt.Sprintf("detection error for market %s: %v", e.MarketID, e.Err)
}

// WindowHours returns the window length in whole hours.
func (m *Monitor) WindowHours() int {
	return int(m.cfg.Window.Hours())
}

// DetectLargeMoves runs detection in its own transaction.
func (m *Monitor) DetectLargeMoves(ctx context.Context) ([]models.LargeMoveEvent, []DetectionError, error) {
	var (
		events []models.LargeMoveEvent
		errs   []DetectionError
	)
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		events, errs, err = m.Detect(ctx, tx, m.now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return events, errs, nil
}

// Detect scans every active market's trailing window and records a LargeMove
// for each swing at or above the threshold, unless one is already recorded
// for the window. Only newly recorded moves are returned.
func (m *Monitor) Detect(ctx context.Context, q Store, now time.Time) ([]models.LargeMoveEvent, []DetectionError, error) {
	if m.cfg.Window <= 0 {
		return nil, nil, fmt.Errorf("invalid window %v: must be positive", m.cfg.Window)
	}
	windowStart := now.Add(-m.cfg.Window)

	markets, err := q.ListMarkets(ctx, storage.MarketFilter{ActiveOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list active markets: %w", err)
	}

	var (
		events          []models.LargeMoveEvent
		detectionErrors []DetectionError
		insufficient    int
		alreadyRecorded int
		maxSwingSeen    float64
	)
	for _, market := range markets {
		snaps, err := q.SnapshotsSince(ctx, market.ID, windowStart)
		if err != nil {
			detectionErrors = append(detectionErrors, DetectionError{MarketID: market.ID, Err: err})
			continue
		}
		if len(snaps) < 2 {
			insufficient++
			continue
		}

		swing := history.Swing(history.FromSnapshots(snaps))
		maxSwingSeen = math.Max(maxSwingSeen, swing)
		if swing < m.cfg.Threshold {
			continue
		}

		first, last := snaps[0], snaps[len(snaps)-1]
		move := models.LargeMove{
			ID:               uuid.NewString(),
			MarketID:         market.ID,
			DetectedAt:       now,
			WindowStart:      first.Timestamp,
			WindowEnd:        last.Timestamp,
			ProbabilityStart: first.Probability,
			ProbabilityEnd:   last.Probability,
			ChangePoints:     swing,
		}
		inserted, err := q.InsertLargeMoveIfAbsent(ctx, &move, windowStart)
		if err != nil {
			detectionErrors = append(detectionErrors, DetectionError{MarketID: market.ID, Err: err})
			continue
		}
		if !inserted {
			alreadyRecorded++
			continue
		}
		events = append(events, models.LargeMoveEvent{
			LargeMove:   move,
			Question:    market.Question,
			WindowHours: m.WindowHours(),
		})
	}

	logger.Debug("Detection: %d active markets, %d with <2 snapshots, %d already recorded, max swing %.1f, %d new moves",
		len(markets), insufficient, alreadyRecorded, maxSwingSeen, len(events))
	return events, detectionErrors, nil
}

// RecentMovers ranks active markets by swing inside the window, whether or
// not they cross the persisted threshold. It reports both the swing and the
// directional first-to-last change.
func (m *Monitor) RecentMovers(ctx context.Context, limit int) ([]models.Mover, error) {
	windowStart := m.now().Add(-m.cfg.Window)
	markets, err := m.store.ListMarkets(ctx, storage.MarketFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list active markets: %w", err)
	}

	var movers []models.Mover
	for _, market := range markets {
		snaps, err := m.store.SnapshotsSince(ctx, market.ID, windowStart)
		if err != nil {
			logger.Warn("Failed to load snapshots for %s: %v", market.ID, err)
			continue
		}
		if len(snaps) < 2 {
			continue
		}
		swing := history.Swing(history.FromSnapshots(snaps))
		if swing < minMoverSwing {
			continue
		}
		first, last := snaps[0], snaps[len(snaps)-1]
		change := last.Probability - first.Probability
		movers = append(movers, models.Mover{
			MarketID:         market.ID,
			Question:         market.Question,
			Category:         market.Category,
			ProbabilityStart: first.Probability,
			ProbabilityEnd:   last.Probability,
			Change:           change,
			AbsChange:        math.Abs(change),
			MaxSwing:         swing,
			Volume:           market.Volume,
			WindowHours:      m.WindowHours(),
		})
	}

	sort.SliceStable(movers, func(i, j int) bool {
		return movers[i].MaxSwing > movers[j].MaxSwing
	})
	if limit > 0 && len(movers) > limit {
		movers = movers[:limit]
	}
	return movers, nil
}
