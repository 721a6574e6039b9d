// Package analytics serves the read side: calibration by confidence bucket,
// overview counts, and market, black-swan and simulation views.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/models"
	"github.com/rewired-gh/polyanalytics/internal/resolution"
	"github.com/rewired-gh/polyanalytics/internal/storage"
)

// Sort keys accepted by ActiveMarkets.
const (
	SortByVolume      = "volume"
	SortByLiquidity   = "liquidity"
	SortByProbability = "probability"
	SortByEndDate     = "end_date"
)

const (
	recentMovesWindow = 24 * time.Hour
	dayLayout         = "2006-01-02"
)

// Engine answers analytics queries against the store.
type Engine struct {
	store      *storage.Store
	boundaries []float64
	now        func() time.Time
}

// New creates an Engine reporting on the given bucket boundaries.
func New(s *storage.Store, boundaries []float64) *Engine {
	return &Engine{store: s, boundaries: boundaries, now: time.Now}
}

// BucketStats returns one calibration row per configured bucket, in boundary
// order, including empty buckets.
func (e *Engine) BucketStats(ctx context.Context) ([]models.BucketStat, error) {
	counts, err := e.store.BucketCounts(ctx)
	if err != nil {
		return nil, err
	}
	return Calibrate(resolution.Labels(e.boundaries), counts), nil
}

// Calibrate turns raw per-bucket counts into calibration rows.
func Calibrate(labels []string, counts map[string]storage.BucketCount) []models.BucketStat {
	stats := make([]models.BucketStat, 0, len(labels))
	for _, label := range labels {
		c := counts[label]
		stat := models.BucketStat{
			Bucket:         label,
			TotalResolved:  c.Total,
			Correct:        c.Correct,
			Incorrect:      c.Total - c.Correct,
			BlackSwanCount: c.BlackSwans,
		}
		if c.Total > 0 {
			stat.AccuracyRate = 100 * float64(c.Correct) / float64(c.Total)
		}
		stats = append(stats, stat)
	}
	return stats
}

// Overview returns store-wide counts with bucket stats.
func (e *Engine) Overview(ctx context.Context) (*models.OverviewStats, error) {
	counts, err := e.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := e.BucketStats(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := e.store.CountLargeMovesSince(ctx, e.now().Add(-recentMovesWindow))
	if err != nil {
		return nil, err
	}
	return &models.OverviewStats{
		TotalMarketsTracked: counts.Markets,
		ActiveMarkets:       counts.Active,
		ResolvedMarkets:     counts.Resolved,
		TotalSnapshots:      counts.Snapshots,
		BucketStats:         buckets,
		BlackSwanCount:      counts.BlackSwans,
		RecentLargeMoves:    recent,
	}, nil
}

// ActiveMarkets lists active markets with their latest observed values,
// sorted descending by sortKey (ascending for end_date, unknown dates last).
// Unknown keys sort by volume.
func (e *Engine) ActiveMarkets(ctx context.Context, sortKey string, limit int) ([]models.MarketView, error) {
	markets, err := e.store.ListMarkets(ctx, storage.MarketFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	latest, err := e.store.LatestActiveSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]models.MarketView, 0, len(markets))
	for _, m := range markets {
		v := models.MarketView{
			ID:                m.ID,
			Question:          m.Question,
			Category:          m.Category,
			Liquidity:         m.Liquidity,
			Volume:            m.Volume,
			Volume24h:         m.Volume24h,
			EndDate:           m.EndDate,
			IsResolved:        m.IsResolved,
			ResolutionOutcome: m.ResolutionOutcome,
			LastUpdatedAt:     m.LastUpdatedAt,
		}
		if s, ok := latest[m.ID]; ok {
			v.Probability = s.Probability
			v.Liquidity = s.Liquidity
			v.Volume = s.Volume
			v.Volume24h = s.Volume24h
		}
		views = append(views, v)
	}

	sortViews(views, sortKey)
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func sortViews(views []models.MarketView, key string) {
	var less func(a, b models.MarketView) bool
	switch key {
	case SortByLiquidity:
		less = func(a, b models.MarketView) bool { return a.Liquidity > b.Liquidity }
	case SortByProbability:
		less = func(a, b models.MarketView) bool { return a.Probability > b.Probability }
	case SortByEndDate:
		less = func(a, b models.MarketView) bool {
			switch {
			case a.EndDate == nil:
				return false
			case b.EndDate == nil:
				return true
			}
			return a.EndDate.Before(*b.EndDate)
		}
	default:
		less = func(a, b models.MarketView) bool { return a.Volume > b.Volume }
	}
	sort.SliceStable(views, func(i, j int) bool { return less(views[i], views[j]) })
}

// MarketHistory returns a market with all snapshots in capture order and its
// large moves, newest first.
func (e *Engine) MarketHistory(ctx context.Context, id string) (*models.MarketHistory, error) {
	m, err := e.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	snaps, err := e.store.Snapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	moves, err := e.store.LargeMoves(ctx, id)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	if moves == nil {
		moves = []models.LargeMove{}
	}
	return &models.MarketHistory{Market: *m, Snapshots: snaps, LargeMoves: moves}, nil
}

// BlackSwans returns classified black swans, newest resolution first.
func (e *Engine) BlackSwans(ctx context.Context, limit int) ([]models.BlackSwanView, error) {
	return e.store.BlackSwans(ctx, limit)
}

// AvailableDates lists the days that have snapshots, newest first.
func (e *Engine) AvailableDates(ctx context.Context) ([]string, error) {
	return e.store.SnapshotDates(ctx)
}

// SimulationMarkets shows markets as they stood at the end of day (UTC):
// the last observed probability by then, and the eventual resolution when
// known. Markets already resolved by that day are left out.
func (e *Engine) SimulationMarkets(ctx context.Context, day string, limit int) ([]models.SimulationMarket, error) {
	start, err := time.Parse(dayLayout, day)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", day, err)
	}
	asOf := start.Add(24*time.Hour - time.Nanosecond)

	ids, err := e.store.MarketIDsObservedBefore(ctx, asOf)
	if err != nil {
		return nil, err
	}

	var out []models.SimulationMarket
	for _, id := range ids {
		m, err := e.store.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		if m.ResolvedAt != nil && !m.ResolvedAt.After(asOf) {
			continue
		}
		snaps, err := e.store.Snapshots(ctx, id)
		if err != nil {
			return nil, err
		}
		i := history.IndexAt(history.FromSnapshots(snaps), asOf)
		if i < 0 {
			continue
		}
		out = append(out, models.SimulationMarket{
			MarketID:          m.ID,
			Question:          m.Question,
			Category:          m.Category,
			Probability:       snaps[i].Probability,
			Volume:            snaps[i].Volume,
			ObservedAt:        snaps[i].Timestamp,
			EndDate:           m.EndDate,
			IsResolved:        m.IsResolved,
			ResolutionOutcome: m.ResolutionOutcome,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
