// Package collector runs collection cycles: it fetches the tracked market
// listing, records one snapshot per market, then classifies resolutions and
// detects large moves over the freshly written data.
package collector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
	"github.com/rewired-gh/polyanalytics/internal/monitor"
	"github.com/rewired-gh/polyanalytics/internal/polymarket"
	"github.com/rewired-gh/polyanalytics/internal/resolution"
	"github.com/rewired-gh/polyanalytics/internal/storage"
)

// Source is the part of the Polymarket client a cycle uses.
type Source interface {
	FetchActiveMarkets(ctx context.Context, f polymarket.Filter) ([]models.MarketRecord, []error, error)
	FetchMarket(ctx context.Context, id string) (*models.MarketRecord, error)
}

// SnapshotWriter appends snapshots.
type SnapshotWriter interface {
	AddSnapshot(ctx context.Context, s *models.Snapshot) error
}

// Config holds cycle parameters.
type Config struct {
	Filter             polymarket.Filter
	RefreshConcurrency int
	// Retention purges deactivated markets older than this after each
	// cycle. Zero disables purging.
	Retention time.Duration
}

// CycleStats summarizes one collection cycle.
type CycleStats struct {
	MarketsFetched      int           `json:"markets_fetched"`
	MarketsNew          int           `json:"markets_new"`
	MarketsUpdated      int           `json:"markets_updated"`
	SnapshotsCreated    int           `json:"snapshots_created"`
	ResolutionsDetected int           `json:"resolutions_detected"`
	LargeMoves          int           `json:"large_moves"`
	Errors              []string      `json:"errors"`
	Duration            time.Duration `json:"duration"`

	// Moves and Resolutions hold what this cycle newly recorded.
	Moves       []models.LargeMoveEvent     `json:"-"`
	Resolutions []models.ResolutionAnalysis `json:"-"`
}

// Collector wires the API source to the store, classifier and detector.
type Collector struct {
	store      *storage.Store
	src        Source
	classifier *resolution.Classifier
	monitor    *monitor.Monitor
	cfg        Config
	now        func() time.Time
}

// New creates a collector.
func New(s *storage.Store, src Source, c *resolution.Classifier, m *monitor.Monitor, cfg Config) *Collector {
	if cfg.RefreshConcurrency < 1 {
		cfg.RefreshConcurrency = 16
	}
	return &Collector{store: s, src: src, classifier: c, monitor: m, cfg: cfg, now: time.Now}
}

// RecordSnapshot appends a snapshot of rec captured at capturedAt. The
// probability is the primary outcome's price on a 0-100 scale.
func RecordSnapshot(ctx context.Context, w SnapshotWriter, rec *models.MarketRecord, capturedAt time.Time) (*models.Snapshot, error) {
	prices := make(map[string]float64, len(rec.OutcomePrices))
	for k, v := range rec.OutcomePrices {
		prices[k] = v
	}
	snap := &models.Snapshot{
		MarketID:      rec.ID,
		Timestamp:     capturedAt,
		Probability:   rec.PrimaryProbability(),
		OutcomePrices: prices,
		Liquidity:     rec.Liquidity,
		Volume:        rec.Volume,
		Volume24h:     rec.Volume24h,
	}
	if err := w.AddSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// RunCycle performs one collection cycle. The returned error is non-nil only
// when the market listing cannot be fetched or the cycle's transaction fails;
// per-market problems are reported in CycleStats.Errors.
func (c *Collector) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	now := c.now()
	stats := CycleStats{}

	records, warnings, err := c.src.FetchActiveMarkets(ctx, c.cfg.Filter)
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
		stats.Duration = time.Since(start)
		return stats, fmt.Errorf("failed to fetch markets: %w", err)
	}
	for _, w := range warnings {
		stats.Errors = append(stats.Errors, w.Error())
	}
	records = dedupe(records)
	stats.MarketsFetched = len(records)

	refreshed, refreshErrs := c.refreshMissing(ctx, records)
	stats.Errors = append(stats.Errors, refreshErrs...)
	records = append(records, refreshed...)

	err = c.store.WithTx(ctx, func(tx *storage.Tx) error {
		for i := range records {
			rec := &records[i]
			var isNew bool
			err := tx.Savepoint(ctx, "market_write", func() error {
				var err error
				if isNew, err = tx.UpsertMarket(ctx, rec, now); err != nil {
					return err
				}
				// A closed market's prices are settlement prices; the last
				// snapshot must stay the last pre-close observation.
				if rec.Closed {
					return nil
				}
				_, err = RecordSnapshot(ctx, tx, rec, now)
				return err
			})
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("market %s: %v", rec.ID, err))
				continue
			}
			if isNew {
				stats.MarketsNew++
			} else {
				stats.MarketsUpdated++
			}
			if !rec.Closed {
				stats.SnapshotsCreated++
			}
		}

		analyses, classifyErrs, err := c.classifier.Run(ctx, tx, now)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
		}
		for _, e := range classifyErrs {
			stats.Errors = append(stats.Errors, e.Error())
		}
		stats.Resolutions = analyses
		stats.ResolutionsDetected = len(analyses)

		moves, detectErrs, err := c.monitor.Detect(ctx, tx, now)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
		}
		for _, e := range detectErrs {
			stats.Errors = append(stats.Errors, e.Error())
		}
		stats.Moves = moves
		stats.LargeMoves = len(moves)
		return nil
	})
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
		stats.Duration = time.Since(start)
		return stats, fmt.Errorf("failed to write cycle: %w", err)
	}

	if c.cfg.Retention > 0 {
		if _, err := c.Purge(ctx); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
		}
	}

	stats.Duration = time.Since(start)
	logger.Info("Cycle complete: fetched=%d new=%d updated=%d snapshots=%d resolutions=%d moves=%d errors=%d in %v",
		stats.MarketsFetched, stats.MarketsNew, stats.MarketsUpdated, stats.SnapshotsCreated,
		stats.ResolutionsDetected, stats.LargeMoves, len(stats.Errors), stats.Duration)
	return stats, nil
}

// refreshMissing looks up tracked active markets absent from the listing so
// that closures and resolutions are observed.
func (c *Collector) refreshMissing(ctx context.Context, listed []models.MarketRecord) ([]models.MarketRecord, []string) {
	tracked, err := c.store.ListMarkets(ctx, storage.MarketFilter{ActiveOnly: true})
	if err != nil {
		return nil, []string{fmt.Sprintf("failed to list tracked markets: %v", err)}
	}
	seen := make(map[string]bool, len(listed))
	for _, r := range listed {
		seen[r.ID] = true
	}
	var missing []string
	for _, m := range tracked {
		// Resolution is sticky, so a resolved market awaiting
		// classification has nothing left to learn from the API.
		if !seen[m.ID] && !m.IsResolved {
			missing = append(missing, m.ID)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	found := make([]*models.MarketRecord, len(missing))
	errs := make([]error, len(missing))
	var g errgroup.Group
	g.SetLimit(c.cfg.RefreshConcurrency)
	for i, id := range missing {
		g.Go(func() error {
			found[i], errs[i] = c.src.FetchMarket(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var (
		records []models.MarketRecord
		msgs    []string
	)
	for i, id := range missing {
		if errs[i] != nil {
			msgs = append(msgs, fmt.Sprintf("refresh %s: %v", id, errs[i]))
			continue
		}
		if found[i] != nil {
			records = append(records, *found[i])
		}
	}
	logger.Debug("Refreshed %d of %d tracked markets missing from the listing", len(records), len(missing))
	return records, msgs
}

// Purge deletes deactivated markets not updated within the retention.
func (c *Collector) Purge(ctx context.Context) (int64, error) {
	if c.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := c.store.PurgeInactiveMarkets(ctx, c.now().Add(-c.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("Purged %d inactive markets", n)
	}
	return n, nil
}

func dedupe(records []models.MarketRecord) []models.MarketRecord {
	seen := make(map[string]bool, len(records))
	out := records[:0]
	for _, r := range records {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
