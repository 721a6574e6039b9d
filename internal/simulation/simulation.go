// Package simulation replays resolved Polymarket markets as they were priced
// on a past date, using CLOB price history for the prices at that date.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyanalytics/internal/cache"
	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
)

// ErrFutureDate is returned for a date after now unless AnyResolved is set.
var ErrFutureDate = errors.New("cannot simulate a future date")

// Source is the part of the Polymarket client the builder uses.
type Source interface {
	FetchClosedMarkets(ctx context.Context, since time.Time, minVolume float64, maxPages int) ([]models.MarketRecord, error)
	PriceHistory(ctx context.Context, tokenID string, start, end time.Time, fidelityMinutes int) ([]history.Point, error)
}

// Config holds the builder parameters.
type Config struct {
	WindowDays  int
	Tolerance   time.Duration
	Concurrency int
	MaxPages    int
	CacheTTL    time.Duration
}

// DefaultConfig returns the standard parameters: markets ending within 30
// days of the date, prices read within a day of it.
func DefaultConfig() Config {
	return Config{
		WindowDays:  30,
		Tolerance:   24 * time.Hour,
		Concurrency: 20,
		MaxPages:    20,
		CacheTTL:    30 * time.Minute,
	}
}

// Query selects the markets to replay.
type Query struct {
	Date      time.Time
	MinVolume float64
	Limit     int
	// AnyResolved drops the end date window and returns the largest
	// resolved markets.
	AnyResolved bool
}

// Market is a resolved market with its prices on the simulation date.
type Market struct {
	MarketID          string             `json:"market_id"`
	Question          string             `json:"question"`
	Category          string             `json:"category,omitempty"`
	Outcomes          []string           `json:"outcomes"`
	PricesAtDate      map[string]float64 `json:"outcome_prices_at_date"`
	PricedAt          time.Time          `json:"priced_at"`
	CurrentPrices     map[string]float64 `json:"current_prices"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	ResolutionOutcome string             `json:"resolution_outcome"`
	Liquidity         float64            `json:"liquidity"`
	Volume            float64            `json:"volume"`
	IsResolved        bool               `json:"is_resolved"`
}

// Builder assembles simulation markets and caches them per query.
type Builder struct {
	src   Source
	cache cache.Cache
	cfg   Config
	now   func() time.Time
}

// New creates a builder. c may be nil to disable caching.
func New(src Source, c cache.Cache, cfg Config) *Builder {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.WindowDays < 1 {
		cfg.WindowDays = 30
	}
	return &Builder{src: src, cache: c, cfg: cfg, now: time.Now}
}

func (b *Builder) cacheKey(q Query) string {
	return fmt.Sprintf("simulation:%s:%.0f:%d:%v:%d",
		q.Date.UTC().Format(time.DateOnly), q.MinVolume, q.Limit, q.AnyResolved, b.cfg.WindowDays)
}

// Markets returns up to q.Limit resolved markets, largest volume first,
// that ended within the window after q.Date, each priced as of q.Date.
// Markets with no price history near the date are left out.
func (b *Builder) Markets(ctx context.Context, q Query) ([]Market, error) {
	if q.Date.After(b.now()) && !q.AnyResolved {
		return nil, ErrFutureDate
	}
	if q.Limit < 1 {
		q.Limit = 50
	}

	key := b.cacheKey(q)
	if b.cache != nil {
		var cached []Market
		ok, err := cache.GetJSON(ctx, b.cache, key, &cached)
		if err != nil {
			logger.Warn("Simulation cache read failed: %v", err)
		} else if ok {
			return cached, nil
		}
	}

	var since time.Time
	if !q.AnyResolved {
		since = q.Date
	}
	closed, err := b.src.FetchClosedMarkets(ctx, since, q.MinVolume, b.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch closed markets: %w", err)
	}

	windowEnd := q.Date.AddDate(0, 0, b.cfg.WindowDays)
	var candidates []models.MarketRecord
	for _, m := range closed {
		if !m.IsResolved || m.EndDate == nil {
			continue
		}
		if !q.AnyResolved && m.EndDate.After(windowEnd) {
			continue
		}
		candidates = append(candidates, m)
		if len(candidates) == q.Limit {
			break
		}
	}

	priced := make([]*Market, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i := range candidates {
		m := &candidates[i]
		g.Go(func() error {
			sm, err := b.priceAt(gctx, m, q.Date)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Debug("Skipping simulation market %s: %v", m.ID, err)
				return nil
			}
			priced[i] = sm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	markets := []Market{}
	for _, sm := range priced {
		if sm != nil {
			markets = append(markets, *sm)
		}
	}

	if b.cache != nil {
		if err := cache.SetJSON(ctx, b.cache, key, markets, b.cfg.CacheTTL); err != nil {
			logger.Warn("Simulation cache write failed: %v", err)
		}
	}
	logger.Info("Simulation for %s: %d of %d resolved markets priced",
		q.Date.Format(time.DateOnly), len(markets), len(candidates))
	return markets, nil
}

// priceAt reads each outcome's price closest to date. A date at or after the
// end (possible with AnyResolved) reads one day before the end instead.
func (b *Builder) priceAt(ctx context.Context, m *models.MarketRecord, date time.Time) (*Market, error) {
	at := date
	if !at.Before(*m.EndDate) {
		at = m.EndDate.Add(-24 * time.Hour)
	}

	prices := make(map[string]float64, len(m.Outcomes))
	for _, o := range m.Outcomes {
		token, ok := m.TokenFor(o)
		if !ok {
			continue
		}
		points, err := b.src.PriceHistory(ctx, token, at.Add(-b.cfg.Tolerance), at.Add(b.cfg.Tolerance), 60)
		if err != nil {
			return nil, err
		}
		if p, found := history.Closest(points, at, b.cfg.Tolerance); found {
			prices[o] = p.Value
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no price history near %s", at.Format(time.RFC3339))
	}

	return &Market{
		MarketID:          m.ID,
		Question:          m.Question,
		Category:          m.Category,
		Outcomes:          m.Outcomes,
		PricesAtDate:      prices,
		PricedAt:          at,
		CurrentPrices:     m.OutcomePrices,
		EndDate:           m.EndDate,
		ResolutionOutcome: m.ResolutionOutcome,
		Liquidity:         m.Liquidity,
		Volume:            m.Volume,
		IsResolved:        true,
	}, nil
}
