// Package blackswan searches recently closed Polymarket markets for
// outcomes the market priced as unlikely shortly before they won.
package blackswan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyanalytics/internal/cache"
	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
)

const winnerPrice = 0.95

// Source is the part of the Polymarket client the scanner uses.
type Source interface {
	FetchClosedMarkets(ctx context.Context, since time.Time, minVolume float64, maxPages int) ([]models.MarketRecord, error)
	PriceHistory(ctx context.Context, tokenID string, start, end time.Time, fidelityMinutes int) ([]history.Point, error)
}

// Config holds the search parameters.
type Config struct {
	LookbackDays   int
	MinVolume      float64
	PriceThreshold float64 // 0-1 scale
	CheckDays      []int
	Tolerance      time.Duration
	Concurrency    int
	MaxPages       int
	CacheTTL       time.Duration
}

// DefaultConfig returns the standard search parameters.
func DefaultConfig() Config {
	return Config{
		LookbackDays:   60,
		MinVolume:      100000,
		PriceThreshold: 0.40,
		CheckDays:      []int{14, 7, 3},
		Tolerance:      12 * time.Hour,
		Concurrency:    20,
		MaxPages:       20,
		CacheTTL:       30 * time.Minute,
	}
}

// Check is the winner's price at one point before the end date.
type Check struct {
	DaysBefore int     `json:"days_before"`
	Price      float64 `json:"price"`
}

// Result is one black swan found through the API.
type Result struct {
	MarketID string    `json:"market_id"`
	Question string    `json:"question"`
	Category string    `json:"category"`
	Winner   string    `json:"winner"`
	EndDate  time.Time `json:"end_date"`
	Volume   float64   `json:"volume"`
	Checks   []Check   `json:"checks"`
	MinPrice float64   `json:"min_price"`
}

// Scanner runs the search and caches its results.
type Scanner struct {
	src   Source
	cache cache.Cache
	cfg   Config
	now   func() time.Time
}

// New creates a scanner. c may be nil to disable caching.
func New(src Source, c cache.Cache, cfg Config) *Scanner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scanner{src: src, cache: c, cfg: cfg, now: time.Now}
}

func (s *Scanner) cacheKey() string {
	return fmt.Sprintf("blackswans:%d:%.0f:%.2f:%v:%s",
		s.cfg.LookbackDays, s.cfg.MinVolume, s.cfg.PriceThreshold, s.cfg.CheckDays, s.cfg.Tolerance)
}

// Scan returns black swans among markets closed within the lookback, lowest
// pre-resolution price first.
func (s *Scanner) Scan(ctx context.Context) ([]Result, error) {
	key := s.cacheKey()
	if s.cache != nil {
		var cached []Result
		ok, err := cache.GetJSON(ctx, s.cache, key, &cached)
		if err != nil {
			logger.Warn("Black swan cache read failed: %v", err)
		} else if ok {
			return cached, nil
		}
	}

	since := s.now().AddDate(0, 0, -s.cfg.LookbackDays)
	markets, err := s.src.FetchClosedMarkets(ctx, since, s.cfg.MinVolume, s.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch closed markets: %w", err)
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range markets {
		m := &markets[i]
		g.Go(func() error {
			r, ok, err := s.check(gctx, m)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Debug("Skipping black swan check for %s: %v", m.ID, err)
				return nil
			}
			if ok {
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].MinPrice != results[j].MinPrice {
			return results[i].MinPrice < results[j].MinPrice
		}
		return results[i].MarketID < results[j].MarketID
	})
	if results == nil {
		results = []Result{}
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, results, s.cfg.CacheTTL); err != nil {
			logger.Warn("Black swan cache write failed: %v", err)
		}
	}
	logger.Info("Black swan scan: %d of %d closed markets", len(results), len(markets))
	return results, nil
}

// Winner returns the outcome priced above 0.95, if any.
func Winner(m *models.MarketRecord) (string, bool) {
	for _, o := range m.Outcomes {
		if m.OutcomePrices[o] > winnerPrice {
			return o, true
		}
	}
	return "", false
}

func (s *Scanner) check(ctx context.Context, m *models.MarketRecord) (Result, bool, error) {
	if m.EndDate == nil || len(s.cfg.CheckDays) == 0 {
		return Result{}, false, nil
	}
	winner, ok := Winner(m)
	if !ok {
		return Result{}, false, nil
	}
	token, ok := m.TokenFor(winner)
	if !ok {
		return Result{}, false, nil
	}

	end := *m.EndDate
	furthest := 0
	for _, d := range s.cfg.CheckDays {
		furthest = max(furthest, d)
	}
	start := end.AddDate(0, 0, -furthest).Add(-s.cfg.Tolerance)
	points, err := s.src.PriceHistory(ctx, token, start, end, 60)
	if err != nil {
		return Result{}, false, err
	}

	r := Result{
		MarketID: m.ID,
		Question: m.Question,
		Category: m.Category,
		Winner:   winner,
		EndDate:  end,
		Volume:   m.Volume,
		MinPrice: 1,
	}
	swan := false
	for _, d := range s.cfg.CheckDays {
		p, found := history.Closest(points, end.AddDate(0, 0, -d), s.cfg.Tolerance)
		if !found {
			continue
		}
		r.Checks = append(r.Checks, Check{DaysBefore: d, Price: p.Value})
		r.MinPrice = min(r.MinPrice, p.Value)
		if p.Value < s.cfg.PriceThreshold {
			swan = true
		}
	}
	return r, swan, nil
}
