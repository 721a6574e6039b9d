// Package polymarket talks to the Polymarket Gamma and CLOB APIs and turns
// their payloads into normalized models.MarketRecord values.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/models"
)

// ClientConfig holds HTTP tuning for the client.
type ClientConfig struct {
	MaxRetries          int
	RetryDelayBase      time.Duration
	RequestsPerSecond   float64
	Burst               int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Filter selects which active markets are tracked.
type Filter struct {
	MinVolume           float64
	MinLiquidity        float64
	MaxDaysToResolution int // 0 disables the check
	Limit               int
	PageSize            int
	MaxPages            int
}

// Client provides access to Polymarket API
type Client struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
	cfg        ClientConfig
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient creates a new Polymarket client
func NewClient(gammaURL, clobURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}

	return &Client{
		gammaURL:   gammaURL,
		clobURL:    clobURL,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
	}
}

// FetchActiveMarkets pages through open markets by descending volume and
// returns those passing the filter. Markets that fail to parse are skipped
// and reported in the second return value. The error is non-nil only when
// the first page cannot be fetched.
func (c *Client) FetchActiveMarkets(ctx context.Context, f Filter) ([]models.MarketRecord, []error, error) {
	pageSize, maxPages := f.PageSize, f.MaxPages
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 10
	}
	now := c.now()

	var (
		records   []models.MarketRecord
		parseErrs []error
	)
	for page := 0; page < maxPages; page++ {
		params := url.Values{
			"closed":    {"false"},
			"limit":     {strconv.Itoa(pageSize)},
			"offset":    {strconv.Itoa(page * pageSize)},
			"order":     {"volumeNum"},
			"ascending": {"false"},
		}
		items, err := c.fetchMarketPage(ctx, params)
		if err != nil {
			if page == 0 {
				return nil, nil, fmt.Errorf("failed to fetch markets: %w", err)
			}
			logger.Warn("Stopping market pagination at page %d: %v", page, err)
			parseErrs = append(parseErrs, fmt.Errorf("page %d: %w", page, err))
			break
		}

		for _, item := range items {
			rec, err := ParseMarket(item)
			if err != nil {
				parseErrs = append(parseErrs, err)
				continue
			}
			if !f.accepts(rec, now) {
				continue
			}
			records = append(records, *rec)
			if f.Limit > 0 && len(records) >= f.Limit {
				return records, parseErrs, nil
			}
		}
		if len(items) < pageSize {
			break
		}
	}
	return records, parseErrs, nil
}

func (f Filter) accepts(rec *models.MarketRecord, now time.Time) bool {
	if rec.Volume < f.MinVolume || rec.Liquidity < f.MinLiquidity {
		return false
	}
	if f.MaxDaysToResolution > 0 && rec.EndDate != nil {
		days := rec.EndDate.Sub(now).Hours() / 24
		if days < 0 || days > float64(f.MaxDaysToResolution) {
			return false
		}
	}
	return true
}

// FetchMarket looks up a single market by id.
func (c *Client) FetchMarket(ctx context.Context, id string) (*models.MarketRecord, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, c.gammaURL+"/markets/"+url.PathEscape(id), &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch market %s: %w", id, err)
	}
	return ParseMarket(raw)
}

// FetchClosedMarkets pages through closed markets by descending volume and
// returns those that ended at or after since with at least minVolume.
func (c *Client) FetchClosedMarkets(ctx context.Context, since time.Time, minVolume float64, maxPages int) ([]models.MarketRecord, error) {
	const pageSize = 100
	if maxPages <= 0 {
		maxPages = 20
	}

	var records []models.MarketRecord
	for page := 0; page < maxPages; page++ {
		params := url.Values{
			"closed":    {"true"},
			"limit":     {strconv.Itoa(pageSize)},
			"offset":    {strconv.Itoa(page * pageSize)},
			"order":     {"volumeNum"},
			"ascending": {"false"},
		}
		items, err := c.fetchMarketPage(ctx, params)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("failed to fetch closed markets: %w", err)
			}
			logger.Warn("Stopping closed market pagination at page %d: %v", page, err)
			break
		}
		for _, item := range items {
			rec, err := ParseMarket(item)
			if err != nil {
				logger.Debug("Skipping unparseable closed market: %v", err)
				continue
			}
			if rec.EndDate == nil || rec.EndDate.Before(since) || rec.Volume < minVolume {
				continue
			}
			records = append(records, *rec)
		}
		if len(items) < pageSize {
			break
		}
	}
	return records, nil
}

// PriceHistory returns the CLOB price history (0-1 scale) of one outcome
// token between start and end, ordered by time.
func (c *Client) PriceHistory(ctx context.Context, tokenID string, start, end time.Time, fidelityMinutes int) ([]history.Point, error) {
	if fidelityMinutes <= 0 {
		fidelityMinutes = 60
	}
	params := url.Values{
		"market":   {tokenID},
		"startTs":  {strconv.FormatInt(start.Unix(), 10)},
		"endTs":    {strconv.FormatInt(end.Unix(), 10)},
		"fidelity": {strconv.Itoa(fidelityMinutes)},
	}

	var body json.RawMessage
	if err := c.getJSON(ctx, c.clobURL+"/prices-history?"+params.Encode(), &body); err != nil {
		return nil, fmt.Errorf("failed to fetch price history for %s: %w", tokenID, err)
	}

	// The endpoint answers {"history": [...]}; a bare list is accepted too.
	var wrapped struct {
		History []pricePoint `json:"history"`
	}
	var raw []pricePoint
	if err := json.Unmarshal(body, &wrapped); err == nil {
		raw = wrapped.History
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode price history: %w", err)
	}

	points := make([]history.Point, 0, len(raw))
	for _, p := range raw {
		t := fromEpoch(float64(p.T))
		if t.IsZero() {
			continue
		}
		points = append(points, history.Point{Time: t, Value: float64(p.P)})
	}
	history.Sort(points)
	return points, nil
}

func (c *Client) fetchMarketPage(ctx context.Context, params url.Values) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := c.getJSON(ctx, c.gammaURL+"/markets?"+params.Encode(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.doRequest(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelayBase * time.Duration(i)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			drain(resp)
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
