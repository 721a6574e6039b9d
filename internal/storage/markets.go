package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

const marketColumns = `id, condition_id, question, description, category, outcomes, outcome_prices,
	is_active, is_resolved, resolution_outcome, liquidity, volume, volume_24h,
	created_at, end_date, resolved_at, first_tracked_at, last_updated_at`

// MarketFilter narrows ListMarkets.
type MarketFilter struct {
	ActiveOnly bool
}

// UpsertMarket inserts a newly seen market or refreshes the mutable fields of
// a known one. Identity fields and first_tracked_at are never changed, and a
// stored resolution is never replaced.
func (q queries) UpsertMarket(ctx context.Context, rec *models.MarketRecord, now time.Time) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, fmt.Errorf("invalid market record: %w", err)
	}

	outcomes, err := encodeJSON(rec.Outcomes)
	if err != nil {
		return false, fmt.Errorf("failed to encode outcomes: %w", err)
	}
	prices, err := encodeJSON(rec.OutcomePrices)
	if err != nil {
		return false, fmt.Errorf("failed to encode outcome prices: %w", err)
	}

	var resolvedAt sql.NullInt64
	if rec.IsResolved {
		resolvedAt = nullTime(rec.ResolvedAt)
		if !resolvedAt.Valid {
			resolvedAt = sql.NullInt64{Int64: toNanos(now), Valid: true}
		}
	}

	res, err := q.q.ExecContext(ctx, `INSERT INTO markets (`+marketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.ConditionID, rec.Question, rec.Description, rec.Category, outcomes, prices,
		rec.IsResolved, nullString(rec.ResolutionOutcome), rec.Liquidity, rec.Volume, rec.Volume24h,
		nullTime(rec.CreatedAt), nullTime(rec.EndDate), resolvedAt, toNanos(now), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("failed to insert market %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	} else if n == 1 {
		return true, nil
	}

	// SET expressions see the pre-update row.
	_, err = q.q.ExecContext(ctx, `UPDATE markets SET
			outcome_prices     = ?,
			end_date           = COALESCE(?, end_date),
			liquidity          = ?,
			volume             = ?,
			volume_24h         = ?,
			resolution_outcome = CASE WHEN is_resolved = 1 THEN resolution_outcome ELSE ? END,
			resolved_at        = CASE WHEN is_resolved = 1 THEN resolved_at ELSE ? END,
			is_resolved        = CASE WHEN is_resolved = 1 THEN 1 ELSE ? END,
			last_updated_at    = ?
		WHERE id = ?`,
		prices, nullTime(rec.EndDate), rec.Liquidity, rec.Volume, rec.Volume24h,
		nullString(rec.ResolutionOutcome), resolvedAt, rec.IsResolved, toNanos(now), rec.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update market %s: %w", rec.ID, err)
	}
	return false, nil
}

// GetMarket returns the market with the given id or ErrNotFound.
func (q queries) GetMarket(ctx context.Context, id string) (*models.Market, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets ordered by id.
func (q queries) ListMarkets(ctx context.Context, f MarketFilter) ([]models.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	if f.ActiveOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`
	return q.queryMarkets(ctx, query)
}

// MarketsAwaitingClassification returns active markets that have resolved but
// have no resolution analysis yet.
func (q queries) MarketsAwaitingClassification(ctx context.Context) ([]models.Market, error) {
	return q.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets
		WHERE is_active = 1 AND is_resolved = 1
		AND NOT EXISTS (SELECT 1 FROM resolution_analysis r WHERE r.market_id = markets.id)
		ORDER BY id`)
}

// DeactivateMarket stops a market from being polled and scanned.
func (q queries) DeactivateMarket(ctx context.Context, id string) error {
	if _, err := q.q.ExecContext(ctx, `UPDATE markets SET is_active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to deactivate market %s: %w", id, err)
	}
	return nil
}

// DeleteMarket removes a market together with its snapshots and large moves.
func (q queries) DeleteMarket(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM markets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete market %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeInactiveMarkets deletes deactivated markets last updated before the
// cutoff. Resolution analyses are kept.
func (q queries) PurgeInactiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`DELETE FROM markets WHERE is_active = 0 AND last_updated_at < ?`, toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge markets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return n, nil
}

func (q queries) queryMarkets(ctx context.Context, query string, args ...any) ([]models.Market, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var markets []models.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func scanMarket(row rowScanner) (*models.Market, error) {
	var (
		m                         models.Market
		outcomes, prices          string
		resolution                sql.NullString
		createdAt, end, resolved  sql.NullInt64
		firstTracked, lastUpdated int64
	)
	err := row.Scan(&m.ID, &m.ConditionID, &m.Question, &m.Description, &m.Category, &outcomes, &prices,
		&m.IsActive, &m.IsResolved, &resolution, &m.Liquidity, &m.Volume, &m.Volume24h,
		&createdAt, &end, &resolved, &firstTracked, &lastUpdated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to decode outcomes of %s: %w", m.ID, err)
	}
	if m.OutcomePrices, err = decodePrices(prices); err != nil {
		return nil, err
	}
	m.ResolutionOutcome = resolution.String
	m.CreatedAt = timePtr(createdAt)
	m.EndDate = timePtr(end)
	m.ResolvedAt = timePtr(resolved)
	m.FirstTrackedAt = fromNanos(firstTracked)
	m.LastUpdatedAt = fromNanos(lastUpdated)
	return &m, nil
}
