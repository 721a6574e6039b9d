package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

const snapshotColumns = `id, market_id, timestamp, probability, outcome_prices, liquidity, volume, volume_24h`

// AddSnapshot appends an immutable snapshot and sets its ID.
func (q queries) AddSnapshot(ctx context.Context, s *models.Snapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	prices, err := encodeJSON(s.OutcomePrices)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot prices: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `INSERT INTO snapshots
		(market_id, timestamp, probability, outcome_prices, liquidity, volume, volume_24h)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.MarketID, toNanos(s.Timestamp), s.Probability, prices, s.Liquidity, s.Volume, s.Volume24h)
	if err != nil {
		return fmt.Errorf("failed to add snapshot for %s: %w", s.MarketID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read snapshot id: %w", err)
	}
	s.ID = id
	return nil
}

// Snapshots returns every snapshot of a market in capture order.
func (q queries) Snapshots(ctx context.Context, marketID string) ([]models.Snapshot, error) {
	return q.querySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE market_id = ? ORDER BY timestamp, id`, marketID)
}

// SnapshotsSince returns a market's snapshots captured at or after since.
func (q queries) SnapshotsSince(ctx context.Context, marketID string, since time.Time) ([]models.Snapshot, error) {
	return q.querySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE market_id = ? AND timestamp >= ? ORDER BY timestamp, id`, marketID, toNanos(since))
}

// LatestSnapshot returns the most recent snapshot of a market or ErrNotFound.
func (q queries) LatestSnapshot(ctx context.Context, marketID string) (*models.Snapshot, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE market_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, marketID)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot for %s: %w", marketID, err)
	}
	return s, nil
}

// LatestActiveSnapshots returns the newest snapshot of each active market,
// keyed by market id.
func (q queries) LatestActiveSnapshots(ctx context.Context) (map[string]models.Snapshot, error) {
	snaps, err := q.querySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE id IN (
			SELECT (SELECT x.id FROM snapshots x WHERE x.market_id = m.id
				ORDER BY x.timestamp DESC, x.id DESC LIMIT 1)
			FROM markets m WHERE m.is_active = 1
		)`)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]models.Snapshot, len(snaps))
	for _, s := range snaps {
		latest[s.MarketID] = s
	}
	return latest, nil
}

// SnapshotDates returns the distinct UTC days (YYYY-MM-DD) holding snapshots,
// newest first.
func (q queries) SnapshotDates(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT DISTINCT date(timestamp / 1000000000, 'unixepoch') AS day
		FROM snapshots ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot dates: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// MarketIDsObservedBefore returns ids of markets with at least one snapshot at
// or before t.
func (q queries) MarketIDsObservedBefore(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT DISTINCT market_id FROM snapshots WHERE timestamp <= ? ORDER BY market_id`, toNanos(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query observed markets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q queries) querySnapshots(ctx context.Context, query string, args ...any) ([]models.Snapshot, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *s)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		s      models.Snapshot
		ts     int64
		prices string
	)
	if err := row.Scan(&s.ID, &s.MarketID, &ts, &s.Probability, &prices,
		&s.Liquidity, &s.Volume, &s.Volume24h); err != nil {
		return nil, err
	}
	s.Timestamp = fromNanos(ts)
	var err error
	if s.OutcomePrices, err = decodePrices(prices); err != nil {
		return nil, err
	}
	return &s, nil
}
