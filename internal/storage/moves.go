package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

const largeMoveColumns = `id, market_id, detected_at, window_start, window_end,
	probability_start, probability_end, change_points`

// InsertLargeMoveIfAbsent records m unless the market already has a large
// move whose window starts at or after windowStart. The existence check and
// the insert are one statement, so overlapping callers cannot both insert.
func (q queries) InsertLargeMoveIfAbsent(ctx context.Context, m *models.LargeMove, windowStart time.Time) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, fmt.Errorf("invalid large move: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `INSERT INTO large_moves (`+largeMoveColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM large_moves WHERE market_id = ? AND window_start >= ?
		)`,
		m.ID, m.MarketID, toNanos(m.DetectedAt), toNanos(m.WindowStart), toNanos(m.WindowEnd),
		m.ProbabilityStart, m.ProbabilityEnd, m.ChangePoints,
		m.MarketID, toNanos(windowStart))
	if err != nil {
		return false, fmt.Errorf("failed to insert large move for %s: %w", m.MarketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

// LargeMoves returns a market's large moves, newest detection first.
func (q queries) LargeMoves(ctx context.Context, marketID string) ([]models.LargeMove, error) {
	return q.queryLargeMoves(ctx, `SELECT `+largeMoveColumns+` FROM large_moves
		WHERE market_id = ? ORDER BY detected_at DESC`, marketID)
}

// LargeMovesSince returns moves detected at or after since, newest first.
func (q queries) LargeMovesSince(ctx context.Context, since time.Time) ([]models.LargeMove, error) {
	return q.queryLargeMoves(ctx, `SELECT `+largeMoveColumns+` FROM large_moves
		WHERE detected_at >= ? ORDER BY detected_at DESC`, toNanos(since))
}

// CountLargeMovesSince counts moves detected at or after since.
func (q queries) CountLargeMovesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM large_moves WHERE detected_at >= ?`, toNanos(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count large moves: %w", err)
	}
	return n, nil
}

func (q queries) queryLargeMoves(ctx context.Context, query string, args ...any) ([]models.LargeMove, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query large moves: %w", err)
	}
	defer rows.Close()

	var moves []models.LargeMove
	for rows.Next() {
		var (
			m                         models.LargeMove
			detected, start, windowTo int64
		)
		if err := rows.Scan(&m.ID, &m.MarketID, &detected, &start, &windowTo,
			&m.ProbabilityStart, &m.ProbabilityEnd, &m.ChangePoints); err != nil {
			return nil, fmt.Errorf("failed to scan large move: %w", err)
		}
		m.DetectedAt = fromNanos(detected)
		m.WindowStart = fromNanos(start)
		m.WindowEnd = fromNanos(windowTo)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}
