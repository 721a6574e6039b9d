package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

// BucketCount holds the raw counts behind one calibration bucket.
type BucketCount struct {
	Total      int
	Correct    int
	BlackSwans int
}

// Counts holds store-wide totals.
type Counts struct {
	Markets    int
	Active     int
	Resolved   int
	Snapshots  int
	BlackSwans int
}

// InsertResolutionAnalysis stores ra unless the market already has an
// analysis. It reports whether a row was written.
func (q queries) InsertResolutionAnalysis(ctx context.Context, ra *models.ResolutionAnalysis) (bool, error) {
	if err := ra.Validate(); err != nil {
		return false, fmt.Errorf("invalid resolution analysis: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `INSERT INTO resolution_analysis
		(id, market_id, final_probability, probability_bucket, resolved_at, outcome,
		 predicted_correctly, is_black_swan, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO NOTHING`,
		ra.ID, ra.MarketID, ra.FinalProbability, ra.ProbabilityBucket, toNanos(ra.ResolvedAt),
		ra.Outcome, ra.PredictedCorrectly, ra.IsBlackSwan, toNanos(ra.AnalyzedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert resolution analysis for %s: %w", ra.MarketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

// GetResolutionAnalysis returns the analysis of a market or ErrNotFound.
func (q queries) GetResolutionAnalysis(ctx context.Context, marketID string) (*models.ResolutionAnalysis, error) {
	var (
		ra                 models.ResolutionAnalysis
		resolved, analyzed int64
	)
	err := q.q.QueryRowContext(ctx, `SELECT id, market_id, final_probability, probability_bucket,
		resolved_at, outcome, predicted_correctly, is_black_swan, analyzed_at
		FROM resolution_analysis WHERE market_id = ?`, marketID).Scan(
		&ra.ID, &ra.MarketID, &ra.FinalProbability, &ra.ProbabilityBucket, &resolved,
		&ra.Outcome, &ra.PredictedCorrectly, &ra.IsBlackSwan, &analyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolution analysis for %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution analysis for %s: %w", marketID, err)
	}
	ra.ResolvedAt = fromNanos(resolved)
	ra.AnalyzedAt = fromNanos(analyzed)
	return &ra, nil
}

// BucketCounts groups resolution analyses by bucket label.
func (q queries) BucketCounts(ctx context.Context) (map[string]BucketCount, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT probability_bucket, COUNT(*),
		SUM(predicted_correctly), SUM(is_black_swan)
		FROM resolution_analysis GROUP BY probability_bucket`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]BucketCount{}
	for rows.Next() {
		var (
			bucket string
			c      BucketCount
		)
		if err := rows.Scan(&bucket, &c.Total, &c.Correct, &c.BlackSwans); err != nil {
			return nil, fmt.Errorf("failed to scan bucket counts: %w", err)
		}
		counts[bucket] = c
	}
	return counts, rows.Err()
}

// BlackSwans returns classified black swans, most recently resolved first.
func (q queries) BlackSwans(ctx context.Context, limit int) ([]models.BlackSwanView, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT r.market_id, COALESCE(m.question, ''), COALESCE(m.category, ''),
		r.final_probability, r.outcome, r.resolved_at
		FROM resolution_analysis r LEFT JOIN markets m ON m.id = r.market_id
		WHERE r.is_black_swan = 1
		ORDER BY r.resolved_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query black swans: %w", err)
	}
	defer rows.Close()

	var swans []models.BlackSwanView
	for rows.Next() {
		var (
			v        models.BlackSwanView
			resolved int64
		)
		if err := rows.Scan(&v.MarketID, &v.Question, &v.Category,
			&v.FinalProbability, &v.Outcome, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan black swan: %w", err)
		}
		v.ResolvedAt = fromNanos(resolved)
		swans = append(swans, v)
	}
	return swans, rows.Err()
}

// Counts returns store-wide totals. Resolved counts classified markets.
func (q queries) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := q.q.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM markets),
		(SELECT COUNT(*) FROM markets WHERE is_active = 1),
		(SELECT COUNT(*) FROM resolution_analysis),
		(SELECT COUNT(*) FROM snapshots),
		(SELECT COUNT(*) FROM resolution_analysis WHERE is_black_swan = 1)`).Scan(
		&c.Markets, &c.Active, &c.Resolved, &c.Snapshots, &c.BlackSwans)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}
