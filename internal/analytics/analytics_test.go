package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/polyanalytics/internal/models"
	"github.com/rewired-gh/polyanalytics/internal/resolution"
	"github.com/rewired-gh/polyanalytics/internal/storage"
)

var now = time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)

func mustStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(s *storage.Store) *Engine {
	e := New(s, resolution.DefaultBoundaries)
	e.now = func() time.Time { return now }
	return e
}

func addMarket(t *testing.T, s *storage.Store, id string, volume, liquidity float64, end *time.Time) {
	t.Helper()
	rec := &models.MarketRecord{
		ID:            id,
		Question:      "Will " + id + " happen?",
		Category:      "sports",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: map[string]float64{"Yes": 0.5, "No": 0.5},
		Volume:        volume,
		Liquidity:     liquidity,
		EndDate:       end,
	}
	if _, err := s.UpsertMarket(context.Background(), rec, now.Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}
}

func addSnapshot(t *testing.T, s *storage.Store, id string, ts time.Time, p, volume float64) {
	t.Helper()
	snap := &models.Snapshot{MarketID: id, Timestamp: ts, Probability: p, Volume: volume}
	if err := s.AddSnapshot(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
}

func addAnalysis(t *testing.T, s *storage.Store, id, bucket string, correct, swan bool, resolvedAt time.Time) {
	t.Helper()
	ra := &models.ResolutionAnalysis{
		ID: "ra-" + id, MarketID: id, FinalProbability: 85, ProbabilityBucket: bucket,
		ResolvedAt: resolvedAt, Outcome: "Yes", PredictedCorrectly: correct, IsBlackSwan: swan, AnalyzedAt: now,
	}
	if _, err := s.InsertResolutionAnalysis(context.Background(), ra); err != nil {
		t.Fatal(err)
	}
}

func TestBucketStats_Calibration(t *testing.T) {
	s := mustStore(t)
	e := newEngine(s)

	for i := 0; i < 10; i++ {
		addAnalysis(t, s, fmt.Sprintf("m%d", i), "80-90%", i < 7, i == 9, now)
	}
	addAnalysis(t, s, "low", "0-50%", true, false, now)

	stats, err := e.BucketStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != len(resolution.DefaultBoundaries)-1 {
		t.Fatalf("got %d buckets, want %d", len(stats), len(resolution.DefaultBoundaries)-1)
	}

	byLabel := map[string]models.BucketStat{}
	for _, st := range stats {
		byLabel[st.Bucket] = st
	}
	b := byLabel["80-90%"]
	if b.TotalResolved != 10 || b.Correct != 7 || b.Incorrect != 3 || b.BlackSwanCount != 1 {
		t.Errorf("80-90%% bucket = %+v", b)
	}
	if b.AccuracyRate != 70.0 {
		t.Errorf("accuracy = %v, want 70.0", b.AccuracyRate)
	}
	if empty := byLabel["90-95%"]; empty.TotalResolved != 0 || empty.AccuracyRate != 0 {
		t.Errorf("empty bucket = %+v", empty)
	}
	if stats[0].Bucket != "0-50%" || stats[len(stats)-1].Bucket != "95-100%" {
		t.Errorf("bucket order = %s .. %s", stats[0].Bucket, stats[len(stats)-1].Bucket)
	}
}

func TestCalibrate_Unrounded(t *testing.T) {
	stats := Calibrate([]string{"a"}, map[string]storage.BucketCount{"a": {Total: 3, Correct: 2}})
	if want := 100 * 2.0 / 3.0; stats[0].AccuracyRate != want {
		t.Errorf("accuracy = %v, want %v", stats[0].AccuracyRate, want)
	}
}

func TestOverview(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	e := newEngine(s)

	addMarket(t, s, "a", 100, 10, nil)
	addMarket(t, s, "b", 100, 10, nil)
	addSnapshot(t, s, "a", now.Add(-time.Hour), 40, 100)
	addSnapshot(t, s, "a", now, 60, 100)
	addSnapshot(t, s, "b", now, 60, 100)
	if err := s.DeactivateMarket(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	addAnalysis(t, s, "b", "50-60%", true, true, now)

	recent := &models.LargeMove{ID: "lm1", MarketID: "a", DetectedAt: now.Add(-time.Hour),
		WindowStart: now.Add(-2 * time.Hour), WindowEnd: now.Add(-time.Hour),
		ProbabilityStart: 40, ProbabilityEnd: 60, ChangePoints: 20}
	old := *recent
	old.ID, old.DetectedAt = "lm0", now.Add(-72*time.Hour)
	old.WindowStart, old.WindowEnd = now.Add(-80*time.Hour), now.Add(-72*time.Hour)
	for _, m := range []*models.LargeMove{&old, recent} {
		if _, err := s.InsertLargeMoveIfAbsent(ctx, m, m.WindowStart); err != nil {
			t.Fatal(err)
		}
	}

	o, err := e.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if o.TotalMarketsTracked != 2 || o.ActiveMarkets != 1 || o.ResolvedMarkets != 1 {
		t.Errorf("market counts = %+v", o)
	}
	if o.TotalSnapshots != 3 || o.BlackSwanCount != 1 || o.RecentLargeMoves != 1 {
		t.Errorf("other counts = %+v", o)
	}
	if len(o.BucketStats) != 7 {
		t.Errorf("bucket stats = %d rows", len(o.BucketStats))
	}
}

func TestActiveMarkets_Sorting(t *testing.T) {
	s := mustStore(t)
	e := newEngine(s)

	soon := now.Add(24 * time.Hour)
	later := now.Add(72 * time.Hour)
	addMarket(t, s, "big", 900, 10, &later)
	addMarket(t, s, "liquid", 500, 90, nil)
	addMarket(t, s, "likely", 100, 20, &soon)

	for _, snap := range []models.Snapshot{
		{MarketID: "big", Timestamp: now, Probability: 20, Volume: 950, Liquidity: 10},
		{MarketID: "liquid", Timestamp: now, Probability: 50, Volume: 500, Liquidity: 90},
		{MarketID: "likely", Timestamp: now.Add(-time.Hour), Probability: 10, Volume: 100, Liquidity: 5},
		{MarketID: "likely", Timestamp: now, Probability: 90, Volume: 120, Liquidity: 20},
	} {
		snap := snap
		if err := s.AddSnapshot(context.Background(), &snap); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		key  string
		want []string
	}{
		{SortByVolume, []string{"big", "liquid", "likely"}},
		{SortByLiquidity, []string{"liquid", "likely", "big"}},
		{SortByProbability, []string{"likely", "liquid", "big"}},
		{SortByEndDate, []string{"likely", "big", "liquid"}},
		{"bogus", []string{"big", "liquid", "likely"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			views, err := e.ActiveMarkets(context.Background(), tt.key, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(views) != len(tt.want) {
				t.Fatalf("got %d views", len(views))
			}
			for i, id := range tt.want {
				if views[i].ID != id {
					t.Errorf("position %d = %s, want %s", i, views[i].ID, id)
				}
			}
		})
	}

	views, err := e.ActiveMarkets(context.Background(), SortByProbability, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].Probability != 90 || views[0].Volume != 120 {
		t.Errorf("latest snapshot values not used: %+v", views)
	}
}

func TestMarketHistory(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	e := newEngine(s)

	addMarket(t, s, "a", 100, 10, nil)
	addSnapshot(t, s, "a", now, 60, 100)
	addSnapshot(t, s, "a", now.Add(-time.Hour), 40, 100)
	for i, detected := range []time.Time{now.Add(-50 * time.Hour), now} {
		m := &models.LargeMove{ID: fmt.Sprintf("lm%d", i), MarketID: "a", DetectedAt: detected,
			WindowStart: detected.Add(-time.Hour), WindowEnd: detected,
			ProbabilityStart: 40, ProbabilityEnd: 60, ChangePoints: 20}
		if _, err := s.InsertLargeMoveIfAbsent(ctx, m, m.WindowStart); err != nil {
			t.Fatal(err)
		}
	}

	h, err := e.MarketHistory(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if h.Market.ID != "a" || len(h.Snapshots) != 2 || h.Snapshots[0].Probability != 40 {
		t.Errorf("history = %+v", h)
	}
	if len(h.LargeMoves) != 2 || h.LargeMoves[0].ID != "lm1" {
		t.Errorf("moves should be newest first: %+v", h.LargeMoves)
	}

	if _, err := e.MarketHistory(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSimulationMarkets(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	e := newEngine(s)

	day := time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC)
	addMarket(t, s, "a", 100, 10, nil)
	addMarket(t, s, "b", 100, 10, nil)
	addMarket(t, s, "c", 100, 10, nil)
	addSnapshot(t, s, "a", day.Add(6*time.Hour), 30, 100)
	addSnapshot(t, s, "a", day.Add(20*time.Hour), 35, 150)
	addSnapshot(t, s, "a", day.Add(30*time.Hour), 80, 400)
	addSnapshot(t, s, "b", day.Add(-48*time.Hour), 70, 900)
	addSnapshot(t, s, "c", day.Add(48*time.Hour), 50, 100)

	markets, err := e.SimulationMarkets(ctx, "2024-08-05", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(markets) != 2 || markets[0].MarketID != "b" || markets[1].MarketID != "a" {
		t.Fatalf("simulation markets = %+v", markets)
	}
	if markets[1].Probability != 35 || markets[1].Volume != 150 {
		t.Errorf("market a as of day = %+v", markets[1])
	}

	dates, err := e.AvailableDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 4 || dates[0] != "2024-08-07" {
		t.Errorf("dates = %v", dates)
	}

	if _, err := e.SimulationMarkets(ctx, "yesterday", 10); err == nil {
		t.Error("expected error for malformed date")
	}
}
