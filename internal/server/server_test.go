package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/polyanalytics/internal/analytics"
	"github.com/rewired-gh/polyanalytics/internal/blackswan"
	"github.com/rewired-gh/polyanalytics/internal/history"
	"github.com/rewired-gh/polyanalytics/internal/models"
	"github.com/rewired-gh/polyanalytics/internal/monitor"
	"github.com/rewired-gh/polyanalytics/internal/resolution"
	"github.com/rewired-gh/polyanalytics/internal/simulation"
	"github.com/rewired-gh/polyanalytics/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type emptySource struct{}

func (emptySource) FetchClosedMarkets(context.Context, time.Time, float64, int) ([]models.MarketRecord, error) {
	return nil, nil
}

func (emptySource) PriceHistory(context.Context, string, time.Time, time.Time, int) ([]history.Point, error) {
	return nil, nil
}

func newTestServer(t *testing.T, withScanner bool) (*Server, *storage.Store) {
	t.Helper()
	s, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var scanner *blackswan.Scanner
	if withScanner {
		scanner = blackswan.New(emptySource{}, nil, blackswan.DefaultConfig())
	}
	srv := New(analytics.New(s, resolution.DefaultBoundaries), monitor.New(s, monitor.DefaultConfig()), scanner)
	return srv, s
}

func seedMarket(t *testing.T, s *storage.Store, id string, probs ...float64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	rec := &models.MarketRecord{
		ID:            id,
		Question:      "Will " + id + " happen?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: map[string]float64{"Yes": 0.5, "No": 0.5},
		Volume:        1000,
	}
	if _, err := s.UpsertMarket(ctx, rec, now); err != nil {
		t.Fatal(err)
	}
	for i, p := range probs {
		ts := now.Add(-time.Duration(len(probs)-i) * time.Hour)
		if err := s.AddSnapshot(ctx, &models.Snapshot{MarketID: id, Timestamp: ts, Probability: p, Volume: 1000}); err != nil {
			t.Fatal(err)
		}
	}
}

func get(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s: invalid JSON: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestHealthAndOverview(t *testing.T) {
	srv, s := newTestServer(t, false)
	seedMarket(t, s, "a", 40, 45)

	var health map[string]string
	if code := get(t, srv, "/api/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", code, health)
	}

	var o models.OverviewStats
	if code := get(t, srv, "/api/overview", &o); code != http.StatusOK {
		t.Fatalf("overview status = %d", code)
	}
	if o.TotalMarketsTracked != 1 || o.TotalSnapshots != 2 || len(o.BucketStats) != 7 {
		t.Errorf("overview = %+v", o)
	}

	var buckets []models.BucketStat
	if code := get(t, srv, "/api/buckets", &buckets); code != http.StatusOK || len(buckets) != 7 {
		t.Errorf("buckets = %d %v", code, buckets)
	}
}

func TestMarkets(t *testing.T) {
	srv, s := newTestServer(t, false)
	seedMarket(t, s, "a", 40)
	seedMarket(t, s, "b", 70)

	var views []models.MarketView
	if code := get(t, srv, "/api/markets?sort=probability&limit=1", &views); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(views) != 1 || views[0].ID != "b" {
		t.Errorf("views = %+v", views)
	}

	for _, bad := range []string{"/api/markets?limit=0", "/api/markets?limit=abc"} {
		if code := get(t, srv, bad, nil); code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", bad, code)
		}
	}
}

func TestMarketDetail(t *testing.T) {
	srv, s := newTestServer(t, false)
	seedMarket(t, s, "a", 40, 60)

	var h models.MarketHistory
	if code := get(t, srv, "/api/market/a", &h); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if h.Market.ID != "a" || len(h.Snapshots) != 2 {
		t.Errorf("history = %+v", h)
	}
	if code := get(t, srv, "/api/market/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing market status = %d", code)
	}
}

func TestMovers(t *testing.T) {
	srv, s := newTestServer(t, false)
	seedMarket(t, s, "calm", 50, 50)
	seedMarket(t, s, "wild", 20, 60, 55)

	var movers []models.Mover
	if code := get(t, srv, "/api/movers", &movers); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(movers) != 1 || movers[0].MarketID != "wild" || movers[0].MaxSwing != 40 {
		t.Errorf("movers = %+v", movers)
	}
}

func TestBlackSwans(t *testing.T) {
	srv, s := newTestServer(t, false)
	seedMarket(t, s, "upset", 85)
	ra := &models.ResolutionAnalysis{
		ID: "ra1", MarketID: "upset", FinalProbability: 85, ProbabilityBucket: "80-90%",
		ResolvedAt: time.Now(), Outcome: "No", IsBlackSwan: true, AnalyzedAt: time.Now(),
	}
	if _, err := s.InsertResolutionAnalysis(context.Background(), ra); err != nil {
		t.Fatal(err)
	}

	var swans []models.BlackSwanView
	if code := get(t, srv, "/api/black-swans", &swans); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(swans) != 1 || swans[0].Question != "Will upset happen?" {
		t.Errorf("swans = %+v", swans)
	}

	if code := get(t, srv, "/api/black-swans?source=api", nil); code != http.StatusServiceUnavailable {
		t.Errorf("api source without scanner = %d", code)
	}
	if code := get(t, srv, "/api/black-swans?source=elsewhere", nil); code != http.StatusBadRequest {
		t.Errorf("unknown source = %d", code)
	}

	withScanner, _ := newTestServer(t, true)
	var results []blackswan.Result
	if code := get(t, withScanner, "/api/black-swans?source=api", &results); code != http.StatusOK || len(results) != 0 {
		t.Errorf("api source = %d %v", code, results)
	}
}

func TestDatesAndSimulation(t *testing.T) {
	srv, s := newTestServer(t, false)
	seedMarket(t, s, "a", 40)

	var dates []string
	if code := get(t, srv, "/api/dates", &dates); code != http.StatusOK || len(dates) != 1 {
		t.Fatalf("dates = %d %v", code, dates)
	}

	var sims []models.SimulationMarket
	if code := get(t, srv, "/api/simulation?date="+dates[0], &sims); code != http.StatusOK {
		t.Fatalf("simulation status = %d", code)
	}
	if len(sims) != 1 || sims[0].MarketID != "a" || sims[0].Probability != 40 {
		t.Errorf("simulation = %+v", sims)
	}

	if code := get(t, srv, "/api/simulation?date=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", code)
	}
}

type resolvedSource struct {
	minVolume float64
}

func (r *resolvedSource) FetchClosedMarkets(_ context.Context, _ time.Time, minVolume float64, _ int) ([]models.MarketRecord, error) {
	r.minVolume = minVolume
	end := time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC)
	return []models.MarketRecord{{
		ID:                "upset",
		Question:          "Will upset happen?",
		Outcomes:          []string{"Yes", "No"},
		OutcomePrices:     map[string]float64{"Yes": 0, "No": 1},
		ClobTokenIDs:      []string{"upset-yes", "upset-no"},
		EndDate:           &end,
		Closed:            true,
		IsResolved:        true,
		ResolutionOutcome: "No",
		Volume:            500000,
	}}, nil
}

func (r *resolvedSource) PriceHistory(_ context.Context, token string, start, end time.Time, _ int) ([]history.Point, error) {
	if token != "upset-yes" {
		return nil, nil
	}
	mid := start.Add(end.Sub(start) / 2)
	return []history.Point{{Time: mid, Value: 0.8}}, nil
}

func TestAPISimulation(t *testing.T) {
	srv, _ := newTestServer(t, false)
	if code := get(t, srv, "/api/simulation?date=2024-08-01&source=api", nil); code != http.StatusServiceUnavailable {
		t.Errorf("without simulator = %d", code)
	}

	src := &resolvedSource{}
	srv.SetSimulator(simulation.New(src, nil, simulation.DefaultConfig()))

	var markets []simulation.Market
	if code := get(t, srv, "/api/simulation?date=2024-08-01&source=api", &markets); code != http.StatusOK {
		t.Fatalf("api simulation status = %d", code)
	}
	if len(markets) != 1 || markets[0].MarketID != "upset" || markets[0].PricesAtDate["Yes"] != 0.8 {
		t.Errorf("api simulation = %+v", markets)
	}
	if src.minVolume != 100000 {
		t.Errorf("default min volume = %v, want 100000", src.minVolume)
	}

	if code := get(t, srv, "/api/simulation?date=2024-08-01&source=api&min_volume=5000&any_resolved=true", &markets); code != http.StatusOK {
		t.Errorf("with options = %d", code)
	}
	if src.minVolume != 5000 {
		t.Errorf("min volume = %v, want 5000", src.minVolume)
	}

	future := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	if code := get(t, srv, "/api/simulation?source=api&date="+future, nil); code != http.StatusBadRequest {
		t.Errorf("future date = %d", code)
	}

	for _, bad := range []string{"source=elsewhere", "source=api&min_volume=lots", "source=api&any_resolved=maybe"} {
		if code := get(t, srv, "/api/simulation?date=2024-08-01&"+bad, nil); code != http.StatusBadRequest {
			t.Errorf("%s = %d", bad, code)
		}
	}
}

func TestEnablePprof(t *testing.T) {
	srv, _ := newTestServer(t, false)
	if code := get(t, srv, "/debug/pprof/cmdline", nil); code != http.StatusNotFound {
		t.Errorf("pprof before enabling = %d", code)
	}
	srv.EnablePprof()
	if code := get(t, srv, "/debug/pprof/cmdline", nil); code != http.StatusOK {
		t.Errorf("pprof after enabling = %d", code)
	}
}
