package resultstore

import (
	"context"
	"path/filepath"
	"testing"

	"jupitor/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "results.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleParams() domain.StrategyParams {
	return domain.StrategyParams{
		ORMinutes: 15, TargetMultiplier: 2, StopLossType: domain.StopLossFixed,
		TradeDirection: domain.DirectionBoth, ExitTime: "15:15",
		MaxORFilterPct: 0, EntryConfirmation: domain.ConfirmImmediate,
	}.WithDefaults()
}

func TestCreateRunInitializesProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, `{"quick":true}`, 4, 40, []string{"TCS", "INFY"}, 2, false, "2024-01-01", "2024-06-01")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if runID == 0 {
		t.Fatal("CreateRun returned zero run_id")
	}

	progress, err := s.GetProgress(ctx, runID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if len(progress) != 2 {
		t.Fatalf("GetProgress returned %d rows, want 2", len(progress))
	}
	for _, p := range progress {
		if p.Status != domain.InstrumentPending {
			t.Errorf("instrument %s status = %s, want pending", p.Instrument, p.Status)
		}
	}
}

func TestInsertParamsBatchIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	params := []domain.StrategyParams{sampleParams()}

	if err := s.InsertParamsBatch(ctx, params); err != nil {
		t.Fatalf("InsertParamsBatch (first): %v", err)
	}
	if err := s.InsertParamsBatch(ctx, params); err != nil {
		t.Fatalf("InsertParamsBatch (second, should no-op): %v", err)
	}
}

func TestMetricsBatchNaturalKeyInsertOrIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "{}", 1, 1, []string{"TCS"}, 1, false, "", "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	p := sampleParams()
	row := domain.MetricsRow{
		RunID: runID, ParamID: p.ParamID(), Instrument: "TCS", Params: p,
		Metrics: domain.PerformanceResult{Count: 3, WinRate: 0.5, CompositeScore: 0.1},
	}
	if err := s.InsertMetricsBatch(ctx, runID, []domain.MetricsRow{row}); err != nil {
		t.Fatalf("InsertMetricsBatch (first): %v", err)
	}
	// Same natural key inserted again with different values — must be ignored.
	row.Metrics.Count = 999
	if err := s.InsertMetricsBatch(ctx, runID, []domain.MetricsRow{row}); err != nil {
		t.Fatalf("InsertMetricsBatch (duplicate): %v", err)
	}

	got, err := s.GetAllMetrics(ctx, runID, "composite_score")
	if err != nil {
		t.Fatalf("GetAllMetrics: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetAllMetrics returned %d rows, want exactly 1 (insert-or-ignore)", len(got))
	}
	if got[0].Metrics.Count != 3 {
		t.Errorf("Count = %d, want 3 (first insert wins)", got[0].Metrics.Count)
	}
}

func TestMarkStockLifecycleAndResume(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "{}", 1, 1, []string{"TCS", "INFY"}, 1, false, "", "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.MarkStockInProgress(ctx, runID, "TCS"); err != nil {
		t.Fatalf("MarkStockInProgress: %v", err)
	}
	if err := s.MarkStockComplete(ctx, runID, "TCS", 10, 25, 1.5); err != nil {
		t.Fatalf("MarkStockComplete: %v", err)
	}

	completed, err := s.GetCompletedStocks(ctx, runID)
	if err != nil {
		t.Fatalf("GetCompletedStocks: %v", err)
	}
	if !completed["TCS"] || completed["INFY"] {
		t.Errorf("GetCompletedStocks = %v, want only TCS", completed)
	}

	// Simulate a WorkerError recovery: INFY's in-progress work is rolled
	// back to pending so a resumed run retries it.
	if err := s.MarkStockInProgress(ctx, runID, "INFY"); err != nil {
		t.Fatalf("MarkStockInProgress: %v", err)
	}
	if err := s.MarkStockPending(ctx, runID, "INFY"); err != nil {
		t.Fatalf("MarkStockPending: %v", err)
	}
	completed, err = s.GetCompletedStocks(ctx, runID)
	if err != nil {
		t.Fatalf("GetCompletedStocks: %v", err)
	}
	if completed["INFY"] {
		t.Error("INFY should not be completed after rollback to pending")
	}
}

func TestGetTopStrategiesRejectsUnknownMetric(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTopStrategies(context.Background(), 1, "drop table backtest_runs", 10)
	if err == nil {
		t.Fatal("expected an error for an unknown/unsafe metric name")
	}
}

func TestGetTopStrategiesOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, err := s.CreateRun(ctx, "{}", 2, 2, []string{"TCS"}, 1, false, "", "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	p1 := sampleParams()
	p2 := p1
	p2.TargetMultiplier = 3

	rows := []domain.MetricsRow{
		{RunID: runID, ParamID: p1.ParamID(), Instrument: "TCS", Params: p1, Metrics: domain.PerformanceResult{CompositeScore: 0.2}},
		{RunID: runID, ParamID: p2.ParamID(), Instrument: "TCS", Params: p2, Metrics: domain.PerformanceResult{CompositeScore: 0.9}},
	}
	if err := s.InsertMetricsBatch(ctx, runID, rows); err != nil {
		t.Fatalf("InsertMetricsBatch: %v", err)
	}

	top, err := s.GetTopStrategies(ctx, runID, "composite_score", 10)
	if err != nil {
		t.Fatalf("GetTopStrategies: %v", err)
	}
	if len(top) != 2 || top[0].Metrics.CompositeScore < top[1].Metrics.CompositeScore {
		t.Fatalf("GetTopStrategies not ordered descending: %+v", top)
	}
}
