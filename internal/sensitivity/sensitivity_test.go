package sensitivity

import (
	"testing"

	"jupitor/internal/domain"
)

func row(orMinutes int, netPnL float64) domain.MetricsRow {
	return domain.MetricsRow{
		Params:  domain.StrategyParams{ORMinutes: orMinutes, ExitTime: "15:15"},
		Metrics: domain.PerformanceResult{NetPnL: netPnL},
	}
}

func TestComputeReportsBestWorstAndSpread(t *testing.T) {
	rows := []domain.MetricsRow{
		row(5, 100), row(5, 300), // mean 200
		row(15, -50), row(15, 50), // mean 0
	}
	out := Compute(rows)

	var orRow *domain.ParameterSensitivity
	for i := range out {
		if out[i].Column == "or_minutes" {
			orRow = &out[i]
		}
	}
	if orRow == nil {
		t.Fatal("expected an or_minutes sensitivity row")
	}
	if orRow.BestValue != "5" {
		t.Errorf("BestValue = %q, want %q", orRow.BestValue, "5")
	}
	if orRow.WorstValue != "15" {
		t.Errorf("WorstValue = %q, want %q", orRow.WorstValue, "15")
	}
	if orRow.Spread != 200 {
		t.Errorf("Spread = %v, want 200", orRow.Spread)
	}
}

func TestComputeSkipsAxesWithOneDistinctValue(t *testing.T) {
	rows := []domain.MetricsRow{row(5, 100), row(5, 200)}
	out := Compute(rows)
	for _, r := range out {
		if r.Column == "or_minutes" {
			t.Error("expected or_minutes to be skipped with only one distinct value")
		}
	}
}

func TestComputeSortsBySpreadDescending(t *testing.T) {
	rows := []domain.MetricsRow{
		row(5, 1000), row(15, -1000), // large or_minutes spread
	}
	rows[0].Params.TargetMultiplier = 1
	rows[1].Params.TargetMultiplier = 1 // target_multiplier has only one distinct value, skipped

	out := Compute(rows)
	for i := 1; i < len(out); i++ {
		if out[i].Spread > out[i-1].Spread {
			t.Errorf("row %d spread %v > row %d spread %v, want descending", i, out[i].Spread, i-1, out[i-1].Spread)
		}
	}
}
