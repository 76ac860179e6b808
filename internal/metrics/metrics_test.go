package metrics

import (
	"math"
	"testing"
	"time"

	"jupitor/internal/domain"
)

func trade(day string, entryHour, entryMin int, net float64) domain.Trade {
	d, _ := time.Parse("2006-01-02", day)
	entry := time.Date(d.Year(), d.Month(), d.Day(), entryHour, entryMin, 0, 0, time.UTC)
	return domain.Trade{
		Date:       domain.DayKey(day),
		EntryTime:  entry,
		ExitTime:   entry.Add(20 * time.Minute),
		NetPnL:     net,
		GrossPnL:   net,
		RMultiple:  net / 1000,
		ExitReason: domain.ExitTarget,
	}
}

// Testable Property 10: an empty trade list produces the zeroed result with
// the composite score sentinel, not a panic or NaN.
func TestComputeDegenerateEmptyTrades(t *testing.T) {
	result := Compute(nil, 100000)
	if result.CompositeScore != domain.CompositeScoreSentinel {
		t.Errorf("CompositeScore = %v, want sentinel %v", result.CompositeScore, domain.CompositeScoreSentinel)
	}
	if result.Count != 0 || result.WinRate != 0 || result.NetPnL != 0 {
		t.Errorf("expected all other fields zeroed, got %+v", result)
	}
}

func TestComputeWinRateAndProfitFactor(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-10", 10, 0, -200),
		trade("2024-06-11", 9, 30, 300),
		trade("2024-06-11", 10, 0, 0), // zero counts as a loser
	}
	result := Compute(trades, 100000)

	if result.Count != 4 {
		t.Errorf("Count = %d, want 4", result.Count)
	}
	if result.Winners != 2 || result.Losers != 2 {
		t.Errorf("Winners=%d Losers=%d, want 2/2 (net_pnl<=0 counts as a loser)", result.Winners, result.Losers)
	}
	if result.WinRate != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", result.WinRate)
	}
	wantPF := 800.0 / 200.0
	if math.Abs(result.ProfitFactor-wantPF) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want %v", result.ProfitFactor, wantPF)
	}
}

func TestComputeProfitFactorCapsWhenNoLosers(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-11", 9, 30, 300),
	}
	result := Compute(trades, 100000)
	if result.ProfitFactor != profitFactorCap {
		t.Errorf("ProfitFactor = %v, want cap %v with zero losers", result.ProfitFactor, profitFactorCap)
	}
}

func TestComputeMaxDrawdown(t *testing.T) {
	// equity path: 100000 -> 100500 (peak) -> 100200 -> 100700 (new peak)
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-10", 10, 0, -300),
		trade("2024-06-11", 9, 30, 500),
	}
	result := Compute(trades, 100000)
	wantDD := 300.0
	if result.MaxDrawdown != wantDD {
		t.Errorf("MaxDrawdown = %v, want %v", result.MaxDrawdown, wantDD)
	}
	if math.Abs(result.MaxDrawdownPct-wantDD/100000) > 1e-9 {
		t.Errorf("MaxDrawdownPct = %v, want %v", result.MaxDrawdownPct, wantDD/100000)
	}
}

func TestComputeMaxConsecutiveLosses(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, -100),
		trade("2024-06-10", 10, 0, -100),
		trade("2024-06-10", 10, 30, -100),
		trade("2024-06-11", 9, 30, 500),
		trade("2024-06-11", 10, 0, -100),
	}
	result := Compute(trades, 100000)
	if result.MaxConsecutiveLosses != 3 {
		t.Errorf("MaxConsecutiveLosses = %d, want 3", result.MaxConsecutiveLosses)
	}
}

func TestComputeSharpeZeroWithFewerThanTwoDays(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-10", 10, 0, -100),
	}
	result := Compute(trades, 100000)
	if result.SharpeRatio != 0 {
		t.Errorf("SharpeRatio = %v, want 0 with a single distinct trading day", result.SharpeRatio)
	}
}

func TestComputeSortinoCapsWhenNoDownside(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-11", 9, 30, 300),
	}
	result := Compute(trades, 100000)
	if result.SortinoRatio != sortinoCap {
		t.Errorf("SortinoRatio = %v, want cap %v with no negative daily returns", result.SortinoRatio, sortinoCap)
	}
}

func TestComputeSortinoZeroWithFewerThanTwoDays(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-10", 10, 0, -100),
	}
	result := Compute(trades, 100000)
	if result.SortinoRatio != 0 {
		t.Errorf("SortinoRatio = %v, want 0 with a single distinct trading day", result.SortinoRatio)
	}
}

func TestComputeExpectancy(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 400),  // winner
		trade("2024-06-11", 9, 30, -200), // loser
	}
	result := Compute(trades, 100000)
	wantExpectancy := 400*0.5 - 200*0.5
	if math.Abs(result.Expectancy-wantExpectancy) > 1e-9 {
		t.Errorf("Expectancy = %v, want %v", result.Expectancy, wantExpectancy)
	}
}

func TestComputeCompositeScoreIsFiniteForOrdinaryRuns(t *testing.T) {
	trades := []domain.Trade{
		trade("2024-06-10", 9, 30, 500),
		trade("2024-06-11", 9, 30, -200),
		trade("2024-06-12", 9, 30, 300),
	}
	result := Compute(trades, 100000)
	if math.IsNaN(result.CompositeScore) || math.IsInf(result.CompositeScore, 0) {
		t.Errorf("CompositeScore = %v, want a finite value", result.CompositeScore)
	}
}
