// Package sensitivity ranks StrategyParams axes by how much they move a
// run's average net P&L: for each axis, group every result by that axis's
// value, average net_pnl within each group, and report the spread between
// the best and worst group.
package sensitivity

import (
	"fmt"
	"sort"
	"strconv"

	"jupitor/internal/domain"
)

type axis struct {
	column, name string
	valueOf      func(domain.StrategyParams) string
}

var axes = []axis{
	{"or_minutes", "OR Duration (min)", func(p domain.StrategyParams) string { return strconv.Itoa(p.ORMinutes) }},
	{"target_multiplier", "Target R:R", func(p domain.StrategyParams) string { return formatFloat(p.TargetMultiplier) }},
	{"stop_loss_type", "Stop Loss Type", func(p domain.StrategyParams) string { return string(p.StopLossType) }},
	{"trade_direction", "Trade Direction", func(p domain.StrategyParams) string { return string(p.TradeDirection) }},
	{"exit_time", "Exit Time", func(p domain.StrategyParams) string { return p.ExitTime }},
	{"max_or_filter_pct", "OR Size Filter (%)", func(p domain.StrategyParams) string { return formatFloat(p.MaxORFilterPct) }},
	{"entry_confirmation", "Entry Confirmation", func(p domain.StrategyParams) string { return string(p.EntryConfirmation) }},
}

// Compute groups rows by each StrategyParams axis in turn, averages
// Metrics.NetPnL within each group, and returns one ParameterSensitivity per
// axis with at least two distinct values, sorted by Spread descending (the
// axis with the widest best/worst gap first).
func Compute(rows []domain.MetricsRow) []domain.ParameterSensitivity {
	var out []domain.ParameterSensitivity
	for _, a := range axes {
		sums := make(map[string]float64)
		counts := make(map[string]int)
		for _, r := range rows {
			key := a.valueOf(r.Params)
			sums[key] += r.Metrics.NetPnL
			counts[key]++
		}
		if len(sums) < 2 {
			continue
		}

		means := make(map[string]float64, len(sums))
		for key, sum := range sums {
			means[key] = sum / float64(counts[key])
		}

		bestKey, worstKey := "", ""
		for key, mean := range means {
			if bestKey == "" || mean > means[bestKey] {
				bestKey = key
			}
			if worstKey == "" || mean < means[worstKey] {
				worstKey = key
			}
		}

		out = append(out, domain.ParameterSensitivity{
			Parameter:   a.name,
			Column:      a.column,
			Variance:    sampleVariance(means),
			Spread:      means[bestKey] - means[worstKey],
			BestValue:   bestKey,
			BestAvgPnL:  means[bestKey],
			WorstValue:  worstKey,
			WorstAvgPnL: means[worstKey],
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Spread > out[j].Spread })
	return out
}

func sampleVariance(means map[string]float64) float64 {
	n := float64(len(means))
	var sum float64
	for _, m := range means {
		sum += m
	}
	mean := sum / n
	var sq float64
	for _, m := range means {
		d := m - mean
		sq += d * d
	}
	if n < 2 {
		return 0
	}
	return sq / (n - 1)
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
