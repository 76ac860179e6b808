// Package metrics implements the Metrics Calculator (component F): a pure
// reduction of a trade list to a PerformanceResult. Compute never fails —
// a degenerate (empty) trade list yields the zeroed result with the
// composite score sentinel.
package metrics

import (
	"math"

	"jupitor/internal/domain"
)

const (
	tradingDaysPerYear = 252
	profitFactorCap    = 999.99
	sortinoCap         = 999.99
)

// Compute reduces trades to a PerformanceResult. capital is the starting
// equity used to express P&L as a return.
func Compute(trades []domain.Trade, capital float64) domain.PerformanceResult {
	if len(trades) == 0 {
		return domain.PerformanceResult{CompositeScore: domain.CompositeScoreSentinel}
	}

	var winners, losers int
	var grossPnL, netPnL, totalCosts float64
	var sumWinners, sumLosers float64
	var sumRMultiple float64
	var bestTrade, worstTrade float64
	var sumHoldingMinutes float64
	maxConsecutiveLosses, currentLosses := 0, 0

	bestTrade = trades[0].NetPnL
	worstTrade = trades[0].NetPnL

	for _, tr := range trades {
		grossPnL += tr.GrossPnL
		netPnL += tr.NetPnL
		totalCosts += tr.Costs
		sumRMultiple += tr.RMultiple
		sumHoldingMinutes += tr.ExitTime.Sub(tr.EntryTime).Minutes()

		if tr.NetPnL > 0 {
			winners++
			sumWinners += tr.NetPnL
			currentLosses = 0
		} else {
			losers++
			sumLosers += tr.NetPnL
			currentLosses++
			if currentLosses > maxConsecutiveLosses {
				maxConsecutiveLosses = currentLosses
			}
		}
		if tr.NetPnL > bestTrade {
			bestTrade = tr.NetPnL
		}
		if tr.NetPnL < worstTrade {
			worstTrade = tr.NetPnL
		}
	}

	count := len(trades)
	winRate := float64(winners) / float64(count)
	lossRate := float64(losers) / float64(count)

	var avgWinner, avgLoser float64
	if winners > 0 {
		avgWinner = sumWinners / float64(winners)
	}
	if losers > 0 {
		avgLoser = sumLosers / float64(losers)
	}

	profitFactor := computeProfitFactor(sumWinners, sumLosers)
	maxDD, maxDDPct := computeDrawdown(trades, capital)
	sharpe := computeSharpe(trades, capital)
	sortino := computeSortino(trades, capital)
	expectancy := avgWinner*winRate - math.Abs(avgLoser)*lossRate
	calmar := computeCalmar(trades, netPnL, maxDD)

	composite := 0.25*(netPnL/capital) +
		0.20*sharpe +
		0.15*(math.Min(profitFactor, 10)/10) +
		0.15*winRate +
		0.15*(1-math.Min(maxDDPct, 1)) +
		0.10*(expectancy / (capital * 0.01))

	return domain.PerformanceResult{
		Count:                count,
		WinRate:              winRate,
		GrossPnL:             grossPnL,
		NetPnL:               netPnL,
		AvgWinner:            avgWinner,
		AvgLoser:             avgLoser,
		ProfitFactor:         profitFactor,
		MaxDrawdown:          maxDD,
		MaxDrawdownPct:       maxDDPct,
		MaxConsecutiveLosses: maxConsecutiveLosses,
		SharpeRatio:          sharpe,
		SortinoRatio:         sortino,
		Expectancy:           expectancy,
		AvgRMultiple:         sumRMultiple / float64(count),
		CalmarRatio:          calmar,
		BestTrade:            bestTrade,
		WorstTrade:           worstTrade,
		AvgHoldingMinutes:    sumHoldingMinutes / float64(count),
		CompositeScore:       composite,
		Winners:              winners,
		Losers:               losers,
		TotalCosts:           totalCosts,
	}
}

func computeProfitFactor(sumWinners, sumLosers float64) float64 {
	denominator := math.Abs(sumLosers)
	switch {
	case denominator == 0 && sumWinners > 0:
		return profitFactorCap
	case denominator == 0:
		return 0
	default:
		return sumWinners / denominator
	}
}

func computeDrawdown(trades []domain.Trade, capital float64) (float64, float64) {
	equity := capital
	peak := capital
	maxDD := 0.0
	for _, tr := range trades {
		equity += tr.NetPnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD, maxDD / capital
}

// dailyReturns aggregates net_pnl by calendar date, dividing by capital.
func dailyReturns(trades []domain.Trade, capital float64) []float64 {
	byDay := make(map[domain.DayKey]float64)
	for _, tr := range trades {
		byDay[tr.Date] += tr.NetPnL
	}
	returns := make([]float64, 0, len(byDay))
	for _, pnl := range byDay {
		returns = append(returns, pnl/capital)
	}
	return returns
}

func computeSharpe(trades []domain.Trade, capital float64) float64 {
	returns := dailyReturns(trades, capital)
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	variance := sampleVariance(returns, mean)
	if variance == 0 {
		return 0
	}
	stdev := math.Sqrt(variance)
	return (mean / stdev) * math.Sqrt(tradingDaysPerYear)
}

func computeSortino(trades []domain.Trade, capital float64) float64 {
	returns := dailyReturns(trades, capital)
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)

	var sumSqNeg float64
	for _, r := range returns {
		if r < 0 {
			sumSqNeg += r * r
		}
	}
	downside := math.Sqrt(sumSqNeg / float64(len(returns)))
	if downside == 0 {
		if mean > 0 {
			return sortinoCap
		}
		return 0
	}
	return (mean / downside) * math.Sqrt(tradingDaysPerYear)
}

func computeCalmar(trades []domain.Trade, netPnL, maxDD float64) float64 {
	if maxDD == 0 {
		return 0
	}
	span := entryTimeSpanDays(trades)
	years := math.Max(1, span/365.25)
	annualizedNetPnL := netPnL / years
	return annualizedNetPnL / maxDD
}

// entryTimeSpanDays returns the number of days between the earliest and
// latest entry timestamps across trades.
func entryTimeSpanDays(trades []domain.Trade) float64 {
	earliest, latest := trades[0].EntryTime, trades[0].EntryTime
	for _, tr := range trades {
		if tr.EntryTime.Before(earliest) {
			earliest = tr.EntryTime
		}
		if tr.EntryTime.After(latest) {
			latest = tr.EntryTime
		}
	}
	return latest.Sub(earliest).Hours() / 24
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleVariance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values)-1)
}
