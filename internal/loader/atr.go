package loader

import "jupitor/internal/domain"

// dailyAggregate is the (high, low, close) reduction of one trading day's
// minute bars, used to compute the true range feeding the ATR series.
type dailyAggregate struct {
	day   domain.DayKey
	high  float64
	low   float64
	close float64
}

// computeATRAndPriorClose fills view.ATR (14-period Wilder-smoothed ATR,
// falling back to a running simple average for days earlier than the
// smoothing window, per spec.md §3) and view.PriorClose (the previous
// trading day's daily close, omitted for the first day).
func computeATRAndPriorClose(view *domain.InstrumentView) {
	const period = domain.DefaultATRPeriod

	aggregates := make([]dailyAggregate, 0, len(view.TradingDays))
	for _, day := range view.TradingDays {
		bars := view.DayBars[day]
		if len(bars) == 0 {
			continue
		}
		agg := dailyAggregate{day: day, high: bars[0].High, low: bars[0].Low, close: bars[len(bars)-1].Close}
		for _, b := range bars[1:] {
			if b.High > agg.high {
				agg.high = b.High
			}
			if b.Low < agg.low {
				agg.low = b.Low
			}
		}
		aggregates = append(aggregates, agg)
	}

	trueRanges := make([]float64, len(aggregates))
	for i, agg := range aggregates {
		if i == 0 {
			trueRanges[i] = agg.high - agg.low
			continue
		}
		priorClose := aggregates[i-1].close
		view.PriorClose[agg.day] = priorClose

		tr := agg.high - agg.low
		if v := abs(agg.high - priorClose); v > tr {
			tr = v
		}
		if v := abs(agg.low - priorClose); v > tr {
			tr = v
		}
		trueRanges[i] = tr
	}

	var runningSum float64
	var prevATR float64
	for i, agg := range aggregates {
		runningSum += trueRanges[i]
		var atr float64
		if i < period {
			atr = runningSum / float64(i+1)
		} else {
			atr = (prevATR*(period-1) + trueRanges[i]) / period
		}
		view.ATR[agg.day] = atr
		prevATR = atr
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
