// Package kernel implements the Simulation Kernel (component E): for one
// (InstrumentView, StrategyParams, shared DayCaches) it produces a list of
// Trades by bulk array scans, falling back to a sequential loop only for
// the stateful trailing stop. The kernel's per-day path never returns an
// error — it returns either a Trade or nothing; errors are architectural
// and live at component boundaries, not here.
package kernel

import (
	"math"

	"jupitor/internal/domain"
)

// Config carries the capital and cost-model constants the kernel needs but
// that are not part of StrategyParams itself.
type Config struct {
	Capital         float64
	MaxRiskPerTrade float64
	BrokerageRate   float64 // applied to entry notional, both legs (2x)
	STTRate         float64 // applied to exit notional
}

// DefaultConfig mirrors the cost assumptions used throughout spec.md's
// worked examples (S1-S6): ample capital, a fixed per-trade risk budget,
// and small proportional costs.
func DefaultConfig() Config {
	return Config{
		Capital:         100000,
		MaxRiskPerTrade: 1000,
		BrokerageRate:   0.0003,
		STTRate:         0.00025,
	}
}

// Run simulates params over every DayCache in caches and returns the
// resulting trade list, in chronological order.
func Run(view *domain.InstrumentView, params domain.StrategyParams, caches []domain.DayCache, cfg Config) []domain.Trade {
	var trades []domain.Trade
	for _, cache := range caches {
		if t, ok := simulateDay(view, params, cache, cfg); ok {
			trades = append(trades, t)
		}
	}
	return trades
}

func simulateDay(view *domain.InstrumentView, params domain.StrategyParams, cache domain.DayCache, cfg Config) (domain.Trade, bool) {
	or := cache.OR

	// OR filter.
	if params.MaxORFilterPct > 0 && or.PctRange > params.MaxORFilterPct {
		return domain.Trade{}, false
	}

	side, entryIdx, entryPrice, ok := chooseEntry(params, cache)
	if !ok {
		return domain.Trade{}, false
	}

	stopLoss, ok := initialStopLoss(view, params, cache, side, entryPrice)
	if !ok {
		return domain.Trade{}, false
	}

	riskPerShare := math.Abs(entryPrice - stopLoss)
	if riskPerShare <= 0 {
		return domain.Trade{}, false
	}
	qty := positionSize(riskPerShare, entryPrice, cfg)
	if qty <= 0 {
		return domain.Trade{}, false
	}

	var target float64
	if params.TargetMultiplier > 0 {
		if side == domain.SideLong {
			target = entryPrice + riskPerShare*params.TargetMultiplier
		} else {
			target = entryPrice - riskPerShare*params.TargetMultiplier
		}
	}

	var exitIdx int
	var exitPrice float64
	var exitReason domain.ExitReason
	var slFinal float64

	if params.StopLossType == domain.StopLossTrailing {
		exitIdx, exitPrice, exitReason, slFinal = scanTrailing(cache, side, entryIdx, stopLoss, target, params.TrailingStopPct)
	} else {
		exitIdx, exitPrice, exitReason = scanVectorized(cache, side, entryIdx, stopLoss, target)
		slFinal = stopLoss
	}

	trade := domain.Trade{
		Instrument: view.Instrument,
		Date:       cache.Day,
		Direction:  side,
		EntryTime:  cache.Timestamps[entryIdx],
		EntryPrice: round2(entryPrice),
		ExitTime:   cache.Timestamps[exitIdx],
		ExitPrice:  round2(exitPrice),
		Quantity:   qty,
		SLInitial:  round2(stopLoss),
		SLFinal:    round2(slFinal),
		Target:     round2(target),
		ORHigh:     or.High,
		ORLow:      or.Low,
		ExitReason: exitReason,
	}
	applyPnL(&trade, riskPerShare, qty, cfg)
	return trade, true
}

// chooseEntry implements §4.E step 2: side selection, including the
// documented tiebreak (earliest index wins; an exact tie resolves LONG).
func chooseEntry(params domain.StrategyParams, cache domain.DayCache) (domain.Side, int, float64, bool) {
	longAllowed := params.TradeDirection == domain.DirectionLongOnly || params.TradeDirection == domain.DirectionBoth
	shortAllowed := params.TradeDirection == domain.DirectionShortOnly || params.TradeDirection == domain.DirectionBoth

	longIdx, shortIdx := -1, -1
	if longAllowed {
		longIdx = confirmationIndex(params.EntryConfirmation, cache, domain.SideLong)
	}
	if shortAllowed {
		shortIdx = confirmationIndex(params.EntryConfirmation, cache, domain.SideShort)
	}

	switch {
	case longIdx == -1 && shortIdx == -1:
		return "", 0, 0, false
	case shortIdx == -1 || (longIdx != -1 && longIdx <= shortIdx):
		return domain.SideLong, longIdx, entryPrice(params.EntryConfirmation, cache, domain.SideLong, longIdx), true
	default:
		return domain.SideShort, shortIdx, entryPrice(params.EntryConfirmation, cache, domain.SideShort, shortIdx), true
	}
}

func confirmationIndex(conf domain.EntryConfirmation, cache domain.DayCache, side domain.Side) int {
	switch conf {
	case domain.ConfirmImmediate:
		if side == domain.SideLong {
			return cache.FirstLongImmIdx
		}
		return cache.FirstShortImmIdx
	case domain.ConfirmCandleClose:
		if side == domain.SideLong {
			return cache.FirstLongCloseIdx
		}
		return cache.FirstShortCloseIdx
	case domain.ConfirmVolumeConfirm:
		if side == domain.SideLong {
			return cache.FirstLongVolIdx
		}
		return cache.FirstShortVolIdx
	}
	return -1
}

func entryPrice(conf domain.EntryConfirmation, cache domain.DayCache, side domain.Side, idx int) float64 {
	if conf == domain.ConfirmImmediate {
		if side == domain.SideLong {
			return cache.OR.High
		}
		return cache.OR.Low
	}
	return cache.Closes[idx]
}

// initialStopLoss implements §4.E step 3.
func initialStopLoss(view *domain.InstrumentView, params domain.StrategyParams, cache domain.DayCache, side domain.Side, entryPrice float64) (float64, bool) {
	switch params.StopLossType {
	case domain.StopLossFixed:
		if side == domain.SideLong {
			return cache.OR.Low, true
		}
		return cache.OR.High, true
	case domain.StopLossTrailing:
		if side == domain.SideLong {
			return entryPrice * (1 - params.TrailingStopPct/100), true
		}
		return entryPrice * (1 + params.TrailingStopPct/100), true
	case domain.StopLossATR:
		atr, ok := view.ATR[cache.Day]
		if !ok {
			return initialStopLoss(view, domain.StrategyParams{StopLossType: domain.StopLossFixed}, cache, side, entryPrice)
		}
		if side == domain.SideLong {
			return entryPrice - atr*params.ATRMultiplier, true
		}
		return entryPrice + atr*params.ATRMultiplier, true
	}
	return 0, false
}

func positionSize(riskPerShare, entryPrice float64, cfg Config) int64 {
	byRisk := int64(math.Floor(cfg.MaxRiskPerTrade / riskPerShare))
	byCapital := int64(math.Floor(cfg.Capital / entryPrice))
	if byRisk < byCapital {
		return byRisk
	}
	return byCapital
}

// scanVectorized implements the FIXED/ATR_BASED exit path of §4.E step 6:
// bulk scans for the first stop-loss and target hit after entry, with a
// stop-wins tie on the same bar.
func scanVectorized(cache domain.DayCache, side domain.Side, entryIdx int, stopLoss, target float64) (int, float64, domain.ExitReason) {
	n := len(cache.Highs)
	slIdx, tgtIdx := -1, -1
	hasTarget := target != 0

	for i := entryIdx + 1; i < n; i++ {
		if slIdx == -1 {
			if side == domain.SideLong && cache.Lows[i] <= stopLoss {
				slIdx = i
			} else if side == domain.SideShort && cache.Highs[i] >= stopLoss {
				slIdx = i
			}
		}
		if hasTarget && tgtIdx == -1 {
			if side == domain.SideLong && cache.Highs[i] >= target {
				tgtIdx = i
			} else if side == domain.SideShort && cache.Lows[i] <= target {
				tgtIdx = i
			}
		}
		if slIdx != -1 && (tgtIdx != -1 || !hasTarget) {
			break
		}
	}

	switch {
	case slIdx != -1 && tgtIdx != -1:
		if slIdx <= tgtIdx {
			return slIdx, stopLoss, domain.ExitStopLoss
		}
		return tgtIdx, target, domain.ExitTarget
	case slIdx != -1:
		return slIdx, stopLoss, domain.ExitStopLoss
	case tgtIdx != -1:
		return tgtIdx, target, domain.ExitTarget
	default:
		last := n - 1
		return last, cache.Closes[last], domain.ExitTimeExit
	}
}

// scanTrailing implements the TRAILING exit path of §4.E step 6: a
// sequential loop maintaining a ratcheting peak and stop.
func scanTrailing(cache domain.DayCache, side domain.Side, entryIdx int, initialStop, target, trailingPct float64) (int, float64, domain.ExitReason, float64) {
	n := len(cache.Highs)
	hasTarget := target != 0

	var peak float64
	if side == domain.SideLong {
		peak = cache.Highs[entryIdx]
	} else {
		peak = cache.Lows[entryIdx]
	}
	stop := initialStop

	for i := entryIdx + 1; i < n; i++ {
		if side == domain.SideLong {
			if cache.Highs[i] > peak {
				peak = cache.Highs[i]
			}
			candidate := peak * (1 - trailingPct/100)
			if candidate > stop {
				stop = candidate
			}
		} else {
			if cache.Lows[i] < peak {
				peak = cache.Lows[i]
			}
			candidate := peak * (1 + trailingPct/100)
			if candidate < stop {
				stop = candidate
			}
		}

		stopHit := (side == domain.SideLong && cache.Lows[i] <= stop) || (side == domain.SideShort && cache.Highs[i] >= stop)
		targetHit := hasTarget && ((side == domain.SideLong && cache.Highs[i] >= target) || (side == domain.SideShort && cache.Lows[i] <= target))

		if stopHit {
			return i, stop, domain.ExitStopLoss, stop
		}
		if targetHit {
			return i, target, domain.ExitTarget, stop
		}
	}

	last := n - 1
	return last, cache.Closes[last], domain.ExitTimeExit, stop
}

func applyPnL(trade *domain.Trade, riskPerShare float64, qty int64, cfg Config) {
	sign := 1.0
	if trade.Direction == domain.SideShort {
		sign = -1.0
	}
	gross := sign * (trade.ExitPrice - trade.EntryPrice) * float64(qty)

	brokerage := trade.EntryPrice * float64(qty) * cfg.BrokerageRate * 2
	stt := trade.ExitPrice * float64(qty) * cfg.STTRate
	costs := brokerage + stt
	net := gross - costs

	riskAmount := riskPerShare * float64(qty)
	var rMultiple float64
	if riskAmount > 0 {
		rMultiple = net / riskAmount
	}

	trade.GrossPnL = round2(gross)
	trade.Costs = round2(costs)
	trade.NetPnL = round2(net)
	trade.RiskAmount = round2(riskAmount)
	trade.RMultiple = round4(rMultiple)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
