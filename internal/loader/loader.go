// Package loader implements the Data Loader (component C): it partitions a
// raw bar sequence into trading days, computes per-day opening-range
// statistics for every requested OR-window duration, and computes the
// per-day Wilder-smoothed ATR series, materializing a read-only
// domain.InstrumentView.
package loader

import (
	"context"
	"sort"
	"time"

	"jupitor/internal/barstore"
	"jupitor/internal/domain"
)

const dayKeyLayout = "2006-01-02"

// Load streams bars for instrument from store within [start, end] and
// builds its InstrumentView. A zero start/end means unbounded. If the store
// has no bars for instrument, Load returns an empty InstrumentView (§4.C
// failure mode) rather than an error.
func Load(ctx context.Context, store barstore.Store, instrument string, start, end time.Time, orMinutesList []int) (*domain.InstrumentView, error) {
	bars, err := store.ReadBars(ctx, instrument, start, end)
	if err != nil {
		return nil, &domain.DataError{Instrument: instrument, Msg: "reading bars: " + err.Error()}
	}
	return BuildView(instrument, bars, orMinutesList), nil
}

// BuildView is the pure transformation underlying Load: given an
// already-filtered, not-necessarily-sorted bar sequence, it returns the
// InstrumentView. Calling BuildView twice on the same bars yields
// byte-identical views (Testable Property 2).
func BuildView(instrument string, bars []domain.Bar, orMinutesList []int) *domain.InstrumentView {
	sorted := append([]domain.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	view := &domain.InstrumentView{
		Instrument:    instrument,
		Bars:          sorted,
		DayBars:       make(map[domain.DayKey][]domain.Bar),
		OpeningRanges: make(map[int]map[domain.DayKey]domain.OpeningRange),
		ATR:           make(map[domain.DayKey]float64),
		PriorClose:    make(map[domain.DayKey]float64),
	}
	if len(sorted) == 0 {
		return view
	}

	for _, b := range sorted {
		day := domain.DayKey(b.Timestamp.Format(dayKeyLayout))
		view.DayBars[day] = append(view.DayBars[day], b)
		view.TradingDays = appendUniqueDay(view.TradingDays, day)
	}

	for _, m := range orMinutesList {
		view.OpeningRanges[m] = computeOpeningRanges(view, m)
	}

	computeATRAndPriorClose(view)

	return view
}

func appendUniqueDay(days []domain.DayKey, d domain.DayKey) []domain.DayKey {
	if n := len(days); n > 0 && days[n-1] == d {
		return days
	}
	return append(days, d)
}

// OREndMinuteOfDay returns the minute-of-day (0 = midnight) at which the OR
// window for m minutes closes: 09:15 + m minutes, i.e. bars at session
// offsets [0, m) belong to the opening range.
func OREndMinuteOfDay(m int) int {
	return domain.SessionOpenHour*60 + domain.SessionOpenMinute + m
}

// computeOpeningRanges computes OR stats for one OR-minutes value across
// every trading day, honoring Invariant I1: a day must have at least two
// bars within the first m session minutes to get an entry; days that fail
// I1 are simply omitted from the result.
func computeOpeningRanges(view *domain.InstrumentView, m int) map[domain.DayKey]domain.OpeningRange {
	out := make(map[domain.DayKey]domain.OpeningRange)
	openMinute := domain.SessionOpenHour*60 + domain.SessionOpenMinute
	endMinute := OREndMinuteOfDay(m)

	for day, bars := range view.DayBars {
		var high, low float64
		var volSum float64
		var count int
		first := true
		for _, b := range bars {
			h, mi, _ := b.Timestamp.Clock()
			minuteOfDay := h*60 + mi
			if minuteOfDay < openMinute || minuteOfDay >= endMinute {
				continue
			}
			if first {
				high, low = b.High, b.Low
				first = false
			} else {
				if b.High > high {
					high = b.High
				}
				if b.Low < low {
					low = b.Low
				}
			}
			volSum += float64(b.Volume)
			count++
		}
		if count < 2 {
			continue // Invariant I1: fewer than two bars in the opening window.
		}
		avgVol := volSum / float64(count)
		mid := (high + low) / 2
		var pct float64
		if mid != 0 {
			pct = (high - low) / mid * 100
		}
		out[day] = domain.OpeningRange{High: high, Low: low, AvgVol: avgVol, PctRange: pct}
	}
	return out
}
