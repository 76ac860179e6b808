// Package daycache implements the Day Cache Builder (component D): for one
// (OR-minutes, exit-time) pair it precomputes, per trading day, dense
// post-OR numeric arrays and six first-breakout indices. A DayCache is the
// performance-critical reuse unit shared read-only across every
// StrategyParams in a partition.
package daycache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jupitor/internal/domain"
	"jupitor/internal/loader"
)

// Build constructs one DayCache per trading day that has OR statistics for
// orMinutes, restricted to bars in [or_end_time(orMinutes), exitTime]
// inclusive. Days yielding zero bars in that window are skipped.
func Build(view *domain.InstrumentView, orMinutes int, exitTime string) ([]domain.DayCache, error) {
	orStats, ok := view.OpeningRanges[orMinutes]
	if !ok {
		return nil, fmt.Errorf("daycache: instrument view has no OR stats for or_minutes=%d", orMinutes)
	}
	exitMinute, err := parseHHMM(exitTime)
	if err != nil {
		return nil, fmt.Errorf("daycache: %w", err)
	}
	startMinute := loader.OREndMinuteOfDay(orMinutes)

	var caches []domain.DayCache
	for _, day := range view.TradingDays {
		or, ok := orStats[day]
		if !ok {
			continue // day failed Invariant I1 for this OR-minutes value
		}

		bars := view.DayBars[day]
		var highs, lows, closes []float64
		var volumes []int64
		var timestamps []time.Time
		for _, b := range bars {
			h, m, _ := b.Timestamp.Clock()
			minuteOfDay := h*60 + m
			if minuteOfDay < startMinute || minuteOfDay > exitMinute {
				continue
			}
			highs = append(highs, b.High)
			lows = append(lows, b.Low)
			closes = append(closes, b.Close)
			volumes = append(volumes, b.Volume)
			timestamps = append(timestamps, b.Timestamp)
		}
		if len(highs) == 0 {
			continue
		}

		cache := domain.DayCache{
			Day:        day,
			Highs:      highs,
			Lows:       lows,
			Closes:     closes,
			Volumes:    volumes,
			Timestamps: timestamps,
			OR:         or,

			FirstLongImmIdx:    -1,
			FirstShortImmIdx:   -1,
			FirstLongCloseIdx:  -1,
			FirstShortCloseIdx: -1,
			FirstLongVolIdx:    -1,
			FirstShortVolIdx:   -1,
		}

		for i := range highs {
			if cache.FirstLongImmIdx == -1 && highs[i] > or.High {
				cache.FirstLongImmIdx = i
			}
			if cache.FirstShortImmIdx == -1 && lows[i] < or.Low {
				cache.FirstShortImmIdx = i
			}
			if cache.FirstLongCloseIdx == -1 && closes[i] > or.High {
				cache.FirstLongCloseIdx = i
			}
			if cache.FirstShortCloseIdx == -1 && closes[i] < or.Low {
				cache.FirstShortCloseIdx = i
			}
			if cache.FirstLongVolIdx == -1 && or.AvgVol > 0 && closes[i] > or.High && float64(volumes[i]) > 1.5*or.AvgVol {
				cache.FirstLongVolIdx = i
			}
			if cache.FirstShortVolIdx == -1 && or.AvgVol > 0 && closes[i] < or.Low && float64(volumes[i]) > 1.5*or.AvgVol {
				cache.FirstShortVolIdx = i
			}
		}

		caches = append(caches, cache)
	}
	return caches, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid exit_time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid exit_time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid exit_time %q: %w", s, err)
	}
	return h*60 + m, nil
}
