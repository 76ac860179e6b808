// Package barstore implements the read side of the Bar Store (component B):
// a durable, key-addressed store of 1-minute OHLCV bars keyed by
// (instrument, timestamp), backed by Parquet files on disk.
package barstore

import (
	"context"
	"sort"
	"time"

	"jupitor/internal/domain"
)

// Store is the contract the Data Loader consumes: given an instrument and an
// optional date range, return Bars sorted by timestamp ascending, filtered
// to session hours (09:15-15:29 local exchange time) and strictly positive
// volume. Reads are idempotent and never observe a partial in-flight write.
type Store interface {
	// ReadBars returns session-filtered bars for instrument within
	// [start, end]. A zero start or end means "no lower/upper bound".
	ReadBars(ctx context.Context, instrument string, start, end time.Time) ([]domain.Bar, error)

	// WriteBars persists a batch of bars, merging on (instrument, timestamp)
	// with later writes winning — duplicates are rejected by construction,
	// never by surfacing a write-time error to the caller.
	WriteBars(ctx context.Context, instrument string, bars []domain.Bar) error

	// ListInstruments returns every instrument with at least one stored bar.
	ListInstruments(ctx context.Context) ([]string, error)
}

// InSession reports whether t's time-of-day falls within the regular
// trading session (09:15 through 15:29 inclusive, local exchange time).
func InSession(t time.Time) bool {
	h, m, _ := t.Clock()
	minutesOfDay := h*60 + m
	open := domain.SessionOpenHour*60 + domain.SessionOpenMinute
	close_ := domain.SessionCloseHour*60 + domain.SessionCloseMinute
	return minutesOfDay >= open && minutesOfDay <= close_
}

// filterSession drops bars outside session hours or with non-positive
// volume, per spec.md §3's Bar definition, and returns the rest sorted by
// timestamp ascending.
func filterSession(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Volume > 0 && InSession(b.Timestamp) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
