package barstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"jupitor/internal/domain"
)

func TestParquetStoreBarPath(t *testing.T) {
	ps := NewParquetStore("/data")
	got := ps.barPath("nifty50", 2024)
	want := filepath.Join("/data", "bars", "NIFTY50", "2024.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Timestamp: mkTime(2024, 1, 2, 9, 20), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000},
		{Timestamp: mkTime(2024, 1, 2, 9, 21), Open: 100.5, High: 102, Low: 100, Close: 101.5, Volume: 1200},
		// Outside session hours — must be filtered out on read.
		{Timestamp: mkTime(2024, 1, 2, 8, 0), Open: 99, High: 99, Low: 99, Close: 99, Volume: 500},
		// Zero volume — must be filtered out on read.
		{Timestamp: mkTime(2024, 1, 2, 9, 25), Open: 101, High: 101, Low: 101, Close: 101, Volume: 0},
	}
	if err := ps.WriteBars(ctx, "RELIANCE", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := mkTime(2024, 1, 1, 0, 0)
	end := mkTime(2024, 12, 31, 0, 0)
	got, err := ps.ReadBars(ctx, "RELIANCE", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2 (session + volume filtered)", len(got))
	}
	if got[0].Close != 100.5 || got[1].Close != 101.5 {
		t.Errorf("unexpected bars: %+v", got)
	}
}

func TestParquetStoreMergePrefersIncoming(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	ts := mkTime(2024, 3, 1, 9, 20)
	if err := ps.WriteBars(ctx, "TCS", []domain.Bar{{Timestamp: ts, Open: 100, High: 105, Low: 99, Close: 103, Volume: 100}}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Same (instrument, timestamp) written again — should replace, not duplicate.
	if err := ps.WriteBars(ctx, "TCS", []domain.Bar{{Timestamp: ts, Open: 100, High: 110, Low: 98, Close: 108, Volume: 150}}); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "TCS", mkTime(2024, 1, 1, 0, 0), mkTime(2024, 12, 31, 0, 0))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadBars returned %d bars, want exactly 1 after merge", len(got))
	}
	if got[0].Close != 108 {
		t.Errorf("merged bar Close = %v, want 108 (incoming wins)", got[0].Close)
	}
}

func TestParquetStoreListInstruments(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	if err := ps.WriteBars(ctx, "TCS", []domain.Bar{{Timestamp: mkTime(2024, 1, 2, 9, 20), Close: 1, Volume: 1}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	if err := ps.WriteBars(ctx, "INFY", []domain.Bar{{Timestamp: mkTime(2024, 1, 2, 9, 20), Close: 1, Volume: 1}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	instruments, err := ps.ListInstruments(ctx)
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(instruments) != 2 || instruments[0] != "INFY" || instruments[1] != "TCS" {
		t.Errorf("ListInstruments() = %v, want sorted [INFY TCS]", instruments)
	}
}

func TestInSession(t *testing.T) {
	cases := []struct {
		h, m int
		want bool
	}{
		{9, 14, false},
		{9, 15, true},
		{12, 0, true},
		{15, 29, true},
		{15, 30, false},
	}
	for _, c := range cases {
		ts := mkTime(2024, 1, 2, c.h, c.m)
		if got := InSession(ts); got != c.want {
			t.Errorf("InSession(%02d:%02d) = %v, want %v", c.h, c.m, got, c.want)
		}
	}
}

func mkTime(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParquetStoreNoSymbolsWhenDirMissing(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(filepath.Join(dir, "does-not-exist"))
	instruments, err := ps.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(instruments) != 0 {
		t.Errorf("expected no instruments for a missing dir, got %v", instruments)
	}
}
