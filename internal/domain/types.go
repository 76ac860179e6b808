// Package domain defines the shared data types for the ORB grid-search
// backtester: bars, strategy parameters, the precomputed per-instrument and
// per-day artifacts the simulation kernel consumes, and the trade and
// performance results it produces.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Bar is one minute's OHLCV sample for an instrument.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// The SessionOpen* and SessionClose* constants bound the regular trading
// session used to filter bars and compute opening ranges. Only bars with
// 09:15 <= time-of-day <= 15:29 and Volume > 0 participate in a simulation.
const (
	SessionOpenHour    = 9
	SessionOpenMinute  = 15
	SessionCloseHour   = 15
	SessionCloseMinute = 29
)

// StopLossType selects how the initial stop loss for a trade is computed.
type StopLossType string

const (
	StopLossFixed    StopLossType = "FIXED"
	StopLossTrailing StopLossType = "TRAILING"
	StopLossATR      StopLossType = "ATR_BASED"
)

// TradeDirection restricts which side(s) of the opening-range breakout may
// be entered.
type TradeDirection string

const (
	DirectionLongOnly  TradeDirection = "LONG_ONLY"
	DirectionShortOnly TradeDirection = "SHORT_ONLY"
	DirectionBoth      TradeDirection = "BOTH"
)

// EntryConfirmation selects the bar at which a breakout is considered
// confirmed for entry.
type EntryConfirmation string

const (
	ConfirmImmediate     EntryConfirmation = "IMMEDIATE"
	ConfirmCandleClose   EntryConfirmation = "CANDLE_CLOSE"
	ConfirmVolumeConfirm EntryConfirmation = "VOLUME_CONFIRM"
)

// Side is the realized direction of a Trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ExitReason tags why a trade was closed.
type ExitReason string

const (
	ExitTarget   ExitReason = "target"
	ExitStopLoss ExitReason = "stop_loss"
	ExitTimeExit ExitReason = "time_exit"
)

// Default constants used by StrategyParams when the caller does not
// override them.
const (
	DefaultTrailingStopPct = 0.5
	DefaultATRMultiplier   = 1.5
	DefaultATRPeriod       = 14
)

// StrategyParams is an immutable, hashable description of one ORB strategy
// configuration. Two StrategyParams values with identical fields always
// produce the same ParamID; see ParamID for the exact contract.
type StrategyParams struct {
	ORMinutes         int
	TargetMultiplier  float64
	StopLossType      StopLossType
	TradeDirection    TradeDirection
	ExitTime          string // "HH:MM", 24-hour local exchange time
	MaxORFilterPct    float64
	EntryConfirmation EntryConfirmation

	TrailingStopPct float64
	ATRMultiplier   float64
	ATRPeriod       int
}

// WithDefaults returns a copy of p with the constant fields set to their
// spec-mandated defaults if left at the zero value.
func (p StrategyParams) WithDefaults() StrategyParams {
	if p.TrailingStopPct == 0 {
		p.TrailingStopPct = DefaultTrailingStopPct
	}
	if p.ATRMultiplier == 0 {
		p.ATRMultiplier = DefaultATRMultiplier
	}
	if p.ATRPeriod == 0 {
		p.ATRPeriod = DefaultATRPeriod
	}
	return p
}

// ParamID returns the first 12 hex characters of the MD5 digest of a
// canonical pipe-joined encoding of p's fields, in declaration order. It is
// a pure function of StrategyParams: identical fields always produce an
// identical id (Invariant I6), and two StrategyParams differing on any
// contributing field collide with probability at most 2^-48.
func (p StrategyParams) ParamID() string {
	canonical := fmt.Sprintf(
		"%d|%s|%s|%s|%s|%s|%s|%s|%s|%d",
		p.ORMinutes,
		formatFloat(p.TargetMultiplier),
		p.StopLossType,
		p.TradeDirection,
		p.ExitTime,
		formatFloat(p.MaxORFilterPct),
		p.EntryConfirmation,
		formatFloat(p.TrailingStopPct),
		formatFloat(p.ATRMultiplier),
		p.ATRPeriod,
	)
	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])[:12]
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// OpeningRange holds the precomputed first-m-minutes statistics for one
// instrument/day/OR-window combination.
type OpeningRange struct {
	High   float64
	Low    float64
	AvgVol float64
	PctRange float64
}

// DayKey identifies one trading day for one instrument by its calendar date
// in the exchange's local timezone, formatted "2006-01-02".
type DayKey string

// InstrumentView is the build-once, read-only artifact produced by the Data
// Loader for one instrument: the raw bar sequence, the ordered trading days,
// and per-OR-window opening range statistics plus the daily ATR series.
type InstrumentView struct {
	Instrument string
	Bars       []Bar

	// TradingDays is ordered ascending by calendar date.
	TradingDays []DayKey

	// DayBars maps a trading day to its own slice holding the Bars that fall
	// on that calendar date within session hours, in timestamp order.
	DayBars map[DayKey][]Bar

	// OpeningRanges maps OR-minutes to a map of day -> OpeningRange. A day
	// missing from the inner map failed Invariant I1 (fewer than two bars in
	// the opening window) and is skipped for that OR-minutes value only.
	OpeningRanges map[int]map[DayKey]OpeningRange

	// ATR maps a trading day to its Wilder-smoothed 14-period daily ATR.
	ATR map[DayKey]float64

	// PriorClose maps a trading day to the previous trading day's daily
	// close, omitted for the first day.
	PriorClose map[DayKey]float64
}

// IsEmpty reports whether the view has no trading days, the "zero bars"
// terminal state of load_instrument (§4.C failure mode).
func (v *InstrumentView) IsEmpty() bool {
	return v == nil || len(v.TradingDays) == 0
}

// DayCache is the per-(instrument, OR-minutes, exit-time, day) reuse unit:
// dense parallel numeric arrays restricted to [or_end_time, exit_time], plus
// six precomputed first-occurrence indices. DayCaches are built once per
// (OR-minutes, exit-time) group and shared read-only across every
// StrategyParams in that group.
type DayCache struct {
	Day DayKey

	Highs      []float64
	Lows       []float64
	Closes     []float64
	Volumes    []int64
	Timestamps []time.Time

	OR OpeningRange

	FirstLongImmIdx   int
	FirstShortImmIdx  int
	FirstLongCloseIdx int
	FirstShortCloseIdx int
	FirstLongVolIdx   int
	FirstShortVolIdx  int
}

// Trade is a single simulated round-trip, produced by the Simulation Kernel
// and never mutated afterward.
type Trade struct {
	Instrument string
	Date       DayKey
	Direction  Side

	EntryTime  time.Time
	EntryPrice float64
	ExitTime   time.Time
	ExitPrice  float64
	Quantity   int64

	SLInitial float64
	SLFinal   float64
	Target    float64

	ORHigh float64
	ORLow  float64

	ExitReason ExitReason

	GrossPnL  float64
	Costs     float64
	NetPnL    float64
	RiskAmount float64
	RMultiple  float64
}

// PerformanceResult is the 22-metric reduction of a trade list, produced
// once by the Metrics Calculator.
type PerformanceResult struct {
	Count               int
	WinRate             float64
	GrossPnL            float64
	NetPnL              float64
	AvgWinner           float64
	AvgLoser            float64
	ProfitFactor        float64
	MaxDrawdown         float64
	MaxDrawdownPct      float64
	MaxConsecutiveLosses int
	SharpeRatio         float64
	SortinoRatio        float64
	Expectancy          float64
	AvgRMultiple        float64
	CalmarRatio         float64
	BestTrade           float64
	WorstTrade          float64
	AvgHoldingMinutes   float64
	CompositeScore      float64

	// The remaining three of the "22 scalar metrics" are carried as
	// convenience echoes rather than independent computations.
	Winners int
	Losers  int
	TotalCosts float64
}

// CompositeScoreSentinel is returned as CompositeScore for an empty trade
// list (Testable Property 10).
const CompositeScoreSentinel = -1e18

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Run is the durable, resumable unit of one grid-search execution.
type Run struct {
	RunID          int64
	CreatedAt      time.Time
	CompletedAt    time.Time
	Status         RunStatus
	ConfigSnapshot string // JSON
	TotalStocks    int
	TotalParamCombos int
	SimulationsTarget int
	CombosCompleted   int
	StocksCompleted   int
	ElapsedSeconds    float64
	Workers           int
	StoreTrades       bool
	StartDate         string
	EndDate           string
}

// InstrumentStatus is the lifecycle state of a per-(run, instrument)
// progress row.
type InstrumentStatus string

const (
	InstrumentPending    InstrumentStatus = "pending"
	InstrumentInProgress InstrumentStatus = "in_progress"
	InstrumentCompleted  InstrumentStatus = "completed"
)

// Progress is the per-(run_id, instrument) checkpoint row.
type Progress struct {
	RunID        int64
	Instrument   string
	Status       InstrumentStatus
	CombosTested int
	TotalTrades  int
	Elapsed      float64
	CompletedAt  time.Time
}

// MetricsRow is one persisted (run, param, instrument) result, the unit
// InsertMetricsBatch writes.
type MetricsRow struct {
	RunID      int64
	ParamID    string
	Instrument string
	Params     StrategyParams
	Metrics    PerformanceResult
}

// ParameterSensitivity reports how much one StrategyParams axis moves
// average net P&L across a run's results, holding nothing else fixed: it
// groups every MetricsRow by that axis's value and compares the best- and
// worst-performing groups. Higher Spread means the axis matters more.
type ParameterSensitivity struct {
	Parameter  string // human-readable axis name, e.g. "OR Duration (min)"
	Column     string // underlying StrategyParams field, e.g. "or_minutes"
	Variance   float64
	Spread     float64
	BestValue  string
	BestAvgPnL float64
	WorstValue string
	WorstAvgPnL float64
}
