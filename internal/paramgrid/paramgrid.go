// Package paramgrid enumerates the Cartesian product of ORB strategy
// parameters (component A of the grid-search backtester). Iteration order is
// fixed so that two runs over the same configuration produce the same list
// in the same order.
package paramgrid

import (
	"sort"

	"jupitor/internal/domain"
)

// Axes holds the candidate value sets for each StrategyParams field, in the
// declaration order used throughout this package (or_minutes,
// target_multiplier, stop_loss_type, trade_direction, exit_time,
// max_or_filter_pct, entry_confirmation).
type Axes struct {
	ORMinutes         []int
	TargetMultiplier  []float64
	StopLossType      []domain.StopLossType
	TradeDirection    []domain.TradeDirection
	ExitTime          []string
	MaxORFilterPct    []float64
	EntryConfirmation []domain.EntryConfirmation
}

// DefaultAxes returns the full-mode value sets. Their product is on the
// order of 10,000-20,000 combinations, per spec.md §4.A.
func DefaultAxes() Axes {
	return Axes{
		ORMinutes:        []int{5, 10, 15, 20, 30, 45, 60},
		TargetMultiplier: []float64{0, 1, 1.5, 2, 3},
		StopLossType: []domain.StopLossType{
			domain.StopLossFixed, domain.StopLossTrailing, domain.StopLossATR,
		},
		TradeDirection: []domain.TradeDirection{
			domain.DirectionLongOnly, domain.DirectionShortOnly, domain.DirectionBoth,
		},
		ExitTime:       []string{"14:30", "14:45", "15:00", "15:15"},
		MaxORFilterPct: []float64{0, 0.5, 1.0, 1.5},
		EntryConfirmation: []domain.EntryConfirmation{
			domain.ConfirmImmediate, domain.ConfirmCandleClose, domain.ConfirmVolumeConfirm,
		},
	}
}

// Count returns the size of the Cartesian product of a without
// materializing it.
func (a Axes) Count() int {
	n := len(a.ORMinutes) * len(a.TargetMultiplier) * len(a.StopLossType) *
		len(a.TradeDirection) * len(a.ExitTime) * len(a.MaxORFilterPct) * len(a.EntryConfirmation)
	return n
}

// Generate materializes the full Cartesian product of a as StrategyParams,
// axes iterated in declaration order so that identical configurations yield
// identical, identically-ordered lists.
func (a Axes) Generate() []domain.StrategyParams {
	out := make([]domain.StrategyParams, 0, a.Count())
	for _, orMin := range a.ORMinutes {
		for _, tgt := range a.TargetMultiplier {
			for _, sl := range a.StopLossType {
				for _, dir := range a.TradeDirection {
					for _, et := range a.ExitTime {
						for _, orFilter := range a.MaxORFilterPct {
							for _, conf := range a.EntryConfirmation {
								out = append(out, domain.StrategyParams{
									ORMinutes:         orMin,
									TargetMultiplier:  tgt,
									StopLossType:      sl,
									TradeDirection:    dir,
									ExitTime:          et,
									MaxORFilterPct:    orFilter,
									EntryConfirmation: conf,
								}.WithDefaults())
							}
						}
					}
				}
			}
		}
	}
	return out
}

// Quick returns a hand-picked ~4-combo smoke set for fast iteration.
func Quick() []domain.StrategyParams {
	base := []domain.StrategyParams{
		{
			ORMinutes: 15, TargetMultiplier: 2, StopLossType: domain.StopLossFixed,
			TradeDirection: domain.DirectionBoth, ExitTime: "15:15",
			MaxORFilterPct: 0, EntryConfirmation: domain.ConfirmImmediate,
		},
		{
			ORMinutes: 15, TargetMultiplier: 0, StopLossType: domain.StopLossTrailing,
			TradeDirection: domain.DirectionBoth, ExitTime: "15:15",
			MaxORFilterPct: 0, EntryConfirmation: domain.ConfirmCandleClose,
		},
		{
			ORMinutes: 30, TargetMultiplier: 1.5, StopLossType: domain.StopLossATR,
			TradeDirection: domain.DirectionLongOnly, ExitTime: "15:00",
			MaxORFilterPct: 1.0, EntryConfirmation: domain.ConfirmVolumeConfirm,
		},
		{
			ORMinutes: 5, TargetMultiplier: 2, StopLossType: domain.StopLossFixed,
			TradeDirection: domain.DirectionShortOnly, ExitTime: "14:30",
			MaxORFilterPct: 0.5, EntryConfirmation: domain.ConfirmImmediate,
		},
	}
	out := make([]domain.StrategyParams, len(base))
	for i, p := range base {
		out[i] = p.WithDefaults()
	}
	return out
}

// Filter pins a subset of axes to specific values; axes left nil fall back
// to DefaultAxes. Values that are not among the enum's valid members are a
// usage error, reported by FromFilter as a *domain.ConfigError — no
// implicit coercion.
type Filter struct {
	ORMinutes         []int
	TargetMultiplier  []float64
	StopLossType      []domain.StopLossType
	TradeDirection    []domain.TradeDirection
	ExitTime          []string
	MaxORFilterPct    []float64
	EntryConfirmation []domain.EntryConfirmation
}

var validStopLossTypes = map[domain.StopLossType]bool{
	domain.StopLossFixed: true, domain.StopLossTrailing: true, domain.StopLossATR: true,
}

var validDirections = map[domain.TradeDirection]bool{
	domain.DirectionLongOnly: true, domain.DirectionShortOnly: true, domain.DirectionBoth: true,
}

var validConfirmations = map[domain.EntryConfirmation]bool{
	domain.ConfirmImmediate: true, domain.ConfirmCandleClose: true, domain.ConfirmVolumeConfirm: true,
}

// FromFilter builds an Axes by overlaying f on top of DefaultAxes, rejecting
// any enum value not among the type's valid members.
func FromFilter(f Filter) (Axes, error) {
	axes := DefaultAxes()

	if len(f.ORMinutes) > 0 {
		axes.ORMinutes = f.ORMinutes
	}
	if len(f.TargetMultiplier) > 0 {
		axes.TargetMultiplier = f.TargetMultiplier
	}
	if len(f.StopLossType) > 0 {
		for _, v := range f.StopLossType {
			if !validStopLossTypes[v] {
				return Axes{}, &domain.ConfigError{Field: "stop_loss_type", Msg: "unknown value: " + string(v)}
			}
		}
		axes.StopLossType = f.StopLossType
	}
	if len(f.TradeDirection) > 0 {
		for _, v := range f.TradeDirection {
			if !validDirections[v] {
				return Axes{}, &domain.ConfigError{Field: "trade_direction", Msg: "unknown value: " + string(v)}
			}
		}
		axes.TradeDirection = f.TradeDirection
	}
	if len(f.ExitTime) > 0 {
		axes.ExitTime = f.ExitTime
	}
	if len(f.MaxORFilterPct) > 0 {
		axes.MaxORFilterPct = f.MaxORFilterPct
	}
	if len(f.EntryConfirmation) > 0 {
		for _, v := range f.EntryConfirmation {
			if !validConfirmations[v] {
				return Axes{}, &domain.ConfigError{Field: "entry_confirmation", Msg: "unknown value: " + string(v)}
			}
		}
		axes.EntryConfirmation = f.EntryConfirmation
	}

	return axes, nil
}

// GroupKey identifies a (or_minutes, exit_time) partition that shares
// DayCaches across every StrategyParams within it.
type GroupKey struct {
	ORMinutes int
	ExitTime  string
}

// GroupByORAndExit partitions params by (or_minutes, exit_time) so the
// orchestrator can build DayCaches once per partition (component D) and
// reuse them across every parameter set sharing that partition.
func GroupByORAndExit(params []domain.StrategyParams) map[GroupKey][]domain.StrategyParams {
	groups := make(map[GroupKey][]domain.StrategyParams)
	for _, p := range params {
		key := GroupKey{ORMinutes: p.ORMinutes, ExitTime: p.ExitTime}
		groups[key] = append(groups[key], p)
	}
	return groups
}

// UniqueORMinutes returns the sorted, deduplicated set of or_minutes values
// present in params.
func UniqueORMinutes(params []domain.StrategyParams) []int {
	seen := make(map[int]bool)
	var out []int
	for _, p := range params {
		if !seen[p.ORMinutes] {
			seen[p.ORMinutes] = true
			out = append(out, p.ORMinutes)
		}
	}
	sort.Ints(out)
	return out
}
