package resultstore

import (
	"context"
	"database/sql"

	"jupitor/internal/domain"
)

// allowedMetricColumns is the allowlist of metric names that may be used to
// order a ranking query. No string outside this set ever reaches a SQL
// ORDER BY clause.
var allowedMetricColumns = map[string]bool{
	"composite_score":  true,
	"net_pnl":          true,
	"sharpe_ratio":     true,
	"sortino_ratio":    true,
	"profit_factor":    true,
	"win_rate":         true,
	"calmar_ratio":     true,
	"expectancy":       true,
	"avg_r_multiple":   true,
	"max_drawdown_pct": true,
}

// ValidMetric reports whether name is in the ranking allowlist.
func ValidMetric(name string) bool {
	return allowedMetricColumns[name]
}

const metricsRowColumns = `run_id, param_id, stock_code, or_minutes, target_multiplier, stop_loss_type, trade_direction,
	exit_time, max_or_filter_pct, entry_confirmation, count, winners, losers, win_rate, gross_pnl, net_pnl, avg_winner,
	avg_loser, profit_factor, max_drawdown, max_drawdown_pct, max_consecutive_losses, sharpe_ratio, sortino_ratio,
	expectancy, avg_r_multiple, calmar_ratio, best_trade, worst_trade, avg_holding_minutes, total_costs, composite_score`

func scanMetricsRow(rows *sql.Rows) (domain.MetricsRow, error) {
	var r domain.MetricsRow
	p, m := &r.Params, &r.Metrics
	err := rows.Scan(&r.RunID, &r.ParamID, &r.Instrument, &p.ORMinutes, &p.TargetMultiplier, &p.StopLossType, &p.TradeDirection,
		&p.ExitTime, &p.MaxORFilterPct, &p.EntryConfirmation, &m.Count, &m.Winners, &m.Losers, &m.WinRate, &m.GrossPnL, &m.NetPnL,
		&m.AvgWinner, &m.AvgLoser, &m.ProfitFactor, &m.MaxDrawdown, &m.MaxDrawdownPct, &m.MaxConsecutiveLosses, &m.SharpeRatio,
		&m.SortinoRatio, &m.Expectancy, &m.AvgRMultiple, &m.CalmarRatio, &m.BestTrade, &m.WorstTrade, &m.AvgHoldingMinutes,
		&m.TotalCosts, &m.CompositeScore)
	return r, err
}

// GetTopStrategies returns the top-`limit` (param, instrument) rows for a
// run ranked by metric, across all instruments.
func (s *Store) GetTopStrategies(ctx context.Context, runID int64, metric string, limit int) ([]domain.MetricsRow, error) {
	if !ValidMetric(metric) {
		return nil, &domain.ConfigError{Field: "metric", Msg: "unknown ranking metric: " + metric}
	}
	query := `SELECT ` + metricsRowColumns + ` FROM backtest_metrics WHERE run_id = ? ORDER BY ` + metric + ` DESC LIMIT ?`
	return s.queryMetricsRows(ctx, query, runID, limit)
}

// GetTopStocks returns, for each instrument, its single best row by metric
// (the best parameter set found for that instrument), ranked across
// instruments by that same best value.
func (s *Store) GetTopStocks(ctx context.Context, runID int64, metric string, limit int) ([]domain.MetricsRow, error) {
	if !ValidMetric(metric) {
		return nil, &domain.ConfigError{Field: "metric", Msg: "unknown ranking metric: " + metric}
	}
	query := `SELECT ` + metricsRowColumns + ` FROM backtest_metrics m1
		WHERE run_id = ? AND ` + metric + ` = (
			SELECT MAX(m2.` + metric + `) FROM backtest_metrics m2 WHERE m2.run_id = m1.run_id AND m2.stock_code = m1.stock_code
		)
		GROUP BY stock_code
		ORDER BY ` + metric + ` DESC LIMIT ?`
	return s.queryMetricsRows(ctx, query, runID, limit)
}

// GetBestPairs is an alias over GetTopStrategies naming the
// (param_id, instrument) pair ranking explicitly, per spec.md §4.G.
func (s *Store) GetBestPairs(ctx context.Context, runID int64, metric string, limit int) ([]domain.MetricsRow, error) {
	return s.GetTopStrategies(ctx, runID, metric, limit)
}

// GetAllMetrics returns every metrics row for a run, ordered by metric
// descending, for a `--report` collaborator to reduce over.
func (s *Store) GetAllMetrics(ctx context.Context, runID int64, metric string) ([]domain.MetricsRow, error) {
	if !ValidMetric(metric) {
		return nil, &domain.ConfigError{Field: "metric", Msg: "unknown ranking metric: " + metric}
	}
	query := `SELECT ` + metricsRowColumns + ` FROM backtest_metrics WHERE run_id = ? ORDER BY ` + metric + ` DESC`
	return s.queryMetricsRows(ctx, query, runID)
}

func (s *Store) queryMetricsRows(ctx context.Context, query string, args ...interface{}) ([]domain.MetricsRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "ranking-query", Err: err}
	}
	defer rows.Close()

	var out []domain.MetricsRow
	for rows.Next() {
		r, err := scanMetricsRow(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "ranking-query:scan", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
