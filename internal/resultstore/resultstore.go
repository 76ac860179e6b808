// Package resultstore implements the Result Store (component G): a durable,
// WAL-mode SQLite database holding runs, parameters, per-(param, instrument)
// metrics, optional per-trade rows, and per-instrument progress. Workers
// never write directly; the orchestrator is the sole writer, per spec.md §5.
package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"jupitor/internal/domain"
	"jupitor/internal/util"
)

// busyRetryAttempts and busyRetryBaseDelay bound the backoff applied to
// writes that race a concurrent resume process for the same database.
const (
	busyRetryAttempts  = 5
	busyRetryBaseDelay = 20 * time.Millisecond
)

// withBusyRetry retries fn with exponential backoff while it fails with a
// "database is locked"/SQLITE_BUSY error, the only transient failure mode a
// single-writer WAL database exhibits when a resume process races this one.
// Non-busy errors are also retried up to the attempt cap; since they are
// deterministic they simply fail identically on every attempt, at the cost
// of a few wasted milliseconds.
func withBusyRetry(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, busyRetryAttempts, busyRetryBaseDelay, fn)
}

// Store wraps a SQLite database implementing the five-table schema of
// spec.md §6.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dbPath in
// WAL journal mode and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // single-writer discipline; SQLite serializes regardless

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &domain.StoreError{Op: "migrate", Err: err}
	}
	return s, nil
}

// OpenReadOnly opens the database for read-only access, the mode the CLI's
// status, rank and sensitivity commands use.
func OpenReadOnly(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &domain.StoreError{Op: "open-readonly", Err: err}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			completed_at TEXT,
			status TEXT NOT NULL,
			config_snapshot TEXT NOT NULL,
			total_stocks INTEGER NOT NULL,
			total_param_combos INTEGER NOT NULL,
			total_simulations INTEGER NOT NULL,
			combos_completed INTEGER NOT NULL DEFAULT 0,
			stocks_completed INTEGER NOT NULL DEFAULT 0,
			elapsed_seconds REAL NOT NULL DEFAULT 0,
			workers INTEGER NOT NULL,
			store_trades INTEGER NOT NULL,
			start_date TEXT,
			end_date TEXT,
			notes TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_params (
			param_id TEXT PRIMARY KEY,
			param_json TEXT NOT NULL,
			or_minutes INTEGER NOT NULL,
			target_multiplier REAL NOT NULL,
			stop_loss_type TEXT NOT NULL,
			trade_direction TEXT NOT NULL,
			exit_time TEXT NOT NULL,
			max_or_filter_pct REAL NOT NULL,
			entry_confirmation TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES backtest_runs(run_id),
			param_id TEXT NOT NULL,
			stock_code TEXT NOT NULL,
			or_minutes INTEGER NOT NULL,
			target_multiplier REAL NOT NULL,
			stop_loss_type TEXT NOT NULL,
			trade_direction TEXT NOT NULL,
			exit_time TEXT NOT NULL,
			max_or_filter_pct REAL NOT NULL,
			entry_confirmation TEXT NOT NULL,
			count INTEGER NOT NULL,
			winners INTEGER NOT NULL,
			losers INTEGER NOT NULL,
			win_rate REAL NOT NULL,
			gross_pnl REAL NOT NULL,
			net_pnl REAL NOT NULL,
			avg_winner REAL NOT NULL,
			avg_loser REAL NOT NULL,
			profit_factor REAL NOT NULL,
			max_drawdown REAL NOT NULL,
			max_drawdown_pct REAL NOT NULL,
			max_consecutive_losses INTEGER NOT NULL,
			sharpe_ratio REAL NOT NULL,
			sortino_ratio REAL NOT NULL,
			expectancy REAL NOT NULL,
			avg_r_multiple REAL NOT NULL,
			calmar_ratio REAL NOT NULL,
			best_trade REAL NOT NULL,
			worst_trade REAL NOT NULL,
			avg_holding_minutes REAL NOT NULL,
			total_costs REAL NOT NULL,
			composite_score REAL NOT NULL,
			UNIQUE(run_id, param_id, stock_code)
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES backtest_runs(run_id),
			param_id TEXT NOT NULL,
			stock_code TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_time TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_time TEXT NOT NULL,
			exit_price REAL NOT NULL,
			quantity INTEGER NOT NULL,
			sl_initial REAL NOT NULL,
			sl_final REAL NOT NULL,
			target REAL NOT NULL,
			or_high REAL NOT NULL,
			or_low REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			gross_pnl REAL NOT NULL,
			costs REAL NOT NULL,
			net_pnl REAL NOT NULL,
			risk_amount REAL NOT NULL,
			r_multiple REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_progress (
			run_id INTEGER NOT NULL REFERENCES backtest_runs(run_id),
			stock_code TEXT NOT NULL,
			status TEXT NOT NULL,
			combos_tested INTEGER NOT NULL DEFAULT 0,
			total_trades_found INTEGER NOT NULL DEFAULT 0,
			elapsed_seconds REAL NOT NULL DEFAULT 0,
			completed_at TEXT,
			PRIMARY KEY (run_id, stock_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_metrics_run ON backtest_metrics(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id, param_id, stock_code)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("applying migration: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new backtest_runs row and a pending backtest_progress
// row for every instrument, returning the new run_id.
func (s *Store) CreateRun(ctx context.Context, configSnapshot string, totalCombos, totalSimulations int, instruments []string, workers int, storeTrades bool, startDate, endDate string) (int64, error) {
	var runID int64
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return &domain.StoreError{Op: "create-run:begin", Err: err}
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `INSERT INTO backtest_runs
			(created_at, status, config_snapshot, total_stocks, total_param_combos, total_simulations, workers, store_trades, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			time.Now().UTC().Format(time.RFC3339Nano), domain.RunStatusRunning, configSnapshot,
			len(instruments), totalCombos, totalSimulations, workers, boolToInt(storeTrades), startDate, endDate)
		if err != nil {
			return &domain.StoreError{Op: "create-run:insert", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return &domain.StoreError{Op: "create-run:lastid", Err: err}
		}

		for _, inst := range instruments {
			if _, err := tx.ExecContext(ctx, `INSERT INTO backtest_progress (run_id, stock_code, status) VALUES (?, ?, ?)`,
				id, inst, domain.InstrumentPending); err != nil {
				return &domain.StoreError{Op: "create-run:progress", Err: err}
			}
		}

		if err := tx.Commit(); err != nil {
			return &domain.StoreError{Op: "create-run:commit", Err: err}
		}
		runID = id
		return nil
	})
	return runID, err
}

// InsertParamsBatch upserts a batch of StrategyParams keyed by param_id.
func (s *Store) InsertParamsBatch(ctx context.Context, params []domain.StrategyParams) error {
	if len(params) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreError{Op: "insert-params:begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_params
		(param_id, param_json, or_minutes, target_multiplier, stop_loss_type, trade_direction, exit_time, max_or_filter_pct, entry_confirmation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(param_id) DO NOTHING`)
	if err != nil {
		return &domain.StoreError{Op: "insert-params:prepare", Err: err}
	}
	defer stmt.Close()

	for _, p := range params {
		j, err := json.Marshal(p)
		if err != nil {
			return &domain.StoreError{Op: "insert-params:marshal", Err: err}
		}
		if _, err := stmt.ExecContext(ctx, p.ParamID(), string(j), p.ORMinutes, p.TargetMultiplier,
			p.StopLossType, p.TradeDirection, p.ExitTime, p.MaxORFilterPct, p.EntryConfirmation); err != nil {
			return &domain.StoreError{Op: "insert-params:exec", Err: err}
		}
	}
	return tx.Commit()
}

// InsertMetricsBatch inserts metrics rows for one run, insert-or-ignore on
// the natural key (run_id, param_id, stock_code).
func (s *Store) InsertMetricsBatch(ctx context.Context, runID int64, rows []domain.MetricsRow) error {
	if len(rows) == 0 {
		return nil
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return &domain.StoreError{Op: "insert-metrics:begin", Err: err}
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_metrics
			(run_id, param_id, stock_code, or_minutes, target_multiplier, stop_loss_type, trade_direction, exit_time, max_or_filter_pct, entry_confirmation,
			 count, winners, losers, win_rate, gross_pnl, net_pnl, avg_winner, avg_loser, profit_factor, max_drawdown, max_drawdown_pct,
			 max_consecutive_losses, sharpe_ratio, sortino_ratio, expectancy, avg_r_multiple, calmar_ratio, best_trade, worst_trade,
			 avg_holding_minutes, total_costs, composite_score)
			VALUES (?,?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?, ?,?,?)
			ON CONFLICT(run_id, param_id, stock_code) DO NOTHING`)
		if err != nil {
			return &domain.StoreError{Op: "insert-metrics:prepare", Err: err}
		}
		defer stmt.Close()

		for _, r := range rows {
			p, m := r.Params, r.Metrics
			if _, err := stmt.ExecContext(ctx, runID, r.ParamID, r.Instrument,
				p.ORMinutes, p.TargetMultiplier, p.StopLossType, p.TradeDirection, p.ExitTime, p.MaxORFilterPct, p.EntryConfirmation,
				m.Count, m.Winners, m.Losers, m.WinRate, m.GrossPnL, m.NetPnL, m.AvgWinner, m.AvgLoser, m.ProfitFactor, m.MaxDrawdown, m.MaxDrawdownPct,
				m.MaxConsecutiveLosses, m.SharpeRatio, m.SortinoRatio, m.Expectancy, m.AvgRMultiple, m.CalmarRatio, m.BestTrade, m.WorstTrade,
				m.AvgHoldingMinutes, m.TotalCosts, m.CompositeScore); err != nil {
				return &domain.StoreError{Op: "insert-metrics:exec", Err: err}
			}
		}
		return tx.Commit()
	})
}

// InsertTradesBatch appends trade rows for one (run, param, instrument).
// Append-only: never deduplicated, never updated.
func (s *Store) InsertTradesBatch(ctx context.Context, runID int64, paramID, instrument string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return &domain.StoreError{Op: "insert-trades:begin", Err: err}
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_trades
			(run_id, param_id, stock_code, trade_date, direction, entry_time, entry_price, exit_time, exit_price, quantity,
			 sl_initial, sl_final, target, or_high, or_low, exit_reason, gross_pnl, costs, net_pnl, risk_amount, r_multiple)
			VALUES (?,?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return &domain.StoreError{Op: "insert-trades:prepare", Err: err}
		}
		defer stmt.Close()

		for _, tr := range trades {
			if _, err := stmt.ExecContext(ctx, runID, paramID, instrument, string(tr.Date), tr.Direction,
				tr.EntryTime.Format(time.RFC3339), tr.EntryPrice, tr.ExitTime.Format(time.RFC3339), tr.ExitPrice, tr.Quantity,
				tr.SLInitial, tr.SLFinal, tr.Target, tr.ORHigh, tr.ORLow, tr.ExitReason, tr.GrossPnL, tr.Costs, tr.NetPnL,
				tr.RiskAmount, tr.RMultiple); err != nil {
				return &domain.StoreError{Op: "insert-trades:exec", Err: err}
			}
		}
		return tx.Commit()
	})
}

// MarkStockInProgress transitions an instrument's progress row to in_progress.
func (s *Store) MarkStockInProgress(ctx context.Context, runID int64, instrument string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE backtest_progress SET status = ? WHERE run_id = ? AND stock_code = ?`,
		domain.InstrumentInProgress, runID, instrument)
	if err != nil {
		return &domain.StoreError{Op: "mark-in-progress", Err: err}
	}
	return nil
}

// MarkStockComplete transitions an instrument's progress row to completed
// and records its final combos/trades counters, atomically with the
// caller's transaction semantics (one statement, always consistent).
func (s *Store) MarkStockComplete(ctx context.Context, runID int64, instrument string, combosTested, totalTrades int, elapsed float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE backtest_progress
		SET status = ?, combos_tested = ?, total_trades_found = ?, elapsed_seconds = ?, completed_at = ?
		WHERE run_id = ? AND stock_code = ?`,
		domain.InstrumentCompleted, combosTested, totalTrades, elapsed, time.Now().UTC().Format(time.RFC3339Nano), runID, instrument)
	if err != nil {
		return &domain.StoreError{Op: "mark-complete", Err: err}
	}
	return nil
}

// MarkStockPending rolls an instrument's progress back to pending, the
// WorkerError recovery path of spec.md §7.
func (s *Store) MarkStockPending(ctx context.Context, runID int64, instrument string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE backtest_progress SET status = ? WHERE run_id = ? AND stock_code = ?`,
		domain.InstrumentPending, runID, instrument)
	if err != nil {
		return &domain.StoreError{Op: "mark-pending", Err: err}
	}
	return nil
}

// GetCompletedStocks returns the instruments already marked complete for a run.
func (s *Store) GetCompletedStocks(ctx context.Context, runID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stock_code FROM backtest_progress WHERE run_id = ? AND status = ?`,
		runID, domain.InstrumentCompleted)
	if err != nil {
		return nil, &domain.StoreError{Op: "get-completed", Err: err}
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, &domain.StoreError{Op: "get-completed:scan", Err: err}
		}
		out[code] = true
	}
	return out, rows.Err()
}

// UpdateRunStatus updates the run's status and progress counters. When
// status is completed or interrupted, completed_at is stamped.
func (s *Store) UpdateRunStatus(ctx context.Context, runID int64, status domain.RunStatus, combosCompleted, stocksCompleted int, elapsed float64) error {
	var completedAt sql.NullString
	if status == domain.RunStatusCompleted || status == domain.RunStatusInterrupted {
		completedAt = sql.NullString{String: time.Now().UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE backtest_runs
		SET status = ?, combos_completed = ?, stocks_completed = ?, elapsed_seconds = ?, completed_at = COALESCE(?, completed_at)
		WHERE run_id = ?`,
		status, combosCompleted, stocksCompleted, elapsed, completedAt, runID)
	if err != nil {
		return &domain.StoreError{Op: "update-run-status", Err: err}
	}
	return nil
}

// GetRun returns a run's row for status reporting.
func (s *Store) GetRun(ctx context.Context, runID int64) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, created_at, completed_at, status, config_snapshot,
		total_stocks, total_param_combos, total_simulations, combos_completed, stocks_completed, elapsed_seconds,
		workers, store_trades, COALESCE(start_date,''), COALESCE(end_date,'') FROM backtest_runs WHERE run_id = ?`, runID)

	var r domain.Run
	var createdAt, completedAt sql.NullString
	var storeTrades int
	if err := row.Scan(&r.RunID, &createdAt, &completedAt, &r.Status, &r.ConfigSnapshot,
		&r.TotalStocks, &r.TotalParamCombos, &r.SimulationsTarget, &r.CombosCompleted, &r.StocksCompleted, &r.ElapsedSeconds,
		&r.Workers, &storeTrades, &r.StartDate, &r.EndDate); err != nil {
		return nil, &domain.StoreError{Op: "get-run", Err: err}
	}
	r.StoreTrades = storeTrades != 0
	if createdAt.Valid {
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt.String)
	}
	if completedAt.Valid {
		r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
	}
	return &r, nil
}

// GetLatestRunID returns the run_id of the most recently created run, or 0
// if no run exists.
func (s *Store) GetLatestRunID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(run_id) FROM backtest_runs`).Scan(&id)
	if err != nil {
		return 0, &domain.StoreError{Op: "get-latest-run", Err: err}
	}
	return id.Int64, nil
}

// GetLatestUnfinishedRunID returns the most recent run not in a terminal
// "completed" state, for `resume` without an explicit --run-id.
func (s *Store) GetLatestUnfinishedRunID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(run_id) FROM backtest_runs WHERE status != ?`, domain.RunStatusCompleted).Scan(&id)
	if err != nil {
		return 0, &domain.StoreError{Op: "get-latest-unfinished-run", Err: err}
	}
	return id.Int64, nil
}

// GetProgress returns every per-instrument progress row for a run, the data
// behind the `status` CLI command.
func (s *Store) GetProgress(ctx context.Context, runID int64) ([]domain.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, stock_code, status, combos_tested, total_trades_found, elapsed_seconds, completed_at
		FROM backtest_progress WHERE run_id = ? ORDER BY stock_code`, runID)
	if err != nil {
		return nil, &domain.StoreError{Op: "get-progress", Err: err}
	}
	defer rows.Close()

	var out []domain.Progress
	for rows.Next() {
		var p domain.Progress
		var completedAt sql.NullString
		if err := rows.Scan(&p.RunID, &p.Instrument, &p.Status, &p.CombosTested, &p.TotalTrades, &p.Elapsed, &completedAt); err != nil {
			return nil, &domain.StoreError{Op: "get-progress:scan", Err: err}
		}
		if completedAt.Valid {
			p.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
