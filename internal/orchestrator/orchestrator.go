// Package orchestrator implements the Run Orchestrator (component H): it
// owns the worker pool, the Result Store writes, and the resume/interrupt
// lifecycle described in spec.md §4.H. Workers never touch the Result
// Store directly; they return a payload per instrument and the
// orchestrator commits it.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jupitor/internal/barstore"
	"jupitor/internal/daycache"
	"jupitor/internal/domain"
	"jupitor/internal/kernel"
	"jupitor/internal/loader"
	"jupitor/internal/metrics"
	"jupitor/internal/paramgrid"
	"jupitor/internal/resultstore"
)

// Config bundles everything a Run needs beyond the parameter grid itself:
// the store handles, the instrument universe, the date range, and the
// cost/capital model fed to the simulation kernel.
type Config struct {
	BarStore    barstore.Store
	ResultStore *resultstore.Store
	Instruments []string
	StartDate   time.Time
	EndDate     time.Time
	Workers     int
	StoreTrades bool
	Kernel      kernel.Config
	Logger      *slog.Logger
}

// payload is what one instrument's task hands back to the orchestrator for
// commit; it never touches the Result Store itself.
type payload struct {
	instrument   string
	metricsRows  []domain.MetricsRow
	trades       map[string][]domain.Trade // keyed by param_id, only when StoreTrades
	combosTested int
	totalTrades  int
	elapsed      float64
	err          error
}

// Run executes steps 1-8 of spec.md §4.H: it generates (or reuses, on
// resume) the parameter grid, dispatches one task per not-yet-completed
// instrument to a bounded worker pool, and commits each completed payload.
// A payload is committed as separate writes (metrics, then trades, then the
// instrument's completed mark, then the run counters), not in one
// transaction; an instrument is marked completed only after its metrics and
// trades are stored. It returns the run_id and the terminal status.
func Run(ctx context.Context, cfg Config, params []domain.StrategyParams, resumeRunID int64) (int64, domain.RunStatus, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The nonce makes the stored backtest_runs.config_snapshot of two runs
	// over byte-identical Kernel config differ.
	snapshot := struct {
		Nonce  string       `json:"nonce"`
		Kernel kernel.Config `json:"kernel"`
	}{Nonce: uuid.NewString(), Kernel: cfg.Kernel}
	configSnapshot, err := json.Marshal(snapshot)
	if err != nil {
		return 0, "", &domain.ConfigError{Field: "kernel", Msg: err.Error()}
	}

	// Store writes ignore cancellation so an interrupted run can still be
	// recorded as interrupted.
	storeCtx := context.WithoutCancel(ctx)

	runID := resumeRunID
	completed := make(map[string]bool)
	combosCompletedAtResume := 0
	if runID == 0 {
		runID, err = cfg.ResultStore.CreateRun(storeCtx, string(configSnapshot), len(params), len(params)*len(cfg.Instruments),
			cfg.Instruments, cfg.Workers, cfg.StoreTrades, cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"))
		if err != nil {
			return 0, "", err
		}
	} else {
		completed, err = cfg.ResultStore.GetCompletedStocks(storeCtx, runID)
		if err != nil {
			return 0, "", err
		}
		run, err := cfg.ResultStore.GetRun(storeCtx, runID)
		if err != nil {
			return 0, "", err
		}
		combosCompletedAtResume = run.CombosCompleted
	}

	if err := cfg.ResultStore.InsertParamsBatch(storeCtx, params); err != nil {
		return 0, "", err
	}

	pending := make([]string, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		if !completed[inst] {
			pending = append(pending, inst)
		}
	}

	payloads := make(chan payload, cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, cfg.Workers)

	for _, inst := range pending {
		inst := inst
		if err := cfg.ResultStore.MarkStockInProgress(storeCtx, runID, inst); err != nil {
			return runID, "", err
		}
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			p := runInstrument(gctx, cfg, inst, params)
			select {
			case payloads <- p:
			case <-gctx.Done():
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(payloads)
	}()

	combosCompleted := combosCompletedAtResume
	stocksCompleted := len(completed)
	interrupted := false
	start := time.Now()

	for p := range payloads {
		select {
		case <-ctx.Done():
			interrupted = true
		default:
		}

		if p.err != nil {
			logger.Warn("instrument task failed, rolling back to pending", "instrument", p.instrument, "error", p.err)
			if err := cfg.ResultStore.MarkStockPending(storeCtx, runID, p.instrument); err != nil {
				return runID, "", err
			}
			continue
		}

		if err := cfg.ResultStore.InsertMetricsBatch(storeCtx, runID, p.metricsRows); err != nil {
			return runID, "", err
		}
		if cfg.StoreTrades {
			for paramID, trades := range p.trades {
				if err := cfg.ResultStore.InsertTradesBatch(storeCtx, runID, paramID, p.instrument, trades); err != nil {
					return runID, "", err
				}
			}
		}
		if err := cfg.ResultStore.MarkStockComplete(storeCtx, runID, p.instrument, p.combosTested, p.totalTrades, p.elapsed); err != nil {
			return runID, "", err
		}

		combosCompleted += p.combosTested
		stocksCompleted++
		if err := cfg.ResultStore.UpdateRunStatus(storeCtx, runID, domain.RunStatusRunning, combosCompleted, stocksCompleted, time.Since(start).Seconds()); err != nil {
			return runID, "", err
		}
	}

	if err := g.Wait(); err != nil {
		return runID, "", &domain.WorkerError{Err: err}
	}

	status := domain.RunStatusCompleted
	if interrupted || ctx.Err() != nil {
		status = domain.RunStatusInterrupted
	}
	if err := cfg.ResultStore.UpdateRunStatus(storeCtx, runID, status, combosCompleted, stocksCompleted, time.Since(start).Seconds()); err != nil {
		return runID, "", err
	}
	return runID, status, nil
}

// runInstrument implements step 6 of spec.md §4.H for one instrument: build
// the InstrumentView, partition params by (or_minutes, exit_time), build
// DayCaches once per partition, run the kernel per param, and reduce each
// trade list through Metrics.
func runInstrument(ctx context.Context, cfg Config, instrument string, params []domain.StrategyParams) payload {
	start := time.Now()
	orMinutesList := paramgrid.UniqueORMinutes(params)

	view, err := loader.Load(ctx, cfg.BarStore, instrument, cfg.StartDate, cfg.EndDate, orMinutesList)
	if err != nil {
		if _, ok := err.(*domain.DataError); ok {
			// DataError recovers locally: the instrument completes with zero
			// trades rather than rolling back to pending.
			return payload{instrument: instrument, elapsed: time.Since(start).Seconds()}
		}
		return payload{instrument: instrument, err: err}
	}
	if view.IsEmpty() {
		// Empty bar range is also a DataError recovery case.
		return payload{instrument: instrument, elapsed: time.Since(start).Seconds()}
	}

	groups := paramgrid.GroupByORAndExit(params)
	var rows []domain.MetricsRow
	trades := make(map[string][]domain.Trade)
	totalTrades := 0

	for key, groupParams := range groups {
		caches, err := daycache.Build(view, key.ORMinutes, key.ExitTime)
		if err != nil {
			return payload{instrument: instrument, err: &domain.WorkerError{Instrument: instrument, ORMinutes: key.ORMinutes, ExitTime: key.ExitTime, Err: err}}
		}

		for _, p := range groupParams {
			select {
			case <-ctx.Done():
				return payload{instrument: instrument, err: domain.ErrInterrupted}
			default:
			}

			tradeList := kernel.Run(view, p, caches, cfg.Kernel)
			result := metrics.Compute(tradeList, cfg.Kernel.Capital)
			rows = append(rows, domain.MetricsRow{
				ParamID:    p.ParamID(),
				Instrument: instrument,
				Params:     p,
				Metrics:    result,
			})
			totalTrades += len(tradeList)
			if cfg.StoreTrades {
				trades[p.ParamID()] = tradeList
			}
		}
	}

	return payload{
		instrument:   instrument,
		metricsRows:  rows,
		trades:       trades,
		combosTested: len(params),
		totalTrades:  totalTrades,
		elapsed:      time.Since(start).Seconds(),
	}
}
