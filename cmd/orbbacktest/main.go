// Command orbbacktest runs the opening-range-breakout grid-search
// backtester: it loads bars from the Bar Store, expands a parameter grid,
// dispatches one simulation task per instrument to a bounded worker pool,
// and persists metrics to the Result Store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"jupitor/internal/barstore"
	"jupitor/internal/config"
	"jupitor/internal/domain"
	"jupitor/internal/kernel"
	"jupitor/internal/orchestrator"
	"jupitor/internal/paramgrid"
	"jupitor/internal/resultstore"
	"jupitor/internal/sensitivity"
	"jupitor/internal/util"
)

const dateLayout = "2006-01-02"

func main() {
	flag.Usage = printUsage

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "resume":
		err = resumeCmd(os.Args[2:])
	case "status":
		err = statusCmd(os.Args[2:])
	case "rank":
		err = rankCmd(os.Args[2:])
	case "sensitivity":
		err = sensitivityCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "orbbacktest: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: orbbacktest <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run       Start a new grid-search run\n")
	fmt.Fprintf(os.Stderr, "  resume    Resume an interrupted run (by id, or the latest unfinished run)\n")
	fmt.Fprintf(os.Stderr, "  status    Print progress for a run\n")
	fmt.Fprintf(os.Stderr, "  rank      Print the top strategies or stocks for a run\n")
	fmt.Fprintf(os.Stderr, "  sensitivity  Print which parameter axes move net P&L the most\n")
	fmt.Fprintf(os.Stderr, "\n")
}

// gridFlags are the command-line axis overrides shared by run and resume.
type gridFlags struct {
	quick       bool
	workers     int
	stocks      string
	orMinutes   string
	targets     string
	slTypes     string
	directions  string
	exitTimes   string
	start, end  string
	trades      bool
	configPath  string
}

func bindGridFlags(fs *flag.FlagSet) *gridFlags {
	g := &gridFlags{}
	fs.BoolVar(&g.quick, "quick", false, "use the 4-combination smoke-test grid instead of the full axes")
	fs.IntVar(&g.workers, "workers", 0, "worker pool size (0 uses the config default)")
	fs.StringVar(&g.stocks, "stocks", "", "comma-separated instrument list (required)")
	fs.StringVar(&g.orMinutes, "or-minutes", "", "comma-separated opening-range minutes, e.g. 5,15,30")
	fs.StringVar(&g.targets, "targets", "", "comma-separated target multipliers, e.g. 1,1.5,2")
	fs.StringVar(&g.slTypes, "sl-types", "", "comma-separated stop-loss types: FIXED,TRAILING,ATR_BASED")
	fs.StringVar(&g.directions, "directions", "", "comma-separated trade directions: LONG_ONLY,SHORT_ONLY,BOTH")
	fs.StringVar(&g.exitTimes, "exit-times", "", "comma-separated exit times, e.g. 14:30,15:00")
	fs.StringVar(&g.start, "start", "", "start date YYYY-MM-DD (required)")
	fs.StringVar(&g.end, "end", "", "end date YYYY-MM-DD (required)")
	fs.BoolVar(&g.trades, "trades", false, "persist individual trades, not just aggregated metrics")
	fs.StringVar(&g.configPath, "config", "", "path to a YAML config file")
	return g
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	g := bindGridFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return execute(g, 0)
}

func resumeCmd(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	g := bindGridFlags(fs)
	runID := fs.Int64("run-id", 0, "run id to resume (defaults to the latest unfinished run)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == 0 {
		path, err := resolveSQLitePath("", g.configPath)
		if err != nil {
			return err
		}
		store, err := resultstore.OpenReadOnly(path)
		if err != nil {
			return fmt.Errorf("opening result store: %w", err)
		}
		*runID, err = store.GetLatestUnfinishedRunID(context.Background())
		store.Close()
		if err != nil {
			return err
		}
		if *runID == 0 {
			return fmt.Errorf("no unfinished run to resume")
		}
	}
	return execute(g, *runID)
}

func execute(g *gridFlags, resumeRunID int64) error {
	if g.stocks == "" {
		return fmt.Errorf("-stocks is required")
	}
	if g.start == "" || g.end == "" {
		return fmt.Errorf("-start and -end are required")
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	startDate, err := time.Parse(dateLayout, g.start)
	if err != nil {
		return &domain.ConfigError{Field: "start", Msg: err.Error()}
	}
	endDate, err := time.Parse(dateLayout, g.end)
	if err != nil {
		return &domain.ConfigError{Field: "end", Msg: err.Error()}
	}

	params, err := buildParams(g)
	if err != nil {
		return err
	}

	workers := cfg.Run.Workers
	if g.workers > 0 {
		workers = g.workers
	}
	storeTrades := cfg.Run.StoreTrades || g.trades

	barStore := barstore.NewParquetStore(cfg.Storage.DataDir)
	resultStore, err := resultstore.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer resultStore.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runCfg := orchestrator.Config{
		BarStore:    barStore,
		ResultStore: resultStore,
		Instruments: splitCSV(g.stocks),
		StartDate:   startDate,
		EndDate:     endDate,
		Workers:     workers,
		StoreTrades: storeTrades,
		Kernel: kernel.Config{
			Capital:         cfg.Run.Capital,
			MaxRiskPerTrade: cfg.Run.MaxRiskPerTrade,
			BrokerageRate:   cfg.Run.BrokerageRate,
			STTRate:         cfg.Run.STTRate,
		},
		Logger: logger,
	}

	logger.Info("starting grid search", "instruments", len(runCfg.Instruments), "params", len(params),
		"workers", workers, "resume_run_id", resumeRunID)

	runID, status, err := orchestrator.Run(ctx, runCfg, params, resumeRunID)
	if err != nil {
		return fmt.Errorf("run %d: %w", runID, err)
	}

	fmt.Printf("run %d finished with status %s\n", runID, status)
	if status == domain.RunStatusInterrupted {
		fmt.Printf("resume with: orbbacktest resume -run-id %d ...\n", runID)
	}
	return nil
}

func buildParams(g *gridFlags) ([]domain.StrategyParams, error) {
	if g.quick {
		return paramgrid.Quick(), nil
	}

	filter := paramgrid.Filter{}
	if g.orMinutes != "" {
		vals, err := parseInts(g.orMinutes)
		if err != nil {
			return nil, &domain.ConfigError{Field: "or-minutes", Msg: err.Error()}
		}
		filter.ORMinutes = vals
	}
	if g.targets != "" {
		vals, err := parseFloats(g.targets)
		if err != nil {
			return nil, &domain.ConfigError{Field: "targets", Msg: err.Error()}
		}
		filter.TargetMultiplier = vals
	}
	if g.slTypes != "" {
		for _, s := range splitCSV(g.slTypes) {
			filter.StopLossType = append(filter.StopLossType, domain.StopLossType(s))
		}
	}
	if g.directions != "" {
		for _, s := range splitCSV(g.directions) {
			filter.TradeDirection = append(filter.TradeDirection, domain.TradeDirection(s))
		}
	}
	if g.exitTimes != "" {
		filter.ExitTime = splitCSV(g.exitTimes)
	}

	axes, err := paramgrid.FromFilter(filter)
	if err != nil {
		return nil, err
	}
	return axes.Generate(), nil
}

func statusCmd(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	sqlitePath := fs.String("sqlite", "", "path to the result store (defaults to config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	runID := fs.Int64("run-id", 0, "run id (defaults to the latest run)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := resolveSQLitePath(*sqlitePath, *configPath)
	if err != nil {
		return err
	}
	store, err := resultstore.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := *runID
	if id == 0 {
		id, err = store.GetLatestRunID(ctx)
		if err != nil {
			return err
		}
	}

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	progress, err := store.GetProgress(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("run %d: status=%s combos=%d/%d stocks=%d/%d elapsed=%.1fs\n",
		run.RunID, run.Status, run.CombosCompleted, run.SimulationsTarget,
		run.StocksCompleted, run.TotalStocks, run.ElapsedSeconds)
	for _, p := range progress {
		fmt.Printf("  %-12s %-12s combos=%d trades=%d elapsed=%.1fs\n",
			p.Instrument, p.Status, p.CombosTested, p.TotalTrades, p.Elapsed)
	}
	return nil
}

func rankCmd(args []string) error {
	fs := flag.NewFlagSet("rank", flag.ExitOnError)
	sqlitePath := fs.String("sqlite", "", "path to the result store (defaults to config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	runID := fs.Int64("run-id", 0, "run id (defaults to the latest run)")
	metric := fs.String("metric", "composite_score", "metric to rank by")
	limit := fs.Int("limit", 20, "number of rows to print")
	by := fs.String("by", "strategy", "rank by: strategy or stock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !resultstore.ValidMetric(*metric) {
		return &domain.ConfigError{Field: "metric", Msg: "unknown metric: " + *metric}
	}

	path, err := resolveSQLitePath(*sqlitePath, *configPath)
	if err != nil {
		return err
	}
	store, err := resultstore.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := *runID
	if id == 0 {
		id, err = store.GetLatestRunID(ctx)
		if err != nil {
			return err
		}
	}

	var rows []domain.MetricsRow
	switch *by {
	case "strategy":
		rows, err = store.GetTopStrategies(ctx, id, *metric, *limit)
	case "stock":
		rows, err = store.GetTopStocks(ctx, id, *metric, *limit)
	default:
		return &domain.ConfigError{Field: "by", Msg: "must be 'strategy' or 'stock'"}
	}
	if err != nil {
		return err
	}

	for i, r := range rows {
		fmt.Printf("%3d. %-10s %-16s composite=%.4f net_pnl=%.2f sharpe=%.2f trades=%d\n",
			i+1, r.Instrument, r.ParamID, r.Metrics.CompositeScore, r.Metrics.NetPnL, r.Metrics.SharpeRatio, r.Metrics.Count)
	}
	return nil
}

func sensitivityCmd(args []string) error {
	fs := flag.NewFlagSet("sensitivity", flag.ExitOnError)
	sqlitePath := fs.String("sqlite", "", "path to the result store (defaults to config)")
	configPath := fs.String("config", "", "path to a YAML config file")
	runID := fs.Int64("run-id", 0, "run id (defaults to the latest run)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := resolveSQLitePath(*sqlitePath, *configPath)
	if err != nil {
		return err
	}
	store, err := resultstore.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := *runID
	if id == 0 {
		id, err = store.GetLatestRunID(ctx)
		if err != nil {
			return err
		}
	}

	rows, err := store.GetAllMetrics(ctx, id, "composite_score")
	if err != nil {
		return err
	}

	for _, s := range sensitivity.Compute(rows) {
		fmt.Printf("%-20s spread=%9.2f variance=%9.2f best=%s (%.2f) worst=%s (%.2f)\n",
			s.Parameter, s.Spread, s.Variance, s.BestValue, s.BestAvgPnL, s.WorstValue, s.WorstAvgPnL)
	}
	return nil
}

func resolveSQLitePath(flagPath, configPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return cfg.Storage.SQLitePath, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range splitCSV(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, p := range splitCSV(s) {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, f)
	}
	return out, nil
}
