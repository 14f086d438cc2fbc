// Command polysim replays recorded order-book tapes against simulated
// strategies. `polysim run` executes one deterministic replay and writes the
// artifact bundle; `polysim strategies` lists the registered strategies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Amanpat/polysim/internal/app"
	"github.com/Amanpat/polysim/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "strategies":
		os.Exit(strategiesCmd(os.Args[2:]))
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: polysim <command> [flags]

Commands:
  run         replay a tape against a strategy and write run artifacts
  strategies  list the registered strategies

Run 'polysim <command> -h' for command flags.
`)
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to TOML configuration file (optional)")
	tapePath := fs.String("tape", "", "path to the JSONL tape file")
	strategyName := fs.String("strategy", "", "strategy name (see 'polysim strategies')")
	strategyConfig := fs.String("strategy-config", "", "inline JSON object of strategy parameters")
	strategyConfigPath := fs.String("strategy-config-path", "", "path to a JSON file of strategy parameters")
	assetID := fs.String("asset-id", "", "primary asset id (defaults to the tape's only asset, or the YES leg)")
	extraBookAssetIDs := fs.String("extra-book-asset-ids", "", "comma-separated additional asset ids to track books for")
	yesAssetID := fs.String("yes-asset-id", "", "YES leg asset id for dual-asset strategies")
	noAssetID := fs.String("no-asset-id", "", "NO leg asset id for dual-asset strategies")
	runID := fs.String("run-id", "", "run id (default: random UUID)")
	outDir := fs.String("out-dir", "", "artifact output directory (default \"runs\")")
	startingCash := fs.String("starting-cash", "", "starting cash in USDC (default \"1000\")")
	feeRateBps := fs.String("fee-rate-bps", "", "taker fee in basis points (default \"10\")")
	markMethod := fs.String("mark-method", "", "mark-to-market quote, bid or midpoint (default \"bid\")")
	latencyTicks := fs.Int64("latency-ticks", 0, "events between order submit and activation")
	cancelLatencyTicks := fs.Int64("cancel-latency-ticks", 0, "events between cancel request and cancellation")
	strict := fs.Bool("strict", false, "fail on deltas for price levels the book never saw")
	allowDegraded := fs.Bool("allow-degraded", false, "proceed when one leg of a dual-asset pair has no tape events")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (default \"info\")")
	_ = fs.Parse(args)

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	// CLI flags override file and environment values, but only flags that
	// were actually set on the command line.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tape":
			cfg.Tape = *tapePath
		case "strategy":
			cfg.Strategy.Name = *strategyName
		case "asset-id":
			cfg.Run.AssetID = *assetID
		case "extra-book-asset-ids":
			cfg.Run.ExtraBookAssetIDs = splitCSV(*extraBookAssetIDs)
		case "yes-asset-id":
			cfg.Strategy.YesAssetID = *yesAssetID
		case "no-asset-id":
			cfg.Strategy.NoAssetID = *noAssetID
		case "run-id":
			cfg.RunID = *runID
		case "out-dir":
			cfg.OutDir = *outDir
		case "starting-cash":
			cfg.Run.StartingCash = *startingCash
		case "fee-rate-bps":
			cfg.Run.FeeRateBps = *feeRateBps
		case "mark-method":
			cfg.Run.MarkMethod = *markMethod
		case "latency-ticks":
			cfg.Run.LatencyTicks = *latencyTicks
		case "cancel-latency-ticks":
			cfg.Run.CancelLatencyTicks = *cancelLatencyTicks
		case "strict":
			cfg.Run.Strict = *strict
		case "allow-degraded":
			cfg.Run.AllowDegraded = *allowDegraded
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if cfg.Strategy.Params == nil {
		cfg.Strategy.Params = map[string]any{}
	}

	// Strategy params merge file first, then inline JSON, so inline wins.
	if *strategyConfigPath != "" {
		params, err := config.LoadStrategyParams(*strategyConfigPath)
		if err != nil {
			logger.Error("failed to load strategy config", slog.String("error", err.Error()))
			return 1
		}
		mergeParams(cfg.Strategy.Params, params)
	}
	if *strategyConfig != "" {
		params, err := config.ParseStrategyParams(*strategyConfig)
		if err != nil {
			logger.Error("failed to parse strategy config", slog.String("error", err.Error()))
			return 1
		}
		mergeParams(cfg.Strategy.Params, params)
	}

	// Set log level from config.
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("polysim starting",
		slog.String("tape", cfg.Tape),
		slog.String("strategy", cfg.Strategy.Name),
	)

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the replay.
	if err := app.New(cfg, logger).Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("replay interrupted")
			return 0
		}
		logger.Error("replay exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	logger.Info("polysim stopped")
	return 0
}

func strategiesCmd(args []string) int {
	fs := flag.NewFlagSet("strategies", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg := config.Defaults()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	for _, name := range app.New(&cfg, logger).Strategies() {
		fmt.Println(name)
	}
	return 0
}

func mergeParams(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
