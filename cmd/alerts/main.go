// Command alerts runs the forecast alert pipeline.
//
// Subcommands:
//
//	alerts run       one fetch-and-process invocation (for cron/systemd timers)
//	alerts serve     interval loop with health/metrics endpoints
//	alerts stations  parse a local bulletin file and list its stations
//
// run exits 0 on success and 1 when the bulletin could not be obtained or
// parsed; per-location failures are reported in the run report and logs
// without changing the exit code.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/couchcryptid/forecast-alert-service/internal/adapter/fcm"
	httpadapter "github.com/couchcryptid/forecast-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/forecast-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-alert-service/internal/adapter/redisstore"
	"github.com/couchcryptid/forecast-alert-service/internal/adapter/subscribers"
	"github.com/couchcryptid/forecast-alert-service/internal/bulletin"
	"github.com/couchcryptid/forecast-alert-service/internal/config"
	"github.com/couchcryptid/forecast-alert-service/internal/dedupe"
	"github.com/couchcryptid/forecast-alert-service/internal/dispatch"
	"github.com/couchcryptid/forecast-alert-service/internal/evaluate"
	"github.com/couchcryptid/forecast-alert-service/internal/observability"
	"github.com/couchcryptid/forecast-alert-service/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = cmdRun()
	case "serve":
		code = cmdServe()
	case "stations":
		code = cmdStations(os.Args[2:])
	default:
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: alerts <run|serve|stations>")
}

func cmdRun() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	runner, cleanup, err := buildRunner(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	report, err := runner.Run(ctx)
	if report != nil {
		json.NewEncoder(os.Stdout).Encode(report) //nolint:errcheck // best-effort report
	}
	if err != nil {
		return 1
	}
	return 0
}

func cmdServe() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	runner, cleanup, err := buildRunner(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}
	defer cleanup()

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := runner.RunLoop(ctx, cfg.RunInterval); err != nil {
			logger.Error("run loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return 0
}

// buildRunner wires adapters into a pipeline runner. The returned cleanup
// closes connections.
func buildRunner(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*pipeline.Runner, func(), error) {
	store := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	cleanups := []func(){func() { _ = store.Close() }}

	var policy dedupe.Policy = dedupe.FailClosed
	if cfg.DedupFailOpen {
		policy = dedupe.FailOpen
	}
	gate := dedupe.New(store, cfg.DedupTTL, policy, logger, func() { metrics.CacheDegraded.Inc() })

	notifier := fcm.NewClient(cfg.FCMEndpoint, cfg.FCMServerKey, cfg.FCMTimeout, cfg.FCMDryRun, logger)
	dispatcher := dispatch.New(gate, notifier, dispatch.Config{
		BatchSize:  cfg.FCMBatchSize,
		MessageTTL: cfg.BucketWidth,
	}, logger)

	var feed pipeline.Feed
	if cfg.SubscriberFile != "" {
		feed = &subscribers.FileFeed{Path: cfg.SubscriberFile}
		logger.Info("using file subscriber feed", "path", cfg.SubscriberFile)
	} else {
		feed = subscribers.NewRedisFeed(store.Client())
		logger.Info("using redis subscriber feed", "addr", cfg.RedisAddr)
	}

	var sink pipeline.OutcomeSink
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaOutcomeTopic, logger)
		cleanups = append(cleanups, func() { _ = writer.Close() })
		sink = writer
		logger.Info("outcome telemetry enabled", "topic", cfg.KafkaOutcomeTopic)
	}

	fetcher := bulletin.NewFetcher(cfg.BulletinURL, cfg.FetchTimeout, cfg.FetchRetries, logger)
	evaluator := evaluate.New(evaluate.Config{
		BucketWidth: cfg.BucketWidth,
		MaxGap:      cfg.EvalMaxGap,
	}, logger)

	runner := pipeline.New(fetcher, feed, evaluator, dispatcher, sink, pipeline.Config{
		RadiusKm: cfg.MatchRadiusKm,
		Workers:  cfg.Workers,
	}, logger, metrics, nil)

	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return runner, cleanup, nil
}

// cmdStations parses a local bulletin file and prints its station table, a
// debugging aid for inspecting what a bundle actually contains.
func cmdStations(args []string) int {
	fs := flag.NewFlagSet("stations", flag.ExitOnError)
	file := fs.String("file", "", "path to a local KMZ/KML bulletin")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	if *file == "" {
		fs.Usage()
		return 2
	}

	logger := observability.NewLogger("warn", "text")
	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("read bulletin", "error", err)
		return 1
	}
	bul, err := bulletin.Parse(data, logger)
	if err != nil {
		logger.Error("parse bulletin", "error", err)
		return 1
	}

	fmt.Printf("source: %s, stations: %d, skipped: %d\n", bul.Source, len(bul.Stations), len(bul.SkippedStations))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLAT\tLON\tPARAMETERS")
	for _, s := range bul.Stations {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%d\n", s.ID, s.Name, s.Coordinate.Lat, s.Coordinate.Lon, len(s.Parameters))
	}
	w.Flush() //nolint:errcheck
	return 0
}
