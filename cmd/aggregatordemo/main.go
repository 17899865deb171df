// Command aggregatordemo feeds synthetic samples through an Aggregator and
// prints the resulting value vectors, exercising the same construction and
// ingestion path a real sample producer would use.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/clusteraggregator/pkg/aggregator"
)

func main() {
	os.Exit(run(os.Args, os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("aggregatordemo", flag.ContinueOnError)
	entities := fs.Int("entities", 5, "number of synthetic entities to simulate")
	windows := fs.Int("windows", 25, "number of windows of synthetic traffic to generate before reporting")
	windowMs := fs.Int64("window-ms", 1000, "window width in milliseconds")
	numWindows := fs.Int("num-windows", 20, "N: number of windows Aggregate reports")
	minSamples := fs.Int("min-samples", 4, "K: minimum samples per window before a cell is used without extrapolation")
	samplesPerWindow := fs.Int("samples-per-window", 4, "samples generated per entity per window")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve /metrics on this address until interrupted")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	log.Logger = logger

	registry := aggregator.NewMetricRegistry(
		aggregator.MetricDef{Name: "cpu_percent", Strategy: aggregator.AVG},
		aggregator.MetricDef{Name: "requests_total", Strategy: aggregator.SUM},
		aggregator.MetricDef{Name: "queue_depth", Strategy: aggregator.MAX},
		aggregator.MetricDef{Name: "last_status", Strategy: aggregator.LATEST},
	)

	promReg := prometheus.NewRegistry()
	cfg := aggregator.Config{
		NumWindows:          *numWindows,
		WindowMs:            *windowMs,
		MinSamplesPerWindow: *minSamples,
		MaxExtraWindowsKept: *numWindows,
	}
	agg, err := aggregator.NewAggregator(cfg, registry, nil, promReg, &logger)
	if err != nil {
		fmt.Fprintf(out, "building aggregator: %v\n", err)
		return 1
	}

	var stopMetrics func()
	if *metricsAddr != "" {
		stopMetrics = startMetricsServer(*metricsAddr, promReg, logger)
		defer stopMetrics()
	}

	generateTraffic(agg, registry, *entities, *windows, *windowMs, *samplesPerWindow)

	result, err := agg.Aggregate(0, int64(*windows)*(*windowMs), aggregator.CompletenessOptions{
		NumWindows:               *numWindows,
		MinValidEntityRatio:      0.5,
		MinValidEntityGroupRatio: 0.5,
	})
	if err != nil {
		fmt.Fprintf(out, "aggregate: %v\n", err)
		return 1
	}

	printResult(out, registry, result)

	if *metricsAddr != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		<-ctx.Done()
		stop()
	}
	return 0
}

func generateTraffic(agg *aggregator.Aggregator, registry *aggregator.MetricRegistry, numEntities, numWindows int, windowMs int64, samplesPerWindow int) {
	rng := rand.New(rand.NewSource(1))
	entities := make([]aggregator.EntityId, numEntities)
	for i := range entities {
		entities[i] = aggregator.NewEntityId(fmt.Sprintf("entity-%d", i), fmt.Sprintf("group-%d", i%2))
	}

	for w := 1; w <= numWindows; w++ {
		for _, e := range entities {
			for s := 0; s < samplesPerWindow; s++ {
				tMs := int64(w)*windowMs + int64(s)
				values := map[aggregator.MetricId]float64{}
				for _, info := range registry.All() {
					values[info.Id] = rng.Float64() * 100
				}
				agg.Add(e, tMs, values)
			}
		}
	}
}

func printResult(out io.Writer, registry *aggregator.MetricRegistry, result aggregator.AggregationResult) {
	fmt.Fprintf(out, "generation=%d correlation_id=%s\n", result.Generation, result.CorrelationID)
	for entity, vve := range result.EntityToValuesAndExtrapolations {
		fmt.Fprintf(out, "entity=%s windows=%d\n", entity.String(), len(vve.Windows))
		for _, info := range registry.All() {
			fmt.Fprintf(out, "  %s: %v\n", info.Name, vve.MetricValues[info.Id])
		}
	}
	if len(result.InvalidEntities) > 0 {
		fmt.Fprintf(out, "invalid entities: %d\n", len(result.InvalidEntities))
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn().Str("component", "aggregatordemo").Str("action", "shutdown_failed").Err(err).Msg("metrics server did not shut down cleanly")
		}
	}()
	go func() {
		logger.Info().Str("component", "aggregatordemo").Str("action", "listening").Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Str("component", "aggregatordemo").Str("action", "stopped_unexpectedly").Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	return cancel
}
