// Command eventxdemo runs a small order pipeline on the event bus to show how listeners, processors, and spreading fit together.
//
// Usage:
//
//	eventxdemo [--orders N] [--db PATH] [--log-level LEVEL] [--json] [--metrics-addr ADDR]
//
// The EVENTX_MAX_ASYNC and EVENTX_MAX_SPREAD_DEPTH environment variables configure the bus.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saylorsolutions/eventx/otelx"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"github.com/saylorsolutions/eventx/promx"
	"github.com/saylorsolutions/eventx/slogx"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const ordersContext = "orders"

type options struct {
	orders      int
	dbPath      string
	logLevel    slog.Level
	json        bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func parseOptions(args []string, out io.Writer) (options, error) {
	var (
		opts  options
		level string
	)
	flags := flag.NewFlagSet("eventxdemo", flag.ContinueOnError)
	flags.SetOutput(out)
	flags.IntVarP(&opts.orders, "orders", "n", 3, "Number of orders to place")
	flags.StringVar(&opts.dbPath, "db", ":memory:", "SQLite database path")
	flags.StringVar(&level, "log-level", "info", "Log level: debug, info, warn, or error")
	flags.BoolVar(&opts.json, "json", false, "Log as JSON, which is the default when stderr isn't a terminal")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address until interrupted")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if err := opts.logLevel.UnmarshalText([]byte(level)); err != nil {
		return opts, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	if opts.orders < 0 {
		return opts, fmt.Errorf("invalid number of orders %d", opts.orders)
	}
	if f, ok := out.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		opts.json = true
	}
	return opts, nil
}

func newLogger(opts options, out io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.logLevel}
	var handler slog.Handler
	if opts.json {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(slogx.NewDedupeHandler(handler))
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseOptions(args, out)
	if err != nil {
		return err
	}
	logger := newLogger(opts, out)

	envOpts, err := eventbus.ConfigFromEnv()
	if err != nil {
		return err
	}
	registry, err := eventbus.NewRegistry(append(envOpts, eventbus.WithLogger(logger))...)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	db.SetMaxOpenConns(1)
	if err := migrate(ctx, db); err != nil {
		return err
	}

	metrics := promx.NewProcessor("eventxdemo")
	promRegistry := prometheus.NewRegistry()
	if err := metrics.Register(promRegistry); err != nil {
		return err
	}
	tracing, err := otelx.NewGlobalProcessor()
	if err != nil {
		return err
	}
	observe := eventbus.Chain(slogx.Processor(logger, slog.LevelDebug), metrics, tracing)

	s := newShop(db, logger)
	if err := s.bind(registry, observe); err != nil {
		return err
	}

	for i := 1; i <= opts.orders; i++ {
		order := orderPlaced{ID: i, Amount: i * 1000}
		if err := registry.Publish(ctx, ordersContext, order); err != nil {
			logger.Error("Order failed", "order", i, "error", err)
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := registry.Wait(waitCtx); err != nil {
		return fmt.Errorf("failed waiting for listeners: %w", err)
	}
	stored, err := s.count(ctx)
	if err != nil {
		return err
	}
	logger.Info("Pipeline finished", "orders", opts.orders, "stored", stored, "receipts", s.receipts.Load())

	if opts.metricsAddr == "" {
		return nil
	}
	return serveMetrics(ctx, opts.metricsAddr, promRegistry, logger)
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
