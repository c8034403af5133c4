package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/andrewh/callmock/pkg/mockcall"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type simulateOptions struct {
	calls         int
	mode          string
	seed          uint64
	noDelay       bool
	workers       int
	endpoint      string
	stdout        bool
	protocol      string
	signals       string
	slowThreshold time.Duration
	metricsAddr   string
	logLevel      string
	jsonStats     bool
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <sites.yaml>",
		Short: "Dispatch mocked calls against every enabled site and report the outcomes",
		Long: "Dispatch mocked calls against every enabled site and report the outcomes.\n\n" +
			"Every flag can also be set with a CALLMOCK_ environment variable,\n" +
			"e.g. CALLMOCK_CALLS=10 or CALLMOCK_LOG_LEVEL=debug.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing configuration file\n\nUsage: callmock simulate <sites.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := bindEnv(cmd)
			if err != nil {
				return err
			}
			return runSimulate(cmd, args[0], simulateOptions{
				calls:         v.GetInt("calls"),
				mode:          v.GetString("mode"),
				seed:          v.GetUint64("seed"),
				noDelay:       v.GetBool("no-delay"),
				workers:       v.GetInt("workers"),
				endpoint:      v.GetString("endpoint"),
				stdout:        v.GetBool("stdout"),
				protocol:      v.GetString("protocol"),
				signals:       v.GetString("signals"),
				slowThreshold: v.GetDuration("slow-threshold"),
				metricsAddr:   v.GetString("metrics-addr"),
				logLevel:      v.GetString("log-level"),
				jsonStats:     v.GetBool("json"),
			})
		},
	}

	cmd.Flags().Int("calls", 3, "calls to dispatch per site")
	cmd.Flags().String("mode", "execute", "dispatch mode: execute (blocking) or enqueue (callback)")
	cmd.Flags().Uint64("seed", 0, "seed for random strategies and delays (0 = nondeterministic)")
	cmd.Flags().Bool("no-delay", false, "skip simulated delays")
	cmd.Flags().Int("workers", 1, "background worker goroutines")
	cmd.Flags().String("endpoint", "", "OTLP endpoint (e.g. localhost:4318); signals are disabled without --endpoint or --stdout")
	cmd.Flags().Bool("stdout", false, "emit signals to stdout as JSON")
	cmd.Flags().String("protocol", "http/protobuf", "OTLP protocol (http/protobuf or grpc)")
	cmd.Flags().String("signals", "traces", "comma-separated signals to emit: traces,metrics,logs")
	cmd.Flags().Duration("slow-threshold", time.Second, "duration threshold for slow call log emission")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address after the run (e.g. :9090)")
	cmd.Flags().String("log-level", "warn", "log level: debug, info, warn, error")
	cmd.Flags().Bool("json", false, "print per-site stats as JSON instead of a table")

	return cmd
}

var validSignals = map[string]bool{
	"traces":  true,
	"metrics": true,
	"logs":    true,
}

var validProtocols = map[string]bool{
	"http/protobuf": true,
	"grpc":          true,
}

func validateProtocol(p string) error {
	if !validProtocols[p] {
		return fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", p)
	}
	return nil
}

func parseSignals(s string) (map[string]bool, error) {
	set := make(map[string]bool)
	for _, sig := range strings.Split(s, ",") {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		if !validSignals[sig] {
			return nil, fmt.Errorf("unknown signal %q, valid signals: traces, metrics, logs", sig)
		}
		set[sig] = true
	}
	return set, nil
}

const (
	shutdownTimeout = 5 * time.Second
	maxBodyColumn   = 60
)

// callResult is the outcome of one simulated call.
type callResult struct {
	site string
	n    int
	code int
	body string
	err  error
}

func runSimulate(cmd *cobra.Command, configPath string, opts simulateOptions) error {
	if opts.calls < 1 {
		return fmt.Errorf("--calls must be at least 1, got %d", opts.calls)
	}
	if opts.mode != "execute" && opts.mode != "enqueue" {
		return fmt.Errorf("unsupported mode %q, supported: execute, enqueue", opts.mode)
	}
	if opts.slowThreshold < 0 {
		return fmt.Errorf("--slow-threshold must not be negative, got %s", opts.slowThreshold)
	}
	enabledSignals, err := parseSignals(opts.signals)
	if err != nil {
		return err
	}
	if err := validateProtocol(opts.protocol); err != nil {
		return err
	}
	exporting := opts.stdout || opts.endpoint != ""

	logger, err := newLogger(cmd, opts.logLevel)
	if err != nil {
		return err
	}

	cfg, err := mockcall.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := mockcall.ValidateConfig(cfg); err != nil {
		return err
	}

	rnd := mockcall.DefaultRandom()
	if opts.seed != 0 {
		rnd = mockcall.NewRandomSource(opts.seed)
	}
	engineOpts, err := cfg.Options(bodyFactories(configPath), rnd)
	if err != nil {
		return err
	}
	if opts.noDelay {
		engineOpts.DefaultBehavior = mockcall.NoDelay
		for name, site := range engineOpts.Sites {
			site.Behavior = nil
			engineOpts.Sites[name] = site
		}
	}
	engineOpts.LoadEagerly = true
	engineOpts.Logger = &logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "callmock"),
		attribute.String("callmock.version", version),
	))
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}

	stats := mockcall.NewStatsObserver()
	registry := prometheus.NewRegistry()
	promObs, err := mockcall.NewPrometheusObserver(registry, "callmock")
	if err != nil {
		return err
	}
	engineOpts.Observers = []mockcall.CallObserver{stats, promObs}

	tp, shutdownTraces, err := createTracerProvider(ctx, opts, exporting && enabledSignals["traces"], res)
	if err != nil {
		return fmt.Errorf("creating tracer provider: %w", err)
	}
	defer shutdownTraces()
	engineOpts.TracerProvider = tp

	if exporting && enabledSignals["metrics"] {
		mp, mErr := createMeterProvider(ctx, opts, res)
		if mErr != nil {
			return fmt.Errorf("creating meter provider: %w", mErr)
		}
		defer shutdownAll(context.Background(), []shutdownable{mp}, "meter provider")
		obs, mErr := mockcall.NewMetricObserver(mp)
		if mErr != nil {
			return fmt.Errorf("creating metric observer: %w", mErr)
		}
		engineOpts.Observers = append(engineOpts.Observers, obs)
	}

	if exporting && enabledSignals["logs"] {
		lp, lErr := createLoggerProvider(ctx, opts, res)
		if lErr != nil {
			return fmt.Errorf("creating logger provider: %w", lErr)
		}
		defer shutdownAll(context.Background(), []shutdownable{lp}, "logger provider")
		engineOpts.Observers = append(engineOpts.Observers, mockcall.NewLogObserver(lp, opts.slowThreshold))
	}

	if opts.workers > 1 {
		pool := mockcall.NewWorkerPool(opts.workers, logger)
		defer pool.Close() //nolint:errcheck // pool close never fails
		engineOpts.Background = pool
	}

	engine, err := mockcall.New(engineOpts)
	if err != nil {
		return err
	}
	defer engine.Close() //nolint:errcheck // engine close never fails

	results := simulate(ctx, engine, cfg, opts)
	out := cmd.OutOrStdout()
	renderResults(out, results)
	if opts.jsonStats {
		if err := json.NewEncoder(out).Encode(stats.Snapshot()); err != nil {
			return err
		}
	} else {
		renderStats(out, stats.Snapshot())
	}

	if opts.metricsAddr != "" {
		return serveMetrics(ctx, opts.metricsAddr, registry, logger)
	}
	return nil
}

// bodyFactories returns the factories available to YAML sites. "file" bodies are
// paths relative to the configuration file.
func bodyFactories(configPath string) map[string]mockcall.BodyFactory {
	dir := filepath.Dir(configPath)
	return map[string]mockcall.BodyFactory{
		"file":     mockcall.NonEmptyBodyFactory{Next: mockcall.FSBodyFactory{FS: os.DirFS(dir)}},
		"nonempty": mockcall.NonEmptyBodyFactory{Next: mockcall.PassThroughBodyFactory{}},
	}
}

func simulate(ctx context.Context, engine *mockcall.Engine, cfg *mockcall.Config, opts simulateOptions) []callResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []callResult
	)
	record := func(r callResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}

	for _, def := range cfg.Sites {
		if !def.Enabled {
			continue
		}
		site, err := mockcall.Bind(engine, def.Name, mockcall.String)
		if err != nil {
			record(callResult{site: def.Name, err: err})
			continue
		}
		for n := 1; n <= opts.calls; n++ {
			if ctx.Err() != nil {
				break
			}
			call, err := site.Call()
			if err != nil {
				record(callResult{site: def.Name, n: n, err: err})
				continue
			}
			if opts.mode == "execute" {
				resp, err := call.Execute(ctx)
				record(resultOf(def.Name, n, resp, err))
				continue
			}

			wg.Add(1)
			err = call.Enqueue(mockcall.CallbackFuncs[string]{
				Response: func(_ mockcall.Call[string], resp *mockcall.Response[string]) {
					defer wg.Done()
					record(resultOf(def.Name, n, resp, nil))
				},
				Failure: func(_ mockcall.Call[string], err error) {
					defer wg.Done()
					record(resultOf(def.Name, n, nil, err))
				},
			})
			if err != nil {
				wg.Done()
				record(callResult{site: def.Name, n: n, err: err})
			}
		}
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b callResult) int {
		if c := strings.Compare(a.site, b.site); c != 0 {
			return c
		}
		return a.n - b.n
	})
	return results
}

func resultOf(site string, n int, resp *mockcall.Response[string], err error) callResult {
	r := callResult{site: site, n: n, err: err}
	if resp == nil {
		return r
	}
	r.code = resp.Code()
	r.body = resp.Body
	if resp.ErrorBody != nil {
		b, readErr := io.ReadAll(io.LimitReader(resp.ErrorBody, 4096))
		_ = resp.ErrorBody.Close()
		if readErr == nil {
			r.body = string(b)
		}
	}
	return r
}

func renderResults(w io.Writer, results []callResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Site", "Call", "Status", "Body"})
	for _, r := range results {
		status := fmt.Sprint(r.code)
		body := truncate(r.body, maxBodyColumn)
		switch {
		case errors.Is(r.err, mockcall.ErrCanceled):
			status = "canceled"
		case r.err != nil:
			status = "error"
			body = truncate(r.err.Error(), maxBodyColumn)
		}
		t.AppendRow(table.Row{r.site, r.n, status, body})
	}
	t.Render()
}

func renderStats(w io.Writer, stats []mockcall.SiteStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Site", "Calls", "Errors", "Canceled", "Mean delay"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Site, s.Calls, s.Errors, s.Canceled, fmt.Sprintf("%.1fms", s.MeanDelay)})
	}
	t.Render()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics, interrupt to exit")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func createTracerProvider(ctx context.Context, opts simulateOptions, enabled bool, res *resource.Resource) (trace.TracerProvider, func(), error) {
	if !enabled {
		return noop.NewTracerProvider(), func() {}, nil
	}

	exporter, err := createTraceExporter(ctx, opts)
	if err != nil {
		return nil, func() {}, err
	}

	var sp sdktrace.SpanProcessor
	if opts.stdout {
		sp = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		sp = sdktrace.NewBatchSpanProcessor(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
	)

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownAll(shutdownCtx, []shutdownable{tp}, "tracer provider")
	}
	return tp, shutdown, nil
}

func createTraceExporter(ctx context.Context, opts simulateOptions) (sdktrace.SpanExporter, error) {
	if opts.stdout {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	}
	switch opts.protocol {
	case "grpc":
		var grpcOpts []otlptracegrpc.Option
		if opts.endpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(opts.endpoint), otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, grpcOpts...)
	case "http/protobuf", "":
		var httpOpts []otlptracehttp.Option
		if opts.endpoint != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.endpoint), otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", opts.protocol)
	}
}

func createMeterProvider(ctx context.Context, opts simulateOptions, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := createMetricExporter(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

func createMetricExporter(ctx context.Context, opts simulateOptions) (sdkmetric.Exporter, error) {
	if opts.stdout {
		return stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
	}
	switch opts.protocol {
	case "grpc":
		var grpcOpts []otlpmetricgrpc.Option
		if opts.endpoint != "" {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpoint(opts.endpoint), otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, grpcOpts...)
	case "http/protobuf", "":
		var httpOpts []otlpmetrichttp.Option
		if opts.endpoint != "" {
			httpOpts = append(httpOpts, otlpmetrichttp.WithEndpoint(opts.endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q for metrics", opts.protocol)
	}
}

func createLoggerProvider(ctx context.Context, opts simulateOptions, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := createLogExporter(ctx, opts)
	if err != nil {
		return nil, err
	}

	var processor sdklog.Processor
	if opts.stdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		processor = sdklog.NewBatchProcessor(exporter)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(processor),
		sdklog.WithResource(res),
	), nil
}

func createLogExporter(ctx context.Context, opts simulateOptions) (sdklog.Exporter, error) {
	if opts.stdout {
		return stdoutlog.New(stdoutlog.WithWriter(os.Stdout))
	}
	switch opts.protocol {
	case "grpc":
		var grpcOpts []otlploggrpc.Option
		if opts.endpoint != "" {
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpoint(opts.endpoint), otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, grpcOpts...)
	case "http/protobuf", "":
		var httpOpts []otlploghttp.Option
		if opts.endpoint != "" {
			httpOpts = append(httpOpts, otlploghttp.WithEndpoint(opts.endpoint), otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q for logs", opts.protocol)
	}
}

// shutdownable is anything with a Shutdown method (TracerProvider, MeterProvider, LoggerProvider).
type shutdownable interface {
	Shutdown(context.Context) error
}

// shutdownAll shuts down all items concurrently within the given context.
// Errors are logged to stderr individually; a slow item does not block others.
func shutdownAll[S shutdownable](ctx context.Context, items []S, label string) {
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Go(func() {
			if err := item.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "error shutting down %s: %v\n", label, err)
			}
		})
	}
	wg.Wait()
}
