package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vuload/internal/logging"
	"github.com/wesleyorama2/vuload/internal/performance/config"
	"github.com/wesleyorama2/vuload/internal/performance/engine"
	"github.com/wesleyorama2/vuload/internal/performance/metrics"
	"github.com/wesleyorama2/vuload/internal/performance/output"
	"github.com/wesleyorama2/vuload/internal/performance/pool"
)

// exitCancelled is returned when the run was interrupted.
const exitCancelled = 130

// runOptions are the flags of the run command.
type runOptions struct {
	configFile string

	url          string
	method       string
	headers      []string
	body         string
	expectStatus int
	name         string

	vus       int
	duration  string
	rampUp    string
	thinkTime string
	pattern   string
	timeout   string
	rate      float64
	poolSize  int
	grace     string

	thresholds []string

	jsonOutput  bool
	quiet       bool
	interval    time.Duration
	metricsAddr string

	logLevel  string
	logFormat string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a definition file or from flags.

Config file mode:
  vuload run --config checkout.yaml

Quick mode (single request):
  vuload run --url https://api.example.com/health \
    --vus 20 --duration 1m --ramp-up 10s --pattern step \
    --threshold "p95 < 300ms"

Press Ctrl-C to stop early; the results collected so far are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.logLevel, _ = cmd.Flags().GetString("log-level")
			opts.logFormat, _ = cmd.Flags().GetString("log-format")

			cfg, err := loadRunConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runLoadTest(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Load test definition file (YAML or JSON)")
	f.StringVar(&opts.url, "url", "", "Target URL for a single-request test")
	f.StringVarP(&opts.method, "method", "X", "GET", "HTTP method")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	f.StringVarP(&opts.body, "body", "d", "", "Request body")
	f.IntVar(&opts.expectStatus, "expect-status", 0, "Required response status (default: any status below 400)")
	f.StringVar(&opts.name, "name", "", "Test name")

	f.IntVarP(&opts.vus, "vus", "u", 10, "Number of virtual users")
	f.StringVar(&opts.duration, "duration", "30s", "How long each virtual user runs")
	f.StringVar(&opts.rampUp, "ramp-up", "", "Window over which virtual users start")
	f.StringVar(&opts.thinkTime, "think-time", "", "Pause between iterations of one user")
	f.StringVar(&opts.pattern, "pattern", "constant", "Ramp-up pattern (constant, ramp-up, step)")
	f.StringVar(&opts.timeout, "timeout", "", "Per-request timeout (default 30s)")
	f.Float64Var(&opts.rate, "rate", 0, "Cap on requests per second across all users")
	f.IntVar(&opts.poolSize, "pool-size", 0, "Virtual users that may run at once (default 100)")
	f.StringVar(&opts.grace, "grace", "", "Extra time allowed after duration and ramp-up (default 60s)")
	f.StringArrayVar(&opts.thresholds, "threshold", nil, `Pass/fail expression such as "p95 < 500ms" (repeatable)`)

	f.BoolVar(&opts.jsonOutput, "json", false, "Print the final result as JSON")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print PASSED or FAILED")
	f.DurationVar(&opts.interval, "interval", time.Second, "Progress update interval")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	return cmd
}

// loadRunConfig reads the definition file, or builds one from flags. In file
// mode, flags explicitly set on the command line override the file.
func loadRunConfig(cmd *cobra.Command, opts *runOptions) (*config.FileConfig, error) {
	if opts.configFile == "" {
		if opts.url == "" {
			return nil, errors.New("either --config or --url is required")
		}
		return buildConfigFromFlags(opts)
	}

	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("name") {
		cfg.Name = opts.name
	}
	if f.Changed("vus") {
		cfg.VirtualUsers = opts.vus
	}
	if f.Changed("duration") {
		cfg.Duration = opts.duration
	}
	if f.Changed("ramp-up") {
		cfg.RampUp = opts.rampUp
	}
	if f.Changed("think-time") {
		cfg.ThinkTime = opts.thinkTime
	}
	if f.Changed("pattern") {
		cfg.LoadPattern = opts.pattern
	}
	if f.Changed("rate") {
		cfg.Settings.RateLimit = opts.rate
	}
	if f.Changed("pool-size") {
		cfg.Pool.Size = opts.poolSize
	}
	if f.Changed("grace") {
		cfg.Grace = opts.grace
	}
	if f.Changed("timeout") {
		d, err := config.ParseDurationString(opts.timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Settings.Timeout = config.Duration(d)
	}
	cfg.Thresholds = append(cfg.Thresholds, opts.thresholds...)
	return cfg, nil
}

// buildConfigFromFlags builds a single-request definition from flags.
func buildConfigFromFlags(opts *runOptions) (*config.FileConfig, error) {
	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return nil, err
	}

	timeout, err := config.ParseDurationString(opts.timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid --timeout: %w", err)
	}

	name := opts.name
	if name == "" {
		name = fmt.Sprintf("%s %s", strings.ToUpper(opts.method), opts.url)
	}

	return &config.FileConfig{
		Name:         name,
		VirtualUsers: opts.vus,
		Duration:     opts.duration,
		RampUp:       opts.rampUp,
		ThinkTime:    opts.thinkTime,
		LoadPattern:  opts.pattern,
		Grace:        opts.grace,
		Pool:         config.PoolConfig{Size: opts.poolSize},
		Settings: config.Settings{
			Timeout:   config.Duration(timeout),
			RateLimit: opts.rate,
		},
		Requests: []config.RequestConfig{{
			Name:         "cli-request",
			Method:       opts.method,
			URL:          opts.url,
			Headers:      headers,
			Body:         opts.body,
			ExpectStatus: opts.expectStatus,
		}},
		Thresholds: opts.thresholds,
	}, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

// runLoadTest executes cfg and reports to out. Cancelling ctx cancels the
// run; the partial result is still reported.
func runLoadTest(ctx context.Context, cfg *config.FileConfig, opts *runOptions, out io.Writer) error {
	logger, err := logging.New(logging.Config{Level: opts.logLevel, Format: opts.logFormat})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	plan, err := config.ToSpec(cfg)
	if err != nil {
		return err
	}

	var registry *prometheus.Registry
	if opts.metricsAddr != "" {
		registry = prometheus.NewRegistry()
		_, stop, err := serveMetrics(opts.metricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	workers := pool.New(plan.PoolSize)
	opt := engine.Options{Pool: workers, Logger: logger, Grace: plan.Grace}
	if registry != nil {
		opt.Registerer = registry
	}
	coord := engine.New(opt)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Close(closeCtx)
		_ = workers.Close(closeCtx)
	}()

	spec := plan.Spec
	console := output.NewConsole(output.ConsoleConfig{
		TestName:      cfg.Name,
		TotalDuration: spec.Duration() + spec.RampUp(),
		TargetVUs:     spec.VirtualUsers,
		Writer:        out,
		Quiet:         opts.quiet || opts.jsonOutput,
	})

	runID, err := coord.Start(ctx, spec)
	if err != nil {
		return err
	}
	console.PrintHeader(spec.LoadPattern.String())

	final, interrupted := watchRun(ctx, coord, runID, console, opts.interval, logger)

	summary := &output.Summary{
		Run:        final,
		Thresholds: engine.EvaluateThresholds(plan.Thresholds, final.Result),
	}
	if plan.Limiter != nil {
		stats := plan.Limiter.Stats()
		summary.Limiter = &stats
	}
	if series, err := coord.TimeSeries(runID); err == nil {
		summary.SteadyRPS, _ = metrics.SteadyStateRPS(series)
		if opts.jsonOutput {
			summary.TimeSeries = series
		}
	}

	if opts.jsonOutput {
		if err := output.WriteJSON(out, summary); err != nil {
			return err
		}
	} else {
		console.PrintSummary(summary)
	}

	switch {
	case !summary.Passed():
		return &ExitError{Code: 1}
	case interrupted && final.Status == engine.StatusCancelled:
		return &ExitError{Code: exitCancelled}
	}
	return nil
}

// watchRun refreshes the console until the run ends. When ctx is cancelled
// the run is cancelled and watchRun keeps waiting for it to wind down.
func watchRun(ctx context.Context, coord *engine.Coordinator, runID string, console *output.Console, interval time.Duration, logger *zap.Logger) (engine.RunSnapshot, bool) {
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan engine.RunSnapshot, 1)
	go func() {
		snap, _ := coord.Wait(context.Background(), runID)
		done <- snap
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	interrupted := false
	sigCh := ctx.Done()
	for {
		select {
		case snap := <-done:
			return snap, interrupted
		case <-ticker.C:
			if live, err := coord.Live(runID); err == nil {
				console.Update(live)
			}
		case <-sigCh:
			sigCh = nil
			interrupted = true
			if err := coord.Cancel(runID); err != nil && !errors.Is(err, engine.ErrInvalidState) {
				logger.Warn("failed to cancel run", zap.String("run_id", runID), zap.Error(err))
			}
		}
	}
}

// serveMetrics exposes registry on addr until the returned stop is called.
// It returns the address actually bound.
func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
