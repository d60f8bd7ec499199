package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vuload/internal/performance/config"
)

func executeCmd(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func newCountingServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_Help(t *testing.T) {
	out, err := executeCmd(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "vuload")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "validate")
}

func TestRunCmd_RequiresTarget(t *testing.T) {
	_, err := executeCmd(context.Background(), "run")
	assert.EqualError(t, err, "either --config or --url is required")
}

func TestRunCmd_InvalidFlags(t *testing.T) {
	_, err := executeCmd(context.Background(), "run", "--url", "http://localhost", "--vus", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "virtualUsers")

	_, err = executeCmd(context.Background(), "run", "--url", "http://localhost", "-H", "no-colon")
	assert.ErrorContains(t, err, "invalid header")
}

func TestRunCmd_URLModeJSON(t *testing.T) {
	srv, hits := newCountingServer(t)

	out, err := executeCmd(context.Background(), "run",
		"--url", srv.URL,
		"--vus", "2",
		"--duration", "1s",
		"--think-time", "50ms",
		"--threshold", "count > 0",
		"--threshold", "error_rate < 1",
		"--json",
	)
	require.NoError(t, err, out)

	var summary struct {
		Run struct {
			Status string `json:"status"`
			Result struct {
				TotalRequests  int64 `json:"totalRequests"`
				FailedRequests int64 `json:"failedRequests"`
			} `json:"result"`
		} `json:"run"`
		Thresholds []struct {
			Passed bool `json:"passed"`
		} `json:"thresholds"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary), out)

	assert.Equal(t, "COMPLETED", summary.Run.Status)
	assert.Positive(t, summary.Run.Result.TotalRequests)
	assert.Zero(t, summary.Run.Result.FailedRequests)
	assert.Equal(t, hits.Load(), summary.Run.Result.TotalRequests)
	require.Len(t, summary.Thresholds, 2)
	assert.True(t, summary.Thresholds[0].Passed)
	assert.True(t, summary.Thresholds[1].Passed)
}

func TestRunCmd_ThresholdFailureExitsNonZero(t *testing.T) {
	srv, _ := newCountingServer(t)
	path := writeFile(t, "smoke.yaml", `
name: smoke
virtualUsers: 1
duration: 1s
thinkTime: 100ms
settings:
  baseUrl: `+srv.URL+`
requests:
  - url: "{{baseUrl}}/health"
    expectStatus: 200
thresholds:
  - "count < 1"
`)

	out, err := executeCmd(context.Background(), "run", "--config", path, "--interval", "100ms")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "error = %v", err)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, out, "smoke - COMPLETED (thresholds failed)")
	assert.Contains(t, out, "✗ count < 1")
}

func TestRunCmd_InterruptCancelsRun(t *testing.T) {
	srv, _ := newCountingServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	out, err := executeCmd(ctx, "run",
		"--url", srv.URL,
		"--vus", "3",
		"--duration", "5m",
		"--think-time", "10ms",
		"--quiet",
	)

	assert.Less(t, time.Since(start), 10*time.Second, "cancellation should stop the run promptly")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "error = %v", err)
	assert.Equal(t, exitCancelled, exitErr.Code)
	assert.Equal(t, "PASSED", strings.TrimSpace(out))
}

func TestLoadRunConfig_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "api.json", `{
		"name": "api",
		"virtualUsers": 5,
		"duration": "1m",
		"requests": [{"url": "http://localhost/health"}],
		"thresholds": ["p95 < 1s"]
	}`)

	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--config", path, "--vus", "9", "--timeout", "2s", "--threshold", "rps > 1",
	}))

	opts := &runOptions{}
	opts.configFile, _ = cmd.Flags().GetString("config")
	opts.vus, _ = cmd.Flags().GetInt("vus")
	opts.duration, _ = cmd.Flags().GetString("duration")
	opts.timeout, _ = cmd.Flags().GetString("timeout")
	opts.thresholds, _ = cmd.Flags().GetStringArray("threshold")

	cfg, err := loadRunConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.VirtualUsers)
	assert.Equal(t, "1m", cfg.Duration, "unchanged flags keep file values")
	assert.Equal(t, config.Duration(2*time.Second), cfg.Settings.Timeout)
	assert.Equal(t, []string{"p95 < 1s", "rps > 1"}, cfg.Thresholds)
}

func TestBuildConfigFromFlags(t *testing.T) {
	cfg, err := buildConfigFromFlags(&runOptions{
		url:          "https://api.example.com/orders",
		method:       "post",
		headers:      []string{"Content-Type: application/json", "X-Trace:  abc "},
		body:         `{"sku":"a"}`,
		expectStatus: 201,
		vus:          20,
		duration:     "2m",
		rampUp:       "30s",
		pattern:      "step",
		timeout:      "5s",
		rate:         100,
	})
	require.NoError(t, err)

	assert.Equal(t, "POST https://api.example.com/orders", cfg.Name)
	assert.Equal(t, 20, cfg.VirtualUsers)
	assert.Equal(t, "step", cfg.LoadPattern)
	assert.Equal(t, config.Duration(5*time.Second), cfg.Settings.Timeout)
	assert.Equal(t, 100.0, cfg.Settings.RateLimit)
	require.Len(t, cfg.Requests, 1)
	req := cfg.Requests[0]
	assert.Equal(t, "post", req.Method)
	assert.Equal(t, 201, req.ExpectStatus)
	assert.Equal(t, map[string]string{"Content-Type": "application/json", "X-Trace": "abc"}, req.Headers)

	_, err = buildConfigFromFlags(&runOptions{url: "http://x", timeout: "soon"})
	assert.ErrorContains(t, err, "invalid --timeout")
}

func TestValidateCmd(t *testing.T) {
	good := writeFile(t, "good.yaml", `
virtualUsers: 2
duration: 10s
requests:
  - url: http://localhost/health
thresholds: ["p99 < 2s"]
`)
	out, err := executeCmd(context.Background(), "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "OK (2 virtual users, 1 request(s), 1 threshold(s))")

	bad := writeFile(t, "bad.yaml", `
virtualUsers: 0
duration: never
requests: []
`)
	_, err = executeCmd(context.Background(), "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 validation errors")

	_, err = executeCmd(context.Background(), "validate")
	assert.Error(t, err)
}

func TestServeMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vuload_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Add(3)

	addr, stop, err := serveMetrics("127.0.0.1:0", registry, zap.NewNop())
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vuload_test_total 3")
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := &ExitError{Code: 2, Err: inner}
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit status 1", (&ExitError{Code: 1}).Error())
}
