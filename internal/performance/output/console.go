// Package output renders load test progress and results to a terminal or a
// plain stream.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance/engine"
	"github.com/wesleyorama2/vuload/internal/performance/metrics"
	"github.com/wesleyorama2/vuload/internal/performance/rate"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal = "━"

	progressFilled = "█"
	progressEmpty  = "░"
	progressWidth  = 40
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	TestName string

	// TotalDuration is ramp-up plus duration, used for the progress bar.
	TotalDuration time.Duration
	TargetVUs     int

	// Writer defaults to os.Stdout.
	Writer io.Writer

	Quiet       bool
	ForceColors bool
	ForceTTY    bool
}

// Console prints a header, live progress and a final summary.
//
// On a terminal the progress block is redrawn in place. Otherwise each update
// is a single status line, which keeps CI logs readable.
type Console struct {
	testName      string
	totalDuration time.Duration
	targetVUs     int
	writer        io.Writer
	isTTY         bool
	quiet         bool
	colors        *palette

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := config.ForceColors || (isTTY && supportsColors())

	return &Console{
		testName:      config.TestName,
		totalDuration: config.TotalDuration,
		targetVUs:     config.TargetVUs,
		writer:        config.Writer,
		isTTY:         isTTY,
		quiet:         config.Quiet,
		colors:        newPalette(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *Console) PrintHeader(pattern string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.header.Sprint(line))
	c.writeln(c.colors.title.Sprintf("%s - Running [%d VUs, %s]", c.testName, c.targetVUs, pattern))
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")
}

// Update shows the live state of a run.
func (c *Console) Update(snap *metrics.Snapshot) {
	if c.quiet || snap == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.statusLine(snap))
		return
	}

	c.clearLive()
	lines := c.renderLive(snap)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) progress(elapsed time.Duration) float64 {
	if c.totalDuration <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(c.totalDuration)
	if p > 1 {
		return 1
	}
	return p
}

func (c *Console) statusLine(snap *metrics.Snapshot) string {
	return fmt.Sprintf("[%s] Progress: %.0f%% | Phase: %s | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(snap.Elapsed),
		c.progress(snap.Elapsed)*100,
		snap.Phase,
		snap.ActiveVUs, c.targetVUs,
		snap.Total,
		snap.RPS,
		snap.Failed,
		snap.ErrorRate*100,
		formatDurationShort(snap.Latency.P95))
}

func (c *Console) renderLive(snap *metrics.Snapshot) []string {
	p := c.colors
	progress := c.progress(snap.Elapsed)
	errColor := p.rate(snap.ErrorRate)

	return []string{
		fmt.Sprintf("Progress: %s %s | %s",
			p.good.Sprint(renderProgressBar(progress, progressWidth)),
			p.title.Sprintf("%.0f%%", progress*100),
			p.dim.Sprintf("%s / %s", formatDuration(snap.Elapsed), formatDuration(c.totalDuration))),
		fmt.Sprintf("Phase:    %s", p.phase.Sprint(snap.Phase)),
		fmt.Sprintf("VUs:      %s / %d", p.value.Sprint(snap.ActiveVUs), c.targetVUs),
		fmt.Sprintf("Requests: %s  RPS: %s", p.value.Sprint(formatNumber(snap.Total)), p.good.Sprintf("%.1f", snap.RPS)),
		fmt.Sprintf("Errors:   %s (%s)", errColor.Sprint(snap.Failed), errColor.Sprintf("%.1f%%", snap.ErrorRate*100)),
		fmt.Sprintf("Latency:  p95 %s  avg %s",
			p.latency.Sprint(formatDurationShort(snap.Latency.P95)),
			p.latency.Sprint(formatDurationShort(snap.Latency.Mean))),
	}
}

// clearLive erases the progress block drawn by the last Update.
func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// Summary is everything the final report shows.
type Summary struct {
	Run        engine.RunSnapshot       `json:"run"`
	Thresholds []engine.ThresholdResult `json:"thresholds,omitempty"`
	Limiter    *rate.Stats              `json:"limiter,omitempty"`

	// SteadyRPS is the mean interval throughput once every user had started.
	SteadyRPS  float64               `json:"steadyRps,omitempty"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
}

// Passed reports whether the run did not fail and every threshold held.
func (s *Summary) Passed() bool {
	return s.Run.Status != engine.StatusFailed && engine.ThresholdsPassed(s.Thresholds)
}

// PrintSummary prints the final result.
func (c *Console) PrintSummary(s *Summary) {
	p := c.colors

	if c.quiet {
		if s.Passed() {
			c.writeln(p.good.Sprint("PASSED"))
		} else {
			c.writeln(p.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	status := string(s.Run.Status)
	statusColor := p.good
	switch {
	case s.Run.Status == engine.StatusFailed:
		statusColor = p.bad
	case s.Run.Status == engine.StatusCancelled:
		statusColor = p.warn
	case !s.Passed():
		status += " (thresholds failed)"
		statusColor = p.bad
	}

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln("")
	c.writeln(p.header.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", p.title.Sprint(c.testName), statusColor.Sprint(status)))
	c.writeln(p.header.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", s.Run.ID))
	if s.Run.Error != "" {
		c.writeln(fmt.Sprintf("Error:         %s", p.bad.Sprint(s.Run.Error)))
	}

	res := s.Run.Result
	if res == nil {
		c.writeln("")
		return
	}

	errorRate := res.ErrorRatePercent / 100
	c.writeln(fmt.Sprintf("Duration:      %s", p.value.Sprint(formatDuration(time.Duration(res.WallClockMs)*time.Millisecond))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", p.value.Sprint(formatNumber(res.TotalRequests))))
	c.writeln(fmt.Sprintf("Failed:        %s", p.rate(errorRate).Sprintf("%s (%.2f%%)", formatNumber(res.FailedRequests), res.ErrorRatePercent)))
	c.writeln(fmt.Sprintf("Throughput:    %s", p.value.Sprintf("%.2f req/s", res.RequestsPerSecond)))
	if s.SteadyRPS > 0 {
		c.writeln(fmt.Sprintf("Steady RPS:    %s", p.value.Sprintf("%.2f req/s", s.SteadyRPS)))
	}
	if res.Dropped > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s", p.warn.Sprint(res.Dropped)))
	}
	if s.Limiter != nil {
		c.writeln(fmt.Sprintf("Rate Limit:    %.1f req/s (waited %s)", s.Limiter.Rate, formatDuration(s.Limiter.TotalWait)))
	}
	c.writeln("")

	c.writeln(p.label.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %dms", res.MinLatencyMs))
	c.writeln(fmt.Sprintf("  Avg:       %.2fms", res.AverageLatencyMs))
	c.writeln(fmt.Sprintf("  P50:       %dms", res.P50))
	c.writeln(fmt.Sprintf("  P90:       %dms", res.P90))
	c.writeln(fmt.Sprintf("  P95:       %dms", res.P95))
	c.writeln(fmt.Sprintf("  P99:       %dms", res.P99))
	c.writeln(fmt.Sprintf("  Max:       %dms", res.MaxLatencyMs))
	c.writeln("")

	if len(s.Thresholds) > 0 {
		c.writeln(p.label.Sprint("Thresholds:"))
		for _, t := range s.Thresholds {
			mark := p.good.Sprint("✓")
			if !t.Passed {
				mark = p.bad.Sprint("✗")
			}
			detail := t.Value
			if t.Message != "" {
				detail = t.Message
			}
			c.writeln(fmt.Sprintf("  %s %s (%s)", mark, t.Expression, detail))
		}
		c.writeln("")
	}
}

// WriteJSON writes s as indented JSON.
func WriteJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
