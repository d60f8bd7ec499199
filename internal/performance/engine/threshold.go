package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance/metrics"
)

// ThresholdResult is the outcome of one threshold expression.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

var thresholdPattern = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// EvaluateThresholds checks each expression against res.
//
// Latency metrics (min, max, avg, p50, p90, p95, p99) take a duration such as
// "500ms"; a bare number means milliseconds. error_rate is a percentage, rps
// is requests per second and count is the total number of requests.
// An expression that cannot be parsed fails with an explanatory message.
func EvaluateThresholds(expressions []string, res *metrics.Result) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(expressions))
	for _, expr := range expressions {
		results = append(results, evaluateThreshold(expr, res))
	}
	return results
}

// ThresholdsPassed reports whether every result passed.
func ThresholdsPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// ValidateThreshold checks that expr names a known metric, a known operator
// and a value of the right kind, without evaluating it.
func ValidateThreshold(expr string) error {
	metric, _, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		return err
	}
	switch metric {
	case "min", "max", "avg", "p50", "p90", "p95", "p99":
		if _, err := parseThresholdDuration(valueStr); err != nil {
			return fmt.Errorf("invalid duration %q for %s", valueStr, metric)
		}
	case "error_rate", "rps", "count":
		if _, err := strconv.ParseFloat(valueStr, 64); err != nil {
			return fmt.Errorf("invalid number %q for %s", valueStr, metric)
		}
	default:
		return fmt.Errorf("unknown metric: %s", metric)
	}
	return nil
}

func evaluateThreshold(expr string, res *metrics.Result) ThresholdResult {
	result := ThresholdResult{Expression: expr}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	result.Metric = metric

	if res == nil {
		result.Message = "no result to evaluate"
		return result
	}

	switch metric {
	case "min", "max", "avg", "p50", "p90", "p95", "p99":
		actualMs := latencyMetric(metric, res)
		threshold, err := parseThresholdDuration(valueStr)
		if err != nil {
			result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
			return result
		}
		thresholdMs := float64(threshold) / float64(time.Millisecond)

		result.Value = fmt.Sprintf("%.2fms", actualMs)
		result.Passed = compareValues(actualMs, op, thresholdMs)
		if !result.Passed {
			result.Message = fmt.Sprintf("%s is %.2fms, threshold: %s %s", metric, actualMs, op, threshold)
		}

	case "error_rate", "rps", "count":
		threshold, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
			return result
		}

		var actual float64
		switch metric {
		case "error_rate":
			actual = res.ErrorRatePercent
		case "rps":
			actual = res.RequestsPerSecond
		default:
			actual = float64(res.TotalRequests)
		}

		result.Value = fmt.Sprintf("%.2f", actual)
		result.Passed = compareValues(actual, op, threshold)
		if !result.Passed {
			result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", metric, actual, op, threshold)
		}

	default:
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
	}

	return result
}

func latencyMetric(metric string, res *metrics.Result) float64 {
	switch metric {
	case "min":
		return float64(res.MinLatencyMs)
	case "max":
		return float64(res.MaxLatencyMs)
	case "avg":
		return res.AverageLatencyMs
	case "p50":
		return float64(res.P50)
	case "p90":
		return float64(res.P90)
	case "p95":
		return float64(res.P95)
	default:
		return float64(res.P99)
	}
}

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	if !validOperator(matches[2]) {
		return "", "", "", fmt.Errorf("unknown operator %q in %s", matches[2], expr)
	}
	return strings.ToLower(matches[1]), matches[2], strings.TrimSpace(matches[3]), nil
}

func parseThresholdDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	return time.ParseDuration(s)
}

func validOperator(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
