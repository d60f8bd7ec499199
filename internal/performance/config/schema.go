// Package config loads load test definition files.
//
// A definition is a YAML or JSON document describing the virtual user
// profile, the requests each user sends and the thresholds the run must meet.
// ToSpec turns a validated definition into a LoadTestSpec ready for the
// coordinator.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the root of a load test definition file.
type FileConfig struct {
	// Name is a human-readable label for the test.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// ID is the run identity. A random ID is used when empty.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	VirtualUsers int `json:"virtualUsers" yaml:"virtualUsers"`

	// Duration is how long every virtual user keeps iterating (e.g. "30s").
	// It is rounded down to whole seconds.
	Duration string `json:"duration" yaml:"duration"`

	// RampUp is the window over which virtual users start (e.g. "10s").
	RampUp string `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`

	// ThinkTime is the pause between iterations of one user (e.g. "100ms").
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// LoadPattern is one of constant, ramp-up or step.
	LoadPattern string `json:"loadPattern,omitempty" yaml:"loadPattern,omitempty"`

	// Grace is added to duration plus ramp-up to bound the run.
	Grace string `json:"grace,omitempty" yaml:"grace,omitempty"`

	Pool PoolConfig `json:"pool,omitempty" yaml:"pool,omitempty"`

	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Requests run in order on every iteration. A single request is sent as
	// is; several form a chain sharing extracted variables.
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// Thresholds are pass/fail expressions such as "p95 < 500ms".
	Thresholds []string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// PoolConfig sizes the worker pool shared by the virtual users.
type PoolConfig struct {
	// Size is the number of virtual users that may run at once. Users
	// beyond it wait for a free slot.
	Size int `json:"size,omitempty" yaml:"size,omitempty"`
}

// Settings holds options shared by every request.
type Settings struct {
	// BaseURL is available to requests as {{baseUrl}}.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout bounds a single HTTP call.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers are sent with every request. Request headers win.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Variables seed placeholder resolution.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// RateLimit caps requests per second across all users. Zero is no cap.
	RateLimit float64 `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`

	InsecureSkipVerify  bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	DisableKeepAlives   bool `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
	MaxIdleConnsPerHost int  `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int  `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
}

// RequestConfig defines one HTTP request.
type RequestConfig struct {
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// ExpectStatus is the required status. Zero accepts any status below 400.
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	// Schema is a JSON Schema the response body must satisfy.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractConfig captures a response value into a variable.
type ExtractConfig struct {
	Name string `json:"name" yaml:"name"`

	// Source is body (default), header or status.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Path is a JSONPath for body sources or a header name.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Duration is a time.Duration written as "30s" or as integer seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*d = 0
		return nil
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		return d.set(v)
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if err := d.set(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (d *Duration) set(s string) error {
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
