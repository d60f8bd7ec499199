package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
	"github.com/wesleyorama2/vuload/internal/performance/engine"
	"github.com/wesleyorama2/vuload/pkg/jsonschema"
)

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Validate checks a definition and returns a *performance.ValidationErrors
// listing every problem, or nil.
func Validate(cfg *FileConfig) error {
	errs := &performance.ValidationErrors{}

	if cfg.VirtualUsers < 1 {
		errs.Add("virtualUsers", "must be at least 1")
	}

	if cfg.Duration == "" {
		errs.Add("duration", "duration is required")
	} else if d, err := ParseDurationString(cfg.Duration); err != nil {
		errs.Add("duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < time.Second {
		errs.Add("duration", "must be at least 1s")
	}

	validateOptionalDuration("rampUp", cfg.RampUp, errs)
	validateOptionalDuration("thinkTime", cfg.ThinkTime, errs)
	validateOptionalDuration("grace", cfg.Grace, errs)

	if _, err := performance.ParseLoadPattern(cfg.LoadPattern); err != nil {
		errs.Add("loadPattern", err.Error())
	}

	if cfg.Pool.Size < 0 {
		errs.Add("pool.size", "cannot be negative")
	}

	validateSettings(&cfg.Settings, errs)

	if len(cfg.Requests) == 0 {
		errs.Add("requests", "at least one request is required")
	}
	for i := range cfg.Requests {
		validateRequest(fmt.Sprintf("requests[%d]", i), &cfg.Requests[i], errs)
	}

	for i, expr := range cfg.Thresholds {
		if err := engine.ValidateThreshold(expr); err != nil {
			errs.Add(fmt.Sprintf("thresholds[%d]", i), err.Error())
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateOptionalDuration(field, value string, errs *performance.ValidationErrors) {
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid %s: %v", field, err))
		return
	}
	if d < 0 {
		errs.Add(field, "cannot be negative")
	}
}

func validateSettings(s *Settings, errs *performance.ValidationErrors) {
	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme == "" || u.Host == "" {
			errs.Add("settings.baseUrl", "must be an absolute URL")
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.RateLimit < 0 {
		errs.Add("settings.rateLimit", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.MaxConnsPerHost < 0 {
		errs.Add("settings.maxConnsPerHost", "cannot be negative")
	}
}

func validateRequest(prefix string, req *RequestConfig, errs *performance.ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(stripPlaceholders(req.URL)); err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
	}

	if req.ExpectStatus != 0 && (req.ExpectStatus < 100 || req.ExpectStatus > 599) {
		errs.Add(prefix+".expectStatus", fmt.Sprintf("invalid status code: %d", req.ExpectStatus))
	}

	if req.Schema != "" {
		if _, err := jsonschema.Compile(req.Schema); err != nil {
			errs.Add(prefix+".schema", err.Error())
		}
	}

	for i := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &req.Extract[i], errs)
	}
}

func validateExtract(prefix string, ex *ExtractConfig, errs *performance.ValidationErrors) {
	if ex.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	switch ex.Source {
	case "", "body", "header":
		if ex.Path == "" {
			errs.Add(prefix+".path", "path is required")
		}
	case "status":
	default:
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", ex.Source))
	}
}

// stripPlaceholders replaces {{var}} placeholders so the rest of a URL can be
// checked before variables are known.
func stripPlaceholders(s string) string {
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return s
		}
		replacement := "placeholder"
		if start == 0 {
			replacement = "http://placeholder"
		}
		s = s[:start] + replacement + s[start+end+2:]
	}
}
