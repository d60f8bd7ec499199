package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
	"github.com/wesleyorama2/vuload/internal/performance/rate"
	"github.com/wesleyorama2/vuload/internal/performance/target"
)

// Plan is a validated definition resolved into the parts a run needs.
type Plan struct {
	Spec       performance.LoadTestSpec
	PoolSize   int
	Grace      time.Duration
	Thresholds []string

	// Limiter is the shared request-rate cap, nil when uncapped.
	Limiter *rate.LeakyBucket
}

// ToSpec applies defaults, validates cfg and builds its target.
//
// One request becomes a target.HTTP and several become a target.Chain.
// A positive settings.rateLimit paces every virtual user through one shared
// leaky bucket.
func ToSpec(cfg *FileConfig) (*Plan, error) {
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	// Validate has already rejected malformed durations.
	duration, _ := ParseDurationString(cfg.Duration)
	rampUp, _ := ParseDurationString(cfg.RampUp)
	thinkTime, _ := ParseDurationString(cfg.ThinkTime)
	grace, _ := ParseDurationString(cfg.Grace)
	pattern, _ := performance.ParseLoadPattern(cfg.LoadPattern)

	client := target.NewClient(target.ClientConfig{
		Timeout:             cfg.Settings.Timeout.GetDuration(DefaultTimeout),
		MaxIdleConnsPerHost: cfg.Settings.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Settings.MaxConnsPerHost,
		DisableKeepAlives:   cfg.Settings.DisableKeepAlives,
		InsecureSkipVerify:  cfg.Settings.InsecureSkipVerify,
	})

	vars := target.Vars{}
	for k, v := range cfg.Settings.Variables {
		vars[k] = v
	}
	if cfg.Settings.BaseURL != "" {
		vars["baseUrl"] = cfg.Settings.BaseURL
		vars["baseURL"] = cfg.Settings.BaseURL
	}

	requests := make([]target.Request, 0, len(cfg.Requests))
	for _, rc := range cfg.Requests {
		requests = append(requests, buildRequest(rc, cfg.Settings.Headers))
	}

	var exec performance.TargetExecutor
	var err error
	if len(requests) == 1 {
		exec, err = target.NewHTTP(client, requests[0], vars)
	} else {
		exec, err = target.NewChain(client, requests, vars)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build target: %w", err)
	}

	plan := &Plan{
		PoolSize:   cfg.Pool.Size,
		Grace:      grace,
		Thresholds: cfg.Thresholds,
	}
	plan.Spec = performance.LoadTestSpec{
		ID:              cfg.ID,
		Name:            cfg.Name,
		VirtualUsers:    cfg.VirtualUsers,
		DurationSeconds: int(duration / time.Second),
		RampUpSeconds:   int(rampUp / time.Second),
		ThinkTimeMs:     int(thinkTime / time.Millisecond),
		LoadPattern:     pattern,
		Target:          exec,
	}
	if cfg.Settings.RateLimit > 0 {
		plan.Limiter = rate.NewLeakyBucket(cfg.Settings.RateLimit)
		plan.Spec.Pacer = plan.Limiter
	}
	return plan, nil
}

func buildRequest(rc RequestConfig, shared map[string]string) target.Request {
	headers := make(map[string]string, len(shared)+len(rc.Headers))
	for k, v := range shared {
		headers[k] = v
	}
	for k, v := range rc.Headers {
		headers[k] = v
	}

	req := target.Request{
		Name:         rc.Name,
		Method:       rc.Method,
		URL:          rc.URL,
		Headers:      headers,
		Body:         rc.Body,
		ExpectStatus: rc.ExpectStatus,
		Schema:       rc.Schema,
	}
	for _, ex := range rc.Extract {
		req.Extract = append(req.Extract, target.Extract{Name: ex.Name, Source: ex.Source, Path: ex.Path})
	}
	return req
}
