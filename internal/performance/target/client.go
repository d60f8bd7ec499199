// Package target provides TargetExecutor implementations that drive HTTP
// services: single requests, request chains and rate-capped wrappers.
package target

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig tunes the HTTP client shared by every virtual user of a run.
type ClientConfig struct {
	// Timeout bounds one request including reading the body.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections.
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited).
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive.
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	InsecureSkipVerify bool
}

// DefaultClientConfig returns defaults suited to load generation: a large
// idle pool so virtual users reuse connections instead of exhausting ports.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewClient builds an HTTP client from cfg. Zero fields take defaults.
func NewClient(cfg ClientConfig) *http.Client {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test environments
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
