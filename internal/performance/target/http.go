package target

import (
	"context"
	"net/http"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
)

// HTTP invokes one request per execution.
//
// A call succeeds when the response arrives, its status meets the
// expectation and its body satisfies the optional schema. Transport errors
// and failed expectations are failed records carrying the latency.
type HTTP struct {
	client *http.Client
	req    *prepared
	vars   Vars
}

// NewHTTP creates an HTTP target. vars seeds placeholder resolution.
func NewHTTP(client *http.Client, req Request, vars Vars) (*HTTP, error) {
	p, err := prepare(req)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = NewClient(DefaultClientConfig())
	}
	return &HTTP{client: client, req: p, vars: vars.clone()}, nil
}

// ExecuteOnce sends the request once.
func (h *HTTP) ExecuteOnce(ctx context.Context) performance.ExecutionRecord {
	start := time.Now()
	resp, err := h.req.do(ctx, h.client, h.vars)
	latency := time.Since(start)

	if err != nil {
		return performance.Failed(latency, err)
	}
	if err := h.req.check(resp); err != nil {
		return performance.Failed(latency, err)
	}
	return performance.Succeeded(latency)
}
