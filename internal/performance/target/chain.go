package target

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
)

// Chain runs an ordered list of requests as one unit of work.
//
// Every execution starts from a fresh copy of the seed variables; values
// extracted by a step are visible to the steps after it. The chain stops at
// the first failing step and yields a single record whose latency covers
// every step that ran.
type Chain struct {
	client *http.Client
	steps  []*prepared
	vars   Vars
}

// NewChain creates a chain target from at least one request.
func NewChain(client *http.Client, steps []Request, vars Vars) (*Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("chain requires at least one request")
	}

	c := &Chain{client: client, vars: vars.clone()}
	for _, step := range steps {
		p, err := prepare(step)
		if err != nil {
			return nil, err
		}
		c.steps = append(c.steps, p)
	}
	if c.client == nil {
		c.client = NewClient(DefaultClientConfig())
	}
	return c, nil
}

// ExecuteOnce runs every step in order.
func (c *Chain) ExecuteOnce(ctx context.Context) performance.ExecutionRecord {
	scope := c.vars.clone()
	start := time.Now()

	for i, step := range c.steps {
		resp, err := step.do(ctx, c.client, scope)
		if err == nil {
			err = step.check(resp)
		}
		if err == nil {
			err = step.extract(resp, scope)
		}
		if err != nil {
			return performance.Failed(time.Since(start), fmt.Errorf("step %s: %w", stepName(step, i), err))
		}
	}

	return performance.Succeeded(time.Since(start))
}

func stepName(p *prepared, i int) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", i+1)
}
