package target

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/wesleyorama2/vuload/pkg/jsonpath"
	"github.com/wesleyorama2/vuload/pkg/jsonschema"
)

// Request describes one HTTP call. URL, header values and Body may contain
// {{name}} placeholders.
type Request struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string

	// ExpectStatus is the required status code. Zero accepts any status
	// below 400.
	ExpectStatus int

	// Schema, when set, is a JSON Schema the response body must satisfy.
	Schema string

	// Extract stores values from the response into the variable scope of
	// later requests in a chain.
	Extract []Extract
}

// Extract names a value to capture from a response.
type Extract struct {
	Name string

	// Source is "body" (default), "header" or "status".
	Source string

	// Path is a JSONPath for body sources and a header name for header
	// sources.
	Path string
}

// Vars is a variable scope for placeholder resolution.
type Vars map[string]string

var placeholder = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// Resolve replaces {{name}} placeholders with values from vars. Unknown
// placeholders are left as they are.
func (v Vars) Resolve(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if val, ok := v[name]; ok {
			return val
		}
		return m
	})
}

func (v Vars) clone() Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// prepared is a Request with its schema compiled once for all executions.
type prepared struct {
	Request
	schema *jsonschema.Schema
}

func prepare(req Request) (*prepared, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("request %q: url is required", req.Name)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)

	p := &prepared{Request: req}
	if req.Schema != "" {
		s, err := jsonschema.Compile(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("request %q: %w", req.Name, err)
		}
		p.schema = s
	}
	return p, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do sends the request with placeholders resolved from vars and reads the
// full body.
func (p *prepared) do(ctx context.Context, client *http.Client, vars Vars) (*response, error) {
	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(vars.Resolve(p.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, p.Method, vars.Resolve(p.URL), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range p.Headers {
		httpReq.Header.Set(key, vars.Resolve(value))
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// check applies the status and schema expectations to resp.
func (p *prepared) check(resp *response) error {
	if p.ExpectStatus != 0 {
		if resp.status != p.ExpectStatus {
			return fmt.Errorf("unexpected status %d (want %d)", resp.status, p.ExpectStatus)
		}
	} else if resp.status >= 400 {
		return fmt.Errorf("unexpected status %d", resp.status)
	}

	if p.schema != nil {
		if err := p.schema.Validate(resp.body); err != nil {
			return fmt.Errorf("response does not match schema: %w", err)
		}
	}
	return nil
}

// extract copies the configured values from resp into vars.
func (p *prepared) extract(resp *response, vars Vars) error {
	for _, ex := range p.Extract {
		var value string
		switch ex.Source {
		case "header":
			value = resp.header.Get(ex.Path)
			if value == "" {
				return fmt.Errorf("extract %s: header %s not present", ex.Name, ex.Path)
			}
		case "status":
			value = strconv.Itoa(resp.status)
		case "", "body":
			v, err := jsonpath.Extract(resp.body, ex.Path)
			if err != nil {
				return fmt.Errorf("extract %s: %w", ex.Name, err)
			}
			value = v
		default:
			return fmt.Errorf("extract %s: unknown source %q", ex.Name, ex.Source)
		}
		vars[ex.Name] = value
	}
	return nil
}
