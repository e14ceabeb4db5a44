package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

const (
	pathEvaluate   = "/v1/evaluate"
	pathBooleanize = "/v1/booleanize"
)

// HTTPConfig holds configuration for the HTTP evaluator client
type HTTPConfig struct {
	BaseURL string // e.g. http://localhost:8090
	APIKey  string
	Timeout time.Duration
}

// HTTPClient is a Client backed by the evaluator's JSON API
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP evaluator client
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8090"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: newEvaluatorHTTPClient(cfg.Timeout),
	}
}

// newEvaluatorHTTPClient creates an HTTP client tuned for many small
// request/response round trips to one host.
func newEvaluatorHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

type evalRequest struct {
	Tasks     []Task                                   `json:"tasks"`
	Variables map[vars.Partition]map[string]vars.Value `json:"variables"`
}

type evaluateResponse struct {
	Results map[string]vars.Value `json:"results"`
}

type booleanizeResponse struct {
	Results map[string]bool `json:"results"`
}

// undefinedResponse is the 422 body for a reference to a missing variable
type undefinedResponse struct {
	Undefined struct {
		Name      string         `json:"name"`
		Partition vars.Partition `json:"partition"`
	} `json:"undefined"`
}

func (c *HTTPClient) Evaluate(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]vars.Value, error) {
	remote, local := split(tasks)
	out := make(map[string]vars.Value, len(tasks))
	for _, name := range local {
		out[name] = vars.Bool(true)
	}
	if len(remote) == 0 {
		return out, nil
	}

	var resp evaluateResponse
	if err := c.post(ctx, pathEvaluate, remote, env, &resp); err != nil {
		return nil, err
	}
	if err := checkNames(remote, resp.Results); err != nil {
		return nil, err
	}
	for k, v := range resp.Results {
		out[k] = v
	}
	return out, nil
}

func (c *HTTPClient) Booleanize(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]bool, error) {
	remote, local := split(tasks)
	out := make(map[string]bool, len(tasks))
	for _, name := range local {
		out[name] = true
	}
	if len(remote) == 0 {
		return out, nil
	}

	var resp booleanizeResponse
	if err := c.post(ctx, pathBooleanize, remote, env, &resp); err != nil {
		return nil, err
	}
	if err := checkNames(remote, resp.Results); err != nil {
		return nil, err
	}
	for k, v := range resp.Results {
		out[k] = v
	}
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, tasks []Task, env *vars.Environment, into any) error {
	req := evalRequest{Tasks: tasks, Variables: make(map[vars.Partition]map[string]vars.Value, len(vars.Partitions))}
	if env == nil {
		env = vars.NewEnvironment()
	}
	for _, p := range vars.Partitions {
		req.Variables[p] = env.Snapshot(p)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: do request: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var u undefinedResponse
		if err := json.NewDecoder(resp.Body).Decode(&u); err == nil && u.Undefined.Name != "" {
			return &vars.NotDefinedError{Name: u.Undefined.Name, Partition: u.Undefined.Partition}
		}
		return &StatusError{Code: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return nil
}
