package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// Client is the bridge client.
type Client struct {
	baseURL     string
	token       string
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

var (
	_ orchestrator.Executor    = (*Client)(nil)
	_ orchestrator.Environment = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBackoff sets the base delay between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// New creates a Client. cfg may be nil for defaults.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kernel config: %w", err)
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("kernel")
	return c, nil
}

type variablesRequest struct {
	Names []string `json:"names"`
}

type variablesResponse struct {
	Values map[string]string `json:"values"`
}

type countResponse struct {
	Count int `json:"count"`
}

type updateRequest struct {
	Source string `json:"source"`
}

// Run sends the tool call to the bridge and returns its result. Failed
// executions come back as a result with Success false, not as an error.
func (c *Client) Run(ctx context.Context, call plan.ToolCall) (*plan.ToolResult, error) {
	body, err := plan.MarshalToolCall(call)
	if err != nil {
		return nil, err
	}
	var res plan.ToolResult
	if err := c.do(ctx, http.MethodPost, "/cells/run", body, &res, false); err != nil {
		return nil, err
	}
	if res.Tool == "" {
		res.Tool = call.Tool()
	}
	c.logger.Debug("tool call executed",
		zap.String("tool", string(res.Tool)),
		zap.Bool("success", res.Success),
	)
	return &res, nil
}

// Interrupt stops the executing cell.
func (c *Client) Interrupt(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/interrupt", nil, nil, true)
}

// FetchVariableValues returns the string form of each named variable the
// kernel defines.
func (c *Client) FetchVariableValues(ctx context.Context, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}
	body, err := json.Marshal(variablesRequest{Names: names})
	if err != nil {
		return nil, err
	}
	var resp variablesResponse
	if err := c.read(ctx, http.MethodPost, "/variables", body, &resp); err != nil {
		return nil, err
	}
	if resp.Values == nil {
		resp.Values = map[string]string{}
	}
	return resp.Values, nil
}

// CellCount returns the number of cells in the notebook.
func (c *Client) CellCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.read(ctx, http.MethodGet, "/cells", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Cell returns the cell at index.
func (c *Client) Cell(ctx context.Context, index int) (checkpoint.Cell, error) {
	var cell checkpoint.Cell
	if err := c.read(ctx, http.MethodGet, cellPath(index), nil, &cell); err != nil {
		return checkpoint.Cell{}, err
	}
	cell.Index = index
	return cell, nil
}

// CellOutput returns the joined outputs of the cell at index.
func (c *Client) CellOutput(ctx context.Context, index int) (string, error) {
	cell, err := c.Cell(ctx, index)
	if err != nil {
		return "", err
	}
	return strings.Join(cell.Outputs, "\n"), nil
}

// DeleteCell removes the cell at index.
func (c *Client) DeleteCell(ctx context.Context, index int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, http.MethodDelete, cellPath(index), nil, nil, false)
}

// UpdateCell replaces the source of the cell at index.
func (c *Client) UpdateCell(ctx context.Context, index int, source string) error {
	body, err := json.Marshal(updateRequest{Source: source})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, http.MethodPut, cellPath(index), body, nil, true)
}

// Snapshot returns the notebook as reasoning context.
func (c *Client) Snapshot(ctx context.Context) (contextbudget.NotebookContext, error) {
	var nc contextbudget.NotebookContext
	if err := c.read(ctx, http.MethodGet, "/snapshot", nil, &nc); err != nil {
		return contextbudget.NotebookContext{}, err
	}
	return nc, nil
}

func cellPath(index int) string {
	return "/cells/" + strconv.Itoa(index)
}

// read is a retried request bounded by the configured timeout.
func (c *Client) read(ctx context.Context, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, method, path, body, out, true)
}

// do sends one request, retrying transient failures when retry is set.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, retry bool) error {
	attempts := 1
	if retry {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		err := c.doRequest(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryableError(err) {
			return err
		}
		c.logger.Debug("transient bridge failure",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	if !retry {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &retryableError{err: fmt.Errorf("bridge request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/cells/"):
		return fmt.Errorf("%w: %s", ErrCellNotFound, path)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrKernelBusy, strings.TrimSpace(string(data)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &retryableError{err: &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}
