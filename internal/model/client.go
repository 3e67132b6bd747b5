// Package model talks to the locally hosted language model (Ollama) that turns
// a prompt into the one-sentence description shown on the sensor display.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/ambient-gateway/internal/circuitbreaker"
	"github.com/kjstillabower/ambient-gateway/internal/observability"
)

// Generator produces text for a prompt. Any returned error is a model error;
// callers fall back rather than surfacing it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelTimeout     = errors.New("model timeout")
	ErrModelStatus      = errors.New("model returned error status")
	ErrModelResponse    = errors.New("model response invalid")
)

const (
	DefaultBaseURL     = "http://127.0.0.1:11434"
	DefaultModel       = "mistral"
	DefaultTimeout     = 60 * time.Second
	DefaultNumPredict  = 64
	DefaultTemperature = 0.7

	maxResponseBytes = 1 << 20
	maxErrorSnippet  = 200
)

// Options tunes generation. Zero values take the package defaults.
type Options struct {
	// NumPredict caps generated tokens; one sentence rarely needs more than 64.
	NumPredict  int
	// Temperature is the sampling temperature; nil takes DefaultTemperature so
	// an explicit 0 stays available for deterministic output.
	Temperature *float64
}

// OllamaClient calls POST {baseURL}/api/generate with streaming disabled.
type OllamaClient struct {
	baseURL string
	model   string
	timeout time.Duration
	options Options
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOllamaClient validates baseURL and returns a client. Empty baseURL and
// model take DefaultBaseURL and DefaultModel; timeout <= 0 takes DefaultTimeout.
func NewOllamaClient(baseURL, model string, timeout time.Duration, opts Options) (*OllamaClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid model base URL %q", baseURL)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if opts.NumPredict <= 0 {
		opts.NumPredict = DefaultNumPredict
	}
	if opts.Temperature == nil {
		t := DefaultTemperature
		opts.Temperature = &t
	} else if *opts.Temperature < 0 {
		return nil, fmt.Errorf("model temperature must not be negative, got %v", *opts.Temperature)
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		options: opts,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker guards Generate with cb. Nil disables the breaker.
func (c *OllamaClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.model
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
	Error    string  `json:"error"`
}

// Generate sends prompt to the model and returns the generated text, trimmed of
// surrounding whitespace. A single attempt is made.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.breaker == nil {
		return c.generate(ctx, prompt)
	}
	var text string
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		text, callErr = c.generate(ctx, prompt)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.ModelCallsTotal.WithLabelValues("circuit_open").Inc()
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return text, err
}

func (c *OllamaClient) generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, prompt)
	if err != nil {
		observability.ModelCallsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		status := "error"
		wrapped := fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		if isTimeout(err) {
			status = "timeout"
			wrapped = fmt.Errorf("%w after %s: %w", ErrModelTimeout, c.timeout, err)
		}
		observability.ModelCallsTotal.WithLabelValues(status).Inc()
		observability.ModelDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return "", wrapped
	}
	defer resp.Body.Close()

	status := observability.StatusLabel(resp.StatusCode)
	observability.ModelCallsTotal.WithLabelValues(status).Inc()
	observability.ModelDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w reading body: %w", ErrModelTimeout, err)
		}
		return "", fmt.Errorf("%w: read body: %w", ErrModelResponse, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrModelStatus, resp.StatusCode, errorSnippet(body))
	}

	var apiResp generateResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("%w: parse response: %w", ErrModelResponse, err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrModelResponse, apiResp.Error)
	}
	if apiResp.Response == nil {
		return "", fmt.Errorf("%w: missing response field", ErrModelResponse)
	}
	text := strings.TrimSpace(*apiResp.Response)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrModelResponse)
	}
	return text, nil
}

func (c *OllamaClient) buildRequest(ctx context.Context, prompt string) (*http.Request, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  c.options.NumPredict,
			Temperature: *c.options.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// errorSnippet extracts Ollama's {"error": "..."} message, or a short prefix of the raw body.
func errorSnippet(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
