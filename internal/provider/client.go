package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
)

const maxResponseBytes = 8 << 20

// Client performs one outbound vendor call per Chat through an Adapter.
type Client struct {
	adapter     Adapter
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
}

// NewClient builds a client for cfg.Name. apiKey may be empty; Chat then
// fails with ErrNotConfigured without touching the network.
func NewClient(cfg config.ProviderConfig, apiKey string) (*Client, error) {
	adapter, err := Lookup(cfg.Name)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	return &Client{
		adapter:     adapter,
		apiKey:      strings.TrimSpace(apiKey),
		apiBase:     cfg.APIBase,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		httpClient:  &http.Client{Transport: transport},
	}, nil
}

// Name returns the canonical provider id.
func (c *Client) Name() string { return c.adapter.Name() }

// DefaultModel returns the configured default model.
func (c *Client) DefaultModel() string { return c.model }

// Configured reports whether a credential is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Chat sends a completion request to the vendor. Returned errors never
// contain the API key.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := c.chat(ctx, req)
	if err != nil {
		return nil, c.redact(err)
	}
	return resp, nil
}

func (c *Client) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	name := c.adapter.Name()
	if !c.Configured() {
		return nil, fmt.Errorf("%w: %s has no API key (run: siteagent auth set-key --provider %s)", ErrNotConfigured, name, name)
	}

	r := *req
	if r.Model == "" {
		r.Model = c.model
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = c.maxTokens
	}
	if r.Temperature == 0 {
		r.Temperature = c.temperature
	}
	body, err := c.adapter.FormatRequest(&r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adapter.Endpoint(c.apiBase, r.Model, c.apiKey), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.adapter.Headers(c.apiKey) {
		httpReq.Header[k] = v
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, c.timeout, name)
		}
		return nil, fmt.Errorf("execute %s request: %w", name, stripQuery(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, c.timeout, name)
		}
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Provider: name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return c.adapter.ParseResponse(respBody)
}

// Stream is declared for parity with vendor APIs but unsupported.
func (c *Client) Stream(_ context.Context, _ *ChatRequest, _ func(delta string)) error {
	return ErrNotImplemented
}

// stripQuery rebuilds a *url.Error without the query string, where
// key-in-URL vendors carry the credential.
func stripQuery(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	u := ue.URL
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return &url.Error{Op: ue.Op, URL: u, Err: ue.Err}
}

// redactedError masks the credential in the message but keeps the chain
// for errors.Is and errors.As.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func (c *Client) redact(err error) error {
	msg := err.Error()
	if c.apiKey == "" || !strings.Contains(msg, c.apiKey) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(msg, c.apiKey, "[REDACTED]"), err: err}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
