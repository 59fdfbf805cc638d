// Package platform is the outbound HTTP client shared by the OAuth
// exchangers and the publish adapters.
package platform

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

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
)

const (
	// DefaultTimeout bounds a single platform call when none is configured.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 1 << 20
)

// Request describes one call to a platform API. At most one of JSON and
// Form is sent as the body.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Bearer string
	Header map[string]string
	JSON   any
	Form   url.Values
}

// Response is a fully read platform response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Client executes platform requests under a per-call timeout. Calls are
// never retried: OAuth codes are single-use and publishes are not idempotent.
type Client struct {
	http     *http.Client
	executor failsafe.Executor[*Response]
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a client whose calls are bounded by limit.
func NewClient(limit time.Duration, opts ...Option) *Client {
	if limit <= 0 {
		limit = DefaultTimeout
	}
	c := &Client{
		http:     &http.Client{Transport: defaultTransport()},
		executor: failsafe.With[*Response](timeout.NewBuilder[*Response](limit).Build()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req and, on a 2xx response, decodes the JSON body into out when
// out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*Response]) (*Response, error) {
		return c.roundTrip(exec.Context(), req)
	})
	if err != nil {
		if errors.Is(err, timeout.ErrExceeded) {
			return nil, fmt.Errorf("request to %s timed out: %w", hostOf(req.URL), err)
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    ErrorMessage(resp.Body),
			Body:       resp.Body,
		}
	}
	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("decode %s response: %w", hostOf(req.URL), err)
		}
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.JSON != nil:
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", hostOf(req.URL), err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// ErrorMessage extracts a human readable message from a platform error body.
// Graph API nests it under error.message, LinkedIn uses a top-level message.
func ErrorMessage(body []byte) string {
	var payload struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Message          string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if payload.ErrorDescription != "" {
			return payload.ErrorDescription
		}
		if payload.Message != "" {
			return payload.Message
		}
		var flat string
		if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
		return ""
	}
	return strings.TrimSpace(string(body))
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "platform"
	}
	return u.Host
}

// defaultTransport caps connections per host so a slow platform cannot
// exhaust sockets during a sweep.
func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 5,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
