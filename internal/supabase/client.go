package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/person-registry/app/observability/metrics"
	"github.com/FACorreiaa/person-registry/internal/types"
)

const maxResponseBytes = 4 << 20

var ErrNotConfigured = errors.New("supabase client not configured")

// Config holds the hosted backend endpoint and keys.
type Config struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	// Timeout of the underlying http.Client. Zero keeps the transport defaults.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout (tests).
	HTTPClient *http.Client
}

// Client sends authenticated requests to the auth, REST and storage endpoints
// of the hosted backend. It always sends the public API key and a bearer
// credential: the caller's access token, the service role key for privileged
// calls, or the public key itself for anonymous calls.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	http       *http.Client
	logger     *slog.Logger
}

// New validates cfg and returns a Client. The URL and anon key are mandatory.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" || strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, fmt.Errorf("%w: url and anon key are required", ErrNotConfigured)
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    base,
		anonKey:    strings.TrimSpace(cfg.AnonKey),
		serviceKey: strings.TrimSpace(cfg.ServiceRoleKey),
		http:       hc,
		logger:     logger,
	}, nil
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HasServiceKey reports whether privileged requests can be made.
func (c *Client) HasServiceKey() bool { return c.serviceKey != "" }

// Request describes one call to the hosted backend.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// JSON is marshalled as the request body when non-nil.
	JSON any
	// Body is sent verbatim when JSON is nil.
	Body []byte
	// Token is the end user's access token. Empty means anonymous.
	Token string
	// Privileged authenticates with the service role key and ignores Token.
	Privileged bool
}

// Response is a buffered 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx answer from the hosted backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Do sends req and returns the buffered response. Non-2xx answers are
// returned as *APIError carrying the backend message, or the HTTP status text
// when the backend sent none.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := otel.Tracer("SupabaseClient").Start(ctx, "Do", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(req.Method),
		attribute.String("supabase.path", req.Path),
		attribute.Bool("supabase.privileged", req.Privileged),
	))
	defer span.End()

	l := c.logger.With(slog.String("method", req.Method), slog.String("path", req.Path))
	start := time.Now()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build request")
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		l.ErrorContext(ctx, "Upstream request failed", slog.Any("error", err))
		c.record(ctx, req, 0, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Upstream request failed")
		return nil, fmt.Errorf("supabase: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(ctx, req, resp.StatusCode, start)
		span.RecordError(err)
		return nil, fmt.Errorf("supabase: read response: %w", err)
	}
	c.record(ctx, req, resp.StatusCode, start)
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		l.WarnContext(ctx, "Upstream returned error",
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message))
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}

	l.DebugContext(ctx, "Upstream request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))
	span.SetStatus(codes.Ok, "")
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	if req.Privileged && c.serviceKey == "" {
		return nil, fmt.Errorf("%w: service role key is not configured", types.ErrAuth)
	}

	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("supabase: marshal json: %w", err)
		}
		body = bytes.NewReader(b)
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("supabase: new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.JSON != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, values := range req.Header {
		for i, v := range values {
			if i == 0 {
				httpReq.Header.Set(k, v)
				continue
			}
			httpReq.Header.Add(k, v)
		}
	}

	switch {
	case req.Privileged:
		httpReq.Header.Set("apikey", c.serviceKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.serviceKey)
	case req.Token != "":
		httpReq.Header.Set("apikey", c.anonKey)
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	default:
		httpReq.Header.Set("apikey", c.anonKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.anonKey)
	}
	return httpReq, nil
}

func (c *Client) record(ctx context.Context, req Request, status int, start time.Time) {
	m := metrics.Get()
	attrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("service", serviceOf(req.Path)),
		attribute.Int("status", status),
	)
	m.UpstreamRequestsTotal.Add(ctx, 1, attrs)
	m.UpstreamDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
	if status == 0 || status >= 400 {
		m.UpstreamErrorsTotal.Add(ctx, 1, attrs)
	}
}

// serviceOf maps "/rest/v1/pessoas" to "rest".
func serviceOf(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return path
}

func parseAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var body struct {
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            any    `json:"error"`
		Code             any    `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil {
		for _, candidate := range []string{body.ErrorDescription, body.Msg, body.Message, stringOf(body.Error)} {
			if strings.TrimSpace(candidate) != "" {
				apiErr.Message = candidate
				break
			}
		}
		apiErr.Code = stringOf(body.Code)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("status %d", status)
	}
	return apiErr
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

// StatusCode extracts the HTTP status of an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
