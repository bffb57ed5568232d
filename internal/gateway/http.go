package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ Gateway = (*HTTPClient)(nil)

const (
	defaultTimeout = 15 * time.Second

	// maxErrorBody bounds how much of an error reply is read.
	maxErrorBody = 4 << 10
)

// Option configures an [HTTPClient].
type Option func(*HTTPClient)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.hc = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.hc = &http.Client{Timeout: d}
		}
	}
}

// WithBreaker guards every request with a circuit breaker. Client errors
// (4xx other than 429) do not count as failures.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *HTTPClient) {
		if cfg.Name == "" {
			cfg.Name = "gateway"
		}
		if cfg.IsFailure == nil {
			cfg.IsFailure = isBackendFailure
		}
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// HTTPClient implements [Gateway] against the backend's JSON API:
//
//	POST /interviews                     {candidate}   -> {session_id, prompt}
//	POST /interviews/{id}/answers        {text}        -> {next_prompt} | {report_id}
//	POST /interviews/{id}/end                          -> {report_id?}
//	POST /transcriptions                 multipart     -> {transcript}
//	GET  /health                                        -> 2xx
//
// Error replies carry {"error": "..."}.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPClient creates a client for the backend at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("gateway: parse base URL: %w", err)
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// StartInterview implements [Gateway].
func (c *HTTPClient) StartInterview(ctx context.Context, cand Candidate) (Started, error) {
	var out Started
	if err := c.postJSON(ctx, "/interviews", struct {
		Candidate Candidate `json:"candidate"`
	}{cand}, &out); err != nil {
		return Started{}, fmt.Errorf("gateway: start interview: %w", err)
	}
	if out.SessionID == "" {
		return Started{}, errors.New("gateway: start interview: reply without session_id")
	}
	return out, nil
}

// SubmitAnswer implements [Gateway].
func (c *HTTPClient) SubmitAnswer(ctx context.Context, sessionID, text string) (Reply, error) {
	var out Reply
	path := "/interviews/" + url.PathEscape(sessionID) + "/answers"
	if err := c.postJSON(ctx, path, struct {
		Text string `json:"text"`
	}{text}, &out); err != nil {
		return Reply{}, fmt.Errorf("gateway: submit answer: %w", err)
	}
	if out.NextPrompt == "" && out.ReportID == "" {
		return Reply{}, errors.New("gateway: submit answer: reply has neither next_prompt nor report_id")
	}
	return out, nil
}

// EndInterview implements [Gateway].
func (c *HTTPClient) EndInterview(ctx context.Context, sessionID string) (Ended, error) {
	var out Ended
	path := "/interviews/" + url.PathEscape(sessionID) + "/end"
	if err := c.postJSON(ctx, path, nil, &out); err != nil {
		return Ended{}, fmt.Errorf("gateway: end interview: %w", err)
	}
	return out, nil
}

// TranscribeRemote implements [Gateway]. The clip is uploaded as the "audio"
// form file with an optional "language" field.
func (c *HTTPClient) TranscribeRemote(ctx context.Context, clip stt.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	filename := clip.Filename
	if filename == "" {
		filename = "answer.wav"
	}
	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("gateway: transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return "", fmt.Errorf("gateway: transcribe: write audio: %w", err)
	}
	if clip.Language != "" {
		if err := mw.WriteField("language", clip.Language); err != nil {
			return "", fmt.Errorf("gateway: transcribe: write language: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("gateway: transcribe: close multipart writer: %w", err)
	}

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := c.do(ctx, http.MethodPost, "/transcriptions", mw.FormDataContentType(), body.Bytes(), &out); err != nil {
		return "", fmt.Errorf("gateway: transcribe: %w", err)
	}
	return strings.TrimSpace(out.Transcript), nil
}

// Ping checks that the backend answers its health endpoint. It backs the
// readiness probe and bypasses the circuit breaker.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("gateway: ping: %w", err)
	}
	c.authorize(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gateway: ping: %w", &APIError{StatusCode: resp.StatusCode})
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, "application/json", payload, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, payload []byte, out any) error {
	ctx, span := observe.StartSpan(ctx, "gateway "+method+" "+spanPath(path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	call := func() error {
		return c.roundTrip(ctx, method, path, contentType, payload, out)
	}
	var err error
	if c.breaker == nil {
		err = call()
	} else {
		err = c.breaker.Execute(call)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// spanPath drops session IDs from a request path so span names stay few.
func spanPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "interviews" {
		parts[1] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path, contentType string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	observe.InjectTraceContext(ctx, req.Header)
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// errorMessage extracts {"error": "..."} from an error reply, falling back to
// the raw text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

// isBackendFailure keeps caller mistakes and cancellations from opening the
// breaker.
func isBackendFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
