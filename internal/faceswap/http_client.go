package faceswap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Per-call time budgets.
const (
	DefaultSubmitTimeout  = 30 * time.Second
	DefaultStatusTimeout  = 3 * time.Second
	DefaultResultTimeout  = 5 * time.Second
	DefaultCleanupTimeout = 10 * time.Second
	DefaultListTimeout    = 10 * time.Second
	DefaultHealthTimeout  = 5 * time.Second

	maxResponseBytes = 1 << 20
	maxDetailLen     = 512
)

// Timeouts bounds each remote operation.
type Timeouts struct {
	Submit  time.Duration
	Status  time.Duration
	Result  time.Duration
	Cleanup time.Duration
	List    time.Duration
	Health  time.Duration
}

// DefaultTimeouts returns the standard budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Submit:  DefaultSubmitTimeout,
		Status:  DefaultStatusTimeout,
		Result:  DefaultResultTimeout,
		Cleanup: DefaultCleanupTimeout,
		List:    DefaultListTimeout,
		Health:  DefaultHealthTimeout,
	}
}

// HTTPClient is the real client for the face-swap service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	timeouts   Timeouts
	logger     *slog.Logger
}

// NewHTTPClient builds a client for baseURL. Timeouts are applied per call,
// so the underlying http.Client carries none.
func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeouts:   DefaultTimeouts(),
		logger:     logger,
	}
}

// SetHTTPClient swaps the transport, mostly for tests.
func (c *HTTPClient) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

// SetTimeouts overrides the per-call budgets. Zero fields keep their defaults.
func (c *HTTPClient) SetTimeouts(t Timeouts) {
	def := DefaultTimeouts()
	pick := func(v, d time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return d
	}
	c.timeouts = Timeouts{
		Submit:  pick(t.Submit, def.Submit),
		Status:  pick(t.Status, def.Status),
		Result:  pick(t.Result, def.Result),
		Cleanup: pick(t.Cleanup, def.Cleanup),
		List:    pick(t.List, def.List),
		Health:  pick(t.Health, def.Health),
	}
}

// BaseURL returns the resolved service root.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("face_image_base64", base64.StdEncoding.EncodeToString(req.FaceImage)); err != nil {
		return nil, fmt.Errorf("encode image field: %w", err)
	}
	if err := mw.WriteField("video_id", strings.TrimSpace(req.Scenario)); err != nil {
		return nil, fmt.Errorf("encode scenario field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	c.logger.Info("submitting face-swap job",
		"scenario", req.Scenario,
		"image_bytes", len(req.FaceImage),
	)

	status, respBody, err := c.do(ctx, "submit", c.timeouts.Submit, http.MethodPost, "/faceswap-with-camera",
		&body, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ServiceError{Op: "submit", StatusCode: status, Detail: detailFrom(respBody)}
	}

	var result submitResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ServiceError{Op: "submit", StatusCode: status, Detail: "malformed response: " + err.Error()}
	}
	if !result.Success || result.JobID == "" {
		detail := result.Error
		if detail == "" {
			detail = "service did not return a job id"
		}
		return nil, &ServiceError{Op: "submit", StatusCode: status, Detail: detail}
	}

	c.logger.Info("face-swap job accepted", "job_id", result.JobID)
	return &Submission{JobID: result.JobID, SubmittedAt: time.Now()}, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (JobState, error) {
	if jobID == "" {
		return nil, &ValidationError{Field: "job_id", Message: "job id is required"}
	}

	status, respBody, err := c.do(ctx, "status", c.timeouts.Status, http.MethodGet, "/status/"+url.PathEscape(jobID), nil, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// The service has not registered the job yet.
		return Processing{Status: StatusSubmitted}, nil
	}
	if status < 200 || status >= 300 {
		return nil, &ServiceError{Op: "status", StatusCode: status, Detail: detailFrom(respBody)}
	}

	var sr statusResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, &ServiceError{Op: "status", StatusCode: status, Detail: "malformed response: " + err.Error()}
	}

	switch st := ParseStatus(sr.Status); st {
	case StatusCompleted:
		return Completed{
			FileReady:      sr.FileReady,
			FileSizeBytes:  sr.FileSize,
			ProcessingTime: seconds(sr.ProcessingTime),
		}, nil
	case StatusFailed:
		reason := sr.Error
		if reason == "" {
			reason = "processing failed"
		}
		return Failed{Reason: reason}, nil
	default:
		return Processing{Status: st, Progress: sr.Progress}, nil
	}
}

func (c *HTTPClient) GetResultURL(ctx context.Context, jobID string) (*ResultLocation, error) {
	if jobID == "" {
		return nil, &ValidationError{Field: "job_id", Message: "job id is required"}
	}

	status, respBody, err := c.do(ctx, "result url", c.timeouts.Result, http.MethodGet,
		"/result/"+url.PathEscape(jobID)+"/url", nil, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &NotReadyError{JobID: jobID}
	}
	if status < 200 || status >= 300 {
		return nil, &ServiceError{Op: "result url", StatusCode: status, Detail: detailFrom(respBody)}
	}

	var rr resultURLResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, &ServiceError{Op: "result url", StatusCode: status, Detail: "malformed response: " + err.Error()}
	}
	if !rr.Success {
		return nil, &NotReadyError{JobID: jobID, Status: ParseStatus(rr.Status)}
	}
	if rr.FileURL == "" {
		return nil, &ServiceError{Op: "result url", StatusCode: status, Detail: "response carried no file url"}
	}

	return &ResultLocation{
		JobID:          jobID,
		MediaURL:       c.resolve(rr.FileURL),
		Format:         rr.Format,
		FileSizeBytes:  rr.FileSize,
		ProcessingTime: seconds(rr.ProcessingTime),
	}, nil
}

func (c *HTTPClient) Cleanup(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}
	status, respBody, err := c.do(ctx, "cleanup", c.timeouts.Cleanup, http.MethodDelete,
		"/cleanup/"+url.PathEscape(jobID), nil, "")
	if err != nil {
		c.logger.Warn("remote cleanup failed", "job_id", jobID, "error", err)
		return
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("remote cleanup rejected", "job_id", jobID, "status", status, "detail", detailFrom(respBody))
		return
	}
	c.logger.Debug("remote cleanup done", "job_id", jobID)
}

func (c *HTTPClient) StreamURL(jobID string) string {
	return c.baseURL + "/result/" + url.PathEscape(jobID) + "/stream"
}

func (c *HTTPClient) VideoURL(jobID string) string {
	return c.baseURL + "/video/" + url.PathEscape(jobID)
}

func (c *HTTPClient) ListScenarios(ctx context.Context) ([]Scenario, error) {
	status, respBody, err := c.do(ctx, "list scenarios", c.timeouts.List, http.MethodGet, "/videos", nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ServiceError{Op: "list scenarios", StatusCode: status, Detail: detailFrom(respBody)}
	}
	var sr scenariosResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, &ServiceError{Op: "list scenarios", StatusCode: status, Detail: "malformed response: " + err.Error()}
	}
	if sr.Error != "" && len(sr.Videos) == 0 {
		return nil, &ServiceError{Op: "list scenarios", StatusCode: status, Detail: sr.Error}
	}
	return sr.Videos, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	start := time.Now()
	status, respBody, err := c.do(ctx, "health", c.timeouts.Health, http.MethodGet, "/health", nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ServiceError{Op: "health", StatusCode: status, Detail: detailFrom(respBody)}
	}
	var h Health
	if err := json.Unmarshal(respBody, &h); err != nil {
		return nil, &ServiceError{Op: "health", StatusCode: status, Detail: "malformed response: " + err.Error()}
	}
	h.ResponseTimeMillis = time.Since(start).Milliseconds()
	return &h, nil
}

// do sends one request under its own time budget and returns the status and
// a bounded copy of the body.
func (c *HTTPClient) do(ctx context.Context, op string, budget time.Duration, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, &NetworkError{Op: op, Err: ctx.Err()}
		}
		return 0, nil, classify(op, budget, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, classify(op, budget, fmt.Errorf("read body: %w", err))
	}
	return resp.StatusCode, respBody, nil
}

func (c *HTTPClient) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// detailFrom pulls a human readable message out of an error body.
func detailFrom(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Detail) > 0 {
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil && s != "" {
				return s
			}
			return truncate(string(payload.Detail))
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	return truncate(text)
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "..."
}
