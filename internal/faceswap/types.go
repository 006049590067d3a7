package faceswap

import (
	"strconv"
	"strings"
	"time"
)

// Status is the remote job status. It only moves forward.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus normalises the wire value. The service reports "started" for
// freshly accepted jobs.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "started", "submitted", "queued", "pending":
		return StatusSubmitted
	case "processing", "running":
		return StatusProcessing
	case "completed", "done":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses so callers can refuse backwards moves.
func (s Status) Rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// JobState is the result of a status query. It is one of Processing,
// Completed or Failed.
type JobState interface {
	RemoteStatus() Status
	isJobState()
}

// Processing means the job exists (or is not yet visible) and has not finished.
type Processing struct {
	Status   Status
	Progress int
}

// Completed means the artifact was produced.
type Completed struct {
	FileReady      bool
	FileSizeBytes  int64
	ProcessingTime time.Duration
}

// Failed means the service gave up on the job.
type Failed struct {
	Reason string
}

func (p Processing) RemoteStatus() Status {
	if p.Status == "" {
		return StatusProcessing
	}
	return p.Status
}
func (Completed) RemoteStatus() Status { return StatusCompleted }
func (Failed) RemoteStatus() Status    { return StatusFailed }

func (Processing) isJobState() {}
func (Completed) isJobState()  {}
func (Failed) isJobState()     {}

// SubmitRequest carries the captured face and the chosen scenario.
type SubmitRequest struct {
	FaceImage []byte
	Scenario  string
}

// Validate checks the request without touching the network.
func (r SubmitRequest) Validate() error {
	if len(r.FaceImage) == 0 {
		return &ValidationError{Field: "face_image", Message: "image is required"}
	}
	sc := strings.TrimSpace(r.Scenario)
	if sc == "" {
		return &ValidationError{Field: "scenario", Message: "scenario is required"}
	}
	if n, err := strconv.Atoi(sc); err == nil && n < 1 {
		return &ValidationError{Field: "scenario", Message: "scenario index must be 1 or greater"}
	}
	return nil
}

// Submission is the accepted job.
type Submission struct {
	JobID       string
	SubmittedAt time.Time
}

// ResultLocation points at the finished artifact.
type ResultLocation struct {
	JobID          string
	MediaURL       string
	Format         string
	FileSizeBytes  int64
	ProcessingTime time.Duration
}

// Scenario is one target video the visitor can choose.
type Scenario struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

// Health is the service's self-reported readiness.
type Health struct {
	Status             string `json:"status"`
	FaceFusionReady    bool   `json:"facefusion_available"`
	GPUAvailable       bool   `json:"gpu_available"`
	ResponseTimeMillis int64  `json:"-"`
}

// Healthy reports whether the service declared itself usable.
func (h *Health) Healthy() bool {
	return h != nil && h.Status == "healthy"
}

// wire payloads

type submitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	FileReady      bool    `json:"file_ready"`
	FileSize       int64   `json:"file_size"`
	ProcessingTime float64 `json:"processing_time"`
	Error          string  `json:"error"`
}

type resultURLResponse struct {
	Success        bool    `json:"success"`
	Status         string  `json:"status"`
	FileURL        string  `json:"file_url"`
	Format         string  `json:"format"`
	JobID          string  `json:"job_id"`
	FileSize       int64   `json:"file_size"`
	ProcessingTime float64 `json:"processing_time"`
	Error          string  `json:"error"`
}

type scenariosResponse struct {
	Videos []Scenario `json:"videos"`
	Error  string     `json:"error"`
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
