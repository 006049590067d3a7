package api

import (
	"time"

	"github.com/heimdex/faceswap-kiosk/internal/download"
	"github.com/heimdex/faceswap-kiosk/internal/history"
	"github.com/heimdex/faceswap-kiosk/internal/session"
	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

type HealthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	UptimeS  int64           `json:"uptime_s"`
	Upstream *UpstreamHealth `json:"upstream,omitempty"`
}

type UpstreamHealth struct {
	BaseURL         string `json:"base_url"`
	Reachable       bool   `json:"reachable"`
	Status          string `json:"status,omitempty"`
	FaceFusionReady bool   `json:"facefusion_ready"`
	GPUAvailable    bool   `json:"gpu_available"`
	ResponseMS      int64  `json:"response_ms"`
	Error           string `json:"error,omitempty"`
}

type StatusResponse struct {
	State   string         `json:"state"`
	Session session.Status `json:"session"`
	Live    []JobResponse  `json:"live_jobs"`
}

type ScenariosResponse struct {
	Scenarios []ScenarioResponse `json:"scenarios"`
}

type ScenarioResponse struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

// StartJobRequest is the JSON form of a start. The image is standard base64.
type StartJobRequest struct {
	FaceImage string `json:"face_image_base64"`
	Scenario  string `json:"scenario"`
}

type ProgressResponse struct {
	Strategy    string  `json:"strategy"`
	Percent     float64 `json:"percent"`
	BytesLoaded int64   `json:"bytes_loaded"`
	BytesTotal  int64   `json:"bytes_total"`
	Speed       float64 `json:"bytes_per_second"`
}

type ResultResponse struct {
	URL         string `json:"url"`
	SizeBytes   int64  `json:"size_bytes"`
	Strategy    string `json:"strategy"`
	RetrievedAt string `json:"retrieved_at"`
}

type JobResponse struct {
	ID             string            `json:"id"`
	Key            string            `json:"key,omitempty"`
	Scenario       string            `json:"scenario,omitempty"`
	Phase          string            `json:"phase"`
	RemoteStatus   string            `json:"remote_status,omitempty"`
	Degraded       bool              `json:"degraded"`
	DegradedReason string            `json:"degraded_reason,omitempty"`
	Polls          int               `json:"polls"`
	Progress       *ProgressResponse `json:"progress,omitempty"`
	Result         *ResultResponse   `json:"result,omitempty"`
	Failure        string            `json:"failure,omitempty"`
	Error          string            `json:"error,omitempty"`
	Retryable      bool              `json:"retryable"`
	SubmittedAt    string            `json:"submitted_at,omitempty"`
	UpdatedAt      string            `json:"updated_at"`
	Source         string            `json:"source"`
}

type HistoryResponse struct {
	Jobs []HistoryJobResponse `json:"jobs"`
}

type HistoryJobResponse struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Scenario     string `json:"scenario"`
	Phase        string `json:"phase"`
	RemoteStatus string `json:"remote_status"`
	Degraded     bool   `json:"degraded"`
	Failure      string `json:"failure,omitempty"`
	Error        string `json:"error,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	Polls        int    `json:"polls"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

const (
	sourceLive    = "live"
	sourceJournal = "journal"
)

func SnapshotToResponse(s tracker.Snapshot) JobResponse {
	resp := JobResponse{
		ID:             s.JobID,
		Key:            s.Key,
		Scenario:       s.Scenario,
		Phase:          string(s.Phase),
		RemoteStatus:   string(s.RemoteStatus),
		Degraded:       s.Degraded,
		DegradedReason: s.DegradedReason,
		Polls:          s.Polls,
		Failure:        string(s.Failure),
		Error:          s.Error,
		Retryable:      s.Retryable,
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
		Source:         sourceLive,
	}
	if !s.SubmittedAt.IsZero() {
		resp.SubmittedAt = s.SubmittedAt.Format(time.RFC3339)
	}
	if s.Progress != nil {
		resp.Progress = progressToResponse(*s.Progress)
	}
	if s.Result != nil {
		resp.Result = &ResultResponse{
			URL:         s.Result.ReferenceURL,
			SizeBytes:   s.Result.SizeBytes,
			Strategy:    string(s.Result.Strategy),
			RetrievedAt: s.Result.RetrievedAt.Format(time.RFC3339),
		}
	}
	return resp
}

func progressToResponse(p download.Progress) *ProgressResponse {
	return &ProgressResponse{
		Strategy:    string(p.Strategy),
		Percent:     p.Percent,
		BytesLoaded: p.BytesLoaded,
		BytesTotal:  p.BytesTotal,
		Speed:       p.Speed,
	}
}

// JournalToResponse renders a job this session no longer holds. Its media
// is gone, so no result URL is given.
func JournalToResponse(j *history.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Scenario:     j.Scenario,
		Phase:        j.Phase,
		RemoteStatus: j.RemoteStatus,
		Degraded:     j.Degraded,
		Polls:        j.Polls,
		Failure:      j.Failure,
		Error:        j.Error,
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
		Source:       sourceJournal,
	}
	if j.SubmittedAt != nil {
		resp.SubmittedAt = j.SubmittedAt.Format(time.RFC3339)
	}
	return resp
}

func HistoryJobToResponse(j *history.Job) HistoryJobResponse {
	return HistoryJobResponse{
		ID:           j.ID,
		SessionID:    j.SessionID,
		Scenario:     j.Scenario,
		Phase:        j.Phase,
		RemoteStatus: j.RemoteStatus,
		Degraded:     j.Degraded,
		Failure:      j.Failure,
		Error:        j.Error,
		Strategy:     j.Strategy,
		SizeBytes:    j.SizeBytes,
		Polls:        j.Polls,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
}
