// Package history journals tracked jobs to SQLite so operators can see what
// happened across restarts, and stores agent settings such as the API token.
package history

import "time"

// Job is the journal row for one tracked job.
type Job struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Scenario     string     `json:"scenario"`
	Phase        string     `json:"phase"`
	RemoteStatus string     `json:"remote_status"`
	Degraded     bool       `json:"degraded"`
	Failure      string     `json:"failure,omitempty"`
	Error        string     `json:"error,omitempty"`
	Strategy     string     `json:"strategy,omitempty"`
	SizeBytes    int64      `json:"size_bytes"`
	Polls        int        `json:"polls"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Event is one recorded transition.
type Event struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	Phase        string    `json:"phase"`
	RemoteStatus string    `json:"remote_status"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	ConfigKeyAuthToken = "auth_token"
)
