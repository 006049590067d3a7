// Package faceswap talks to the remote face-swap compute service: job
// submission, status checks, result lookup and cleanup.
package faceswap

import "context"

// Client is the job client used by the tracker.
type Client interface {
	// Submit uploads the face image and scenario and returns the remote job id.
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
	// GetStatus reports where the job is. An unknown job is reported as Processing.
	GetStatus(ctx context.Context, jobID string) (JobState, error)
	// GetResultURL returns where the finished media can be downloaded.
	GetResultURL(ctx context.Context, jobID string) (*ResultLocation, error)
	// Cleanup asks the service to drop the job's files. Failures are only logged.
	Cleanup(ctx context.Context, jobID string)

	// StreamURL is the endpoint that streams the finished media in one response.
	StreamURL(jobID string) string
	// VideoURL is the range-capable media endpoint.
	VideoURL(jobID string) string

	ListScenarios(ctx context.Context) ([]Scenario, error)
	Health(ctx context.Context) (*Health, error)
}
