package transcription

import (
	"context"

	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/types"
)

// Asset is the recording to transcribe: either raw bytes or a URL the
// vendor can fetch itself.
type Asset struct {
	Name string
	Data []byte
	URL  string
}

// Options are passed through to the vendor untouched.
type Options struct {
	Diarize         bool   `json:"diarize"`
	Language        string `json:"language,omitempty"`
	ContentAnalysis bool   `json:"content_analysis"`
	SpeakerCount    int    `json:"speaker_count,omitempty"`
}

// PollStatus is the vendor-reported state of a submitted job.
type PollStatus string

const (
	PollRunning   PollStatus = "running"
	PollCompleted PollStatus = "completed"
	PollError     PollStatus = "error"
)

// PollResult is one poll observation.
type PollResult struct {
	Status    PollStatus
	Payload   []byte
	ErrorInfo string
	// Quota marks a provider-side error as a quota problem.
	Quota bool
}

// Transport is implemented by each transcription vendor. Every call carries
// the credential the orchestrator acquired for it.
type Transport interface {
	Name() string
	Upload(ctx context.Context, cred credentials.Credential, asset Asset) (assetHandle string, err error)
	Submit(ctx context.Context, cred credentials.Credential, assetHandle string, opts Options) (jobHandle string, err error)
	Poll(ctx context.Context, cred credentials.Credential, jobHandle string) (PollResult, error)
	// ParseResult turns a completed payload into turns.
	ParseResult(payload []byte) ([]types.Turn, error)
}

// CredentialPool is the subset of *credentials.Pool the orchestrator uses.
type CredentialPool interface {
	Acquire(region string) (credentials.Credential, error)
	ReportSuccess(id string) error
	ReportFailure(id string, isQuotaError bool) error
}
