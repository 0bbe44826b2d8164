package types

import "time"

// Turn is one diarized utterance as returned by a transcription vendor.
type Turn struct {
	SpeakerID  string  `json:"speaker_id"`
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"` // 0–1
}

// ConsolidatedTurn is a maximal run of raw turns from the same speaker.
type ConsolidatedTurn struct {
	SpeakerID  string  `json:"speaker_id"`
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"`

	// FirstIndex and LastIndex point into the raw turn slice (inclusive).
	FirstIndex int `json:"first_index"`
	LastIndex  int `json:"last_index"`
}

// Issue is a rule violation reported by an evaluation model.
type Issue struct {
	Category      string `json:"category"`
	CommentText   string `json:"comment"`
	QuotedExcerpt string `json:"quoted_excerpt"`
}

// Provenance records which model path produced an EvaluationResult.
type Provenance string

const (
	// ProvenancePrimary: primary result was confident enough.
	ProvenancePrimary Provenance = "primary"
	// ProvenanceEscalated: escalated model ran and its result was kept.
	ProvenanceEscalated Provenance = "escalated"
	// ProvenanceNoImprovement: escalated model ran but the primary result was kept.
	ProvenanceNoImprovement Provenance = "low_confidence_no_improvement"
	// ProvenanceNotEscalated: low confidence but the primary model is not a cheap tier.
	ProvenanceNotEscalated Provenance = "low_confidence_not_escalated"
)

// EvaluationResult is the verdict for one conversation. Confidence and Score
// are on a 0–100 scale.
type EvaluationResult struct {
	Score      float64    `json:"score"`
	Confidence float64    `json:"confidence"`
	ModelUsed  string     `json:"model_used"`
	Provenance Provenance `json:"provenance"`
	Issues     []Issue    `json:"issues"`
	TokenCost  int        `json:"token_cost"`
}

// Stage is a transcription job lifecycle state.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageUploading Stage = "uploading"
	StageSubmitted Stage = "submitted"
	StagePolling   Stage = "polling"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Job is a snapshot of a transcription job.
type Job struct {
	ID           string    `json:"id"`
	Region       string    `json:"region"`
	Stage        Stage     `json:"stage"`
	Attempt      int       `json:"attempt"`
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`
}

// Progress is emitted to a caller-supplied sink while a job runs.
type Progress struct {
	JobID   string `json:"job_id"`
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// CallRecord is one row of a batch dataset.
type CallRecord struct {
	CallID   string `json:"call_id"`
	AudioURL string `json:"audio_url"`
	Region   string `json:"region,omitempty"`
	Language string `json:"language,omitempty"`
}

// DialogTurn is a consolidated turn with the issues attributed to it.
type DialogTurn struct {
	ConsolidatedTurn
	Issues []Issue `json:"issues,omitempty"`
}

// CallReport is the full QC outcome of one call.
type CallReport struct {
	CallID     string            `json:"call_id"`
	JobID      string            `json:"job_id,omitempty"`
	Region     string            `json:"region,omitempty"`
	MediaType  string            `json:"media_type,omitempty"`
	Dialog     []DialogTurn      `json:"dialog,omitempty"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`

	// Dropped issues quote text found in no turn; Unanchored ones quote nothing.
	Dropped    []Issue `json:"dropped_issues,omitempty"`
	Unanchored []Issue `json:"unanchored_issues,omitempty"`

	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}
