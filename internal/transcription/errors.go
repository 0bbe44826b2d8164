package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"

	"voice-qc-go/internal/types"
)

// Transport adapters wrap these so the orchestrator can classify failures.
var (
	ErrQuota     = errors.New("provider quota exceeded")
	ErrTransient = errors.New("transient transport error")
)

// Kind classifies why a job failed.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindNoCredential      Kind = "no_credential"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindTransient         Kind = "transient_transport_error"
	KindProvider          Kind = "provider_error"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
)

// JobError is the terminal error of a transcription job. It always names the
// region and, when one was acquired, the credential in use.
type JobError struct {
	Kind         Kind
	JobID        string
	Region       string
	CredentialID string
	Stage        types.Stage
	Err          error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("job %s: %s in region %q at %s", e.JobID, e.Kind, e.Region, e.Stage)
	if e.CredentialID != "" {
		msg += fmt.Sprintf(" (credential %s)", e.CredentialID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *JobError) Unwrap() error { return e.Err }

// KindOf returns the Kind of a *JobError in err's chain, or "".
func KindOf(err error) Kind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

// classify maps an adapter error onto a Kind.
func classify(err error) Kind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrQuota):
		return KindQuotaExceeded
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return KindTransient
	default:
		return KindProvider
	}
}
