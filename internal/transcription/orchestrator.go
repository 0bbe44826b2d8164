// Package transcription drives long-running speech-to-text jobs against
// pluggable vendors: upload, submit, poll until terminal and parse the
// diarized result, failing over to another region at most once.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/types"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 120
)

// ProgressFunc receives progress for one job. It is called synchronously
// from the goroutine running the job.
type ProgressFunc func(types.Progress)

// Request describes one transcription job.
type Request struct {
	// JobID is generated when empty.
	JobID string
	Asset Asset
	// Region is the preferred region; defaults to the first configured one.
	Region  string
	Options Options
}

// Result is the outcome of a completed job.
type Result struct {
	Job       types.Job
	MediaType string
	Turns     []types.Turn
}

// Orchestrator runs transcription jobs. One Orchestrator may run many jobs
// concurrently; the credential pool is the only state they share.
type Orchestrator struct {
	transport       Transport
	pool            CredentialPool
	regions         []string
	pollInterval    time.Duration
	maxPollAttempts int
	now             func() time.Time
	log             *logrus.Entry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

func WithMaxPollAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxPollAttempts = n }
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator returns an orchestrator over the given vendor and regions.
func NewOrchestrator(t Transport, pool CredentialPool, regions []string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport:       t,
		pool:            pool,
		regions:         regions,
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.New().WithComponent("transcription")
	}
	if o.maxPollAttempts <= 0 {
		o.maxPollAttempts = DefaultMaxPollAttempts
	}
	return o
}

// Run drives one job to a terminal state. On failure the returned error is a
// *JobError and Result.Job holds the final snapshot.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	id := req.JobID
	if id == "" {
		id = uuid.New().String()
	}
	region := req.Region
	if region == "" && len(o.regions) > 0 {
		region = o.regions[0]
	}

	j := newJobState(id, region)
	pr := &progressReporter{jobID: id, sink: progress}
	log := o.log.WithFields(logrus.Fields{"job_id": id, "provider": o.transport.Name()})

	pr.emit(types.StageQueued, 0, "queued")
	if err := j.advance(types.StageUploading); err != nil {
		return Result{Job: j.snapshot()}, err
	}
	mediaType, err := ValidateAsset(req.Asset)
	if err != nil {
		_ = j.advance(types.StageFailed)
		pr.emit(types.StageFailed, 0, err.Error())
		log.WithError(err).Warn("rejecting asset")
		return Result{Job: j.snapshot()}, &JobError{
			Kind: KindUnsupportedFormat, JobID: id, Region: region, Stage: types.StageUploading, Err: err,
		}
	}

	switched := false
	for {
		turns, err := o.attempt(ctx, j, req, pr, log.WithFields(logrus.Fields{"region": j.job.Region, "attempt": j.job.Attempt}))
		if err == nil {
			return Result{Job: j.snapshot(), MediaType: mediaType, Turns: turns}, nil
		}

		kind := KindOf(err)
		next, ok := o.otherRegion(j.job.Region)
		if switched || !ok || (kind != KindNoCredential && kind != KindQuotaExceeded) {
			log.WithError(err).WithField("kind", kind).Error("transcription job failed")
			return Result{Job: j.snapshot()}, err
		}

		log.WithFields(logrus.Fields{"kind": kind, "from": j.job.Region, "to": next}).Warn("switching region")
		switched = true
		if rerr := j.requeue(next); rerr != nil {
			return Result{Job: j.snapshot()}, rerr
		}
		pr.newAttempt()
		pr.emit(types.StageQueued, 0, fmt.Sprintf("retrying in region %s", next))
		if err := j.advance(types.StageUploading); err != nil {
			return Result{Job: j.snapshot()}, err
		}
	}
}

// attempt runs one region attempt starting in Uploading. It reports exactly
// one outcome to the pool for the credential it acquires.
func (o *Orchestrator) attempt(ctx context.Context, j *jobState, req Request, pr *progressReporter, log *logrus.Entry) ([]types.Turn, error) {
	region := j.job.Region
	pr.emit(types.StageUploading, 5, "acquiring credential")

	if err := ctx.Err(); err != nil {
		return nil, o.fail(j, pr, nil, KindCancelled, err)
	}

	cred, err := o.pool.Acquire(region)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotAvailable) {
			log.WithError(err).Warn("unexpected credential pool error")
		}
		return nil, o.fail(j, pr, nil, KindNoCredential, err)
	}
	c := &settlement{pool: o.pool, id: cred.ID, log: log}
	log = log.WithField("credential_id", cred.ID)

	pr.emit(types.StageUploading, 10, "uploading recording")
	assetHandle, err := o.transport.Upload(ctx, cred, req.Asset)
	if err != nil {
		return nil, o.fail(j, pr, c, classify(err), fmt.Errorf("upload: %w", err))
	}
	pr.emit(types.StageUploading, 20, "upload complete")

	jobHandle, err := o.transport.Submit(ctx, cred, assetHandle, req.Options)
	if err != nil {
		return nil, o.fail(j, pr, c, classify(err), fmt.Errorf("submit: %w", err))
	}
	_ = j.advance(types.StageSubmitted)
	j.job.SubmittedAt = o.now()
	pr.emit(types.StageSubmitted, 25, "submitted")
	log.WithField("job_handle", jobHandle).Info("transcription submitted")

	_ = j.advance(types.StagePolling)
	var lastErr error
	for attempt := 1; attempt <= o.maxPollAttempts; attempt++ {
		if err := sleep(ctx, o.pollInterval); err != nil {
			return nil, o.fail(j, pr, c, KindCancelled, err)
		}

		res, err := o.transport.Poll(ctx, cred, jobHandle)
		j.job.LastPolledAt = o.now()
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.fail(j, pr, c, KindCancelled, ctx.Err())
			}
			if errors.Is(err, ErrQuota) {
				return nil, o.fail(j, pr, c, KindQuotaExceeded, fmt.Errorf("poll: %w", err))
			}
			// a failed poll is not a failed job; keep going until the cap
			lastErr = err
			log.WithError(err).WithField("poll_attempt", attempt).Warn("poll failed")
			continue
		}

		switch res.Status {
		case PollRunning:
			pr.emit(types.StagePolling, pollProgress(attempt), fmt.Sprintf("transcribing (poll %d/%d)", attempt, o.maxPollAttempts))
		case PollCompleted:
			turns, err := o.transport.ParseResult(res.Payload)
			if err != nil {
				return nil, o.fail(j, pr, c, KindProvider, fmt.Errorf("parse result: %w", err))
			}
			c.success()
			_ = j.advance(types.StageCompleted)
			pr.emit(types.StageCompleted, 100, fmt.Sprintf("completed with %d turns", len(turns)))
			log.WithField("turns", len(turns)).Info("transcription completed")
			return turns, nil
		case PollError:
			kind := KindProvider
			if res.Quota {
				kind = KindQuotaExceeded
			}
			return nil, o.fail(j, pr, c, kind, fmt.Errorf("provider: %s", res.ErrorInfo))
		default:
			lastErr = fmt.Errorf("unknown poll status %q", res.Status)
			log.WithError(lastErr).Warn("poll returned unexpected status")
		}
	}

	err = fmt.Errorf("no terminal status after %d polls", o.maxPollAttempts)
	if lastErr != nil {
		err = fmt.Errorf("%w: last error: %v", err, lastErr)
	}
	return nil, o.fail(j, pr, c, KindTimeout, err)
}

// fail moves the job to Failed, settles the credential, and builds the error.
func (o *Orchestrator) fail(j *jobState, pr *progressReporter, c *settlement, kind Kind, err error) error {
	stage := j.job.Stage
	_ = j.advance(types.StageFailed)
	pr.emit(types.StageFailed, pr.last, err.Error())

	je := &JobError{Kind: kind, JobID: j.job.ID, Region: j.job.Region, Stage: stage, Err: err}
	if c != nil {
		c.failure(kind == KindQuotaExceeded)
		je.CredentialID = c.id
	}
	return je
}

func (o *Orchestrator) otherRegion(current string) (string, bool) {
	for _, r := range o.regions {
		if r != current {
			return r, true
		}
	}
	return "", false
}

// settlement guarantees a single pool report per acquired credential.
type settlement struct {
	pool CredentialPool
	id   string
	done bool
	log  *logrus.Entry
}

func (s *settlement) success() {
	if s.done {
		return
	}
	s.done = true
	if err := s.pool.ReportSuccess(s.id); err != nil {
		s.log.WithError(err).Warn("report credential success")
	}
}

func (s *settlement) failure(quota bool) {
	if s.done {
		return
	}
	s.done = true
	if err := s.pool.ReportFailure(s.id, quota); err != nil {
		s.log.WithError(err).Warn("report credential failure")
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
