package transcription

import (
	"fmt"
	"time"

	"voice-qc-go/internal/types"
)

// allowed lists the forward edges of the job lifecycle. The single backward
// edge, Failed -> Queued on region retry, goes through requeue.
var allowed = map[types.Stage][]types.Stage{
	types.StageQueued:    {types.StageUploading, types.StageFailed},
	types.StageUploading: {types.StageSubmitted, types.StageFailed},
	types.StageSubmitted: {types.StagePolling, types.StageFailed},
	types.StagePolling:   {types.StageCompleted, types.StageFailed},
}

// jobState is owned by a single Run call and never shared.
type jobState struct {
	job types.Job
}

func newJobState(id, region string) *jobState {
	return &jobState{job: types.Job{ID: id, Region: region, Stage: types.StageQueued, Attempt: 1}}
}

func (j *jobState) advance(to types.Stage) error {
	for _, s := range allowed[j.job.Stage] {
		if s == to {
			j.job.Stage = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s", j.job.Stage, to)
}

// requeue moves a failed job back to Queued in another region.
func (j *jobState) requeue(region string) error {
	if j.job.Stage != types.StageFailed {
		return fmt.Errorf("invalid transition: %s -> %s", j.job.Stage, types.StageQueued)
	}
	j.job.Stage = types.StageQueued
	j.job.Region = region
	j.job.Attempt++
	j.job.SubmittedAt = time.Time{}
	j.job.LastPolledAt = time.Time{}
	return nil
}

func (j *jobState) snapshot() types.Job { return j.job }

// progressReporter forwards progress to the caller's sink and keeps the
// percentage from going backwards within an attempt.
type progressReporter struct {
	jobID string
	sink  ProgressFunc
	last  int
}

func (p *progressReporter) emit(stage types.Stage, percent int, msg string) {
	if percent < p.last {
		percent = p.last
	}
	if percent > 100 {
		percent = 100
	}
	p.last = percent
	if p.sink != nil {
		p.sink(types.Progress{JobID: p.jobID, Stage: stage, Percent: percent, Message: msg})
	}
}

func (p *progressReporter) newAttempt() { p.last = 0 }

// pollProgress estimates progress while the vendor is still working.
func pollProgress(attempt int) int {
	return min(pollProgressCap, pollProgressBase+attempt*2)
}

const (
	pollProgressBase = 30
	pollProgressCap  = 95
)
