package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/types"
)

// wavHeader is enough for content sniffing to report audio/wav.
var wavHeader = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x40\x1f\x00\x00\x80\x3e\x00\x00\x02\x00\x10\x00data\x00\x00\x00\x00")

type fakeTransport struct {
	mu       sync.Mutex
	uploadFn func(region string) (string, error)
	submitFn func(opts Options) (string, error)
	pollFn   func(n int) (PollResult, error)
	uploads  []string // regions
	submits  []Options
	polls    int
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Upload(_ context.Context, cred credentials.Credential, _ Asset) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, cred.Region)
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(cred.Region)
	}
	return "asset-1", nil
}

func (f *fakeTransport) Submit(_ context.Context, _ credentials.Credential, _ string, opts Options) (string, error) {
	f.mu.Lock()
	f.submits = append(f.submits, opts)
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(opts)
	}
	return "job-1", nil
}

func (f *fakeTransport) Poll(_ context.Context, _ credentials.Credential, _ string) (PollResult, error) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	f.mu.Unlock()
	if f.pollFn != nil {
		return f.pollFn(n)
	}
	return PollResult{Status: PollCompleted, Payload: []byte("S0|hi")}, nil
}

// ParseResult reads "speaker|text" lines.
func (f *fakeTransport) ParseResult(payload []byte) ([]types.Turn, error) {
	var out []types.Turn
	for _, line := range strings.Split(string(payload), "\n") {
		speaker, text, ok := strings.Cut(line, "|")
		if !ok {
			return nil, fmt.Errorf("bad line %q", line)
		}
		out = append(out, types.Turn{SpeakerID: speaker, Text: text, Confidence: 1})
	}
	return out, nil
}

func runningThenDone(running int) func(int) (PollResult, error) {
	return func(n int) (PollResult, error) {
		if n <= running {
			return PollResult{Status: PollRunning}, nil
		}
		return PollResult{Status: PollCompleted, Payload: []byte("S0|Hello\nS1|Hi!")}, nil
	}
}

func newTestOrchestrator(t Transport, pool CredentialPool, opts ...Option) *Orchestrator {
	base := []Option{
		WithPollInterval(time.Millisecond),
		WithMaxPollAttempts(10),
		WithLogger(logger.Discard()),
	}
	return NewOrchestrator(t, pool, []string{"us", "eu"}, append(base, opts...)...)
}

func newPool() *credentials.Pool {
	return credentials.NewPool(credentials.WithLogger(logger.Discard()))
}

func TestRunCompletes(t *testing.T) {
	pool := newPool()
	id := pool.Register("k", "us")
	ft := &fakeTransport{pollFn: runningThenDone(3)}
	o := newTestOrchestrator(ft, pool)

	var events []types.Progress
	res, err := o.Run(context.Background(), Request{Asset: Asset{Name: "a.wav", Data: wavHeader}}, func(p types.Progress) {
		events = append(events, p)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Job.Stage != types.StageCompleted {
		t.Fatalf("stage = %s, want completed", res.Job.Stage)
	}
	if len(res.Turns) != 2 || res.Turns[1].Text != "Hi!" {
		t.Fatalf("turns = %+v", res.Turns)
	}
	if res.MediaType != "audio/wav" {
		t.Fatalf("media type = %q", res.MediaType)
	}
	if res.Job.SubmittedAt.IsZero() || res.Job.LastPolledAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", res.Job)
	}

	c, _ := pool.Get(id)
	if c.UsageCount != 1 || c.ErrorCount != 0 || c.LastUsed == nil {
		t.Fatalf("credential = %+v, want one success", c)
	}

	last := -1
	for _, e := range events {
		if e.Percent < last {
			t.Fatalf("progress regressed: %+v", events)
		}
		last = e.Percent
	}
	if final := events[len(events)-1]; final.Percent != 100 || final.Stage != types.StageCompleted {
		t.Fatalf("final progress = %+v", final)
	}
}

func TestRunUnsupportedFormat(t *testing.T) {
	pool := newPool()
	id := pool.Register("k", "us")
	ft := &fakeTransport{}
	o := newTestOrchestrator(ft, pool)

	res, err := o.Run(context.Background(), Request{Asset: Asset{Data: []byte("just some text, not audio")}}, nil)
	if KindOf(err) != KindUnsupportedFormat {
		t.Fatalf("kind = %q (%v), want unsupported_format", KindOf(err), err)
	}
	if res.Job.Stage != types.StageFailed {
		t.Fatalf("stage = %s", res.Job.Stage)
	}
	if len(ft.uploads) != 0 {
		t.Fatal("transport called for unsupported asset")
	}
	if c, _ := pool.Get(id); c.ErrorCount != 0 || c.UsageCount != 0 {
		t.Fatalf("credential touched: %+v", c)
	}
}

func TestRunSwitchesRegionWhenNoCredential(t *testing.T) {
	pool := newPool()
	eu := pool.Register("k", "eu")
	ft := &fakeTransport{}
	o := newTestOrchestrator(ft, pool)

	res, err := o.Run(context.Background(), Request{Region: "us", Asset: Asset{Data: wavHeader}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Job.Region != "eu" || res.Job.Attempt != 2 {
		t.Fatalf("job = %+v, want eu attempt 2", res.Job)
	}
	if len(ft.uploads) != 1 || ft.uploads[0] != "eu" {
		t.Fatalf("uploads = %v, want [eu]", ft.uploads)
	}
	if c, _ := pool.Get(eu); c.UsageCount != 1 {
		t.Fatalf("eu credential = %+v", c)
	}
}

func TestRunNoCredentialAnywhere(t *testing.T) {
	ft := &fakeTransport{}
	o := newTestOrchestrator(ft, newPool())

	res, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if KindOf(err) != KindNoCredential {
		t.Fatalf("kind = %q (%v), want no_credential", KindOf(err), err)
	}
	if !errors.Is(err, credentials.ErrNotAvailable) {
		t.Fatalf("error should wrap ErrNotAvailable: %v", err)
	}
	if len(ft.uploads) != 0 {
		t.Fatal("network call made without credential")
	}
	if res.Job.Attempt != 2 || res.Job.Stage != types.StageFailed {
		t.Fatalf("job = %+v", res.Job)
	}
}

func TestRunQuotaOnUploadSwitchesRegion(t *testing.T) {
	pool := newPool()
	us := pool.Register("k-us", "us")
	eu := pool.Register("k-eu", "eu")
	ft := &fakeTransport{uploadFn: func(region string) (string, error) {
		if region == "us" {
			return "", fmt.Errorf("%w: http 429", ErrQuota)
		}
		return "asset-eu", nil
	}}
	o := newTestOrchestrator(ft, pool)

	res, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Job.Region != "eu" {
		t.Fatalf("region = %s, want eu", res.Job.Region)
	}
	if c, _ := pool.Get(us); !c.QuotaExceeded || c.ErrorCount != 1 {
		t.Fatalf("us credential = %+v, want quota flagged", c)
	}
	if c, _ := pool.Get(eu); c.UsageCount != 1 {
		t.Fatalf("eu credential = %+v", c)
	}
}

func TestRunQuotaEverywhereGivesUpAfterOneSwitch(t *testing.T) {
	pool := newPool()
	pool.Register("k-us", "us")
	pool.Register("k-eu", "eu")
	ft := &fakeTransport{uploadFn: func(string) (string, error) {
		return "", fmt.Errorf("%w: http 429", ErrQuota)
	}}
	o := newTestOrchestrator(ft, pool)

	_, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if KindOf(err) != KindQuotaExceeded {
		t.Fatalf("kind = %q, want quota_exceeded", KindOf(err))
	}
	if len(ft.uploads) != 2 {
		t.Fatalf("uploads = %v, want exactly two attempts", ft.uploads)
	}
	var je *JobError
	if !errors.As(err, &je) || je.Region != "eu" || je.CredentialID == "" {
		t.Fatalf("job error missing context: %+v", je)
	}
}

func TestRunProviderErrorOnUploadDoesNotSwitch(t *testing.T) {
	pool := newPool()
	us := pool.Register("k-us", "us")
	pool.Register("k-eu", "eu")
	ft := &fakeTransport{uploadFn: func(string) (string, error) {
		return "", &StatusError{StatusCode: 400, Body: "bad file"}
	}}
	o := newTestOrchestrator(ft, pool)

	_, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if KindOf(err) != KindProvider {
		t.Fatalf("kind = %q, want provider_error", KindOf(err))
	}
	if len(ft.uploads) != 1 {
		t.Fatalf("uploads = %v, want one", ft.uploads)
	}
	if c, _ := pool.Get(us); c.ErrorCount != 1 || c.QuotaExceeded {
		t.Fatalf("us credential = %+v", c)
	}
}

func TestRunPassesOptionsThrough(t *testing.T) {
	pool := newPool()
	pool.Register("k", "us")
	ft := &fakeTransport{}
	o := newTestOrchestrator(ft, pool)

	opts := Options{Diarize: true, Language: "hi", ContentAnalysis: true, SpeakerCount: 2}
	if _, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}, Options: opts}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ft.submits) != 1 || ft.submits[0] != opts {
		t.Fatalf("submits = %+v, want %+v", ft.submits, opts)
	}
}

func TestRunRetriesFailedPolls(t *testing.T) {
	pool := newPool()
	id := pool.Register("k", "us")
	ft := &fakeTransport{pollFn: func(n int) (PollResult, error) {
		if n < 4 {
			return PollResult{}, fmt.Errorf("%w: connection reset", ErrTransient)
		}
		return PollResult{Status: PollCompleted, Payload: []byte("S0|ok")}, nil
	}}
	o := newTestOrchestrator(ft, pool)

	if _, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c, _ := pool.Get(id); c.ErrorCount != 0 || c.UsageCount != 1 {
		t.Fatalf("credential = %+v", c)
	}
}

func TestRunTimesOutAtAttemptCap(t *testing.T) {
	pool := newPool()
	id := pool.Register("k", "us")
	ft := &fakeTransport{pollFn: func(int) (PollResult, error) {
		return PollResult{Status: PollRunning}, nil
	}}
	o := newTestOrchestrator(ft, pool, WithMaxPollAttempts(4))

	var maxPct int
	_, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, func(p types.Progress) {
		if p.Stage == types.StagePolling && p.Percent > maxPct {
			maxPct = p.Percent
		}
	})
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %q, want timeout", KindOf(err))
	}
	if ft.polls != 4 {
		t.Fatalf("polls = %d, want 4", ft.polls)
	}
	if maxPct > pollProgressCap {
		t.Fatalf("polling progress %d exceeds cap", maxPct)
	}
	if c, _ := pool.Get(id); c.ErrorCount != 1 || c.QuotaExceeded {
		t.Fatalf("credential = %+v", c)
	}
}

func TestRunProviderErrorOnPoll(t *testing.T) {
	pool := newPool()
	pool.Register("k", "us")
	pool.Register("k", "eu")
	ft := &fakeTransport{pollFn: func(int) (PollResult, error) {
		return PollResult{Status: PollError, ErrorInfo: "audio too short"}, nil
	}}
	o := newTestOrchestrator(ft, pool)

	_, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if KindOf(err) != KindProvider {
		t.Fatalf("kind = %q, want provider_error", KindOf(err))
	}
	if !strings.Contains(err.Error(), "audio too short") {
		t.Fatalf("provider message lost: %v", err)
	}
	if len(ft.uploads) != 1 {
		t.Fatalf("provider error must not switch region, uploads = %v", ft.uploads)
	}
}

func TestRunQuotaWhilePollingSwitchesRegion(t *testing.T) {
	pool := newPool()
	us := pool.Register("k-us", "us")
	eu := pool.Register("k-eu", "eu")
	ft := &fakeTransport{pollFn: func(n int) (PollResult, error) {
		if n == 1 {
			return PollResult{}, fmt.Errorf("%w: http 429", ErrQuota)
		}
		return PollResult{Status: PollCompleted, Payload: []byte("S0|ok")}, nil
	}}
	o := newTestOrchestrator(ft, pool)

	res, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ft.polls != 2 {
		t.Fatalf("polls = %d, want one per region", ft.polls)
	}
	if len(ft.uploads) != 2 || ft.uploads[0] != "us" || ft.uploads[1] != "eu" || res.Job.Region != "eu" {
		t.Fatalf("uploads = %v, region = %s", ft.uploads, res.Job.Region)
	}
	if c, _ := pool.Get(us); !c.QuotaExceeded || c.ErrorCount != 1 {
		t.Fatalf("us credential = %+v, want quota flagged", c)
	}
	if c, _ := pool.Get(eu); c.UsageCount != 1 {
		t.Fatalf("eu credential = %+v", c)
	}
}

func TestRunQuotaWhilePollingEverywhere(t *testing.T) {
	pool := newPool()
	pool.Register("k-us", "us")
	pool.Register("k-eu", "eu")
	ft := &fakeTransport{pollFn: func(int) (PollResult, error) {
		return PollResult{}, fmt.Errorf("%w: http 429", ErrQuota)
	}}
	o := newTestOrchestrator(ft, pool)

	_, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if KindOf(err) != KindQuotaExceeded {
		t.Fatalf("kind = %q (%v), want quota_exceeded", KindOf(err), err)
	}
	if ft.polls != 2 {
		t.Fatalf("polls = %d, quota must not be retried until the cap", ft.polls)
	}
}

func TestRunPollErrorWithQuotaSwitchesRegion(t *testing.T) {
	pool := newPool()
	us := pool.Register("k-us", "us")
	pool.Register("k-eu", "eu")
	ft := &fakeTransport{pollFn: func(n int) (PollResult, error) {
		if n == 1 {
			return PollResult{Status: PollError, ErrorInfo: "QUOTA_EXCEEDED", Quota: true}, nil
		}
		return PollResult{Status: PollCompleted, Payload: []byte("S0|ok")}, nil
	}}
	o := newTestOrchestrator(ft, pool)

	res, err := o.Run(context.Background(), Request{Asset: Asset{Data: wavHeader}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ft.uploads) != 2 || res.Job.Region != "eu" {
		t.Fatalf("uploads = %v, region = %s", ft.uploads, res.Job.Region)
	}
	if c, _ := pool.Get(us); !c.QuotaExceeded {
		t.Fatalf("us credential = %+v, want quota flagged", c)
	}
}

func TestRunCancelledWhilePolling(t *testing.T) {
	pool := newPool()
	id := pool.Register("k", "us")
	ctx, cancel := context.WithCancel(context.Background())
	ft := &fakeTransport{pollFn: func(n int) (PollResult, error) {
		if n == 2 {
			cancel()
		}
		return PollResult{Status: PollRunning}, nil
	}}
	o := newTestOrchestrator(ft, pool, WithMaxPollAttempts(100))

	_, err := o.Run(ctx, Request{Asset: Asset{Data: wavHeader}}, nil)
	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %q (%v), want cancelled", KindOf(err), err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error should wrap context.Canceled: %v", err)
	}
	c, _ := pool.Get(id)
	if c.ErrorCount != 1 || c.QuotaExceeded || !c.Eligible() {
		t.Fatalf("credential = %+v, want one non-quota failure and still eligible", c)
	}
}

func TestJobStateTransitions(t *testing.T) {
	j := newJobState("j", "us")
	if err := j.advance(types.StagePolling); err == nil {
		t.Fatal("queued -> polling should be rejected")
	}
	if err := j.requeue("eu"); err == nil {
		t.Fatal("requeue from queued should be rejected")
	}
	for _, s := range []types.Stage{types.StageUploading, types.StageFailed} {
		if err := j.advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if err := j.requeue("eu"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if got := j.snapshot(); got.Stage != types.StageQueued || got.Region != "eu" || got.Attempt != 2 {
		t.Fatalf("after requeue: %+v", got)
	}
	if err := j.advance(types.StageCompleted); err == nil {
		t.Fatal("queued -> completed should be rejected")
	}
}
