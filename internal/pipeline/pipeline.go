package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/processor"
	"voice-qc-go/internal/transcription"
	"voice-qc-go/internal/types"
)

// CallProcessor is satisfied by *processor.Processor.
type CallProcessor interface {
	ProcessCall(ctx context.Context, req processor.CallRequest, sink transcription.ProgressFunc) (types.CallReport, error)
}

// Options bound a batch run.
type Options struct {
	Workers int
	// PerCallTimeout caps each call; zero means no per-call limit.
	PerCallTimeout time.Duration
	// Diarize is set on every transcription request.
	Diarize bool
	// Logger defaults to the pipeline component logger.
	Logger *logrus.Entry
}

// Run processes records with at most Workers calls in flight and returns one
// report per record, in input order. Failures are recorded in the report.
func Run(ctx context.Context, p CallProcessor, records []types.CallRecord, opts Options) []types.CallReport {
	log := opts.Logger
	if log == nil {
		log = logger.New().WithComponent("pipeline")
	}
	log = log.WithField("calls", len(records))
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	reports := make([]types.CallReport, len(records))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, rec := range records {
		if err := acquire(ctx, sem); err != nil {
			for j := i; j < len(records); j++ {
				reports[j] = types.CallReport{CallID: records[j].CallID, Error: err.Error(), ErrorKind: string(transcription.KindCancelled)}
			}
			wg.Wait()
			log.WithError(err).Warn("batch cancelled")
			return reports
		}

		wg.Add(1)
		go func(i int, rec types.CallRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			callCtx, cancel := ctx, context.CancelFunc(func() {})
			if opts.PerCallTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, opts.PerCallTimeout)
			}
			defer cancel()

			rep, _ := p.ProcessCall(callCtx, processor.CallRequest{
				CallID: rec.CallID,
				Asset:  transcription.Asset{URL: rec.AudioURL},
				Region: rec.Region,
				Options: transcription.Options{
					Diarize:  opts.Diarize,
					Language: rec.Language,
				},
			}, nil)
			if rep.CallID == "" {
				rep.CallID = rec.CallID
			}
			reports[i] = rep
		}(i, rec)
	}
	wg.Wait()
	log.Info("batch finished")
	return reports
}

func acquire(ctx context.Context, sem chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
