// Package processor runs the full QC flow for one call: transcription,
// consolidation, evaluation with escalation and issue attribution.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/dialog"
	"voice-qc-go/internal/evaluation"
	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/transcription"
	"voice-qc-go/internal/types"
)

// Transcriber is satisfied by *transcription.Orchestrator.
type Transcriber interface {
	Run(ctx context.Context, req transcription.Request, progress transcription.ProgressFunc) (transcription.Result, error)
}

// Evaluator is satisfied by *evaluation.Escalator.
type Evaluator interface {
	Evaluate(ctx context.Context, turns []types.ConsolidatedTurn, primary, escalated string) (types.EvaluationResult, error)
}

// CallRequest is one call to process.
type CallRequest struct {
	CallID  string
	Asset   transcription.Asset
	Region  string
	Options transcription.Options
}

type Processor struct {
	transcriber    Transcriber
	evaluator      Evaluator
	primaryModel   string
	escalatedModel string
	log            *logrus.Entry
}

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(log *logrus.Entry) Option {
	return func(p *Processor) { p.log = log }
}

func New(t Transcriber, e Evaluator, primaryModel, escalatedModel string, opts ...Option) *Processor {
	p := &Processor{
		transcriber:    t,
		evaluator:      e,
		primaryModel:   primaryModel,
		escalatedModel: escalatedModel,
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logger.New().WithComponent("processor")
	}
	return p
}

// ProcessCall runs one call end to end. On failure the partially filled
// report is returned together with the error.
func (p *Processor) ProcessCall(ctx context.Context, req CallRequest, sink transcription.ProgressFunc) (types.CallReport, error) {
	start := time.Now()
	rep := types.CallReport{CallID: req.CallID}
	log := p.log.WithField("call_id", req.CallID)
	finish := func(err error, kind string) (types.CallReport, error) {
		rep.DurationMs = time.Since(start).Milliseconds()
		if err != nil {
			rep.Error = err.Error()
			rep.ErrorKind = kind
			log.WithError(err).WithField("duration_ms", rep.DurationMs).Warn("call processing failed")
		} else {
			log.WithField("duration_ms", rep.DurationMs).Info("call processed")
		}
		return rep, err
	}

	res, err := p.transcriber.Run(ctx, transcription.Request{
		JobID:   req.CallID,
		Asset:   req.Asset,
		Region:  req.Region,
		Options: req.Options,
	}, sink)
	rep.JobID = res.Job.ID
	rep.Region = res.Job.Region
	if err != nil {
		return finish(fmt.Errorf("transcription: %w", err), string(transcription.KindOf(err)))
	}
	rep.MediaType = res.MediaType

	turns := dialog.Consolidate(res.Turns)
	log.WithFields(logrus.Fields{"raw_turns": len(res.Turns), "turns": len(turns)}).Debug("transcript consolidated")
	rep.Dialog = dialog.Annotate(turns, dialog.Attribution{})

	eval, err := p.evaluator.Evaluate(ctx, turns, p.primaryModel, p.escalatedModel)
	if eval.ModelUsed != "" {
		rep.Evaluation = &eval
		a := dialog.Attribute(turns, eval.Issues)
		rep.Dialog = dialog.Annotate(turns, a)
		rep.Dropped = a.Dropped
		rep.Unanchored = a.Unanchored
	}
	if err != nil {
		kind := "evaluation_error"
		if model, ok := evaluation.FailedModel(err); ok {
			kind = "evaluation_error:" + model
		}
		return finish(fmt.Errorf("evaluation: %w", err), kind)
	}
	return finish(nil, "")
}
