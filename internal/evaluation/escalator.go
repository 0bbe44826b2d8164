// Package evaluation scores a conversation with a language model, re-running
// it once on a stronger model when the cheap model is unsure of itself.
package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/types"
)

const (
	DefaultThreshold = 80
	DefaultMaxTokens = 2048
)

// Tier names which call of an evaluation failed.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierEscalated Tier = "escalated"
)

// ModelError reports a failed model call and which model it was.
type ModelError struct {
	Model string
	Tier  Tier
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s model %q: %v", e.Tier, e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// FailedModel returns the model named by a *ModelError in err's chain.
func FailedModel(err error) (string, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Model, true
	}
	return "", false
}

// ModelOutput is what one model call returns. Confidence is 0–100.
type ModelOutput struct {
	Score      float64
	Confidence float64
	Issues     []types.Issue
	TokenUsage int
}

// ModelRunner runs one evaluation prompt on one model.
type ModelRunner interface {
	RunModel(ctx context.Context, modelID, conversation string, maxTokens int) (ModelOutput, error)
}

// Escalator runs the primary model and, for cheap models below the
// confidence threshold, the escalated model once.
type Escalator struct {
	runner    ModelRunner
	cheap     map[string]bool
	threshold float64
	maxTokens int
	log       *logrus.Entry
}

type Option func(*Escalator)

// WithCheapModels marks the models that may be escalated from.
func WithCheapModels(models ...string) Option {
	return func(e *Escalator) {
		for _, m := range models {
			e.cheap[m] = true
		}
	}
}

func WithThreshold(t float64) Option {
	return func(e *Escalator) { e.threshold = t }
}

func WithMaxTokens(n int) Option {
	return func(e *Escalator) { e.maxTokens = n }
}

func WithLogger(log *logrus.Entry) Option {
	return func(e *Escalator) { e.log = log }
}

func NewEscalator(runner ModelRunner, opts ...Option) *Escalator {
	e := &Escalator{
		runner:    runner,
		cheap:     make(map[string]bool),
		threshold: DefaultThreshold,
		maxTokens: DefaultMaxTokens,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.New().WithComponent("evaluation")
	}
	return e
}

// Evaluate scores the conversation. The two model calls are sequential and
// escalation happens at most once.
//
// If the escalated call fails, the annotated primary result is returned
// together with the *ModelError so callers can still use it.
func (e *Escalator) Evaluate(ctx context.Context, turns []types.ConsolidatedTurn, primary, escalated string) (types.EvaluationResult, error) {
	conversation := FormatConversation(turns)
	log := e.log.WithFields(logrus.Fields{"primary_model": primary, "threshold": e.threshold})

	first, err := e.runner.RunModel(ctx, primary, conversation, e.maxTokens)
	if err != nil {
		return types.EvaluationResult{}, &ModelError{Model: primary, Tier: TierPrimary, Err: err}
	}
	result := toResult(first, primary, types.ProvenancePrimary)
	log = log.WithField("confidence", first.Confidence)

	if first.Confidence >= e.threshold {
		log.Debug("primary result accepted")
		return result, nil
	}
	if !e.cheap[primary] || escalated == "" || escalated == primary {
		result.Provenance = types.ProvenanceNotEscalated
		log.Info("low confidence but primary model is not escalatable")
		return result, nil
	}

	log.WithField("escalated_model", escalated).Info("low confidence, escalating")
	second, err := e.runner.RunModel(ctx, escalated, conversation, e.maxTokens)
	if err != nil {
		result.Provenance = types.ProvenanceNoImprovement
		return result, &ModelError{Model: escalated, Tier: TierEscalated, Err: err}
	}

	tokens := first.TokenUsage + second.TokenUsage
	if second.Confidence >= first.Confidence {
		out := toResult(second, fmt.Sprintf("%s (escalated from %s)", escalated, primary), types.ProvenanceEscalated)
		out.TokenCost = tokens
		log.WithField("escalated_confidence", second.Confidence).Info("escalated result kept")
		return out, nil
	}

	result.Provenance = types.ProvenanceNoImprovement
	result.TokenCost = tokens
	log.WithField("escalated_confidence", second.Confidence).Info("escalation did not improve confidence")
	return result, nil
}

func toResult(o ModelOutput, model string, p types.Provenance) types.EvaluationResult {
	return types.EvaluationResult{
		Score:      o.Score,
		Confidence: o.Confidence,
		ModelUsed:  model,
		Provenance: p,
		Issues:     o.Issues,
		TokenCost:  o.TokenUsage,
	}
}
