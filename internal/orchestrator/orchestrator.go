// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/prompt"
	"github.com/jeranaias/sous/internal/router"
)

// Dispatcher sends one assembled request upstream.
// *cloud.Client satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.DispatchRequest, credential string) (*model.DispatchResult, error)
}

// Failure describes a route that ended in an error.
type Failure struct {
	RequestID string
	SessionID string
	Decision  router.Decision
	Attempts  int
	Err       error
}

// Observer receives the outcome of every Route call. Observers get a copy of
// the result; they cannot alter what the caller receives.
type Observer interface {
	OnRouted(ctx context.Context, sessionID string, result *model.DispatchResult)
	OnFailed(ctx context.Context, f Failure)
}

// RouteInput is everything Route needs for one question.
type RouteInput struct {
	Message    string
	Context    model.CookingContext
	Knowledge  *model.RetrievedKnowledge
	History    []model.Message
	Credential string
}

// Plan is the offline part of a route: the decision and the request that
// would be dispatched.
type Plan struct {
	Decision router.Decision
	Request  model.DispatchRequest
}

// Router wires the classifier, selector, assembler and dispatcher together.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	assembler  *prompt.Assembler
	dispatcher Dispatcher
	observers  []Observer
	newID      func() string
}

// Option configures a Router.
type Option func(*Router)

// WithObserver registers an observer. Observers run synchronously, in
// registration order, after the result is final.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithIDGenerator replaces the request ID source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// New creates a Router.
func New(assembler *prompt.Assembler, dispatcher Dispatcher, opts ...Option) *Router {
	r := &Router{
		assembler:  assembler,
		dispatcher: dispatcher,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan classifies the message, selects a tier and assembles the request
// without any network I/O.
func (r *Router) Plan(in RouteInput) (Plan, error) {
	decision := router.Decide(in.Message)
	req, err := r.assembler.Assemble(in.Message, in.Context, decision.Intent, decision.Tier, in.Knowledge, in.History)
	if err != nil {
		return Plan{Decision: decision}, err
	}
	return Plan{Decision: decision, Request: req}, nil
}

// Route answers one question end to end.
func (r *Router) Route(ctx context.Context, in RouteInput) (*model.DispatchResult, error) {
	requestID := r.newID()

	plan, err := r.Plan(in)
	if err != nil {
		r.notifyFailed(ctx, Failure{
			RequestID: requestID,
			SessionID: in.Context.SessionID,
			Decision:  plan.Decision,
			Err:       err,
		})
		return nil, fmt.Errorf("route: %w", err)
	}

	logger := log.With().
		Str("request_id", requestID).
		Str("intent", string(plan.Decision.Intent.Type)).
		Float64("confidence", plan.Decision.Intent.Confidence).
		Str("tier", plan.Decision.Tier.String()).
		Logger()
	logger.Debug().
		Int("message_len", len(in.Message)).
		Int("context_len", len(plan.Request.ContextBlock)).
		Int("history", len(plan.Request.History)).
		Msg("routing")

	result, err := r.dispatcher.Dispatch(ctx, plan.Request, in.Credential)
	if err != nil {
		f := Failure{
			RequestID: requestID,
			SessionID: in.Context.SessionID,
			Decision:  plan.Decision,
			Err:       err,
		}
		var dErr *cloud.DispatchError
		if errors.As(err, &dErr) {
			f.Attempts = dErr.Attempts
		}
		r.notifyFailed(ctx, f)
		logger.Debug().Err(err).Msg("dispatch failed")
		return nil, err
	}

	result.RequestID = requestID
	result.Intent = string(plan.Decision.Intent.Type)
	result.Confidence = plan.Decision.Intent.Confidence

	logger.Info().
		Str("model", result.ProviderID).
		Int("attempts", result.Attempts).
		Int64("latency_ms", result.LatencyMs).
		Float64("cost_usd", result.CostUSD).
		Bool("degraded", result.Degraded).
		Msg("routed")

	for _, o := range r.observers {
		snapshot := *result
		o.OnRouted(ctx, in.Context.SessionID, &snapshot)
	}
	return result, nil
}

func (r *Router) notifyFailed(ctx context.Context, f Failure) {
	for _, o := range r.observers {
		o.OnFailed(ctx, f)
	}
}
