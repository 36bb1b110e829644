package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/metrics"
)

// Request is what every resolution stage receives.
type Request struct {
	Indicator model.IndicatorKey
	Location  *model.CityLocation
	Data      model.ExistingData
}

// Resolvable is one attempt in an ordered fallback chain. A returned error
// means this attempt had no answer; the chain moves on.
type Resolvable interface {
	ID() string
	Attempt(ctx context.Context, req Request) (model.Outcome, error)
}

// runChain tries attempts in order and returns the first found outcome. The
// only error it returns is the caller's context error.
func runChain(ctx context.Context, logger *zap.Logger, req Request, attempts []Resolvable) (model.Outcome, error) {
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return model.NotFound(), err
		}
		out, err := safeAttempt(ctx, a, req)
		if err != nil {
			fields := []zap.Field{
				zap.String("attempt", a.ID()),
				zap.String("indicator", string(req.Indicator)),
				zap.Bool("has_location", req.Location != nil),
				zap.Error(err),
			}
			if errors.Is(err, model.ErrEstimateUnavailable) {
				logger.Debug("Model produced no estimate", fields...)
			} else {
				logger.Warn("Attempt failed, falling through", fields...)
			}
			continue
		}
		if out.IsFound() {
			return out, nil
		}
	}
	return model.NotFound(), nil
}

func safeAttempt(ctx context.Context, a Resolvable, req Request) (out model.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = model.NotFound()
			err = fmt.Errorf("panic in %s: %v", a.ID(), r)
		}
	}()
	return a.Attempt(ctx, req)
}

// sourceAttempt fetches from one registered source under a timeout.
type sourceAttempt struct {
	desc    model.DataSourceDescriptor
	fetcher model.Fetcher
	timeout time.Duration
	metrics *metrics.Metrics
}

func (a sourceAttempt) ID() string { return a.desc.ID }

func (a sourceAttempt) Attempt(ctx context.Context, req Request) (model.Outcome, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type fetchResult struct {
		value float64
		err   error
	}
	done := make(chan fetchResult, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := a.fetcher.Fetch(ctx, req.Indicator, req.Location)
		done <- fetchResult{value: v, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = fetchResult{err: ctx.Err()}
	}
	if res.err == nil && (math.IsNaN(res.value) || math.IsInf(res.value, 0)) {
		res.err = errors.New("non-finite value")
	}
	a.metrics.ObserveFetch(a.desc.ID, res.err == nil, time.Since(start))
	if res.err != nil {
		if errors.Is(res.err, model.ErrSourceUnavailable) {
			return model.NotFound(), res.err
		}
		return model.NotFound(), model.SourceUnavailable(a.desc.ID, res.err)
	}

	v := res.value
	return model.Found(model.EnrichedValue{
		Indicator:  req.Indicator,
		Value:      &v,
		Confidence: a.desc.Reliability,
		Provenance: &model.Provenance{Kind: model.ProvenanceSource, ID: a.desc.ID},
	}), nil
}

// modelAttempt runs one prediction model and keeps its confidence within
// [0, BaseConfidence].
type modelAttempt struct {
	desc      model.PredictionModelDescriptor
	estimator model.Estimator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func (a modelAttempt) ID() string { return a.desc.ID }

func (a modelAttempt) Attempt(ctx context.Context, req Request) (model.Outcome, error) {
	value, confidence, err := a.estimator.Estimate(ctx, model.EstimateRequest{
		Indicator:      req.Indicator,
		Location:       req.Location,
		Data:           req.Data,
		BaseConfidence: a.desc.BaseConfidence,
	})
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = model.EstimateUnavailable("non-finite estimate")
	}
	a.metrics.ObserveModelRun(a.desc.ID, err == nil)
	if err != nil {
		return model.NotFound(), err
	}

	if confidence > a.desc.BaseConfidence {
		a.logger.Warn("Model reported confidence above its base, clamping",
			zap.String("model", a.desc.ID),
			zap.Float64("reported", confidence),
			zap.Float64("base", a.desc.BaseConfidence))
		confidence = a.desc.BaseConfidence
	}
	if confidence < 0 || math.IsNaN(confidence) {
		confidence = 0
	}

	return model.Found(model.EnrichedValue{
		Indicator:  req.Indicator,
		Value:      &value,
		Confidence: confidence,
		Provenance: &model.Provenance{Kind: model.ProvenanceModel, ID: a.desc.ID},
	}), nil
}
