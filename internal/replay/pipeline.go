// SPDX-License-Identifier: Apache-2.0

// Package replay turns the visit objects of a heap snapshot into an ordered
// message stream for the aggregation agent and waits for the agent to drain.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/internal/heap"
	"github.com/ronnieholm/spo-analytics/internal/metrics"
	"github.com/ronnieholm/spo-analytics/internal/reconstruct"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ronnieholm/spo-analytics/internal/replay"

// Mailbox is the agent surface the pipeline depends on.
type Mailbox interface {
	Poster
	QueueLengther
}

// StageError reports the pipeline stage at which a run failed.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Summary struct {
	Stage          domain.Stage
	Discovered     int
	Reconstructed  int
	Skipped        int
	SkippedByField map[string]int
	Dispatched     int
	Remaining      int
	Duration       time.Duration
}

type Deps struct {
	Mailbox      Mailbox
	Logger       *slog.Logger
	TypeName     string
	PollInterval time.Duration
	MaxWait      time.Duration
}

type Pipeline struct {
	mailbox      Mailbox
	logger       *slog.Logger
	tracer       trace.Tracer
	typeName     string
	pollInterval time.Duration
	maxWait      time.Duration
}

func New(deps Deps) *Pipeline {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	typeName := deps.TypeName
	if typeName == "" {
		typeName = domain.VisitTypeName
	}

	poll := deps.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &Pipeline{
		mailbox:      deps.Mailbox,
		logger:       l,
		tracer:       otel.Tracer(tracerName),
		typeName:     typeName,
		pollInterval: poll,
		maxWait:      deps.MaxWait,
	}
}

// Run executes Scanning → Reconstructing → Ordering → Dispatching → Draining
// → Done against snap. Malformed objects are skipped and counted; only
// acquisition, dispatch and drain failures end the run early.
func (p *Pipeline) Run(ctx context.Context, snap heap.Snapshot) (Summary, error) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "replay.run", trace.WithAttributes(attribute.String("type_name", p.typeName)))
	defer span.End()

	visits, summary, err := p.collect(ctx, snap)
	if err != nil {
		return p.finish(span, summary, started, err)
	}

	p.enter(&summary, domain.StageOrdering)
	_, orderSpan := p.tracer.Start(ctx, "replay.order")
	ordered := Order(visits)
	orderSpan.End()

	p.enter(&summary, domain.StageDispatching)
	dispatchCtx, dispatchSpan := p.tracer.Start(ctx, "replay.dispatch")
	summary.Dispatched, err = NewDispatcher(p.mailbox, p.logger).Dispatch(dispatchCtx, ordered)
	dispatchSpan.SetAttributes(attribute.Int("dispatched", summary.Dispatched))
	endSpan(dispatchSpan, err)
	if err != nil {
		return p.finish(span, summary, started, &StageError{Stage: domain.StageDispatching, Err: err})
	}
	p.logger.Info("visits dispatched", "count", summary.Dispatched)

	p.enter(&summary, domain.StageDraining)
	drainCtx, drainSpan := p.tracer.Start(ctx, "replay.drain")
	err = NewDrainMonitor(p.mailbox, p.pollInterval, p.maxWait, p.logger).Wait(drainCtx)
	endSpan(drainSpan, err)
	if err != nil {
		var de *DrainError
		if errors.As(err, &de) {
			summary.Remaining = de.Remaining
		}
		return p.finish(span, summary, started, &StageError{Stage: domain.StageDraining, Err: err})
	}

	p.enter(&summary, domain.StageDone)
	return p.finish(span, summary, started, nil)
}

// Inspect runs the scanning and reconstruction stages only.
func (p *Pipeline) Inspect(ctx context.Context, snap heap.Snapshot) ([]domain.Visit, Summary, error) {
	ctx, span := p.tracer.Start(ctx, "replay.inspect")
	defer span.End()

	visits, summary, err := p.collect(ctx, snap)
	endSpan(span, err)
	return Order(visits), summary, err
}

func (p *Pipeline) collect(ctx context.Context, snap heap.Snapshot) ([]domain.Visit, Summary, error) {
	summary := Summary{SkippedByField: map[string]int{}}

	p.enter(&summary, domain.StageScanning)
	scanCtx, scanSpan := p.tracer.Start(ctx, "replay.scan")
	var objects []heap.Object
	err := snap.Enumerate(scanCtx, p.typeName, func(o heap.Object) error {
		objects = append(objects, o)
		metrics.IncRecordsDiscovered()
		return nil
	})
	summary.Discovered = len(objects)
	scanSpan.SetAttributes(attribute.Int("discovered", summary.Discovered))
	endSpan(scanSpan, err)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrAcquisitionFailure, err)
		}
		return nil, summary, &StageError{Stage: domain.StageScanning, Err: err}
	}
	p.logger.Info("heap scan complete", "type", p.typeName, "discovered", summary.Discovered)

	p.enter(&summary, domain.StageReconstructing)
	_, rebuildSpan := p.tracer.Start(ctx, "replay.reconstruct")
	visits := make([]domain.Visit, 0, len(objects))
	for _, o := range objects {
		v, err := reconstruct.Visit(o)
		if err != nil {
			field := "unknown"
			var mre *domain.MalformedRecordError
			if errors.As(err, &mre) {
				field = mre.Field
			}
			p.logger.Warn("skipping malformed record",
				"address", fmt.Sprintf("0x%x", o.Address()),
				"type", o.TypeName(),
				"field", field,
				"error", err,
			)
			summary.Skipped++
			summary.SkippedByField[field]++
			metrics.IncRecordsSkipped(field)
			continue
		}
		visits = append(visits, v)
	}
	summary.Reconstructed = len(visits)
	rebuildSpan.SetAttributes(
		attribute.Int("reconstructed", summary.Reconstructed),
		attribute.Int("skipped", summary.Skipped),
	)
	rebuildSpan.End()

	return visits, summary, nil
}

func (p *Pipeline) enter(s *Summary, stage domain.Stage) {
	s.Stage = stage
	p.logger.Debug("pipeline stage", "stage", stage)
}

func (p *Pipeline) finish(span trace.Span, s Summary, started time.Time, err error) (Summary, error) {
	s.Duration = time.Since(started)
	span.SetAttributes(
		attribute.String("stage", string(s.Stage)),
		attribute.Int("dispatched", s.Dispatched),
		attribute.Int("skipped", s.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("replay failed", "stage", s.Stage, "error", err)
	}
	return s, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
