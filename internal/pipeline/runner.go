package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/logging"
)

var tracer = otel.Tracer("geogate.pipeline")

// Stage runs one pipeline node. Implementations degrade internally per
// their contracts; a returned error means the node could not produce
// even a degraded analysis and trips the absorbing edge.
type Stage interface {
	Step() Step
	Run(ctx context.Context, state *State) (*Patch, error)
}

// EventType classifies run lifecycle notifications.
type EventType string

const (
	EventRunStarted     EventType = "started"
	EventStageCompleted EventType = "stage"
	EventRunCompleted   EventType = "completed"
	EventRunFailed      EventType = "error"
)

// Event is one run lifecycle notification delivered to the callback.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Step      Step      `json:"step,omitempty"`
	Decision  Decision  `json:"decision,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventCallback receives run lifecycle events. Callbacks run inline on
// the run goroutine and must not block.
type EventCallback func(event Event)

// Runner drives states through the run graph.
type Runner struct {
	stages  map[Step]Stage
	logger  *zap.Logger
	onEvent EventCallback
}

// NewRunner creates a runner with no stages registered.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		stages: make(map[Step]Stage),
		logger: logger,
	}
}

// Register installs a stage. A later registration for the same step
// replaces the earlier one.
func (r *Runner) Register(stage Stage) {
	r.stages[stage.Step()] = stage
}

// OnEvent sets the lifecycle callback.
func (r *Runner) OnEvent(callback EventCallback) {
	r.onEvent = callback
}

// Run executes one analyze pass over a feature: screening, research
// when screening asks for it, then validation. The returned state is
// complete in every case that returns a nil error; stage failures
// degrade into their owning analysis or are absorbed onto the state.
//
// Blank feature input degrades rather than aborts: the run carries an
// ERROR screening analysis straight to validation so the caller still
// gets a reviewable decision with the input problem annotated.
//
// A non-nil error means the run never produced a decision: a nil
// state, a missing stage registration, or context cancellation.
func (r *Runner) Run(ctx context.Context, state *State) (*State, error) {
	if state == nil {
		return nil, NewError(ErrorKindInput, StepStart, errors.New("nil run state"))
	}

	state.EnsureSession()
	ctx = logging.WithSessionID(ctx, state.SessionID)

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", state.SessionID),
		attribute.String("feature_name", state.FeatureName),
	)

	r.logger.Info("pipeline run started",
		zap.String("session_id", state.SessionID),
		zap.String("feature_name", state.FeatureName))
	r.emit(Event{Type: EventRunStarted, SessionID: state.SessionID, Step: StepScreening, At: time.Now().UTC()})

	runStart := time.Now()
	step := StepScreening
	if strings.TrimSpace(state.FeatureName) == "" || strings.TrimSpace(state.FeatureDescription) == "" {
		// Unscreenable input degrades the same way a failed screening
		// pass does: an ERROR analysis routed straight to validation,
		// which turns the absent evidence into a reviewable decision.
		state.Apply(StepScreening, emptyInputPatch())
		r.logger.Warn("screening skipped on empty input",
			zap.String("session_id", state.SessionID))
		r.emit(Event{Type: EventStageCompleted, SessionID: state.SessionID, Step: StepScreening, At: time.Now().UTC()})
		step = StepValidation
	}

	for step != StepComplete {
		if err := ctx.Err(); err != nil {
			state.Error = err.Error()
			return r.failRun(state, step, runStart, span, err)
		}

		stage, ok := r.stages[step]
		if !ok {
			err := fmt.Errorf("no stage registered for step %s", step)
			state.Error = err.Error()
			return r.failRun(state, step, runStart, span, err)
		}

		patch, err := r.runStage(ctx, stage, state)
		state.Apply(step, patch)

		if err != nil {
			// Absorbing edge: the run still reaches COMPLETE, with the
			// failure recorded on the state instead of crashing the caller.
			state.Error = err.Error()
			r.logger.Error("pipeline stage failed",
				zap.String("session_id", state.SessionID),
				zap.String("step", string(step)),
				zap.Error(err))
			r.emit(Event{Type: EventRunFailed, SessionID: state.SessionID, Step: step, Error: err.Error(), At: time.Now().UTC()})
			break
		}

		r.emit(Event{Type: EventStageCompleted, SessionID: state.SessionID, Step: step, At: time.Now().UTC()})
		step = nextStep(step, state)
	}

	outcome := "completed"
	if state.Error != "" {
		outcome = "failed"
		span.SetStatus(codes.Error, state.Error)
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	recordRun(outcome, time.Since(runStart))

	var decision Decision
	if state.Validation != nil {
		decision = state.Validation.Decision
		recordDecision(decision)
	}

	r.logger.Info("pipeline run finished",
		zap.String("session_id", state.SessionID),
		zap.String("outcome", outcome),
		zap.String("decision", string(decision)),
		zap.Duration("elapsed", time.Since(runStart)))
	r.emit(Event{Type: EventRunCompleted, SessionID: state.SessionID, Decision: decision, Error: state.Error, At: time.Now().UTC()})

	return state, nil
}

// Learn runs the learning stage for a finished run. It is the only
// entry point with a fatal precondition: without a validation analysis
// there is no decision to learn from.
func (r *Runner) Learn(ctx context.Context, state *State, feedback Feedback) (*State, error) {
	if state == nil || state.Validation == nil {
		return state, NewError(ErrorKindPrecondition, StepLearning,
			errors.New("learning requires a completed validation analysis"))
	}
	if err := feedback.Validate(); err != nil {
		return state, NewError(ErrorKindInput, StepLearning, err)
	}
	feedback.IsCorrect = strings.ToLower(strings.TrimSpace(feedback.IsCorrect))

	state.EnsureSession()
	state.Feedback = &feedback
	ctx = logging.WithSessionID(ctx, state.SessionID)

	ctx, span := tracer.Start(ctx, "pipeline.learn")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", state.SessionID))

	stage, ok := r.stages[StepLearning]
	if !ok {
		return state, fmt.Errorf("no stage registered for step %s", StepLearning)
	}

	patch, err := r.runStage(ctx, stage, state)
	state.Apply(StepLearning, patch)
	if err != nil {
		state.Error = err.Error()
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("learning stage failed",
			zap.String("session_id", state.SessionID),
			zap.Error(err))
		r.emit(Event{Type: EventRunFailed, SessionID: state.SessionID, Step: StepLearning, Error: err.Error(), At: time.Now().UTC()})
		return state, err
	}

	if state.Learning != nil {
		recordLearningCounts(state.Learning.LearningCounts)
	}
	span.SetStatus(codes.Ok, "success")

	r.logger.Info("learning run finished",
		zap.String("session_id", state.SessionID),
		zap.String("is_correct", feedback.IsCorrect))
	r.emit(Event{Type: EventStageCompleted, SessionID: state.SessionID, Step: StepLearning, At: time.Now().UTC()})
	r.emit(Event{Type: EventRunCompleted, SessionID: state.SessionID, At: time.Now().UTC()})

	return state, nil
}

// runStage executes one stage inside its own span and records metrics.
func (r *Runner) runStage(ctx context.Context, stage Stage, state *State) (*Patch, error) {
	step := stage.Step()

	stageCtx, span := tracer.Start(ctx, "pipeline."+string(step))
	defer span.End()

	start := time.Now()
	patch, err := stage.Run(stageCtx, state)
	observeStage(step, time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return patch, err
}

// failRun finalizes a run that could not continue.
func (r *Runner) failRun(state *State, step Step, runStart time.Time, span trace.Span, err error) (*State, error) {
	recordRun("failed", time.Since(runStart))
	span.SetStatus(codes.Error, err.Error())
	r.logger.Error("pipeline run aborted",
		zap.String("session_id", state.SessionID),
		zap.String("step", string(step)),
		zap.Error(err))
	r.emit(Event{Type: EventRunFailed, SessionID: state.SessionID, Step: step, Error: err.Error(), At: time.Now().UTC()})
	return state, err
}

// emptyInputPatch is the degraded screening analysis for a run whose
// feature name or description is blank. Matches the shape the
// screening stage produces when it cannot assess a feature.
func emptyInputPatch() *Patch {
	err := NewError(ErrorKindInput, StepScreening, errors.New("feature name and description are required"))
	return &Patch{
		Screening: &ScreeningAnalysis{
			RiskLevel:       RiskError,
			Confidence:      0,
			GeographicScope: []string{"unknown"},
			DataSensitivity: "none",
			NeedsResearch:   false,
			Reasoning:       fmt.Sprintf("screening could not assess the feature: %v", err),
			Error:           err.Error(),
		},
		NextStep: StepValidation,
	}
}

// nextStep routes the run graph: screening branches on the research
// flag, research always funnels into validation.
func nextStep(step Step, state *State) Step {
	switch step {
	case StepScreening:
		if state.NextStep == StepResearch {
			return StepResearch
		}
		return StepValidation
	case StepResearch:
		return StepValidation
	default:
		return StepComplete
	}
}

func (r *Runner) emit(event Event) {
	if r.onEvent != nil {
		r.onEvent(event)
	}
}
