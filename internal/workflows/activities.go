package workflows

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/audit"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/redact"
)

// Analyzer drives compliance runs. *pipeline.Runner implements it.
type Analyzer interface {
	Run(ctx context.Context, state *pipeline.State) (*pipeline.State, error)
}

// AuditTrail appends sweep summaries. *audit.Log implements it.
type AuditTrail interface {
	Append(ctx context.Context, record any) error
}

// Scrubber strips secrets from backlog content. *redact.Scanner
// implements it.
type Scrubber interface {
	Scrub(content string) redact.Result
}

// Activities holds the live services sweep activities run against.
// Registered on the worker as struct methods.
type Activities struct {
	runner   Analyzer
	trail    AuditTrail
	scrubber Scrubber
	logger   *zap.Logger
}

// NewActivities wires the sweep activities.
func NewActivities(runner Analyzer, trail AuditTrail, scrubber Scrubber, logger *zap.Logger) (*Activities, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if trail == nil {
		return nil, fmt.Errorf("audit trail is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, trail: trail, scrubber: scrubber, logger: logger}, nil
}

// AnalyzeFeature runs the full screening pipeline for one backlog item
// and condenses the run state for the workflow.
func (a *Activities) AnalyzeFeature(ctx context.Context, input AnalyzeFeatureInput) (*AnalyzeFeatureResult, error) {
	state := pipeline.NewState(input.FeatureName, a.scrubber.Scrub(input.FeatureDescription).Content)

	state, err := a.runner.Run(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", input.FeatureName, err)
	}

	result := &AnalyzeFeatureResult{
		SessionID: state.SessionID,
		Error:     state.Error,
	}
	if state.Screening != nil {
		result.RiskLevel = string(state.Screening.RiskLevel)
	}
	if state.Validation != nil {
		result.Decision = string(state.Validation.Decision)
		result.Confidence = state.Validation.Confidence
	}

	observeSweepFeature(result.Decision, result.Error)

	a.logger.Info("sweep feature analyzed",
		zap.String("feature", input.FeatureName),
		zap.String("session_id", result.SessionID),
		zap.String("decision", result.Decision))

	return result, nil
}

// RecordSweep appends the sweep summary to the audit trail.
func (a *Activities) RecordSweep(ctx context.Context, input RecordSweepInput) error {
	rec := audit.SweepRecord{
		Timestamp: time.Now().UTC(),
		SweepID:   input.SweepID,
		Features:  input.Features,
		Decisions: input.Decisions,
		Failures:  input.Failures,
	}
	if err := a.trail.Append(ctx, rec); err != nil {
		return fmt.Errorf("record sweep %s: %w", input.SweepID, err)
	}

	observeSweepRecorded()

	a.logger.Info("sweep recorded",
		zap.String("sweep_id", input.SweepID),
		zap.Int("features", input.Features),
		zap.Int("failures", input.Failures))

	return nil
}
