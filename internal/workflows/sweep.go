// Package workflows provides Temporal workflow definitions for scheduled
// compliance maintenance: re-screening a feature backlog and recording
// the sweep outcome in the audit trail.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// AuditSweepConfig configures one backlog re-screening sweep.
type AuditSweepConfig struct {
	SweepID  string         // Sweep identifier; defaults to the workflow execution ID
	Features []SweepFeature // Backlog items to re-screen
}

// SweepFeature is one backlog item.
type SweepFeature struct {
	Name        string
	Description string
}

// AuditSweepResult summarizes a finished sweep.
type AuditSweepResult struct {
	SweepID    string
	Features   int            // Backlog size
	Decisions  map[string]int // Determinations per outcome (YES, NO, REVIEW, ERROR)
	NeedReview []string       // Features whose runs ended in REVIEW or degraded
	Failures   []string       // Features whose analysis failed after retries
	Recorded   bool           // Whether the sweep summary reached the audit trail
}

// Activity input/output types

type AnalyzeFeatureInput struct {
	FeatureName        string
	FeatureDescription string
}

type AnalyzeFeatureResult struct {
	SessionID  string
	RiskLevel  string
	Decision   string
	Confidence float64
	Error      string // Absorbed stage failure, if any
}

type RecordSweepInput struct {
	SweepID   string
	Features  int
	Decisions map[string]int
	Failures  int
}

// AuditSweepWorkflow re-screens a feature backlog against the current
// corpus and memory state.
//
// The workflow:
// 1. Runs AnalyzeFeature for each backlog item
// 2. Tallies determinations and flags features needing review
// 3. Appends a sweep summary to the audit trail
//
// Individual analysis failures do not abort the sweep; they are counted
// and reported in the result.
func AuditSweepWorkflow(ctx workflow.Context, config AuditSweepConfig) (*AuditSweepResult, error) {
	logger := workflow.GetLogger(ctx)

	if config.SweepID == "" {
		config.SweepID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	logger.Info("Starting audit sweep",
		"sweep_id", config.SweepID,
		"features", len(config.Features))

	// Configure activity options. Each analysis holds several LLM
	// round-trips, so the timeout is generous.
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := &AuditSweepResult{
		SweepID:   config.SweepID,
		Features:  len(config.Features),
		Decisions: make(map[string]int),
	}

	var a *Activities

	// Step 1: re-screen each backlog item
	for _, feature := range config.Features {
		var analysis AnalyzeFeatureResult
		err := workflow.ExecuteActivity(ctx, a.AnalyzeFeature, AnalyzeFeatureInput{
			FeatureName:        feature.Name,
			FeatureDescription: feature.Description,
		}).Get(ctx, &analysis)
		if err != nil {
			logger.Error("Feature analysis failed", "feature", feature.Name, "error", err)
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", feature.Name, err))
			result.Decisions["ERROR"]++
			continue
		}

		switch {
		case analysis.Error != "" || analysis.Decision == "":
			// The run finished but a stage degraded; the feature needs
			// a human look regardless of what validation salvaged.
			result.Decisions["ERROR"]++
			result.NeedReview = append(result.NeedReview, feature.Name)
		case analysis.Decision == "REVIEW":
			result.Decisions[analysis.Decision]++
			result.NeedReview = append(result.NeedReview, feature.Name)
		default:
			result.Decisions[analysis.Decision]++
		}
	}

	// Step 2: record the sweep in the audit trail
	err := workflow.ExecuteActivity(ctx, a.RecordSweep, RecordSweepInput{
		SweepID:   result.SweepID,
		Features:  result.Features,
		Decisions: result.Decisions,
		Failures:  len(result.Failures),
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("Sweep recording failed", "sweep_id", result.SweepID, "error", err)
		result.Failures = append(result.Failures, fmt.Sprintf("record sweep: %v", err))
	} else {
		result.Recorded = true
	}

	logger.Info("Audit sweep complete",
		"sweep_id", result.SweepID,
		"decisions", result.Decisions,
		"need_review", len(result.NeedReview),
		"failures", len(result.Failures))

	return result, nil
}
