// Package screening implements the first pipeline stage: a single model
// pass that grades a feature's regulatory exposure and decides whether
// the regulation corpus should be consulted.
//
// The stage never fails a run. Model or transport errors produce a
// degraded ERROR-level analysis routed straight to validation, and
// malformed model output is repaired field by field with conservative
// defaults.
package screening

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
)

var tracer = otel.Tracer("geogate.screening")

// agentName is the memory namespace key for this stage's overlays.
const agentName = "screening"

// MemorySource is the slice of the memory store the stage reads.
type MemorySource interface {
	RenderOverlay(ctx context.Context, agent string) (string, error)
	Glossary(ctx context.Context) (map[string]memory.GlossaryEntry, error)
}

// Stage is the screening pipeline node.
type Stage struct {
	client  llm.Client
	prompts *prompts.Registry
	memory  MemorySource
	logger  *zap.Logger
}

// New builds the screening stage.
func New(client llm.Client, registry *prompts.Registry, mem MemorySource, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		client:  client,
		prompts: registry,
		memory:  mem,
		logger:  logger,
	}
}

// Step implements pipeline.Stage.
func (s *Stage) Step() pipeline.Step {
	return pipeline.StepScreening
}

// Run assesses the feature and routes the run: research when the
// authoritative rule asks for corpus evidence, validation otherwise.
func (s *Stage) Run(ctx context.Context, state *pipeline.State) (*pipeline.Patch, error) {
	overlay := s.loadOverlay(ctx)
	glossary := s.loadGlossary(ctx)

	prompt := s.prompts.RenderScreening(prompts.ScreeningParams{
		FeatureName:        state.FeatureName,
		FeatureDescription: state.FeatureDescription,
		Documents:          state.ContextDocuments,
		Overlay:            overlay,
		Glossary:           glossary,
	})

	raw, err := s.complete(ctx, prompt)
	if err != nil {
		serr := pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepScreening, err)
		s.logger.Warn("screening degraded to error analysis",
			zap.String("session_id", state.SessionID),
			zap.Error(serr))
		return failurePatch(serr), nil
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		serr := pipeline.NewError(pipeline.ErrorKindSchema, pipeline.StepScreening, err)
		s.logger.Warn("screening response unusable",
			zap.String("session_id", state.SessionID),
			zap.Error(serr))
		return failurePatch(serr), nil
	}

	// The model's needs_research flag is advisory only.
	analysis.NeedsResearch = analysis.ResearchRequired()

	next := pipeline.StepValidation
	if analysis.NeedsResearch {
		next = pipeline.StepResearch
	}

	s.logger.Info("screening complete",
		zap.String("session_id", state.SessionID),
		zap.String("risk_level", string(analysis.RiskLevel)),
		zap.Float64("confidence", analysis.Confidence),
		zap.Bool("needs_research", analysis.NeedsResearch))

	return &pipeline.Patch{Screening: analysis, NextStep: next}, nil
}

// complete runs the model call inside its own span.
func (s *Stage) complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "screening.complete")
	defer span.End()
	span.SetAttributes(attribute.Int("prompt_chars", len(prompt)))

	raw, err := s.client.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "success")
	return raw, nil
}

// loadOverlay fetches this stage's memory overlay. Memory read failures
// never block a run; screening proceeds without the overlay.
func (s *Stage) loadOverlay(ctx context.Context) string {
	overlay, err := s.memory.RenderOverlay(ctx, agentName)
	if err != nil {
		s.logger.Warn("memory overlay unavailable", zap.Error(err))
		return ""
	}
	return overlay
}

func (s *Stage) loadGlossary(ctx context.Context) string {
	entries, err := s.memory.Glossary(ctx)
	if err != nil {
		s.logger.Warn("learned glossary unavailable", zap.Error(err))
		return ""
	}
	return prompts.FormatGlossary(entries)
}

// failurePatch is the degraded analysis for a failed screening pass.
// The run proceeds straight to validation, never to research: with no
// trustworthy risk signal a corpus search would only add noise.
func failurePatch(err error) *pipeline.Patch {
	return &pipeline.Patch{
		Screening: &pipeline.ScreeningAnalysis{
			RiskLevel:       pipeline.RiskError,
			Confidence:      0,
			GeographicScope: []string{"unknown"},
			DataSensitivity: "none",
			NeedsResearch:   false,
			Reasoning:       fmt.Sprintf("screening could not assess the feature: %v", err),
			Error:           err.Error(),
		},
		NextStep: pipeline.StepValidation,
	}
}

var _ pipeline.Stage = (*Stage)(nil)
