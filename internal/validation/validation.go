// Package validation makes the final geo-compliance determination for
// a run.
//
// The stage is the pipeline's decision-maker and the enforcement point
// for evidence gating: a YES is never returned unless at least one
// citation survives resolution against the evidence research actually
// retrieved. Runs that arrive with no evidence skip the model call and
// land in human review, and model failures degrade to a REVIEW
// determination rather than an aborted run.
package validation

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
)

var tracer = otel.Tracer("geogate.validation")

// agentName is the memory namespace key for this stage's overlays.
const agentName = "validation"

// maxPromptEvidence caps how many evidence items the prompt carries.
const maxPromptEvidence = 12

// noEvidenceReasoning is the verdict text for runs with nothing to
// decide on.
const noEvidenceReasoning = "no evidence provided"

// MemorySource is the slice of the memory store the stage reads.
type MemorySource interface {
	RenderOverlay(ctx context.Context, agent string) (string, error)
	Glossary(ctx context.Context) (map[string]memory.GlossaryEntry, error)
}

// Stage is the validation pipeline node.
type Stage struct {
	client  llm.Client
	prompts *prompts.Registry
	memory  MemorySource
	logger  *zap.Logger
}

// New builds the validation stage.
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
	return pipeline.StepValidation
}

// Run decides YES, NO, or REVIEW for the feature and closes the run.
func (s *Stage) Run(ctx context.Context, state *pipeline.State) (*pipeline.Patch, error) {
	if strings.TrimSpace(state.FeatureDescription) == "" || state.Screening == nil {
		serr := pipeline.NewError(pipeline.ErrorKindInput, pipeline.StepValidation,
			errors.New("validation requires feature text and a screening analysis"))
		s.logger.Warn("validation degraded to review",
			zap.String("session_id", state.SessionID),
			zap.Error(serr))
		return failurePatch("validation was invoked without the required upstream analyses; the feature is routed to human review", serr), nil
	}

	evidence := evidenceForPrompt(state.Research)
	if len(evidence) == 0 {
		s.logger.Info("no evidence to validate, routing to review",
			zap.String("session_id", state.SessionID))
		return &pipeline.Patch{
			Validation: &pipeline.ValidationAnalysis{
				Decision:           pipeline.DecisionReview,
				Reasoning:          noEvidenceReasoning,
				RelatedRegulations: []pipeline.RelatedRegulation{},
				Confidence:         0,
			},
			NextStep: pipeline.StepComplete,
		}, nil
	}

	promptResearch := *state.Research
	promptResearch.Evidence = evidence

	prompt := s.prompts.RenderValidation(prompts.ValidationParams{
		FeatureName:        state.FeatureName,
		FeatureDescription: state.FeatureDescription,
		ScreeningAnalysis:  prompts.IndentJSON(state.Screening),
		ResearchAnalysis:   prompts.IndentJSON(promptResearch),
		Overlay:            s.loadOverlay(ctx),
		Glossary:           s.loadGlossary(ctx),
		GeoHint:            prompts.GeoScopeHint(state.Screening.GeographicScope),
	})

	raw, err := s.complete(ctx, prompt)
	if err != nil {
		serr := pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepValidation, err)
		s.logger.Warn("validation degraded to review",
			zap.String("session_id", state.SessionID),
			zap.Error(serr))
		return failurePatch("the decision model was unavailable; the feature is routed to human review", serr), nil
	}

	parsed, err := parseDecision(raw)
	if err != nil {
		serr := pipeline.NewError(pipeline.ErrorKindSchema, pipeline.StepValidation, err)
		s.logger.Warn("validation response unusable",
			zap.String("session_id", state.SessionID),
			zap.Error(serr))
		return failurePatch("the decision model returned an unusable response; the feature is routed to human review", serr), nil
	}

	// Gating resolves against everything research retrieved, not just
	// the capped prompt slice.
	analysis := gate(parsed, state.Research.Evidence)

	s.logger.Info("validation complete",
		zap.String("session_id", state.SessionID),
		zap.String("decision", string(analysis.Decision)),
		zap.Float64("confidence", analysis.Confidence),
		zap.Int("citations", len(analysis.RelatedRegulations)))

	return &pipeline.Patch{Validation: analysis, NextStep: pipeline.StepComplete}, nil
}

// complete runs the model call inside its own span.
func (s *Stage) complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "validation.complete")
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
// never block a run.
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

// evidenceForPrompt returns the highest-scored evidence capped for the
// prompt. Research ranks its output already; sorting a copy keeps the
// cap correct for states assembled by other callers.
func evidenceForPrompt(research *pipeline.ResearchAnalysis) []pipeline.EvidenceItem {
	if research == nil || len(research.Evidence) == 0 {
		return nil
	}

	items := make([]pipeline.EvidenceItem, len(research.Evidence))
	copy(items, research.Evidence)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RelevanceScore > items[j].RelevanceScore
	})
	if len(items) > maxPromptEvidence {
		items = items[:maxPromptEvidence]
	}
	return items
}

// failurePatch is the degraded determination for a failed validation
// pass. The decision is always REVIEW with the cause annotated; the
// spelled-out reason keeps parse errors out of the verdict text.
func failurePatch(reason string, err error) *pipeline.Patch {
	return &pipeline.Patch{
		Validation: &pipeline.ValidationAnalysis{
			Decision:           pipeline.DecisionReview,
			Reasoning:          reason,
			RelatedRegulations: []pipeline.RelatedRegulation{},
			Confidence:         0,
			Error:              err.Error(),
		},
		NextStep: pipeline.StepComplete,
	}
}

var _ pipeline.Stage = (*Stage)(nil)
