// Package research gathers regulation-corpus evidence for a screened
// feature.
//
// The stage asks the model to distill the screening analysis into one
// retrieval query, pulls the closest corpus chunks, converts their
// distances into relevance scores, and has the model synthesize what
// the evidence establishes. The evidence handed downstream is always
// the locally ranked list; whatever citation list the model echoes
// back is discarded, so a hallucinated regulation can never enter the
// run. Every failure degrades to an empty-evidence analysis with the
// error annotated, and the run proceeds to validation regardless.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
	"github.com/lawbranch/geogate/internal/retrieval"
)

var tracer = otel.Tracer("geogate.research")

// agentName is the memory namespace key for this stage's overlays.
const agentName = "research"

// maxEvidence caps how many ranked snippets reach validation.
const maxEvidence = 10

// MemorySource is the slice of the memory store the stage reads.
type MemorySource interface {
	RenderOverlay(ctx context.Context, agent string) (string, error)
	Glossary(ctx context.Context) (map[string]memory.GlossaryEntry, error)
}

// Stage is the research pipeline node.
type Stage struct {
	client    llm.Client
	retriever retrieval.Service
	prompts   *prompts.Registry
	memory    MemorySource
	logger    *zap.Logger
}

// New builds the research stage.
func New(client llm.Client, retriever retrieval.Service, registry *prompts.Registry, mem MemorySource, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		client:    client,
		retriever: retriever,
		prompts:   registry,
		memory:    mem,
		logger:    logger,
	}
}

// Step implements pipeline.Stage.
func (s *Stage) Step() pipeline.Step {
	return pipeline.StepResearch
}

// Run retrieves and ranks corpus evidence for the screened feature.
func (s *Stage) Run(ctx context.Context, state *pipeline.State) (*pipeline.Patch, error) {
	if state.Screening == nil || strings.TrimSpace(state.FeatureDescription) == "" {
		serr := pipeline.NewError(pipeline.ErrorKindInput, pipeline.StepResearch,
			errors.New("research requires a screening analysis and feature text"))
		return s.degrade(state, serr, nil), nil
	}

	overlay := s.loadOverlay(ctx)
	glossary := s.loadGlossary(ctx)

	query, err := s.generateQuery(ctx, state, glossary)
	if err != nil {
		return s.degrade(state, err, nil), nil
	}

	snippets, err := s.retriever.Retrieve(ctx, query, maxEvidence)
	if err != nil {
		serr := pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepResearch,
			fmt.Errorf("retrieving evidence: %w", err))
		return s.degrade(state, serr, []string{query}), nil
	}

	evidence := rankEvidence(snippets)
	if len(evidence) == 0 {
		s.logger.Info("corpus returned no evidence",
			zap.String("session_id", state.SessionID),
			zap.String("query", query))
		return &pipeline.Patch{Research: &pipeline.ResearchAnalysis{
			Evidence:        []pipeline.EvidenceItem{},
			QueriesUsed:     []string{query},
			ConfidenceScore: 0,
			Summary:         "the regulation corpus returned no passages matching the query",
		}}, nil
	}

	summary, modelConfidence, err := s.synthesize(ctx, state, evidence, overlay)
	if err != nil {
		return s.degrade(state, err, []string{query}), nil
	}

	analysis := &pipeline.ResearchAnalysis{
		Evidence:        evidence,
		QueriesUsed:     []string{query},
		ConfidenceScore: combineConfidence(evidence, modelConfidence),
		Summary:         summary,
	}

	s.logger.Info("research complete",
		zap.String("session_id", state.SessionID),
		zap.String("query", query),
		zap.Int("evidence_count", len(evidence)),
		zap.Float64("confidence_score", analysis.ConfidenceScore))

	return &pipeline.Patch{Research: analysis}, nil
}

// generateQuery asks the model for a single retrieval query built from
// the screening signals.
func (s *Stage) generateQuery(ctx context.Context, state *pipeline.State, glossary string) (string, error) {
	prompt := s.prompts.RenderSearchQuery(prompts.SearchQueryParams{
		ScreeningAnalysis: prompts.IndentJSON(state.Screening),
		Glossary:          glossary,
	})

	raw, err := s.complete(ctx, "research.query", prompt)
	if err != nil {
		return "", pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepResearch,
			fmt.Errorf("generating retrieval query: %w", err))
	}

	query := cleanQuery(raw)
	if query == "" {
		return "", pipeline.NewError(pipeline.ErrorKindSchema, pipeline.StepResearch,
			errors.New("model returned an empty retrieval query"))
	}
	return query, nil
}

// synthesize has the model summarize the ranked evidence and report its
// own confidence in the findings.
func (s *Stage) synthesize(ctx context.Context, state *pipeline.State, evidence []pipeline.EvidenceItem, overlay string) (string, float64, error) {
	prompt := s.prompts.RenderResearch(prompts.ResearchParams{
		FeatureName:        state.FeatureName,
		FeatureDescription: state.FeatureDescription,
		ScreeningAnalysis:  prompts.IndentJSON(state.Screening),
		Evidence:           prompts.IndentJSON(evidence),
		Overlay:            overlay,
	})

	raw, err := s.complete(ctx, "research.synthesize", prompt)
	if err != nil {
		return "", 0, pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepResearch,
			fmt.Errorf("synthesizing evidence: %w", err))
	}

	summary, confidence, err := parseSynthesis(raw, len(evidence))
	if err != nil {
		return "", 0, pipeline.NewError(pipeline.ErrorKindSchema, pipeline.StepResearch, err)
	}
	return summary, confidence, nil
}

// complete runs one model call inside its own span.
func (s *Stage) complete(ctx context.Context, spanName, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, spanName)
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

// degrade converts any stage failure into an empty-evidence analysis so
// the run still reaches validation with something reviewable.
func (s *Stage) degrade(state *pipeline.State, err error, queries []string) *pipeline.Patch {
	s.logger.Warn("research degraded to empty evidence",
		zap.String("session_id", state.SessionID),
		zap.Error(err))

	if queries == nil {
		queries = []string{}
	}
	return &pipeline.Patch{Research: &pipeline.ResearchAnalysis{
		Evidence:        []pipeline.EvidenceItem{},
		QueriesUsed:     queries,
		ConfidenceScore: 0,
		Error:           err.Error(),
	}}
}

var _ pipeline.Stage = (*Stage)(nil)
