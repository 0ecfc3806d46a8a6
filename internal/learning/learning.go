// Package learning turns reviewer feedback on a finished run into
// persistent memory updates.
//
// The stage asks the model for a structured plan of glossary terms,
// stage rules, few-shot examples, and knowledge-base snippets, applies
// each through the memory store's idempotent upsert, and appends one
// record to the compliance audit trail. The audit record is written
// whether or not any mutation applied; a failed memory write loses that
// one record, never the trail. This is the only stage whose failures
// propagate to the caller: without a validation verdict or a usable
// plan there is nothing to learn from and the reviewer should know.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/audit"
	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
)

var tracer = otel.Tracer("geogate.learning")

// maxPromptEvidence caps the research snippets shown to the planner.
const maxPromptEvidence = 8

// MemoryStore is the slice of the memory store the stage writes.
type MemoryStore interface {
	Upsert(ctx context.Context, rec memory.Record) (bool, error)
}

// AuditTrail receives the per-invocation compliance record.
type AuditTrail interface {
	Append(ctx context.Context, record any) error
}

// Stage is the learning pipeline node.
type Stage struct {
	client  llm.Client
	prompts *prompts.Registry
	store   MemoryStore
	trail   AuditTrail
	logger  *zap.Logger
	reload  []func() error
}

// New builds the learning stage.
func New(client llm.Client, registry *prompts.Registry, store MemoryStore, trail AuditTrail, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		client:  client,
		prompts: registry,
		store:   store,
		trail:   trail,
		logger:  logger,
	}
}

// OnMutation registers a callback invoked after memory updates apply,
// so cached prompt overlays refresh without a restart. Callback errors
// are logged and never fail the stage.
func (s *Stage) OnMutation(fn func() error) {
	s.reload = append(s.reload, fn)
}

// Step implements pipeline.Stage.
func (s *Stage) Step() pipeline.Step {
	return pipeline.StepLearning
}

// Run plans and applies memory updates for one feedback submission.
func (s *Stage) Run(ctx context.Context, state *pipeline.State) (*pipeline.Patch, error) {
	if state.Validation == nil {
		return nil, pipeline.NewError(pipeline.ErrorKindPrecondition, pipeline.StepLearning,
			errors.New("learning requires a completed validation analysis"))
	}
	if state.Feedback == nil {
		return nil, pipeline.NewError(pipeline.ErrorKindPrecondition, pipeline.StepLearning,
			errors.New("learning requires reviewer feedback"))
	}

	plan, err := s.generatePlan(ctx, state)
	if err != nil {
		return nil, err
	}

	counts := s.applyPlan(ctx, plan)

	for _, fn := range s.reload {
		if err := fn(); err != nil {
			s.logger.Warn("prompt reload failed",
				zap.String("session_id", state.SessionID),
				zap.Error(err))
		}
	}

	record := feedbackRecord(state, plan.Summary, counts)
	if err := s.trail.Append(ctx, record); err != nil {
		// The report still returns; losing the trail is an operator
		// problem, not the reviewer's.
		s.logger.Error("audit append failed",
			zap.String("session_id", state.SessionID),
			zap.Error(err))
	}

	report := &pipeline.LearningReport{
		LearningSummary:   plan.Summary,
		LearningCounts:    counts,
		LearningTimestamp: time.Now().UTC(),
	}

	s.logger.Info("learning complete",
		zap.String("session_id", state.SessionID),
		zap.String("is_correct", state.Feedback.IsCorrect),
		zap.Any("counts", counts))

	return &pipeline.Patch{Learning: report}, nil
}

// generatePlan asks the model for the structured learning plan.
func (s *Stage) generatePlan(ctx context.Context, state *pipeline.State) (*learningPlan, error) {
	feature := struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}{state.FeatureName, state.FeatureDescription}

	evidence := []pipeline.EvidenceItem{}
	if state.Research != nil {
		evidence = state.Research.Evidence
	}
	if len(evidence) > maxPromptEvidence {
		evidence = evidence[:maxPromptEvidence]
	}

	prompt := s.prompts.RenderLearning(prompts.LearningParams{
		Feature:   prompts.IndentJSON(feature),
		Screening: prompts.IndentJSON(state.Screening),
		Research:  prompts.IndentJSON(evidence),
		Decision:  prompts.IndentJSON(state.Validation),
		Feedback:  prompts.IndentJSON(state.Feedback),
	})

	ctx, span := tracer.Start(ctx, "learning.plan")
	defer span.End()
	span.SetAttributes(attribute.Int("prompt_chars", len(prompt)))

	raw, err := s.client.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepLearning,
			fmt.Errorf("generating learning plan: %w", err))
	}
	span.SetStatus(codes.Ok, "success")

	plan, err := parsePlan(raw)
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrorKindSchema, pipeline.StepLearning, err)
	}
	return plan, nil
}

// applyPlan upserts every planned record and counts what was newly
// applied per kind. A rejected or failed record is logged and skipped;
// one bad entry never discards the rest of the plan.
func (s *Stage) applyPlan(ctx context.Context, plan *learningPlan) map[string]int {
	counts := map[string]int{
		"glossary":    0,
		"kb_snippets": 0,
		"few_shots":   0,
		"rules":       0,
	}

	for _, entry := range plan.Glossary {
		s.upsert(ctx, entry, "glossary", counts)
	}
	for _, snippet := range plan.KBSnippets {
		s.upsert(ctx, snippet, "kb_snippets", counts)
	}
	for _, raw := range plan.FewShots {
		var probe struct {
			Agent string `json:"agent"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			s.logger.Warn("skipping unreadable few-shot", zap.Error(err))
			continue
		}
		s.upsert(ctx, memory.FewShotEntry{Agent: probe.Agent, Payload: raw}, "few_shots", counts)
	}
	for _, rule := range plan.Rules {
		s.upsert(ctx, rule, "rules", counts)
	}

	return counts
}

func (s *Stage) upsert(ctx context.Context, rec memory.Record, kind string, counts map[string]int) {
	applied, err := s.store.Upsert(ctx, rec)
	if err != nil {
		s.logger.Warn("memory update skipped",
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	if applied {
		counts[kind]++
	}
}

// feedbackRecord builds the audit line for this invocation.
func feedbackRecord(state *pipeline.State, summary string, counts map[string]int) audit.FeedbackRecord {
	record := audit.FeedbackRecord{
		Timestamp: time.Now().UTC(),
		SessionID: state.SessionID,
		Feature: audit.Feature{
			Name:        state.FeatureName,
			Description: state.FeatureDescription,
		},
		Decision: audit.DecisionDigest{
			Decision:   state.Validation.Decision,
			Confidence: state.Validation.Confidence,
			Citations:  len(state.Validation.RelatedRegulations),
		},
		UserFeedback: *state.Feedback,
		PlanSummary:  summary,
		PlanCounts:   counts,
	}
	if state.Screening != nil {
		record.Screening = &audit.ScreeningDigest{
			RiskLevel:  state.Screening.RiskLevel,
			Confidence: state.Screening.Confidence,
		}
	}
	if state.Research != nil {
		record.ResearchCount = len(state.Research.Evidence)
	}
	return record
}

var _ pipeline.Stage = (*Stage)(nil)
