package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lawbranch/geogate/internal/pipeline"
)

// overlayStages lists the pipeline stages that consume memory overlays.
var overlayStages = map[string]bool{
	"screening":  true,
	"research":   true,
	"validation": true,
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerComplianceTools()
	s.registerMemoryTools()
}

// ===== COMPLIANCE TOOLS =====

type analyzeInput struct {
	FeatureName        string `json:"feature_name" jsonschema:"required,Feature name"`
	FeatureDescription string `json:"feature_description" jsonschema:"required,Feature description to screen"`
	ContextDocuments   string `json:"context_documents,omitempty" jsonschema:"Optional supporting documents (PRD excerpts TRD excerpts)"`
}

type analyzeOutput struct {
	SessionID   string                       `json:"session_id" jsonschema:"Run session identifier"`
	RiskLevel   string                       `json:"risk_level" jsonschema:"Screening risk level (LOW MEDIUM HIGH ERROR)"`
	Decision    string                       `json:"decision" jsonschema:"Final determination (YES NO REVIEW)"`
	Confidence  float64                      `json:"confidence" jsonschema:"Combined decision confidence"`
	Reasoning   string                       `json:"reasoning" jsonschema:"Decision reasoning"`
	Regulations []pipeline.RelatedRegulation `json:"related_regulations,omitempty" jsonschema:"Citations backing the decision"`
	Evidence    int                          `json:"evidence_count" jsonschema:"Number of corpus excerpts consulted"`
	Error       string                       `json:"error,omitempty" jsonschema:"Absorbed stage failure if any"`
}

type feedbackInput struct {
	SessionID          string                       `json:"session_id" jsonschema:"required,Session identifier from compliance_analyze"`
	FeatureName        string                       `json:"feature_name" jsonschema:"required,Feature name"`
	FeatureDescription string                       `json:"feature_description" jsonschema:"required,Feature description"`
	Screening          *pipeline.ScreeningAnalysis  `json:"screening_analysis,omitempty" jsonschema:"Screening analysis from the run"`
	Research           *pipeline.ResearchAnalysis   `json:"research_analysis,omitempty" jsonschema:"Research analysis from the run"`
	Validation         *pipeline.ValidationAnalysis `json:"validation_analysis,omitempty" jsonschema:"Validation analysis from the run"`
	IsCorrect          string                       `json:"is_correct" jsonschema:"required,Reviewer verdict (yes or no)"`
	Notes              string                       `json:"notes,omitempty" jsonschema:"Reviewer notes explaining the verdict"`
}

type feedbackOutput struct {
	SessionID string         `json:"session_id" jsonschema:"Session identifier"`
	Summary   string         `json:"learning_summary" jsonschema:"What the learning pass applied"`
	Counts    map[string]int `json:"learning_counts" jsonschema:"Applied memory records per kind"`
}

func (s *Server) registerComplianceTools() {
	// compliance_analyze
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "compliance_analyze",
		Description: "Screen a feature for geo-specific compliance requirements and return a YES/NO/REVIEW determination with regulation citations",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args analyzeInput) (*mcp.CallToolResult, analyzeOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "compliance_analyze")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "compliance_analyze")
			s.metrics.RecordInvocation(ctx, "compliance_analyze", time.Since(start), toolErr)
		}()

		out, err := s.analyze(ctx, args)
		if err != nil {
			toolErr = err
			return nil, analyzeOutput{}, err
		}

		return textResult("Determination for %q: %s (confidence %.2f)", args.FeatureName, out.Decision, out.Confidence), out, nil
	})

	// compliance_feedback
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "compliance_feedback",
		Description: "Submit a reviewer verdict on a finished compliance run so the pipeline can learn from it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args feedbackInput) (*mcp.CallToolResult, feedbackOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "compliance_feedback")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "compliance_feedback")
			s.metrics.RecordInvocation(ctx, "compliance_feedback", time.Since(start), toolErr)
		}()

		out, err := s.applyFeedback(ctx, args)
		if err != nil {
			toolErr = err
			return nil, feedbackOutput{}, err
		}

		return textResult("Learning applied: %s", out.Summary), out, nil
	})
}

// analyze runs the pipeline for one feature and condenses the run state
// into the tool output.
func (s *Server) analyze(ctx context.Context, args analyzeInput) (analyzeOutput, error) {
	if strings.TrimSpace(args.FeatureName) == "" || strings.TrimSpace(args.FeatureDescription) == "" {
		return analyzeOutput{}, fmt.Errorf("feature_name and feature_description are required")
	}

	state := pipeline.NewState(args.FeatureName, s.scrubber.Scrub(args.FeatureDescription).Content)
	if args.ContextDocuments != "" {
		state.ContextDocuments = s.scrubber.Scrub(args.ContextDocuments).Content
	}

	state, err := s.runner.Run(ctx, state)
	if err != nil {
		return analyzeOutput{}, fmt.Errorf("analyze run failed: %w", err)
	}

	out := analyzeOutput{
		SessionID: state.SessionID,
		Error:     state.Error,
	}
	if state.Screening != nil {
		out.RiskLevel = string(state.Screening.RiskLevel)
	}
	if state.Research != nil {
		out.Evidence = len(state.Research.Evidence)
	}
	if state.Validation != nil {
		out.Decision = string(state.Validation.Decision)
		out.Confidence = state.Validation.Confidence
		out.Reasoning = state.Validation.Reasoning
		out.Regulations = state.Validation.RelatedRegulations
	}
	return out, nil
}

// applyFeedback reconstructs the run state the caller echoes back and
// invokes the learning pass.
func (s *Server) applyFeedback(ctx context.Context, args feedbackInput) (feedbackOutput, error) {
	state := &pipeline.State{
		SessionID:          args.SessionID,
		FeatureName:        args.FeatureName,
		FeatureDescription: args.FeatureDescription,
		Screening:          args.Screening,
		Research:           args.Research,
		Validation:         args.Validation,
	}
	feedback := pipeline.Feedback{IsCorrect: args.IsCorrect, Notes: s.scrubber.Scrub(args.Notes).Content}

	state, err := s.runner.Learn(ctx, state, feedback)
	if err != nil {
		return feedbackOutput{}, fmt.Errorf("feedback run failed: %w", err)
	}

	out := feedbackOutput{SessionID: state.SessionID}
	if state.Learning != nil {
		out.Summary = state.Learning.LearningSummary
		out.Counts = state.Learning.LearningCounts
	}
	return out, nil
}

// ===== MEMORY TOOLS =====

type memorySearchInput struct {
	Namespace string `json:"namespace" jsonschema:"required,Memory namespace (memory/glossary memory/rules fewshots/<stage> kb/snippets)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum records to return (default: 20)"`
}

// memoryRecordView flattens a stored record for transport; the payload
// stays JSON text so the schema holds no open-ended object.
type memoryRecordView struct {
	Hash      string `json:"hash" jsonschema:"Content hash"`
	Kind      string `json:"kind" jsonschema:"Record kind (glossary rule fewshot snippet)"`
	Namespace string `json:"namespace" jsonschema:"Namespace the record lives in"`
	Record    string `json:"record" jsonschema:"Record payload as JSON text"`
	Seq       uint64 `json:"seq" jsonschema:"Monotonic store sequence"`
	CreatedAt string `json:"created_at" jsonschema:"RFC 3339 creation time"`
}

type memorySearchOutput struct {
	Namespace string             `json:"namespace" jsonschema:"Namespace searched"`
	Count     int                `json:"count" jsonschema:"Number of records returned"`
	Records   []memoryRecordView `json:"records" jsonschema:"Matching records newest first"`
}

type memoryOverlayInput struct {
	Stage string `json:"stage" jsonschema:"required,Pipeline stage (screening research validation)"`
}

type memoryOverlayOutput struct {
	Stage   string `json:"stage" jsonschema:"Stage the overlay applies to"`
	Overlay string `json:"overlay" jsonschema:"Rendered prompt overlay (empty when nothing is learned)"`
}

func (s *Server) registerMemoryTools() {
	// memory_search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search",
		Description: "List learned memory records from one namespace, most recent first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memorySearchInput) (*mcp.CallToolResult, memorySearchOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "memory_search")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "memory_search")
			s.metrics.RecordInvocation(ctx, "memory_search", time.Since(start), toolErr)
		}()

		out, err := s.searchMemory(ctx, args)
		if err != nil {
			toolErr = err
			return nil, memorySearchOutput{}, err
		}

		return textResult("%d record(s) in %s", out.Count, out.Namespace), out, nil
	})

	// memory_overlay
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_overlay",
		Description: "Render the learned prompt overlay for a pipeline stage",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryOverlayInput) (*mcp.CallToolResult, memoryOverlayOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "memory_overlay")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "memory_overlay")
			s.metrics.RecordInvocation(ctx, "memory_overlay", time.Since(start), toolErr)
		}()

		out, err := s.renderOverlay(ctx, args)
		if err != nil {
			toolErr = err
			return nil, memoryOverlayOutput{}, err
		}

		return textResult("Overlay for %s: %d byte(s)", out.Stage, len(out.Overlay)), out, nil
	})
}

func (s *Server) searchMemory(ctx context.Context, args memorySearchInput) (memorySearchOutput, error) {
	if strings.TrimSpace(args.Namespace) == "" {
		return memorySearchOutput{}, fmt.Errorf("namespace is required")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	records, err := s.memory.Search(ctx, args.Namespace, limit)
	if err != nil {
		return memorySearchOutput{}, fmt.Errorf("memory search failed: %w", err)
	}

	views := make([]memoryRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, memoryRecordView{
			Hash:      rec.Hash,
			Kind:      string(rec.Kind),
			Namespace: rec.Namespace,
			Record:    string(rec.Record),
			Seq:       rec.Seq,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}

	return memorySearchOutput{
		Namespace: args.Namespace,
		Count:     len(views),
		Records:   views,
	}, nil
}

func (s *Server) renderOverlay(ctx context.Context, args memoryOverlayInput) (memoryOverlayOutput, error) {
	if !overlayStages[args.Stage] {
		return memoryOverlayOutput{}, fmt.Errorf("stage must be screening, research, or validation, got %q", args.Stage)
	}

	overlay, err := s.memory.RenderOverlay(ctx, args.Stage)
	if err != nil {
		return memoryOverlayOutput{}, fmt.Errorf("overlay rendering failed: %w", err)
	}

	return memoryOverlayOutput{Stage: args.Stage, Overlay: overlay}, nil
}

// textResult wraps a formatted line as the human-readable tool result.
func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}
