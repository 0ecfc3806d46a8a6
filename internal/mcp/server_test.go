package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/redact"
)

// mockAnalyzer returns canned run results.
type mockAnalyzer struct {
	runFn   func(ctx context.Context, state *pipeline.State) (*pipeline.State, error)
	learnFn func(ctx context.Context, state *pipeline.State, feedback pipeline.Feedback) (*pipeline.State, error)
}

func (m *mockAnalyzer) Run(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
	return m.runFn(ctx, state)
}

func (m *mockAnalyzer) Learn(ctx context.Context, state *pipeline.State, feedback pipeline.Feedback) (*pipeline.State, error) {
	return m.learnFn(ctx, state, feedback)
}

// mockMemory returns canned store contents.
type mockMemory struct {
	records []memory.StoredRecord
	overlay string
	err     error
}

func (m *mockMemory) Search(ctx context.Context, namespace string, limit int) ([]memory.StoredRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.records) {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *mockMemory) RenderOverlay(ctx context.Context, agent string) (string, error) {
	return m.overlay, m.err
}

// passthroughScrubber leaves content untouched.
type passthroughScrubber struct{}

func (passthroughScrubber) Scrub(content string) redact.Result {
	return redact.Result{Content: content}
}

// markerScrubber replaces one fixed token, standing in for the gitleaks
// scanner without its rule corpus.
type markerScrubber struct{}

func (markerScrubber) Scrub(content string) redact.Result {
	if !strings.Contains(content, "sk_live_secret") {
		return redact.Result{Content: content}
	}
	return redact.Result{
		Content: strings.ReplaceAll(content, "sk_live_secret", "[REDACTED:api-key]"),
		Summary: redact.Summary{TotalSecrets: 1, UniqueRules: 1},
	}
}

func completedState() *pipeline.State {
	return &pipeline.State{
		SessionID:   "compliance_ab12cd34",
		FeatureName: "Curfew login blocker",
		Screening: &pipeline.ScreeningAnalysis{
			RiskLevel:          pipeline.RiskHigh,
			ComplianceRequired: true,
			Confidence:         0.9,
		},
		Research: &pipeline.ResearchAnalysis{
			Evidence: []pipeline.EvidenceItem{
				{SourceFilename: "utah_smra.md", RelevanceScore: 0.82, URL: "https://le.utah.gov/smra"},
			},
		},
		Validation: &pipeline.ValidationAnalysis{
			Decision:   pipeline.DecisionYes,
			Confidence: 0.87,
			Reasoning:  "curfew enforcement is mandated by the Utah Social Media Regulation Act",
			RelatedRegulations: []pipeline.RelatedRegulation{
				{Name: "Utah Social Media Regulation Act", URL: "https://le.utah.gov/smra", EvidenceExcerpt: "curfew for minors"},
			},
		},
	}
}

func newTestServer(t *testing.T, runner Analyzer, store MemoryReader) *Server {
	t.Helper()
	srv, err := NewServer(DefaultConfig(), runner, store, passthroughScrubber{})
	require.NoError(t, err)
	return srv
}

func TestNewServer(t *testing.T) {
	runner := &mockAnalyzer{}
	store := &mockMemory{}

	t.Run("successful creation", func(t *testing.T) {
		srv, err := NewServer(&Config{Name: "geogate", Version: "1.0.0", Logger: zap.NewNop()}, runner, store, passthroughScrubber{})
		require.NoError(t, err)
		assert.NotNil(t, srv)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		srv, err := NewServer(nil, runner, store, passthroughScrubber{})
		require.NoError(t, err)
		assert.NotNil(t, srv)
	})

	t.Run("requires runner", func(t *testing.T) {
		_, err := NewServer(nil, nil, store, passthroughScrubber{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner")
	})

	t.Run("requires memory store", func(t *testing.T) {
		_, err := NewServer(nil, runner, nil, passthroughScrubber{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory store")
	})

	t.Run("requires scrubber", func(t *testing.T) {
		_, err := NewServer(nil, runner, store, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scrubber")
	})
}

func TestAnalyzeTool(t *testing.T) {
	t.Run("condenses run state into output", func(t *testing.T) {
		runner := &mockAnalyzer{
			runFn: func(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
				return completedState(), nil
			},
		}
		srv := newTestServer(t, runner, &mockMemory{})

		out, err := srv.analyze(context.Background(), analyzeInput{
			FeatureName:        "Curfew login blocker",
			FeatureDescription: "Blocks logins for Utah minors during curfew hours",
		})
		require.NoError(t, err)

		assert.Equal(t, "compliance_ab12cd34", out.SessionID)
		assert.Equal(t, "HIGH", out.RiskLevel)
		assert.Equal(t, "YES", out.Decision)
		assert.InDelta(t, 0.87, out.Confidence, 1e-9)
		assert.Equal(t, 1, out.Evidence)
		require.Len(t, out.Regulations, 1)
		assert.Equal(t, "Utah Social Media Regulation Act", out.Regulations[0].Name)
	})

	t.Run("requires feature name and description", func(t *testing.T) {
		srv := newTestServer(t, &mockAnalyzer{}, &mockMemory{})

		_, err := srv.analyze(context.Background(), analyzeInput{FeatureName: "  "})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})

	t.Run("scrubs secrets before the pipeline sees them", func(t *testing.T) {
		var seen string
		runner := &mockAnalyzer{
			runFn: func(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
				seen = state.FeatureDescription
				return completedState(), nil
			},
		}
		srv, err := NewServer(nil, runner, &mockMemory{}, markerScrubber{})
		require.NoError(t, err)

		_, err = srv.analyze(context.Background(), analyzeInput{
			FeatureName:        "Export job",
			FeatureDescription: "uses key sk_live_secret for uploads",
		})
		require.NoError(t, err)
		assert.NotContains(t, seen, "sk_live_secret")
		assert.Contains(t, seen, "[REDACTED:api-key]")
	})

	t.Run("propagates run failure", func(t *testing.T) {
		runner := &mockAnalyzer{
			runFn: func(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
				return nil, errors.New("registry closed")
			},
		}
		srv := newTestServer(t, runner, &mockMemory{})

		_, err := srv.analyze(context.Background(), analyzeInput{
			FeatureName:        "x",
			FeatureDescription: "y",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "analyze run failed")
	})
}

func TestFeedbackTool(t *testing.T) {
	t.Run("returns learning report", func(t *testing.T) {
		runner := &mockAnalyzer{
			learnFn: func(ctx context.Context, state *pipeline.State, feedback pipeline.Feedback) (*pipeline.State, error) {
				require.Equal(t, "no", feedback.IsCorrect)
				state.Learning = &pipeline.LearningReport{
					LearningSummary:   "added 1 rule, 1 fewshot",
					LearningCounts:    map[string]int{"rule": 1, "fewshot": 1},
					LearningTimestamp: time.Now().UTC(),
				}
				return state, nil
			},
		}
		srv := newTestServer(t, runner, &mockMemory{})

		done := completedState()
		out, err := srv.applyFeedback(context.Background(), feedbackInput{
			SessionID:          done.SessionID,
			FeatureName:        done.FeatureName,
			FeatureDescription: "Blocks logins for Utah minors during curfew hours",
			Screening:          done.Screening,
			Research:           done.Research,
			Validation:         done.Validation,
			IsCorrect:          "no",
			Notes:              "decision missed the Utah act",
		})
		require.NoError(t, err)

		assert.Equal(t, "compliance_ab12cd34", out.SessionID)
		assert.Equal(t, "added 1 rule, 1 fewshot", out.Summary)
		assert.Equal(t, map[string]int{"rule": 1, "fewshot": 1}, out.Counts)
	})

	t.Run("propagates learn failure", func(t *testing.T) {
		runner := &mockAnalyzer{
			learnFn: func(ctx context.Context, state *pipeline.State, feedback pipeline.Feedback) (*pipeline.State, error) {
				return nil, pipeline.NewError(pipeline.ErrorKindPrecondition, pipeline.StepLearning, errors.New("no validation analysis"))
			},
		}
		srv := newTestServer(t, runner, &mockMemory{})

		_, err := srv.applyFeedback(context.Background(), feedbackInput{SessionID: "compliance_ab12cd34", IsCorrect: "yes"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "feedback run failed")
	})
}

func TestMemorySearchTool(t *testing.T) {
	rec := memory.StoredRecord{
		Hash:      "abc123def456",
		Kind:      memory.KindRule,
		Namespace: memory.NamespaceRules,
		Record:    json.RawMessage(`{"agent":"screening","rule_text":"NR means Netherlands Regulation"}`),
		Seq:       7,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("flattens records", func(t *testing.T) {
		srv := newTestServer(t, &mockAnalyzer{}, &mockMemory{records: []memory.StoredRecord{rec}})

		out, err := srv.searchMemory(context.Background(), memorySearchInput{Namespace: memory.NamespaceRules})
		require.NoError(t, err)

		assert.Equal(t, memory.NamespaceRules, out.Namespace)
		assert.Equal(t, 1, out.Count)
		require.Len(t, out.Records, 1)
		assert.Equal(t, "abc123def456", out.Records[0].Hash)
		assert.Equal(t, "rule", out.Records[0].Kind)
		assert.Equal(t, uint64(7), out.Records[0].Seq)
		assert.Equal(t, "2025-06-01T12:00:00Z", out.Records[0].CreatedAt)
		assert.JSONEq(t, string(rec.Record), out.Records[0].Record)
	})

	t.Run("requires namespace", func(t *testing.T) {
		srv := newTestServer(t, &mockAnalyzer{}, &mockMemory{})

		_, err := srv.searchMemory(context.Background(), memorySearchInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "namespace is required")
	})

	t.Run("propagates store failure", func(t *testing.T) {
		srv := newTestServer(t, &mockAnalyzer{}, &mockMemory{err: errors.New("badger closed")})

		_, err := srv.searchMemory(context.Background(), memorySearchInput{Namespace: memory.NamespaceGlossary})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory search failed")
	})
}

func TestMemorySearchInput_LimitDefault(t *testing.T) {
	testCases := []struct {
		name          string
		inputLimit    int
		expectedLimit int
	}{
		{name: "zero_limit_defaults_to_20", inputLimit: 0, expectedLimit: 20},
		{name: "negative_limit_defaults_to_20", inputLimit: -3, expectedLimit: 20},
		{name: "positive_limit_is_preserved", inputLimit: 5, expectedLimit: 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			limit := tc.inputLimit
			if limit <= 0 {
				limit = 20
			}
			assert.Equal(t, tc.expectedLimit, limit)
		})
	}
}

func TestMemoryOverlayTool(t *testing.T) {
	t.Run("renders overlay for known stage", func(t *testing.T) {
		srv := newTestServer(t, &mockAnalyzer{}, &mockMemory{overlay: "MEMORY OVERLAY\nrules..."})

		out, err := srv.renderOverlay(context.Background(), memoryOverlayInput{Stage: "screening"})
		require.NoError(t, err)
		assert.Equal(t, "screening", out.Stage)
		assert.Contains(t, out.Overlay, "MEMORY OVERLAY")
	})

	t.Run("rejects unknown stage", func(t *testing.T) {
		srv := newTestServer(t, &mockAnalyzer{}, &mockMemory{})

		_, err := srv.renderOverlay(context.Background(), memoryOverlayInput{Stage: "learning"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stage must be")
	})
}

func TestCategorizeError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "classified input", err: pipeline.NewError(pipeline.ErrorKindInput, pipeline.StepScreening, errors.New("bad")), expected: "input_error"},
		{name: "classified precondition", err: pipeline.NewError(pipeline.ErrorKindPrecondition, pipeline.StepLearning, errors.New("missing")), expected: "precondition"},
		{name: "classified upstream", err: pipeline.NewError(pipeline.ErrorKindUpstream, pipeline.StepResearch, errors.New("503")), expected: "upstream_error"},
		{name: "classified schema", err: pipeline.NewError(pipeline.ErrorKindSchema, pipeline.StepValidation, errors.New("not json")), expected: "schema_error"},
		{name: "required field", err: errors.New("namespace is required"), expected: "input_error"},
		{name: "timeout", err: errors.New("context deadline exceeded"), expected: "timeout"},
		{name: "unknown", err: errors.New("boom"), expected: "internal_error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, categorizeError(tc.err))
		})
	}
}
