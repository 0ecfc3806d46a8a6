package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/audit"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/redact"
)

// stubRunner returns a canned run result per feature name.
type stubRunner struct {
	states map[string]*pipeline.State
	err    error
}

func (s *stubRunner) Run(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
	if s.err != nil {
		return nil, s.err
	}
	if out, ok := s.states[state.FeatureName]; ok {
		return out, nil
	}
	return state, nil
}

// captureTrail records appended audit entries.
type captureTrail struct {
	records []any
	err     error
}

func (c *captureTrail) Append(ctx context.Context, record any) error {
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, record)
	return nil
}

// passthroughScrubber leaves content untouched.
type passthroughScrubber struct{}

func (passthroughScrubber) Scrub(content string) redact.Result {
	return redact.Result{Content: content}
}

// markerScrubber replaces one fixed token.
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

func decidedState(name string, decision pipeline.Decision) *pipeline.State {
	return &pipeline.State{
		SessionID:   "compliance_" + name,
		FeatureName: name,
		Screening:   &pipeline.ScreeningAnalysis{RiskLevel: pipeline.RiskMedium, Confidence: 0.7},
		Validation:  &pipeline.ValidationAnalysis{Decision: decision, Confidence: 0.8},
	}
}

func testActivities(t *testing.T, runner Analyzer, trail AuditTrail) *Activities {
	t.Helper()
	acts, err := NewActivities(runner, trail, passthroughScrubber{}, zap.NewNop())
	require.NoError(t, err)
	return acts
}

func TestAuditSweepWorkflow(t *testing.T) {
	t.Run("tallies decisions and records the sweep", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(AuditSweepWorkflow)

		acts := testActivities(t, &stubRunner{}, &captureTrail{})
		env.RegisterActivity(acts)

		env.OnActivity(acts.AnalyzeFeature, mock.Anything, AnalyzeFeatureInput{FeatureName: "feed ranking", FeatureDescription: "region-aware feed"}).
			Return(&AnalyzeFeatureResult{SessionID: "compliance_01", Decision: "YES", Confidence: 0.9}, nil)
		env.OnActivity(acts.AnalyzeFeature, mock.Anything, AnalyzeFeatureInput{FeatureName: "dark mode", FeatureDescription: "ui theme"}).
			Return(&AnalyzeFeatureResult{SessionID: "compliance_02", Decision: "NO", Confidence: 0.95}, nil)
		env.OnActivity(acts.AnalyzeFeature, mock.Anything, AnalyzeFeatureInput{FeatureName: "minor chat", FeatureDescription: "dm limits"}).
			Return(&AnalyzeFeatureResult{SessionID: "compliance_03", Decision: "REVIEW", Confidence: 0.4}, nil)
		env.OnActivity(acts.RecordSweep, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(AuditSweepWorkflow, AuditSweepConfig{
			SweepID: "sweep-2025-06",
			Features: []SweepFeature{
				{Name: "feed ranking", Description: "region-aware feed"},
				{Name: "dark mode", Description: "ui theme"},
				{Name: "minor chat", Description: "dm limits"},
			},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result AuditSweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "sweep-2025-06", result.SweepID)
		assert.Equal(t, 3, result.Features)
		assert.Equal(t, map[string]int{"YES": 1, "NO": 1, "REVIEW": 1}, result.Decisions)
		assert.Equal(t, []string{"minor chat"}, result.NeedReview)
		assert.Empty(t, result.Failures)
		assert.True(t, result.Recorded)
	})

	t.Run("continues after an analysis failure", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(AuditSweepWorkflow)

		acts := testActivities(t, &stubRunner{}, &captureTrail{})
		env.RegisterActivity(acts)

		env.OnActivity(acts.AnalyzeFeature, mock.Anything, AnalyzeFeatureInput{FeatureName: "broken", FeatureDescription: "x"}).
			Return(nil, errors.New("llm unavailable"))
		env.OnActivity(acts.AnalyzeFeature, mock.Anything, AnalyzeFeatureInput{FeatureName: "fine", FeatureDescription: "y"}).
			Return(&AnalyzeFeatureResult{SessionID: "compliance_04", Decision: "NO", Confidence: 0.9}, nil)
		env.OnActivity(acts.RecordSweep, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(AuditSweepWorkflow, AuditSweepConfig{
			SweepID: "sweep-err",
			Features: []SweepFeature{
				{Name: "broken", Description: "x"},
				{Name: "fine", Description: "y"},
			},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result AuditSweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 1, result.Decisions["ERROR"])
		assert.Equal(t, 1, result.Decisions["NO"])
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "broken")
		assert.True(t, result.Recorded)
	})

	t.Run("flags degraded runs for review", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(AuditSweepWorkflow)

		acts := testActivities(t, &stubRunner{}, &captureTrail{})
		env.RegisterActivity(acts)

		env.OnActivity(acts.AnalyzeFeature, mock.Anything, mock.Anything).
			Return(&AnalyzeFeatureResult{SessionID: "compliance_05", Error: "research: upstream_service error"}, nil)
		env.OnActivity(acts.RecordSweep, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(AuditSweepWorkflow, AuditSweepConfig{
			SweepID:  "sweep-degraded",
			Features: []SweepFeature{{Name: "degraded", Description: "z"}},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result AuditSweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, map[string]int{"ERROR": 1}, result.Decisions)
		assert.Equal(t, []string{"degraded"}, result.NeedReview)
	})

	t.Run("reports when the sweep summary cannot be recorded", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(AuditSweepWorkflow)

		acts := testActivities(t, &stubRunner{}, &captureTrail{})
		env.RegisterActivity(acts)

		env.OnActivity(acts.AnalyzeFeature, mock.Anything, mock.Anything).
			Return(&AnalyzeFeatureResult{SessionID: "compliance_06", Decision: "NO", Confidence: 0.9}, nil)
		env.OnActivity(acts.RecordSweep, mock.Anything, mock.Anything).
			Return(errors.New("audit log closed"))

		env.ExecuteWorkflow(AuditSweepWorkflow, AuditSweepConfig{
			SweepID:  "sweep-norecord",
			Features: []SweepFeature{{Name: "only", Description: "w"}},
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result AuditSweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.False(t, result.Recorded)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "record sweep")
	})

	t.Run("defaults the sweep ID to the execution ID", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		env.RegisterWorkflow(AuditSweepWorkflow)

		acts := testActivities(t, &stubRunner{}, &captureTrail{})
		env.RegisterActivity(acts)

		env.OnActivity(acts.RecordSweep, mock.Anything, mock.Anything).Return(nil)

		env.ExecuteWorkflow(AuditSweepWorkflow, AuditSweepConfig{})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result AuditSweepResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.NotEmpty(t, result.SweepID)
	})
}

func TestAnalyzeFeatureActivity(t *testing.T) {
	t.Run("condenses the run state", func(t *testing.T) {
		runner := &stubRunner{states: map[string]*pipeline.State{
			"minor chat": decidedState("minor chat", pipeline.DecisionYes),
		}}
		acts := testActivities(t, runner, &captureTrail{})

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(acts)

		val, err := env.ExecuteActivity(acts.AnalyzeFeature, AnalyzeFeatureInput{
			FeatureName:        "minor chat",
			FeatureDescription: "dm limits for minors",
		})
		require.NoError(t, err)

		var result AnalyzeFeatureResult
		require.NoError(t, val.Get(&result))
		assert.Equal(t, "compliance_minor chat", result.SessionID)
		assert.Equal(t, "MEDIUM", result.RiskLevel)
		assert.Equal(t, "YES", result.Decision)
		assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	})

	t.Run("scrubs backlog content before analysis", func(t *testing.T) {
		var seen string
		runner := &recordingRunner{seen: &seen}
		acts, err := NewActivities(runner, &captureTrail{}, markerScrubber{}, zap.NewNop())
		require.NoError(t, err)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(acts)

		_, err = env.ExecuteActivity(acts.AnalyzeFeature, AnalyzeFeatureInput{
			FeatureName:        "export job",
			FeatureDescription: "uploads with sk_live_secret",
		})
		require.NoError(t, err)
		assert.NotContains(t, seen, "sk_live_secret")
	})

	t.Run("propagates runner failure", func(t *testing.T) {
		acts := testActivities(t, &stubRunner{err: errors.New("llm unavailable")}, &captureTrail{})

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.AnalyzeFeature, AnalyzeFeatureInput{
			FeatureName:        "broken",
			FeatureDescription: "x",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})
}

// recordingRunner captures the description the pipeline received.
type recordingRunner struct {
	seen *string
}

func (r *recordingRunner) Run(ctx context.Context, state *pipeline.State) (*pipeline.State, error) {
	*r.seen = state.FeatureDescription
	return state, nil
}

func TestRecordSweepActivity(t *testing.T) {
	t.Run("appends a sweep record", func(t *testing.T) {
		trail := &captureTrail{}
		acts := testActivities(t, &stubRunner{}, trail)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.RecordSweep, RecordSweepInput{
			SweepID:   "sweep-2025-06",
			Features:  3,
			Decisions: map[string]int{"YES": 1, "NO": 2},
			Failures:  0,
		})
		require.NoError(t, err)

		require.Len(t, trail.records, 1)
		rec, ok := trail.records[0].(audit.SweepRecord)
		require.True(t, ok)
		assert.Equal(t, "sweep-2025-06", rec.SweepID)
		assert.Equal(t, 3, rec.Features)
		assert.Equal(t, map[string]int{"YES": 1, "NO": 2}, rec.Decisions)
		assert.False(t, rec.Timestamp.IsZero())
	})

	t.Run("propagates append failure", func(t *testing.T) {
		acts := testActivities(t, &stubRunner{}, &captureTrail{err: errors.New("disk full")})

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.RecordSweep, RecordSweepInput{SweepID: "sweep-x"})
		require.Error(t, err)
	})
}

func TestNewActivities(t *testing.T) {
	t.Run("requires runner", func(t *testing.T) {
		_, err := NewActivities(nil, &captureTrail{}, passthroughScrubber{}, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("requires audit trail", func(t *testing.T) {
		_, err := NewActivities(&stubRunner{}, nil, passthroughScrubber{}, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("requires scrubber", func(t *testing.T) {
		_, err := NewActivities(&stubRunner{}, &captureTrail{}, nil, zap.NewNop())
		require.Error(t, err)
	})
}
