package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/prompts"
)

type fakeClient struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

var _ llm.Client = (*fakeClient)(nil)

type stubMemory struct {
	overlay     string
	overlayErr  error
	glossary    map[string]memory.GlossaryEntry
	glossaryErr error
}

func (m *stubMemory) RenderOverlay(ctx context.Context, agent string) (string, error) {
	return m.overlay, m.overlayErr
}

func (m *stubMemory) Glossary(ctx context.Context) (map[string]memory.GlossaryEntry, error) {
	return m.glossary, m.glossaryErr
}

var _ MemorySource = (*stubMemory)(nil)

func newTestStage(t *testing.T, client llm.Client, mem MemorySource) *Stage {
	t.Helper()
	registry, err := prompts.NewRegistry(config.PromptsConfig{}, nil)
	require.NoError(t, err)
	return New(client, registry, mem, nil)
}

const highRiskResponse = `{
  "agent": "ScreeningAgent",
  "risk_level": "HIGH",
  "compliance_required": true,
  "confidence": 0.92,
  "trigger_keywords": ["ASL", "Utah Social Media Regulation Act"],
  "reasoning": "The description cites the Utah Social Media Regulation Act and gates minors by region.",
  "needs_research": false,
  "geographic_scope": ["US-UT"],
  "age_sensitivity": true,
  "data_sensitivity": "T3",
  "terminology_analysis": {
    "acronyms_found": ["ASL"],
    "acronym_meanings": {"ASL": "age-sensitive logic"},
    "compliance_impact": "age gating confirms minor-protection obligations"
  }
}`

const lowRiskResponse = `{
  "agent": "ScreeningAgent",
  "risk_level": "LOW",
  "compliance_required": false,
  "confidence": 0.95,
  "trigger_keywords": [],
  "reasoning": "Pure engagement experiment with business motivation and no legal language.",
  "needs_research": true,
  "geographic_scope": ["global"],
  "age_sensitivity": false,
  "data_sensitivity": "none"
}`

func TestStage_Step(t *testing.T) {
	stage := newTestStage(t, &fakeClient{}, &stubMemory{})
	assert.Equal(t, pipeline.StepScreening, stage.Step())
}

func TestStage_Run_HighRiskRoutesToResearch(t *testing.T) {
	client := &fakeClient{response: highRiskResponse}
	mem := &stubMemory{overlay: "MEMORY OVERLAY\n- RULE: treat curfew gating as a legal mandate"}
	stage := newTestStage(t, client, mem)

	state := pipeline.NewState("curfew mode",
		"Block ASL logins for Utah minors after 22:30 per the Utah Social Media Regulation Act")
	patch, err := stage.Run(context.Background(), state)

	require.NoError(t, err)
	require.NotNil(t, patch.Screening)
	assert.Equal(t, pipeline.StepResearch, patch.NextStep)

	analysis := patch.Screening
	assert.Equal(t, pipeline.RiskHigh, analysis.RiskLevel)
	assert.True(t, analysis.ComplianceRequired)
	assert.InDelta(t, 0.92, analysis.Confidence, 1e-9)
	assert.Equal(t, []string{"US-UT"}, analysis.GeographicScope)
	assert.True(t, analysis.AgeSensitivity)
	assert.Equal(t, "T3", analysis.DataSensitivity)
	assert.Len(t, analysis.TriggerKeywords, 2)
	assert.True(t, analysis.NeedsResearch, "recomputed flag must override the model's false")
	assert.Empty(t, analysis.Error)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "curfew mode")
	assert.Contains(t, client.prompts[0], "Utah minors")
	assert.Contains(t, client.prompts[0], "treat curfew gating as a legal mandate")
}

func TestStage_Run_ConfidentLowRiskSkipsResearch(t *testing.T) {
	client := &fakeClient{response: lowRiskResponse}
	stage := newTestStage(t, client, &stubMemory{})

	patch, err := stage.Run(context.Background(),
		pipeline.NewState("feed reorder", "Reorder feed cards by engagement for a growth test"))

	require.NoError(t, err)
	assert.Equal(t, pipeline.StepValidation, patch.NextStep)
	assert.False(t, patch.Screening.NeedsResearch, "recomputed flag must override the model's true")
	assert.Equal(t, pipeline.RiskLow, patch.Screening.RiskLevel)
}

func TestStage_Run_ModelFailureDegrades(t *testing.T) {
	client := &fakeClient{err: errors.New("max retries exceeded: server error (503)")}
	stage := newTestStage(t, client, &stubMemory{})

	state := pipeline.NewState("feature", "description")
	patch, err := stage.Run(context.Background(), state)

	require.NoError(t, err, "screening failures degrade, never abort")
	require.NotNil(t, patch.Screening)
	assert.Equal(t, pipeline.StepValidation, patch.NextStep, "failed screening never routes to research")

	analysis := patch.Screening
	assert.Equal(t, pipeline.RiskError, analysis.RiskLevel)
	assert.Zero(t, analysis.Confidence)
	assert.False(t, analysis.NeedsResearch)
	assert.Equal(t, []string{"unknown"}, analysis.GeographicScope)
	assert.Equal(t, "none", analysis.DataSensitivity)
	assert.NotEmpty(t, analysis.Reasoning)
	assert.Contains(t, analysis.Error, "upstream_service")
}

func TestStage_Run_MalformedResponseDegrades(t *testing.T) {
	client := &fakeClient{response: "the feature looks fine to me"}
	stage := newTestStage(t, client, &stubMemory{})

	patch, err := stage.Run(context.Background(), pipeline.NewState("feature", "description"))

	require.NoError(t, err)
	assert.Equal(t, pipeline.RiskError, patch.Screening.RiskLevel)
	assert.Equal(t, pipeline.StepValidation, patch.NextStep)
	assert.Contains(t, patch.Screening.Error, "schema_validation")
}

func TestStage_Run_MemoryFailuresTolerated(t *testing.T) {
	client := &fakeClient{response: lowRiskResponse}
	mem := &stubMemory{
		overlayErr:  errors.New("store closed"),
		glossaryErr: errors.New("store closed"),
	}
	stage := newTestStage(t, client, mem)

	patch, err := stage.Run(context.Background(), pipeline.NewState("feature", "description"))

	require.NoError(t, err)
	assert.Equal(t, pipeline.RiskLow, patch.Screening.RiskLevel)
	assert.Empty(t, patch.Screening.Error)
}

func TestStage_Run_GlossaryReachesPrompt(t *testing.T) {
	client := &fakeClient{response: lowRiskResponse}
	mem := &stubMemory{glossary: map[string]memory.GlossaryEntry{
		"Jellybean": {Term: "Jellybean", Expansion: "internal parental control system"},
	}}
	stage := newTestStage(t, client, mem)

	_, err := stage.Run(context.Background(), pipeline.NewState("feature", "description"))

	require.NoError(t, err)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "LEARNED GLOSSARY:")
	assert.Contains(t, client.prompts[0], "internal parental control system")
}
