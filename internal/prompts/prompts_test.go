package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/memory"
)

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	reg, err := NewRegistry(config.PromptsConfig{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	return reg
}

func TestDefaultTemplatesComplete(t *testing.T) {
	reg := newTestRegistry(t, "")

	for _, stage := range Stages() {
		tpl := reg.Template(stage)
		assert.NotEmpty(t, tpl, "stage %s has no default template", stage)
	}

	// Each analysis template pins its output contract.
	assert.Contains(t, reg.Template(StageScreening), `"agent": "ScreeningAgent"`)
	assert.Contains(t, reg.Template(StageResearch), `"agent": "ResearchAgent"`)
	assert.Contains(t, reg.Template(StageValidation), `"needs_geo_logic": "YES|NO|REVIEW"`)
	assert.Contains(t, reg.Template(StageLearning), `"agent": "LearningAgent"`)
	assert.Contains(t, reg.Template(StageSearchQuery), "Return ONLY the search query string")
}

func TestOverrideFileReplacesDefault(t *testing.T) {
	dir := t.TempDir()
	custom := "custom screening for {{feature_name}}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "screening.tmpl"), []byte(custom), 0o644))

	reg := newTestRegistry(t, dir)

	assert.Equal(t, custom, reg.Template(StageScreening))
	// Stages without an override keep the default.
	assert.Contains(t, reg.Template(StageValidation), `"agent": "ValidationAgent"`)
}

func TestReloadPicksUpNewOverride(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, dir)

	before := reg.Template(StageResearch)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "research.tmpl"), []byte("evidence only"), 0o644))

	require.NoError(t, reg.Reload())

	assert.NotEqual(t, before, reg.Template(StageResearch))
	assert.Equal(t, "evidence only", reg.Template(StageResearch))
}

func TestReloadIgnoresEmptyOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validation.tmpl"), []byte{}, 0o644))

	reg := newTestRegistry(t, dir)

	assert.Contains(t, reg.Template(StageValidation), `"agent": "ValidationAgent"`)
}

func TestReloadRestoresDefaultAfterOverrideRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learning.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))

	reg := newTestRegistry(t, dir)
	require.Equal(t, "short", reg.Template(StageLearning))

	require.NoError(t, os.Remove(path))
	require.NoError(t, reg.Reload())

	assert.Contains(t, reg.Template(StageLearning), `"agent": "LearningAgent"`)
}

func TestRenderScreeningSubstitutesPlaceholders(t *testing.T) {
	reg := newTestRegistry(t, "")

	prompt := reg.RenderScreening(ScreeningParams{
		FeatureName:        "Curfew login blocker",
		FeatureDescription: "Uses ASL and GH to gate minors at night",
		Overlay:            "MEMORY OVERLAY\n- RULE: Quote the statute",
		Glossary:           "LEARNED GLOSSARY:\n- VPC: verifiable parental consent",
	})

	assert.Contains(t, prompt, "Curfew login blocker")
	assert.Contains(t, prompt, "Uses ASL and GH to gate minors at night")
	assert.Contains(t, prompt, "MEMORY OVERLAY")
	assert.Contains(t, prompt, "- RULE: Quote the statute")
	assert.Contains(t, prompt, "INTERNAL PLATFORM TERMINOLOGY")
	assert.Contains(t, prompt, "VPC: verifiable parental consent")
	assert.Contains(t, prompt, "none provided") // no documents supplied
	assert.NotContains(t, prompt, "{{feature_name}}")
	assert.NotContains(t, prompt, "{{memory_overlay}}")
	assert.NotContains(t, prompt, "{{terminology}}")
}

func TestRenderValidationIncludesGeoHint(t *testing.T) {
	reg := newTestRegistry(t, "")

	prompt := reg.RenderValidation(ValidationParams{
		FeatureName:        "Feed limits",
		FeatureDescription: "Region-specific feed limits",
		ScreeningAnalysis:  `{"risk_level": "HIGH"}`,
		ResearchAnalysis:   `{"regulations": []}`,
		GeoHint:            GeoScopeHint([]string{"US-CA", "EU"}),
	})

	assert.Contains(t, prompt, "GEO SCOPE HINT")
	assert.Contains(t, prompt, "US-CA, EU")
	assert.Contains(t, prompt, `{"risk_level": "HIGH"}`)
	assert.NotContains(t, prompt, "{{geo_hint}}")
}

func TestRenderLearningSubstitutesArtifacts(t *testing.T) {
	reg := newTestRegistry(t, "")

	prompt := reg.RenderLearning(LearningParams{
		Feature:   `{"name": "f"}`,
		Screening: `{"risk_level": "LOW"}`,
		Research:  `{"regulations": []}`,
		Decision:  `{"needs_geo_logic": "NO"}`,
		Feedback:  `{"is_correct": "no", "notes": "missed Utah act"}`,
	})

	assert.Contains(t, prompt, "missed Utah act")
	assert.Contains(t, prompt, `{"needs_geo_logic": "NO"}`)
	assert.NotContains(t, prompt, "{{feedback}}")
}

func TestFormatGlossary(t *testing.T) {
	t.Run("empty map renders nothing", func(t *testing.T) {
		assert.Empty(t, FormatGlossary(nil))
		assert.Empty(t, FormatGlossary(map[string]memory.GlossaryEntry{}))
	})

	t.Run("entries sorted by term with hints", func(t *testing.T) {
		got := FormatGlossary(map[string]memory.GlossaryEntry{
			"VPC": {Term: "VPC", Expansion: "verifiable parental consent", Hints: []string{"COPPA", "under 13"}},
			"DRT": {Term: "DRT", Expansion: "data retention threshold"},
		})

		lines := strings.Split(got, "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "LEARNED GLOSSARY:", lines[0])
		assert.Equal(t, "- DRT: data retention threshold", lines[1])
		assert.Equal(t, "- VPC: verifiable parental consent (hints: COPPA; under 13)", lines[2])
	})
}

func TestGeoScopeHint(t *testing.T) {
	tests := []struct {
		name  string
		scope []string
		want  string
	}{
		{name: "nil scope", scope: nil, want: ""},
		{name: "unknown only", scope: []string{"unknown"}, want: ""},
		{name: "blank entries", scope: []string{"", "  "}, want: ""},
		{
			name:  "regions listed",
			scope: []string{"US-CA", "unknown", "EU"},
			want:  "GEO SCOPE HINT: screening identified geographic scope [US-CA, EU]; weigh jurisdiction-specific mandates for these regions when deciding needs_geo_logic.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GeoScopeHint(tt.scope))
		})
	}
}

func TestSubscribeInvokedOnReload(t *testing.T) {
	reg := newTestRegistry(t, "")

	calls := 0
	reg.Subscribe(func() { calls++ })

	require.NoError(t, reg.Reload())
	require.NoError(t, reg.Reload())

	assert.Equal(t, 2, calls)
}

func TestWatcherReloadsOnOverrideWrite(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, dir)
	defer reg.Stop()

	reloaded := make(chan struct{}, 1)
	reg.Subscribe(func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Start(ctx))

	// Give the watcher time to initialize
	time.Sleep(50 * time.Millisecond)

	custom := "watched screening template"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "screening.tmpl"), []byte(custom), 0o644))

	select {
	case <-reloaded:
		assert.Equal(t, custom, reg.Template(StageScreening))
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for prompt reload")
	}
}

func TestStartWithoutDirIsNoop(t *testing.T) {
	reg := newTestRegistry(t, "")
	defer reg.Stop()

	require.NoError(t, reg.Start(context.Background()))
	assert.Nil(t, reg.watcher)
}

func TestStartWithMissingDirDisablesWatcher(t *testing.T) {
	reg := newTestRegistry(t, filepath.Join(t.TempDir(), "absent"))
	defer reg.Stop()

	require.NoError(t, reg.Start(context.Background()))
	assert.Nil(t, reg.watcher)
}
