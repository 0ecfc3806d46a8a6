package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/lawbranch/geogate/internal/http"
	"github.com/lawbranch/geogate/internal/pipeline"
)

// withTestServer points the CLI at a local httptest server for the
// duration of one test.
func withTestServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	old := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = old })
}

func TestRunAnalyze(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/analyze", r.URL.Path)

		var req api.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Curfew login blocker", req.FeatureName)
		assert.Equal(t, "Blocks logins for minors", req.FeatureDescription)

		state := pipeline.State{
			SessionID:   "compliance_ab12cd34",
			FeatureName: req.FeatureName,
			Screening:   &pipeline.ScreeningAnalysis{RiskLevel: pipeline.RiskHigh, GeographicScope: []string{"US-UT"}},
			Validation: &pipeline.ValidationAnalysis{
				Decision:   pipeline.DecisionYes,
				Confidence: 0.9,
				Reasoning:  "Utah Social Media Regulation Act requires curfew controls for minors",
			},
		}
		_ = json.NewEncoder(w).Encode(state)
	})

	outPath := filepath.Join(t.TempDir(), "run.json")
	azName = "Curfew login blocker"
	azDescription = "Blocks logins for minors"
	azDescriptionFile = ""
	azContextFile = ""
	azOutputPath = outPath
	azOutputJSON = false

	require.NoError(t, runAnalyze(nil, nil))

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var saved pipeline.State
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, "compliance_ab12cd34", saved.SessionID)
	assert.Equal(t, pipeline.DecisionYes, saved.Validation.Decision)
}

func TestRunAnalyze_ServerError(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"feature_name and feature_description are required"}`, http.StatusBadRequest)
	})

	azName = "X"
	azDescription = "Y"
	azDescriptionFile = ""
	azContextFile = ""
	azOutputPath = ""
	azOutputJSON = false

	err := runAnalyze(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestResolveDescription(t *testing.T) {
	descFile := filepath.Join(t.TempDir(), "feature.md")
	require.NoError(t, os.WriteFile(descFile, []byte("from a file"), 0o600))

	tests := []struct {
		name    string
		inline  string
		file    string
		want    string
		wantErr string
	}{
		{name: "inline", inline: "inline text", want: "inline text"},
		{name: "from file", file: descFile, want: "from a file"},
		{name: "neither", wantErr: "provide --description"},
		{name: "both", inline: "x", file: descFile, wantErr: "mutually exclusive"},
		{name: "missing file", file: filepath.Join(t.TempDir(), "nope.md"), wantErr: "failed to read file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			azDescription = tt.inline
			azDescriptionFile = tt.file

			got, err := resolveDescription()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunFeedback(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/feedback", r.URL.Path)

		var req api.FeedbackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "compliance_ab12cd34", req.SessionID)
		assert.Equal(t, "no", req.IsCorrect)
		assert.Equal(t, "act only covers minors", req.Notes)
		require.NotNil(t, req.Validation)

		_ = json.NewEncoder(w).Encode(api.FeedbackResponse{
			SessionID: req.SessionID,
			Learning: &pipeline.LearningReport{
				LearningSummary: "added 1 validation rule",
				LearningCounts:  map[string]int{"rules": 1},
			},
		})
	})

	state := pipeline.State{
		SessionID:          "compliance_ab12cd34",
		FeatureName:        "Curfew login blocker",
		FeatureDescription: "Blocks logins for minors",
		Validation:         &pipeline.ValidationAnalysis{Decision: pipeline.DecisionYes},
	}
	raw, err := json.Marshal(state)
	require.NoError(t, err)

	statePath := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(statePath, raw, 0o600))

	fbCorrect = "no"
	fbNotes = "act only covers minors"
	fbOutputJSON = false

	require.NoError(t, runFeedback(nil, []string{statePath}))
}

func TestRunFeedback_RejectsIncompleteAnalysis(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"session_id":"compliance_ab12cd34"}`), 0o600))

	fbCorrect = "yes"
	fbNotes = ""

	err := runFeedback(nil, []string{statePath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a completed analysis")
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "fewshots=2 rules=1", formatCounts(map[string]int{"rules": 1, "fewshots": 2}))
	assert.Equal(t, "", formatCounts(nil))
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{name: "empty", text: "", width: 10, want: nil},
		{name: "fits", text: "short line", width: 20, want: []string{"short line"}},
		{name: "wraps on words", text: "one two three four", width: 9, want: []string{"one two", "three", "four"}},
		{name: "single long word", text: "unbreakable", width: 4, want: []string{"unbreakable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrapText(tt.text, tt.width))
		})
	}
}
