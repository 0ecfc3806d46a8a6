package screening

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/pipeline"
)

const (
	defaultConfidence = 0.5
	defaultReasoning  = "model returned no reasoning for this assessment"
)

// screeningResponse mirrors the model's output schema. Slippery fields
// stay raw so one malformed value never rejects the whole response.
type screeningResponse struct {
	RiskLevel          string          `json:"risk_level"`
	ComplianceRequired bool            `json:"compliance_required"`
	Confidence         json.RawMessage `json:"confidence"`
	TriggerKeywords    json.RawMessage `json:"trigger_keywords"`
	Reasoning          string          `json:"reasoning"`
	GeographicScope    json.RawMessage `json:"geographic_scope"`
	AgeSensitivity     bool            `json:"age_sensitivity"`
	DataSensitivity    string          `json:"data_sensitivity"`
}

// parseAnalysis decodes a model response and repairs invalid fields
// with conservative defaults. Only an undecodable body is an error.
func parseAnalysis(raw string) (*pipeline.ScreeningAnalysis, error) {
	var resp screeningResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding screening response: %w", err)
	}

	analysis := &pipeline.ScreeningAnalysis{
		RiskLevel:          normalizeRiskLevel(resp.RiskLevel),
		ComplianceRequired: resp.ComplianceRequired,
		Confidence:         llm.Score(resp.Confidence, defaultConfidence),
		GeographicScope:    parseScope(resp.GeographicScope),
		AgeSensitivity:     resp.AgeSensitivity,
		DataSensitivity:    normalizeDataSensitivity(resp.DataSensitivity),
		TriggerKeywords:    parseStringList(resp.TriggerKeywords),
		Reasoning:          strings.TrimSpace(resp.Reasoning),
	}
	if analysis.Reasoning == "" {
		analysis.Reasoning = defaultReasoning
	}
	return analysis, nil
}

// normalizeRiskLevel upgrades unknown grades to MEDIUM so a malformed
// response never understates exposure.
func normalizeRiskLevel(v string) pipeline.RiskLevel {
	switch pipeline.RiskLevel(strings.ToUpper(strings.TrimSpace(v))) {
	case pipeline.RiskLow:
		return pipeline.RiskLow
	case pipeline.RiskMedium:
		return pipeline.RiskMedium
	case pipeline.RiskHigh:
		return pipeline.RiskHigh
	default:
		return pipeline.RiskMedium
	}
}

// parseScope accepts a list of region tokens or a bare string such as
// "global". Empty or malformed scopes become ["unknown"].
func parseScope(raw json.RawMessage) []string {
	scope := parseStringList(raw)
	if len(scope) == 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			scope = []string{strings.TrimSpace(s)}
		}
	}
	if len(scope) == 0 {
		return []string{"unknown"}
	}
	return scope
}

func parseStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := items[:0]
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeDataSensitivity maps anything outside the T1..T5 tiers to
// "none".
func normalizeDataSensitivity(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "none") {
		return "none"
	}
	tier := strings.ToUpper(v)
	if pipeline.DataSensitivityTiers[tier] {
		return tier
	}
	return "none"
}
