package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/pipeline"
)

// Reasoning length contract: long enough to audit, short enough to
// store and display.
const (
	minReasoningChars = 10
	maxReasoningChars = 1200
)

// shortReasoningFallback replaces reasoning too thin to audit.
const shortReasoningFallback = "the model returned no usable reasoning for this determination"

// downgradeSuffix explains an evidence-gated downgrade in the stored
// reasoning.
const downgradeSuffix = "Downgraded to REVIEW: an affirmative decision requires at least one citation resolvable to retrieved evidence."

// validationResponse mirrors the model's output schema. Slippery fields
// stay raw so one malformed value never rejects the whole response.
type validationResponse struct {
	NeedsGeoLogic string          `json:"needs_geo_logic"`
	Reasoning     json.RawMessage `json:"reasoning"`
	Citations     json.RawMessage `json:"related_regulations"`
	Confidence    json.RawMessage `json:"confidence"`
}

// modelCitation is one citation as the model reports it.
type modelCitation struct {
	RegulationName string `json:"regulation_name"`
	Excerpt        string `json:"excerpt"`
	SourceFilename string `json:"source_filename"`
}

// parsedDecision is a decoded, field-repaired response awaiting
// evidence gating.
type parsedDecision struct {
	decision   pipeline.Decision
	reasoning  string
	citations  []modelCitation
	confidence float64
}

// parseDecision decodes a model response and repairs invalid fields
// with conservative defaults. Only an undecodable body is an error.
func parseDecision(raw string) (*parsedDecision, error) {
	var resp validationResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding validation response: %w", err)
	}
	return &parsedDecision{
		decision:   normalizeDecision(resp.NeedsGeoLogic),
		reasoning:  composeReasoning(resp.Reasoning),
		citations:  parseCitations(resp.Citations),
		confidence: llm.Score(resp.Confidence, 0.5),
	}, nil
}

// normalizeDecision folds any unrecognized verdict to REVIEW.
func normalizeDecision(v string) pipeline.Decision {
	switch pipeline.Decision(strings.ToUpper(strings.TrimSpace(v))) {
	case pipeline.DecisionYes:
		return pipeline.DecisionYes
	case pipeline.DecisionNo:
		return pipeline.DecisionNo
	default:
		return pipeline.DecisionReview
	}
}

// reasoningSections is the structured reasoning block the prompt asks
// for. The bookend sections become the stored reasoning string; the
// intermediate ones exist for the model's own chain of analysis.
type reasoningSections struct {
	ExecutiveSummary string `json:"executive_summary"`
	FinalAssessment  string `json:"final_assessment"`
}

// composeReasoning accepts the structured reasoning object or a bare
// string. Anything else reads as empty and is repaired downstream.
func composeReasoning(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var sections reasoningSections
	if err := json.Unmarshal(raw, &sections); err == nil {
		parts := make([]string, 0, 2)
		for _, p := range []string{sections.ExecutiveSummary, sections.FinalAssessment} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func parseCitations(raw json.RawMessage) []modelCitation {
	if len(raw) == 0 {
		return nil
	}
	var items []modelCitation
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// gate applies the evidence-gating post-conditions to a parsed
// decision: citations that do not resolve to retrieved evidence are
// dropped, and a YES left without citations downgrades to REVIEW.
func gate(parsed *parsedDecision, evidence []pipeline.EvidenceItem) *pipeline.ValidationAnalysis {
	citations := resolveCitations(parsed.citations, evidence)

	decision := parsed.decision
	reasoning := parsed.reasoning
	if len([]rune(strings.TrimSpace(reasoning))) < minReasoningChars {
		reasoning = shortReasoningFallback
	}
	if decision == pipeline.DecisionYes && len(citations) == 0 {
		decision = pipeline.DecisionReview
		reasoning += " " + downgradeSuffix
	}

	return &pipeline.ValidationAnalysis{
		Decision:           decision,
		Reasoning:          truncateReasoning(reasoning),
		RelatedRegulations: citations,
		Confidence:         parsed.confidence,
	}
}

// resolveCitations keeps only citations traceable to retrieved
// evidence, attaching the provenance recorded at retrieval time.
// Resolution tries the cited source filename first, then the
// regulation name; a citation matching neither is dropped.
func resolveCitations(citations []modelCitation, evidence []pipeline.EvidenceItem) []pipeline.RelatedRegulation {
	byFile := make(map[string]pipeline.EvidenceItem, len(evidence))
	byName := make(map[string]pipeline.EvidenceItem, len(evidence))
	// Reverse order so the highest-scored chunk wins per key.
	for i := len(evidence) - 1; i >= 0; i-- {
		item := evidence[i]
		if key := strings.ToLower(strings.TrimSpace(item.SourceFilename)); key != "" {
			byFile[key] = item
		}
		if key := strings.ToLower(strings.TrimSpace(item.RegulationName)); key != "" {
			byName[key] = item
		}
	}

	seen := make(map[string]bool, len(citations))
	resolved := make([]pipeline.RelatedRegulation, 0, len(citations))
	for _, c := range citations {
		item, ok := byFile[strings.ToLower(strings.TrimSpace(c.SourceFilename))]
		if !ok {
			item, ok = byName[strings.ToLower(strings.TrimSpace(c.RegulationName))]
		}
		if !ok {
			continue
		}

		name := strings.TrimSpace(c.RegulationName)
		if name == "" {
			name = item.RegulationName
		}
		excerpt := strings.TrimSpace(c.Excerpt)
		if excerpt == "" {
			excerpt = item.Excerpt
		}

		key := strings.ToLower(name) + "\x00" + item.URL
		if seen[key] {
			continue
		}
		seen[key] = true

		resolved = append(resolved, pipeline.RelatedRegulation{
			Name:            name,
			Jurisdiction:    item.Jurisdiction,
			URL:             item.URL,
			EvidenceExcerpt: excerpt,
		})
	}
	return resolved
}

func truncateReasoning(s string) string {
	runes := []rune(s)
	if len(runes) > maxReasoningChars {
		return string(runes[:maxReasoningChars])
	}
	return s
}
