package learning

import (
	"encoding/json"
	"fmt"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/memory"
)

// learningPlan mirrors the planner's output schema. Few-shots stay raw
// because the whole example object is the stored payload.
type learningPlan struct {
	Summary    string                 `json:"summary"`
	Glossary   []memory.GlossaryEntry `json:"glossary"`
	KBSnippets []memory.KBSnippet     `json:"kb_snippets"`
	FewShots   []json.RawMessage      `json:"few_shots"`
	Rules      []memory.RuleEntry     `json:"rules"`
	Tags       []string               `json:"tags"`
}

// parsePlan decodes the model's learning plan. An empty plan (all lists
// empty) is valid: some feedback is not actionable.
func parsePlan(raw string) (*learningPlan, error) {
	var plan learningPlan
	if err := llm.DecodeJSON(raw, &plan); err != nil {
		return nil, fmt.Errorf("decoding learning plan: %w", err)
	}
	return &plan, nil
}
