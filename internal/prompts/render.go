package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lawbranch/geogate/internal/memory"
)

// ScreeningParams fills the screening template.
type ScreeningParams struct {
	FeatureName        string
	FeatureDescription string
	Documents          string // optional supplementary documentation
	Overlay            string // learned-memory overlay, may be empty
	Glossary           string // formatted learned glossary, may be empty
}

// SearchQueryParams fills the search-query template.
type SearchQueryParams struct {
	ScreeningAnalysis string // screening result as indented JSON
	Glossary          string
}

// ResearchParams fills the research template.
type ResearchParams struct {
	FeatureName        string
	FeatureDescription string
	ScreeningAnalysis  string // indented JSON
	Evidence           string // retrieved snippets as indented JSON
	Overlay            string
}

// ValidationParams fills the validation template.
type ValidationParams struct {
	FeatureName        string
	FeatureDescription string
	ScreeningAnalysis  string // indented JSON
	ResearchAnalysis   string // indented JSON
	Overlay            string
	Glossary           string
	GeoHint            string // optional scope hint derived from screening
}

// LearningParams fills the learning template. Every field is the
// corresponding pipeline artifact as indented JSON.
type LearningParams struct {
	Feature   string
	Screening string
	Research  string
	Decision  string
	Feedback  string
}

// RenderScreening produces the screening prompt for one feature.
func (r *Registry) RenderScreening(p ScreeningParams) string {
	docs := p.Documents
	if docs == "" {
		docs = "none provided"
	}
	return r.render(StageScreening,
		"{{memory_overlay}}", p.Overlay,
		"{{terminology}}", terminologySection(p.Glossary),
		"{{feature_name}}", p.FeatureName,
		"{{feature_description}}", p.FeatureDescription,
		"{{context_documents}}", docs,
	)
}

// RenderSearchQuery produces the retrieval-query generation prompt.
func (r *Registry) RenderSearchQuery(p SearchQueryParams) string {
	return r.render(StageSearchQuery,
		"{{terminology}}", terminologySection(p.Glossary),
		"{{screening_analysis}}", p.ScreeningAnalysis,
	)
}

// RenderResearch produces the evidence cross-check prompt.
func (r *Registry) RenderResearch(p ResearchParams) string {
	return r.render(StageResearch,
		"{{memory_overlay}}", p.Overlay,
		"{{feature_name}}", p.FeatureName,
		"{{feature_description}}", p.FeatureDescription,
		"{{screening_analysis}}", p.ScreeningAnalysis,
		"{{evidence_found}}", p.Evidence,
	)
}

// RenderValidation produces the final-determination prompt.
func (r *Registry) RenderValidation(p ValidationParams) string {
	return r.render(StageValidation,
		"{{memory_overlay}}", p.Overlay,
		"{{terminology}}", terminologySection(p.Glossary),
		"{{feature_name}}", p.FeatureName,
		"{{feature_description}}", p.FeatureDescription,
		"{{screening_analysis}}", p.ScreeningAnalysis,
		"{{research_analysis}}", p.ResearchAnalysis,
		"{{geo_hint}}", p.GeoHint,
	)
}

// RenderLearning produces the feedback-planning prompt.
func (r *Registry) RenderLearning(p LearningParams) string {
	return r.render(StageLearning,
		"{{feature}}", p.Feature,
		"{{screening}}", p.Screening,
		"{{research}}", p.Research,
		"{{decision}}", p.Decision,
		"{{feedback}}", p.Feedback,
	)
}

// render substitutes placeholder pairs into the active template for a
// stage. Placeholders missing from an override template are simply left
// unused, so operators can trim sections they do not want.
func (r *Registry) render(stage Stage, pairs ...string) string {
	tpl := r.Template(stage)
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// IndentJSON renders v as two-space indented JSON for prompt embedding.
// Marshal failures return "{}" so a prompt never carries a Go error string.
func IndentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// terminologySection combines the static terminology reference with any
// learned glossary text.
func terminologySection(glossary string) string {
	if glossary == "" {
		return TerminologyReference
	}
	return TerminologyReference + "\n\n" + glossary
}

// FormatGlossary renders learned glossary entries as a prompt section,
// sorted by term for stable output. Returns "" when the map is empty.
func FormatGlossary(entries map[string]memory.GlossaryEntry) string {
	if len(entries) == 0 {
		return ""
	}

	terms := make([]string, 0, len(entries))
	for term := range entries {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var b strings.Builder
	b.WriteString("LEARNED GLOSSARY:")
	for _, term := range terms {
		entry := entries[term]
		b.WriteString(fmt.Sprintf("\n- %s: %s", entry.Term, entry.Expansion))
		if len(entry.Hints) > 0 {
			b.WriteString(fmt.Sprintf(" (hints: %s)", strings.Join(entry.Hints, "; ")))
		}
	}
	return b.String()
}

// GeoScopeHint derives a validation prompt hint from the screening
// geographic scope. Scopes that carry no signal produce no hint.
func GeoScopeHint(scope []string) string {
	if len(scope) == 0 {
		return ""
	}

	regions := make([]string, 0, len(scope))
	for _, s := range scope {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "unknown") {
			continue
		}
		regions = append(regions, s)
	}
	if len(regions) == 0 {
		return ""
	}

	return fmt.Sprintf("GEO SCOPE HINT: screening identified geographic scope [%s]; weigh jurisdiction-specific mandates for these regions when deciding needs_geo_logic.",
		strings.Join(regions, ", "))
}
