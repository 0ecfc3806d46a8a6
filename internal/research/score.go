package research

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lawbranch/geogate/internal/llm"
	"github.com/lawbranch/geogate/internal/pipeline"
	"github.com/lawbranch/geogate/internal/retrieval"
)

// retrievalWeight and modelWeight blend evidence quality with the
// model's self-reported confidence into the stage score.
const (
	retrievalWeight = 0.6
	modelWeight     = 0.4
)

// defaultModelConfidence stands in when the synthesis response carries
// no usable confidence value.
const defaultModelConfidence = 0.5

// researchResponse mirrors the synthesis output schema. The regulations
// list the model echoes back is deliberately not decoded: only locally
// ranked evidence may reach validation.
type researchResponse struct {
	Summary         string          `json:"summary"`
	ConfidenceScore json.RawMessage `json:"confidence_score"`
}

// parseSynthesis extracts the summary and model confidence from a
// synthesis response. Only an undecodable body is an error.
func parseSynthesis(raw string, evidenceCount int) (string, float64, error) {
	var resp researchResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return "", 0, fmt.Errorf("decoding research response: %w", err)
	}

	summary := strings.TrimSpace(resp.Summary)
	if summary == "" {
		summary = fmt.Sprintf("model returned no summary for %d evidence snippets", evidenceCount)
	}
	return summary, llm.Score(resp.ConfidenceScore, defaultModelConfidence), nil
}

// cleanQuery reduces a query-generation reply to the single line it was
// asked for, tolerating stray fences, quoting, or commentary.
func cleanQuery(raw string) string {
	for _, line := range strings.Split(llm.StripFences(raw), "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"'`)
		if line != "" {
			return line
		}
	}
	return ""
}

// rankEvidence converts retrieval hits into scored evidence, highest
// relevance first, truncated to maxEvidence. Hits with empty text are
// dropped; an excerpt must be verbatim and non-empty to be citable.
func rankEvidence(snippets []retrieval.Snippet) []pipeline.EvidenceItem {
	items := make([]pipeline.EvidenceItem, 0, len(snippets))
	for _, sn := range snippets {
		if strings.TrimSpace(sn.Text) == "" {
			continue
		}
		items = append(items, pipeline.EvidenceItem{
			SourceFilename: sn.SourceFilename,
			RegulationName: sn.RegulationName,
			Excerpt:        sn.Text,
			RelevanceScore: relevanceScore(sn.Distance),
			URL:            sn.URL,
			Jurisdiction:   sn.Jurisdiction,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RelevanceScore > items[j].RelevanceScore
	})
	if len(items) > maxEvidence {
		items = items[:maxEvidence]
	}
	return items
}

// relevanceScore maps a retrieval distance to [0, 1]. The square root
// spreads mid-range distances apart so near ties stay distinguishable.
func relevanceScore(distance float64) float64 {
	return round(math.Sqrt(math.Max(0, 1-distance)), 4)
}

// combineConfidence blends mean evidence relevance with the model's
// self-reported confidence.
func combineConfidence(evidence []pipeline.EvidenceItem, modelConfidence float64) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, item := range evidence {
		sum += item.RelevanceScore
	}
	mean := sum / float64(len(evidence))
	return round(retrievalWeight*mean+modelWeight*modelConfidence, 3)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
