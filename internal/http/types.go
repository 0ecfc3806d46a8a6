package http

import (
	"github.com/lawbranch/geogate/internal/memory"
	"github.com/lawbranch/geogate/internal/pipeline"
)

// AnalyzeRequest is the request body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	FeatureName        string `json:"feature_name"`
	FeatureDescription string `json:"feature_description"`
	ContextDocuments   string `json:"context_documents,omitempty"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback. The
// caller resubmits the analysis trace it received from analyze along
// with the reviewer verdict; the server holds no per-session state
// beyond the run registry snapshot.
type FeedbackRequest struct {
	SessionID          string                       `json:"session_id"`
	FeatureName        string                       `json:"feature_name"`
	FeatureDescription string                       `json:"feature_description"`
	Screening          *pipeline.ScreeningAnalysis  `json:"screening_analysis,omitempty"`
	Research           *pipeline.ResearchAnalysis   `json:"research_analysis,omitempty"`
	Validation         *pipeline.ValidationAnalysis `json:"validation_analysis,omitempty"`
	IsCorrect          string                       `json:"is_correct"`
	Notes              string                       `json:"notes,omitempty"`
}

// FeedbackResponse is the response body for POST /api/v1/feedback.
type FeedbackResponse struct {
	SessionID string                   `json:"session_id"`
	Learning  *pipeline.LearningReport `json:"learning_report"`
}

// MemorySearchResponse is the response body for GET /api/v1/memory/search.
type MemorySearchResponse struct {
	Namespace string                `json:"namespace"`
	Count     int                   `json:"count"`
	Records   []memory.StoredRecord `json:"records"`
}

// OverlayResponse is the response body for GET /api/v1/memory/overlay/:stage.
type OverlayResponse struct {
	Stage   string `json:"stage"`
	Overlay string `json:"overlay"`
}

// SeedTerm is one glossary term in a seed request.
type SeedTerm struct {
	Term      string   `json:"term"`
	Expansion string   `json:"expansion"`
	Hints     []string `json:"hints,omitempty"`
}

// SeedGlossaryRequest is the request body for POST /api/v1/memory/seed.
type SeedGlossaryRequest struct {
	Terms []SeedTerm `json:"terms"`
}

// SeedGlossaryResponse reports how many submitted terms were new.
type SeedGlossaryResponse struct {
	Submitted int `json:"submitted"`
	Applied   int `json:"applied"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
