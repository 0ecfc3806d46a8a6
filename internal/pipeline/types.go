package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Step identifies a node in the run graph.
type Step string

const (
	StepStart      Step = "start"
	StepScreening  Step = "screening"
	StepResearch   Step = "research"
	StepValidation Step = "validation"
	StepLearning   Step = "learning"
	StepComplete   Step = "complete"
)

// AnalysisSteps lists the nodes an analyze run can visit, in graph order.
func AnalysisSteps() []Step {
	return []Step{StepScreening, StepResearch, StepValidation}
}

// RiskLevel grades the regulatory exposure found by screening.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"

	// RiskError marks the degraded analysis produced when screening
	// itself failed.
	RiskError RiskLevel = "ERROR"
)

// Decision is the final geo-compliance determination for a feature.
type Decision string

const (
	DecisionYes    Decision = "YES"
	DecisionNo     Decision = "NO"
	DecisionReview Decision = "REVIEW"
)

// DataSensitivityTiers lists the accepted data classification values.
// Screening normalizes anything else to "none".
var DataSensitivityTiers = map[string]bool{
	"T1": true, "T2": true, "T3": true, "T4": true, "T5": true, "none": true,
}

// ScreeningAnalysis is the first-pass risk assessment for a feature.
type ScreeningAnalysis struct {
	RiskLevel          RiskLevel `json:"risk_level"`
	ComplianceRequired bool      `json:"compliance_required"`
	Confidence         float64   `json:"confidence"`
	GeographicScope    []string  `json:"geographic_scope"`
	AgeSensitivity     bool      `json:"age_sensitivity"`
	DataSensitivity    string    `json:"data_sensitivity"`
	TriggerKeywords    []string  `json:"trigger_keywords"`
	NeedsResearch      bool      `json:"needs_research"`
	Reasoning          string    `json:"reasoning"`
	Error              string    `json:"error,omitempty"`
}

// ResearchRequired reports whether the corpus should be consulted for
// this analysis. The needs_research flag the model emits is advisory;
// this rule is authoritative and screening always recomputes it.
func (a *ScreeningAnalysis) ResearchRequired() bool {
	return a.ComplianceRequired || a.Confidence < 0.8 ||
		a.RiskLevel == RiskHigh || a.RiskLevel == RiskMedium
}

// EvidenceItem is one retrieved regulation excerpt scored for relevance.
// The excerpt is verbatim corpus text, never model output.
type EvidenceItem struct {
	SourceFilename string  `json:"source_filename"`
	RegulationName string  `json:"regulation_name"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
	URL            string  `json:"url,omitempty"`
	Jurisdiction   string  `json:"jurisdiction,omitempty"`
}

// ResearchAnalysis cross-references a screening result against the
// regulation corpus.
type ResearchAnalysis struct {
	Evidence        []EvidenceItem `json:"evidence"`
	QueriesUsed     []string       `json:"queries_used"`
	ConfidenceScore float64        `json:"confidence_score"`
	Summary         string         `json:"summary"`
	Error           string         `json:"error,omitempty"`
}

// RelatedRegulation is a citation backing a validation decision. URL
// must come from the research evidence; validation drops anything else.
type RelatedRegulation struct {
	Name            string `json:"name"`
	Jurisdiction    string `json:"jurisdiction,omitempty"`
	Section         string `json:"section,omitempty"`
	URL             string `json:"url"`
	EvidenceExcerpt string `json:"evidence_excerpt"`
}

// ValidationAnalysis is the final determination for a run.
type ValidationAnalysis struct {
	Decision           Decision            `json:"decision"`
	Reasoning          string              `json:"reasoning"`
	RelatedRegulations []RelatedRegulation `json:"related_regulations"`
	Confidence         float64             `json:"confidence"`
	Error              string              `json:"error,omitempty"`
}

// LearningReport summarizes the memory updates applied for one
// feedback submission.
type LearningReport struct {
	LearningSummary   string         `json:"learning_summary"`
	LearningCounts    map[string]int `json:"learning_counts"`
	LearningTimestamp time.Time      `json:"learning_timestamp"`
}

// Feedback is a reviewer's verdict on a finished run.
type Feedback struct {
	IsCorrect string `json:"is_correct"`
	Notes     string `json:"notes,omitempty"`
}

// Validate checks the verdict value. Only "yes" and "no" are accepted,
// case-insensitively.
func (f Feedback) Validate() error {
	switch strings.ToLower(strings.TrimSpace(f.IsCorrect)) {
	case "yes", "no":
		return nil
	}
	return fmt.Errorf("is_correct must be \"yes\" or \"no\", got %q", f.IsCorrect)
}

// Correct reports whether the reviewer confirmed the decision.
func (f Feedback) Correct() bool {
	return strings.EqualFold(strings.TrimSpace(f.IsCorrect), "yes")
}

// State is the shared record of one run. Stages never mutate it
// directly; they return a Patch and the runner merges it.
type State struct {
	SessionID          string    `json:"session_id"`
	FeatureName        string    `json:"feature_name"`
	FeatureDescription string    `json:"feature_description"`
	ContextDocuments   string    `json:"context_documents,omitempty"`
	StartedAt          time.Time `json:"started_at"`

	Screening  *ScreeningAnalysis  `json:"screening_analysis,omitempty"`
	Research   *ResearchAnalysis   `json:"research_analysis,omitempty"`
	Validation *ValidationAnalysis `json:"validation_analysis,omitempty"`
	Learning   *LearningReport     `json:"learning_report,omitempty"`

	Feedback *Feedback `json:"user_feedback,omitempty"`

	// NextStep is the routing hint written by screening: research when
	// the corpus should be consulted, validation otherwise.
	NextStep Step `json:"next_step,omitempty"`

	// StageCompletedAt records when each visited stage finished.
	StageCompletedAt map[Step]time.Time `json:"stage_completed_at,omitempty"`

	// Error carries the absorbed failure when a stage aborted the run.
	Error string `json:"error,omitempty"`
}

// NewState builds the initial state for an analyze run.
func NewState(featureName, featureDescription string) *State {
	return &State{
		FeatureName:        featureName,
		FeatureDescription: featureDescription,
	}
}

// NewSessionID generates a run identifier: "compliance_" plus the first
// eight hex characters of a random UUID.
func NewSessionID() string {
	return "compliance_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// EnsureSession assigns the session ID and start timestamp exactly
// once. Calling it on an initialized state is a no-op.
func (s *State) EnsureSession() {
	if s.SessionID == "" {
		s.SessionID = NewSessionID()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
}

// Patch is the slice of run state one stage may write. Nil fields leave
// the current value untouched; the last writer of a field wins.
type Patch struct {
	Screening  *ScreeningAnalysis
	Research   *ResearchAnalysis
	Validation *ValidationAnalysis
	Learning   *LearningReport
	NextStep   Step
}

// Apply merges a stage patch and stamps the stage completion time.
func (s *State) Apply(step Step, p *Patch) {
	if s.StageCompletedAt == nil {
		s.StageCompletedAt = make(map[Step]time.Time)
	}
	s.StageCompletedAt[step] = time.Now().UTC()

	if p == nil {
		return
	}
	if p.Screening != nil {
		s.Screening = p.Screening
	}
	if p.Research != nil {
		s.Research = p.Research
	}
	if p.Validation != nil {
		s.Validation = p.Validation
	}
	if p.Learning != nil {
		s.Learning = p.Learning
	}
	if p.NextStep != "" {
		s.NextStep = p.NextStep
	}
}
