package audit

import (
	"time"

	"github.com/lawbranch/geogate/internal/pipeline"
)

// Feature identifies the analyzed feature in an audit record.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScreeningDigest condenses a screening analysis to the fields an
// auditor needs to reconstruct the routing decision.
type ScreeningDigest struct {
	RiskLevel  pipeline.RiskLevel `json:"risk_level"`
	Confidence float64            `json:"confidence"`
}

// DecisionDigest condenses the validation verdict.
type DecisionDigest struct {
	Decision   pipeline.Decision `json:"decision"`
	Confidence float64           `json:"confidence"`
	Citations  int               `json:"citations"`
}

// FeedbackRecord is one learning-stage invocation: what the pipeline
// decided, what the reviewer said, and what the learning plan changed.
type FeedbackRecord struct {
	Timestamp     time.Time         `json:"timestamp"`
	SessionID     string            `json:"session_id"`
	Feature       Feature           `json:"feature"`
	Screening     *ScreeningDigest  `json:"screening,omitempty"`
	ResearchCount int               `json:"research_count"`
	Decision      DecisionDigest    `json:"decision"`
	UserFeedback  pipeline.Feedback `json:"user_feedback"`
	PlanSummary   string            `json:"plan_summary"`
	PlanCounts    map[string]int    `json:"plan_counts"`
}

// SweepRecord summarizes one scheduled backlog sweep.
type SweepRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	SweepID   string         `json:"sweep_id"`
	Features  int            `json:"features"`
	Decisions map[string]int `json:"decisions"`
	Failures  int            `json:"failures"`
}
