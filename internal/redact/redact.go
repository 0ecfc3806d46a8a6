// Package redact scrubs credentials from inbound feature artifacts
// before they reach model prompts, the audit trail, or the event bus.
// Feature descriptions arrive from planning docs and routinely carry
// pasted API keys and connection strings.
//
// Detection uses the Gitleaks ruleset. Matches are replaced with
// [REDACTED:rule-id:preview] markers that keep enough context for the
// model to reason about the text without seeing the secret.
package redact

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
)

const previewLen = 4

// Finding is a detected secret with its location.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Redaction records one applied replacement, without the secret itself.
type Redaction struct {
	RuleID      string `json:"rule_id"`
	RuleDesc    string `json:"rule_desc"`
	LineNumber  int    `json:"line"`
	Column      int    `json:"column"`
	OriginalLen int    `json:"original_len"`
	Preview     string `json:"preview"`
}

// Summary aggregates a scrub pass for logging and the audit trail.
type Summary struct {
	TotalSecrets     int            `json:"total_secrets"`
	UniqueRules      int            `json:"unique_rules"`
	RuleCounts       map[string]int `json:"rule_counts,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// Result holds scrubbed content plus what was replaced.
type Result struct {
	Content    string      `json:"content"`
	Redactions []Redaction `json:"redactions,omitempty"`
	Summary    Summary     `json:"summary"`
}

// Scanner detects and replaces secrets in text. The Gitleaks ruleset is
// compiled once at construction; DetectString is not documented as
// reentrant, so calls are serialized.
type Scanner struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// NewScanner builds a scanner with the default Gitleaks rules, extended
// by the allowlist file when configured.
func NewScanner(cfg config.RedactConfig, logger *zap.Logger) (*Scanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building secret detector: %w", err)
	}

	if cfg.AllowlistPath != "" {
		allowlist, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		applyAllowlist(&detector.Config, allowlist)
	}

	return &Scanner{detector: detector, logger: logger}, nil
}

// Scrub detects secrets in content and replaces them with markers.
// Clean content comes back unchanged.
func (s *Scanner) Scrub(content string) Result {
	start := time.Now()

	findings := s.detectAll(content)
	summary := buildSummary(findings, time.Since(start))

	if len(findings) == 0 {
		return Result{Content: content, Summary: summary}
	}

	s.logger.Info("redacted secrets from artifact",
		zap.Int("total", summary.TotalSecrets),
		zap.Int("unique_rules", summary.UniqueRules),
	)

	return Result{
		Content:    replaceFindings(content, findings),
		Redactions: buildRedactions(findings),
		Summary:    summary,
	}
}

func (s *Scanner) detectAll(content string) []Finding {
	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return findings
}

// replaceFindings replaces secrets with redaction markers, working
// backwards through the content so earlier indices stay valid.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")

	for _, finding := range sorted {
		if finding.Line < 1 || finding.Line > len(lines) {
			continue
		}

		line := lines[finding.Line-1]
		marker := fmt.Sprintf("[REDACTED:%s:%s]", finding.RuleID, extractPreview(finding.Match, previewLen))

		if finding.StartCol >= 0 && finding.EndCol <= len(line) {
			lines[finding.Line-1] = line[:finding.StartCol] + marker + line[finding.EndCol:]
		}
	}

	return strings.Join(lines, "\n")
}

func extractPreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func buildRedactions(findings []Finding) []Redaction {
	redactions := make([]Redaction, 0, len(findings))
	for _, f := range findings {
		redactions = append(redactions, Redaction{
			RuleID:      f.RuleID,
			RuleDesc:    f.RuleDesc,
			LineNumber:  f.Line,
			Column:      f.StartCol,
			OriginalLen: len(f.Match),
			Preview:     extractPreview(f.Match, previewLen),
		})
	}
	return redactions
}

func buildSummary(findings []Finding, elapsed time.Duration) Summary {
	ruleCounts := make(map[string]int)
	for _, f := range findings {
		ruleCounts[f.RuleID]++
	}

	summary := Summary{
		TotalSecrets:     len(findings),
		UniqueRules:      len(ruleCounts),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	if len(ruleCounts) > 0 {
		summary.RuleCounts = ruleCounts
	}
	return summary
}
