package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	api "github.com/lawbranch/geogate/internal/http"
	"github.com/lawbranch/geogate/internal/pipeline"
)

var (
	// analyze command flags
	azName            string
	azDescription     string
	azDescriptionFile string
	azContextFile     string
	azOutputPath      string
	azOutputJSON      bool

	// feedback command flags
	fbCorrect    string
	fbNotes      string
	fbOutputJSON bool
)

// analyzeTimeout bounds one analyze request. A run chains several LLM
// calls, so this is minutes, not seconds.
const analyzeTimeout = 5 * time.Minute

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(feedbackCmd)

	analyzeCmd.Flags().StringVar(&azName, "name", "", "Feature name (required)")
	analyzeCmd.Flags().StringVar(&azDescription, "description", "", "Feature description text")
	analyzeCmd.Flags().StringVar(&azDescriptionFile, "description-file", "", "Read the feature description from a file ('-' for stdin)")
	analyzeCmd.Flags().StringVar(&azContextFile, "context-file", "", "Attach supporting documents from a file")
	analyzeCmd.Flags().StringVarP(&azOutputPath, "output", "o", "", "Write the full analysis JSON to a file (feed it to 'geoctl feedback' later)")
	analyzeCmd.Flags().BoolVar(&azOutputJSON, "json", false, "Print the full analysis as JSON instead of a summary")
	_ = analyzeCmd.MarkFlagRequired("name")

	feedbackCmd.Flags().StringVar(&fbCorrect, "correct", "", "Reviewer verdict: yes or no (required)")
	feedbackCmd.Flags().StringVar(&fbNotes, "notes", "", "Reviewer notes explaining the verdict")
	feedbackCmd.Flags().BoolVar(&fbOutputJSON, "json", false, "Print the learning report as JSON")
	_ = feedbackCmd.MarkFlagRequired("correct")
}

// analyzeCmd submits a feature for compliance analysis
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a feature for geo-compliance obligations",
	Long: `Run a feature through the screening, research, and validation pipeline.

The daemon returns the full analysis trace. Save it with -o so a reviewer
verdict can be applied later with 'geoctl feedback'.

Examples:
  # Inline description
  geoctl analyze --name "Curfew login blocker" --description "Blocks logins for minors during curfew hours in Utah"

  # Long description from a file, keep the trace for review
  geoctl analyze --name "Story resharing" --description-file feature.md -o run.json

  # Pipe the description in
  cat feature.md | geoctl analyze --name "Story resharing" --description-file -`,
	RunE: runAnalyze,
}

// feedbackCmd applies a reviewer verdict to a saved analysis
var feedbackCmd = &cobra.Command{
	Use:   "feedback [analysis.json]",
	Short: "Apply a reviewer verdict to a finished analysis",
	Long: `Submit a reviewer verdict for an analysis produced by 'geoctl analyze -o'.

The daemon distills the verdict into memory updates (rules, few-shot
examples, glossary terms) that sharpen future runs, and appends the
exchange to the audit trail.

Examples:
  # Confirm a decision
  geoctl feedback run.json --correct yes

  # Reject a decision with an explanation
  geoctl feedback run.json --correct no --notes "Utah act only applies to under-18 accounts"

  # Read the analysis from stdin
  geoctl analyze --name X --description Y | geoctl feedback - --correct yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFeedback,
}

// runAnalyze handles the analyze command
func runAnalyze(cmd *cobra.Command, args []string) error {
	description, err := resolveDescription()
	if err != nil {
		return err
	}

	req := api.AnalyzeRequest{
		FeatureName:        azName,
		FeatureDescription: description,
	}

	if azContextFile != "" {
		docs, err := os.ReadFile(azContextFile)
		if err != nil {
			return fmt.Errorf("failed to read context file %s: %w", azContextFile, err)
		}
		req.ContextDocuments = string(docs)
	}

	var state pipeline.State
	if err := postJSON("/api/v1/analyze", analyzeTimeout, req, &state); err != nil {
		return err
	}

	if azOutputPath != "" {
		raw, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
		if err := os.WriteFile(azOutputPath, raw, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", azOutputPath, err)
		}
		fmt.Fprintf(os.Stderr, "[geoctl] Analysis saved to %s\n", azOutputPath)
	}

	if azOutputJSON {
		return printJSON(state)
	}

	printAnalysis(&state)
	return nil
}

// resolveDescription picks the feature description from --description
// or --description-file, where "-" means stdin.
func resolveDescription() (string, error) {
	if azDescription != "" && azDescriptionFile != "" {
		return "", fmt.Errorf("--description and --description-file are mutually exclusive")
	}
	if azDescription != "" {
		return azDescription, nil
	}

	switch azDescriptionFile {
	case "":
		return "", fmt.Errorf("provide --description or --description-file")
	case "-":
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(content), nil
	default:
		content, err := os.ReadFile(azDescriptionFile)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", azDescriptionFile, err)
		}
		return string(content), nil
	}
}

// printAnalysis renders the human-readable run summary.
func printAnalysis(state *pipeline.State) {
	fmt.Printf("Session:    %s\n", state.SessionID)
	fmt.Printf("Feature:    %s\n", state.FeatureName)

	if state.Screening != nil {
		fmt.Printf("Risk:       %s", state.Screening.RiskLevel)
		if len(state.Screening.GeographicScope) > 0 {
			fmt.Printf("  (scope: %s)", strings.Join(state.Screening.GeographicScope, ", "))
		}
		fmt.Println()
	}

	if state.Validation == nil {
		fmt.Println("Decision:   (run did not reach validation)")
		if state.Error != "" {
			fmt.Printf("Error:      %s\n", state.Error)
		}
		return
	}

	fmt.Printf("Decision:   %s\n", state.Validation.Decision)
	fmt.Printf("Confidence: %.2f\n", state.Validation.Confidence)

	if state.Validation.Reasoning != "" {
		fmt.Println("\nReasoning:")
		for _, line := range wrapText(state.Validation.Reasoning, 76) {
			fmt.Printf("  %s\n", line)
		}
	}

	if len(state.Validation.RelatedRegulations) > 0 {
		fmt.Println("\nRegulations:")
		for _, reg := range state.Validation.RelatedRegulations {
			entry := reg.Name
			if reg.Jurisdiction != "" {
				entry += fmt.Sprintf(" [%s]", reg.Jurisdiction)
			}
			if reg.URL != "" {
				entry += " " + reg.URL
			}
			fmt.Printf("  - %s\n", entry)
		}
	}
}

// runFeedback handles the feedback command
func runFeedback(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		raw, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var state pipeline.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	if state.SessionID == "" || state.Validation == nil {
		return fmt.Errorf("input is not a completed analysis (run 'geoctl analyze -o' first)")
	}

	req := api.FeedbackRequest{
		SessionID:          state.SessionID,
		FeatureName:        state.FeatureName,
		FeatureDescription: state.FeatureDescription,
		Screening:          state.Screening,
		Research:           state.Research,
		Validation:         state.Validation,
		IsCorrect:          fbCorrect,
		Notes:              fbNotes,
	}

	var result api.FeedbackResponse
	if err := postJSON("/api/v1/feedback", analyzeTimeout, req, &result); err != nil {
		return err
	}

	if fbOutputJSON {
		return printJSON(result)
	}

	fmt.Printf("Session:  %s\n", result.SessionID)
	if result.Learning != nil {
		fmt.Printf("Learned:  %s\n", result.Learning.LearningSummary)
		if len(result.Learning.LearningCounts) > 0 {
			fmt.Printf("Applied:  %s\n", formatCounts(result.Learning.LearningCounts))
		}
	}
	return nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatCounts renders a count map as "kind=n" pairs in key order.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

// wrapText breaks text into lines no wider than width, on word
// boundaries.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		if len(line)+1+len(word) > width {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	return append(lines, line)
}
