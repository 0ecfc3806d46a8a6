package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	api "github.com/lawbranch/geogate/internal/http"
)

var (
	// memory command flags
	memNamespace  string
	memLimit      int
	memOutputJSON bool
)

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryOverlayCmd)

	memorySearchCmd.Flags().StringVar(&memNamespace, "namespace", "", "Memory namespace, e.g. glossary, rules/validation, fewshots/screening (required)")
	memorySearchCmd.Flags().IntVar(&memLimit, "limit", 20, "Maximum records to return")
	memorySearchCmd.Flags().BoolVar(&memOutputJSON, "json", false, "Print raw records as JSON")
	_ = memorySearchCmd.MarkFlagRequired("namespace")
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the learned memory store",
	Long: `Inspect what the learning stage has accumulated: glossary terms,
decision rules, few-shot examples, and knowledge snippets.

Examples:
  # List learned validation rules
  geoctl memory search --namespace rules/validation

  # Show the overlay injected into the screening prompt
  geoctl memory overlay screening`,
}

// memorySearchCmd lists stored records in one namespace
var memorySearchCmd = &cobra.Command{
	Use:   "search",
	Short: "List records in a memory namespace",
	RunE:  runMemorySearch,
}

// memoryOverlayCmd renders a stage's prompt overlay
var memoryOverlayCmd = &cobra.Command{
	Use:   "overlay <stage>",
	Short: "Render the learned prompt overlay for a pipeline stage",
	Long: `Render the memory overlay exactly as it is injected into a stage
prompt. Stage is one of: screening, research, validation.`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryOverlay,
}

// runMemorySearch handles the memory search command
func runMemorySearch(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/api/v1/memory/search?namespace=%s&limit=%d",
		url.QueryEscape(memNamespace), memLimit)

	var result api.MemorySearchResponse
	if err := getJSON(path, 30*time.Second, &result); err != nil {
		return err
	}

	if memOutputJSON {
		return printJSON(result)
	}

	if result.Count == 0 {
		fmt.Printf("No records in namespace %q\n", result.Namespace)
		return nil
	}

	fmt.Printf("Namespace: %s (%d records)\n\n", result.Namespace, result.Count)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tKIND\tCREATED\tRECORD")
	for _, rec := range result.Records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			rec.Seq,
			rec.Kind,
			rec.CreatedAt.Format(time.RFC3339),
			truncate(string(rec.Record), 80))
	}
	return w.Flush()
}

// runMemoryOverlay handles the memory overlay command
func runMemoryOverlay(cmd *cobra.Command, args []string) error {
	var result api.OverlayResponse
	if err := getJSON("/api/v1/memory/overlay/"+url.PathEscape(args[0]), 30*time.Second, &result); err != nil {
		return err
	}

	if result.Overlay == "" {
		fmt.Fprintf(os.Stderr, "[geoctl] No overlay for stage %q yet; memory is empty\n", result.Stage)
		return nil
	}

	fmt.Print(result.Overlay)
	if result.Overlay[len(result.Overlay)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

// truncate shortens s to maxLen runes, ending with "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
