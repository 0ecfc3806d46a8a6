package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	api "github.com/lawbranch/geogate/internal/http"
	"github.com/lawbranch/geogate/internal/ingest"
	"github.com/lawbranch/geogate/internal/memory"
)

var (
	// ingest command flags
	inSeedGlossary string
	inOutputJSON   bool
)

// ingestTimeout bounds a corpus reindex, which embeds every chunk.
const ingestTimeout = 10 * time.Minute

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&inSeedGlossary, "seed-glossary", "", "Seed the glossary from a TOML catalog instead of reindexing")
	ingestCmd.Flags().BoolVar(&inOutputJSON, "json", false, "Print the result as JSON")
}

// ingestCmd reindexes the corpus or seeds the glossary
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Reindex the regulation corpus or seed the glossary",
	Long: `Ask the daemon to reindex its regulation corpus directory, or bulk-load
a glossary seed catalog into the memory store.

The seed catalog is a TOML file of terminology the screening prompt
should expand:

  [[terms]]
  term = "ASL"
  expansion = "age-sensitive logic"
  hints = ["minors", "age gate"]

Examples:
  # Reindex the corpus after updating regulation files
  geoctl ingest

  # Bootstrap the glossary
  geoctl ingest --seed-glossary glossary.toml`,
	RunE: runIngest,
}

// runIngest handles the ingest command
func runIngest(cmd *cobra.Command, args []string) error {
	if inSeedGlossary != "" {
		return seedGlossary(inSeedGlossary)
	}

	var result ingest.Result
	if err := postJSON("/api/v1/ingest", ingestTimeout, struct{}{}, &result); err != nil {
		return err
	}

	if inOutputJSON {
		return printJSON(result)
	}

	fmt.Printf("Files:   %d\n", result.Files)
	fmt.Printf("Chunks:  %d\n", result.Chunks)
	if result.CorpusCommit != "" {
		fmt.Printf("Commit:  %s\n", result.CorpusCommit)
	}
	for _, skipped := range result.Skipped {
		fmt.Fprintf(os.Stderr, "[geoctl] Skipped %s (no indexable content)\n", skipped)
	}
	return nil
}

// seedGlossary loads a local TOML catalog and submits it to the daemon.
// The catalog is validated locally so a typo fails before any request.
func seedGlossary(path string) error {
	entries, err := memory.LoadSeedCatalog(path)
	if err != nil {
		return err
	}

	req := api.SeedGlossaryRequest{Terms: make([]api.SeedTerm, 0, len(entries))}
	for _, entry := range entries {
		req.Terms = append(req.Terms, api.SeedTerm{
			Term:      entry.Term,
			Expansion: entry.Expansion,
			Hints:     entry.Hints,
		})
	}

	var result api.SeedGlossaryResponse
	if err := postJSON("/api/v1/memory/seed", 30*time.Second, req, &result); err != nil {
		return err
	}

	if inOutputJSON {
		return printJSON(result)
	}

	fmt.Printf("Submitted: %d terms\n", result.Submitted)
	fmt.Printf("Applied:   %d new\n", result.Applied)
	if result.Applied < result.Submitted {
		fmt.Fprintf(os.Stderr, "[geoctl] %d terms were already present\n", result.Submitted-result.Applied)
	}
	return nil
}
