package memory

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
)

// seedCatalog is the on-disk TOML shape of a glossary seed file:
//
//	[[terms]]
//	term = "ASL"
//	expansion = "Age-segmented logic; splits feature behavior by age bracket"
//	hints = ["age gates", "minor protections"]
type seedCatalog struct {
	Terms []seedTerm `toml:"terms"`
}

type seedTerm struct {
	Term      string   `toml:"term"`
	Expansion string   `toml:"expansion"`
	Hints     []string `toml:"hints"`
}

// LoadSeedCatalog parses a TOML glossary seed file into glossary
// entries. Every entry must validate; a single bad term fails the whole
// catalog so operators fix the file instead of silently losing terms.
func LoadSeedCatalog(path string) ([]GlossaryEntry, error) {
	var catalog seedCatalog
	if _, err := toml.DecodeFile(path, &catalog); err != nil {
		return nil, fmt.Errorf("parsing seed catalog %s: %w", path, err)
	}
	if len(catalog.Terms) == 0 {
		return nil, fmt.Errorf("seed catalog %s defines no terms", path)
	}

	entries := make([]GlossaryEntry, 0, len(catalog.Terms))
	for i, term := range catalog.Terms {
		entry := GlossaryEntry{
			Term:      term.Term,
			Expansion: term.Expansion,
			Hints:     term.Hints,
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("seed catalog %s, term %d: %w", path, i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SeedGlossary bulk-upserts glossary entries and returns how many were
// new. Re-seeding the same catalog is a no-op thanks to content-hash
// dedup, so bootstrap scripts can run it unconditionally.
func (s *Store) SeedGlossary(ctx context.Context, entries []GlossaryEntry) (int, error) {
	applied := 0
	for _, entry := range entries {
		ok, err := s.Upsert(ctx, entry)
		if err != nil {
			return applied, fmt.Errorf("seeding term %q: %w", entry.Term, err)
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}
