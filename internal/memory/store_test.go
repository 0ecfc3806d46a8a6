package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawbranch/geogate/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(config.MemoryConfig{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := GlossaryEntry{Term: "GDPR", Expansion: "General Data Protection Regulation"}

	applied, err := store.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Upsert(ctx, entry)
	require.NoError(t, err)
	assert.False(t, applied)

	records, err := store.Search(ctx, NamespaceGlossary, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUpsertDistinctRecordsCoexist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		applied, err := store.Upsert(ctx, RuleEntry{
			Agent:    "validation",
			RuleText: fmt.Sprintf("rule number %d", i),
		})
		require.NoError(t, err)
		assert.True(t, applied)
	}

	records, err := store.Search(ctx, NamespaceRules, 10)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestUpsertRejectsInvalidRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, GlossaryEntry{Term: "", Expansion: "x"})
	assert.Error(t, err)

	_, err = store.Upsert(ctx, RuleEntry{Agent: "research", RuleText: "rules cannot target research"})
	assert.Error(t, err)

	_, err = store.Upsert(ctx, FewShotEntry{Agent: "screening", Payload: json.RawMessage(`{broken`)})
	assert.Error(t, err)

	_, err = store.Upsert(ctx, KBSnippet{URL: ""})
	assert.Error(t, err)
}

func TestSnippetIdentityIsURLAndSection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	applied, err := store.Upsert(ctx, KBSnippet{
		URL:     "https://eur-lex.europa.eu/eli/reg/2022/2065",
		Section: "Article 28",
		Excerpt: "Providers of online platforms accessible to minors...",
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// Same location with a re-trimmed excerpt is still the same snippet.
	applied, err = store.Upsert(ctx, KBSnippet{
		URL:     "https://eur-lex.europa.eu/eli/reg/2022/2065",
		Section: "Article 28",
		Excerpt: "Providers of online platforms accessible to minors shall...",
	})
	require.NoError(t, err)
	assert.False(t, applied)

	// A different section is a new snippet.
	applied, err = store.Upsert(ctx, KBSnippet{
		URL:     "https://eur-lex.europa.eu/eli/reg/2022/2065",
		Section: "Article 34",
	})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestSearchOrdersMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]any{"agent": "screening", "case": i})
		_, err := store.Upsert(ctx, FewShotEntry{Agent: "screening", Payload: payload})
		require.NoError(t, err)
	}

	records, err := store.Search(ctx, FewShotNamespace("screening"), 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.True(t, records[0].Seq > records[1].Seq)
	assert.True(t, records[1].Seq > records[2].Seq)
	assert.Contains(t, string(records[0].Record), `"case":4`)
}

func TestRenderOverlayEmpty(t *testing.T) {
	store := newTestStore(t)

	overlay, err := store.RenderOverlay(context.Background(), "screening")
	require.NoError(t, err)
	assert.Equal(t, "", overlay)
}

func TestRenderOverlayRulesAndFewShots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, RuleEntry{Agent: "validation", RuleText: "Treat Utah curfew features as HIGH risk"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, RuleEntry{Agent: "screening", RuleText: "screening-only rule"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(map[string]any{"agent": "validation", "example": i})
		_, err = store.Upsert(ctx, FewShotEntry{Agent: "validation", Payload: payload})
		require.NoError(t, err)
	}

	overlay, err := store.RenderOverlay(ctx, "validation")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(overlay, "MEMORY OVERLAY\n"))
	assert.Contains(t, overlay, "- RULE: Treat Utah curfew features as HIGH risk")
	assert.NotContains(t, overlay, "screening-only rule")
	assert.Contains(t, overlay, "FEW-SHOT EXAMPLES:")

	// Only the two most recent examples appear.
	assert.Contains(t, overlay, `"example":1`)
	assert.Contains(t, overlay, `"example":2`)
	assert.NotContains(t, overlay, `"example":0`)
}

func TestRenderOverlayRulesOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, RuleEntry{Agent: "screening", RuleText: "Ask about data residency"})
	require.NoError(t, err)

	overlay, err := store.RenderOverlay(ctx, "screening")
	require.NoError(t, err)
	assert.Equal(t, "MEMORY OVERLAY\n- RULE: Ask about data residency", overlay)
}

func TestGlossaryLatestExpansionWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, GlossaryEntry{Term: "ASL", Expansion: "age-sensitive logic"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, GlossaryEntry{Term: "ASL", Expansion: "age-segmented logic", Hints: []string{"minors"}})
	require.NoError(t, err)

	glossary, err := store.Glossary(ctx)
	require.NoError(t, err)
	require.Contains(t, glossary, "ASL")
	assert.Equal(t, "age-segmented logic", glossary["ASL"].Expansion)
	assert.Equal(t, []string{"minors"}, glossary["ASL"].Hints)
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, GlossaryEntry{Term: "DSA", Expansion: "Digital Services Act"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, RuleEntry{Agent: "screening", RuleText: "a rule"})
	require.NoError(t, err)
	payload, _ := json.Marshal(map[string]string{"agent": "research"})
	_, err = store.Upsert(ctx, FewShotEntry{Agent: "research", Payload: payload})
	require.NoError(t, err)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[NamespaceGlossary])
	assert.Equal(t, 1, counts[NamespaceRules])
	assert.Equal(t, 1, counts[FewShotNamespace("research")])
}

func TestConcurrentUpsertsSameRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := RuleEntry{Agent: "validation", RuleText: "require citations for YES decisions"}

	const writers = 8
	results := make([]bool, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Upsert(ctx, entry)
		}(i)
	}
	wg.Wait()

	appliedCount := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			appliedCount++
		}
	}
	assert.Equal(t, 1, appliedCount, "exactly one writer should apply the record")

	records, err := store.Search(ctx, NamespaceRules, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestContentHashStableAcrossFieldOrder(t *testing.T) {
	a := FewShotEntry{Agent: "screening", Payload: json.RawMessage(`{"feature":"curfew","risk":"HIGH"}`)}
	b := FewShotEntry{Agent: "screening", Payload: json.RawMessage(`{"risk":"HIGH","feature":"curfew"}`)}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 12)
}
