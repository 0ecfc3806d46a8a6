// Package memory implements the learned-memory store behind the
// Learning stage: glossary terms, per-stage rules, few-shot examples,
// and validated knowledge snippets.
//
// Records are append-only and deduplicated by a short content hash, so
// replaying the same learning plan never grows the store. Stages read
// the store when rendering prompt overlays; only the Learning stage
// writes to it.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a record type.
type Kind string

const (
	KindGlossary Kind = "glossary"
	KindRule     Kind = "rule"
	KindFewShot  Kind = "fewshot"
	KindSnippet  Kind = "snippet"
)

// Namespace paths. Rules share one namespace and carry the stage they
// apply to; few-shots get a namespace per stage.
const (
	NamespaceGlossary = "memory/glossary"
	NamespaceRules    = "memory/rules"
	NamespaceSnippets = "kb/snippets"
)

// FewShotNamespace returns the namespace for a stage's few-shot examples.
func FewShotNamespace(agent string) string {
	return "fewshots/" + agent
}

var (
	ruleAgents    = map[string]bool{"screening": true, "validation": true}
	fewShotAgents = map[string]bool{"screening": true, "research": true, "validation": true}
)

// Record is a storable memory entry. Implementations define their
// namespace and the normalized form used for dedup hashing.
type Record interface {
	Kind() Kind
	Namespace() string
	Validate() error

	// normalize returns the identity payload hashed for dedup.
	normalize() any
}

// GlossaryEntry expands an internal codename or acronym. Updating a
// term's expansion appends a new record; readers take the most recent
// entry per term.
type GlossaryEntry struct {
	Term      string   `json:"term"`
	Expansion string   `json:"expansion"`
	Hints     []string `json:"hints,omitempty"`
}

func (GlossaryEntry) Kind() Kind        { return KindGlossary }
func (GlossaryEntry) Namespace() string { return NamespaceGlossary }

func (g GlossaryEntry) Validate() error {
	if strings.TrimSpace(g.Term) == "" {
		return fmt.Errorf("glossary entry requires a term")
	}
	if strings.TrimSpace(g.Expansion) == "" {
		return fmt.Errorf("glossary entry %q requires an expansion", g.Term)
	}
	return nil
}

func (g GlossaryEntry) normalize() any {
	return map[string]any{"term": g.Term, "expansion": g.Expansion, "hints": g.Hints}
}

// RuleEntry is a one-line directive injected into a stage's prompt.
type RuleEntry struct {
	Agent    string `json:"agent"`
	RuleText string `json:"rule_text"`
}

func (RuleEntry) Kind() Kind        { return KindRule }
func (RuleEntry) Namespace() string { return NamespaceRules }

func (r RuleEntry) Validate() error {
	if !ruleAgents[r.Agent] {
		return fmt.Errorf("rule agent must be screening or validation, got %q", r.Agent)
	}
	if strings.TrimSpace(r.RuleText) == "" {
		return fmt.Errorf("rule for %s requires text", r.Agent)
	}
	return nil
}

func (r RuleEntry) normalize() any {
	return map[string]any{"agent": r.Agent, "rule_text": r.RuleText}
}

// FewShotEntry is a worked example shown to a stage. Payload holds the
// full example object as produced by the learning plan.
type FewShotEntry struct {
	Agent   string          `json:"agent"`
	Payload json.RawMessage `json:"payload"`
}

func (FewShotEntry) Kind() Kind          { return KindFewShot }
func (f FewShotEntry) Namespace() string { return FewShotNamespace(f.Agent) }

func (f FewShotEntry) Validate() error {
	if !fewShotAgents[f.Agent] {
		return fmt.Errorf("few-shot agent must be screening, research, or validation, got %q", f.Agent)
	}
	if len(f.Payload) == 0 || !json.Valid(f.Payload) {
		return fmt.Errorf("few-shot for %s requires a JSON payload", f.Agent)
	}
	return nil
}

func (f FewShotEntry) normalize() any {
	var payload any
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		payload = string(f.Payload)
	}
	return map[string]any{"agent": f.Agent, "payload": payload}
}

// KBSnippet is a validated regulation excerpt contributed by feedback.
// Identity is (url, section): re-submitting the same location is a
// no-op even if the excerpt text was trimmed differently.
type KBSnippet struct {
	Name         string `json:"name,omitempty"`
	URL          string `json:"url"`
	Section      string `json:"section,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

func (KBSnippet) Kind() Kind        { return KindSnippet }
func (KBSnippet) Namespace() string { return NamespaceSnippets }

func (k KBSnippet) Validate() error {
	if strings.TrimSpace(k.URL) == "" {
		return fmt.Errorf("kb snippet requires a url")
	}
	return nil
}

func (k KBSnippet) normalize() any {
	return map[string]any{"u": k.URL, "s": k.Section}
}

// ContentHash returns the short dedup hash of a record: sha256 over the
// normalized payload serialized with sorted keys, truncated to 12 hex
// characters.
func ContentHash(rec Record) (string, error) {
	data, err := json.Marshal(rec.normalize())
	if err != nil {
		return "", fmt.Errorf("normalizing record: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12], nil
}

// StoredRecord is the persisted envelope around a record.
type StoredRecord struct {
	Hash      string          `json:"hash"`
	Kind      Kind            `json:"kind"`
	Namespace string          `json:"namespace"`
	Record    json.RawMessage `json:"record"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}
