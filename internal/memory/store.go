package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
)

const (
	defaultSearchLimit = 50
	maxOverlayRules    = 200
	maxGlossaryTerms   = 500
	overlayFewShots    = 2

	// upsertRetries bounds transaction restarts under write contention.
	upsertRetries = 5
)

var recordPrefix = []byte("m/")

// Store persists memory records in Badger. Upserts are atomic per
// record key, so concurrent Learning runs interleave safely.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
}

// Open opens (or creates) the store at cfg.Path. With cfg.InMemory set
// the store lives entirely in memory, which tests rely on.
func Open(cfg config.MemoryConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	seq, err := db.GetSequence([]byte("!seq/records"), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening record sequence: %w", err)
	}

	s := &Store{db: db, seq: seq, logger: logger}
	if counts, err := s.Counts(context.Background()); err == nil {
		seedRecordGauges(counts)
	}
	return s, nil
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("releasing record sequence", zap.Error(err))
	}
	return s.db.Close()
}

func recordKey(namespace, hash string) []byte {
	return []byte("m/" + namespace + "/" + hash)
}

// Upsert stores the record unless an identical content hash already
// exists in its namespace. Returns true when a new record was written.
func (s *Store) Upsert(ctx context.Context, rec Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}

	hash, err := ContentHash(rec)
	if err != nil {
		return false, err
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling record: %w", err)
	}
	key := recordKey(rec.Namespace(), hash)

	var lastErr error
	for attempt := 0; attempt < upsertRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		applied := false
		err := s.db.Update(func(txn *badger.Txn) error {
			_, gerr := txn.Get(key)
			if gerr == nil {
				return nil // identical record already stored
			}
			if !errors.Is(gerr, badger.ErrKeyNotFound) {
				return gerr
			}

			seq, serr := s.seq.Next()
			if serr != nil {
				return fmt.Errorf("next record sequence: %w", serr)
			}
			stored := StoredRecord{
				Hash:      hash,
				Kind:      rec.Kind(),
				Namespace: rec.Namespace(),
				Record:    recJSON,
				Seq:       seq,
				CreatedAt: time.Now().UTC(),
			}
			val, merr := json.Marshal(stored)
			if merr != nil {
				return fmt.Errorf("marshaling stored record: %w", merr)
			}
			applied = true
			return txn.Set(key, val)
		})
		if err == nil {
			if applied {
				recordStored(rec.Namespace())
			}
			return applied, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return false, fmt.Errorf("upserting record: %w", err)
		}
		// A concurrent writer touched this key; retry and let the
		// existence check decide.
		lastErr = err
	}

	return false, fmt.Errorf("upserting record after %d attempts: %w", upsertRetries, lastErr)
}

// Search returns up to limit records from a namespace, most recently
// written first. A non-positive limit applies the default bound.
func (s *Store) Search(ctx context.Context, namespace string, limit int) ([]StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	prefix := []byte("m/" + namespace + "/")
	var out []StoredRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec StoredRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decoding record %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching namespace %s: %w", namespace, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RenderOverlay builds the prompt overlay for a stage: every rule
// registered for it plus its two most recent few-shot examples.
// Returns "" when the stage has no memory yet.
func (s *Store) RenderOverlay(ctx context.Context, agent string) (string, error) {
	var lines []string

	rules, err := s.Search(ctx, NamespaceRules, maxOverlayRules)
	if err != nil {
		return "", err
	}
	// Oldest first, matching insertion order.
	for i := len(rules) - 1; i >= 0; i-- {
		var rule RuleEntry
		if err := json.Unmarshal(rules[i].Record, &rule); err != nil {
			s.logger.Warn("skipping undecodable rule", zap.String("hash", rules[i].Hash), zap.Error(err))
			continue
		}
		if rule.Agent == agent {
			lines = append(lines, "- RULE: "+rule.RuleText)
		}
	}

	few, err := s.Search(ctx, FewShotNamespace(agent), overlayFewShots)
	if err != nil {
		return "", err
	}
	if len(few) > 0 {
		lines = append(lines, "\nFEW-SHOT EXAMPLES:")
		for i := len(few) - 1; i >= 0; i-- {
			var shot FewShotEntry
			if err := json.Unmarshal(few[i].Record, &shot); err != nil {
				s.logger.Warn("skipping undecodable few-shot", zap.String("hash", few[i].Hash), zap.Error(err))
				continue
			}
			lines = append(lines, compactJSON(shot.Payload))
		}
	}

	if len(lines) == 0 {
		return "", nil
	}
	return "MEMORY OVERLAY\n" + strings.Join(lines, "\n"), nil
}

// Glossary returns the learned glossary as a term-indexed map. When a
// term was expanded more than once, the most recent entry wins.
func (s *Store) Glossary(ctx context.Context) (map[string]GlossaryEntry, error) {
	records, err := s.Search(ctx, NamespaceGlossary, maxGlossaryTerms)
	if err != nil {
		return nil, err
	}

	out := make(map[string]GlossaryEntry, len(records))
	// Oldest first so newer expansions overwrite older ones.
	for i := len(records) - 1; i >= 0; i-- {
		var entry GlossaryEntry
		if err := json.Unmarshal(records[i].Record, &entry); err != nil {
			s.logger.Warn("skipping undecodable glossary entry", zap.String("hash", records[i].Hash), zap.Error(err))
			continue
		}
		out[entry.Term] = entry
	}
	return out, nil
}

// Counts reports how many records each namespace holds.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ns := strings.TrimPrefix(key, "m/")
			if idx := strings.LastIndex(ns, "/"); idx >= 0 {
				ns = ns[:idx]
			}
			counts[ns]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	return counts, nil
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
