package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawbranch/geogate/internal/pipeline"
)

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "decisions.jsonl")

	log, err := Open(path, nil)
	require.NoError(t, err)
	defer log.Close()

	assert.Equal(t, path, log.Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_RejectsTraversal(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "..", "..", "decisions.jsonl"), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory traversal")
}

func TestAppend_WritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	log, err := Open(path, nil)
	require.NoError(t, err)
	defer log.Close()

	record := FeedbackRecord{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SessionID: "compliance_ab12cd34",
		Feature:   Feature{Name: "curfew mode", Description: "EU minors curfew"},
		Screening: &ScreeningDigest{RiskLevel: pipeline.RiskHigh, Confidence: 0.9},
		Decision:  DecisionDigest{Decision: pipeline.DecisionYes, Confidence: 0.82, Citations: 1},
		UserFeedback: pipeline.Feedback{
			IsCorrect: "no",
			Notes:     "the decision missed the Utah act",
		},
		PlanSummary: "add a glossary term and a validation rule",
		PlanCounts:  map[string]int{"glossary": 1, "rules": 1},
	}

	require.NoError(t, log.Append(context.Background(), record))
	require.NoError(t, log.Append(context.Background(), SweepRecord{
		Timestamp: time.Now().UTC(),
		SweepID:   "sweep-1",
		Features:  3,
		Decisions: map[string]int{"YES": 2, "REVIEW": 1},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := splitLines(t, data)
	require.Len(t, lines, 2)

	var got FeedbackRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, record.SessionID, got.SessionID)
	assert.Equal(t, "no", got.UserFeedback.IsCorrect)
	assert.Equal(t, 1, got.PlanCounts["glossary"])

	var sweep SweepRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &sweep))
	assert.Equal(t, 3, sweep.Features)
}

func TestAppend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")

	log, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), SweepRecord{SweepID: "first"}))
	require.NoError(t, log.Close())

	log, err = Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), SweepRecord{SweepID: "second"}))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, splitLines(t, data), 2, "reopening appends, never truncates")
}

func TestAppend_ConcurrentWritersDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	log, err := Open(path, nil)
	require.NoError(t, err)
	defer log.Close()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = log.Append(context.Background(), SweepRecord{SweepID: "sweep", Features: id})
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := splitLines(t, data)
	require.Len(t, lines, writers)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), "line is intact JSON: %s", line)
	}
}

func TestAppend_CanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	log, err := Open(path, nil)
	require.NoError(t, err)
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, log.Append(ctx, SweepRecord{SweepID: "never"}))
}

func splitLines(t *testing.T, data []byte) []string {
	t.Helper()
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}
