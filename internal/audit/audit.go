// Package audit persists the compliance trail: one JSON line per
// learning-stage invocation plus periodic sweep summaries. The file is
// append-only and every write is fsynced before Append returns, so a
// crash never loses an acknowledged record.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Log is an append-only JSONL file. Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *zap.Logger
}

// Open opens (or creates) the audit log at path, creating parent
// directories as needed.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("audit path contains directory traversal: %s", path)
	}
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}

	file, err := os.OpenFile(cleaned, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	logger.Info("audit log opened", zap.String("path", cleaned))
	return &Log{file: file, path: cleaned, logger: logger}, nil
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	return l.path
}

// Append serializes record as one JSON line and fsyncs it. Records from
// concurrent writers never interleave within a line.
func (l *Log) Append(ctx context.Context, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing audit log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
