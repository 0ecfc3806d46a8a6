package ingest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/lawbranch/geogate/internal/config"
)

// corpusExtensions are the file types the syncer mirrors. Sidecars come
// along so provenance survives the round trip.
var corpusExtensions = map[string]bool{
	".txt":   true,
	".md":    true,
	".jsonl": true,
	".toml":  true,
}

// GitHubSyncer mirrors a GitHub-hosted corpus directory into the local
// corpus dir before ingestion. Public corpora work unauthenticated; a
// token raises the rate limit and unlocks private repositories.
type GitHubSyncer struct {
	client *github.Client
	config config.GitHubConfig
	logger *zap.Logger
}

// NewGitHubSyncer creates a syncer for the configured corpus repository.
func NewGitHubSyncer(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*GitHubSyncer, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github corpus sync requires owner and repo")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var httpClient *http.Client
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	return &GitHubSyncer{
		client: github.NewClient(httpClient),
		config: cfg,
		logger: logger,
	}, nil
}

// Sync downloads every corpus file under the configured repository path
// into destDir and returns how many files were written.
func (s *GitHubSyncer) Sync(ctx context.Context, destDir string) (int, error) {
	opts := &github.RepositoryContentGetOptions{Ref: s.config.Ref}

	_, dirContents, _, err := s.client.Repositories.GetContents(ctx, s.config.Owner, s.config.Repo, s.config.Path, opts)
	if err != nil {
		return 0, fmt.Errorf("listing corpus directory %q: %w", s.config.Path, err)
	}
	if dirContents == nil {
		return 0, fmt.Errorf("corpus path %q is not a directory", s.config.Path)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("creating corpus dir %s: %w", destDir, err)
	}

	synced := 0
	for _, entry := range dirContents {
		if entry.GetType() != "file" {
			continue
		}
		name := entry.GetName()
		if !corpusExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}

		fileContent, _, _, err := s.client.Repositories.GetContents(ctx, s.config.Owner, s.config.Repo, entry.GetPath(), opts)
		if err != nil {
			return synced, fmt.Errorf("fetching %s: %w", entry.GetPath(), err)
		}
		content, err := fileContent.GetContent()
		if err != nil {
			return synced, fmt.Errorf("decoding %s: %w", entry.GetPath(), err)
		}

		if err := os.WriteFile(filepath.Join(destDir, name), []byte(content), 0644); err != nil {
			return synced, fmt.Errorf("writing %s: %w", name, err)
		}
		synced++
	}

	s.logger.Info("synced regulation corpus from GitHub",
		zap.String("owner", s.config.Owner),
		zap.String("repo", s.config.Repo),
		zap.String("path", s.config.Path),
		zap.String("ref", s.config.Ref),
		zap.Int("files", synced),
	)

	return synced, nil
}
