// Package ingest loads the regulation corpus into the retrieval index.
//
// A corpus checkout holds plain-text and markdown regulation files plus
// optional JSONL knowledge-base records. Each file is chunked, stamped with
// provenance metadata, and indexed so the research stage can cite it.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-git/go-git/v5"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/retrieval"
)

// frontMatterDelimiter marks a TOML front-matter block at the top of a
// corpus file.
const frontMatterDelimiter = "+++"

// billNumberPattern matches bill identifiers like sb976 or hb18 so filename
// derived titles keep them upper-cased.
var billNumberPattern = regexp.MustCompile(`^(?:sb|hb|ab)\d+$`)

// regAcronyms are tokens that stay upper-cased in derived regulation names.
var regAcronyms = map[string]bool{
	"eu":    true,
	"us":    true,
	"uk":    true,
	"dsa":   true,
	"dma":   true,
	"gdpr":  true,
	"coppa": true,
	"csam":  true,
	"ncmec": true,
}

// fileMeta is the provenance block read from a TOML sidecar or front matter.
type fileMeta struct {
	RegulationName string `toml:"regulation_name"`
	URL            string `toml:"url"`
	Jurisdiction   string `toml:"jurisdiction"`
}

// kbRecord is one JSONL knowledge-base line. Records arrive pre-excerpted,
// so they are indexed without further chunking.
type kbRecord struct {
	Jurisdiction string `json:"jurisdiction"`
	RegCode      string `json:"reg_code"`
	Name         string `json:"name"`
	Section      string `json:"section"`
	URL          string `json:"url"`
	Excerpt      string `json:"excerpt"`
}

// Result summarizes one ingestion run.
type Result struct {
	// Files is the number of corpus files indexed.
	Files int `json:"files"`

	// Chunks is the total number of chunks written to the index.
	Chunks int `json:"chunks"`

	// Skipped lists files that produced no indexable content.
	Skipped []string `json:"skipped,omitempty"`

	// CorpusCommit is the HEAD SHA of the corpus checkout, when it is a
	// git repository.
	CorpusCommit string `json:"corpus_commit,omitempty"`
}

// Ingester walks a corpus directory and indexes its regulation files.
type Ingester struct {
	config   config.IngestConfig
	service  retrieval.Service
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

// New creates an Ingester. Chunk size and overlap come from config.
func New(cfg config.IngestConfig, service retrieval.Service, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		config:  cfg,
		service: service,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		),
		logger: logger,
	}
}

// Run walks the corpus directory and indexes every .txt, .md, and .jsonl
// file. Files that fail to parse are skipped and reported; indexing errors
// abort the run because they indicate the backend or embedder is down.
func (ing *Ingester) Run(ctx context.Context) (*Result, error) {
	commit := corpusCommit(ing.config.CorpusDir)
	result := &Result{CorpusCommit: commit}

	err := filepath.WalkDir(ing.config.CorpusDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var docs []retrieval.Document
		var parseErr error

		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			docs, parseErr = ing.chunkFile(path, commit)
		case ".jsonl":
			docs, parseErr = ing.recordsFromJSONL(path, commit)
		default:
			return nil
		}

		if parseErr != nil {
			ing.logger.Warn("skipping corpus file",
				zap.String("file", filepath.Base(path)),
				zap.Error(parseErr),
			)
			result.Skipped = append(result.Skipped, filepath.Base(path))
			return nil
		}
		if len(docs) == 0 {
			result.Skipped = append(result.Skipped, filepath.Base(path))
			return nil
		}

		if _, err := ing.service.Index(ctx, docs); err != nil {
			return fmt.Errorf("indexing %s: %w", filepath.Base(path), err)
		}

		result.Files++
		result.Chunks += len(docs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ing.logger.Info("corpus ingestion complete",
		zap.Int("files", result.Files),
		zap.Int("chunks", result.Chunks),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("corpus_commit", commit),
	)

	return result, nil
}

// chunkFile splits one regulation file into indexable chunks with
// provenance metadata.
func (ing *Ingester) chunkFile(path, commit string) ([]retrieval.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	meta, body, err := parseFrontMatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing front matter: %w", err)
	}

	// Sidecar wins over front matter, front matter over derived defaults.
	if sidecar, ok, err := readSidecar(path); err != nil {
		return nil, err
	} else if ok {
		meta = mergeMeta(sidecar, meta)
	}

	filename := filepath.Base(path)
	if meta.RegulationName == "" {
		meta.RegulationName = deriveRegulationName(filename)
	}

	chunks, err := ing.splitter.SplitText(body)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	docs := make([]retrieval.Document, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		docs = append(docs, retrieval.Document{
			ID:       fmt.Sprintf("%s_%04d", stem, i),
			Text:     chunk,
			Metadata: chunkMetadata(filename, meta, commit),
		})
	}
	return docs, nil
}

// recordsFromJSONL converts knowledge-base records into documents, one per
// line. Malformed lines and empty excerpts are dropped, matching the
// tolerant loader the knowledge base was built for.
func (ing *Ingester) recordsFromJSONL(path, commit string) ([]retrieval.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	filename := filepath.Base(path)
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	var docs []retrieval.Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec kbRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			ing.logger.Warn("skipping malformed knowledge-base record",
				zap.String("file", filename),
				zap.Int("line", line),
			)
			continue
		}
		if strings.TrimSpace(rec.Excerpt) == "" {
			continue
		}

		meta := fileMeta{
			RegulationName: rec.Name,
			URL:            rec.URL,
			Jurisdiction:   rec.Jurisdiction,
		}
		if meta.RegulationName == "" {
			meta.RegulationName = rec.RegCode
		}

		docs = append(docs, retrieval.Document{
			ID:       fmt.Sprintf("%s_%04d", stem, line-1),
			Text:     rec.Excerpt,
			Metadata: chunkMetadata(filename, meta, commit),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning file: %w", err)
	}

	return docs, nil
}

// chunkMetadata builds the provenance map attached to every chunk.
func chunkMetadata(filename string, meta fileMeta, commit string) map[string]string {
	m := map[string]string{
		retrieval.MetaSourceFilename: filename,
		retrieval.MetaRegulationName: meta.RegulationName,
	}
	if meta.URL != "" {
		m[retrieval.MetaURL] = meta.URL
	}
	if meta.Jurisdiction != "" {
		m[retrieval.MetaJurisdiction] = meta.Jurisdiction
	}
	if commit != "" {
		m[retrieval.MetaCorpusCommit] = commit
	}
	return m
}

// parseFrontMatter extracts an optional TOML front-matter block delimited
// by +++ lines and returns the remaining body.
func parseFrontMatter(content string) (fileMeta, string, error) {
	var meta fileMeta

	trimmed := strings.TrimLeft(content, "\n\r \t")
	if trimmed == frontMatterDelimiter {
		return meta, "", fmt.Errorf("unterminated front matter block")
	}
	if !strings.HasPrefix(trimmed, frontMatterDelimiter+"\n") {
		return meta, content, nil
	}

	rest := trimmed[len(frontMatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelimiter)
	if end < 0 {
		return meta, "", fmt.Errorf("unterminated front matter block")
	}

	block := rest[:end]
	if err := toml.Unmarshal([]byte(block), &meta); err != nil {
		return meta, "", fmt.Errorf("decoding front matter: %w", err)
	}

	body := rest[end+len("\n"+frontMatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, nil
}

// readSidecar loads <file>.toml next to a corpus file when present.
func readSidecar(path string) (fileMeta, bool, error) {
	var meta fileMeta

	sidecar := path + ".toml"
	if _, err := os.Stat(sidecar); err != nil {
		if os.IsNotExist(err) {
			return meta, false, nil
		}
		return meta, false, fmt.Errorf("checking sidecar: %w", err)
	}

	if _, err := toml.DecodeFile(sidecar, &meta); err != nil {
		return meta, false, fmt.Errorf("decoding sidecar %s: %w", filepath.Base(sidecar), err)
	}
	return meta, true, nil
}

// mergeMeta overlays primary on top of fallback, field by field.
func mergeMeta(primary, fallback fileMeta) fileMeta {
	merged := fallback
	if primary.RegulationName != "" {
		merged.RegulationName = primary.RegulationName
	}
	if primary.URL != "" {
		merged.URL = primary.URL
	}
	if primary.Jurisdiction != "" {
		merged.Jurisdiction = primary.Jurisdiction
	}
	return merged
}

// deriveRegulationName turns a corpus filename like
// utah_social_media_regulation_act.txt into a readable title.
func deriveRegulationName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		lower := strings.ToLower(w)
		if regAcronyms[lower] || billNumberPattern.MatchString(lower) {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

// corpusCommit returns the HEAD commit SHA of the corpus checkout, or an
// empty string when the directory is not a git repository.
func corpusCommit(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
