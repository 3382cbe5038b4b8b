// Package contextbuild gathers, classifies, and packs context for the
// mediation pipeline: collector -> classifier -> packer -> templates.
package contextbuild

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/internal/workspace"
	"github.com/promptgate/pkg/models"
)

// Searcher is the external retrieval collaborator. The collector passes
// results through with provenance intact; ranking is the collaborator's job.
type Searcher interface {
	Search(ctx context.Context, scope models.WorkspaceScope, query string, limit int) ([]models.RetrievalChunk, error)
}

// CollectorConfig bounds what a single request may read.
type CollectorConfig struct {
	MaxFileBytes int64
	MaxHits      int
	FolderLimits workspace.WalkLimits
}

// Item is one resolved context source with its content.
type Item struct {
	Source    models.ContextSource
	Content   string
	Score     float64
	Truncated bool
}

// Collector resolves context sources into content, reading files only
// through the path validator.
type Collector struct {
	validator *workspace.Validator
	searcher  Searcher
	config    CollectorConfig
}

// NewCollector creates a collector.
func NewCollector(validator *workspace.Validator, searcher Searcher, config CollectorConfig) *Collector {
	return &Collector{validator: validator, searcher: searcher, config: config}
}

// Collect resolves every source in request order. Path validation failures
// are request-fatal (aggregated into one SecurityError before any file is
// read); oversize items are truncated and flagged, not fatal.
func (c *Collector) Collect(ctx context.Context, scope models.WorkspaceScope, sources []models.ContextSource) ([]Item, error) {
	// Validate every file path up front so a failure cannot leak partial
	// content. Folder paths are directories and are bounded by WalkFolder.
	var paths []string
	for _, src := range sources {
		if src.Kind != models.SourceFile && src.Kind != models.SourceSelection {
			continue
		}
		paths = append(paths, src.Path)
	}
	if _, err := c.validator.ResolveAll(scope, paths); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(sources))
	for _, src := range sources {
		switch src.Kind {
		case models.SourceSelection:
			item, err := c.collectSelection(scope, src)
			if err != nil {
				return nil, err
			}
			items = append(items, item)

		case models.SourceFile:
			item, err := c.collectFile(scope, src)
			if err != nil {
				return nil, err
			}
			items = append(items, item)

		case models.SourceFolder:
			folderItems, err := c.collectFolder(scope, src)
			if err != nil {
				return nil, err
			}
			items = append(items, folderItems...)

		case models.SourceRetrieval:
			hits, err := c.collectRetrieval(ctx, scope, src)
			if err != nil {
				return nil, err
			}
			items = append(items, hits...)

		default:
			return nil, gateerr.New(gateerr.CodeInvalidRequest, fmt.Sprintf("unknown source kind %q", src.Kind))
		}
	}

	return items, nil
}

func (c *Collector) collectSelection(scope models.WorkspaceScope, src models.ContextSource) (Item, error) {
	// Inline selections carry their own content; the path is still validated
	// above so the provenance it claims stays inside the workspace.
	if src.Content != "" {
		content, truncated := capBytes(src.Content, c.config.MaxFileBytes)
		return Item{Source: src, Content: content, Truncated: truncated}, nil
	}

	abs, err := c.validator.Resolve(scope, src.Path)
	if err != nil {
		return Item{}, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Item{}, gateerr.Wrap(gateerr.CodeInvalidRequest, "source file unreadable", err)
	}

	start, end := clampRange(src.StartByte, src.EndByte, int64(len(data)))
	content, truncated := capBytes(string(data[start:end]), c.config.MaxFileBytes)
	return Item{Source: src, Content: content, Truncated: truncated}, nil
}

func (c *Collector) collectFile(scope models.WorkspaceScope, src models.ContextSource) (Item, error) {
	abs, err := c.validator.Resolve(scope, src.Path)
	if err != nil {
		return Item{}, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Item{}, gateerr.Wrap(gateerr.CodeInvalidRequest, "source file unreadable", err)
	}

	content, truncated := capBytes(string(data), c.config.MaxFileBytes)
	if truncated {
		log.Debug().
			Str("workspace_id", scope.WorkspaceID).
			Str("path", src.Path).
			Int64("cap_bytes", c.config.MaxFileBytes).
			Msg("file source truncated at per-item cap")
	}
	return Item{Source: src, Content: content, Truncated: truncated}, nil
}

func (c *Collector) collectFolder(scope models.WorkspaceScope, src models.ContextSource) ([]Item, error) {
	files, err := c.validator.WalkFolder(scope, src.Path, c.config.FolderLimits)
	if err != nil {
		return nil, gateerr.Security()
	}

	items := make([]Item, 0, len(files))
	for _, f := range files {
		item, err := c.collectFile(scope, models.ContextSource{Kind: models.SourceFile, Path: f.RelPath})
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Collector) collectRetrieval(ctx context.Context, scope models.WorkspaceScope, src models.ContextSource) ([]Item, error) {
	if c.searcher == nil {
		return nil, nil
	}

	chunks, err := c.searcher.Search(ctx, scope, src.Query, c.config.MaxHits)
	if err != nil {
		return nil, gateerr.UpstreamUnavailable(err)
	}

	items := make([]Item, 0, len(chunks))
	for _, chunk := range chunks {
		content, truncated := capBytes(chunk.Content, c.config.MaxFileBytes)
		items = append(items, Item{
			Source:    models.ContextSource{Kind: models.SourceRetrieval, Path: chunk.Path},
			Content:   content,
			Score:     chunk.Score,
			Truncated: truncated,
		})
	}
	return items, nil
}

// capBytes truncates s to max bytes at a line boundary where possible.
func capBytes(s string, max int64) (string, bool) {
	if max <= 0 || int64(len(s)) <= max {
		return s, false
	}
	cut := s[:max]
	if idx := lastNewline(cut); idx > 0 {
		cut = cut[:idx]
	}
	return cut, true
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func clampRange(start, end, size int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > size {
		end = size
	}
	if start > end {
		start = end
	}
	return start, end
}
