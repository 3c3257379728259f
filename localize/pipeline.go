package localize

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// defaultModulePattern matches the same-origin script bundle references the
// primary scan cannot see: ES module URLs imported from other scripts, not
// from tag attributes.
var defaultModulePattern = regexp.MustCompile(`https://framerusercontent\.com/sites/[^"']+\.mjs`)

// Pipeline drives the Rewriter across the full captured document tree,
// then runs a secondary pass that localizes script module bundles into the
// assets/js/ subdirectory using the same relative-path discipline.
type Pipeline struct {
	root    string
	cache   *Cache
	rw      *Rewriter
	modules *regexp.Regexp
	logger  *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets a custom logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithModulePattern overrides the script-bundle URL pattern for the
// secondary pass.
func WithModulePattern(re *regexp.Regexp) PipelineOption {
	return func(p *Pipeline) { p.modules = re }
}

// NewPipeline creates a localization pipeline over the document tree
// rooted at the cache's site root.
func NewPipeline(cache *Cache, rw *Rewriter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		root:    cache.Root(),
		cache:   cache,
		rw:      rw,
		modules: defaultModulePattern,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run localizes every HTML document under the root and returns the total
// number of rewritten references. Documents are processed sequentially;
// fetches within a document run concurrently under the cache's global
// ceiling. Per-asset failures are logged and skipped, never fatal.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	docs, err := p.documents()
	if err != nil {
		return 0, fmt.Errorf("localize: enumerate documents: %w", err)
	}
	p.logger.Info("localize: pipeline start", "documents", len(docs))

	total := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := p.rw.Rewrite(ctx, doc)
		if err != nil {
			p.logger.Warn("localize: document skipped", "doc", doc, "error", err)
			continue
		}
		total += n
	}

	n, err := p.localizeModules(ctx, docs)
	if err != nil {
		return total, err
	}
	total += n

	p.logger.Info("localize: pipeline done",
		"documents", len(docs), "rewritten", total, "assets", p.cache.Count())
	return total, nil
}

// documents lists every HTML file under the root in sorted order.
func (p *Pipeline) documents() ([]string, error) {
	var docs []string
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".html") {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(docs)
	return docs, nil
}

// localizeModules collects module bundle URLs across all documents,
// downloads each once, and rewrites the references per document.
func (p *Pipeline) localizeModules(ctx context.Context, docs []string) (int, error) {
	urlSet := make(map[string]bool)
	for _, doc := range docs {
		data, err := os.ReadFile(doc)
		if err != nil {
			p.logger.Warn("localize: module scan read", "doc", doc, "error", err)
			continue
		}
		for _, u := range p.modules.FindAllString(string(data), -1) {
			urlSet[u] = true
		}
	}
	if len(urlSet) == 0 {
		return 0, nil
	}

	urls := make([]string, 0, len(urlSet))
	for u := range urlSet {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	p.logger.Info("localize: module pass", "modules", len(urls))

	records := make(map[string]*DownloadRecord, len(urls))
	for _, u := range urls {
		rec, err := p.cache.FetchOrGet(ctx, u, CategoryScript)
		if err != nil {
			p.logger.Warn("localize: module fetch failed", "url", u, "error", err)
			continue
		}
		records[u] = rec
	}

	rewritten := 0
	for _, doc := range docs {
		data, err := os.ReadFile(doc)
		if err != nil {
			continue
		}
		out := data
		changed := false
		docDir := filepath.Dir(doc)
		for _, u := range urls {
			rec := records[u]
			if rec == nil {
				continue
			}
			rel, err := relativeTo(docDir, p.root, rec.LocalPath)
			if err != nil {
				continue
			}
			var n int
			out, n = replaceToken(out, u, rel)
			if n > 0 {
				changed = true
				rewritten++
			}
		}
		if changed {
			if err := os.WriteFile(doc, out, 0o644); err != nil {
				p.logger.Warn("localize: module rewrite", "doc", doc, "error", err)
			}
		}
	}
	return rewritten, nil
}
