package localize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

// cssURLPattern matches url(...) tokens inside inline <style> CSS.
var cssURLPattern = regexp.MustCompile(`url\(([^)]+)\)`)

var imageExts = []string{".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico"}

var fontExts = []string{".woff", ".woff2", ".ttf", ".otf", ".eot"}

// Reference is one external asset reference found while scanning a
// document. Ephemeral: it exists only between scan and rewrite.
type Reference struct {
	URL      string
	Category Category
}

// Rewriter localizes the external references of a single HTML document:
// scan, download through the cache, then substitute every occurrence of
// the original URL with a path relative to the document's own directory.
type Rewriter struct {
	cache   *Cache
	logger  *slog.Logger
	workers int
}

// RewriterOption configures a Rewriter.
type RewriterOption func(*Rewriter)

// WithRewriterLogger sets a custom logger.
func WithRewriterLogger(l *slog.Logger) RewriterOption {
	return func(rw *Rewriter) { rw.logger = l }
}

// WithWorkers bounds per-document fetch fan-out. Default: 10. The cache's
// global ceiling still applies on top.
func WithWorkers(n int) RewriterOption {
	return func(rw *Rewriter) { rw.workers = n }
}

// NewRewriter creates a Rewriter backed by the given download cache.
func NewRewriter(cache *Cache, opts ...RewriterOption) *Rewriter {
	rw := &Rewriter{cache: cache, logger: slog.Default(), workers: 10}
	for _, o := range opts {
		o(rw)
	}
	return rw
}

// Rewrite localizes every external reference in the document at docPath
// and returns how many references were rewritten. Idempotent: once a URL
// has been replaced by a relative path the absolute form is gone from the
// text, so a second pass finds nothing to substitute.
func (rw *Rewriter) Rewrite(ctx context.Context, docPath string) (int, error) {
	data, err := os.ReadFile(docPath)
	if err != nil {
		return 0, fmt.Errorf("localize: read %s: %w", docPath, err)
	}

	refs, err := ScanDocument(data)
	if err != nil {
		return 0, fmt.Errorf("localize: parse %s: %w", docPath, err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	// Fetch concurrently; slot i keeps the scan-order position so the
	// substitution pass below stays deterministic.
	records := make([]*DownloadRecord, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rw.workers)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			rec, err := rw.cache.FetchOrGet(gctx, ref.URL, ref.Category)
			if err != nil {
				// Non-fatal: the reference keeps its absolute URL.
				rw.logger.Warn("localize: fetch failed",
					"doc", docPath, "url", ref.URL, "error", err)
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	docDir := filepath.Dir(docPath)
	rewritten := 0
	out := data
	for i, ref := range refs {
		rec := records[i]
		if rec == nil {
			continue
		}
		rel, err := relativeTo(docDir, rw.cache.Root(), rec.LocalPath)
		if err != nil {
			rw.logger.Warn("localize: relative path", "doc", docPath, "error", err)
			continue
		}
		var n int
		out, n = replaceToken(out, ref.URL, rel)
		if n > 0 {
			rewritten++
		}
	}

	if rewritten > 0 && !bytes.Equal(out, data) {
		if err := os.WriteFile(docPath, out, 0o644); err != nil {
			return 0, fmt.Errorf("localize: write %s: %w", docPath, err)
		}
	}

	rw.logger.Info("localize: document rewritten",
		"doc", docPath, "references", len(refs), "rewritten", rewritten)

	return rewritten, nil
}

// relativeTo computes the slash path of a root-relative asset as seen from
// docDir, producing the ../ prefixes that keep the tree relocatable.
func relativeTo(docDir, root, localPath string) (string, error) {
	abs := filepath.Join(root, filepath.FromSlash(localPath))
	rel, err := filepath.Rel(docDir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ScanDocument extracts external asset references from a rendered HTML
// document in fixed order: inline <style> url() tokens, <img src>,
// <link>/<meta> image attributes, <script src>, then stylesheet links.
// The order fixes inventory population order for reproducible reports.
// Duplicate URLs keep their first occurrence only.
func ScanDocument(data []byte) ([]Reference, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var styles, imgs, metaImgs, scripts, sheets []Reference

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Style:
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					for _, m := range cssURLPattern.FindAllStringSubmatch(n.FirstChild.Data, -1) {
						u := strings.Trim(strings.TrimSpace(m[1]), `"'`)
						if isAbsoluteHTTP(u) {
							styles = append(styles, Reference{URL: u, Category: classifyCSSRef(u)})
						}
					}
				}
			case atom.Img:
				if src := attrVal(n, "src"); isAbsoluteHTTP(src) {
					imgs = append(imgs, Reference{URL: src, Category: CategoryImage})
				}
			case atom.Link, atom.Meta:
				for _, key := range []string{"href", "content"} {
					if v := attrVal(n, key); isAbsoluteHTTP(v) && hasImageExt(v) {
						metaImgs = append(metaImgs, Reference{URL: v, Category: CategoryImage})
					}
				}
				if n.DataAtom == atom.Link && strings.EqualFold(attrVal(n, "rel"), "stylesheet") {
					if href := attrVal(n, "href"); isAbsoluteHTTP(href) {
						sheets = append(sheets, Reference{URL: href, Category: CategoryStyle})
					}
				}
			case atom.Script:
				if src := attrVal(n, "src"); isAbsoluteHTTP(src) {
					scripts = append(scripts, Reference{URL: src, Category: CategoryScript})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var refs []Reference
	seen := make(map[string]bool)
	for _, group := range [][]Reference{styles, imgs, metaImgs, scripts, sheets} {
		for _, ref := range group {
			if !seen[ref.URL] {
				seen[ref.URL] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs, nil
}

// classifyCSSRef classifies a CSS url() target by file extension. Inline
// CSS in the source domain is overwhelmingly @font-face, so font remains
// the fallback when the extension is unknown.
func classifyCSSRef(rawURL string) Category {
	ext := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	for _, e := range imageExts {
		if ext == e {
			return CategoryImage
		}
	}
	for _, e := range fontExts {
		if ext == e {
			return CategoryFont
		}
	}
	if ext == ".css" {
		return CategoryStyle
	}
	return CategoryFont
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isAbsoluteHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hasImageExt(s string) bool {
	ls := strings.ToLower(s)
	for _, e := range imageExts {
		if strings.Contains(ls, e) {
			return true
		}
	}
	return false
}

// replaceToken substitutes whole occurrences of old with new and returns
// the result plus the replacement count. An occurrence only matches when
// both neighbours are token boundaries, so a URL that happens to be a
// substring of a longer URL is left alone.
func replaceToken(text []byte, old, new string) ([]byte, int) {
	if old == "" || old == new {
		return text, 0
	}
	var out bytes.Buffer
	count, pos := 0, 0
	for {
		i := bytes.Index(text[pos:], []byte(old))
		if i < 0 {
			break
		}
		abs := pos + i
		end := abs + len(old)
		startOK := abs == 0 || isBoundary(text[abs-1])
		endOK := end == len(text) || isBoundary(text[end])
		out.Write(text[pos:abs])
		if startOK && endOK {
			out.WriteString(new)
			count++
		} else {
			out.WriteString(old)
		}
		pos = end
	}
	if count == 0 {
		return text, 0
	}
	out.Write(text[pos:])
	return out.Bytes(), count
}

// isBoundary reports whether b terminates a URL token in HTML or CSS
// context: quotes, parens, tag brackets, separators, whitespace.
func isBoundary(b byte) bool {
	switch b {
	case '"', '\'', '(', ')', '<', '>', '=', ',', ' ', '\t', '\r', '\n':
		return true
	}
	return false
}
