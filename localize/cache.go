package localize

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// FailKind classifies a download failure.
type FailKind string

const (
	FailTimeout    FailKind = "timeout"
	FailHTTPStatus FailKind = "http_status"
	FailNetwork    FailKind = "network"
	FailFilesystem FailKind = "filesystem"
	FailCollision  FailKind = "path_collision"
)

// FetchError is a typed, non-fatal download failure. Failed URLs are never
// cached: host and network errors are often transient, so the next lookup
// of the same URL retries from scratch.
type FetchError struct {
	URL    string
	Kind   FailKind
	Status int // HTTP status for FailHTTPStatus
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FailHTTPStatus {
		return fmt.Sprintf("localize: fetch %s: http %d", e.URL, e.Status)
	}
	return fmt.Sprintf("localize: fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DownloadRecord describes one successfully localized asset. Exactly one
// record exists per unique URL; it is created when the first download
// completes and never mutated afterwards.
type DownloadRecord struct {
	URL       string   `json:"url"`
	LocalPath string   `json:"local_path"` // slash path relative to the site root
	Size      int64    `json:"size"`
	Category  Category `json:"-"`
}

// Inventory groups download records by category. Append-only; the Cache is
// its only writer.
type Inventory map[Category][]*DownloadRecord

// TotalSize sums the byte sizes of one category.
func (inv Inventory) TotalSize(cat Category) int64 {
	var n int64
	for _, rec := range inv[cat] {
		n += rec.Size
	}
	return n
}

// Cache downloads each distinct URL at most once per run and owns the
// resulting records. Concurrent callers racing on a never-seen URL
// serialize on a per-URL slot, so a single GET happens no matter how many
// documents reference the asset. Local paths are write-once: a second URL
// resolving to an already-claimed path is rejected rather than silently
// overwriting the file.
type Cache struct {
	root   string // site root; LocalPath values are materialized beneath it
	client *http.Client
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry // keyed by URL
	owners  map[string]string // local path -> owning URL
	inv     Inventory
}

// entry is the per-URL slot. The first caller downloads; later callers
// wait on done and share the outcome.
type entry struct {
	done chan struct{}
	rec  *DownloadRecord
	err  error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) CacheOption {
	return func(dc *Cache) { dc.client = c }
}

// WithCacheLogger sets a custom logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(dc *Cache) { dc.logger = l }
}

// WithConcurrency bounds the number of in-flight downloads. Default: 10.
func WithConcurrency(n int64) CacheOption {
	return func(dc *Cache) { dc.sem = semaphore.NewWeighted(n) }
}

// NewCache creates a download cache rooted at the site output directory.
// TLS verification is disabled on the default client: asset CDNs behind
// misconfigured or self-signed certs are tolerated rather than dropped.
func NewCache(root string, opts ...CacheOption) *Cache {
	c := &Cache{
		root: root,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		sem:     semaphore.NewWeighted(10),
		logger:  slog.Default(),
		entries: make(map[string]*entry),
		owners:  make(map[string]string),
		inv:     make(Inventory),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Root returns the site root the cache materializes files under.
func (c *Cache) Root() string { return c.root }

// FetchOrGet returns the record for rawURL, downloading it on first use.
// A cache hit performs no I/O. Failures are returned as *FetchError and
// leave no entry behind.
func (c *Cache) FetchOrGet(ctx context.Context, rawURL string, cat Category) (*DownloadRecord, error) {
	c.mu.Lock()
	if e, ok := c.entries[rawURL]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.rec, e.err
	}
	e := &entry{done: make(chan struct{})}
	c.entries[rawURL] = e
	c.mu.Unlock()

	e.rec, e.err = c.download(ctx, rawURL, cat)
	if e.err != nil {
		c.mu.Lock()
		delete(c.entries, rawURL)
		c.mu.Unlock()
	}
	close(e.done)
	return e.rec, e.err
}

// Snapshot returns a copy of the inventory safe to read while downloads
// are still running.
func (c *Cache) Snapshot() Inventory {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(Inventory, len(c.inv))
	for cat, recs := range c.inv {
		out[cat] = append([]*DownloadRecord(nil), recs...)
	}
	return out
}

// Count returns the number of cached records across all categories.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, recs := range c.inv {
		n += len(recs)
	}
	return n
}

func (c *Cache) download(ctx context.Context, rawURL string, cat Category) (*DownloadRecord, error) {
	localPath := Resolve(rawURL, cat)

	// Claim the path before touching the network. The on-disk tree is
	// write-once per path: two distinct URLs must not share a file.
	c.mu.Lock()
	if owner, ok := c.owners[localPath]; ok && owner != rawURL {
		c.mu.Unlock()
		return nil, &FetchError{URL: rawURL, Kind: FailCollision,
			Err: fmt.Errorf("path %s already owned by %s", localPath, owner)}
	}
	c.owners[localPath] = rawURL
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.owners, localPath)
		c.mu.Unlock()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		release()
		return nil, &FetchError{URL: rawURL, Kind: FailNetwork, Err: err}
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		release()
		return nil, &FetchError{URL: rawURL, Kind: FailNetwork, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		release()
		return nil, &FetchError{URL: rawURL, Kind: classifyNetErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		release()
		return nil, &FetchError{URL: rawURL, Kind: FailHTTPStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		release()
		return nil, &FetchError{URL: rawURL, Kind: classifyNetErr(err), Err: err}
	}

	dst := filepath.Join(c.root, filepath.FromSlash(localPath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		release()
		return nil, &FetchError{URL: rawURL, Kind: FailFilesystem, Err: err}
	}
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		release()
		return nil, &FetchError{URL: rawURL, Kind: FailFilesystem, Err: err}
	}

	rec := &DownloadRecord{
		URL:       rawURL,
		LocalPath: localPath,
		Size:      int64(len(body)),
		Category:  cat,
	}

	c.mu.Lock()
	c.inv[cat] = append(c.inv[cat], rec)
	c.mu.Unlock()

	c.logger.Debug("localize: downloaded",
		"url", rawURL, "path", localPath, "size", rec.Size, "category", cat)

	return rec, nil
}

func classifyNetErr(err error) FailKind {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return FailTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	return FailNetwork
}
