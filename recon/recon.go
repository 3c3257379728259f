// Package recon discovers the routable pages of a source site: same-host
// anchors on the rendered landing page, merged with sitemap.xml entries.
package recon

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Sabadzma/portfolio-local/browser"
)

var sitemapLocPattern = regexp.MustCompile(`<loc>(.*?)</loc>`)

// Discoverer finds routes through a rendered landing page. Anchor hrefs
// are harvested after the client-side router has run, which is the only
// reliable source on script-rendered sites.
type Discoverer struct {
	Mgr        *browser.Manager
	Client     *http.Client // for sitemap.xml; nil = default with 10s timeout
	NavTimeout time.Duration
	Settle     time.Duration
	Logger     *slog.Logger
}

func (d *Discoverer) defaults() {
	if d.Client == nil {
		d.Client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	if d.NavTimeout <= 0 {
		d.NavTimeout = 30 * time.Second
	}
	if d.Settle <= 0 {
		d.Settle = 3 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Routes returns the sorted set of discovered route paths. "/" is always
// included. Paths containing "@" (mail links rendered as paths) are
// excluded. A missing sitemap is not an error.
func (d *Discoverer) Routes(ctx context.Context, sourceURL string) ([]string, error) {
	d.defaults()

	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("recon: parse source url: %w", err)
	}

	seen := map[string]bool{"/": true}

	hrefs, err := d.pageAnchors(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	for _, href := range hrefs {
		if path, ok := routePath(base, href); ok {
			seen[path] = true
		}
	}

	for _, loc := range d.sitemapEntries(ctx, base) {
		if path, ok := routePath(base, loc); ok {
			seen[path] = true
		}
	}

	routes := make([]string, 0, len(seen))
	for r := range seen {
		routes = append(routes, r)
	}
	sort.Strings(routes)

	d.Logger.Info("recon: routes discovered", "count", len(routes))
	return routes, nil
}

// pageAnchors renders the landing page and collects every anchor href.
func (d *Discoverer) pageAnchors(ctx context.Context, sourceURL string) ([]string, error) {
	page, err := d.Mgr.NewPage(1920, 1080)
	if err != nil {
		return nil, fmt.Errorf("recon: page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, d.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(sourceURL); err != nil {
		return nil, fmt.Errorf("recon: navigate %s: %w", sourceURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		d.Logger.Warn("recon: wait load timeout", "error", err)
	}

	t := time.NewTimer(d.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	res, err := page.Context(navCtx).Eval(
		`() => Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`)
	if err != nil {
		return nil, fmt.Errorf("recon: collect anchors: %w", err)
	}

	var hrefs []string
	for _, v := range res.Value.Arr() {
		hrefs = append(hrefs, v.Str())
	}
	return hrefs, nil
}

// sitemapEntries fetches /sitemap.xml and returns its <loc> URLs. Best
// effort: any failure returns nil.
func (d *Discoverer) sitemapEntries(ctx context.Context, base *url.URL) []string {
	smURL := base.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, smURL, nil)
	if err != nil {
		return nil
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		d.Logger.Debug("recon: sitemap fetch failed", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil
	}
	locs := SitemapLocs(body)
	if len(locs) > 0 {
		d.Logger.Info("recon: sitemap merged", "entries", len(locs))
	}
	return locs
}

// SitemapLocs extracts <loc> entries from sitemap XML.
func SitemapLocs(data []byte) []string {
	var locs []string
	for _, m := range sitemapLocPattern.FindAllSubmatch(data, -1) {
		if loc := strings.TrimSpace(string(m[1])); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}

// routePath reduces an href to a route path on the base host. Off-host
// links, the bare root, and "@"-carrying paths are rejected.
func routePath(base *url.URL, href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Host != "" && u.Host != base.Host {
		return "", false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	path := u.Path
	if path == "" || path == "/" {
		return "", false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.Contains(path, "@") {
		return "", false
	}
	return path, true
}
