// Package capture renders routes in headless Chrome and persists their
// fully rendered DOM and full-page screenshots.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Sabadzma/portfolio-local/browser"
	"github.com/Sabadzma/portfolio-local/parity"
)

// waitImagesJS resolves once every <img> has loaded or errored, with a
// hard 10s cap so a stuck image cannot stall the capture.
const waitImagesJS = `() => new Promise(resolve => {
	const imgs = Array.from(document.querySelectorAll('img'));
	let n = 0;
	if (!imgs.length) return resolve();
	imgs.forEach(i => {
		if (i.complete) { n++; if (n === imgs.length) resolve(); }
		else {
			i.onload = i.onerror = () => { n++; if (n === imgs.length) resolve(); };
		}
	});
	setTimeout(resolve, 10000);
})`

// PageResult records one captured route.
type PageResult struct {
	Route string `json:"route"`
	URL   string `json:"url"`
	Path  string `json:"path"`
	Size  int    `json:"size"`
}

// Capturer renders pages through a shared browser manager.
type Capturer struct {
	Mgr        *browser.Manager
	NavTimeout time.Duration // default 60s
	Settle     time.Duration // default 5s, lets animations and lazy loads finish
	Logger     *slog.Logger
}

func (c *Capturer) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// CaptureAll renders every route of the source site and saves each DOM
// under publicDir, using the route path as the directory layout. Failures
// are logged and skipped; the remaining routes still render.
func (c *Capturer) CaptureAll(ctx context.Context, sourceURL string, routes []string, publicDir string) []PageResult {
	c.defaults()
	var results []PageResult
	for _, route := range routes {
		if ctx.Err() != nil {
			break
		}
		res, err := c.SavePage(ctx, sourceURL, route, publicDir)
		if err != nil {
			c.Logger.Warn("capture: route skipped", "route", route, "error", err)
			continue
		}
		results = append(results, *res)
	}
	return results
}

// SavePage navigates to sourceURL+route, waits for the page to settle,
// and writes the rendered DOM to publicDir following the route layout
// ("/" -> index.html, "/about" -> about/index.html).
func (c *Capturer) SavePage(ctx context.Context, sourceURL, route, publicDir string) (*PageResult, error) {
	c.defaults()
	pageURL := joinRoute(sourceURL, route)

	page, err := c.Mgr.NewPage(1920, 1080)
	if err != nil {
		return nil, fmt.Errorf("capture: page for %s: %w", route, err)
	}
	defer page.Close()

	if err := c.settlePage(ctx, page, pageURL); err != nil {
		return nil, err
	}

	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("capture: get DOM %s: %w", pageURL, err)
	}
	html := "<!DOCTYPE html>\n" + res.Value.Str()

	outPath := filepath.Join(publicDir, routeFile(route))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("capture: mkdir for %s: %w", outPath, err)
	}
	if err := os.WriteFile(outPath, []byte(html), 0o644); err != nil {
		return nil, fmt.Errorf("capture: write %s: %w", outPath, err)
	}

	c.Logger.Info("capture: saved page",
		"route", route, "path", outPath, "size", len(html))

	return &PageResult{Route: route, URL: pageURL, Path: outPath, Size: len(html)}, nil
}

// Screenshot implements parity.Capturer: render url at the viewport and
// write a full-page PNG to outPath.
func (c *Capturer) Screenshot(ctx context.Context, pageURL string, vp parity.Viewport, outPath string) error {
	c.defaults()

	page, err := c.Mgr.NewPage(vp.Width, vp.Height)
	if err != nil {
		return fmt.Errorf("capture: page for screenshot: %w", err)
	}
	defer page.Close()

	if err := c.settlePage(ctx, page, pageURL); err != nil {
		return err
	}

	// Scroll down and back to trigger lazy-loaded content.
	if _, err := page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight / 2)`); err == nil {
		sleepCtx(ctx, time.Second)
		page.Context(ctx).Eval(`() => window.scrollTo(0, 0)`)
		sleepCtx(ctx, time.Second)
	}

	shot, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("capture: screenshot %s: %w", pageURL, err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("capture: mkdir for %s: %w", outPath, err)
	}
	if err := os.WriteFile(outPath, shot, 0o644); err != nil {
		return fmt.Errorf("capture: write %s: %w", outPath, err)
	}
	return nil
}

// settlePage navigates and waits out rendering: load event, a fixed
// settle delay, then image completion.
func (c *Capturer) settlePage(ctx context.Context, page *rod.Page, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("capture: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		c.Logger.Warn("capture: wait load timeout", "url", pageURL, "error", err)
	}

	sleepCtx(ctx, c.Settle)

	if _, err := page.Context(navCtx).Eval(waitImagesJS); err != nil {
		c.Logger.Warn("capture: image wait failed", "url", pageURL, "error", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// routeFile maps a route path to its file under the public tree.
func routeFile(route string) string {
	trimmed := strings.Trim(route, "/")
	if trimmed == "" {
		return "index.html"
	}
	return filepath.Join(filepath.FromSlash(trimmed), "index.html")
}

// joinRoute appends a route path to the site base URL.
func joinRoute(sourceURL, route string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return strings.TrimRight(sourceURL, "/") + route
	}
	ref, err := url.Parse(route)
	if err != nil {
		return strings.TrimRight(sourceURL, "/") + route
	}
	return u.ResolveReference(ref).String()
}
