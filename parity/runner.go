package parity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Viewport is a named browser window size.
type Viewport struct {
	Name   string `json:"name" yaml:"name"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// DefaultViewports mirror the sizes the clone is judged against: a desktop
// and a small phone.
func DefaultViewports() []Viewport {
	return []Viewport{
		{Name: "desktop", Width: 1920, Height: 1080},
		{Name: "mobile", Width: 375, Height: 667},
	}
}

// Result is the outcome of one route x viewport comparison. Similarity is
// null when either capture failed: a missing screenshot is a different
// failure mode from a 0% visual match and must not be conflated with one.
type Result struct {
	Route      string   `json:"route"`
	Viewport   string   `json:"viewport"`
	Similarity *float64 `json:"similarity"`
	Captured   bool     `json:"captured"`
}

// Capturer produces a full-page screenshot of url at the given viewport.
// Implemented by the capture package; swapped for a fake in tests.
type Capturer interface {
	Screenshot(ctx context.Context, url string, vp Viewport, outPath string) error
}

// Runner drives comparisons across the cross-product of routes and
// viewports. Pairs run strictly sequentially: browser contexts are the
// scarce resource, and one route's failure must not block the rest.
type Runner struct {
	SourceURL string
	LocalURL  string
	Dir       string // parity output directory
	Viewports []Viewport
	Capturer  Capturer
	Logger    *slog.Logger
}

// Run compares every route at every viewport and persists the ordered
// result list to parity_results.json under the runner's directory.
func (r *Runner) Run(ctx context.Context, routes []string) ([]Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	viewports := r.Viewports
	if len(viewports) == 0 {
		viewports = DefaultViewports()
	}

	var results []Result
	for _, route := range routes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		slug := RouteSlug(route)

		for _, vp := range viewports {
			srcPath := filepath.Join(r.Dir, "screenshots", slug, vp.Name, "source.png")
			locPath := filepath.Join(r.Dir, "screenshots", slug, vp.Name, "local.png")
			diffPath := filepath.Join(r.Dir, "diffs", slug, vp.Name+"_diff.png")

			res := Result{Route: route, Viewport: vp.Name}

			srcOK := r.capture(ctx, logger, r.SourceURL+route, vp, srcPath)
			locOK := r.capture(ctx, logger, r.LocalURL+route, vp, locPath)
			res.Captured = srcOK && locOK

			if res.Captured {
				sim, err := r.compareFiles(srcPath, locPath, diffPath)
				if err != nil {
					logger.Warn("parity: diff failed",
						"route", route, "viewport", vp.Name, "error", err)
					res.Captured = false
				} else {
					res.Similarity = &sim
					logger.Info("parity: compared",
						"route", route, "viewport", vp.Name, "similarity", sim)
				}
			}

			results = append(results, res)
		}
	}

	if err := r.writeResults(results); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) capture(ctx context.Context, logger *slog.Logger, url string, vp Viewport, outPath string) bool {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		logger.Warn("parity: mkdir", "path", outPath, "error", err)
		return false
	}
	if err := r.Capturer.Screenshot(ctx, url, vp, outPath); err != nil {
		logger.Warn("parity: capture failed", "url", url, "viewport", vp.Name, "error", err)
		return false
	}
	return true
}

func (r *Runner) compareFiles(srcPath, locPath, diffPath string) (float64, error) {
	src, err := loadPNG(srcPath)
	if err != nil {
		return 0, err
	}
	loc, err := loadPNG(locPath)
	if err != nil {
		return 0, err
	}
	sim, diff := Compare(src, loc)
	if err := writePNG(diffPath, diff); err != nil {
		return 0, err
	}
	return sim, nil
}

func (r *Runner) writeResults(results []Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("parity: marshal results: %w", err)
	}
	path := filepath.Join(r.Dir, "parity_results.json")
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("parity: mkdir %s: %w", r.Dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("parity: write %s: %w", path, err)
	}
	return nil
}

// RouteSlug converts a route path into a filesystem-safe directory name.
func RouteSlug(route string) string {
	slug := strings.ReplaceAll(strings.Trim(route, "/"), "/", "_")
	if slug == "" {
		return "home"
	}
	return slug
}
